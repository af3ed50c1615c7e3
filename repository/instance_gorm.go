package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	domainInstance "github.com/nexloop/wabridge/domains/instance"
	"github.com/nexloop/wabridge/integrations/ghl"
	"github.com/nexloop/wabridge/pkg/crypto"
	pkgError "github.com/nexloop/wabridge/pkg/error"
)

// --- Persistence Model ---

type instanceModel struct {
	ID              string     `gorm:"primaryKey"`
	Name            string     `gorm:"not null"`
	PhoneNumber     *string    `gorm:"column:phone_number;index:idx_instances_phone"`
	QRCode          *string    `gorm:"column:qr_code;type:text"`
	QRCodeUpdatedAt *time.Time `gorm:"column:qr_code_updated_at"`

	AccessToken            *string `gorm:"column:access_token;type:text"`
	RefreshToken           *string `gorm:"column:refresh_token;type:text"`
	LocationID             *string `gorm:"column:location_id;index:idx_instances_location"`
	CompanyID              *string `gorm:"column:company_id"`
	ConversationProviderID *string `gorm:"column:conversation_provider_id"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (instanceModel) TableName() string {
	return "instances"
}

// --- Repository Implementation ---

type InstanceGormRepository struct {
	db *gorm.DB
}

func NewInstanceGormRepository(db *gorm.DB) *InstanceGormRepository {
	return &InstanceGormRepository{db: db}
}

func (r *InstanceGormRepository) InitSchema(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&instanceModel{})
}

func (r *InstanceGormRepository) Create(ctx context.Context, inst *domainInstance.Instance) error {
	if inst.ID == "" {
		inst.ID = uuid.New().String()
	}
	now := time.Now()
	inst.CreatedAt = now
	inst.UpdatedAt = now

	model := toInstanceModel(*inst)
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *InstanceGormRepository) GetByID(ctx context.Context, id string) (domainInstance.Instance, error) {
	var m instanceModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domainInstance.Instance{}, pkgError.NotFoundError("instance not found")
		}
		return domainInstance.Instance{}, err
	}
	return fromInstanceModel(m), nil
}

func (r *InstanceGormRepository) GetByLocationID(ctx context.Context, locationID string) (domainInstance.Instance, error) {
	var m instanceModel
	if err := r.db.WithContext(ctx).Where("location_id = ?", locationID).First(&m).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domainInstance.Instance{}, pkgError.NotFoundError("no instance for location")
		}
		return domainInstance.Instance{}, err
	}
	return fromInstanceModel(m), nil
}

func (r *InstanceGormRepository) List(ctx context.Context) ([]domainInstance.Instance, error) {
	var models []instanceModel
	if err := r.db.WithContext(ctx).Order("updated_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domainInstance.Instance, 0, len(models))
	for _, m := range models {
		out = append(out, fromInstanceModel(m))
	}
	return out, nil
}

func (r *InstanceGormRepository) UpdateName(ctx context.Context, id, name string) error {
	return r.updateColumns(ctx, id, map[string]any{"name": name})
}

func (r *InstanceGormRepository) SaveInstall(ctx context.Context, id, accessToken, refreshToken, locationID, companyID, conversationProviderID string) error {
	sealedAccess, err := crypto.Encrypt(accessToken)
	if err != nil {
		return err
	}
	sealedRefresh, err := crypto.Encrypt(refreshToken)
	if err != nil {
		return err
	}
	cols := map[string]any{
		"access_token":  sealedAccess,
		"refresh_token": sealedRefresh,
		"location_id":   locationID,
		"company_id":    nullable(companyID),
	}
	if conversationProviderID != "" {
		cols["conversation_provider_id"] = conversationProviderID
	}
	return r.updateColumns(ctx, id, cols)
}

func (r *InstanceGormRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&instanceModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgError.NotFoundError("instance not found")
	}
	return nil
}

// --- Session Record Store ---

func (r *InstanceGormRepository) SaveQR(ctx context.Context, instanceID, qrCode string, at time.Time) error {
	return r.updateColumns(ctx, instanceID, map[string]any{
		"qr_code":            qrCode,
		"qr_code_updated_at": at,
	})
}

func (r *InstanceGormRepository) ClearQR(ctx context.Context, instanceID string) error {
	return r.updateColumns(ctx, instanceID, map[string]any{
		"qr_code":            nil,
		"qr_code_updated_at": nil,
	})
}

func (r *InstanceGormRepository) SetPhoneNumber(ctx context.Context, instanceID, phoneNumber string) error {
	return r.updateColumns(ctx, instanceID, map[string]any{"phone_number": phoneNumber})
}

func (r *InstanceGormRepository) ClearPhoneNumber(ctx context.Context, instanceID string) error {
	return r.updateColumns(ctx, instanceID, map[string]any{"phone_number": nil})
}

// --- GHL Credential Source ---

func (r *InstanceGormRepository) GHLCredentials(ctx context.Context, instanceID string) (ghl.Credentials, error) {
	inst, err := r.GetByID(ctx, instanceID)
	if err != nil {
		return ghl.Credentials{}, err
	}
	return ghl.Credentials{
		AccessToken:            inst.AccessToken,
		LocationID:             inst.LocationID,
		ConversationProviderID: inst.ConversationProviderID,
	}, nil
}

// --- Helpers ---

func (r *InstanceGormRepository) updateColumns(ctx context.Context, id string, cols map[string]any) error {
	cols["updated_at"] = time.Now()
	result := r.db.WithContext(ctx).Model(&instanceModel{}).Where("id = ?", id).Updates(cols)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgError.NotFoundError("instance not found")
	}
	return nil
}

func toInstanceModel(inst domainInstance.Instance) instanceModel {
	return instanceModel{
		ID:                     inst.ID,
		Name:                   inst.Name,
		PhoneNumber:            nullable(inst.PhoneNumber),
		QRCode:                 nullable(inst.QRCode),
		QRCodeUpdatedAt:        inst.QRCodeUpdatedAt,
		AccessToken:            nullable(inst.AccessToken),
		RefreshToken:           nullable(inst.RefreshToken),
		LocationID:             nullable(inst.LocationID),
		CompanyID:              nullable(inst.CompanyID),
		ConversationProviderID: nullable(inst.ConversationProviderID),
		CreatedAt:              inst.CreatedAt,
		UpdatedAt:              inst.UpdatedAt,
	}
}

func fromInstanceModel(m instanceModel) domainInstance.Instance {
	return domainInstance.Instance{
		ID:                     m.ID,
		Name:                   m.Name,
		PhoneNumber:            deref(m.PhoneNumber),
		QRCode:                 deref(m.QRCode),
		QRCodeUpdatedAt:        m.QRCodeUpdatedAt,
		AccessToken:            openToken(deref(m.AccessToken)),
		RefreshToken:           openToken(deref(m.RefreshToken)),
		LocationID:             deref(m.LocationID),
		CompanyID:              deref(m.CompanyID),
		ConversationProviderID: deref(m.ConversationProviderID),
		CreatedAt:              m.CreatedAt,
		UpdatedAt:              m.UpdatedAt,
	}
}

// openToken decrypts a stored OAuth token. Decrypt already falls back to the
// raw value for rows written before encryption was configured.
func openToken(s string) string {
	if s == "" {
		return ""
	}
	plain, err := crypto.Decrypt(s)
	if err != nil {
		return ""
	}
	return plain
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
