package instance

import (
	"context"
	"time"

	"github.com/nexloop/wabridge/bridge/domain"
	"github.com/nexloop/wabridge/integrations/ghl"
)

// QRValidity is how long a persisted QR code is served before it is treated
// as stale and hidden from API responses.
const QRValidity = 5 * time.Minute

// Instance is one tenant: a WhatsApp pairing bound to a GHL location.
type Instance struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	PhoneNumber     string     `json:"phone_number,omitempty"`
	QRCode          string     `json:"qr_code,omitempty"`
	QRCodeUpdatedAt *time.Time `json:"qr_code_updated_at,omitempty"`

	LocationID             string `json:"location_id,omitempty"`
	CompanyID              string `json:"company_id,omitempty"`
	ConversationProviderID string `json:"conversation_provider_id,omitempty"`

	AccessToken  string `json:"-"`
	RefreshToken string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Installed reports whether the GHL OAuth dance completed for this instance.
func (i Instance) Installed() bool {
	return i.AccessToken != "" && i.LocationID != ""
}

// LiveQR returns the QR code only while it is still scannable.
func (i Instance) LiveQR(now time.Time) string {
	if i.QRCode == "" || i.QRCodeUpdatedAt == nil {
		return ""
	}
	if now.Sub(*i.QRCodeUpdatedAt) > QRValidity {
		return ""
	}
	return i.QRCode
}

type CreateInstanceRequest struct {
	Name                   string `json:"name" form:"name"`
	ConversationProviderID string `json:"conversation_provider_id" form:"conversation_provider_id"`
}

type RenameInstanceRequest struct {
	Name string `json:"name" form:"name"`
}

// ProvisionResponse hands the caller the new instance plus the marketplace
// URL the operator must visit to authorize it.
type ProvisionResponse struct {
	Instance Instance `json:"instance"`
	AuthURL  string   `json:"auth_url"`
}

// Detail is the full per-instance view: stored record plus live session
// state when a session is running.
type Detail struct {
	Instance
	Session *domain.SessionSnapshot `json:"session,omitempty"`
}

type IInstanceUsecase interface {
	Provision(ctx context.Context, request CreateInstanceRequest) (ProvisionResponse, error)
	List(ctx context.Context) ([]Detail, error)
	Detail(ctx context.Context, id string) (Detail, error)
	Rename(ctx context.Context, id string, request RenameInstanceRequest) (Instance, error)
	Delete(ctx context.Context, id string) error

	// CompleteOAuth finishes the marketplace install: exchanges the code,
	// persists tokens and starts the instance's session.
	CompleteOAuth(ctx context.Context, instanceID, code, companyID string) (Instance, error)

	Connect(ctx context.Context, id string) error
	Disconnect(ctx context.Context, id string) error
	Reconnect(ctx context.Context, id string) error
	Logout(ctx context.Context, id string) error

	// StartInstalled boots sessions for every installed instance, used at
	// process start so pairings resume without operator action.
	StartInstalled(ctx context.Context) error

	// ResolveByLocation maps a GHL location to its instance, for the
	// CRM-originated outbound path.
	ResolveByLocation(ctx context.Context, locationID string) (Instance, error)
}

// IInstanceRepository persists instances. It doubles as the session record
// store and the GHL credential source.
type IInstanceRepository interface {
	domain.RecordStore

	Create(ctx context.Context, inst *Instance) error
	GetByID(ctx context.Context, id string) (Instance, error)
	GetByLocationID(ctx context.Context, locationID string) (Instance, error)
	List(ctx context.Context) ([]Instance, error)
	UpdateName(ctx context.Context, id, name string) error
	SaveInstall(ctx context.Context, id, accessToken, refreshToken, locationID, companyID, conversationProviderID string) error
	Delete(ctx context.Context, id string) error

	GHLCredentials(ctx context.Context, instanceID string) (ghl.Credentials, error)
}
