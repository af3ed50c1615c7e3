package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nexloop/wabridge/bridge"
	"github.com/nexloop/wabridge/bridge/domain"
	domainInstance "github.com/nexloop/wabridge/domains/instance"
	"github.com/nexloop/wabridge/integrations/ghl"
	pkgError "github.com/nexloop/wabridge/pkg/error"
	"github.com/nexloop/wabridge/validations"
)

type serviceInstance struct {
	repo        domainInstance.IInstanceRepository
	registry    *bridge.Registry
	ghl         *ghl.Client
	storagePath string
}

func NewInstanceService(repo domainInstance.IInstanceRepository, registry *bridge.Registry, ghlClient *ghl.Client, storagePath string) domainInstance.IInstanceUsecase {
	return &serviceInstance{
		repo:        repo,
		registry:    registry,
		ghl:         ghlClient,
		storagePath: storagePath,
	}
}

func (service *serviceInstance) Provision(ctx context.Context, request domainInstance.CreateInstanceRequest) (domainInstance.ProvisionResponse, error) {
	if err := validations.ValidateCreateInstance(ctx, request); err != nil {
		return domainInstance.ProvisionResponse{}, err
	}

	inst := domainInstance.Instance{
		Name:                   request.Name,
		ConversationProviderID: request.ConversationProviderID,
	}
	if err := service.repo.Create(ctx, &inst); err != nil {
		return domainInstance.ProvisionResponse{}, err
	}

	logrus.Infof("[INSTANCE] Provisioned instance %s (%s)", inst.ID, inst.Name)
	return domainInstance.ProvisionResponse{
		Instance: inst,
		AuthURL:  service.ghl.BuildAuthURL(inst.ID),
	}, nil
}

func (service *serviceInstance) List(ctx context.Context) ([]domainInstance.Detail, error) {
	instances, err := service.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	out := make([]domainInstance.Detail, 0, len(instances))
	for _, inst := range instances {
		out = append(out, service.detailOf(inst, now))
	}
	return out, nil
}

func (service *serviceInstance) Detail(ctx context.Context, id string) (domainInstance.Detail, error) {
	inst, err := service.repo.GetByID(ctx, id)
	if err != nil {
		return domainInstance.Detail{}, err
	}
	return service.detailOf(inst, time.Now()), nil
}

func (service *serviceInstance) Rename(ctx context.Context, id string, request domainInstance.RenameInstanceRequest) (domainInstance.Instance, error) {
	if err := validations.ValidateRenameInstance(ctx, request); err != nil {
		return domainInstance.Instance{}, err
	}
	if err := service.repo.UpdateName(ctx, id, request.Name); err != nil {
		return domainInstance.Instance{}, err
	}
	return service.repo.GetByID(ctx, id)
}

func (service *serviceInstance) Delete(ctx context.Context, id string) error {
	if _, err := service.repo.GetByID(ctx, id); err != nil {
		return err
	}

	if err := service.registry.Stop(id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		logrus.Warnf("[INSTANCE] Failed to stop session while deleting %s: %v", id, err)
	}

	if err := service.repo.Delete(ctx, id); err != nil {
		return err
	}

	// The pairing credentials are useless without the row.
	credPath := fmt.Sprintf("%s/whatsapp-%s.db", service.storagePath, id)
	if err := os.Remove(credPath); err != nil && !os.IsNotExist(err) {
		logrus.Warnf("[INSTANCE] Failed to remove credential store %s: %v", credPath, err)
	}

	logrus.Infof("[INSTANCE] Deleted instance %s", id)
	return nil
}

func (service *serviceInstance) CompleteOAuth(ctx context.Context, instanceID, code, companyID string) (domainInstance.Instance, error) {
	inst, err := service.repo.GetByID(ctx, instanceID)
	if err != nil {
		return domainInstance.Instance{}, err
	}
	if code == "" {
		return domainInstance.Instance{}, pkgError.ValidationError("code: cannot be blank.")
	}

	token, err := service.ghl.ExchangeCode(ctx, code)
	if err != nil {
		return domainInstance.Instance{}, err
	}

	locationID := token.LocationID
	if locationID == "" {
		locationID, err = service.ghl.FetchLocationID(ctx, token.AccessToken)
		if err != nil {
			return domainInstance.Instance{}, err
		}
	}
	if companyID == "" {
		companyID = token.CompanyID
	}

	providerID := inst.ConversationProviderID
	if providerID == "" {
		providerID, err = service.ghl.FetchConversationProviderID(ctx, token.AccessToken, locationID)
		if err != nil {
			logrus.Warnf("[INSTANCE] Conversation provider lookup failed for instance %s: %v", inst.ID, err)
		}
	}

	if err := service.repo.SaveInstall(ctx, inst.ID, token.AccessToken, token.RefreshToken, locationID, companyID, providerID); err != nil {
		return domainInstance.Instance{}, err
	}
	logrus.Infof("[INSTANCE] Completed GHL install for instance %s (location %s)", inst.ID, locationID)

	// Kick the pairing off right away so the operator lands on a live QR.
	if err := service.registry.Start(inst.ID); err != nil && !errors.Is(err, domain.ErrAlreadyRunning) {
		logrus.Errorf("[INSTANCE] Failed to start session after install of %s: %v", inst.ID, err)
	}

	return service.repo.GetByID(ctx, inst.ID)
}

func (service *serviceInstance) Connect(ctx context.Context, id string) error {
	if _, err := service.repo.GetByID(ctx, id); err != nil {
		return err
	}
	if err := service.registry.Start(id); err != nil {
		return mapSessionError(err)
	}
	return nil
}

func (service *serviceInstance) Disconnect(ctx context.Context, id string) error {
	if _, err := service.repo.GetByID(ctx, id); err != nil {
		return err
	}
	if err := service.registry.Stop(id); err != nil {
		return mapSessionError(err)
	}
	service.clearPairing(ctx, id)
	return nil
}

// Reconnect tears the session down and pairs from scratch. Any stored phone
// number or QR belongs to the old session and is dropped first.
func (service *serviceInstance) Reconnect(ctx context.Context, id string) error {
	if _, err := service.repo.GetByID(ctx, id); err != nil {
		return err
	}
	service.clearPairing(ctx, id)
	if err := service.registry.Restart(id); err != nil {
		return mapSessionError(err)
	}
	return nil
}

func (service *serviceInstance) clearPairing(ctx context.Context, id string) {
	if err := service.repo.ClearPhoneNumber(ctx, id); err != nil {
		logrus.Warnf("[INSTANCE] Failed to clear phone number for %s: %v", id, err)
	}
	if err := service.repo.ClearQR(ctx, id); err != nil {
		logrus.Warnf("[INSTANCE] Failed to clear QR for %s: %v", id, err)
	}
}

func (service *serviceInstance) Logout(ctx context.Context, id string) error {
	if _, err := service.repo.GetByID(ctx, id); err != nil {
		return err
	}
	if err := service.registry.Logout(ctx, id); err != nil {
		return mapSessionError(err)
	}
	return nil
}

func (service *serviceInstance) StartInstalled(ctx context.Context) error {
	instances, err := service.repo.List(ctx)
	if err != nil {
		return err
	}
	for _, inst := range instances {
		if !inst.Installed() || inst.PhoneNumber == "" {
			continue
		}
		if err := service.registry.Start(inst.ID); err != nil && !errors.Is(err, domain.ErrAlreadyRunning) {
			logrus.Errorf("[INSTANCE] Failed to resume session for %s: %v", inst.ID, err)
			continue
		}
		logrus.Infof("[INSTANCE] Resumed session for paired instance %s", inst.ID)
	}
	return nil
}

func (service *serviceInstance) ResolveByLocation(ctx context.Context, locationID string) (domainInstance.Instance, error) {
	return service.repo.GetByLocationID(ctx, locationID)
}

func (service *serviceInstance) detailOf(inst domainInstance.Instance, now time.Time) domainInstance.Detail {
	// Serve only a scannable QR; stale codes read as absent.
	inst.QRCode = inst.LiveQR(now)
	if inst.QRCode == "" {
		inst.QRCodeUpdatedAt = nil
	}

	detail := domainInstance.Detail{Instance: inst}
	if snap, ok := service.registry.Snapshot(inst.ID); ok {
		detail.Session = &snap
	}
	return detail
}

func mapSessionError(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return pkgError.NotFoundError("no session for instance")
	case errors.Is(err, domain.ErrAlreadyRunning):
		return pkgError.AlreadyRunningError("session already running for instance")
	case errors.Is(err, domain.ErrNotAuthenticated):
		return pkgError.NotAuthenticatedError("session not authenticated")
	case errors.Is(err, domain.ErrSendFailed):
		return pkgError.UpstreamError(err.Error())
	default:
		return err
	}
}
