package usecase

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/nexloop/wabridge/bridge"
	domainInstance "github.com/nexloop/wabridge/domains/instance"
	domainMessage "github.com/nexloop/wabridge/domains/message"
	"github.com/nexloop/wabridge/integrations/ghl"
	"github.com/nexloop/wabridge/validations"
)

type serviceMessage struct {
	repo  domainInstance.IInstanceRepository
	relay *bridge.Relay
	ghl   *ghl.Client
}

func NewMessageService(repo domainInstance.IInstanceRepository, relay *bridge.Relay, ghlClient *ghl.Client) domainMessage.IMessageUsecase {
	return &serviceMessage{repo: repo, relay: relay, ghl: ghlClient}
}

// SendFromCRM resolves the GHL location to its instance and pushes the text
// through the live session. Delivery status is reported back to GHL when the
// request carries a message record ID.
func (service *serviceMessage) SendFromCRM(ctx context.Context, request domainMessage.OutboundRequest) (domainMessage.OutboundResponse, error) {
	if err := validations.ValidateOutboundMessage(ctx, request); err != nil {
		return domainMessage.OutboundResponse{}, err
	}

	inst, err := service.repo.GetByLocationID(ctx, request.LocationID)
	if err != nil {
		return domainMessage.OutboundResponse{}, err
	}

	ref, err := service.relay.SendOutbound(ctx, inst.ID, request.Phone, request.Message)
	if err != nil {
		service.reportStatus(ctx, inst.ID, request.MessageID, "failed")
		return domainMessage.OutboundResponse{}, mapSessionError(err)
	}

	service.reportStatus(ctx, inst.ID, request.MessageID, "delivered")
	return domainMessage.OutboundResponse{
		InstanceID: inst.ID,
		MessageRef: ref,
		Status:     "delivered",
	}, nil
}

// reportStatus is best effort: a status PUT failure never fails the send.
func (service *serviceMessage) reportStatus(ctx context.Context, instanceID, messageID, status string) {
	if messageID == "" {
		return
	}
	creds, err := service.repo.GHLCredentials(ctx, instanceID)
	if err != nil || creds.AccessToken == "" {
		return
	}
	if err := service.ghl.UpdateMessageStatus(ctx, creds.AccessToken, messageID, status); err != nil {
		logrus.Warnf("[MESSAGE] Failed to report %s status for message %s: %v", status, messageID, err)
	}
}
