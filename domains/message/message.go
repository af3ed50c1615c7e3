package message

import "context"

// OutboundRequest is the CRM-originated send: GHL posts it through the
// conversation provider webhook with the location it belongs to.
type OutboundRequest struct {
	LocationID string `json:"locationId" form:"locationId"`
	Phone      string `json:"phone" form:"phone"`
	Message    string `json:"message" form:"message"`

	// MessageID is GHL's own message record, used to report delivery status
	// back. Optional.
	MessageID string `json:"messageId" form:"messageId"`
}

type OutboundResponse struct {
	InstanceID string `json:"instance_id"`
	MessageRef string `json:"message_ref"`
	Status     string `json:"status"`
}

type IMessageUsecase interface {
	SendFromCRM(ctx context.Context, request OutboundRequest) (OutboundResponse, error)
}
