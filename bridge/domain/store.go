package domain

import (
	"context"
	"time"
)

// RecordStore is the session-lifecycle slice of the instance repository:
// sessions persist QR codes and resolved phone numbers through it, never on
// the relay hot path.
type RecordStore interface {
	SaveQR(ctx context.Context, instanceID, qrCode string, at time.Time) error
	ClearQR(ctx context.Context, instanceID string) error
	SetPhoneNumber(ctx context.Context, instanceID, phoneNumber string) error
	ClearPhoneNumber(ctx context.Context, instanceID string) error
}

// Direction of a relayed message from the CRM's point of view.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// CRMForwarder receives normalized messages for contact resolution and
// delivery to the CRM conversation view.
type CRMForwarder interface {
	PostMessage(ctx context.Context, instanceID, phone, content string, direction Direction) error
}
