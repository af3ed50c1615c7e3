package domain

import (
	"context"
	"time"
)

// ClientStatus is what the underlying chat client reports about itself.
// The session state machine translates these into session states.
type ClientStatus string

const (
	ClientStatusConnected       ClientStatus = "connected"
	ClientStatusDisconnected    ClientStatus = "disconnected"
	ClientStatusLoggedOut       ClientStatus = "logged_out"
	ClientStatusQRReadFail      ClientStatus = "qr_read_fail"
	ClientStatusRestartRequired ClientStatus = "restart_required"
)

// EventType discriminates ClientEvent variants.
type EventType string

const (
	EventQR      EventType = "qr"
	EventStatus  EventType = "status"
	EventMessage EventType = "message"
)

// ClientEvent is the single stream every adapter exposes. Events for one
// instance are serialized by the adapter, so the session dispatch loop never
// needs internal locking.
type ClientEvent struct {
	Type    EventType
	QR      string       // EventQR: base64 image payload
	Status  ClientStatus // EventStatus
	Err     error        // EventStatus: optional cause
	Message *RawMessage  // EventMessage
}

// RawMessage is an inbound message exactly as the adapter saw it, before any
// relay filtering.
type RawMessage struct {
	ID        string
	ChatID    string // remote chat identifier, e.g. "5511...@s.whatsapp.net"
	SenderID  string
	FromMe    bool
	Type      string // text, image, audio, video, document, sticker
	Body      string
	Caption   string
	Timestamp time.Time
}

// ClientAdapter wraps the external chat-protocol client for one instance.
// Connect returns once the client has started (not necessarily
// authenticated); progress arrives on Events.
type ClientAdapter interface {
	Connect(ctx context.Context) error
	Disconnect()
	Logout(ctx context.Context) error
	SendText(ctx context.Context, to, body string) (string, error)
	Events() <-chan ClientEvent
	IsLoggedIn() bool
	PhoneNumber() string
}

// AdapterFactory builds a fresh adapter for an instance. Sessions own the
// returned adapter exclusively.
type AdapterFactory func(instanceID string) (ClientAdapter, error)
