package whatsapp

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	qrcode "github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waCompanionReg"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/nexloop/wabridge/bridge/domain"
)

const eventBuffer = 64

// Config holds the per-process settings shared by every instance client.
type Config struct {
	StoragePath string
	LogLevel    string
	OSName      string
}

// NewFactory returns an adapter factory backed by whatsmeow. Each instance
// gets its own sqlite credential store under cfg.StoragePath, so pairings
// survive restarts independently.
func NewFactory(cfg Config) domain.AdapterFactory {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "ERROR"
	}
	if cfg.OSName == "" {
		cfg.OSName = "Linux"
	}
	return func(instanceID string) (domain.ClientAdapter, error) {
		if instanceID == "" {
			return nil, fmt.Errorf("instanceID cannot be blank")
		}
		return &Client{instanceID: instanceID, cfg: cfg, events: make(chan domain.ClientEvent, eventBuffer)}, nil
	}
}

// Client adapts one whatsmeow client to the session event stream. The
// underlying client is created lazily on the first Connect so the credential
// database is only touched when a session actually starts.
type Client struct {
	instanceID string
	cfg        Config

	mu        sync.Mutex
	container *sqlstore.Container
	cli       *whatsmeow.Client
	handlerID uint32
	closed    bool

	events chan domain.ClientEvent
}

func (c *Client) Connect(ctx context.Context) error {
	cli, err := c.ensureClient(ctx)
	if err != nil {
		return err
	}

	if cli.Store.ID == nil {
		qrChan, err := cli.GetQRChannel(ctx)
		if err != nil {
			if err != whatsmeow.ErrQRStoreContainsID {
				return fmt.Errorf("qr channel: %w", err)
			}
		} else {
			go c.pumpQR(qrChan)
		}
	}

	if err := cli.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

func (c *Client) Disconnect() {
	c.mu.Lock()
	cli, container := c.cli, c.container
	handlerID := c.handlerID
	c.closed = true
	c.mu.Unlock()

	if cli != nil {
		if handlerID != 0 {
			cli.RemoveEventHandler(handlerID)
		}
		cli.Disconnect()
	}
	if container != nil {
		if err := container.Close(); err != nil {
			logrus.Errorf("[WA] Failed to close credential store for instance %s: %v", c.instanceID, err)
		}
	}
}

func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	cli := c.cli
	c.mu.Unlock()
	if cli == nil {
		return fmt.Errorf("client not started")
	}
	if err := cli.Logout(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	// Local logout does not round-trip through the event handler.
	c.emit(domain.ClientEvent{Type: domain.EventStatus, Status: domain.ClientStatusLoggedOut})
	return nil
}

func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	c.mu.Lock()
	cli := c.cli
	c.mu.Unlock()
	if cli == nil {
		return "", fmt.Errorf("client not started")
	}

	jid, err := types.ParseJID(to)
	if err != nil {
		return "", fmt.Errorf("invalid JID %q: %w", to, err)
	}

	resp, err := cli.SendMessage(ctx, jid, textMessage(body))
	if err != nil {
		return "", err
	}
	return string(resp.ID), nil
}

func (c *Client) Events() <-chan domain.ClientEvent { return c.events }

func (c *Client) IsLoggedIn() bool {
	c.mu.Lock()
	cli := c.cli
	c.mu.Unlock()
	return cli != nil && cli.IsLoggedIn()
}

func (c *Client) PhoneNumber() string {
	c.mu.Lock()
	cli := c.cli
	c.mu.Unlock()
	if cli == nil || cli.Store.ID == nil {
		return ""
	}
	return cli.Store.ID.User
}

func (c *Client) ensureClient(ctx context.Context) (*whatsmeow.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cli != nil {
		return c.cli, nil
	}

	short := c.instanceID
	if len(short) > 8 {
		short = short[:8]
	}

	dbURI := fmt.Sprintf("file:%s/whatsapp-%s.db?_foreign_keys=on", c.cfg.StoragePath, c.instanceID)
	container, err := sqlstore.New(ctx, "sqlite3", dbURI, waLog.Stdout("DB-"+short, c.cfg.LogLevel, true))
	if err != nil {
		return nil, fmt.Errorf("credential store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("get device: %w", err)
	}
	if device == nil {
		device = container.NewDevice()
	}

	chromePlatform := waCompanionReg.DeviceProps_CHROME
	store.DeviceProps.PlatformType = &chromePlatform
	store.DeviceProps.Os = &c.cfg.OSName

	cli := whatsmeow.NewClient(device, waLog.Stdout("Client-"+short, c.cfg.LogLevel, true))
	// Reconnection policy lives in the session, not in whatsmeow.
	cli.EnableAutoReconnect = false
	cli.AutoTrustIdentity = true
	c.handlerID = cli.AddEventHandler(c.handleEvent)

	c.container = container
	c.cli = cli
	return cli, nil
}

func (c *Client) pumpQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case "code":
			png, err := qrcode.Encode(item.Code, qrcode.Medium, 512)
			if err != nil {
				logrus.Errorf("[WA] Failed to render QR for instance %s: %v", c.instanceID, err)
				continue
			}
			payload := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
			c.emit(domain.ClientEvent{Type: domain.EventQR, QR: payload})
		case "timeout":
			c.emit(domain.ClientEvent{Type: domain.EventStatus, Status: domain.ClientStatusQRReadFail})
		case "success":
			// events.Connected carries the transition.
		default:
			if item.Error != nil {
				logrus.Errorf("[WA] QR channel error for instance %s: %v", c.instanceID, item.Error)
			}
		}
	}
}

func (c *Client) handleEvent(raw interface{}) {
	switch evt := raw.(type) {
	case *events.Connected:
		c.emit(domain.ClientEvent{Type: domain.EventStatus, Status: domain.ClientStatusConnected})
	case *events.LoggedOut:
		c.emit(domain.ClientEvent{Type: domain.EventStatus, Status: domain.ClientStatusLoggedOut})
	case *events.Disconnected:
		c.emit(domain.ClientEvent{Type: domain.EventStatus, Status: domain.ClientStatusDisconnected})
	case *events.StreamReplaced:
		c.emit(domain.ClientEvent{Type: domain.EventStatus, Status: domain.ClientStatusRestartRequired})
	case *events.ClientOutdated:
		c.emit(domain.ClientEvent{Type: domain.EventStatus, Status: domain.ClientStatusRestartRequired})
	case *events.Message:
		if msg := mapMessage(evt); msg != nil {
			c.emit(domain.ClientEvent{Type: domain.EventMessage, Message: msg})
		}
	}
}

// emit never blocks the whatsmeow handler goroutine. The session drains the
// channel continuously, so drops only happen if it is wedged.
func (c *Client) emit(ev domain.ClientEvent) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	select {
	case c.events <- ev:
	default:
		logrus.Warnf("[WA] Event buffer full for instance %s, dropping %s event", c.instanceID, ev.Type)
	}
}
