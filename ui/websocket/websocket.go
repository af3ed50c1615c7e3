package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	valkeylib "github.com/valkey-io/valkey-go"

	"github.com/nexloop/wabridge/bridge"
	"github.com/nexloop/wabridge/bridge/domain"
	"github.com/nexloop/wabridge/infrastructure/valkey"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 45 * time.Second
	writeWait    = 10 * time.Second
)

// commandFrame is what a subscriber may send upstream. Only "start" is
// recognized; everything else is ignored.
type commandFrame struct {
	Type string `json:"type"`
}

// wireFrame carries a hub frame between servers through Valkey Pub/Sub.
type wireFrame struct {
	InstanceID string       `json:"instance_id"`
	Frame      bridge.Frame `json:"frame"`
	SenderID   string       `json:"sender_id,omitempty"`
}

var (
	vkClient *valkey.Client
	wsChan   = "wabridge:events"
	localID  string
)

// EnableDistribution hooks the hub into Valkey Pub/Sub so frames published on
// one server reach subscribers connected to another.
func EnableDistribution(client *valkey.Client, serverID string, hub *bridge.Hub) {
	vkClient = client
	localID = serverID
	hub.Forward = publishToValkey
	startValkeySubscriber(hub)
}

func publishToValkey(instanceID string, frame bridge.Frame) {
	if vkClient == nil {
		return
	}

	data, err := json.Marshal(wireFrame{InstanceID: instanceID, Frame: frame, SenderID: localID})
	if err != nil {
		return
	}

	ctx := context.Background()
	cmd := vkClient.Inner().B().Publish().Channel(wsChan).Message(string(data)).Build()
	if err := vkClient.Inner().Do(ctx, cmd).Error(); err != nil {
		logrus.Errorf("[WS] Failed to publish to Valkey: %v", err)
	}
}

func startValkeySubscriber(hub *bridge.Hub) {
	logrus.Info("[WS] Starting Valkey Pub/Sub subscriber for distributed events")
	go func() {
		err := vkClient.Inner().Receive(context.Background(), vkClient.Inner().B().Subscribe().Channel(wsChan).Build(), func(msg valkeylib.PubSubMessage) {
			var wire wireFrame
			if err := json.Unmarshal([]byte(msg.Message), &wire); err != nil {
				return
			}
			// Avoid loops: ignore frames this same server published
			if wire.SenderID == localID {
				return
			}
			hub.PublishLocal(wire.InstanceID, wire.Frame)
		})
		if err != nil {
			logrus.Errorf("[WS] Valkey subscriber failed: %v", err)
		}
	}()
}

func RegisterRoutes(app fiber.Router, hub *bridge.Hub, registry *bridge.Registry) {
	app.Use("/events/:id", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return c.SendStatus(fiber.StatusUpgradeRequired)
	})

	app.Get("/events/:id", websocket.New(func(conn *websocket.Conn) {
		instanceID := conn.Params("id")
		sub := hub.Subscribe(instanceID)
		defer hub.Unsubscribe(sub)
		defer func() { _ = conn.Close() }()

		done := make(chan struct{})
		defer close(done)
		go writePump(conn, sub, done)

		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})

		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logrus.Debugf("[WS] Read error for instance %s: %v", instanceID, err)
				}
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}

			var cmd commandFrame
			if err := json.Unmarshal(message, &cmd); err != nil {
				continue
			}
			if cmd.Type == "start" {
				if err := registry.Start(instanceID); err != nil && !errors.Is(err, domain.ErrAlreadyRunning) {
					logrus.Warnf("[WS] Failed to start session for instance %s: %v", instanceID, err)
				}
			}
		}
	}))
}

// writePump drains hub frames to the socket and keeps the connection alive
// with periodic pings. A subscriber whose channel the hub closed gets a
// close frame and the connection is torn down.
func writePump(conn *websocket.Conn, sub *bridge.Subscriber, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-sub.Frames():
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				_ = conn.Close()
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(frame); err != nil {
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		case <-done:
			return
		}
	}
}
