package bridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nexloop/wabridge/bridge/domain"
	"github.com/nexloop/wabridge/pkg/expiry"
	"github.com/nexloop/wabridge/pkg/msgworker"
	"github.com/nexloop/wabridge/pkg/phone"
)

const (
	directChatSuffix = "@s.whatsapp.net"

	dedupWindow      = 2 * time.Minute
	echoWindow       = time.Minute
	relaySweepEvery  = 30 * time.Second
	echoPrefixLength = 64
	forwardTimeout   = 15 * time.Second

	forwardWorkers   = 8
	forwardQueueSize = 256
)

var mediaPlaceholders = map[string]string{
	"image":    "🖼️ Imagem",
	"audio":    "🎵 Áudio",
	"ptt":      "🎵 Áudio",
	"video":    "🎥 Vídeo",
	"document": "📄 Documento",
	"sticker":  "💟 Figurinha",
}

// Relay sits between sessions and the CRM. Inbound it filters, dedups and
// normalizes raw messages before forwarding; outbound it sends through the
// live session and arms echo suppression so the send does not bounce back
// into the CRM.
type Relay struct {
	registry  *Registry
	forwarder domain.CRMForwarder

	dedup *expiry.Cache
	echo  *expiry.Cache
	pool  *msgworker.Pool
}

func NewRelay(registry *Registry, forwarder domain.CRMForwarder) *Relay {
	r := &Relay{
		registry:  registry,
		forwarder: forwarder,
		dedup:     expiry.New(relaySweepEvery),
		echo:      expiry.New(relaySweepEvery),
		pool:      msgworker.NewPool(forwardWorkers, forwardQueueSize),
	}
	registry.OnMessage = r.HandleInbound
	return r
}

// Run starts the cache sweepers and the forward worker pool.
func (r *Relay) Run(ctx context.Context) {
	r.dedup.Start(ctx)
	r.echo.Start(ctx)
	r.pool.Start(ctx)
	go func() {
		<-ctx.Done()
		r.pool.Stop()
	}()
}

// HandleInbound processes one raw message from a session. Drops are silent
// by contract; only forwarding failures are logged.
func (r *Relay) HandleInbound(instanceID string, msg *domain.RawMessage) {
	if !strings.HasSuffix(msg.ChatID, directChatSuffix) {
		return
	}

	key := messageKey(instanceID, msg)
	if r.dedup.Has(key) {
		logrus.Debugf("[RELAY] Duplicate message %s on instance %s dropped", msg.ID, instanceID)
		return
	}
	r.dedup.Set(key, nil, dedupWindow)

	content := normalizeContent(msg)
	if content == "" {
		return
	}

	digits, err := phone.Normalize(msg.ChatID)
	if err != nil {
		logrus.Warnf("[RELAY] Unusable chat identifier %q on instance %s: %v", msg.ChatID, instanceID, err)
		return
	}

	direction := domain.DirectionInbound
	if msg.FromMe {
		if r.echo.Has(echoKey(instanceID, digits, content)) {
			logrus.Debugf("[RELAY] Echo of relayed send to %s suppressed on instance %s", digits, instanceID)
			return
		}
		// Typed by the operator on the device itself. Forward it so the CRM
		// conversation stays complete.
		direction = domain.DirectionOutbound
	}

	msgID := msg.ID
	e164 := phone.E164(digits)
	job := msgworker.Job{
		InstanceID: instanceID,
		ChatKey:    digits,
		Handler: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, forwardTimeout)
			defer cancel()
			if err := r.forwarder.PostMessage(ctx, instanceID, e164, content, direction); err != nil {
				return fmt.Errorf("forward message %s: %w", msgID, err)
			}
			return nil
		},
	}

	// When the pool is saturated or not running the forward happens inline
	// so the message is never dropped.
	if !r.pool.TryDispatch(job) {
		if err := job.Handler(context.Background()); err != nil {
			logrus.Errorf("[RELAY] Failed to forward message from instance %s: %v", instanceID, err)
		}
	}
}

// SendOutbound delivers a CRM-originated text through the instance's session.
// The echo cache is armed before the send, so the adapter's own fromMe echo
// of this message is already suppressible when it arrives.
func (r *Relay) SendOutbound(ctx context.Context, instanceID, phoneE164, body string) (string, error) {
	session, err := r.registry.Get(instanceID)
	if err != nil {
		return "", err
	}

	digits, err := phone.Normalize(phoneE164)
	if err != nil {
		return "", err
	}

	// Key with the trimmed body: the inbound echo arrives trimmed.
	r.echo.Set(echoKey(instanceID, digits, strings.TrimSpace(body)), nil, echoWindow)

	id, err := session.SendText(ctx, digits+directChatSuffix, body)
	if err != nil {
		return "", err
	}
	logrus.Infof("[RELAY] Sent outbound message %s to %s via instance %s", id, digits, instanceID)
	return id, nil
}

// messageKey prefers the adapter-assigned message ID and falls back to a
// sender/chat/timestamp fingerprint when the adapter did not supply one.
func messageKey(instanceID string, msg *domain.RawMessage) string {
	if msg.ID != "" {
		return instanceID + "|" + msg.ID
	}
	return fmt.Sprintf("%s|%s|%s|%d", instanceID, msg.SenderID, msg.ChatID, msg.Timestamp.UnixNano())
}

func echoKey(instanceID, digits, body string) string {
	prefix := body
	if len(prefix) > echoPrefixLength {
		prefix = prefix[:echoPrefixLength]
	}
	return instanceID + "|" + digits + "|" + prefix
}

// normalizeContent maps media messages to placeholders and appends captions.
// Empty return means the message carries nothing worth relaying.
func normalizeContent(msg *domain.RawMessage) string {
	if placeholder, ok := mediaPlaceholders[msg.Type]; ok {
		if caption := strings.TrimSpace(msg.Caption); caption != "" {
			return placeholder + ": " + caption
		}
		return placeholder
	}
	return strings.TrimSpace(msg.Body)
}
