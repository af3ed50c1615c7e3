package bridge

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nexloop/wabridge/bridge/domain"
)

// Frame is one event delivered to live subscribers of an instance.
type Frame struct {
	Type    string `json:"type"` // "qr" or "status"
	Data    string `json:"data"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

const subscriberBuffer = 16

// Subscriber is one live observer of an instance's QR/status events.
type Subscriber struct {
	instanceID string
	frames     chan Frame
}

// Frames is the receive side of the subscription. The channel is closed when
// the subscriber is pruned or unsubscribed.
func (s *Subscriber) Frames() <-chan Frame { return s.frames }

// InstanceID identifies which instance this subscription observes.
func (s *Subscriber) InstanceID() string { return s.instanceID }

// Hub fans QR/status events out to every live subscriber of an instance.
// It is decoupled from sessions: subscribers attach and detach freely, and a
// session runs fine with zero subscribers.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscriber]struct{}

	// SnapshotFunc supplies current session state for the synthetic status
	// frame sent to late subscribers. Nil means no synthetic frame.
	SnapshotFunc func(instanceID string) (domain.SessionSnapshot, bool)

	// OnEmpty fires when an instance loses its last subscriber; OnFirst when
	// it gains its first. Both are called outside the lock.
	OnEmpty func(instanceID string)
	OnFirst func(instanceID string)

	// Forward, when set, propagates locally published frames to peer servers.
	Forward func(instanceID string, f Frame)
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscriber]struct{})}
}

// Subscribe attaches a new observer and immediately queues a synthetic status
// frame reflecting the current session state, so late subscribers are not
// blind to history. No event log is kept.
func (h *Hub) Subscribe(instanceID string) *Subscriber {
	sub := &Subscriber{
		instanceID: instanceID,
		frames:     make(chan Frame, subscriberBuffer),
	}

	// Queue the synthetic frame while the channel is still private, before
	// publishers can race it into the prune path.
	synthetic := h.syntheticStatus(instanceID)

	h.mu.Lock()
	sub.frames <- synthetic
	set, ok := h.subs[instanceID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subs[instanceID] = set
	}
	first := len(set) == 0
	set[sub] = struct{}{}
	h.mu.Unlock()

	if first && h.OnFirst != nil {
		h.OnFirst(instanceID)
	}
	return sub
}

// Unsubscribe detaches an observer and closes its frame channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	empty := h.removeLocked(sub)
	h.mu.Unlock()

	if empty && h.OnEmpty != nil {
		h.OnEmpty(sub.instanceID)
	}
}

// Publish delivers f to every current subscriber of the instance and forwards
// it to peer servers when configured.
func (h *Hub) Publish(instanceID string, f Frame) {
	h.PublishLocal(instanceID, f)
	if h.Forward != nil {
		h.Forward(instanceID, f)
	}
}

// PublishLocal delivers only to subscribers on this server. Delivery never
// blocks: a subscriber whose channel is saturated is pruned instead.
func (h *Hub) PublishLocal(instanceID string, f Frame) {
	h.mu.Lock()
	set := h.subs[instanceID]
	var pruned []*Subscriber
	for sub := range set {
		select {
		case sub.frames <- f:
		default:
			logrus.Warnf("[HUB] Pruning saturated subscriber of instance %s", instanceID)
			h.removeLocked(sub)
			pruned = append(pruned, sub)
		}
	}
	empty := len(pruned) > 0 && len(h.subs[instanceID]) == 0
	h.mu.Unlock()

	if empty && h.OnEmpty != nil {
		h.OnEmpty(instanceID)
	}
}

// SubscriberCount feeds the registry's idle-reaping decision.
func (h *Hub) SubscriberCount(instanceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[instanceID])
}

// removeLocked detaches sub and reports whether its instance is now empty.
// Caller holds h.mu.
func (h *Hub) removeLocked(sub *Subscriber) bool {
	set, ok := h.subs[sub.instanceID]
	if !ok {
		return false
	}
	if _, member := set[sub]; !member {
		return false
	}
	delete(set, sub)
	close(sub.frames)
	if len(set) == 0 {
		delete(h.subs, sub.instanceID)
		return true
	}
	return false
}

func (h *Hub) syntheticStatus(instanceID string) Frame {
	status := "disconnected"
	if h.SnapshotFunc != nil {
		if snap, ok := h.SnapshotFunc(instanceID); ok {
			switch snap.State {
			case domain.StateAuthenticated:
				status = "connected"
			case domain.StateConnecting, domain.StateAwaitingScan, domain.StateAuthenticating:
				status = "connecting"
			}
		}
	}
	return Frame{Type: "status", Data: status}
}
