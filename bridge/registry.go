package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nexloop/wabridge/bridge/domain"
	"github.com/nexloop/wabridge/pkg/expiry"
)

const (
	defaultStopTimeout = 10 * time.Second
	defaultIdleTTL     = 5 * time.Minute
	idleSweepInterval  = 30 * time.Second
)

// Registry owns every live session and enforces at most one per instance.
// It is the only component allowed to create or tear sessions down.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	hub     *Hub
	store   domain.RecordStore
	factory domain.AdapterFactory

	// OnMessage is installed on every session it starts.
	OnMessage func(instanceID string, msg *domain.RawMessage)

	stopTimeout time.Duration
	idleTTL     time.Duration
	idle        *expiry.Cache

	baseCtx context.Context
}

func NewRegistry(hub *Hub, store domain.RecordStore, factory domain.AdapterFactory) *Registry {
	r := &Registry{
		sessions:    make(map[string]*Session),
		hub:         hub,
		store:       store,
		factory:     factory,
		stopTimeout: defaultStopTimeout,
		idleTTL:     defaultIdleTTL,
		idle:        expiry.New(idleSweepInterval),
		baseCtx:     context.Background(),
	}
	r.idle.OnEvict = func(instanceID string, _ any) { r.reap(instanceID) }
	hub.SnapshotFunc = func(instanceID string) (domain.SessionSnapshot, bool) {
		return r.Snapshot(instanceID)
	}
	hub.OnFirst = func(instanceID string) { r.idle.Delete(instanceID) }
	hub.OnEmpty = func(instanceID string) { r.markIdleCandidate(instanceID) }
	return r
}

// Run starts the idle reaper and binds new sessions to ctx. Cancelling ctx
// does not stop running sessions; call StopAll for that.
func (r *Registry) Run(ctx context.Context) {
	r.baseCtx = ctx
	r.idle.Start(ctx)
}

// Start creates and launches a session for the instance. The registry entry
// is visible before the first connect attempt, so a concurrent Start observes
// ErrAlreadyRunning rather than racing a second client into existence.
func (r *Registry) Start(instanceID string) error {
	r.mu.Lock()
	if existing, ok := r.sessions[instanceID]; ok && !existing.State().Terminal() {
		r.mu.Unlock()
		return domain.ErrAlreadyRunning
	}

	adapter, err := r.factory(instanceID)
	if err != nil {
		r.mu.Unlock()
		return err
	}

	session := NewSession(instanceID, adapter, r.hub, r.store)
	session.OnMessage = r.OnMessage
	session.OnClosed = r.remove
	r.sessions[instanceID] = session
	r.mu.Unlock()

	logrus.Infof("[REGISTRY] Starting session for instance %s", instanceID)
	session.Start(r.baseCtx)
	r.markIdleCandidate(instanceID)
	return nil
}

// Stop tears a session down. The wait is bounded; a session that does not
// exit within the timeout is abandoned but always removed from the registry.
func (r *Registry) Stop(instanceID string) error {
	session, err := r.Get(instanceID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.stopTimeout)
	defer cancel()
	if err := session.Stop(ctx); err != nil {
		logrus.Warnf("[REGISTRY] Session for instance %s did not stop in time: %v", instanceID, err)
	}
	r.remove(instanceID)
	r.hub.Publish(instanceID, Frame{Type: "status", Data: "disconnected", Reason: string(domain.ReasonStopped)})
	return nil
}

// Logout unlinks the instance's device. The session closes itself through
// its own dispatch loop once the service confirms.
func (r *Registry) Logout(ctx context.Context, instanceID string) error {
	session, err := r.Get(instanceID)
	if err != nil {
		return err
	}
	return session.Logout(ctx)
}

// Restart stops any live session and starts a fresh one.
func (r *Registry) Restart(instanceID string) error {
	if err := r.Stop(instanceID); err != nil && err != domain.ErrNotFound {
		return err
	}
	return r.Start(instanceID)
}

// Get returns the live session for the instance.
func (r *Registry) Get(instanceID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[instanceID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return session, nil
}

// Snapshot reports the instance's session state with the live subscriber
// count filled in.
func (r *Registry) Snapshot(instanceID string) (domain.SessionSnapshot, bool) {
	session, err := r.Get(instanceID)
	if err != nil {
		return domain.SessionSnapshot{}, false
	}
	snap := session.Snapshot()
	snap.Subscribers = r.hub.SubscriberCount(instanceID)
	return snap, true
}

// Snapshots lists every registered session.
func (r *Registry) Snapshots() []domain.SessionSnapshot {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	out := make([]domain.SessionSnapshot, 0, len(sessions))
	for _, s := range sessions {
		snap := s.Snapshot()
		snap.Subscribers = r.hub.SubscriberCount(snap.InstanceID)
		out = append(out, snap)
	}
	return out
}

// StopAll shuts every session down, bounded per session by the stop timeout.
func (r *Registry) StopAll() {
	for _, snap := range r.Snapshots() {
		if err := r.Stop(snap.InstanceID); err != nil && err != domain.ErrNotFound {
			logrus.Warnf("[REGISTRY] Failed to stop instance %s: %v", snap.InstanceID, err)
		}
	}
}

func (r *Registry) remove(instanceID string) {
	r.mu.Lock()
	delete(r.sessions, instanceID)
	r.mu.Unlock()
	r.idle.Delete(instanceID)
}

// markIdleCandidate arms the reap timer for a session nobody is watching and
// that never paired. Paired sessions are kept alive for the relay.
func (r *Registry) markIdleCandidate(instanceID string) {
	snap, ok := r.Snapshot(instanceID)
	if !ok {
		return
	}
	if snap.PhoneNumber == "" && snap.Subscribers == 0 {
		r.idle.Set(instanceID, nil, r.idleTTL)
	}
}

// reap re-checks the idle conditions at expiry time before stopping the
// session. A subscriber or a pairing that arrived meanwhile cancels the reap.
func (r *Registry) reap(instanceID string) {
	snap, ok := r.Snapshot(instanceID)
	if !ok {
		return
	}
	if snap.PhoneNumber != "" || snap.Subscribers > 0 {
		return
	}
	logrus.Infof("[REGISTRY] Reaping idle unpaired session for instance %s", instanceID)
	if err := r.Stop(instanceID); err != nil {
		logrus.Warnf("[REGISTRY] Idle reap of instance %s failed: %v", instanceID, err)
	}
}
