package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nexloop/wabridge/bridge/domain"
)

const (
	defaultMaxConnectAttempts = 5
	defaultConnectRetryDelay  = 3 * time.Second
	defaultReconnectDelay     = 5 * time.Second
	storeWriteTimeout         = 5 * time.Second
)

// Session drives one instance's connection lifecycle. A single dispatch
// goroutine consumes the adapter's event stream, so state transitions are
// ordered; the mutex only guards reads from other goroutines.
type Session struct {
	instanceID string
	adapter    domain.ClientAdapter
	hub        *Hub
	store      domain.RecordStore

	// OnMessage receives inbound traffic while the session is authenticated.
	OnMessage func(instanceID string, msg *domain.RawMessage)
	// OnClosed fires exactly once, when the session reaches its terminal
	// state for any reason other than an explicit Stop.
	OnClosed func(instanceID string)

	maxConnectAttempts int
	connectRetryDelay  time.Duration
	reconnectDelay     time.Duration

	mu            sync.RWMutex
	state         domain.SessionState
	phoneNumber   string
	retryCount    int
	lastError     string
	authenticated bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSession(instanceID string, adapter domain.ClientAdapter, hub *Hub, store domain.RecordStore) *Session {
	return &Session{
		instanceID:         instanceID,
		adapter:            adapter,
		hub:                hub,
		store:              store,
		maxConnectAttempts: defaultMaxConnectAttempts,
		connectRetryDelay:  defaultConnectRetryDelay,
		reconnectDelay:     defaultReconnectDelay,
		state:              domain.StateConnecting,
		done:               make(chan struct{}),
	}
}

// Start launches the dispatch loop. It returns immediately; connection
// progress is observable through Snapshot and the hub.
func (s *Session) Start(parent context.Context) {
	s.ctx, s.cancel = context.WithCancel(parent)
	go s.run()
}

// Stop cancels the session and waits for the dispatch loop to exit. A nil
// error means the loop finished; a context error means the caller's deadline
// passed first and the loop is still draining.
func (s *Session) Stop(ctx context.Context) error {
	s.cancel()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the dispatch loop has fully exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Logout asks the remote service to unlink the device. The resulting
// logged_out event closes the session through the normal dispatch path.
func (s *Session) Logout(ctx context.Context) error {
	return s.adapter.Logout(ctx)
}

// SendText delivers an outbound text through the live client. It refuses to
// send unless the session is authenticated.
func (s *Session) SendText(ctx context.Context, to, body string) (string, error) {
	if s.State() != domain.StateAuthenticated {
		return "", domain.ErrNotAuthenticated
	}
	id, err := s.adapter.SendText(ctx, to, body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrSendFailed, err)
	}
	return id, nil
}

func (s *Session) InstanceID() string { return s.instanceID }

func (s *Session) State() domain.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Snapshot returns a copy of the session's observable state. Subscribers is
// filled in by the registry, which owns the hub counts.
func (s *Session) Snapshot() domain.SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.SessionSnapshot{
		InstanceID:  s.instanceID,
		State:       s.state,
		PhoneNumber: s.phoneNumber,
		RetryCount:  s.retryCount,
		LastError:   s.lastError,
	}
}

func (s *Session) run() {
	defer close(s.done)
	defer s.adapter.Disconnect()

	if err := s.connectWithBudget(); err != nil {
		s.giveUp(err)
		return
	}

	for {
		select {
		case <-s.ctx.Done():
			s.close(domain.ReasonStopped, false)
			return
		case ev, ok := <-s.adapter.Events():
			if !ok {
				s.close(domain.ReasonStopped, false)
				return
			}
			if s.dispatch(ev) {
				return
			}
		}
	}
}

// dispatch handles one adapter event and reports whether the session reached
// its terminal state.
func (s *Session) dispatch(ev domain.ClientEvent) bool {
	switch ev.Type {
	case domain.EventQR:
		s.onQR(ev.QR)
	case domain.EventMessage:
		if ev.Message != nil && s.State() == domain.StateAuthenticated && s.OnMessage != nil {
			s.OnMessage(s.instanceID, ev.Message)
		}
	case domain.EventStatus:
		return s.onStatus(ev)
	}
	return false
}

func (s *Session) onQR(code string) {
	s.setState(domain.StateAwaitingScan)
	logrus.Infof("[SESSION] QR issued for instance %s", s.instanceID)

	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()
	if err := s.store.SaveQR(ctx, s.instanceID, code, time.Now()); err != nil {
		logrus.Errorf("[SESSION] Failed to persist QR for instance %s: %v", s.instanceID, err)
	}

	s.hub.Publish(s.instanceID, Frame{Type: "qr", Data: code})
}

func (s *Session) onStatus(ev domain.ClientEvent) bool {
	switch ev.Status {
	case domain.ClientStatusConnected:
		s.onAuthenticated()
		return false
	case domain.ClientStatusLoggedOut:
		logrus.Infof("[SESSION] Instance %s logged out, closing session", s.instanceID)
		s.clearPhoneNumber()
		s.close(domain.ReasonLogout, true)
		return true
	case domain.ClientStatusQRReadFail:
		return s.onLost(domain.ReasonQRReadFail, ev.Err)
	case domain.ClientStatusRestartRequired:
		return s.onLost(domain.ReasonRestart, ev.Err)
	default:
		return s.onLost(domain.ReasonTransient, ev.Err)
	}
}

func (s *Session) onAuthenticated() {
	phone := s.adapter.PhoneNumber()

	s.mu.Lock()
	s.state = domain.StateAuthenticated
	s.phoneNumber = phone
	s.retryCount = 0
	s.lastError = ""
	s.authenticated = true
	s.mu.Unlock()

	logrus.Infof("[SESSION] Instance %s authenticated as %s", s.instanceID, phone)

	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()
	if err := s.store.ClearQR(ctx, s.instanceID); err != nil {
		logrus.Errorf("[SESSION] Failed to clear QR for instance %s: %v", s.instanceID, err)
	}
	if phone != "" {
		if err := s.store.SetPhoneNumber(ctx, s.instanceID, phone); err != nil {
			logrus.Errorf("[SESSION] Failed to persist phone for instance %s: %v", s.instanceID, err)
		}
	}

	s.hub.Publish(s.instanceID, Frame{Type: "status", Data: "connected"})
}

// onLost handles every non-logout disconnect. Before first authentication it
// spends the remaining initial-connect budget; after it, it reconnects until
// stopped.
func (s *Session) onLost(reason domain.StatusReason, cause error) bool {
	s.setState(domain.StateDisconnected)
	message := "connection lost"
	if cause != nil {
		s.setLastError(cause.Error())
		message = cause.Error()
	}
	logrus.Warnf("[SESSION] Instance %s disconnected (%s)", s.instanceID, reason)

	// Any QR on file belongs to the connection that just dropped.
	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	if err := s.store.ClearQR(ctx, s.instanceID); err != nil {
		logrus.Errorf("[SESSION] Failed to clear QR for instance %s: %v", s.instanceID, err)
	}
	cancel()

	s.hub.Publish(s.instanceID, Frame{Type: "status", Data: "disconnected", Reason: string(reason), Message: message})

	s.mu.RLock()
	wasAuthenticated := s.authenticated
	s.mu.RUnlock()

	if wasAuthenticated {
		if err := s.reconnectForever(); err != nil {
			s.close(domain.ReasonStopped, false)
			return true
		}
		return false
	}
	if err := s.connectWithBudget(); err != nil {
		s.giveUp(err)
		return true
	}
	return false
}

// connectWithBudget runs the initial-connect policy: a fixed number of
// attempts with a fixed delay between them.
func (s *Session) connectWithBudget() error {
	for attempt := 1; ; attempt++ {
		s.mu.Lock()
		s.state = domain.StateConnecting
		s.retryCount = attempt
		s.mu.Unlock()

		err := s.adapter.Connect(s.ctx)
		if err == nil {
			return nil
		}
		s.setLastError(err.Error())
		logrus.Warnf("[SESSION] Connect attempt %d/%d failed for instance %s: %v",
			attempt, s.maxConnectAttempts, s.instanceID, err)

		if attempt >= s.maxConnectAttempts {
			return fmt.Errorf("%w: %v", domain.ErrConnectFailed, err)
		}
		if !s.sleep(s.connectRetryDelay) {
			return s.ctx.Err()
		}
	}
}

// reconnectForever retries until connect succeeds or the session is stopped.
// Only reached after at least one successful authentication.
func (s *Session) reconnectForever() error {
	for attempt := 1; ; attempt++ {
		if !s.sleep(s.reconnectDelay) {
			return s.ctx.Err()
		}

		s.mu.Lock()
		s.state = domain.StateConnecting
		s.retryCount = attempt
		s.mu.Unlock()

		err := s.adapter.Connect(s.ctx)
		if err == nil {
			return nil
		}
		s.setLastError(err.Error())
		logrus.Warnf("[SESSION] Reconnect attempt %d failed for instance %s: %v", attempt, s.instanceID, err)
	}
}

func (s *Session) giveUp(err error) {
	s.setLastError(err.Error())
	logrus.Errorf("[SESSION] Giving up on instance %s: %v", s.instanceID, err)
	s.hub.Publish(s.instanceID, Frame{
		Type:    "status",
		Data:    "disconnected",
		Reason:  string(domain.ReasonGaveUp),
		Message: err.Error(),
	})
	s.terminate(true)
}

// close moves the session to its terminal state. Frames are only published
// for externally caused closures; an explicit Stop already implies the caller
// knows.
func (s *Session) close(reason domain.StatusReason, notify bool) {
	if notify {
		message := "session closed"
		if reason == domain.ReasonLogout {
			message = "device was logged out"
		}
		s.hub.Publish(s.instanceID, Frame{Type: "status", Data: "disconnected", Reason: string(reason), Message: message})
	}
	s.terminate(notify)
}

func (s *Session) terminate(runCallback bool) {
	s.setState(domain.StateClosed)
	if runCallback && s.OnClosed != nil {
		s.OnClosed(s.instanceID)
	}
}

func (s *Session) clearPhoneNumber() {
	s.mu.Lock()
	s.phoneNumber = ""
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()
	if err := s.store.ClearPhoneNumber(ctx, s.instanceID); err != nil {
		logrus.Errorf("[SESSION] Failed to clear phone for instance %s: %v", s.instanceID, err)
	}
	if err := s.store.ClearQR(ctx, s.instanceID); err != nil {
		logrus.Errorf("[SESSION] Failed to clear QR for instance %s: %v", s.instanceID, err)
	}
}

func (s *Session) setState(state domain.SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) setLastError(msg string) {
	s.mu.Lock()
	s.lastError = msg
	s.mu.Unlock()
}

// sleep waits d unless the session context is canceled first.
func (s *Session) sleep(d time.Duration) bool {
	if d <= 0 {
		select {
		case <-s.ctx.Done():
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}
