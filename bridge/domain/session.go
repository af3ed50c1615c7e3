package domain

// SessionState is the lifecycle state of one instance's session.
type SessionState string

const (
	StateConnecting     SessionState = "connecting"
	StateAwaitingScan   SessionState = "awaiting_scan"
	StateAuthenticating SessionState = "authenticating"
	StateAuthenticated  SessionState = "authenticated"
	StateDisconnected   SessionState = "disconnected"
	StateClosed         SessionState = "closed"
)

// Terminal reports whether the session can never leave this state.
func (s SessionState) Terminal() bool {
	return s == StateClosed
}

// SessionSnapshot is the read-only view the registry hands out. It never
// exposes the live session or its client handle.
type SessionSnapshot struct {
	InstanceID  string       `json:"instance_id"`
	State       SessionState `json:"state"`
	PhoneNumber string       `json:"phone_number,omitempty"`
	Subscribers int          `json:"subscribers"`
	RetryCount  int          `json:"retry_count"`
	LastError   string       `json:"last_error,omitempty"`
}

// StatusReason is the machine-readable cause attached to disconnect frames.
type StatusReason string

const (
	ReasonLogout     StatusReason = "logged_out"
	ReasonQRReadFail StatusReason = "qr_read_fail"
	ReasonTransient  StatusReason = "connection_lost"
	ReasonRestart    StatusReason = "restart_required"
	ReasonGaveUp     StatusReason = "connect_failed"
	ReasonStopped    StatusReason = "stopped"
)
