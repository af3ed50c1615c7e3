package domain

import "errors"

var (
	// ErrAlreadyRunning: start requested for an instance with a live session.
	ErrAlreadyRunning = errors.New("session already running for instance")

	// ErrNotFound: no session registered for the instance.
	ErrNotFound = errors.New("no session for instance")

	// ErrNotAuthenticated: outbound send before the session reached the
	// authenticated state.
	ErrNotAuthenticated = errors.New("session not authenticated")

	// ErrConnectFailed: the initial-connect retry budget was exhausted.
	ErrConnectFailed = errors.New("adapter connect failed after retries")

	// ErrSendFailed wraps adapter send errors; the caller decides whether to
	// mark the CRM-side message as failed.
	ErrSendFailed = errors.New("adapter send failed")
)
