package session

import "fmt"

// UnavailableError wraps a failure to dial or resolve a backend endpoint
// (spec §4.4, §7 -> HTTP 503).
type UnavailableError struct {
	Endpoint string
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("session: backend %q unavailable: %v", e.Endpoint, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// UnknownMethodError is returned when a method FQN is not present in the
// most recently fetched schema.
type UnknownMethodError struct {
	Method string
}

func (e *UnknownMethodError) Error() string {
	return fmt.Sprintf("session: unknown method %q", e.Method)
}
