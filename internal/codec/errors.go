package codec

import "fmt"

// BadRequestError is returned when path/query/body input cannot be bound
// into the target message (spec §4.3, §7 BindingError -> HTTP 400).
type BadRequestError struct {
	Reason string
	Err    error
}

func (e *BadRequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bad request: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("bad request: %s", e.Reason)
}

func (e *BadRequestError) Unwrap() error { return e.Err }

func badf(format string, args ...interface{}) error {
	return &BadRequestError{Reason: fmt.Sprintf(format, args...)}
}
