package command

import (
	"errors"
	"fmt"
)

// RejectReason is the machine readable reason a command was rejected.
type RejectReason string

const (
	ReasonUnknownDrone       RejectReason = "unknown_drone"
	ReasonIllegalState       RejectReason = "illegal_state"
	ReasonOutOfBounds        RejectReason = "out_of_bounds_parameters"
	ReasonNotArmed           RejectReason = "not_armed"
	ReasonBusy               RejectReason = "busy"
	ReasonSuperseded         RejectReason = "superseded"
	ReasonSupersededBySafety RejectReason = "superseded_by_safety"
	ReasonWorkerFailed       RejectReason = "worker_failed"
)

var (
	ErrUnknownDrone = errors.New("unknown drone")
	ErrIllegalState = errors.New("illegal state for command")
	ErrOutOfBounds  = errors.New("parameters out of bounds")
	ErrNotArmed     = errors.New("drone not armed")
	ErrBusy         = errors.New("command queue full")
	ErrSuperseded   = errors.New("superseded by queued command")

	ErrSupersededBySafety = fmt.Errorf("%w: safety directive", ErrSuperseded)
)

// ValidationError describes a malformed or out-of-bounds parameter.
type ValidationError struct {
	Field string
	Value any
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s (%v): %s", e.Field, e.Value, e.Msg)
}

func (e *ValidationError) Unwrap() error { return ErrOutOfBounds }

func invalid(field string, value any, format string, args ...any) error {
	return &ValidationError{Field: field, Value: value, Msg: fmt.Sprintf(format, args...)}
}

// Reason maps a submission error to its reason code. Unrecognised errors
// map to the empty reason.
func Reason(err error) RejectReason {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownDrone):
		return ReasonUnknownDrone
	case errors.Is(err, ErrIllegalState):
		return ReasonIllegalState
	case errors.Is(err, ErrOutOfBounds):
		return ReasonOutOfBounds
	case errors.Is(err, ErrNotArmed):
		return ReasonNotArmed
	case errors.Is(err, ErrBusy):
		return ReasonBusy
	case errors.Is(err, ErrSupersededBySafety):
		return ReasonSupersededBySafety
	case errors.Is(err, ErrSuperseded):
		return ReasonSuperseded
	}
	return ""
}
