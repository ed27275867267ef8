package smsratelimit

import (
	"errors"

	"github.com/parkerroan/smsratelimit/limiter"
)

var (
	// ErrValidation marks a malformed sender identity.
	ErrValidation = errors.New("invalid sender identity")
	// ErrSenderCapacity marks a denial by the per-sender ceiling.
	ErrSenderCapacity = errors.New("sender rate limit exceeded")
	// ErrGlobalCapacity marks a denial by the account ceiling.
	ErrGlobalCapacity = errors.New("global rate limit exceeded")
	// ErrProcessing marks an unexpected internal failure during a check.
	ErrProcessing = errors.New("admission processing failed")
	// ErrInvalidRange is returned by monitoring reads when end is not after start.
	ErrInvalidRange = errors.New("end time must be after start time")
)

// Outcome is the terminal state of one admission check.
type Outcome int

const (
	Admitted Outcome = iota
	DeniedSender
	DeniedGlobal
	DeniedValidation
	DeniedProcessing
)

func (o Outcome) String() string {
	switch o {
	case Admitted:
		return "ADMITTED"
	case DeniedSender:
		return "DENIED_SENDER"
	case DeniedGlobal:
		return "DENIED_GLOBAL"
	case DeniedValidation:
		return "VALIDATION_ERROR"
	case DeniedProcessing:
		return "PROCESSING_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Verdict is the result of CheckAdmission. Err is nil for an admitted message
// and otherwise wraps one of the package sentinel errors.
type Verdict struct {
	Admitted bool
	Outcome  Outcome
	Reason   string
	Err      error

	// Snapshot is the state of the limiter that denied the message, if any.
	Snapshot *limiter.Stats
}
