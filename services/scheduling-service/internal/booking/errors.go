package booking

import "errors"

// Rejections returned by the transactor. Callers match them with errors.Is.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrNotFound           = errors.New("not found")
	ErrSlotUnavailable    = errors.New("slot unavailable")
	ErrConcurrentConflict = errors.New("slot was taken by a concurrent booking")
	ErrAlreadyFinalized   = errors.New("booking already finalized")
	ErrLeadTimeViolation  = errors.New("cancellation lead time has passed")
)
