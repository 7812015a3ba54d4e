package confession

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation covers bad caller input (alias charset/length, vote
	// kind). Never retried automatically.
	ErrValidation = errors.New("validation failed")

	// ErrPublish marks failures of the external publisher. Matched with
	// errors.Is; the concrete error is always a *PublishError carrying
	// the transport cause. Local rollback has already happened by the
	// time the caller sees it.
	ErrPublish = errors.New("publish failed")
)

// PublishError wraps a Publisher failure with the operation that hit it.
type PublishError struct {
	Op  string
	Err error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s: %v", e.Op, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

func (e *PublishError) Is(target error) bool { return target == ErrPublish }
