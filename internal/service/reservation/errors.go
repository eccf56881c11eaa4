package reservation

import (
	"errors"
	"fmt"
	"time"

	"github.com/kirinyoku/pelada/internal/service/policy"
)

var (
	ErrEventNotFound       = errors.New("event not found")
	ErrMemberNotFound      = errors.New("member not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrEventClosed         = errors.New("event already started")
	ErrCapacityExceeded    = policy.ErrCapacityExceeded
	ErrInvalidState        = policy.ErrInvalidState
)

type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry in %s", e.RetryAfter)
}
