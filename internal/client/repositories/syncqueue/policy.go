package syncqueue

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// Policy bounds retries of one queued operation.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxRetries: 5, BaseDelay: 2 * time.Second, MaxDelay: 5 * time.Minute}
}

// Delay returns how long to wait before attempt number attempt+1, given
// that attempt attempts already failed: BaseDelay doubled per failure,
// capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 || p.BaseDelay <= 0 {
		return 0
	}
	b := retry.NewExponential(p.BaseDelay)
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}
	var d time.Duration
	for i := 0; i < attempt; i++ {
		next, stop := b.Next()
		if stop {
			break
		}
		d = next
	}
	return d
}
