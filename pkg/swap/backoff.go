package swap

import (
	"context"
	"time"
)

const (
	DefaultBaseDelay = time.Second
	DefaultMaxDelay  = 30 * time.Second
)

// Policy is an exponential backoff capped at Max
type Policy struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultPolicy returns the 1s/30s policy
func DefaultPolicy() Policy {
	return Policy{Base: DefaultBaseDelay, Max: DefaultMaxDelay}
}

// Delay returns min(Base*2^attempt, Max). attempt is zero-based.
func (p Policy) Delay(attempt int) time.Duration {
	base, max := p.Base, p.Max
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if max <= 0 {
		max = DefaultMaxDelay
	}
	if base >= max {
		return max
	}
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	return d
}

// sleep waits for d or until ctx is done, whichever comes first
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
