package registry

import (
	"context"
	"time"
)

// DefaultRateFloor keeps dispatch at or below 20 messages per second.
const DefaultRateFloor = 50 * time.Millisecond

// Throttle stretches each call to at least a fixed wall-clock duration.
type Throttle struct {
	floor time.Duration
}

func NewThrottle(floor time.Duration) *Throttle {
	if floor < 0 {
		floor = 0
	}
	return &Throttle{floor: floor}
}

func (t *Throttle) Floor() time.Duration {
	return t.floor
}

// Do runs fn and returns its error once both fn has returned and the floor
// has elapsed. A cancelled ctx cuts the floor short but fn is always awaited.
func (t *Throttle) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if t.floor == 0 {
		return fn(ctx)
	}

	timer := time.NewTimer(t.floor)
	defer timer.Stop()

	err := fn(ctx)
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	return err
}
