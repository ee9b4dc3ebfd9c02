package registry

import (
	"context"
	"sync"
	"time"

	"lifxsync/internal/lights"
)

// coalescer lets at most one update cycle of its class run at a time. A
// request arriving while a cycle runs replaces the single pending slot, so
// only the latest one is replayed when the cycle finishes.
type coalescer struct {
	name string

	mu      sync.Mutex
	idle    *sync.Cond
	running bool
	closed  bool
	pending func()
}

func newCoalescer(name string) *coalescer {
	c := &coalescer{name: name}
	c.idle = sync.NewCond(&c.mu)
	return c
}

// submit starts fn in a new goroutine when the class is idle, otherwise it
// parks fn as the pending run. It returns false once the coalescer is closed.
func (c *coalescer) submit(fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if c.running {
		c.pending = fn
		return true
	}
	c.running = true
	go c.drain(fn)
	return true
}

func (c *coalescer) drain(fn func()) {
	for fn != nil {
		fn()

		c.mu.Lock()
		fn, c.pending = c.pending, nil
		if c.closed {
			fn = nil
		}
		if fn == nil {
			c.running = false
			c.idle.Broadcast()
		}
		c.mu.Unlock()
	}
}

// busy reports whether a cycle is in flight.
func (c *coalescer) busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *coalescer) wait() {
	c.mu.Lock()
	for c.running {
		c.idle.Wait()
	}
	c.mu.Unlock()
}

// close drops any pending run and refuses new ones.
func (c *coalescer) close() {
	c.mu.Lock()
	c.closed = true
	c.pending = nil
	c.mu.Unlock()
}

// RequestUpdate sets every enabled bulb in mode (or every bulb for
// lights.ModeAll) to color with the warm default temperature.
func (r *Registry) RequestUpdate(mode lights.Mode, color lights.Color, transitionMillis int) error {
	return r.request(r.color, mode, lights.ColorToHSBK(color, lights.DefaultKelvin), transitionMillis)
}

// RequestUpdateBrightness is RequestUpdate with an explicit 16-bit
// brightness and a mode dependent colour temperature. It coalesces
// independently of RequestUpdate.
func (r *Registry) RequestUpdateBrightness(mode lights.Mode, color lights.Color, brightness uint16, transitionMillis int) error {
	hsbk := lights.ColorToHSBKWithBrightness(color, brightness, lights.KelvinForMode(mode))
	return r.request(r.bright, mode, hsbk, transitionMillis)
}

func (r *Registry) request(c *coalescer, mode lights.Mode, color lights.HSBK, transitionMillis int) error {
	r.mu.RLock()
	active := r.store.len() > 0
	ctx := r.ctx
	r.mu.RUnlock()
	if !active {
		return ErrInactive
	}
	if transitionMillis < 0 {
		transitionMillis = 0
	}
	transition := time.Duration(transitionMillis) * time.Millisecond

	if !c.submit(func() { r.runCycle(ctx, c.name, mode, color, transition) }) {
		return ErrClosed
	}
	return nil
}

// runCycle dispatches color to the matching bulbs in registry order, one
// bulb per rate floor. A disabled matching bulb ends the cycle.
func (r *Registry) runCycle(ctx context.Context, class string, mode lights.Mode, color lights.HSBK, transition time.Duration) {
	log := r.log.WithValues("class", class, "mode", int(mode))

	r.mu.RLock()
	records := r.store.list()
	r.mu.RUnlock()

	sent := 0
	for _, rec := range records {
		if ctx.Err() != nil {
			return
		}

		r.mu.RLock()
		cur, ok := r.store.get(rec.Address)
		r.mu.RUnlock()
		if !ok || !cur.Mode.Matches(mode) {
			continue
		}
		if !cur.Enabled {
			log.V(1).Info("Disabled device reached, aborting cycle", "address", cur.Address, "sent", sent)
			return
		}

		err := r.throttle.Do(ctx, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
			defer cancel()
			return r.transport.SetColor(callCtx, cur.Address, color, transition)
		})
		if err != nil {
			log.Error(err, "Failed to set color", "address", cur.Address)
			continue
		}
		sent++
	}
	log.V(1).Info("Update cycle complete", "sent", sent, "color", color.String())
}
