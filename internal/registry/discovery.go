package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/panics"

	"lifxsync/internal/lights"
)

func (r *Registry) listen(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	events := r.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.handlers.Go(func() { r.supervise(ctx, ev) })
		}
	}
}

// supervise runs the handler for ev and reports its error or panic instead
// of letting it vanish with the goroutine.
func (r *Registry) supervise(ctx context.Context, ev lights.Event) {
	var (
		pc  panics.Catcher
		err error
	)
	pc.Try(func() {
		switch ev.Type {
		case lights.EventDiscovered:
			err = r.handleDiscovered(ctx, ev.Address)
		case lights.EventLost:
			r.handleLost(ctx, ev.Address)
		default:
			err = fmt.Errorf("unhandled event type %d", ev.Type)
		}
	})
	if rec := pc.Recovered(); rec != nil {
		err = rec.AsError()
	}
	if err != nil {
		r.log.Error(err, "Device event dropped", "event", ev.Type.String(), "address", ev.Address)
	}
}

func (r *Registry) handleDiscovered(ctx context.Context, addr string) error {
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	version, err := r.transport.GetVersion(callCtx, addr)
	if err != nil {
		return fmt.Errorf("get version: %w", err)
	}
	state, err := r.transport.GetState(callCtx, addr)
	if err != nil {
		return fmt.Errorf("get state: %w", err)
	}

	settings := r.loadSettings(ctx, addr)

	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	before := r.store.len()
	added := r.store.put(DeviceRecord{
		Address:      addr,
		Label:        state.Label,
		Version:      version,
		Mode:         settings.Mode,
		Enabled:      settings.Enabled,
		Restore:      state,
		DiscoveredAt: time.Now(),
	})
	after := r.store.len()
	r.mu.Unlock()

	kind := ChangeDiscovered
	if !added {
		kind = ChangeRediscovered
	}
	r.log.Info("LIFX bulb found", "label", state.Label, "address", addr, "product", version.Product, "mode", int(settings.Mode))

	if before == 0 && after > 0 {
		r.log.Info("LIFX subsystem enabled")
		r.notifier.ActiveChanged(ctx, true)
	}
	r.notifier.RegistryChanged(ctx, Change{Kind: kind, Address: addr, Active: after})
	return nil
}

// loadSettings returns the persisted settings for addr, assigning and saving
// the defaults the first time a bulb is seen.
func (r *Registry) loadSettings(ctx context.Context, addr string) lights.Settings {
	s, ok, err := r.persist.Lookup(ctx, addr)
	if err != nil {
		r.log.Error(err, "Failed to load device settings, using defaults", "address", addr)
		return lights.DefaultSettings()
	}
	if ok && s.Mode.Valid() {
		return s
	}

	s = lights.DefaultSettings()
	if err := r.persist.Save(ctx, addr, s); err != nil {
		r.log.Error(err, "Failed to save device settings", "address", addr)
	}
	return s
}

func (r *Registry) handleLost(ctx context.Context, addr string) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	removed := r.store.remove(addr)
	after := r.store.len()
	r.mu.Unlock()

	if !removed {
		r.log.V(1).Info("Lost event for unknown device ignored", "address", addr)
		return
	}
	r.log.Info("LIFX device lost", "address", addr)

	if after == 0 {
		r.log.Info("LIFX subsystem disabled (no devices found)")
		r.notifier.ActiveChanged(ctx, false)
	}
	r.notifier.RegistryChanged(ctx, Change{Kind: ChangeLost, Address: addr, Active: after})
}
