package registry

import (
	"context"
	"errors"
	"fmt"
)

// RestoreAll sends every bulb back to the state captured when it was last
// discovered. It does not take part in update coalescing.
func (r *Registry) RestoreAll(ctx context.Context) error {
	r.mu.RLock()
	records := r.store.list()
	r.mu.RUnlock()

	var errs []error
	for _, rec := range records {
		state := rec.Restore
		err := r.throttle.Do(ctx, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
			defer cancel()
			return r.transport.SetColor(callCtx, rec.Address, state.Color, r.restoreTransition)
		})
		if err != nil {
			r.log.Error(err, "Failed to restore LIFX bulb", "label", state.Label, "address", rec.Address)
			errs = append(errs, fmt.Errorf("restore %s: %w", rec.Address, err))
			continue
		}
		r.log.Info("Restoring LIFX bulb", "label", state.Label, "address", rec.Address)
	}
	return errors.Join(errs...)
}
