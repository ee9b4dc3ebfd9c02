package notify

import (
	"context"

	"lifxsync/internal/registry"
)

type multi []registry.Notifier

// Multi returns a Notifier that forwards to each non-nil notifier in order.
func Multi(notifiers ...registry.Notifier) registry.Notifier {
	m := make(multi, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			m = append(m, n)
		}
	}
	return m
}

func (m multi) RegistryChanged(ctx context.Context, c registry.Change) {
	for _, n := range m {
		n.RegistryChanged(ctx, c)
	}
}

func (m multi) ActiveChanged(ctx context.Context, active bool) {
	for _, n := range m {
		n.ActiveChanged(ctx, active)
	}
}
