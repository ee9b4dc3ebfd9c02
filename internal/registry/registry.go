// Package registry tracks the LIFX bulbs on the network and fans colour
// updates out to them.
//
// A Registry is built around a lights.Transport. Discovery events populate
// an in-memory record per bulb (restore snapshot, mode, enabled flag) and the
// update operations walk those records at a bounded per-device rate. Mode and
// enabled flag are persisted through a Persistence collaborator, and every
// registry mutation is reported to a Notifier.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/sourcegraph/conc"

	"lifxsync/internal/lights"
)

var (
	ErrNotFound    = errors.New("device not found")
	ErrInactive    = errors.New("no active devices")
	ErrInvalidMode = errors.New("invalid mode")
	ErrClosed      = errors.New("registry closed")
)

const (
	DefaultCallTimeout       = 2 * time.Second
	DefaultRestoreTransition = time.Second
)

// Persistence stores the per-address mode and enabled flag across restarts.
type Persistence interface {
	// Lookup returns the stored settings and whether any were found.
	Lookup(ctx context.Context, addr string) (lights.Settings, bool, error)
	Save(ctx context.Context, addr string, s lights.Settings) error
}

type ChangeKind string

const (
	ChangeDiscovered   ChangeKind = "discovered"
	ChangeRediscovered ChangeKind = "rediscovered"
	ChangeLost         ChangeKind = "lost"
	ChangeSettings     ChangeKind = "settings"
)

// Change describes one completed registry mutation.
type Change struct {
	Kind    ChangeKind `json:"kind"`
	Address string     `json:"address"`
	Active  int        `json:"active"`
}

// Notifier receives registry changes, always after the mutation is visible.
type Notifier interface {
	RegistryChanged(ctx context.Context, c Change)
	ActiveChanged(ctx context.Context, active bool)
}

type noopNotifier struct{}

func (noopNotifier) RegistryChanged(context.Context, Change) {}
func (noopNotifier) ActiveChanged(context.Context, bool)     {}

type Option func(*Registry)

func WithRateFloor(d time.Duration) Option {
	return func(r *Registry) { r.throttle = NewThrottle(d) }
}

func WithRestoreTransition(d time.Duration) Option {
	return func(r *Registry) { r.restoreTransition = d }
}

// WithCallTimeout bounds every individual transport call.
func WithCallTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.callTimeout = d
		}
	}
}

type Registry struct {
	log       logr.Logger
	transport lights.Transport
	persist   Persistence
	notifier  Notifier

	throttle          *Throttle
	callTimeout       time.Duration
	restoreTransition time.Duration

	mu      sync.RWMutex
	store   *recordStore
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	closed  bool

	// notifyMu keeps notifications in the order of the mutations they report.
	notifyMu sync.Mutex

	color  *coalescer
	bright *coalescer

	handlers   conc.WaitGroup
	listenDone chan struct{}
}

func New(log logr.Logger, transport lights.Transport, persist Persistence, notifier Notifier, opts ...Option) *Registry {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		log:               log.WithName("registry"),
		transport:         transport,
		persist:           persist,
		notifier:          notifier,
		throttle:          NewThrottle(DefaultRateFloor),
		callTimeout:       DefaultCallTimeout,
		restoreTransition: DefaultRestoreTransition,
		store:             newRecordStore(),
		ctx:               ctx,
		cancel:            cancel,
		color:             newCoalescer("color"),
		bright:            newCoalescer("brightness"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start initializes the transport and begins consuming its discovery
// events. A transport failure is returned and leaves the registry inactive.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.started {
		r.mu.Unlock()
		return errors.New("registry already started")
	}
	r.started = true
	r.cancel()
	r.ctx, r.cancel = context.WithCancel(ctx)
	ctx = r.ctx
	done := make(chan struct{})
	r.listenDone = done
	r.mu.Unlock()

	// Listen first: the transport may announce bulbs before Start returns.
	go r.listen(ctx, done)

	r.log.Info("Loading LIFX transport")
	if err := r.transport.Start(ctx); err != nil {
		r.log.Error(err, "LIFX transport failed to load, subsystem stays disabled")
		return fmt.Errorf("start transport: %w", err)
	}
	r.log.Info("LIFX transport loaded")
	return nil
}

// Stop cancels in-flight work, waits for event handlers and update cycles,
// and closes the transport.
func (r *Registry) Stop() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	cancel := r.cancel
	started := r.started
	listenDone := r.listenDone
	r.mu.Unlock()

	r.color.close()
	r.bright.close()
	cancel()

	var err error
	if started {
		err = r.transport.Close()
	}
	if listenDone != nil {
		<-listenDone
	}
	r.handlers.Wait()
	r.Wait()
	return err
}

// Wait blocks until no update cycle of either class is in flight.
func (r *Registry) Wait() {
	r.color.wait()
	r.bright.wait()
}

// ActiveCount is the number of registered bulbs.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.len()
}

// Active reports whether at least one bulb is registered.
func (r *Registry) Active() bool {
	return r.ActiveCount() > 0
}

// Updating reports whether a colour or brightness cycle is in flight.
func (r *Registry) Updating() (color, brightness bool) {
	return r.color.busy(), r.bright.busy()
}

// Snapshot returns a copy of every record in discovery order.
func (r *Registry) Snapshot() []DeviceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.list()
}

func (r *Registry) Device(addr string) (DeviceRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.store.get(addr)
	if !ok {
		return DeviceRecord{}, fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	return rec, nil
}

// SetMode assigns mode to the bulb at addr and persists it.
func (r *Registry) SetMode(ctx context.Context, addr string, mode lights.Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidMode, mode)
	}
	return r.updateSettings(ctx, addr, func(s *lights.Settings) { s.Mode = mode })
}

// SetEnabled toggles whether update cycles may address the bulb at addr.
func (r *Registry) SetEnabled(ctx context.Context, addr string, enabled bool) error {
	return r.updateSettings(ctx, addr, func(s *lights.Settings) { s.Enabled = enabled })
}

func (r *Registry) updateSettings(ctx context.Context, addr string, fn func(*lights.Settings)) error {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	var settings lights.Settings
	r.mu.Lock()
	ok := r.store.update(addr, func(rec *DeviceRecord) {
		settings = lights.Settings{Mode: rec.Mode, Enabled: rec.Enabled}
		fn(&settings)
		rec.Mode, rec.Enabled = settings.Mode, settings.Enabled
	})
	active := r.store.len()
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, addr)
	}

	if err := r.persist.Save(ctx, addr, settings); err != nil {
		return fmt.Errorf("save settings for %s: %w", addr, err)
	}
	r.log.Info("Device settings changed", "address", addr, "mode", int(settings.Mode), "enabled", settings.Enabled)
	r.notifier.RegistryChanged(ctx, Change{Kind: ChangeSettings, Address: addr, Active: active})
	return nil
}
