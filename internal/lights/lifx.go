package lights

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"go.yhsif.com/lifxlan"
	"go.yhsif.com/lifxlan/light"
)

type LIFXOptions struct {
	// Interval between discovery sweeps.
	Interval time.Duration
	// SweepTimeout bounds a single discovery sweep.
	SweepTimeout time.Duration
	// LostAfter is the number of consecutive sweeps a bulb may miss before it
	// is reported lost.
	LostAfter int
	// Broadcast overrides the broadcast host, empty means the default.
	Broadcast string
}

func DefaultLIFXOptions() LIFXOptions {
	return LIFXOptions{
		Interval:     10 * time.Second,
		SweepTimeout: 3 * time.Second,
		LostAfter:    3,
	}
}

type lifxEntry struct {
	dev    light.Device
	misses int
}

// LIFXTransport implements Transport on top of the lifxlan LAN library.
// Loss is inferred from bulbs missing several discovery sweeps in a row.
type LIFXTransport struct {
	log  logr.Logger
	opts LIFXOptions

	mu      sync.RWMutex
	devices map[string]*lifxEntry

	events    chan Event
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func NewLIFXTransport(log logr.Logger, opts LIFXOptions) *LIFXTransport {
	def := DefaultLIFXOptions()
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.SweepTimeout <= 0 {
		opts.SweepTimeout = def.SweepTimeout
	}
	if opts.LostAfter <= 0 {
		opts.LostAfter = def.LostAfter
	}
	return &LIFXTransport{
		log:     log.WithName("lifx"),
		opts:    opts,
		devices: make(map[string]*lifxEntry),
		events:  make(chan Event, 32),
		done:    make(chan struct{}),
	}
}

func (t *LIFXTransport) Events() <-chan Event {
	return t.events
}

// Start runs a first sweep synchronously so socket errors surface to the
// caller, then keeps sweeping in the background.
func (t *LIFXTransport) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	found, err := t.sweep(ctx)
	if err != nil {
		cancel()
		close(t.events)
		close(t.done)
		return fmt.Errorf("lifx discovery: %w", err)
	}
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()
	t.log.Info("Discovery started", "interval", t.opts.Interval, "found", found)

	go t.loop(ctx)
	return nil
}

func (t *LIFXTransport) loop(ctx context.Context) {
	defer close(t.done)
	defer close(t.events)

	ticker := time.NewTicker(t.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.log.Info("Discovery stopped")
			return
		case <-ticker.C:
			if _, err := t.sweep(ctx); err != nil {
				t.log.Error(err, "Discovery sweep failed")
			}
		}
	}
}

func (t *LIFXTransport) sweep(ctx context.Context) (int, error) {
	sweepCtx, cancel := context.WithTimeout(ctx, t.opts.SweepTimeout)
	defer cancel()

	ch := make(chan lifxlan.Device)
	errCh := make(chan error, 1)
	go func() {
		errCh <- lifxlan.Discover(sweepCtx, ch, t.opts.Broadcast)
	}()

	seen := make(map[string]lifxlan.Device)
	for raw := range ch {
		seen[raw.Target().String()] = raw
	}
	if err := <-errCh; err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return 0, err
	}
	if ctx.Err() != nil {
		return len(seen), nil
	}

	var fresh []string
	for addr, raw := range seen {
		t.mu.RLock()
		entry, known := t.devices[addr]
		t.mu.RUnlock()
		if known {
			t.mu.Lock()
			entry.misses = 0
			t.mu.Unlock()
			continue
		}

		wrapCtx, wrapCancel := context.WithTimeout(ctx, 2*time.Second)
		ld, err := light.Wrap(wrapCtx, raw, false)
		wrapCancel()
		if err != nil {
			t.log.V(1).Info("Not a light, ignoring", "address", addr, "error", err.Error())
			continue
		}

		t.mu.Lock()
		t.devices[addr] = &lifxEntry{dev: ld}
		t.mu.Unlock()
		fresh = append(fresh, addr)
	}

	var lost []string
	t.mu.Lock()
	for addr, entry := range t.devices {
		if _, ok := seen[addr]; ok {
			continue
		}
		entry.misses++
		if entry.misses >= t.opts.LostAfter {
			delete(t.devices, addr)
			lost = append(lost, addr)
		}
	}
	t.mu.Unlock()

	for _, addr := range fresh {
		t.emit(ctx, Event{Type: EventDiscovered, Address: addr})
	}
	for _, addr := range lost {
		t.emit(ctx, Event{Type: EventLost, Address: addr})
	}
	return len(seen), nil
}

func (t *LIFXTransport) emit(ctx context.Context, ev Event) {
	select {
	case t.events <- ev:
	case <-ctx.Done():
	}
}

func (t *LIFXTransport) getLight(addr string) (light.Device, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.devices[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, addr)
	}
	return entry.dev, nil
}

func (t *LIFXTransport) GetVersion(ctx context.Context, addr string) (Version, error) {
	ld, err := t.getLight(addr)
	if err != nil {
		return Version{}, err
	}

	conn, err := ld.Dial()
	if err != nil {
		return Version{}, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if err := ld.GetHardwareVersion(ctx, conn); err != nil {
		return Version{}, fmt.Errorf("hardware version %s: %w", addr, err)
	}

	hv := ld.HardwareVersion()
	v := Version{
		ProductID: hv.ProductID,
		Product:   ProductName(hv.ProductID),
	}
	if product := hv.Parse(); product != nil {
		v.Product = product.ProductName
	}

	// Firmware is informational only.
	if err := ld.GetFirmware(ctx, conn); err == nil {
		if fw := ld.Firmware(); fw.String() != lifxlan.EmptyFirmware {
			v.Firmware = fmt.Sprintf("%d.%d", fw.Major, fw.Minor)
		}
	}
	return v, nil
}

func (t *LIFXTransport) GetState(ctx context.Context, addr string) (LightState, error) {
	ld, err := t.getLight(addr)
	if err != nil {
		return LightState{}, err
	}

	conn, err := ld.Dial()
	if err != nil {
		return LightState{}, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	color, err := ld.GetColor(ctx, conn)
	if err != nil {
		return LightState{}, fmt.Errorf("get color %s: %w", addr, err)
	}

	label := ld.Label().String()
	if label == lifxlan.EmptyLabel {
		label = fmt.Sprintf("LIFX %s", addr)
	}
	return LightState{Color: fromLIFXColor(color), Label: label}, nil
}

func (t *LIFXTransport) SetColor(ctx context.Context, addr string, color HSBK, transition time.Duration) error {
	ld, err := t.getLight(addr)
	if err != nil {
		return err
	}

	conn, err := ld.Dial()
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	c := toLIFXColor(color)
	if err := ld.SetColor(ctx, conn, &c, transition, false); err != nil {
		return fmt.Errorf("set color %s: %w", addr, err)
	}
	return nil
}

func (t *LIFXTransport) Close() error {
	t.mu.RLock()
	cancel := t.cancel
	t.mu.RUnlock()
	if cancel == nil {
		return nil
	}
	t.closeOnce.Do(cancel)
	<-t.done
	return nil
}

func toLIFXColor(c HSBK) lifxlan.Color {
	return lifxlan.Color{
		Hue:        c.Hue,
		Saturation: c.Saturation,
		Brightness: c.Brightness,
		Kelvin:     c.Kelvin,
	}
}

func fromLIFXColor(c *lifxlan.Color) HSBK {
	if c == nil {
		return HSBK{}
	}
	return HSBK{
		Hue:        c.Hue,
		Saturation: c.Saturation,
		Brightness: c.Brightness,
		Kelvin:     c.Kelvin,
	}
}
