package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"lifxsync/internal/lights"
)

type setCall struct {
	Address    string
	Color      lights.HSBK
	Transition time.Duration
	At         time.Time
}

// fakeTransport is a scriptable lights.Transport.
type fakeTransport struct {
	mu         sync.Mutex
	events     chan lights.Event
	startErr   error
	states     map[string]lights.LightState
	versionErr map[string]error
	setErr     map[string]error
	panicOn    map[string]bool
	calls      []setCall

	// startEvents are delivered from inside Start, before it returns.
	startEvents []lights.Event

	// When block is non-nil SetColor waits on it after recording the call.
	// Tests set it through hold.
	block   chan struct{}
	entered chan string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		events:     make(chan lights.Event, 64),
		states:     make(map[string]lights.LightState),
		versionErr: make(map[string]error),
		setErr:     make(map[string]error),
		panicOn:    make(map[string]bool),
		entered:    make(chan string, 64),
	}
}

func (f *fakeTransport) Start(ctx context.Context) error {
	for _, ev := range f.startEvents {
		select {
		case f.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.startErr
}

func (f *fakeTransport) Events() <-chan lights.Event { return f.events }
func (f *fakeTransport) Close() error                { return nil }

func (f *fakeTransport) GetVersion(_ context.Context, addr string) (lights.Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOn[addr] {
		panic("version probe exploded")
	}
	if err := f.versionErr[addr]; err != nil {
		return lights.Version{}, err
	}
	return lights.Version{ProductID: 27, Product: lights.ProductName(27)}, nil
}

func (f *fakeTransport) GetState(_ context.Context, addr string) (lights.LightState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[addr]
	if !ok {
		return lights.LightState{}, lights.ErrUnknownDevice
	}
	return st, nil
}

func (f *fakeTransport) SetColor(ctx context.Context, addr string, color lights.HSBK, transition time.Duration) error {
	f.mu.Lock()
	f.calls = append(f.calls, setCall{Address: addr, Color: color, Transition: transition, At: time.Now()})
	block := f.block
	err := f.setErr[addr]
	f.mu.Unlock()

	select {
	case f.entered <- addr:
	default:
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeTransport) setState(addr string, st lights.LightState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[addr] = st
}

// hold makes every following SetColor wait until the returned release func
// is called.
func (f *fakeTransport) hold() (release func()) {
	block := make(chan struct{})
	f.mu.Lock()
	f.block = block
	f.mu.Unlock()
	return func() { close(block) }
}

func (f *fakeTransport) setCalls() []setCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]setCall(nil), f.calls...)
}

func (f *fakeTransport) resetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// memPersistence is an in-memory Persistence that counts saves.
type memPersistence struct {
	mu        sync.Mutex
	settings  map[string]lights.Settings
	saves     int
	lookupErr error
}

func newMemPersistence() *memPersistence {
	return &memPersistence{settings: make(map[string]lights.Settings)}
}

func (p *memPersistence) Lookup(_ context.Context, addr string) (lights.Settings, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lookupErr != nil {
		return lights.Settings{}, false, p.lookupErr
	}
	s, ok := p.settings[addr]
	return s, ok, nil
}

func (p *memPersistence) Save(_ context.Context, addr string, s lights.Settings) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settings[addr] = s
	p.saves++
	return nil
}

func (p *memPersistence) get(addr string) (lights.Settings, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.settings[addr]
	return s, ok
}

// recordingNotifier records notifications together with the registry's
// device count at the moment each one was delivered.
type recordingNotifier struct {
	mu      sync.Mutex
	reg     *Registry
	changes []Change
	seenAt  []int
	active  []bool
}

func (n *recordingNotifier) RegistryChanged(_ context.Context, c Change) {
	count := -1
	if n.reg != nil {
		count = n.reg.ActiveCount()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, c)
	n.seenAt = append(n.seenAt, count)
}

func (n *recordingNotifier) ActiveChanged(_ context.Context, active bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.active = append(n.active, active)
}

func (n *recordingNotifier) snapshot() ([]Change, []int, []bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Change(nil), n.changes...), append([]int(nil), n.seenAt...), append([]bool(nil), n.active...)
}

type harness struct {
	reg       *Registry
	transport *fakeTransport
	persist   *memPersistence
	notifier  *recordingNotifier
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		transport: newFakeTransport(),
		persist:   newMemPersistence(),
		notifier:  &recordingNotifier{},
	}
	opts = append([]Option{WithRateFloor(0)}, opts...)
	h.reg = New(logr.Discard(), h.transport, h.persist, h.notifier, opts...)
	h.notifier.reg = h.reg
	require.NoError(t, h.reg.Start(context.Background()))
	t.Cleanup(func() { _ = h.reg.Stop() })
	return h
}

// discover announces addr and waits until it is registered.
func (h *harness) discover(t *testing.T, addr string, st lights.LightState) {
	t.Helper()
	h.transport.setState(addr, st)
	h.transport.events <- lights.Event{Type: lights.EventDiscovered, Address: addr}
	require.Eventually(t, func() bool {
		rec, err := h.reg.Device(addr)
		return err == nil && rec.Restore == st
	}, time.Second, time.Millisecond)
}

// lose announces the loss of addr and waits for it to be gone.
func (h *harness) lose(t *testing.T, addr string) {
	t.Helper()
	h.transport.events <- lights.Event{Type: lights.EventLost, Address: addr}
	require.Eventually(t, func() bool {
		_, err := h.reg.Device(addr)
		return errors.Is(err, ErrNotFound)
	}, time.Second, time.Millisecond)
}

func state(label string, hue, sat, bri uint16) lights.LightState {
	return lights.LightState{
		Label: label,
		Color: lights.HSBK{Hue: hue, Saturation: sat, Brightness: bri, Kelvin: 3500},
	}
}
