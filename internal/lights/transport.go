package lights

import (
	"context"
	"errors"
	"time"
)

// ErrUnknownDevice is returned for addresses the transport does not know,
// typically a bulb that was lost in the meantime.
var ErrUnknownDevice = errors.New("unknown device")

type EventType int

const (
	EventDiscovered EventType = iota
	EventLost
)

func (t EventType) String() string {
	switch t {
	case EventDiscovered:
		return "discovered"
	case EventLost:
		return "lost"
	default:
		return "unknown"
	}
}

// Event reports a bulb appearing on or disappearing from the network.
type Event struct {
	Type    EventType
	Address string
}

// Transport is the bulb network protocol as seen by the registry.
type Transport interface {
	// Start begins discovery. An error means the transport could not be
	// initialized and no events will follow.
	Start(ctx context.Context) error
	// Events delivers discovery and loss notifications. It is closed once the
	// transport stops.
	Events() <-chan Event
	GetVersion(ctx context.Context, addr string) (Version, error)
	GetState(ctx context.Context, addr string) (LightState, error)
	SetColor(ctx context.Context, addr string, color HSBK, transition time.Duration) error
	Close() error
}
