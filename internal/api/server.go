// Package api exposes the registry over HTTP: device listing, per-device
// settings, update and restore requests, and a WebSocket feed of registry
// changes.
//
//	srv, err := api.New(api.Deps{...})
//	srv.Start(ctx, ":8080")
//	defer srv.Close()
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"lifxsync/internal/lights"
	"lifxsync/internal/notify"
	"lifxsync/internal/registry"
)

const gracefulShutdownTimeout = 5 * time.Second

// Controller is the registry surface the API drives.
type Controller interface {
	Active() bool
	ActiveCount() int
	Updating() (color, brightness bool)
	Snapshot() []registry.DeviceRecord
	Device(addr string) (registry.DeviceRecord, error)
	SetMode(ctx context.Context, addr string, mode lights.Mode) error
	SetEnabled(ctx context.Context, addr string, enabled bool) error
	RequestUpdate(mode lights.Mode, color lights.Color, transitionMillis int) error
	RequestUpdateBrightness(mode lights.Mode, color lights.Color, brightness uint16, transitionMillis int) error
	RestoreAll(ctx context.Context) error
}

type Deps struct {
	Log        logr.Logger
	Controller Controller
	// Hub feeds /events. Without one the route answers 404.
	Hub     *notify.Hub
	Version string
}

type Server struct {
	log     logr.Logger
	ctrl    Controller
	hub     *notify.Hub
	version string

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	conns    sync.WaitGroup
	closing  bool
	ctx      context.Context
	cancel   context.CancelFunc
}

func New(deps Deps) (*Server, error) {
	if deps.Controller == nil {
		return nil, errors.New("controller is required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		log:     deps.Log.WithName("api"),
		ctrl:    deps.Controller,
		hub:     deps.Hub,
		version: deps.Version,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start listens on addr and serves in the background.
func (s *Server) Start(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	s.mu.Lock()
	s.cancel()
	s.ctx, s.cancel = context.WithCancel(ctx)
	base := s.ctx
	s.listener = l
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}
	srv := s.server
	s.mu.Unlock()

	s.log.Info("API server listening", "address", l.Addr().String())
	go func() {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error(err, "API server error")
		}
	}()
	return nil
}

// Addr is the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close stops accepting requests, ends WebSocket feeds and waits for
// in-flight requests up to a short grace period.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	cancel := s.cancel
	s.closing = true
	s.mu.Unlock()

	cancel()
	s.conns.Wait()
	if srv == nil {
		return nil
	}
	ctx, done := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer done()
	return srv.Shutdown(ctx)
}

// track registers a long-lived connection with Close. It returns the server
// context, or false once the server is closing.
func (s *Server) track() (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing || s.ctx.Err() != nil {
		return nil, false
	}
	s.conns.Add(1)
	return s.ctx, true
}
