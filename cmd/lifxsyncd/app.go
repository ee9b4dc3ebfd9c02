package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"lifxsync/internal/api"
	"lifxsync/internal/config"
	"lifxsync/internal/discovery"
	"lifxsync/internal/lights"
	"lifxsync/internal/notify"
	"lifxsync/internal/registry"
	"lifxsync/internal/store"
)

// App wires the registry to its transport, persistence, notifiers and outer
// surfaces.
type App struct {
	cfg *config.Config
	log logr.Logger

	store     store.Backend
	transport *lights.LIFXTransport
	registry  *registry.Registry
	hub       *notify.Hub
	mqtt      *notify.MQTTNotifier
	api       *api.Server
	adv       *discovery.Advertiser
}

func NewApp(cfg *config.Config, log logr.Logger) *App {
	return &App{cfg: cfg, log: log}
}

// startup builds every component. Only the settings store is fatal; a broker
// that cannot be reached leaves MQTT off.
func (a *App) startup(withAPI bool) error {
	s, err := store.Open(a.log, a.cfg.Store.Driver, a.cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open settings store: %w", err)
	}
	a.store = s

	a.hub = notify.NewHub(a.log)
	notifiers := []registry.Notifier{a.hub}
	if a.cfg.MQTT.Enabled {
		n, err := notify.DialMQTT(a.log, notify.MQTTOptions{
			Broker:      a.cfg.MQTT.Broker,
			ClientID:    a.cfg.MQTT.ClientID,
			Username:    a.cfg.MQTT.Username,
			Password:    a.cfg.MQTT.Password,
			TopicPrefix: a.cfg.MQTT.TopicPrefix,
		})
		if err != nil {
			a.log.Error(err, "MQTT notifications disabled", "broker", a.cfg.MQTT.Broker)
		} else {
			a.mqtt = n
			notifiers = append(notifiers, n)
		}
	}

	a.transport = lights.NewLIFXTransport(a.log, lights.LIFXOptions{
		Interval:     a.cfg.Discovery.Interval,
		SweepTimeout: a.cfg.Discovery.SweepTimeout,
		LostAfter:    a.cfg.Discovery.LostAfter,
		Broadcast:    a.cfg.Discovery.Broadcast,
	})
	a.registry = registry.New(a.log, a.transport, a.store, notify.Multi(notifiers...),
		registry.WithRateFloor(a.cfg.Update.RateFloor),
		registry.WithRestoreTransition(a.cfg.Update.RestoreTransition),
		registry.WithCallTimeout(a.cfg.Update.CallTimeout),
	)

	if withAPI {
		a.api, err = api.New(api.Deps{
			Log:        a.log,
			Controller: a.registry,
			Hub:        a.hub,
			Version:    version(),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// run starts the registry and the API and blocks until ctx is done. A
// transport that fails to start leaves the API up with no active devices; an
// API that cannot listen ends the run.
func (a *App) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.registry.Start(ctx); err != nil {
			a.log.Error(err, "LIFX subsystem unavailable")
		}
		<-ctx.Done()
		return nil
	})

	if a.api != nil {
		g.Go(func() error {
			if err := a.api.Start(ctx, a.cfg.API.Listen); err != nil {
				return err
			}
			if a.cfg.MDNS.Enabled {
				a.advertise()
			}
			<-ctx.Done()
			return nil
		})
	}
	return g.Wait()
}

func (a *App) advertise() {
	_, portStr, err := net.SplitHostPort(a.api.Addr())
	if err != nil {
		a.log.Error(err, "mDNS advertisement skipped")
		return
	}
	port, _ := strconv.Atoi(portStr)
	adv, err := discovery.Advertise(a.log, a.cfg.MDNS.Instance, port, []string{"version=" + version()})
	if err != nil {
		a.log.Error(err, "mDNS advertisement failed")
		return
	}
	a.adv = adv
}

// restore waits for in-flight cycles, then puts every bulb back the way it
// was found. The deadline scales with the number of bulbs.
func (a *App) restore(ctx context.Context) (int, error) {
	n := a.registry.ActiveCount()
	if n == 0 {
		return 0, nil
	}
	a.registry.Wait()
	ctx, cancel := context.WithTimeout(ctx, time.Duration(n)*(a.cfg.Update.CallTimeout+a.cfg.Update.RateFloor)+time.Second)
	defer cancel()
	return n, a.registry.RestoreAll(ctx)
}

// shutdown tears components down in reverse start order.
func (a *App) shutdown() error {
	var errs []error
	if a.adv != nil {
		errs = append(errs, a.adv.Shutdown())
	}
	if a.api != nil {
		errs = append(errs, a.api.Close())
	}
	if a.registry != nil {
		errs = append(errs, a.registry.Stop())
	}
	if a.hub != nil {
		a.hub.Close()
	}
	if a.mqtt != nil {
		errs = append(errs, a.mqtt.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
