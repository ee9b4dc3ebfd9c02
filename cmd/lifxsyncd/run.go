package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon: discover bulbs, serve the HTTP API, publish changes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		app := NewApp(cfg, log)
		if err := app.startup(true); err != nil {
			_ = app.shutdown()
			return err
		}
		log.Info("lifxsyncd running", "version", version(), "api", cfg.API.Listen)

		err := app.run(ctx)
		log.Info("Shutting down")
		if cfg.Update.RestoreOnExit {
			if _, rerr := app.restore(context.Background()); rerr != nil {
				log.Error(rerr, "Restore on exit incomplete")
			}
		}
		if serr := app.shutdown(); serr != nil {
			log.Error(serr, "Shutdown incomplete")
		}
		return err
	},
}

func init() {
	f := runCmd.Flags()
	f.String("api.listen", ":7420", "HTTP API listen `address`")
	f.Bool("mqtt.enabled", false, "publish registry changes over MQTT")
	f.String("mqtt.broker", "tcp://localhost:1883", "MQTT broker `url`")
	f.Bool("mdns.enabled", true, "advertise the API over mDNS")
	f.Bool("update.restore_on_exit", true, "put bulbs back the way they were found when exiting")
}
