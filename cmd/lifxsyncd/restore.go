package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var restoreWait time.Duration

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Discover bulbs for a while, then put each back the way it was found",
	Long: `restore listens for bulbs during --wait, then replays the colour each one
reported when it was discovered. It is meant for undoing a run that was killed
before it could restore the bulbs itself.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		app := NewApp(cfg, log)
		defer func() {
			if err := app.shutdown(); err != nil {
				log.Error(err, "Shutdown incomplete")
			}
		}()
		if err := app.startup(false); err != nil {
			return err
		}
		if err := app.registry.Start(ctx); err != nil {
			return err
		}

		select {
		case <-time.After(restoreWait):
		case <-ctx.Done():
			return ctx.Err()
		}

		n, err := app.restore(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No LIFX bulbs found")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Restored %d bulb(s)\n", n)
		return nil
	},
}

func init() {
	restoreCmd.Flags().DurationVar(&restoreWait, "wait", 5*time.Second, "how long to listen for bulbs before restoring")
}
