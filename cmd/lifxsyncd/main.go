package main

import (
	"fmt"
	"io"
	"os"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"lifxsync/internal/config"
	"lifxsync/internal/logging"
)

var (
	configFile string

	v         *viper.Viper
	cfg       *config.Config
	log       logr.Logger
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:           "lifxsyncd",
	Short:         "Keep LIFX bulbs in sync with the rest of the lighting setup",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		v = config.New(configFile)
		if err := config.BindFlags(v, cmd.Flags()); err != nil {
			return err
		}
		var err error
		cfg, err = config.Load(v)
		if err != nil {
			return err
		}
		log, logCloser, err = logging.New(logging.Options{
			Level:  cfg.Log.Level,
			Format: cfg.Log.Format,
			File:   cfg.Log.File,
		})
		if err != nil {
			return err
		}
		log.V(1).Info("Configuration loaded", "file", v.ConfigFileUsed())
		return nil
	},
	PersistentPostRunE: func(*cobra.Command, []string) error {
		if logCloser != nil {
			return logCloser.Close()
		}
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "", "config `file` (default: lifxsync.yaml in . or $HOME/.config/lifxsync)")
	pf.String("log.level", "info", "log level: debug, info, warn, error")
	pf.String("log.format", "auto", "log format: auto, console, json")
	pf.String("log.file", "", "write logs to a rotating `file`")
	pf.String("store.driver", "json", "settings store: json or sqlite")
	pf.String("store.path", "", "settings store `path`")

	rootCmd.AddCommand(runCmd, restoreCmd, devicesCmd, peersCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
