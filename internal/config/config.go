// Package config loads lifxsync settings from lifxsync.yaml, LIFXSYNC_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	EnvPrefix  = "LIFXSYNC"
	ConfigName = "lifxsync"
)

type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Update    UpdateConfig    `mapstructure:"update"`
	Store     StoreConfig     `mapstructure:"store"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	API       APIConfig       `mapstructure:"api"`
	MDNS      MDNSConfig      `mapstructure:"mdns"`
}

type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // auto, console or json
	File   string `mapstructure:"file"`
}

type DiscoveryConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	SweepTimeout time.Duration `mapstructure:"sweep_timeout"`
	// LostAfter is the number of consecutive sweeps a bulb may miss.
	LostAfter int    `mapstructure:"lost_after"`
	Broadcast string `mapstructure:"broadcast"`
}

type UpdateConfig struct {
	RateFloor         time.Duration `mapstructure:"rate_floor"`
	RestoreTransition time.Duration `mapstructure:"restore_transition"`
	CallTimeout       time.Duration `mapstructure:"call_timeout"`
	RestoreOnExit     bool          `mapstructure:"restore_on_exit"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

type APIConfig struct {
	Listen string `mapstructure:"listen"`
}

type MDNSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Instance string `mapstructure:"instance"`
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")
	v.SetDefault("log.file", "")

	v.SetDefault("discovery.interval", 10*time.Second)
	v.SetDefault("discovery.sweep_timeout", 3*time.Second)
	v.SetDefault("discovery.lost_after", 3)
	v.SetDefault("discovery.broadcast", "")

	v.SetDefault("update.rate_floor", 50*time.Millisecond)
	v.SetDefault("update.restore_transition", time.Second)
	v.SetDefault("update.call_timeout", 2*time.Second)
	v.SetDefault("update.restore_on_exit", true)

	v.SetDefault("store.driver", "json")
	v.SetDefault("store.path", "")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "lifxsync")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", "lifxsync")

	v.SetDefault("api.listen", ":7420")

	v.SetDefault("mdns.enabled", true)
	v.SetDefault("mdns.instance", "")
}

// New returns a viper instance with defaults, environment binding and the
// config search path set up. file overrides the search when non-empty.
func New(file string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/lifxsync")
	}
	return v
}

// Load reads the config file (a missing file in the search path is fine),
// then decodes and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// BindFlags binds the flags that have a config key of the same dotted name,
// e.g. --api.listen.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if err != nil || !strings.Contains(f.Name, ".") {
			return
		}
		err = v.BindPFlag(f.Name, f)
	})
	return err
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "json", "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver))
	}
	switch c.Log.Format {
	case "auto", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	if c.Discovery.Interval <= 0 {
		errs = append(errs, errors.New("discovery.interval must be positive"))
	}
	if c.Discovery.LostAfter < 1 {
		errs = append(errs, errors.New("discovery.lost_after must be at least 1"))
	}
	if c.Update.CallTimeout <= 0 {
		errs = append(errs, errors.New("update.call_timeout must be positive"))
	}
	if c.Update.RateFloor < 0 {
		errs = append(errs, errors.New("update.rate_floor must not be negative"))
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
	}
	return errors.Join(errs...)
}
