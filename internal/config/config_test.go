package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(New(""))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 10*time.Second, cfg.Discovery.Interval)
	assert.Equal(t, 3, cfg.Discovery.LostAfter)
	assert.Equal(t, 50*time.Millisecond, cfg.Update.RateFloor)
	assert.Equal(t, time.Second, cfg.Update.RestoreTransition)
	assert.True(t, cfg.Update.RestoreOnExit)
	assert.Equal(t, "json", cfg.Store.Driver)
	assert.False(t, cfg.MQTT.Enabled)
	assert.Equal(t, ":7420", cfg.API.Listen)
	assert.True(t, cfg.MDNS.Enabled)
}

func TestFileEnvAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lifxsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
discovery:
  interval: 30s
  lost_after: 5
update:
  rate_floor: 100ms
store:
  driver: sqlite
  path: /var/lib/lifxsync/devices.db
mqtt:
  enabled: true
  broker: tcp://broker:1883
`), 0644))
	t.Setenv("LIFXSYNC_LOG_LEVEL", "debug")
	t.Setenv("LIFXSYNC_STORE_DRIVER", "json")

	v := New(path)
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("api.listen", "", "")
	flags.Bool("verbose", false, "")
	require.NoError(t, flags.Parse([]string{"--api.listen=127.0.0.1:9000"}))
	require.NoError(t, BindFlags(v, flags))

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Discovery.Interval)
	assert.Equal(t, 5, cfg.Discovery.LostAfter)
	assert.Equal(t, 100*time.Millisecond, cfg.Update.RateFloor)
	assert.Equal(t, "json", cfg.Store.Driver, "environment beats the file")
	assert.Equal(t, "/var/lib/lifxsync/devices.db", cfg.Store.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, "127.0.0.1:9000", cfg.API.Listen)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lifxsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  driver: bolt
discovery:
  lost_after: 0
`), 0644))

	_, err := Load(New(path))
	require.Error(t, err)
	assert.ErrorContains(t, err, "store.driver")
	assert.ErrorContains(t, err, "discovery.lost_after")
}

func TestLoadAcceptsEveryStoreDriver(t *testing.T) {
	for _, driver := range []string{"json", "sqlite", "sqlite3"} {
		t.Run(driver, func(t *testing.T) {
			t.Setenv("LIFXSYNC_STORE_DRIVER", driver)
			cfg, err := Load(New(""))
			require.NoError(t, err)
			assert.Equal(t, driver, cfg.Store.Driver)
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(New(filepath.Join(t.TempDir(), "absent.yaml")))
	assert.Error(t, err)
}
