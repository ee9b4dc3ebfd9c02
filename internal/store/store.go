package store

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/go-logr/logr"

	"lifxsync/internal/lights"
)

// Entry is the persisted form of one bulb's settings.
type Entry struct {
	Mode    lights.Mode `json:"mode"`
	Enabled bool        `json:"enabled"`
}

type Config struct {
	Devices map[string]Entry `json:"devices"`
}

// Store keeps device settings in a JSON file and rewrites the whole file on
// every change.
type Store struct {
	mu       sync.Mutex
	config   Config
	filePath string
}

// Backend is a settings store the registry can persist through.
type Backend interface {
	Lookup(ctx context.Context, addr string) (lights.Settings, bool, error)
	Save(ctx context.Context, addr string, s lights.Settings) error
	Devices(ctx context.Context) (map[string]Entry, error)
	Close() error
}

// Open opens the backend named by driver ("json" or "sqlite") at path. An
// empty path selects the default file under DataDir.
func Open(log logr.Logger, driver, path string) (Backend, error) {
	switch driver {
	case "", "json":
		if path == "" {
			dir, err := DataDir()
			if err != nil {
				return nil, err
			}
			path = filepath.Join(dir, "devices.json")
		}
		return OpenJSON(path)
	case "sqlite", "sqlite3":
		if path == "" {
			dir, err := DataDir()
			if err != nil {
				return nil, err
			}
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, err
			}
			path = filepath.Join(dir, "devices.db")
		}
		return OpenSQL(log, path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// OpenJSON opens the JSON store at path. A missing file is an empty store.
func OpenJSON(path string) (*Store, error) {
	s := &Store{
		filePath: path,
		config:   Config{Devices: make(map[string]Entry)},
	}
	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if s.config.Devices == nil {
		s.config.Devices = make(map[string]Entry)
	}
	return s, nil
}

func (s *Store) Path() string {
	return s.filePath
}

func (s *Store) Lookup(_ context.Context, addr string) (lights.Settings, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.config.Devices[addr]
	if !ok {
		return lights.Settings{}, false, nil
	}
	return lights.Settings{Mode: e.Mode, Enabled: e.Enabled}, true, nil
}

func (s *Store) Save(_ context.Context, addr string, settings lights.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.Devices[addr] = Entry{Mode: settings.Mode, Enabled: settings.Enabled}
	return s.saveLocked()
}

// Devices returns a copy of every stored entry.
func (s *Store) Devices(context.Context) (map[string]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.config.Devices), nil
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Unmarshal(data, &s.config)
}

// saveLocked marshals config and writes atomically. Caller must hold s.mu.
func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.config, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0755); err != nil {
		return err
	}

	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.filePath)
}

// DataDir is the per-user directory holding lifxsync state.
func DataDir() (string, error) {
	var dir string
	switch runtime.GOOS {
	case "windows":
		dir = os.Getenv("APPDATA")
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, "Library", "Application Support")
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "lifxsync"), nil
}
