package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/jmoiron/sqlx"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"lifxsync/internal/lights"
)

type deviceRow struct {
	Address string `db:"address"`
	Mode    int    `db:"mode"`
	Enabled bool   `db:"enabled"`
}

// SQLStore keeps device settings in a SQLite database.
type SQLStore struct {
	db  *sqlx.DB
	log logr.Logger
}

func OpenSQL(log logr.Logger, dbName string) (*SQLStore, error) {
	log = log.WithName("SQLStore")
	db, err := sqlx.Connect("sqlite3", dbName)
	if err != nil {
		log.Error(err, "Failed to connect to database", "dbName", dbName)
		return nil, fmt.Errorf("open %s: %w", dbName, err)
	}
	s := &SQLStore{db: db, log: log}
	if err := s.createTable(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) createTable() error {
	schema := `
    CREATE TABLE IF NOT EXISTS devices (
        address TEXT PRIMARY KEY,
        mode INTEGER NOT NULL,
        enabled BOOLEAN NOT NULL DEFAULT 1
    );`
	if _, err := s.db.Exec(schema); err != nil {
		s.log.Error(err, "Failed to create devices table")
		return fmt.Errorf("create devices table: %w", err)
	}
	return nil
}

func (s *SQLStore) Lookup(ctx context.Context, addr string) (lights.Settings, bool, error) {
	var row deviceRow
	err := s.db.GetContext(ctx, &row, `SELECT address, mode, enabled FROM devices WHERE address = $1`, addr)
	if errors.Is(err, sql.ErrNoRows) {
		return lights.Settings{}, false, nil
	}
	if err != nil {
		return lights.Settings{}, false, fmt.Errorf("lookup %s: %w", addr, err)
	}
	return lights.Settings{Mode: lights.Mode(row.Mode), Enabled: row.Enabled}, true, nil
}

func (s *SQLStore) Save(ctx context.Context, addr string, settings lights.Settings) error {
	query := `
    INSERT INTO devices (address, mode, enabled)
    VALUES (:address, :mode, :enabled)
    ON CONFLICT(address) DO UPDATE SET
        mode = excluded.mode,
        enabled = excluded.enabled`
	row := deviceRow{Address: addr, Mode: int(settings.Mode), Enabled: settings.Enabled}
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		s.log.Error(err, "Failed to upsert device settings", "address", addr)
		return fmt.Errorf("save %s: %w", addr, err)
	}
	return nil
}

// Devices returns every stored entry keyed by address.
func (s *SQLStore) Devices(ctx context.Context) (map[string]Entry, error) {
	var rows []deviceRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT address, mode, enabled FROM devices ORDER BY address`); err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	out := make(map[string]Entry, len(rows))
	for _, r := range rows {
		out[r.Address] = Entry{Mode: lights.Mode(r.Mode), Enabled: r.Enabled}
	}
	return out, nil
}

func (s *SQLStore) Close() error {
	s.log.Info("Closing database connection")
	return s.db.Close()
}
