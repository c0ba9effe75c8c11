package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
)

// InMemory as the data directory keeps the history in a private in-memory
// database that disappears on Close.
const InMemory = ":memory:"

const historyFile = "fluxmcp.db"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the SQLite-backed job history.
type Store struct {
	db *sql.DB
}

// Open opens the history database under dataDir, creating the directory and
// the file on first use, and upgrades its schema.
func Open(ctx context.Context, dataDir string) (*Store, error) {
	dsn, err := historyDSN(dataDir)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening job history: %w", err)
	}
	// One connection serialises writers, and keeps a :memory: database alive.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening job history: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("upgrading job history: %w", err)
	}
	return s, nil
}

func historyDSN(dataDir string) (string, error) {
	switch dataDir {
	case "":
		return "", fmt.Errorf("job history: no data directory configured")
	case InMemory:
		return InMemory, nil
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("creating data directory: %w", err)
	}
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	return "file:" + filepath.Join(dataDir, historyFile) + "?" + q.Encode(), nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type migration struct {
	version int
	name    string
}

// migrations lists the embedded scripts in version order. A script is named
// NNN_description.sql.
func migrations() ([]migration, error) {
	entries, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	out := make([]migration, 0, len(entries))
	for _, name := range entries {
		prefix, _, _ := strings.Cut(filepath.Base(name), "_")
		v, err := strconv.Atoi(prefix)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("migration %s: name must start with a positive version", name)
		}
		out = append(out, migration{version: v, name: name})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].version < out[k].version })
	return out, nil
}

// migrate applies every script newer than the database's user_version, each
// in its own transaction together with the version bump.
func (s *Store) migrate(ctx context.Context) error {
	current, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}
	all, err := migrations()
	if err != nil {
		return err
	}
	for _, m := range all {
		if m.version <= current {
			continue
		}
		script, err := migrationsFS.ReadFile(m.name)
		if err != nil {
			return err
		}
		if err := s.apply(ctx, m.version, string(script)); err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *Store) apply(ctx context.Context, version int, script string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return err
	}
	// PRAGMA arguments cannot be bound.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) schemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}
