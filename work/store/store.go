// Package store persists source configuration in SQLite so sources added
// through the admin API survive restarts. Channels and guide data are
// derived state and are rebuilt from the sources on refresh, so only the
// sources themselves are stored.
package store

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"apex-live/work/logger"
	"apex-live/work/types"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store wraps the sql.DB handle.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and runs pending
// migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	logger.Info("{store - Open} database opened at %s", path)
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies embedded migration files in name order, tracking the
// applied versions in schema_migrations.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		var version int
		fmt.Sscanf(name, "%d_", &version)

		var applied int
		err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&applied)
		if err != nil {
			return fmt.Errorf("failed to check migration %d: %w", version, err)
		}
		if applied > 0 {
			continue
		}

		body, err := migrations.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(body)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", version, err)
		}
		logger.Info("{store - migrate} applied migration %s", name)
	}

	return nil
}

// LoadSources returns all stored sources ordered by id.
func (s *Store) LoadSources() ([]types.Source, error) {
	rows, err := s.db.Query(`
		SELECT id, kind, name, refresh_sec, enabled, user_agent, referer,
		       url, portal, mac, stb_lang, timezone, include_regex, exclude_regex
		FROM sources
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load sources: %w", err)
	}
	defer rows.Close()

	var sources []types.Source
	for rows.Next() {
		var src types.Source
		var kind string
		var enabled int
		err := rows.Scan(
			&src.ID, &kind, &src.Name, &src.RefreshSec, &enabled,
			&src.UserAgent, &src.Referer,
			&src.URL, &src.Portal, &src.MAC, &src.StbLang, &src.Timezone,
			&src.IncludeRegex, &src.ExcludeRegex,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		src.Kind = types.SourceKind(kind)
		src.Enabled = enabled != 0
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// GetSource returns a single source by id, or sql.ErrNoRows.
func (s *Store) GetSource(id string) (types.Source, error) {
	var src types.Source
	var kind string
	var enabled int
	err := s.db.QueryRow(`
		SELECT id, kind, name, refresh_sec, enabled, user_agent, referer,
		       url, portal, mac, stb_lang, timezone, include_regex, exclude_regex
		FROM sources WHERE id = ?
	`, id).Scan(
		&src.ID, &kind, &src.Name, &src.RefreshSec, &enabled,
		&src.UserAgent, &src.Referer,
		&src.URL, &src.Portal, &src.MAC, &src.StbLang, &src.Timezone,
		&src.IncludeRegex, &src.ExcludeRegex,
	)
	if err != nil {
		return types.Source{}, err
	}
	src.Kind = types.SourceKind(kind)
	src.Enabled = enabled != 0
	return src, nil
}

// SaveSource inserts or replaces a source.
func (s *Store) SaveSource(src types.Source) error {
	enabled := 0
	if src.Enabled {
		enabled = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO sources (
			id, kind, name, refresh_sec, enabled, user_agent, referer,
			url, portal, mac, stb_lang, timezone, include_regex, exclude_regex,
			updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			name = excluded.name,
			refresh_sec = excluded.refresh_sec,
			enabled = excluded.enabled,
			user_agent = excluded.user_agent,
			referer = excluded.referer,
			url = excluded.url,
			portal = excluded.portal,
			mac = excluded.mac,
			stb_lang = excluded.stb_lang,
			timezone = excluded.timezone,
			include_regex = excluded.include_regex,
			exclude_regex = excluded.exclude_regex,
			updated_at = CURRENT_TIMESTAMP
	`,
		src.ID, string(src.Kind), src.Name, src.RefreshSec, enabled,
		src.UserAgent, src.Referer,
		src.URL, src.Portal, src.MAC, src.StbLang, src.Timezone,
		src.IncludeRegex, src.ExcludeRegex,
	)
	if err != nil {
		return fmt.Errorf("failed to save source %s: %w", src.ID, err)
	}
	return nil
}

// DeleteSource removes a source by id. Returns true if a row was deleted.
func (s *Store) DeleteSource(id string) (bool, error) {
	res, err := s.db.Exec("DELETE FROM sources WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete source %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
