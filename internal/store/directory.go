// Package store persists the participant directory that maps meeting
// participant names to chat user ids.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zhouzirui/meeting-copilot/backend/internal/service/notify"
)

// ErrMappingNotFound is returned by Delete when the name is unknown.
var ErrMappingNotFound = errors.New("user mapping not found")

// Mapping is one directory row.
type Mapping struct {
	DisplayName string
	ChatUserID  string
	UpdatedAt   time.Time
}

// SQLiteDirectory implements notify.Directory on SQLite.
type SQLiteDirectory struct {
	db *sql.DB
}

var _ notify.Directory = (*SQLiteDirectory)(nil)

// NewSQLiteDirectory opens (or creates) the directory database.
func NewSQLiteDirectory(dbPath string) (*SQLiteDirectory, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	d := &SQLiteDirectory{db: db}
	if err := d.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return d, nil
}

func (d *SQLiteDirectory) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS chat_user_mappings (
		name_key TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		chat_user_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := d.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (d *SQLiteDirectory) Close() error {
	return d.db.Close()
}

// Lookup implements notify.Directory.
func (d *SQLiteDirectory) Lookup(ctx context.Context, names []string) (map[string]string, error) {
	found := make(map[string]string, len(names))
	if len(names) == 0 {
		return found, nil
	}

	keys := make(map[string][]string, len(names))
	args := make([]any, 0, len(names))
	for _, name := range names {
		key := notify.NormalizeName(name)
		if key == "" {
			continue
		}
		if _, seen := keys[key]; !seen {
			args = append(args, key)
		}
		keys[key] = append(keys[key], name)
	}
	if len(args) == 0 {
		return found, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(args)), ",")
	rows, err := d.db.QueryContext(ctx,
		`SELECT name_key, chat_user_id FROM chat_user_mappings WHERE name_key IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("query mappings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, userID string
		if err := rows.Scan(&key, &userID); err != nil {
			return nil, fmt.Errorf("scan mapping row: %w", err)
		}
		for _, name := range keys[key] {
			found[name] = userID
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mappings: %w", err)
	}
	return found, nil
}

// Upsert creates or replaces the mapping for name.
func (d *SQLiteDirectory) Upsert(ctx context.Context, name, chatUserID string) error {
	key := notify.NormalizeName(name)
	if key == "" || strings.TrimSpace(chatUserID) == "" {
		return fmt.Errorf("name and chat user id are required")
	}
	now := time.Now().Unix()
	_, err := d.db.ExecContext(ctx, `
	INSERT INTO chat_user_mappings (name_key, display_name, chat_user_id, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(name_key) DO UPDATE SET
		display_name = excluded.display_name,
		chat_user_id = excluded.chat_user_id,
		updated_at = excluded.updated_at`,
		key, strings.TrimSpace(name), strings.TrimSpace(chatUserID), now, now)
	if err != nil {
		return fmt.Errorf("upsert mapping: %w", err)
	}
	return nil
}

// Delete removes the mapping for name.
func (d *SQLiteDirectory) Delete(ctx context.Context, name string) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM chat_user_mappings WHERE name_key = ?`, notify.NormalizeName(name))
	if err != nil {
		return fmt.Errorf("delete mapping: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrMappingNotFound
	}
	return nil
}

// List returns every mapping ordered by display name.
func (d *SQLiteDirectory) List(ctx context.Context) ([]Mapping, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT display_name, chat_user_id, updated_at FROM chat_user_mappings ORDER BY display_name`)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	defer rows.Close()

	var mappings []Mapping
	for rows.Next() {
		var (
			m         Mapping
			updatedAt int64
		)
		if err := rows.Scan(&m.DisplayName, &m.ChatUserID, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan mapping row: %w", err)
		}
		m.UpdatedAt = time.Unix(updatedAt, 0)
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}
