// Package history keeps a SQLite log of finished analyses for the dashboard
// and GET /api/history. Previews are not stored.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/local/pathdesk/internal/summarizer"
)

const schema = `
CREATE TABLE IF NOT EXISTS analyses (
	id                      TEXT PRIMARY KEY,
	created_at              TIMESTAMP NOT NULL,
	filename                TEXT NOT NULL,
	file_size_bytes         INTEGER NOT NULL,
	success                 INTEGER NOT NULL,
	error_kind              TEXT NOT NULL DEFAULT '',
	error                   TEXT NOT NULL DEFAULT '',
	format                  TEXT NOT NULL DEFAULT '',
	level_count             INTEGER NOT NULL,
	chosen_level            INTEGER NOT NULL,
	preview_width           INTEGER NOT NULL DEFAULT 0,
	preview_height          INTEGER NOT NULL DEFAULT 0,
	processing_time_seconds REAL NOT NULL,
	properties              TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses(created_at);
`

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("history: analysis not found")

// Entry is one recorded analysis.
type Entry struct {
	ID                    string            `json:"id"`
	CreatedAt             time.Time         `json:"created_at"`
	Filename              string            `json:"filename"`
	FileSizeBytes         int64             `json:"file_size_bytes"`
	Success               bool              `json:"success"`
	ErrorKind             string            `json:"error_kind,omitempty"`
	Error                 string            `json:"error,omitempty"`
	Format                string            `json:"format,omitempty"`
	LevelCount            int               `json:"level_count"`
	ChosenLevel           int               `json:"chosen_level"`
	PreviewWidth          int               `json:"preview_width,omitempty"`
	PreviewHeight         int               `json:"preview_height,omitempty"`
	ProcessingTimeSeconds float64           `json:"processing_time_seconds"`
	Properties            map[string]string `json:"properties,omitempty"`
}

type DB struct {
	db   *sql.DB
	path string
}

// Open opens or creates the SQLite database at path.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer; concurrent writers would see SQLITE_BUSY
	sqlDB.SetMaxOpenConns(1)
	if _, err := sqlDB.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &DB{db: sqlDB, path: path}, nil
}

// Path returns the database file path
func (d *DB) Path() string { return d.path }

func (d *DB) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }

func (d *DB) Close() error { return d.db.Close() }

// Record stores sum under id. Recording the same id again replaces the row.
func (d *DB) Record(ctx context.Context, id string, sum summarizer.Summary) error {
	props := sum.Properties
	if props == nil {
		props = map[string]string{}
	}
	pj, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("marshal properties: %w", err)
	}
	created := sum.Timestamp
	if created.IsZero() {
		created = time.Now()
	}
	_, err = d.db.ExecContext(ctx, `
INSERT OR REPLACE INTO analyses (
	id, created_at, filename, file_size_bytes, success, error_kind, error, format,
	level_count, chosen_level, preview_width, preview_height, processing_time_seconds, properties
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, created.UTC(), sum.Filename, sum.FileSizeBytes, boolInt(sum.Success), string(sum.ErrorKind), sum.Error, sum.Format,
		sum.LevelCount, sum.ChosenLevel, sum.PreviewWidth, sum.PreviewHeight, sum.ProcessingTimeSeconds, string(pj))
	if err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}
	return nil
}

const selectCols = `id, created_at, filename, file_size_bytes, success, error_kind, error, format,
	level_count, chosen_level, preview_width, preview_height, processing_time_seconds, properties`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e       Entry
		success int
		props   string
	)
	err := row.Scan(&e.ID, &e.CreatedAt, &e.Filename, &e.FileSizeBytes, &success, &e.ErrorKind, &e.Error, &e.Format,
		&e.LevelCount, &e.ChosenLevel, &e.PreviewWidth, &e.PreviewHeight, &e.ProcessingTimeSeconds, &props)
	if err != nil {
		return Entry{}, err
	}
	e.Success = success != 0
	if props != "" && props != "{}" {
		if err := json.Unmarshal([]byte(props), &e.Properties); err != nil {
			return Entry{}, fmt.Errorf("decode properties: %w", err)
		}
	}
	return e, nil
}

// Recent returns up to limit analyses, newest first.
func (d *DB) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.db.QueryContext(ctx, `SELECT `+selectCols+` FROM analyses ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query analyses: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (d *DB) Get(ctx context.Context, id string) (Entry, error) {
	e, err := scanEntry(d.db.QueryRowContext(ctx, `SELECT `+selectCols+` FROM analyses WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("get analysis: %w", err)
	}
	return e, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
