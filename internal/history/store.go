package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Entry is one processed task.
type Entry struct {
	ID          int64
	TaskID      string
	TaskType    string
	Success     bool
	Error       string
	CreatedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
}

// TypeCounts is the outcome split for one task type.
type TypeCounts struct {
	Succeeded int
	Failed    int
}

// Total returns the number of processed tasks of the type.
func (c TypeCounts) Total() int { return c.Succeeded + c.Failed }

// Stats summarizes the ledger.
type Stats struct {
	Total     int
	Succeeded int
	Failed    int
	ByType    map[string]TypeCounts
	Last      time.Time
}

// Store manages the ledger backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the ledger at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record stores entry. Recording the same task id twice keeps the first row.
func (s *Store) Record(ctx context.Context, entry Entry) error {
	if strings.TrimSpace(entry.TaskID) == "" {
		return fmt.Errorf("record history: missing task id")
	}
	completed := entry.CompletedAt
	if completed.IsZero() {
		completed = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO task_history (
            task_id, task_type, success, error, created_at, completed_at, duration_ms
        ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.TaskID,
		entry.TaskType,
		boolToInt(entry.Success),
		nullableString(entry.Error),
		nullableTime(entry.CreatedAt),
		completed.UTC().Format(timeLayout),
		entry.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("record history %s: %w", entry.TaskID, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. A limit <= 0 returns all.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	query := `SELECT id, task_id, task_type, success, error, created_at, completed_at, duration_ms
        FROM task_history ORDER BY completed_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

// Stats aggregates the ledger.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ByType: make(map[string]TypeCounts)}
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_type, success, COUNT(1), MAX(completed_at) FROM task_history GROUP BY task_type, success`)
	if err != nil {
		return Stats{}, fmt.Errorf("query history stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			taskType string
			success  int
			count    int
			last     sql.NullString
		)
		if err := rows.Scan(&taskType, &success, &count, &last); err != nil {
			return Stats{}, fmt.Errorf("scan history stats: %w", err)
		}
		stats.Total += count
		counts := stats.ByType[taskType]
		if success != 0 {
			stats.Succeeded += count
			counts.Succeeded += count
		} else {
			stats.Failed += count
			counts.Failed += count
		}
		stats.ByType[taskType] = counts
		if ts := parseTime(last); ts.After(stats.Last) {
			stats.Last = ts
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("iterate history stats: %w", err)
	}
	return stats, nil
}

// Prune deletes entries completed before cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM task_history WHERE completed_at < ?`,
		cutoff.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rows affected: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		entry     Entry
		success   int
		errText   sql.NullString
		createdAt sql.NullString
		completed sql.NullString
		duration  int64
	)
	if err := row.Scan(&entry.ID, &entry.TaskID, &entry.TaskType, &success, &errText, &createdAt, &completed, &duration); err != nil {
		return Entry{}, fmt.Errorf("scan history: %w", err)
	}
	entry.Success = success != 0
	entry.Error = errText.String
	entry.CreatedAt = parseTime(createdAt)
	entry.CompletedAt = parseTime(completed)
	entry.Duration = time.Duration(duration) * time.Millisecond
	return entry, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(value sql.NullString) time.Time {
	if !value.Valid || value.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, value.String)
	if err != nil {
		if t, err = time.Parse(time.RFC3339Nano, value.String); err != nil {
			return time.Time{}
		}
	}
	return t
}
