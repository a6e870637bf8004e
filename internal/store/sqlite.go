package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/sprintpilot/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single connection
	// serializes all DB access through Go's connection pool, preventing
	// "database is locked" errors from concurrent HTTP requests.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	// Create migrations tracking table
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	// Sort by filename
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		// Check if already applied
		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ErrNotFound is returned when a dispatch id does not exist.
var ErrNotFound = errors.New("not found")

const dispatchColumns = `id, issue_key, agent, command, work_dir, terminal, label, branch, base_commit, status, error, started_at, ended_at`

// --- Dispatches ---

func (s *SQLiteStore) CreateDispatch(ctx context.Context, d *models.Dispatch) error {
	if d.ID == "" {
		d.ID = newULID()
	}
	if d.StartedAt.IsZero() {
		d.StartedAt = time.Now().UTC()
	}
	if d.Status == "" {
		d.Status = models.DispatchStatusLaunched
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dispatches (`+dispatchColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.IssueKey, d.Agent, d.Command, d.WorkDir, d.Terminal, d.Label,
		d.Branch, d.BaseCommit, string(d.Status), d.Error, d.StartedAt, d.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("create dispatch: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetDispatch(ctx context.Context, id string) (*models.Dispatch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+dispatchColumns+` FROM dispatches WHERE id = ?`, id)
	d, err := scanDispatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dispatch %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get dispatch: %w", err)
	}
	return d, nil
}

func (s *SQLiteStore) ListDispatches(ctx context.Context, filter DispatchFilter) ([]*models.Dispatch, error) {
	query := `SELECT ` + dispatchColumns + ` FROM dispatches WHERE 1=1`
	var args []any

	if filter.IssueKey != "" {
		query += " AND issue_key = ?"
		args = append(args, filter.IssueKey)
	}
	if filter.WorkDir != "" {
		query += " AND work_dir = ?"
		args = append(args, filter.WorkDir)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += " AND status IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY started_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list dispatches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Dispatch
	for rows.Next() {
		d, err := scanDispatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dispatch: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateDispatch(ctx context.Context, d *models.Dispatch) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE dispatches SET status=?, error=?, branch=?, base_commit=?, ended_at=? WHERE id=?`,
		string(d.Status), d.Error, d.Branch, d.BaseCommit, d.EndedAt, d.ID,
	)
	if err != nil {
		return fmt.Errorf("update dispatch: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("dispatch %s: %w", d.ID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) DeleteDispatch(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM dispatches WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete dispatch: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("dispatch %s: %w", id, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDispatch(r rowScanner) (*models.Dispatch, error) {
	d := &models.Dispatch{}
	var status string
	var endedAt sql.NullTime
	if err := r.Scan(&d.ID, &d.IssueKey, &d.Agent, &d.Command, &d.WorkDir,
		&d.Terminal, &d.Label, &d.Branch, &d.BaseCommit, &status, &d.Error,
		&d.StartedAt, &endedAt); err != nil {
		return nil, err
	}
	d.Status = models.DispatchStatus(status)
	if endedAt.Valid {
		d.EndedAt = &endedAt.Time
	}
	return d, nil
}
