package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// maxOutput bounds the captured output stored per stream.
const maxOutput = 64 * 1024

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	// every connection to :memory: is a separate database
	if cfg.Path == MemoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate",
		s.cfg.Path, s.cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Open creates, initializes and migrates a store at path.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	store, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// CreateRun inserts a run and its pending actions in one transaction.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run, actions []*ActionRecord) error {
	recipes, err := marshalList(run.Recipes)
	if err != nil {
		return err
	}
	packages, err := marshalList(run.Packages)
	if err != nil {
		return err
	}
	units, err := marshalList(run.SystemdUnits)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, plan_id, recipes, packages, systemd_units, state, action_count,
			failed_action, error, error_kind, hooks_error, started_at, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.PlanID,
		recipes,
		packages,
		units,
		run.State,
		run.ActionCount,
		run.FailedAction,
		run.Error,
		run.ErrorKind,
		run.HooksError,
		run.StartedAt,
		run.CompletedAt,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO actions (id, run_id, position, kind, recipe, step_index, target, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare action insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range actions {
		if _, err := stmt.ExecContext(ctx, a.ID, run.ID, a.Position, a.Kind, a.Recipe, a.StepIndex, a.Target, a.Status); err != nil {
			return fmt.Errorf("failed to create action %d: %w", a.Position, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// FinishRun records the terminal outcome of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, id string, summary RunSummary) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET state = ?, failed_action = ?, error = ?, error_kind = ?, hooks_error = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`,
		summary.State,
		summary.FailedAction,
		summary.Error,
		summary.ErrorKind,
		summary.HooksError,
		summary.CompletedAt.UTC(),
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return expectRow(result, "run", id)
}

const runColumns = `id, plan_id, recipes, packages, systemd_units, state, action_count,
	failed_action, error, error_kind, hooks_error, started_at, completed_at, created_at, updated_at`

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns lists runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY started_at DESC, created_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// DeleteRun deletes a run and, by cascade, its actions.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return expectRow(result, "run", id)
}

// UpdateAction records the result of an action, matched by run and position.
func (s *SQLiteStore) UpdateAction(ctx context.Context, a *ActionRecord) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE actions
		SET status = ?, exit_code = ?, stdout = ?, stderr = ?, error = ?, started_at = ?, duration_ms = ?
		WHERE run_id = ? AND position = ?
	`,
		a.Status,
		a.ExitCode,
		truncate(a.Stdout),
		truncate(a.Stderr),
		a.Error,
		a.StartedAt,
		a.DurationMS,
		a.RunID,
		a.Position,
	)
	if err != nil {
		return fmt.Errorf("failed to update action: %w", err)
	}
	return expectRow(result, "action", fmt.Sprintf("%s/%d", a.RunID, a.Position))
}

// ListActionsByRun lists the actions of a run in plan order.
func (s *SQLiteStore) ListActionsByRun(ctx context.Context, runID string) ([]*ActionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, position, kind, recipe, step_index, target, status,
			exit_code, stdout, stderr, error, started_at, duration_ms
		FROM actions
		WHERE run_id = ?
		ORDER BY position
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	defer rows.Close()

	actions := []*ActionRecord{}
	for rows.Next() {
		a := &ActionRecord{}
		var exitCode sql.NullInt64
		var errMsg sql.NullString
		var startedAt sql.NullTime
		if err := rows.Scan(
			&a.ID, &a.RunID, &a.Position, &a.Kind, &a.Recipe, &a.StepIndex, &a.Target, &a.Status,
			&exitCode, &a.Stdout, &a.Stderr, &errMsg, &startedAt, &a.DurationMS,
		); err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			a.ExitCode = &code
		}
		a.Error = nullString(errMsg)
		a.StartedAt = nullTime(startedAt)
		actions = append(actions, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating actions: %w", err)
	}
	return actions, nil
}

// AppendEvent appends an event to the log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO events (event_id, run_id, action_id, type, source, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.EventID,
		event.RunID,
		event.ActionID,
		event.Type,
		event.Source,
		event.Level,
		event.Message,
		event.Details,
		event.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}
	event.ID = id

	return nil
}

// GetEvents retrieves events in insertion order, optionally filtered by run
// and level.
func (s *SQLiteStore) GetEvents(ctx context.Context, runID *string, level *EventLevel, limit, offset int) ([]*Event, error) {
	var where []string
	var args []interface{}
	if runID != nil {
		where = append(where, "run_id = ?")
		args = append(args, *runID)
	}
	if level != nil {
		where = append(where, "level = ?")
		args = append(args, *level)
	}

	query := `SELECT id, event_id, run_id, action_id, type, source, level, message, details, timestamp FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		e := &Event{}
		var run, action, details sql.NullString
		if err := rows.Scan(&e.ID, &e.EventID, &run, &action, &e.Type, &e.Source, &e.Level, &e.Message, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.RunID = nullString(run)
		e.ActionID = nullString(action)
		e.Details = nullString(details)
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var recipes, packages, units string
	var failedAction sql.NullInt64
	var errMsg, errKind, hooksErr sql.NullString
	var completedAt sql.NullTime

	if err := row.Scan(
		&run.ID,
		&run.PlanID,
		&recipes,
		&packages,
		&units,
		&run.State,
		&run.ActionCount,
		&failedAction,
		&errMsg,
		&errKind,
		&hooksErr,
		&run.StartedAt,
		&completedAt,
		&run.CreatedAt,
		&run.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(recipes), &run.Recipes); err != nil {
		return nil, fmt.Errorf("invalid recipes column: %w", err)
	}
	if err := json.Unmarshal([]byte(packages), &run.Packages); err != nil {
		return nil, fmt.Errorf("invalid packages column: %w", err)
	}
	if err := json.Unmarshal([]byte(units), &run.SystemdUnits); err != nil {
		return nil, fmt.Errorf("invalid systemd_units column: %w", err)
	}
	if failedAction.Valid {
		idx := int(failedAction.Int64)
		run.FailedAction = &idx
	}
	run.Error = nullString(errMsg)
	run.ErrorKind = nullString(errKind)
	run.HooksError = nullString(hooksErr)
	run.CompletedAt = nullTime(completedAt)
	return run, nil
}

func marshalList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("failed to encode list: %w", err)
	}
	return string(b), nil
}

func expectRow(result sql.Result, what, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func truncate(s string) string {
	if len(s) <= maxOutput {
		return s
	}
	return s[:maxOutput] + "\n[truncated]"
}
