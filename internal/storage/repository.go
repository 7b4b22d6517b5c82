// Package storage journals expense activity in SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"

	"familybudget/internal/log"

	_ "modernc.org/sqlite"
)

const activityTable = "expense_activity"

// validOperations mirrors the CHECK constraint on expense_activity.operation.
var validOperations = map[string]bool{"create": true, "update": true, "delete": true}

// ErrInvalidActivity is returned for entries that cannot be journaled.
var ErrInvalidActivity = errors.New("invalid activity entry")

// Activity is one journaled expense change.
type Activity struct {
	EventID    string
	Operation  string
	ExpenseID  string
	Status     int
	OccurredAt time.Time
	RecordedAt time.Time
}

type SQLiteRepository struct {
	db     *sql.DB
	logger *log.Logger
	now    func() time.Time
}

// NewSQLiteRepository opens (creating if needed) the database at dbPath and
// applies pending migrations.
func NewSQLiteRepository(dbPath string, logger *log.Logger) (*SQLiteRepository, error) {
	if logger == nil {
		logger = log.Discard()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := RunMigrations(dbPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	logger = logger.WithComponent(log.ComponentStorage)
	logger.Info("Activity journal ready", "path", dbPath, "schema_version", version)

	return &SQLiteRepository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Record stores an activity entry. Recording the same event id twice is not
// an error; the second call reports inserted=false.
func (r *SQLiteRepository) Record(ctx context.Context, a Activity) (inserted bool, err error) {
	if a.EventID == "" || a.Operation == "" {
		return false, fmt.Errorf("%w: event id and operation are required", ErrInvalidActivity)
	}
	if !validOperations[a.Operation] {
		return false, fmt.Errorf("%w: unknown operation %q", ErrInvalidActivity, a.Operation)
	}

	// Only a repeated event id is ignored; other constraint failures are errors.
	query, args, err := sq.Insert(activityTable).
		Columns("event_id", "operation", "expense_id", "status", "occurred_at", "recorded_at").
		Values(a.EventID, a.Operation, a.ExpenseID, a.Status, a.OccurredAt.UTC(), r.now().UTC()).
		Suffix("ON CONFLICT(event_id) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("insert activity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	if n == 0 {
		r.logger.DebugContext(ctx, "Activity already journaled", log.FieldEventID, a.EventID)
		return false, nil
	}
	r.logger.InfoContext(ctx, "Activity journaled",
		log.FieldEventID, a.EventID,
		log.FieldOperation, a.Operation,
		log.FieldExpenseID, a.ExpenseID)
	return true, nil
}

// Recent returns the latest entries, newest first.
func (r *SQLiteRepository) Recent(ctx context.Context, limit int) ([]Activity, error) {
	if limit <= 0 {
		limit = 50
	}
	query, args, err := sq.Select("event_id", "operation", "expense_id", "status", "occurred_at", "recorded_at").
		From(activityTable).
		OrderBy("occurred_at DESC", "recorded_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.EventID, &a.Operation, &a.ExpenseID, &a.Status, &a.OccurredAt, &a.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// History returns every entry for one expense, oldest first.
func (r *SQLiteRepository) History(ctx context.Context, expenseID string) ([]Activity, error) {
	query, args, err := sq.Select("event_id", "operation", "expense_id", "status", "occurred_at", "recorded_at").
		From(activityTable).
		Where(sq.Eq{"expense_id": expenseID}).
		OrderBy("occurred_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.EventID, &a.Operation, &a.ExpenseID, &a.Status, &a.OccurredAt, &a.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountByOperation tallies journaled entries per operation.
func (r *SQLiteRepository) CountByOperation(ctx context.Context) (map[string]int64, error) {
	query, args, err := sq.Select("operation", "COUNT(*)").
		From(activityTable).
		GroupBy("operation").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build count: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count activity: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var op string
		var n int64
		if err := rows.Scan(&op, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[op] = n
	}
	return counts, rows.Err()
}
