package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/me/hostbridge/pkg/model"

	_ "modernc.org/sqlite"
)

// timeFormat is fixed width so stored timestamps compare correctly as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	// Every pooled connection to ":memory:" would get its own empty database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// RecordOperation inserts op or replaces the stored row with its current state.
func (s *SQLiteStore) RecordOperation(ctx context.Context, op *model.Operation) error {
	s.logger.Debug("sql", "op", "upsert", "table", "operations", "id", op.ID, "status", op.Status)

	args := op.Arguments
	if args == nil {
		args = map[string]any{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal arguments: %w", err)
	}
	var result *string
	if op.Result != nil {
		b, err := json.Marshal(op.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		r := string(b)
		result = &r
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO operations (id, kind, connection_id, status, attempts, tier, chunks, arguments, error, error_code, result, created_at, last_attempt_at, completed_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			attempts = excluded.attempts,
			tier = excluded.tier,
			chunks = excluded.chunks,
			error = excluded.error,
			error_code = excluded.error_code,
			result = excluded.result,
			last_attempt_at = excluded.last_attempt_at,
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at`,
		op.ID, string(op.Kind), op.ConnectionID, string(op.Status), op.Attempts, op.Tier, op.Chunks,
		string(argsJSON), op.Error, op.ErrorCode, result,
		op.CreatedAt.UTC().Format(timeFormat), formatTimePtr(op.LastAttemptAt), formatTimePtr(op.CompletedAt),
		time.Now().UTC().Format(timeFormat),
	)
	return err
}

const operationColumns = `id, kind, connection_id, status, attempts, tier, chunks, arguments, error, error_code, result, created_at, last_attempt_at, completed_at`

// GetOperation returns the journaled operation, or nil if it is unknown.
func (s *SQLiteStore) GetOperation(ctx context.Context, id string) (*model.Operation, error) {
	s.logger.Debug("sql", "op", "select", "table", "operations", "id", id)

	row := s.db.QueryRowContext(ctx, `SELECT `+operationColumns+` FROM operations WHERE id = ?`, id)
	op, err := scanOperation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return op, err
}

// ListOperations returns a page of operations, newest first, and the total
// number matching the filters.
func (s *SQLiteStore) ListOperations(ctx context.Context, opts model.ListOptions) ([]*model.Operation, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "operations", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	var whereClauses []string
	var countArgs []any

	if opts.Status != "" {
		whereClauses = append(whereClauses, "status = ?")
		countArgs = append(countArgs, opts.Status)
	}
	if opts.Kind != "" {
		whereClauses = append(whereClauses, "kind = ?")
		countArgs = append(countArgs, opts.Kind)
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM operations`+whereSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQuery := `SELECT ` + operationColumns + ` FROM operations` + whereSQL +
		` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	listArgs := append(countArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var ops []*model.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, 0, err
		}
		ops = append(ops, op)
	}
	return ops, total, rows.Err()
}

// CountOperations tallies journaled operations by status.
func (s *SQLiteStore) CountOperations(ctx context.Context) (model.OperationCounts, error) {
	s.logger.Debug("sql", "op", "count", "table", "operations")

	var counts model.OperationCounts
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM operations GROUP BY status`)
	if err != nil {
		return counts, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return counts, err
		}
		switch model.OperationStatus(status) {
		case model.OperationPending:
			counts.Pending = n
		case model.OperationRunning:
			counts.Running = n
		case model.OperationCompleted:
			counts.Completed = n
		case model.OperationFailed:
			counts.Failed = n
		}
	}
	return counts, rows.Err()
}

// PurgeOperations deletes terminal operations completed before the cutoff.
func (s *SQLiteStore) PurgeOperations(ctx context.Context, before time.Time) (int64, error) {
	s.logger.Debug("sql", "op", "purge", "table", "operations", "before", before)

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM operations WHERE status IN (?, ?) AND completed_at IS NOT NULL AND completed_at < ?`,
		string(model.OperationCompleted), string(model.OperationFailed),
		before.UTC().Format(timeFormat),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOperation(row scanner) (*model.Operation, error) {
	var op model.Operation
	var kind, status, argsJSON, createdAt string
	var result, lastAttemptAt, completedAt *string

	if err := row.Scan(&op.ID, &kind, &op.ConnectionID, &status, &op.Attempts, &op.Tier, &op.Chunks,
		&argsJSON, &op.Error, &op.ErrorCode, &result, &createdAt, &lastAttemptAt, &completedAt); err != nil {
		return nil, err
	}

	op.Kind = model.TaskKind(kind)
	op.Status = model.OperationStatus(status)
	if err := json.Unmarshal([]byte(argsJSON), &op.Arguments); err != nil {
		return nil, fmt.Errorf("unmarshal arguments: %w", err)
	}
	if len(op.Arguments) == 0 {
		op.Arguments = nil
	}
	if result != nil {
		if err := json.Unmarshal([]byte(*result), &op.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	op.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	op.LastAttemptAt = parseTimePtr(lastAttemptAt)
	op.CompletedAt = parseTimePtr(completedAt)
	return &op, nil
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(timeFormat)
	return &s
}

func parseTimePtr(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, *s)
	if err != nil {
		return nil
	}
	return &t
}
