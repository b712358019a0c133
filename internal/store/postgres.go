package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/nadmax/imagegen/internal/task"
)

const uniqueViolation = "23505"

const schema = `
	CREATE TABLE IF NOT EXISTS image_generation_tasks (
		id              TEXT PRIMARY KEY,
		seq             BIGSERIAL,
		task_id         VARCHAR(255) UNIQUE,
		prompt          TEXT NOT NULL,
		aspect_ratio    VARCHAR(10) NOT NULL DEFAULT '1:1',
		status          VARCHAR(20) NOT NULL DEFAULT 'waiting',
		result_urls     JSONB,
		failure_code    VARCHAR(50),
		failure_message TEXT,
		cost_time       BIGINT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		completed_at    TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS idx_image_generation_tasks_created
		ON image_generation_tasks (created_at DESC, seq DESC);
`

const selectColumns = `
	id, COALESCE(task_id, ''), prompt, aspect_ratio, status, result_urls,
	COALESCE(failure_code, ''), COALESCE(failure_message, ''), cost_time,
	created_at, updated_at, completed_at
`

// PostgresStore persists tasks in the image_generation_tasks table.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(connectionString string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresStore{db: db, now: time.Now}, nil
}

func (s *PostgresStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, prompt string, ratio task.AspectRatio) (*task.Task, error) {
	t := task.NewTask(prompt, ratio, s.now())

	query := `
		INSERT INTO image_generation_tasks (
			id, prompt, aspect_ratio, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query, t.ID, t.Prompt, t.AspectRatio, t.Status, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert task: %w", err)
	}

	return t, nil
}

func (s *PostgresStore) AttachProviderID(ctx context.Context, id, providerTaskID string) (*task.Task, error) {
	if providerTaskID == "" {
		return nil, ErrEmptyProviderID
	}

	query := `
		UPDATE image_generation_tasks
		SET task_id = $2, updated_at = $3
		WHERE id = $1 AND (task_id IS NULL OR task_id = $2)
	`
	res, err := s.db.ExecContext(ctx, query, id, providerTaskID, s.now())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, fmt.Errorf("%w: %s", task.ErrProviderIDTaken, providerTaskID)
		}
		return nil, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}

	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: task %s already has provider id %s", task.ErrProviderIDTaken, id, t.ProviderTaskID)
	}

	return t, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*task.Task, error) {
	query := `SELECT ` + selectColumns + ` FROM image_generation_tasks WHERE id = $1`

	t, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", task.ErrNotFound, id)
	}

	return t, err
}

func (s *PostgresStore) GetByProviderID(ctx context.Context, providerTaskID string) (*task.Task, error) {
	query := `SELECT ` + selectColumns + ` FROM image_generation_tasks WHERE task_id = $1`

	t, err := scanTask(s.db.QueryRowContext(ctx, query, providerTaskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: provider id %s", task.ErrNotFound, providerTaskID)
	}

	return t, err
}

// Merge reads the task, applies u in memory and writes it back only if the stored
// status is still the one that was read. A lost race re-reads and tries again.
func (s *PostgresStore) Merge(ctx context.Context, id string, u task.Update) (*task.Task, error) {
	query := `
		UPDATE image_generation_tasks
		SET status = $2,
		    result_urls = $3,
		    failure_code = NULLIF($4, ''),
		    failure_message = NULLIF($5, ''),
		    cost_time = $6,
		    completed_at = $7,
		    updated_at = $8
		WHERE id = $1 AND status = $9
	`

	for range maxTxRetries {
		t, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !u.Allows(t.Status) {
			return nil, fmt.Errorf("%w: %s is %s", task.ErrStatusConflict, id, t.Status)
		}

		previous := t.Status
		t.Apply(u, s.now())

		var resultURLs any
		if t.ResultURLs != nil {
			data, err := json.Marshal(t.ResultURLs)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal result urls: %w", err)
			}
			resultURLs = string(data)
		}

		res, err := s.db.ExecContext(
			ctx,
			query,
			id,
			t.Status,
			resultURLs,
			t.FailureCode,
			t.FailureMessage,
			t.CostTime,
			t.CompletedAt,
			t.UpdatedAt,
			previous,
		)
		if err != nil {
			return nil, err
		}

		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 1 {
			return t, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrTooManyRetries, id)
}

func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]*task.Task, error) {
	limit, offset = NormalizePage(limit, offset)

	query := `SELECT ` + selectColumns + `
		FROM image_generation_tasks
		ORDER BY created_at DESC, seq DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	tasks := []*task.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}

		tasks = append(tasks, t)
	}

	return tasks, rows.Err()
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	var t task.Task
	var resultURLs []byte
	var costTime sql.NullInt64
	var completedAt sql.NullTime

	err := row.Scan(
		&t.ID,
		&t.ProviderTaskID,
		&t.Prompt,
		&t.AspectRatio,
		&t.Status,
		&resultURLs,
		&t.FailureCode,
		&t.FailureMessage,
		&costTime,
		&t.CreatedAt,
		&t.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(resultURLs) > 0 {
		if err := json.Unmarshal(resultURLs, &t.ResultURLs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result urls: %w", err)
		}
	}
	if costTime.Valid {
		t.CostTime = &costTime.Int64
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}

	return &t, nil
}
