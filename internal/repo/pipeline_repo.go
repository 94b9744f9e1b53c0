package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Pipelines/internal/domain"
)

// PipelineRepo — репозиторий для pipelines и pipeline runs.
type PipelineRepo struct {
	pool *pgxpool.Pool
}

// NewPipelineRepo создаёт новый PipelineRepo.
func NewPipelineRepo(pool *pgxpool.Pool) *PipelineRepo {
	return &PipelineRepo{pool: pool}
}

// CreatePipeline сохраняет шаблон pipeline.
func (r *PipelineRepo) CreatePipeline(ctx context.Context, p *domain.Pipeline) error {
	opsJSON, err := json.Marshal(p.Operations)
	if err != nil {
		return fmt.Errorf("marshal operations: %w", err)
	}

	query := `
		INSERT INTO pipelines (id, name, concurrency, operations, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = r.pool.Exec(ctx, query, p.ID, p.Name, p.Concurrency, opsJSON, p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: pipeline %s", ErrAlreadyExists, p.ID)
		}
		return fmt.Errorf("insert pipeline: %w", err)
	}
	return nil
}

// GetPipeline возвращает pipeline по ID.
func (r *PipelineRepo) GetPipeline(ctx context.Context, id uuid.UUID) (*domain.Pipeline, error) {
	query := `
		SELECT id, name, concurrency, operations, created_at
		FROM pipelines
		WHERE id = $1
	`
	var p domain.Pipeline
	var opsJSON []byte

	err := r.pool.QueryRow(ctx, query, id).Scan(&p.ID, &p.Name, &p.Concurrency, &opsJSON, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan pipeline: %w", err)
	}

	if err := json.Unmarshal(opsJSON, &p.Operations); err != nil {
		return nil, fmt.Errorf("unmarshal operations: %w", err)
	}
	return &p, nil
}

// CreatePipelineRun создаёт run со статусом CREATED и по одному operation run
// на каждую операцию pipeline. Всё пишется в одной транзакции.
func (r *PipelineRepo) CreatePipelineRun(ctx context.Context, p *domain.Pipeline) (*domain.PipelineRun, []domain.OperationRun, error) {
	run, ops := domain.NewPipelineRun(p, time.Now().UTC())

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// 1. Сам run
	_, err = tx.Exec(ctx, `
		INSERT INTO pipeline_runs (id, pipeline_id, status, concurrency, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, run.ID, run.PipelineID, run.Status, run.Concurrency, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("insert pipeline run: %w", err)
	}
	if err := insertPipelineStatus(ctx, tx, run.ID, run.History[0]); err != nil {
		return nil, nil, err
	}

	// 2. Operation runs в порядке определения
	for i := range ops {
		op := &ops[i]
		opJSON, err := json.Marshal(op.Operation)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal operation %s: %w", op.Name(), err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO operation_runs (id, pipeline_run_id, position, operation, status, retry_count, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, op.ID, op.PipelineRunID, i, opJSON, op.Status, op.RetryCount, op.CreatedAt, op.UpdatedAt)
		if err != nil {
			return nil, nil, fmt.Errorf("insert operation run %s: %w", op.Name(), err)
		}
		if err := insertOperationStatus(ctx, tx, op.ID, op.History[0]); err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}
	return run, ops, nil
}

// GetPipelineRun возвращает pipeline run по ID вместе с историей статусов.
func (r *PipelineRepo) GetPipelineRun(ctx context.Context, id uuid.UUID) (*domain.PipelineRun, error) {
	query := `
		SELECT id, pipeline_id, status, concurrency, created_at, updated_at
		FROM pipeline_runs
		WHERE id = $1
	`
	run, err := scanPipelineRun(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT status, message, created_at
		FROM pipeline_run_statuses
		WHERE pipeline_run_id = $1
		ORDER BY id ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list pipeline run statuses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entry domain.StatusEntry[domain.PipelineStatus]
		if err := rows.Scan(&entry.Status, &entry.Message, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pipeline run status: %w", err)
		}
		run.History = append(run.History, entry)
	}
	return run, rows.Err()
}

// ListActivePipelineRuns возвращает нетерминальные pipeline runs после курсора
// after, старые первыми. Порядок — (created_at, id).
func (r *PipelineRepo) ListActivePipelineRuns(ctx context.Context, after domain.RunCursor, limit int) ([]domain.PipelineRun, error) {
	active := []string{
		string(domain.PipelineStatusCreated),
		string(domain.PipelineStatusRunning),
		string(domain.PipelineStatusStopping),
	}

	where := "status = ANY($1)"
	args := []any{active}
	if !after.IsZero() {
		where += " AND (created_at, id) > ($2, $3)"
		args = append(args, after.CreatedAt, after.ID)
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT id, pipeline_id, status, concurrency, created_at, updated_at
		FROM pipeline_runs
		WHERE %s
		ORDER BY created_at ASC, id ASC
		LIMIT $%d
	`, where, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list active pipeline runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.PipelineRun
	for rows.Next() {
		run, err := scanPipelineRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// SetPipelineRunStatus атомарно добавляет статус в историю pipeline run.
//
// Возвращает false, если статус не изменился: он равен текущему или
// переход нарушает монотонность.
func (r *PipelineRepo) SetPipelineRunStatus(ctx context.Context, id uuid.UUID, status domain.PipelineStatus, message string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	run, err := scanPipelineRun(tx.QueryRow(ctx, `
		SELECT id, pipeline_id, status, concurrency, created_at, updated_at
		FROM pipeline_runs
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return false, err
	}

	if !run.Transition(status, message, time.Now().UTC()) {
		return false, nil
	}

	if _, err := tx.Exec(ctx, `UPDATE pipeline_runs SET status = $2, updated_at = $3 WHERE id = $1`,
		run.ID, run.Status, run.UpdatedAt); err != nil {
		return false, fmt.Errorf("update pipeline run: %w", err)
	}
	if err := insertPipelineStatus(ctx, tx, run.ID, run.History[len(run.History)-1]); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// --- Helpers ---

// scanPipelineRun сканирует одну строку в PipelineRun.
func scanPipelineRun(row pgx.Row) (*domain.PipelineRun, error) {
	var run domain.PipelineRun
	err := row.Scan(
		&run.ID,
		&run.PipelineID,
		&run.Status,
		&run.Concurrency,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan pipeline run: %w", err)
	}
	return &run, nil
}

// insertPipelineStatus добавляет запись в историю pipeline run.
func insertPipelineStatus(ctx context.Context, tx pgx.Tx, runID uuid.UUID, entry domain.StatusEntry[domain.PipelineStatus]) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO pipeline_run_statuses (pipeline_run_id, status, message, created_at)
		VALUES ($1, $2, $3, $4)
	`, runID, entry.Status, entry.Message, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert pipeline run status: %w", err)
	}
	return nil
}
