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

// OperationRunRepo — репозиторий для operation runs.
//
// Каждый переход статуса — одна транзакция: строка operation run
// блокируется (FOR UPDATE), проверяется таблица переходов, обновляется
// текущий статус и дописывается запись истории.
type OperationRunRepo struct {
	pool *pgxpool.Pool
}

// NewOperationRunRepo создаёт новый OperationRunRepo.
func NewOperationRunRepo(pool *pgxpool.Pool) *OperationRunRepo {
	return &OperationRunRepo{pool: pool}
}

const operationRunColumns = `id, pipeline_run_id, operation, status, retry_count, created_at, updated_at`

// GetOperationRun возвращает operation run по ID вместе с историей.
func (r *OperationRunRepo) GetOperationRun(ctx context.Context, id uuid.UUID) (*domain.OperationRun, error) {
	run, err := scanOperationRun(r.pool.QueryRow(ctx,
		`SELECT `+operationRunColumns+` FROM operation_runs WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT status, message, created_at
		FROM operation_run_statuses
		WHERE operation_run_id = $1
		ORDER BY id ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list operation run statuses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entry domain.StatusEntry[domain.OperationStatus]
		if err := rows.Scan(&entry.Status, &entry.Message, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan operation run status: %w", err)
		}
		run.History = append(run.History, entry)
	}
	return run, rows.Err()
}

// ListOperationRuns возвращает operation runs pipeline run в порядке определения.
func (r *OperationRunRepo) ListOperationRuns(ctx context.Context, pipelineRunID uuid.UUID) ([]domain.OperationRun, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+operationRunColumns+`
		FROM operation_runs
		WHERE pipeline_run_id = $1
		ORDER BY position ASC
	`, pipelineRunID)
	if err != nil {
		return nil, fmt.Errorf("list operation runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.OperationRun
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		run, err := scanOperationRun(rows)
		if err != nil {
			return nil, err
		}
		index[run.ID] = len(runs)
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// История всех operation runs одним запросом
	hist, err := r.pool.Query(ctx, `
		SELECT s.operation_run_id, s.status, s.message, s.created_at
		FROM operation_run_statuses s
		JOIN operation_runs o ON o.id = s.operation_run_id
		WHERE o.pipeline_run_id = $1
		ORDER BY s.id ASC
	`, pipelineRunID)
	if err != nil {
		return nil, fmt.Errorf("list operation run statuses: %w", err)
	}
	defer hist.Close()

	for hist.Next() {
		var opID uuid.UUID
		var entry domain.StatusEntry[domain.OperationStatus]
		if err := hist.Scan(&opID, &entry.Status, &entry.Message, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan operation run status: %w", err)
		}
		if i, ok := index[opID]; ok {
			runs[i].History = append(runs[i].History, entry)
		}
	}
	return runs, hist.Err()
}

// SetOperationRunStatus атомарно переводит operation run в статус status.
//
// Возвращает false без изменений, если статус уже равен status.
// Возвращает ошибку с domain.ErrInvalidTransition для запрещённого перехода.
func (r *OperationRunRepo) SetOperationRunStatus(ctx context.Context, id uuid.UUID, status domain.OperationStatus, message string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	run, err := scanOperationRun(tx.QueryRow(ctx,
		`SELECT `+operationRunColumns+` FROM operation_runs WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return false, err
	}

	changed, err := run.Transition(status, message, time.Now().UTC())
	if err != nil || !changed {
		return false, err
	}

	if err := updateOperationRun(ctx, tx, run); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// TransitionOperationRuns переводит в статус to все operation runs pipeline run,
// находящиеся в одном из статусов from. Либо переходят все, либо ни один.
//
// Возвращает ID изменённых operation runs в порядке определения.
func (r *OperationRunRepo) TransitionOperationRuns(
	ctx context.Context,
	pipelineRunID uuid.UUID,
	from []domain.OperationStatus,
	to domain.OperationStatus,
	message string,
) ([]uuid.UUID, error) {
	statuses := make([]string, len(from))
	for i, s := range from {
		statuses[i] = string(s)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT `+operationRunColumns+`
		FROM operation_runs
		WHERE pipeline_run_id = $1 AND status = ANY($2)
		ORDER BY position ASC
		FOR UPDATE
	`, pipelineRunID, statuses)
	if err != nil {
		return nil, fmt.Errorf("select operation runs: %w", err)
	}

	var runs []*domain.OperationRun
	for rows.Next() {
		run, err := scanOperationRun(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		runs = append(runs, run)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	changed := make([]uuid.UUID, 0, len(runs))
	for _, run := range runs {
		ok, err := run.Transition(to, message, now)
		if err != nil {
			return nil, fmt.Errorf("operation run %s: %w", run.ID, err)
		}
		if !ok {
			continue
		}
		if err := updateOperationRun(ctx, tx, run); err != nil {
			return nil, err
		}
		changed = append(changed, run.ID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return changed, nil
}

// CountActiveByClass возвращает число operation runs класса конкурентности
// class в статусах SCHEDULED/RUNNING по всем pipeline runs.
func (r *OperationRunRepo) CountActiveByClass(ctx context.Context, class string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM operation_runs
		WHERE status IN ('SCHEDULED', 'RUNNING')
		  AND COALESCE(NULLIF(operation->>'concurrency_class', ''), $2) = $1
	`, class, domain.DefaultConcurrencyClass).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active operation runs: %w", err)
	}
	return count, nil
}

// --- Helpers ---

// scanOperationRun сканирует одну строку в OperationRun (без истории).
func scanOperationRun(row pgx.Row) (*domain.OperationRun, error) {
	var run domain.OperationRun
	var opJSON []byte

	err := row.Scan(
		&run.ID,
		&run.PipelineRunID,
		&opJSON,
		&run.Status,
		&run.RetryCount,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan operation run: %w", err)
	}

	if err := json.Unmarshal(opJSON, &run.Operation); err != nil {
		return nil, fmt.Errorf("unmarshal operation: %w", err)
	}
	return &run, nil
}

// updateOperationRun сохраняет текущий статус и последнюю запись истории.
func updateOperationRun(ctx context.Context, tx pgx.Tx, run *domain.OperationRun) error {
	_, err := tx.Exec(ctx, `
		UPDATE operation_runs SET status = $2, retry_count = $3, updated_at = $4 WHERE id = $1
	`, run.ID, run.Status, run.RetryCount, run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update operation run: %w", err)
	}
	return insertOperationStatus(ctx, tx, run.ID, run.History[len(run.History)-1])
}

// insertOperationStatus добавляет запись в историю operation run.
func insertOperationStatus(ctx context.Context, tx pgx.Tx, runID uuid.UUID, entry domain.StatusEntry[domain.OperationStatus]) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO operation_run_statuses (operation_run_id, status, message, created_at)
		VALUES ($1, $2, $3, $4)
	`, runID, entry.Status, entry.Message, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert operation run status: %w", err)
	}
	return nil
}
