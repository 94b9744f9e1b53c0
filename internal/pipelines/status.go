package pipelines

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/Pipelines/internal/domain"
	"github.com/shaiso/Pipelines/internal/repo"
	"github.com/shaiso/Pipelines/internal/telemetry"
)

// CheckStatuses пересчитывает статус pipeline run по сигналу status.
//
// Статусы operation runs перечитываются из run-store. Пересчитанный статус
// выставляется, только если он отличается от текущего и не нарушает
// монотонность. Отсутствующий run — no-op.
func (s *Scheduler) CheckStatuses(ctx context.Context, pipelineRunID uuid.UUID, status domain.OperationStatus, message string) error {
	s.logger.Debug("check statuses",
		"pipeline_run_id", pipelineRunID,
		"status", status,
		"done", status.IsDone(),
	)

	if _, err := s.aggregate(ctx, pipelineRunID, message); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.logger.Info("pipeline run not found, nothing to check", "pipeline_run_id", pipelineRunID)
			return nil
		}
		return err
	}
	return nil
}

// aggregate вычисляет и сохраняет статус pipeline run.
// Возвращает текущий статус после пересчёта.
func (s *Scheduler) aggregate(ctx context.Context, pipelineRunID uuid.UUID, message string) (domain.PipelineStatus, error) {
	// 1. Перечитываем pipeline run
	run, err := s.store.GetPipelineRun(ctx, pipelineRunID)
	if err != nil {
		return "", fmt.Errorf("get pipeline run %s: %w", pipelineRunID, err)
	}
	if run.IsFinished() {
		return run.Status, nil
	}

	// 2. Перечитываем статусы operation runs
	ops, err := s.store.ListOperationRuns(ctx, pipelineRunID)
	if err != nil {
		return "", fmt.Errorf("list operation runs %s: %w", pipelineRunID, err)
	}
	statuses := make([]domain.OperationStatus, 0, len(ops))
	for i := range ops {
		statuses = append(statuses, ops[i].Status)
	}

	// 3. Выставляем агрегированный статус
	next := domain.Aggregate(statuses, run.StopRequested())
	if next == run.Status {
		return run.Status, nil
	}
	return s.setPipelineStatus(ctx, run, next, message)
}

// setPipelineStatus выставляет статус pipeline run.
// Переход, нарушающий монотонность, игнорируется.
func (s *Scheduler) setPipelineStatus(ctx context.Context, run *domain.PipelineRun, status domain.PipelineStatus, message string) (domain.PipelineStatus, error) {
	changed, err := s.store.SetPipelineRunStatus(ctx, run.ID, status, message)
	if err != nil {
		return "", fmt.Errorf("set pipeline run %s status %s: %w", run.ID, status, err)
	}
	if !changed {
		return run.Status, nil
	}

	telemetry.PipelineStatusTransitions.WithLabelValues(string(status)).Inc()
	s.logger.Info("pipeline run status changed",
		"pipeline_run_id", run.ID,
		"from", run.Status,
		"status", status,
		"message", message,
	)
	run.Status = status
	return status, nil
}
