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

// StopOperationRuns переводит все незавершённые operation runs pipeline run
// в STOPPED, независимо от положения в DAG.
//
// Переход атомарен: при ошибке run-store ни один operation run не меняется,
// а статус pipeline run не пересчитывается.
func (s *Scheduler) StopOperationRuns(ctx context.Context, pipelineRunID uuid.UUID, message string) ([]uuid.UUID, error) {
	return s.propagate(ctx, pipelineRunID, domain.PendingStatuses, domain.OperationStatusStopped, message)
}

// SkipOperationRuns переводит все незавершённые operation runs в SKIPPED.
func (s *Scheduler) SkipOperationRuns(ctx context.Context, pipelineRunID uuid.UUID, message string) ([]uuid.UUID, error) {
	return s.propagate(ctx, pipelineRunID, domain.PendingStatuses, domain.OperationStatusSkipped, message)
}

// StopOperations — точка входа stop: запрос остановки и STOPPED для всех
// незавершённых operation runs. Отсутствующий run — no-op.
func (s *Scheduler) StopOperations(ctx context.Context, pipelineRunID uuid.UUID, message string) error {
	ok, err := s.requestStop(ctx, pipelineRunID, message)
	if err != nil || !ok {
		return err
	}

	if _, err := s.StopOperationRuns(ctx, pipelineRunID, message); err != nil {
		return err
	}
	_, err = s.aggregate(ctx, pipelineRunID, message)
	return err
}

// SkipOperations — точка входа skip: сначала останавливает выполняющиеся
// operation runs (в истории остаётся STOPPED), затем пропускает ожидающие.
// Отсутствующий run — no-op.
func (s *Scheduler) SkipOperations(ctx context.Context, pipelineRunID uuid.UUID, message string) error {
	ok, err := s.requestStop(ctx, pipelineRunID, message)
	if err != nil || !ok {
		return err
	}

	// 1. Останавливаем выполняющиеся
	if _, err := s.propagate(ctx, pipelineRunID, domain.ActiveStatuses, domain.OperationStatusStopped, message); err != nil {
		return err
	}

	// 2. Пропускаем оставшиеся
	if _, err := s.SkipOperationRuns(ctx, pipelineRunID, message); err != nil {
		return err
	}

	_, err = s.aggregate(ctx, pipelineRunID, message)
	return err
}

// requestStop переводит pipeline run в STOPPING.
// Возвращает false, если run не найден или уже завершён.
func (s *Scheduler) requestStop(ctx context.Context, pipelineRunID uuid.UUID, message string) (bool, error) {
	run, err := s.store.GetPipelineRun(ctx, pipelineRunID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.logger.Info("pipeline run not found, nothing to stop", "pipeline_run_id", pipelineRunID)
			return false, nil
		}
		return false, fmt.Errorf("get pipeline run: %w", err)
	}
	if run.IsFinished() {
		s.logger.Debug("pipeline run already finished", "pipeline_run_id", pipelineRunID, "status", run.Status)
		return false, nil
	}

	if _, err := s.setPipelineStatus(ctx, run, domain.PipelineStatusStopping, message); err != nil {
		return false, err
	}
	return true, nil
}

// propagate переводит operation runs в статусах from в статус to одной транзакцией.
func (s *Scheduler) propagate(
	ctx context.Context,
	pipelineRunID uuid.UUID,
	from []domain.OperationStatus,
	to domain.OperationStatus,
	message string,
) ([]uuid.UUID, error) {
	changed, err := s.store.TransitionOperationRuns(ctx, pipelineRunID, from, to, message)
	if err != nil {
		return nil, fmt.Errorf("propagate %s to pipeline run %s: %w", to, pipelineRunID, err)
	}

	if len(changed) > 0 {
		telemetry.PropagatedTransitions.WithLabelValues(string(to)).Add(float64(len(changed)))
		s.logger.Info("operation runs propagated",
			"pipeline_run_id", pipelineRunID,
			"status", to,
			"count", len(changed),
		)
	}
	return changed, nil
}
