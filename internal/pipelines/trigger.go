package pipelines

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/Pipelines/internal/domain"
	"github.com/shaiso/Pipelines/internal/engine"
	"github.com/shaiso/Pipelines/internal/repo"
)

// StartOperationRun допускает один operation run вне бюджета цикла допуска.
//
// Operation run допускается, только если pipeline run принимает работу
// и все upstream в разрешающем статусе. Заблокированный run передаётся
// циклу допуска, ошибка DAG переводит pipeline run в FAILED. Отложенный
// запуск возвращается в общий цикл допуска через RetryInterval.
// Отсутствующий run — no-op.
func (s *Scheduler) StartOperationRun(ctx context.Context, operationRunID uuid.UUID) error {
	op, err := s.store.GetOperationRun(ctx, operationRunID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.logger.Info("operation run not found, nothing to start", "operation_run_id", operationRunID)
			return nil
		}
		return fmt.Errorf("get operation run: %w", err)
	}

	run, err := s.store.GetPipelineRun(ctx, op.PipelineRunID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.logger.Info("pipeline run not found, nothing to start", "pipeline_run_id", op.PipelineRunID)
			return nil
		}
		return fmt.Errorf("get pipeline run: %w", err)
	}
	if !run.Schedulable() {
		s.logger.Debug("pipeline run is not schedulable", "pipeline_run_id", run.ID, "status", run.Status)
		return nil
	}

	locked, err := s.withLock(ctx, run.ID, func(ctx context.Context) error {
		return s.startOperationRun(ctx, run, op)
	})
	if err != nil {
		return err
	}
	if locked {
		// Работающий цикл допуска или его повтор подхватит operation run
		return s.reschedule(ctx, run.ID, &AdmissionResult{}, "locked")
	}
	return nil
}

func (s *Scheduler) startOperationRun(ctx context.Context, run *domain.PipelineRun, op *domain.OperationRun) error {
	ops, err := s.store.ListOperationRuns(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("list operation runs: %w", err)
	}

	dag, index := engine.BuildRunDAG(ops)
	order, err := sortRunDAG(dag)
	if err != nil {
		return s.failPipelineRun(ctx, run, err)
	}

	current, ok := index[op.Name()]
	if !ok {
		return nil
	}
	logger := s.logger.With("pipeline_run_id", run.ID, "operation_run_id", current.ID)

	blocked := s.blockedOperations(dag, index, order)
	if blocked[current.Name()] {
		// Каскад пропусков выполняет цикл допуска
		logger.Debug("operation run is blocked by upstream, handing over to admission")
		if err := s.dispatcher.PublishPipelineStart(ctx, run.ID, 0); err != nil {
			return fmt.Errorf("trigger admission for pipeline run %s: %w", run.ID, err)
		}
		return nil
	}
	if !s.upstreamSatisfied(dag, index, blocked, current.Name()) {
		logger.Debug("upstream not satisfied, start postponed")
		return nil
	}

	deferred, err := s.ScheduleStart(ctx, current)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			logger.Debug("operation run changed concurrently", "error", err)
			return nil
		}
		return err
	}
	if deferred {
		return s.reschedule(ctx, run.ID, &AdmissionResult{}, "deferred")
	}
	return nil
}

// ReportStatus применяет отчёт исполнителя о статусе operation run.
//
// После перехода в статус класса "done" цикл допуска вызывается сразу:
// downstream мог стать готовым. Отсутствующий run — no-op.
// CREATED исполнитель сообщать не может: возврат в CREATED выполняет только
// планировщик.
func (s *Scheduler) ReportStatus(ctx context.Context, operationRunID uuid.UUID, status domain.OperationStatus, message string) error {
	if status == domain.OperationStatusCreated {
		return fmt.Errorf("%w: %s is not reportable", domain.ErrInvalidTransition, status)
	}

	op, err := s.store.GetOperationRun(ctx, operationRunID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.logger.Info("operation run not found, status dropped",
				"operation_run_id", operationRunID,
				"status", status,
			)
			return nil
		}
		return fmt.Errorf("get operation run: %w", err)
	}

	changed, err := s.setStatus(ctx, op, status, message)
	if err != nil {
		return err
	}
	if !changed || !status.IsDone() {
		return nil
	}

	if err := s.dispatcher.PublishPipelineStart(ctx, op.PipelineRunID, 0); err != nil {
		return fmt.Errorf("trigger admission for pipeline run %s: %w", op.PipelineRunID, err)
	}
	return nil
}
