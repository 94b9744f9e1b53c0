package pipelines

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/shaiso/Pipelines/internal/domain"
	"github.com/shaiso/Pipelines/internal/engine"
	"github.com/shaiso/Pipelines/internal/lock"
	"github.com/shaiso/Pipelines/internal/repo"
	"github.com/shaiso/Pipelines/internal/telemetry"
)

// AdmissionResult — итог одного вызова цикла допуска.
type AdmissionResult struct {
	// Scheduled — operation runs, переведённые в SCHEDULED.
	Scheduled []string

	// Rejected — operation runs, отклонённые исполнителем (FAILED).
	Rejected []string

	// Deferred — operation runs, запуск которых отложен.
	Deferred []string

	// Blocked — operation runs, пропущенные из-за upstream (SKIPPED).
	Blocked []string

	// Remaining — кандидаты, до которых не дошёл бюджет.
	Remaining []string

	// Rescheduled — цикл допуска поставлен в очередь повторно.
	Rescheduled bool

	// Locked — цикл допуска этого pipeline run уже выполняется в другом месте.
	Locked bool
}

// Attempts возвращает число попыток, израсходовавших бюджет.
func (r *AdmissionResult) Attempts() int {
	return len(r.Scheduled) + len(r.Rejected)
}

// StartPipelineRun выполняет цикл допуска для pipeline run.
//
// Порядок:
//  1. Загружаем pipeline run и его operation runs
//  2. Сортируем DAG топологически
//  3. Пропускаем operation runs с завершённым неудовлетворяющим upstream
//  4. Собираем кандидатов: CREATED с удовлетворёнными upstream
//  5. Допускаем кандидатов с конца списка, пока не кончится бюджет
//  6. Если кандидаты остались или запуск отложен — повторяем через RetryInterval
//
// Ошибки DAG (цикл, отсутствующая операция) переводят pipeline run в FAILED.
// Отсутствующий run — no-op.
func (s *Scheduler) StartPipelineRun(ctx context.Context, pipelineRunID uuid.UUID) (*AdmissionResult, error) {
	result := &AdmissionResult{}

	locked, err := s.withLock(ctx, pipelineRunID, func(ctx context.Context) error {
		return s.admit(ctx, pipelineRunID, result)
	})
	if err != nil {
		return nil, err
	}
	if locked {
		s.logger.Debug("admission in progress elsewhere, requeue", "pipeline_run_id", pipelineRunID)
		result.Locked = true
		return result, s.reschedule(ctx, pipelineRunID, result, "locked")
	}
	return result, nil
}

// withLock выполняет fn под блокировкой pipeline run.
// Возвращает true без вызова fn, если блокировка занята.
func (s *Scheduler) withLock(ctx context.Context, pipelineRunID uuid.UUID, fn func(ctx context.Context) error) (bool, error) {
	if s.locker == nil {
		return false, fn(ctx)
	}

	held, err := s.locker.TryLock(ctx, lockKey(pipelineRunID))
	if errors.Is(err, lock.ErrLocked) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("lock pipeline run %s: %w", pipelineRunID, err)
	}
	defer func() {
		if err := held.Unlock(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("failed to unlock pipeline run", "pipeline_run_id", pipelineRunID, "error", err)
		}
	}()

	return false, fn(ctx)
}

// admit — тело цикла допуска.
func (s *Scheduler) admit(ctx context.Context, pipelineRunID uuid.UUID, result *AdmissionResult) error {
	logger := telemetry.WithPipelineRunID(s.logger, pipelineRunID.String())

	// 1. Загружаем pipeline run
	run, err := s.store.GetPipelineRun(ctx, pipelineRunID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			logger.Info("pipeline run not found, nothing to admit")
			return nil
		}
		return fmt.Errorf("get pipeline run: %w", err)
	}
	if !run.Schedulable() {
		logger.Debug("pipeline run is not schedulable", "status", run.Status)
		return nil
	}

	ops, err := s.store.ListOperationRuns(ctx, pipelineRunID)
	if err != nil {
		return fmt.Errorf("list operation runs: %w", err)
	}

	// 2. Топологический порядок
	dag, index := engine.BuildRunDAG(ops)
	order, err := sortRunDAG(dag)
	if err != nil {
		return s.failPipelineRun(ctx, run, err)
	}

	// 3. Каскад заблокированных operation runs. Блокировка выводится из
	// сохранённых статусов: SKIPPED с блокирующим upstream блокирует и свой
	// downstream, даже если SKIPPED разрешает допуск.
	blocked := s.blockedOperations(dag, index, order)
	for _, name := range order {
		op := index[name]
		if !blocked[name] || op.Status != domain.OperationStatusCreated {
			continue
		}
		blocker := s.blockingUpstream(dag, index, blocked, name)

		msg := fmt.Sprintf("upstream %s is %s", blocker.Name(), blocker.Status)
		if err := s.SetStatus(ctx, op, domain.OperationStatusSkipped, msg); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				logger.Debug("operation run changed concurrently", "operation", name, "error", err)
				continue
			}
			return err
		}
		result.Blocked = append(result.Blocked, name)
		logger.Info("operation run skipped", "operation", name, "reason", msg)
	}

	// 4. Кандидаты
	candidates := make([]*domain.OperationRun, 0)
	for _, name := range order {
		op := index[name]
		if op.Status == domain.OperationStatusCreated && s.upstreamSatisfied(dag, index, blocked, name) {
			candidates = append(candidates, op)
		}
	}

	// 5. Допуск с конца списка
	budget := s.budget(run)
	for budget > 0 && len(candidates) > 0 {
		op := candidates[len(candidates)-1]
		candidates = candidates[:len(candidates)-1]

		deferred, err := s.ScheduleStart(ctx, op)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				logger.Debug("operation run changed concurrently", "operation", op.Name(), "error", err)
				continue
			}
			return err
		}

		switch {
		case deferred:
			result.Deferred = append(result.Deferred, op.Name())
		case op.Status == domain.OperationStatusFailed:
			result.Rejected = append(result.Rejected, op.Name())
			budget--
		default:
			result.Scheduled = append(result.Scheduled, op.Name())
			budget--
		}
	}
	for _, op := range candidates {
		result.Remaining = append(result.Remaining, op.Name())
	}

	logger.Debug("admission done",
		"scheduled", len(result.Scheduled),
		"rejected", len(result.Rejected),
		"deferred", len(result.Deferred),
		"blocked", len(result.Blocked),
		"remaining", len(result.Remaining),
	)

	// 6. Повторный вызов
	switch {
	case len(result.Remaining) > 0:
		return s.reschedule(ctx, pipelineRunID, result, "budget")
	case len(result.Deferred) > 0:
		return s.reschedule(ctx, pipelineRunID, result, "deferred")
	case len(result.Rejected) > 0:
		// Downstream отклонённых нужно пропустить каскадом
		return s.reschedule(ctx, pipelineRunID, result, "rejected")
	}
	return nil
}

// reschedule ставит цикл допуска в очередь через RetryInterval.
func (s *Scheduler) reschedule(ctx context.Context, pipelineRunID uuid.UUID, result *AdmissionResult, reason string) error {
	if err := s.dispatcher.PublishPipelineStart(ctx, pipelineRunID, s.retryInterval); err != nil {
		return fmt.Errorf("reschedule pipeline run %s: %w", pipelineRunID, err)
	}
	result.Rescheduled = true
	telemetry.AdmissionReschedules.WithLabelValues(reason).Inc()
	return nil
}

// upstreamSatisfied проверяет, что все upstream operation runs в разрешающем
// статусе и ни один не заблокирован.
func (s *Scheduler) upstreamSatisfied(
	dag *engine.DAG,
	index map[string]*domain.OperationRun,
	blocked map[string]bool,
	name string,
) bool {
	for _, up := range dag.Upstream(name) {
		if blocked[up] || !s.isSatisfied(index[up].Status) {
			return false
		}
	}
	return true
}

// blockedOperations возвращает CREATED и SKIPPED operation runs, которые
// никогда не будут допущены из-за upstream: неразрешающего терминального
// или заблокированного транзитивно. order — топологический порядок dag.
func (s *Scheduler) blockedOperations(dag *engine.DAG, index map[string]*domain.OperationRun, order []string) map[string]bool {
	blocked := make(map[string]bool)
	for _, name := range order {
		switch index[name].Status {
		case domain.OperationStatusCreated, domain.OperationStatusSkipped:
		default:
			continue
		}
		if s.blockingUpstream(dag, index, blocked, name) != nil {
			blocked[name] = true
		}
	}
	return blocked
}

// blockingUpstream возвращает первый upstream, который никогда не разрешит допуск.
func (s *Scheduler) blockingUpstream(
	dag *engine.DAG,
	index map[string]*domain.OperationRun,
	blocked map[string]bool,
	name string,
) *domain.OperationRun {
	for _, up := range dag.Upstream(name) {
		if blocked[up] || s.isBlocking(index[up].Status) {
			return index[up]
		}
	}
	return nil
}

// failPipelineRun переводит pipeline run в FAILED из-за ошибки DAG.
// Ожидающие operation runs пропускаются, чтобы run не остался незавершённым.
func (s *Scheduler) failPipelineRun(ctx context.Context, run *domain.PipelineRun, cause error) error {
	msg := cause.Error()
	s.logger.Error("pipeline run is misconfigured", "pipeline_run_id", run.ID, "error", cause)

	if _, err := s.setPipelineStatus(ctx, run, domain.PipelineStatusFailed, msg); err != nil {
		return err
	}
	if _, err := s.store.TransitionOperationRuns(ctx, run.ID,
		[]domain.OperationStatus{domain.OperationStatusCreated},
		domain.OperationStatusSkipped, msg,
	); err != nil {
		return fmt.Errorf("skip operation runs of failed pipeline run: %w", err)
	}
	return nil
}

// sortRunDAG сортирует DAG pipeline run. Upstream вне DAG — ошибка конфигурации.
func sortRunDAG(dag *engine.DAG) ([]string, error) {
	if missing := dag.External(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingOperation, strings.Join(missing, ", "))
	}
	return engine.SortTopologically(dag)
}
