package pipelines

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shaiso/Pipelines/internal/domain"
	"github.com/shaiso/Pipelines/internal/launcher"
	"github.com/shaiso/Pipelines/internal/telemetry"
)

// ScheduleStart пытается допустить operation run.
//
// Возвращает true, если запуск отложен исполнителем и его нужно повторить
// позже. false — попытка разрешена сразу: run переведён в SCHEDULED,
// отклонён (FAILED) или уже вышел из CREATED.
//
// Run захватывается (CREATED → SCHEDULED) до передачи исполнителю: если
// захват не удался, Launch не вызывается. Отложенный после захвата run
// возвращается в CREATED.
//
// Ошибка launcher считается временной: запуск откладывается.
// Ошибка run-store возвращается вызывающему.
func (s *Scheduler) ScheduleStart(ctx context.Context, run *domain.OperationRun) (bool, error) {
	if run.Status != domain.OperationStatusCreated {
		return false, nil
	}

	logger := s.logger.With(
		"pipeline_run_id", run.PipelineRunID,
		"operation_run_id", run.ID,
		"operation", run.Name(),
	)

	// 1. Проверка без побочных эффектов
	res, err := launcher.Check(ctx, s.launcher, run)
	if err != nil {
		logger.Warn("launcher check failed, deferring start", "error", err)
		telemetry.AdmissionAttempts.WithLabelValues("error").Inc()
		return true, nil
	}
	switch res.Decision {
	case launcher.Accepted:
	case launcher.Rejected:
		telemetry.AdmissionAttempts.WithLabelValues(string(res.Decision)).Inc()
		return false, s.reject(ctx, logger, run, res.Reason)
	case launcher.Deferred:
		telemetry.AdmissionAttempts.WithLabelValues(string(res.Decision)).Inc()
		logger.Debug("operation run deferred", "reason", res.Reason)
		return true, nil
	default:
		logger.Warn("unknown launcher decision, deferring", "decision", res.Decision)
		return true, nil
	}

	// 2. Захват
	if err := s.SetStatus(ctx, run, domain.OperationStatusScheduled, res.Reason); err != nil {
		return false, err
	}

	// 3. Передача исполнителю
	res, err = s.launcher.Launch(ctx, run)
	if err != nil {
		logger.Warn("launcher error, releasing claimed run", "error", err)
		telemetry.AdmissionAttempts.WithLabelValues("error").Inc()
		return true, s.release(ctx, logger, run, err.Error())
	}

	telemetry.AdmissionAttempts.WithLabelValues(string(res.Decision)).Inc()

	switch res.Decision {
	case launcher.Accepted:
		logger.Info("operation run scheduled")
		return false, nil

	case launcher.Rejected:
		return false, s.reject(ctx, logger, run, res.Reason)

	case launcher.Deferred:
		logger.Debug("operation run deferred after claim", "reason", res.Reason)
		return true, s.release(ctx, logger, run, res.Reason)

	default:
		logger.Warn("unknown launcher decision, releasing claimed run", "decision", res.Decision)
		return true, s.release(ctx, logger, run, string(res.Decision))
	}
}

func (s *Scheduler) reject(ctx context.Context, logger *slog.Logger, run *domain.OperationRun, reason string) error {
	if err := s.SetStatus(ctx, run, domain.OperationStatusFailed, "rejected: "+reason); err != nil {
		return err
	}
	logger.Warn("operation run rejected", "reason", reason)
	return nil
}

// release возвращает захваченный run в CREATED. Run, остановленный
// или завершённый за это время, остаётся как есть.
func (s *Scheduler) release(ctx context.Context, logger *slog.Logger, run *domain.OperationRun, reason string) error {
	err := s.SetStatus(ctx, run, domain.OperationStatusCreated, "released: "+reason)
	if errors.Is(err, domain.ErrInvalidTransition) {
		logger.Debug("claimed run changed concurrently, not released", "error", err)
		return nil
	}
	return err
}

// SetStatus переводит operation run в статус status и пересчитывает
// статус pipeline run. Равный статус — no-op без записи в историю.
//
// run обновляется на месте; история в run не дополняется.
func (s *Scheduler) SetStatus(ctx context.Context, run *domain.OperationRun, status domain.OperationStatus, message string) error {
	_, err := s.setStatus(ctx, run, status, message)
	return err
}

func (s *Scheduler) setStatus(ctx context.Context, run *domain.OperationRun, status domain.OperationStatus, message string) (bool, error) {
	changed, err := s.store.SetOperationRunStatus(ctx, run.ID, status, message)
	if err != nil {
		return false, fmt.Errorf("set operation run %s status %s: %w", run.ID, status, err)
	}
	if !changed {
		return false, nil
	}

	if run.Status.IsRetry(status) {
		run.RetryCount++
	}
	run.Status = status
	telemetry.OperationStatusTransitions.WithLabelValues(string(status)).Inc()

	if _, err := s.aggregate(ctx, run.PipelineRunID, message); err != nil {
		return true, err
	}
	return true, nil
}
