package pipelines

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/Pipelines/internal/domain"
	"github.com/shaiso/Pipelines/internal/mq"
)

// handleStart обрабатывает pipelines.start.
func (s *Service) handleStart(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.PipelineRunPayload](&delivery.Message)
	if err != nil {
		return err
	}
	if err := requireID(payload.PipelineRunID, "pipeline_run_id"); err != nil {
		return err
	}

	result, err := s.scheduler.StartPipelineRun(ctx, payload.PipelineRunID)
	if err != nil {
		return err
	}

	s.logger.Debug("pipelines.start handled",
		"pipeline_run_id", payload.PipelineRunID,
		"attempts", result.Attempts(),
		"rescheduled", result.Rescheduled,
		"locked", result.Locked,
	)
	return nil
}

// handleStartOperation обрабатывает pipelines.start_operation.
func (s *Service) handleStartOperation(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.OperationRunPayload](&delivery.Message)
	if err != nil {
		return err
	}
	if err := requireID(payload.OperationRunID, "operation_run_id"); err != nil {
		return err
	}

	return s.scheduler.StartOperationRun(ctx, payload.OperationRunID)
}

// handleStopOperations обрабатывает pipelines.stop_operations.
func (s *Service) handleStopOperations(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.PropagationPayload](&delivery.Message)
	if err != nil {
		return err
	}
	if err := requireID(payload.PipelineRunID, "pipeline_run_id"); err != nil {
		return err
	}

	return s.scheduler.StopOperations(ctx, payload.PipelineRunID, payload.Message)
}

// handleSkipOperations обрабатывает pipelines.skip_operations.
func (s *Service) handleSkipOperations(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.PropagationPayload](&delivery.Message)
	if err != nil {
		return err
	}
	if err := requireID(payload.PipelineRunID, "pipeline_run_id"); err != nil {
		return err
	}

	return s.scheduler.SkipOperations(ctx, payload.PipelineRunID, payload.Message)
}

// handleCheckStatuses обрабатывает pipelines.check_statuses.
func (s *Service) handleCheckStatuses(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.CheckStatusesPayload](&delivery.Message)
	if err != nil {
		return err
	}
	if err := requireID(payload.PipelineRunID, "pipeline_run_id"); err != nil {
		return err
	}

	// Пустой статус — пересчёт без сигнала
	var status domain.OperationStatus
	if payload.Status != "" {
		status, err = domain.ParseOperationStatus(payload.Status)
		if err != nil {
			return mq.Permanent(err)
		}
	}

	return s.scheduler.CheckStatuses(ctx, payload.PipelineRunID, status, payload.Message)
}

// handleOperationStatus обрабатывает operations.status.
//
// Запрещённый переход (например, отчёт о RUNNING для уже остановленного
// operation run) логируется и подтверждается: повтор его не исправит.
func (s *Service) handleOperationStatus(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.OperationStatusPayload](&delivery.Message)
	if err != nil {
		return err
	}
	if err := requireID(payload.OperationRunID, "operation_run_id"); err != nil {
		return err
	}

	status, err := domain.ParseOperationStatus(payload.Status)
	if err != nil {
		return mq.Permanent(err)
	}

	err = s.scheduler.ReportStatus(ctx, payload.OperationRunID, status, payload.Message)
	if errors.Is(err, domain.ErrInvalidTransition) {
		s.logger.Warn("status report ignored",
			"operation_run_id", payload.OperationRunID,
			"status", status,
			"error", err,
		)
		return nil
	}
	return err
}

// requireID отклоняет сообщения без идентификатора.
func requireID(id uuid.UUID, field string) error {
	if id == uuid.Nil {
		return mq.Permanent(fmt.Errorf("%s is required", field))
	}
	return nil
}
