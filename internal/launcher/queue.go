package launcher

import (
	"context"
	"log/slog"

	"github.com/shaiso/Pipelines/internal/domain"
	"github.com/shaiso/Pipelines/internal/mq"
)

// ReadyPublisher — интерфейс для публикации operations.ready.
// Реализуется mq.Publisher.
type ReadyPublisher interface {
	PublishOperationReady(ctx context.Context, payload mq.OperationReadyPayload) error
}

// QueueLauncher передаёт operation run исполнителям через очередь.
//
// Публикация в operations.ready — это и есть принятие: дальше исполнитель
// сообщает статусы через operations.status. Если брокер недоступен,
// решение — Deferred, и планировщик повторит попытку.
type QueueLauncher struct {
	publisher ReadyPublisher
	logger    *slog.Logger
}

// NewQueueLauncher создаёт QueueLauncher.
func NewQueueLauncher(publisher ReadyPublisher, logger *slog.Logger) *QueueLauncher {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueLauncher{publisher: publisher, logger: logger}
}

// Launch публикует operation run в operations.ready.
func (l *QueueLauncher) Launch(ctx context.Context, run *domain.OperationRun) (Result, error) {
	payload := mq.OperationReadyPayload{
		OperationRunID:   run.ID,
		PipelineRunID:    run.PipelineRunID,
		Name:             run.Name(),
		Kind:             run.Operation.Kind,
		ConcurrencyClass: run.Operation.Class(),
		Config:           run.Operation.Config,
	}

	if err := l.publisher.PublishOperationReady(ctx, payload); err != nil {
		l.logger.Warn("failed to publish operations.ready, deferring",
			"operation_run_id", run.ID,
			"operation", run.Name(),
			"error", err,
		)
		return Defer("publish operations.ready: " + err.Error()), nil
	}

	return Accept(), nil
}
