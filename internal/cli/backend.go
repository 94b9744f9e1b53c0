package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Pipelines/internal/config"
	"github.com/shaiso/Pipelines/internal/domain"
	"github.com/shaiso/Pipelines/internal/engine"
	"github.com/shaiso/Pipelines/internal/mq"
	"github.com/shaiso/Pipelines/internal/repo"
)

// Store — операции run-store, которые использует CLI.
type Store interface {
	CreatePipeline(ctx context.Context, p *domain.Pipeline) error
	CreatePipelineRun(ctx context.Context, p *domain.Pipeline) (*domain.PipelineRun, []domain.OperationRun, error)
	GetPipelineRun(ctx context.Context, id uuid.UUID) (*domain.PipelineRun, error)
	ListOperationRuns(ctx context.Context, pipelineRunID uuid.UUID) ([]domain.OperationRun, error)
}

// Publisher — триггеры планировщика.
type Publisher interface {
	PublishPipelineStart(ctx context.Context, pipelineRunID uuid.UUID, delay time.Duration) error
	PublishStopOperations(ctx context.Context, pipelineRunID uuid.UUID, message string) error
	PublishSkipOperations(ctx context.Context, pipelineRunID uuid.UUID, message string) error
	PublishCheckStatuses(ctx context.Context, pipelineRunID uuid.UUID, status, message string) error
	PublishOperationStatus(ctx context.Context, payload mq.OperationStatusPayload) error
}

// Backend — зависимости команд.
type Backend struct {
	Store     Store
	Publisher Publisher

	closers []func()
}

// Close освобождает соединения в обратном порядке.
func (b *Backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// BackendFunc лениво создаёт Backend.
type BackendFunc func(ctx context.Context) (*Backend, error)

// Connect подключается к PostgreSQL и RabbitMQ.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := repo.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	b := &Backend{Store: repo.NewStore(pool)}
	b.closers = append(b.closers, pool.Close)

	conn, err := mq.NewConnection(mq.ConnectionConfig{URL: cfg.RabbitMQURL, Logger: logger})
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	b.closers = append(b.closers, func() { _ = conn.Close() })

	if err := mq.SetupTopology(ctx, conn); err != nil {
		b.Close()
		return nil, fmt.Errorf("setup topology: %w", err)
	}

	b.Publisher = mq.NewPublisher(conn, logger)
	return b, nil
}

// loadDefinition читает и валидирует файл определения pipeline.
func loadDefinition(path string) (*engine.Definition, error) {
	format, err := engine.FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition file: %w", err)
	}

	return engine.Parse(data, format)
}

// parseRunID разбирает идентификатор из аргумента команды.
func parseRunID(arg string) (uuid.UUID, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q: %w", arg, err)
	}
	return id, nil
}
