package pipelines

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/shaiso/Pipelines/internal/mq"
)

const defaultPrefetch = 10

// Service подключает Scheduler к очередям RabbitMQ.
//
// На каждую точку входа — отдельный consumer. Сообщения разных
// pipeline runs обрабатываются параллельно, сериализацию одного
// pipeline run обеспечивает Locker планировщика.
type Service struct {
	scheduler *Scheduler
	conn      *mq.Connection
	prefetch  int

	consumers []*mq.Consumer

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// ServiceConfig — конфигурация Service.
type ServiceConfig struct {
	Scheduler *Scheduler
	Conn      *mq.Connection

	// Prefetch — сообщений на consumer (default: 10).
	Prefetch int

	Logger *slog.Logger
}

// NewService создаёт Service.
func NewService(cfg ServiceConfig) *Service {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		scheduler: cfg.Scheduler,
		conn:      cfg.Conn,
		prefetch:  prefetch,
		logger:    logger,
	}
}

// Routes возвращает обработчик для каждой очереди планировщика.
func (s *Service) Routes() map[mq.Queue]mq.Handler {
	return map[mq.Queue]mq.Handler{
		mq.QueuePipelinesStart:          s.handleStart,
		mq.QueuePipelinesStartOperation: s.handleStartOperation,
		mq.QueuePipelinesStopOperations: s.handleStopOperations,
		mq.QueuePipelinesSkipOperations: s.handleSkipOperations,
		mq.QueuePipelinesCheckStatuses:  s.handleCheckStatuses,
		mq.QueueOperationsStatus:        s.handleOperationStatus,
	}
}

// Start запускает consumers. Не блокирует.
func (s *Service) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancelFunc = cancel

	for queue, handler := range s.Routes() {
		consumer := mq.NewConsumer(s.conn, s.logger, mq.ConsumerConfig{
			Queue:    queue,
			Handler:  handler,
			Prefetch: s.prefetch,
		})
		s.consumers = append(s.consumers, consumer)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("consumer error", "queue", queue, "error", err)
			}
		}()
	}

	s.logger.Info("pipelines service started",
		"consumers", len(s.consumers),
		"retry_interval", s.scheduler.RetryInterval(),
	)
	return nil
}

// Stop останавливает consumers и ждёт завершения обработчиков.
func (s *Service) Stop() {
	s.logger.Info("stopping pipelines service...")

	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	for _, c := range s.consumers {
		c.Stop()
	}

	s.wg.Wait()
	s.logger.Info("pipelines service stopped")
}
