package pipelines

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Pipelines/internal/domain"
	"github.com/shaiso/Pipelines/internal/launcher"
	"github.com/shaiso/Pipelines/internal/lock"
)

// Default configuration values.
const (
	DefaultConcurrency   = 1
	DefaultRetryInterval = 5 * time.Second
)

// DefaultSatisfiedStatuses — статусы upstream, разрешающие допуск downstream.
var DefaultSatisfiedStatuses = []domain.OperationStatus{
	domain.OperationStatusSucceeded,
	domain.OperationStatusSkipped,
}

// Store — run-store, с которым работает планировщик.
//
// Каждый метод атомарен: переход статуса и запись истории
// сохраняются вместе. Отсутствующий run — repo.ErrNotFound.
type Store interface {
	GetPipelineRun(ctx context.Context, id uuid.UUID) (*domain.PipelineRun, error)
	GetOperationRun(ctx context.Context, id uuid.UUID) (*domain.OperationRun, error)
	ListOperationRuns(ctx context.Context, pipelineRunID uuid.UUID) ([]domain.OperationRun, error)
	SetOperationRunStatus(ctx context.Context, id uuid.UUID, status domain.OperationStatus, message string) (bool, error)
	TransitionOperationRuns(ctx context.Context, pipelineRunID uuid.UUID, from []domain.OperationStatus, to domain.OperationStatus, message string) ([]uuid.UUID, error)
	SetPipelineRunStatus(ctx context.Context, id uuid.UUID, status domain.PipelineStatus, message string) (bool, error)
}

// Dispatcher ставит повторный вызов цикла допуска в очередь.
type Dispatcher interface {
	PublishPipelineStart(ctx context.Context, pipelineRunID uuid.UUID, delay time.Duration) error
}

// Config — конфигурация Scheduler.
type Config struct {
	// Store — run-store.
	Store Store

	// Launcher — исполнитель, принимающий или откладывающий работу.
	Launcher launcher.Launcher

	// Dispatcher — очередь для повторных вызовов.
	Dispatcher Dispatcher

	// Locker сериализует цикл допуска одного pipeline run.
	// nil — без блокировки.
	Locker lock.Locker

	// DefaultConcurrency — бюджет, если у pipeline run он не задан (default: 1).
	DefaultConcurrency int

	// RetryInterval — фиксированная задержка повторного вызова (default: 5s).
	RetryInterval time.Duration

	// SatisfiedStatuses — статусы upstream, при которых downstream допускается
	// (default: SUCCEEDED, SKIPPED).
	SatisfiedStatuses []domain.OperationStatus

	// Logger
	Logger *slog.Logger
}

// Scheduler — планировщик pipeline runs.
type Scheduler struct {
	store      Store
	launcher   launcher.Launcher
	dispatcher Dispatcher
	locker     lock.Locker

	defaultConcurrency int
	retryInterval      time.Duration
	satisfied          []domain.OperationStatus

	logger *slog.Logger
}

// New создаёт Scheduler.
func New(cfg Config) (*Scheduler, error) {
	switch {
	case cfg.Store == nil:
		return nil, ErrNoStore
	case cfg.Launcher == nil:
		return nil, ErrNoLauncher
	case cfg.Dispatcher == nil:
		return nil, ErrNoDispatcher
	}

	concurrency := cfg.DefaultConcurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	retryInterval := cfg.RetryInterval
	if retryInterval <= 0 {
		retryInterval = DefaultRetryInterval
	}

	satisfied := cfg.SatisfiedStatuses
	if len(satisfied) == 0 {
		satisfied = DefaultSatisfiedStatuses
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		store:              cfg.Store,
		launcher:           cfg.Launcher,
		dispatcher:         cfg.Dispatcher,
		locker:             cfg.Locker,
		defaultConcurrency: concurrency,
		retryInterval:      retryInterval,
		satisfied:          slices.Clone(satisfied),
		logger:             logger,
	}, nil
}

// RetryInterval возвращает задержку повторного вызова.
func (s *Scheduler) RetryInterval() time.Duration {
	return s.retryInterval
}

// isSatisfied проверяет, разрешает ли статус upstream допуск downstream.
func (s *Scheduler) isSatisfied(status domain.OperationStatus) bool {
	return slices.Contains(s.satisfied, status)
}

// isBlocking — upstream завершён и никогда не разрешит допуск.
func (s *Scheduler) isBlocking(status domain.OperationStatus) bool {
	return status.IsTerminal() && !s.isSatisfied(status)
}

// budget возвращает бюджет допуска pipeline run.
func (s *Scheduler) budget(run *domain.PipelineRun) int {
	if run.Concurrency > 0 {
		return run.Concurrency
	}
	return s.defaultConcurrency
}

// lockKey — ключ блокировки pipeline run.
func lockKey(pipelineRunID uuid.UUID) string {
	return "pipeline_run:" + pipelineRunID.String()
}
