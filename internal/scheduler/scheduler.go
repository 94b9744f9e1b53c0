package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/shaiso/Pipelines/internal/domain"
	"github.com/shaiso/Pipelines/internal/lock"
	"github.com/shaiso/Pipelines/internal/telemetry"
)

const (
	defaultBatchSize = 100
	leaderKey        = "pipelines:sweeper"
)

const redriveStopMessage = "stop re-driven by sweeper"

// RunLister возвращает незавершённые pipeline runs после курсора.
type RunLister interface {
	ListActivePipelineRuns(ctx context.Context, after domain.RunCursor, limit int) ([]domain.PipelineRun, error)
}

// Dispatcher ставит цикл допуска и остановку в очередь.
type Dispatcher interface {
	PublishPipelineStart(ctx context.Context, pipelineRunID uuid.UUID, delay time.Duration) error
	PublishStopOperations(ctx context.Context, pipelineRunID uuid.UUID, message string) error
}

// Sweeper периодически перезапускает цикл допуска для незавершённых
// pipeline runs. Восстанавливает runs, чей повторный вызов потерян
// (например, сообщение не было опубликовано), и повторяет прерванную
// остановку для runs в STOPPING.
//
// Каждый проход берёт BatchSize runs, продолжая с места, где остановился
// предыдущий: за несколько проходов обходятся все незавершённые runs.
type Sweeper struct {
	runs       RunLister
	dispatcher Dispatcher
	leader     lock.Locker
	schedule   string
	batchSize  int
	logger     *slog.Logger

	mu     sync.Mutex
	cursor domain.RunCursor
}

// Config — конфигурация Sweeper.
type Config struct {
	Runs       RunLister
	Dispatcher Dispatcher

	// Leader выбирает единственный экземпляр, выполняющий проход.
	// nil — проход выполняет каждый экземпляр.
	Leader lock.Locker

	Schedule  string // cron-расписание (default: "@every 30s")
	BatchSize int    // pipeline runs за один проход (default: 100)
	Logger    *slog.Logger
}

// New создаёт Sweeper. Некорректное расписание — ошибка.
func New(cfg Config) (*Sweeper, error) {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := ParseSchedule(schedule); err != nil {
		return nil, err
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Sweeper{
		runs:       cfg.Runs,
		dispatcher: cfg.Dispatcher,
		leader:     cfg.Leader,
		schedule:   schedule,
		batchSize:  batchSize,
		logger:     logger,
	}, nil
}

// Run выполняет проходы по расписанию до отмены ctx.
func (s *Sweeper) Run(ctx context.Context) error {
	c := cron.New(cron.WithParser(cronParser))
	if _, err := c.AddFunc(s.schedule, func() {
		if _, err := s.Tick(ctx); err != nil {
			s.logger.Error("sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("add sweep job: %w", err)
	}

	s.logger.Info("sweeper started", "schedule", s.schedule, "batch_size", s.batchSize)
	c.Start()

	<-ctx.Done()

	// Ждём завершения текущего прохода
	<-c.Stop().Done()
	s.logger.Info("sweeper stopped")
	return ctx.Err()
}

// Tick выполняет один проход.
//
// 1. Берёт leader lock (если настроен); занят — проход пропускается
// 2. Берёт следующую страницу незавершённых pipeline runs
// 3. Для run, принимающего работу, публикует pipelines.start,
// для run в STOPPING — повторную остановку
//
// Ошибка публикации одного run не блокирует остальные.
// Возвращает число перезапущенных runs.
func (s *Sweeper) Tick(ctx context.Context) (int, error) {
	// 1. Leader election
	if s.leader != nil {
		held, err := s.leader.TryLock(ctx, leaderKey)
		if errors.Is(err, lock.ErrLocked) {
			s.logger.Debug("not a leader, skipping sweep")
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("acquire sweeper lock: %w", err)
		}
		defer func() {
			if err := held.Unlock(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("failed to release sweeper lock", "error", err)
			}
		}()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// 2. Следующая страница
	runs, err := s.nextPage(ctx)
	if err != nil {
		return 0, err
	}

	// 3. Перезапуск
	triggered := 0
	for i := range runs {
		run := &runs[i]

		var err error
		switch {
		case run.Schedulable():
			err = s.dispatcher.PublishPipelineStart(ctx, run.ID, 0)
		case run.Status == domain.PipelineStatusStopping:
			err = s.dispatcher.PublishStopOperations(ctx, run.ID, redriveStopMessage)
		default:
			continue
		}
		if err != nil {
			s.logger.Warn("failed to re-drive pipeline run",
				"pipeline_run_id", run.ID,
				"status", run.Status,
				"error", err,
			)
			continue
		}
		triggered++
	}

	telemetry.SweepTriggered.Add(float64(triggered))
	if triggered > 0 {
		s.logger.Info("sweep completed", "active", len(runs), "triggered", triggered)
	}
	return triggered, nil
}

// nextPage возвращает следующие batchSize runs и сдвигает курсор.
// Неполная страница означает конец списка: следующий проход начнётся сначала.
func (s *Sweeper) nextPage(ctx context.Context) ([]domain.PipelineRun, error) {
	runs, err := s.runs.ListActivePipelineRuns(ctx, s.cursor, s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("list active pipeline runs: %w", err)
	}
	if len(runs) == 0 && !s.cursor.IsZero() {
		// Хвост списка завершился с прошлого прохода
		s.cursor = domain.RunCursor{}
		return s.nextPage(ctx)
	}

	if len(runs) < s.batchSize {
		s.cursor = domain.RunCursor{}
	} else {
		s.cursor = runs[len(runs)-1].Cursor()
	}
	return runs, nil
}
