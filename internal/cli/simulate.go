package cli

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Pipelines/internal/domain"
	"github.com/shaiso/Pipelines/internal/engine"
	"github.com/shaiso/Pipelines/internal/launcher"
	"github.com/shaiso/Pipelines/internal/pipelines"
	"github.com/shaiso/Pipelines/internal/repo"
)

// SimulateOptions — параметры прогона в памяти.
type SimulateOptions struct {
	// Fail — операции, которые сообщают FAILED вместо SUCCEEDED.
	Fail []string

	// DefaultConcurrency — бюджет, если определение его не задаёт.
	DefaultConcurrency int

	// SkippedBlocks — SKIPPED upstream не разрешает допуск downstream.
	SkippedBlocks bool
}

// Wave — один вызов цикла допуска, который что-то изменил.
type Wave struct {
	Scheduled []string              `json:"scheduled,omitempty"`
	Blocked   []string              `json:"blocked,omitempty"`
	Status    domain.PipelineStatus `json:"pipeline_status"`
}

// Simulation — результат прогона.
type Simulation struct {
	PipelineRunID uuid.UUID                         `json:"pipeline_run_id"`
	Status        domain.PipelineStatus             `json:"status"`
	Waves         []Wave                            `json:"waves"`
	Operations    map[string]domain.OperationStatus `json:"operations"`
}

// Simulate выполняет определение на MemoryStore: каждый допущенный
// operation run сразу проходит RUNNING и завершается SUCCEEDED
// (или FAILED, если указан в opts.Fail).
func Simulate(ctx context.Context, def *engine.Definition, opts SimulateOptions) (*Simulation, error) {
	store := repo.NewMemoryStore()

	p := def.Pipeline(time.Now().UTC())
	if err := store.CreatePipeline(ctx, p); err != nil {
		return nil, err
	}
	run, opRuns, err := store.CreatePipelineRun(ctx, p)
	if err != nil {
		return nil, err
	}

	ids := make(map[string]uuid.UUID, len(opRuns))
	for i := range opRuns {
		ids[opRuns[i].Name()] = opRuns[i].ID
	}

	satisfied := pipelines.DefaultSatisfiedStatuses
	if opts.SkippedBlocks {
		satisfied = []domain.OperationStatus{domain.OperationStatusSucceeded}
	}

	starts := &pendingStarts{n: 1}
	sched, err := pipelines.New(pipelines.Config{
		Store:              store,
		Launcher:           launcher.AcceptAll,
		Dispatcher:         starts,
		DefaultConcurrency: opts.DefaultConcurrency,
		SatisfiedStatuses:  satisfied,
		Logger:             slog.New(slog.DiscardHandler),
	})
	if err != nil {
		return nil, err
	}

	sim := &Simulation{PipelineRunID: run.ID}
	limit := (len(opRuns) + 1) * (len(opRuns) + 2)

	for calls := 0; starts.take(); calls++ {
		if calls >= limit {
			return nil, fmt.Errorf("%w: %d admission calls", ErrSimulationStuck, calls)
		}

		res, err := sched.StartPipelineRun(ctx, run.ID)
		if err != nil {
			return nil, err
		}

		for _, name := range res.Scheduled {
			final := domain.OperationStatusSucceeded
			if slices.Contains(opts.Fail, name) {
				final = domain.OperationStatusFailed
			}
			if err := sched.ReportStatus(ctx, ids[name], domain.OperationStatusRunning, ""); err != nil {
				return nil, err
			}
			if err := sched.ReportStatus(ctx, ids[name], final, "simulated"); err != nil {
				return nil, err
			}
		}

		if len(res.Scheduled) == 0 && len(res.Blocked) == 0 {
			continue
		}

		current, err := store.GetPipelineRun(ctx, run.ID)
		if err != nil {
			return nil, err
		}
		sim.Waves = append(sim.Waves, Wave{
			Scheduled: res.Scheduled,
			Blocked:   res.Blocked,
			Status:    current.Status,
		})
	}

	final, err := store.GetPipelineRun(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	sim.Status = final.Status

	runs, err := store.ListOperationRuns(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	sim.Operations = make(map[string]domain.OperationStatus, len(runs))
	for i := range runs {
		sim.Operations[runs[i].Name()] = runs[i].Status
	}

	return sim, nil
}

// pendingStarts считает запрошенные вызовы цикла допуска; задержка не важна.
type pendingStarts struct {
	mu sync.Mutex
	n  int
}

func (p *pendingStarts) PublishPipelineStart(context.Context, uuid.UUID, time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n++
	return nil
}

func (p *pendingStarts) take() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.n == 0 {
		return false
	}
	p.n--
	return true
}
