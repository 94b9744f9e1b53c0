package pipelines

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Pipelines/internal/domain"
	"github.com/shaiso/Pipelines/internal/launcher"
	"github.com/shaiso/Pipelines/internal/repo"
)

const testRetryInterval = 3 * time.Second

// --- Fakes ---

type dispatch struct {
	PipelineRunID uuid.UUID
	Delay         time.Duration
}

type fakeDispatcher struct {
	calls []dispatch
	err   error
}

func (d *fakeDispatcher) PublishPipelineStart(_ context.Context, id uuid.UUID, delay time.Duration) error {
	if d.err != nil {
		return d.err
	}
	d.calls = append(d.calls, dispatch{PipelineRunID: id, Delay: delay})
	return nil
}

// scriptedLauncher принимает всё, кроме операций из results и errs.
//
// results и errs отвечают на проверку до захвата, dispatch и dispatchErrs —
// на передачу после захвата. onCheck вызывается в начале проверки.
type scriptedLauncher struct {
	results      map[string]launcher.Result
	errs         map[string]error
	dispatch     map[string]launcher.Result
	dispatchErrs map[string]error
	onCheck      func(run *domain.OperationRun)
	checked      []string
	launched     []string
}

func newScriptedLauncher() *scriptedLauncher {
	return &scriptedLauncher{
		results:      make(map[string]launcher.Result),
		errs:         make(map[string]error),
		dispatch:     make(map[string]launcher.Result),
		dispatchErrs: make(map[string]error),
	}
}

func (l *scriptedLauncher) Check(_ context.Context, run *domain.OperationRun) (launcher.Result, error) {
	l.checked = append(l.checked, run.Name())
	if l.onCheck != nil {
		l.onCheck(run)
	}
	if err, ok := l.errs[run.Name()]; ok {
		return launcher.Result{}, err
	}
	if res, ok := l.results[run.Name()]; ok {
		return res, nil
	}
	return launcher.Accept(), nil
}

func (l *scriptedLauncher) Launch(_ context.Context, run *domain.OperationRun) (launcher.Result, error) {
	l.launched = append(l.launched, run.Name())
	if err, ok := l.dispatchErrs[run.Name()]; ok {
		return launcher.Result{}, err
	}
	if res, ok := l.dispatch[run.Name()]; ok {
		return res, nil
	}
	return launcher.Accept(), nil
}

// failingStore отказывает в выбранных операциях записи.
// failOnce отказывает один раз в записи статуса конкретному operation run.
type failingStore struct {
	*repo.MemoryStore
	failTransition bool
	failSetStatus  bool
	failOnce       map[uuid.UUID]domain.OperationStatus
}

var errStoreDown = errors.New("store is down")

func (s *failingStore) TransitionOperationRuns(
	ctx context.Context,
	pipelineRunID uuid.UUID,
	from []domain.OperationStatus,
	to domain.OperationStatus,
	message string,
) ([]uuid.UUID, error) {
	if s.failTransition {
		return nil, errStoreDown
	}
	return s.MemoryStore.TransitionOperationRuns(ctx, pipelineRunID, from, to, message)
}

func (s *failingStore) SetOperationRunStatus(ctx context.Context, id uuid.UUID, status domain.OperationStatus, message string) (bool, error) {
	if s.failSetStatus {
		return false, errStoreDown
	}
	if want, ok := s.failOnce[id]; ok && want == status {
		delete(s.failOnce, id)
		return false, errStoreDown
	}
	return s.MemoryStore.SetOperationRunStatus(ctx, id, status, message)
}

// --- Fixture ---

type fixture struct {
	t          *testing.T
	ctx        context.Context
	store      *repo.MemoryStore
	launcher   *scriptedLauncher
	dispatcher *fakeDispatcher
	scheduler  *Scheduler
	run        *domain.PipelineRun
	ids        map[string]uuid.UUID
}

func op(name string, upstream ...string) domain.Operation {
	return domain.Operation{ID: uuid.New(), Name: name, Kind: "job", Upstream: upstream}
}

func newFixture(t *testing.T, concurrency int, ops ...domain.Operation) *fixture {
	t.Helper()
	return newFixtureWithStore(t, repo.NewMemoryStore(), nil, concurrency, ops...)
}

func newFixtureWithStore(t *testing.T, mem *repo.MemoryStore, store Store, concurrency int, ops ...domain.Operation) *fixture {
	t.Helper()

	ctx := context.Background()
	p := &domain.Pipeline{ID: uuid.New(), Name: "test", Concurrency: concurrency, Operations: ops}
	if err := mem.CreatePipeline(ctx, p); err != nil {
		t.Fatalf("create pipeline: %v", err)
	}
	run, opRuns, err := mem.CreatePipelineRun(ctx, p)
	if err != nil {
		t.Fatalf("create pipeline run: %v", err)
	}

	ids := make(map[string]uuid.UUID, len(opRuns))
	for i := range opRuns {
		ids[opRuns[i].Name()] = opRuns[i].ID
	}

	if store == nil {
		store = mem
	}
	l := newScriptedLauncher()
	d := &fakeDispatcher{}
	s, err := New(Config{
		Store:         store,
		Launcher:      l,
		Dispatcher:    d,
		RetryInterval: testRetryInterval,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	return &fixture{
		t:          t,
		ctx:        ctx,
		store:      mem,
		launcher:   l,
		dispatcher: d,
		scheduler:  s,
		run:        run,
		ids:        ids,
	}
}

// admit вызывает цикл допуска и проверяет отсутствие ошибки.
func (f *fixture) admit() *AdmissionResult {
	f.t.Helper()
	res, err := f.scheduler.StartPipelineRun(f.ctx, f.run.ID)
	if err != nil {
		f.t.Fatalf("StartPipelineRun: %v", err)
	}
	return res
}

// report передаёт отчёты исполнителя для операции name.
func (f *fixture) report(name string, statuses ...domain.OperationStatus) {
	f.t.Helper()
	for _, status := range statuses {
		if err := f.scheduler.ReportStatus(f.ctx, f.ids[name], status, ""); err != nil {
			f.t.Fatalf("ReportStatus(%s, %s): %v", name, status, err)
		}
	}
}

// force выставляет статусы напрямую в run-store, минуя планировщик.
func (f *fixture) force(name string, statuses ...domain.OperationStatus) {
	f.t.Helper()
	for _, status := range statuses {
		if _, err := f.store.SetOperationRunStatus(f.ctx, f.ids[name], status, ""); err != nil {
			f.t.Fatalf("force %s → %s: %v", name, status, err)
		}
	}
}

func (f *fixture) opStatus(name string) domain.OperationStatus {
	f.t.Helper()
	run, err := f.store.GetOperationRun(f.ctx, f.ids[name])
	if err != nil {
		f.t.Fatalf("get operation run %s: %v", name, err)
	}
	return run.Status
}

func (f *fixture) opHistory(name string) []domain.OperationStatus {
	f.t.Helper()
	run, err := f.store.GetOperationRun(f.ctx, f.ids[name])
	if err != nil {
		f.t.Fatalf("get operation run %s: %v", name, err)
	}
	statuses := make([]domain.OperationStatus, 0, len(run.History))
	for _, h := range run.History {
		statuses = append(statuses, h.Status)
	}
	return statuses
}

func (f *fixture) pipelineRun() *domain.PipelineRun {
	f.t.Helper()
	run, err := f.store.GetPipelineRun(f.ctx, f.run.ID)
	if err != nil {
		f.t.Fatalf("get pipeline run: %v", err)
	}
	return run
}

func (f *fixture) pipelineStatus() domain.PipelineStatus {
	f.t.Helper()
	return f.pipelineRun().Status
}
