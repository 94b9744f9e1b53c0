package repo

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Pipelines/internal/domain"
)

// MemoryStore — run-store в памяти процесса.
//
// Повторяет семантику Store: каждый метод атомарен относительно остальных,
// наружу отдаются копии. Используется в тестах и в CLI для dry-run.
type MemoryStore struct {
	mu sync.Mutex

	pipelines    map[uuid.UUID]*domain.Pipeline
	pipelineRuns map[uuid.UUID]*domain.PipelineRun
	opRuns       map[uuid.UUID]*domain.OperationRun

	// order — operationRunIDs каждого pipeline run в порядке определения.
	order map[uuid.UUID][]uuid.UUID

	now func() time.Time
}

// NewMemoryStore создаёт пустой MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pipelines:    make(map[uuid.UUID]*domain.Pipeline),
		pipelineRuns: make(map[uuid.UUID]*domain.PipelineRun),
		opRuns:       make(map[uuid.UUID]*domain.OperationRun),
		order:        make(map[uuid.UUID][]uuid.UUID),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// CreatePipeline сохраняет шаблон pipeline.
func (s *MemoryStore) CreatePipeline(_ context.Context, p *domain.Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pipelines[p.ID]; exists {
		return fmt.Errorf("%w: pipeline %s", ErrAlreadyExists, p.ID)
	}
	cp := *p
	cp.Operations = slices.Clone(p.Operations)
	s.pipelines[p.ID] = &cp
	return nil
}

// GetPipeline возвращает pipeline по ID.
func (s *MemoryStore) GetPipeline(_ context.Context, id uuid.UUID) (*domain.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pipelines[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	cp.Operations = slices.Clone(p.Operations)
	return &cp, nil
}

// CreatePipelineRun создаёт run и operation runs для pipeline.
func (s *MemoryStore) CreatePipelineRun(_ context.Context, p *domain.Pipeline) (*domain.PipelineRun, []domain.OperationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ops := domain.NewPipelineRun(p, s.now())

	s.pipelineRuns[run.ID] = copyPipelineRun(run)
	ids := make([]uuid.UUID, 0, len(ops))
	for i := range ops {
		s.opRuns[ops[i].ID] = copyOperationRun(&ops[i])
		ids = append(ids, ops[i].ID)
	}
	s.order[run.ID] = ids

	return run, ops, nil
}

// GetPipelineRun возвращает pipeline run по ID.
func (s *MemoryStore) GetPipelineRun(_ context.Context, id uuid.UUID) (*domain.PipelineRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.pipelineRuns[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyPipelineRun(run), nil
}

// ListActivePipelineRuns возвращает нетерминальные pipeline runs после курсора
// after, старые первыми. Порядок — (CreatedAt, ID).
func (s *MemoryStore) ListActivePipelineRuns(_ context.Context, after domain.RunCursor, limit int) ([]domain.PipelineRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runs := make([]domain.PipelineRun, 0)
	for _, run := range s.pipelineRuns {
		if !run.IsFinished() && after.Precedes(run) {
			runs = append(runs, *copyPipelineRun(run))
		}
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].ID.String() < runs[j].ID.String()
		}
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})

	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// SetPipelineRunStatus добавляет статус в историю pipeline run.
func (s *MemoryStore) SetPipelineRunStatus(_ context.Context, id uuid.UUID, status domain.PipelineStatus, message string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.pipelineRuns[id]
	if !ok {
		return false, ErrNotFound
	}
	return run.Transition(status, message, s.now()), nil
}

// DeletePipelineRun удаляет pipeline run вместе с его operation runs.
func (s *MemoryStore) DeletePipelineRun(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pipelineRuns[id]; !ok {
		return ErrNotFound
	}
	for _, opID := range s.order[id] {
		delete(s.opRuns, opID)
	}
	delete(s.order, id)
	delete(s.pipelineRuns, id)
	return nil
}

// GetOperationRun возвращает operation run по ID.
func (s *MemoryStore) GetOperationRun(_ context.Context, id uuid.UUID) (*domain.OperationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.opRuns[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyOperationRun(run), nil
}

// ListOperationRuns возвращает operation runs pipeline run в порядке определения.
func (s *MemoryStore) ListOperationRuns(_ context.Context, pipelineRunID uuid.UUID) ([]domain.OperationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.order[pipelineRunID]
	runs := make([]domain.OperationRun, 0, len(ids))
	for _, id := range ids {
		runs = append(runs, *copyOperationRun(s.opRuns[id]))
	}
	return runs, nil
}

// SetOperationRunStatus переводит operation run в статус status.
func (s *MemoryStore) SetOperationRunStatus(_ context.Context, id uuid.UUID, status domain.OperationStatus, message string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.opRuns[id]
	if !ok {
		return false, ErrNotFound
	}
	return run.Transition(status, message, s.now())
}

// TransitionOperationRuns переводит в статус to все operation runs pipeline run
// в статусах from. Переходы проверяются до применения: либо все, либо ни один.
func (s *MemoryStore) TransitionOperationRuns(
	_ context.Context,
	pipelineRunID uuid.UUID,
	from []domain.OperationStatus,
	to domain.OperationStatus,
	message string,
) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	targets := make([]*domain.OperationRun, 0)
	for _, id := range s.order[pipelineRunID] {
		run := s.opRuns[id]
		if !slices.Contains(from, run.Status) || run.Status == to {
			continue
		}
		if !run.Status.CanTransitionTo(to) {
			return nil, fmt.Errorf("operation run %s: %w: %s → %s", run.ID, domain.ErrInvalidTransition, run.Status, to)
		}
		targets = append(targets, run)
	}

	now := s.now()
	changed := make([]uuid.UUID, 0, len(targets))
	for _, run := range targets {
		if _, err := run.Transition(to, message, now); err != nil {
			return nil, err
		}
		changed = append(changed, run.ID)
	}
	return changed, nil
}

// CountActiveByClass возвращает число SCHEDULED/RUNNING operation runs класса class.
func (s *MemoryStore) CountActiveByClass(_ context.Context, class string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, run := range s.opRuns {
		if run.Status.IsActive() && run.Operation.Class() == class {
			count++
		}
	}
	return count, nil
}

// --- Helpers ---

func copyPipelineRun(run *domain.PipelineRun) *domain.PipelineRun {
	cp := *run
	cp.History = slices.Clone(run.History)
	return &cp
}

func copyOperationRun(run *domain.OperationRun) *domain.OperationRun {
	cp := *run
	cp.History = slices.Clone(run.History)
	cp.Operation.Upstream = slices.Clone(run.Operation.Upstream)
	return &cp
}
