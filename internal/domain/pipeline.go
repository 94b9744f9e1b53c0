package domain

import (
	"time"

	"github.com/google/uuid"
)

// Pipeline — именованный DAG операций.
//
// Pipeline — это шаблон: неизменяем после создания.
// Каждый запуск (PipelineRun) выполняет операции этого шаблона.
type Pipeline struct {
	// ID — уникальный идентификатор pipeline.
	ID uuid.UUID `json:"id"`

	// Name — имя pipeline (например, "train-and-eval").
	Name string `json:"name"`

	// Concurrency — сколько operation runs допускать за один вызов планировщика.
	// 0 — использовать значение по умолчанию из конфигурации.
	Concurrency int `json:"concurrency,omitempty"`

	// Operations — узлы DAG.
	Operations []Operation `json:"operations"`

	// CreatedAt — время создания pipeline.
	CreatedAt time.Time `json:"created_at"`
}

// StatusEntry — одна запись истории статусов.
//
// История только дополняется: записи никогда не изменяются,
// текущий статус — последняя запись.
type StatusEntry[S ~string] struct {
	// Status — выставленный статус.
	Status S `json:"status"`

	// Message — причина перехода (может быть пустой).
	Message string `json:"message,omitempty"`

	// CreatedAt — время перехода.
	CreatedAt time.Time `json:"created_at"`
}

// PipelineRun — экземпляр выполнения pipeline.
//
// PipelineRun владеет своими OperationRun: один OperationRun на каждую
// Operation создаётся вместе с run.
type PipelineRun struct {
	// ID — уникальный идентификатор pipeline run.
	ID uuid.UUID `json:"id"`

	// PipelineID — ссылка на шаблон pipeline.
	PipelineID uuid.UUID `json:"pipeline_id"`

	// Status — текущий статус (последняя запись History).
	Status PipelineStatus `json:"status"`

	// Concurrency — бюджет допуска за один вызов планировщика.
	Concurrency int `json:"concurrency,omitempty"`

	// History — история статусов в порядке появления.
	History []StatusEntry[PipelineStatus] `json:"history,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего перехода.
	UpdatedAt time.Time `json:"updated_at"`
}

// IsFinished возвращает true, если run завершён (в любом статусе).
func (r *PipelineRun) IsFinished() bool {
	return r.Status.IsTerminal()
}

// StopRequested возвращает true, если для run запрошена остановка.
func (r *PipelineRun) StopRequested() bool {
	return r.Status == PipelineStatusStopping || r.Status == PipelineStatusStopped
}

// Schedulable возвращает true, если планировщик может допускать операции.
func (r *PipelineRun) Schedulable() bool {
	return !r.IsFinished() && !r.StopRequested()
}

// RunCursor — позиция в списке pipeline runs, упорядоченном по (CreatedAt, ID).
// Нулевой курсор — начало списка.
type RunCursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// IsZero возвращает true для курсора начала списка.
func (c RunCursor) IsZero() bool {
	return c.ID == uuid.Nil && c.CreatedAt.IsZero()
}

// Precedes возвращает true, если run стоит в списке после курсора.
func (c RunCursor) Precedes(run *PipelineRun) bool {
	if c.IsZero() {
		return true
	}
	if !run.CreatedAt.Equal(c.CreatedAt) {
		return run.CreatedAt.After(c.CreatedAt)
	}
	return run.ID.String() > c.ID.String()
}

// Cursor возвращает курсор, указывающий на run.
func (r *PipelineRun) Cursor() RunCursor {
	return RunCursor{CreatedAt: r.CreatedAt, ID: r.ID}
}

// NewPipelineRun создаёт run со статусом CREATED и по одному OperationRun
// на каждую операцию pipeline.
func NewPipelineRun(p *Pipeline, now time.Time) (*PipelineRun, []OperationRun) {
	run := &PipelineRun{
		ID:          uuid.New(),
		PipelineID:  p.ID,
		Status:      PipelineStatusCreated,
		Concurrency: p.Concurrency,
		History: []StatusEntry[PipelineStatus]{
			{Status: PipelineStatusCreated, CreatedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	opRuns := make([]OperationRun, 0, len(p.Operations))
	for i := range p.Operations {
		opRuns = append(opRuns, OperationRun{
			ID:            uuid.New(),
			PipelineRunID: run.ID,
			Operation:     p.Operations[i],
			Status:        OperationStatusCreated,
			History: []StatusEntry[OperationStatus]{
				{Status: OperationStatusCreated, CreatedAt: now},
			},
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	return run, opRuns
}
