package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Operation — узел DAG pipeline.
//
// Описывает одну единицу работы: что запускать (Kind + Config),
// от каких операций зависит (Upstream) и в каком классе конкурентности
// выполняется.
type Operation struct {
	// ID — уникальный идентификатор операции.
	ID uuid.UUID `json:"id"`

	// Name — имя операции, уникальное в рамках pipeline.
	// Upstream ссылается на операции по имени.
	Name string `json:"name"`

	// Kind — тип работы: по нему launcher выбирает исполнителя.
	Kind string `json:"kind"`

	// Upstream — имена операций, которые должны завершиться раньше.
	Upstream []string `json:"upstream,omitempty"`

	// ConcurrencyClass — класс конкурентности (например, "gpu").
	// Пустая строка — класс "default".
	ConcurrencyClass string `json:"concurrency_class,omitempty"`

	// Config — спецификация работы, передаётся исполнителю как есть.
	Config map[string]any `json:"config,omitempty"`
}

// Class возвращает класс конкурентности с учётом значения по умолчанию.
func (o *Operation) Class() string {
	if o.ConcurrencyClass == "" {
		return DefaultConcurrencyClass
	}
	return o.ConcurrencyClass
}

// DefaultConcurrencyClass — класс операций без явного concurrency_class.
const DefaultConcurrencyClass = "default"

// OperationRun — одно выполнение Operation в рамках PipelineRun.
type OperationRun struct {
	// ID — уникальный идентификатор operation run.
	ID uuid.UUID `json:"id"`

	// PipelineRunID — ссылка на владельца (только для агрегации статуса).
	PipelineRunID uuid.UUID `json:"pipeline_run_id"`

	// Operation — шаблон операции.
	Operation Operation `json:"operation"`

	// Status — текущий статус (последняя запись History).
	Status OperationStatus `json:"status"`

	// RetryCount — число повторных попыток (RUNNING → SCHEDULED).
	RetryCount int `json:"retry_count"`

	// History — история статусов в порядке появления.
	History []StatusEntry[OperationStatus] `json:"history,omitempty"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего перехода.
	UpdatedAt time.Time `json:"updated_at"`
}

// IsFinished возвращает true, если operation run завершён.
func (r *OperationRun) IsFinished() bool {
	return r.Status.IsTerminal()
}

// Name возвращает имя операции (ключ в DAG).
func (r *OperationRun) Name() string {
	return r.Operation.Name
}

// Transition применяет переход к статусу next.
//
// Возвращает false без изменений, если статус уже равен next.
// Возвращает ErrInvalidTransition, если переход запрещён.
func (r *OperationRun) Transition(next OperationStatus, message string, now time.Time) (bool, error) {
	if r.Status == next {
		return false, nil
	}
	if !r.Status.CanTransitionTo(next) {
		return false, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, r.Status, next)
	}
	if r.Status.IsRetry(next) {
		r.RetryCount++
	}
	r.Status = next
	r.History = append(r.History, StatusEntry[OperationStatus]{Status: next, Message: message, CreatedAt: now})
	r.UpdatedAt = now
	return true, nil
}

// Transition применяет переход pipeline run к статусу next.
//
// Возвращает false без изменений для равного статуса и для переходов,
// нарушающих монотонность (например, из терминального статуса).
func (r *PipelineRun) Transition(next PipelineStatus, message string, now time.Time) bool {
	if !r.Status.CanTransitionTo(next) {
		return false
	}
	r.Status = next
	r.History = append(r.History, StatusEntry[PipelineStatus]{Status: next, Message: message, CreatedAt: now})
	r.UpdatedAt = now
	return true
}
