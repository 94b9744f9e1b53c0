package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition — переход между статусами запрещён таблицей переходов.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrUnknownStatus — строка не соответствует ни одному известному статусу.
var ErrUnknownStatus = errors.New("unknown status")

// OperationStatus — статус выполнения operation run.
//
// Жизненный цикл:
//
//	CREATED → SCHEDULED → RUNNING → SUCCEEDED
//	             ↑          │     ↘ FAILED
//	             └── retry ─┘
//	(из любого нетерминального) → STOPPED | SKIPPED
//	SCHEDULED → CREATED — возврат захваченного run, который исполнитель не принял
//
// CREATED и терминальные статусы стабильны, SCHEDULED/RUNNING выставляет
// исполнитель (launcher), планировщик их только наблюдает.
type OperationStatus string

const (
	// OperationStatusCreated — operation run создан и ждёт допуска.
	OperationStatusCreated OperationStatus = "CREATED"

	// OperationStatusScheduled — допущен, исполнитель принял работу.
	OperationStatusScheduled OperationStatus = "SCHEDULED"

	// OperationStatusRunning — выполняется.
	OperationStatusRunning OperationStatus = "RUNNING"

	// OperationStatusSucceeded — успешно завершён.
	OperationStatusSucceeded OperationStatus = "SUCCEEDED"

	// OperationStatusFailed — завершился с ошибкой.
	OperationStatusFailed OperationStatus = "FAILED"

	// OperationStatusStopped — остановлен.
	OperationStatusStopped OperationStatus = "STOPPED"

	// OperationStatusSkipped — пропущен.
	OperationStatusSkipped OperationStatus = "SKIPPED"
)

// OperationStatuses — все статусы operation run в порядке жизненного цикла.
var OperationStatuses = []OperationStatus{
	OperationStatusCreated,
	OperationStatusScheduled,
	OperationStatusRunning,
	OperationStatusSucceeded,
	OperationStatusFailed,
	OperationStatusStopped,
	OperationStatusSkipped,
}

// DoneStatuses — класс "done": SUCCEEDED, FAILED, STOPPED, SKIPPED.
var DoneStatuses = []OperationStatus{
	OperationStatusSucceeded,
	OperationStatusFailed,
	OperationStatusStopped,
	OperationStatusSkipped,
}

// ActiveStatuses — статусы, в которых operation run занимает исполнителя.
var ActiveStatuses = []OperationStatus{
	OperationStatusScheduled,
	OperationStatusRunning,
}

// PendingStatuses — все нетерминальные статусы.
var PendingStatuses = []OperationStatus{
	OperationStatusCreated,
	OperationStatusScheduled,
	OperationStatusRunning,
}

// IsDone возвращает true для статусов класса "done".
func (s OperationStatus) IsDone() bool {
	switch s {
	case OperationStatusSucceeded, OperationStatusFailed, OperationStatusStopped, OperationStatusSkipped:
		return true
	case OperationStatusCreated, OperationStatusScheduled, OperationStatusRunning:
		return false
	default:
		return false
	}
}

// IsTerminal возвращает true, если из статуса нет переходов.
// Для operation run совпадает с IsDone.
func (s OperationStatus) IsTerminal() bool {
	return s.IsDone()
}

// IsActive возвращает true, если работа принята исполнителем.
func (s OperationStatus) IsActive() bool {
	switch s {
	case OperationStatusScheduled, OperationStatusRunning:
		return true
	default:
		return false
	}
}

// Valid проверяет, что статус известен.
func (s OperationStatus) Valid() bool {
	switch s {
	case OperationStatusCreated, OperationStatusScheduled, OperationStatusRunning,
		OperationStatusSucceeded, OperationStatusFailed, OperationStatusStopped, OperationStatusSkipped:
		return true
	default:
		return false
	}
}

// CanTransitionTo проверяет переход s → next.
// Одинаковый статус переходом не считается (no-op обрабатывается выше).
func (s OperationStatus) CanTransitionTo(next OperationStatus) bool {
	switch s {
	case OperationStatusCreated:
		switch next {
		case OperationStatusScheduled, OperationStatusFailed, OperationStatusStopped, OperationStatusSkipped:
			return true
		}
	case OperationStatusScheduled:
		switch next {
		case OperationStatusCreated, OperationStatusRunning, OperationStatusSucceeded,
			OperationStatusFailed, OperationStatusStopped, OperationStatusSkipped:
			return true
		}
	case OperationStatusRunning:
		switch next {
		case OperationStatusScheduled, OperationStatusSucceeded, OperationStatusFailed,
			OperationStatusStopped, OperationStatusSkipped:
			return true
		}
	case OperationStatusSucceeded, OperationStatusFailed, OperationStatusStopped, OperationStatusSkipped:
		return false
	}
	return false
}

// IsRetry возвращает true, если переход s → next означает повторную попытку.
func (s OperationStatus) IsRetry(next OperationStatus) bool {
	return s == OperationStatusRunning && next == OperationStatusScheduled
}

// String возвращает строковое представление OperationStatus.
func (s OperationStatus) String() string {
	return string(s)
}

// ParseOperationStatus парсит строку в OperationStatus.
func ParseOperationStatus(s string) (OperationStatus, error) {
	status := OperationStatus(s)
	if !status.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return status, nil
}

// PipelineStatus — агрегированный статус pipeline run.
//
// Жизненный цикл:
//
//	CREATED → RUNNING → FINISHED
//	                  ↘ FAILED
//	   (stop/skip) → STOPPING → STOPPED
type PipelineStatus string

const (
	// PipelineStatusCreated — run создан, ни одна операция не допущена.
	PipelineStatusCreated PipelineStatus = "CREATED"

	// PipelineStatusRunning — хотя бы одна операция вышла из CREATED.
	PipelineStatusRunning PipelineStatus = "RUNNING"

	// PipelineStatusStopping — запрошена остановка, propagation в процессе.
	PipelineStatusStopping PipelineStatus = "STOPPING"

	// PipelineStatusFinished — дальнейшего планирования не будет, ошибок нет.
	PipelineStatusFinished PipelineStatus = "FINISHED"

	// PipelineStatusFailed — хотя бы одна операция упала или DAG некорректен.
	PipelineStatusFailed PipelineStatus = "FAILED"

	// PipelineStatusStopped — остановлен по запросу.
	PipelineStatusStopped PipelineStatus = "STOPPED"
)

// PipelineStatuses — все статусы pipeline run.
var PipelineStatuses = []PipelineStatus{
	PipelineStatusCreated,
	PipelineStatusRunning,
	PipelineStatusStopping,
	PipelineStatusFinished,
	PipelineStatusFailed,
	PipelineStatusStopped,
}

// IsTerminal возвращает true, если статус финальный.
func (s PipelineStatus) IsTerminal() bool {
	switch s {
	case PipelineStatusFinished, PipelineStatusFailed, PipelineStatusStopped:
		return true
	case PipelineStatusCreated, PipelineStatusRunning, PipelineStatusStopping:
		return false
	default:
		return false
	}
}

// Valid проверяет, что статус известен.
func (s PipelineStatus) Valid() bool {
	switch s {
	case PipelineStatusCreated, PipelineStatusRunning, PipelineStatusStopping,
		PipelineStatusFinished, PipelineStatusFailed, PipelineStatusStopped:
		return true
	default:
		return false
	}
}

// CanTransitionTo проверяет монотонность: из терминального статуса выхода нет,
// STOPPING не возвращается в CREATED/RUNNING, ничто не возвращается в CREATED.
func (s PipelineStatus) CanTransitionTo(next PipelineStatus) bool {
	if s == next || s.IsTerminal() || !next.Valid() {
		return false
	}
	switch next {
	case PipelineStatusCreated:
		return false
	case PipelineStatusRunning:
		return s == PipelineStatusCreated
	default:
		return true
	}
}

// String возвращает строковое представление PipelineStatus.
func (s PipelineStatus) String() string {
	return string(s)
}

// ParsePipelineStatus парсит строку в PipelineStatus.
func ParsePipelineStatus(s string) (PipelineStatus, error) {
	status := PipelineStatus(s)
	if !status.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return status, nil
}

// Aggregate вычисляет статус pipeline run по статусам его operation runs.
//
// Приоритет:
//   - есть нетерминальные: STOPPING при запрошенной остановке,
//     CREATED если ни одна операция не вышла из CREATED, иначе RUNNING;
//   - все терминальные: STOPPED при запрошенной остановке,
//     иначе FAILED если есть FAILED, иначе STOPPED если есть STOPPED,
//     иначе FINISHED.
func Aggregate(statuses []OperationStatus, stopRequested bool) PipelineStatus {
	var pending, created, failed, stopped int
	for _, s := range statuses {
		switch s {
		case OperationStatusCreated:
			pending++
			created++
		case OperationStatusScheduled, OperationStatusRunning:
			pending++
		case OperationStatusFailed:
			failed++
		case OperationStatusStopped:
			stopped++
		case OperationStatusSucceeded, OperationStatusSkipped:
		}
	}

	if pending > 0 {
		switch {
		case stopRequested:
			return PipelineStatusStopping
		case created == len(statuses):
			return PipelineStatusCreated
		default:
			return PipelineStatusRunning
		}
	}

	switch {
	case stopRequested:
		return PipelineStatusStopped
	case failed > 0:
		return PipelineStatusFailed
	case stopped > 0:
		return PipelineStatusStopped
	default:
		return PipelineStatusFinished
	}
}
