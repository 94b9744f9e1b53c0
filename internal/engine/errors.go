package engine

import (
	"errors"
	"strings"
)

// Ошибки валидации pipeline.
var (
	// ErrEmptyOperations — pipeline не содержит операций.
	ErrEmptyOperations = errors.New("pipeline has no operations")

	// ErrEmptyOperationName — операция не имеет имени.
	ErrEmptyOperationName = errors.New("operation has empty name")

	// ErrDuplicateOperation — несколько операций с одинаковым именем.
	ErrDuplicateOperation = errors.New("duplicate operation name")

	// ErrEmptyKind — у операции не указан kind.
	ErrEmptyKind = errors.New("operation has empty kind")

	// ErrMissingDependency — операция зависит от несуществующей операции.
	ErrMissingDependency = errors.New("operation depends on unknown operation")

	// ErrSelfDependency — операция зависит от самой себя.
	ErrSelfDependency = errors.New("operation depends on itself")

	// ErrCyclicGraph — в графе операций есть цикл.
	ErrCyclicGraph = errors.New("cyclic dependency detected")

	// ErrNegativeConcurrency — отрицательный бюджет конкурентности.
	ErrNegativeConcurrency = errors.New("concurrency must not be negative")

	// ErrUnsupportedFormat — неизвестный формат файла определения.
	ErrUnsupportedFormat = errors.New("unsupported definition format")
)

// CyclicGraphError — граф не имеет топологического порядка.
type CyclicGraphError struct {
	// Nodes — узлы, не попавшие в порядок (лежат на цикле или за ним).
	Nodes []string
}

// Error реализует интерфейс error.
func (e *CyclicGraphError) Error() string {
	if len(e.Nodes) == 0 {
		return ErrCyclicGraph.Error()
	}
	return ErrCyclicGraph.Error() + ": " + strings.Join(e.Nodes, ", ")
}

// Unwrap возвращает ErrCyclicGraph.
func (e *CyclicGraphError) Unwrap() error {
	return ErrCyclicGraph
}

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	Operation string // имя операции, где произошла ошибка
	Field     string // поле, вызвавшее ошибку
	Message   string // описание ошибки
	Err       error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.Operation != "" {
		return "operation " + e.Operation + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(operation, field, message string, err error) *ValidationError {
	return &ValidationError{
		Operation: operation,
		Field:     field,
		Message:   message,
		Err:       err,
	}
}
