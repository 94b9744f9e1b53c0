package launcher

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shaiso/Pipelines/internal/domain"
)

// Decision — решение launcher по operation run.
type Decision string

const (
	Accepted Decision = "accepted"
	Deferred Decision = "deferred"
	Rejected Decision = "rejected"
)

// Result — ответ launcher.
type Result struct {
	Decision Decision

	// Reason — пояснение для истории статусов и логов.
	Reason string
}

// Accept возвращает решение Accepted.
func Accept() Result {
	return Result{Decision: Accepted}
}

// Defer возвращает решение Deferred с причиной.
func Defer(reason string) Result {
	return Result{Decision: Deferred, Reason: reason}
}

// Reject возвращает решение Rejected с причиной.
func Reject(reason string) Result {
	return Result{Decision: Rejected, Reason: reason}
}

// Launcher пытается передать operation run на исполнение.
//
// Ошибка означает инфраструктурный сбой: планировщик трактует её как Deferred.
type Launcher interface {
	Launch(ctx context.Context, run *domain.OperationRun) (Result, error)
}

// Checker — необязательная проверка допуска без побочных эффектов.
//
// Планировщик вызывает Check до захвата operation run (CREATED → SCHEDULED),
// а Launch — только после захвата. Launcher без Checker принимает любую проверку.
type Checker interface {
	Check(ctx context.Context, run *domain.OperationRun) (Result, error)
}

// Check проверяет допуск run через l, если l реализует Checker.
func Check(ctx context.Context, l Launcher, run *domain.OperationRun) (Result, error) {
	if c, ok := l.(Checker); ok {
		return c.Check(ctx, run)
	}
	return Accept(), nil
}

// Func — адаптер функции к Launcher.
type Func func(ctx context.Context, run *domain.OperationRun) (Result, error)

// Launch вызывает f.
func (f Func) Launch(ctx context.Context, run *domain.OperationRun) (Result, error) {
	return f(ctx, run)
}

// AcceptAll принимает любой operation run.
var AcceptAll = Func(func(context.Context, *domain.OperationRun) (Result, error) {
	return Accept(), nil
})

// Registry — реестр launcher'ов по kind операции.
type Registry struct {
	mu        sync.RWMutex
	launchers map[string]Launcher
	fallback  Launcher
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{launchers: make(map[string]Launcher)}
}

// Register добавляет launcher для kind.
func (r *Registry) Register(kind string, l Launcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.launchers[kind] = l
}

// SetFallback задаёт launcher для kind без явной регистрации.
func (r *Registry) SetFallback(l Launcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = l
}

// Get возвращает launcher для kind.
func (r *Registry) Get(kind string) (Launcher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if l, ok := r.launchers[kind]; ok {
		return l, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
}

// Kinds возвращает зарегистрированные kinds в алфавитном порядке.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.launchers))
	for kind := range r.launchers {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Launch передаёт operation run launcher'у его kind.
// Неизвестный kind — Rejected: повтор не поможет.
func (r *Registry) Launch(ctx context.Context, run *domain.OperationRun) (Result, error) {
	l, err := r.Get(run.Operation.Kind)
	if err != nil {
		return Reject(err.Error()), nil
	}
	return l.Launch(ctx, run)
}

// Check проверяет допуск у launcher'а kind. Неизвестный kind — Rejected.
func (r *Registry) Check(ctx context.Context, run *domain.OperationRun) (Result, error) {
	l, err := r.Get(run.Operation.Kind)
	if err != nil {
		return Reject(err.Error()), nil
	}
	return Check(ctx, l, run)
}
