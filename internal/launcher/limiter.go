package launcher

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shaiso/Pipelines/internal/domain"
)

// ActiveCounter считает SCHEDULED/RUNNING operation runs класса.
// Реализуется repo.Store и repo.MemoryStore.
type ActiveCounter interface {
	CountActiveByClass(ctx context.Context, class string) (int, error)
}

// ClassLimiter ограничивает число одновременно принятых operation runs
// на класс конкурентности (например, gpu=2).
//
// Классы без лимита пропускаются к next без проверок.
type ClassLimiter struct {
	counter ActiveCounter
	limits  map[string]int
	next    Launcher
}

// NewClassLimiter создаёт ClassLimiter поверх next.
func NewClassLimiter(counter ActiveCounter, limits map[string]int, next Launcher) *ClassLimiter {
	cp := make(map[string]int, len(limits))
	for class, limit := range limits {
		cp[class] = limit
	}
	return &ClassLimiter{counter: counter, limits: cp, next: next}
}

// Check откладывает operation run, если его класс занят до потолка.
// Проверка выполняется до захвата, поэтому сам run в счётчик не входит.
func (l *ClassLimiter) Check(ctx context.Context, run *domain.OperationRun) (Result, error) {
	class := run.Operation.Class()

	limit, ok := l.limits[class]
	if !ok {
		return Check(ctx, l.next, run)
	}

	active, err := l.counter.CountActiveByClass(ctx, class)
	if err != nil {
		return Result{}, fmt.Errorf("count active %s: %w", class, err)
	}
	if active >= limit {
		return Defer(fmt.Sprintf("concurrency class %s is at its limit (%d/%d)", class, active, limit)), nil
	}

	return Check(ctx, l.next, run)
}

// Launch передаёт уже захваченный operation run в next.
// Лимит проверен в Check: захваченный run уже учтён счётчиком.
func (l *ClassLimiter) Launch(ctx context.Context, run *domain.OperationRun) (Result, error) {
	return l.next.Launch(ctx, run)
}

// ParseClassLimits разбирает строку вида "gpu=2,cpu=8".
func ParseClassLimits(s string) (map[string]int, error) {
	limits := make(map[string]int)
	if strings.TrimSpace(s) == "" {
		return limits, nil
	}

	for _, part := range strings.Split(s, ",") {
		class, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		class = strings.TrimSpace(class)
		if !ok || class == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidLimit, part)
		}

		limit, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || limit < 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidLimit, part)
		}
		limits[class] = limit
	}

	return limits, nil
}

// FormatClassLimits — обратное к ParseClassLimits, классы по алфавиту.
func FormatClassLimits(limits map[string]int) string {
	classes := make([]string, 0, len(limits))
	for class := range limits {
		classes = append(classes, class)
	}
	sort.Strings(classes)

	parts := make([]string, 0, len(classes))
	for _, class := range classes {
		parts = append(parts, class+"="+strconv.Itoa(limits[class]))
	}
	return strings.Join(parts, ",")
}
