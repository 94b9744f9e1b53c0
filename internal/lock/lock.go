package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrLocked — блокировка удерживается другим владельцем.
var ErrLocked = errors.New("lock is held by another owner")

// Lock — взятая блокировка.
type Lock interface {
	Unlock(ctx context.Context) error
}

// Locker берёт неблокирующие блокировки по ключу.
type Locker interface {
	// TryLock возвращает ErrLocked, если ключ уже заблокирован.
	TryLock(ctx context.Context, key string) (Lock, error)
}

// Local — Locker в памяти процесса.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocal создаёт Local.
func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

// TryLock берёт блокировку key.
func (l *Local) TryLock(_ context.Context, key string) (Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return nil, ErrLocked
	}
	l.held[key] = struct{}{}
	return &localLock{owner: l, key: key}, nil
}

type localLock struct {
	owner *Local
	key   string
	once  sync.Once
}

func (l *localLock) Unlock(context.Context) error {
	l.once.Do(func() {
		l.owner.mu.Lock()
		delete(l.owner.held, l.key)
		l.owner.mu.Unlock()
	})
	return nil
}
