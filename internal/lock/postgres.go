package lock

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres — Locker на advisory locks PostgreSQL.
//
// Advisory lock принадлежит сессии, поэтому каждая блокировка держит
// своё соединение из пула до Unlock.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres создаёт Postgres locker.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// TryLock берёт pg_try_advisory_lock по хэшу key.
func (p *Postgres) TryLock(ctx context.Context, key string) (Lock, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire conn: %w", err)
	}

	id := AdvisoryKey(key)

	var ok bool
	if err := conn.QueryRow(ctx, "select pg_try_advisory_lock($1)", id).Scan(&ok); err != nil {
		conn.Release()
		return nil, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, ErrLocked
	}

	return &pgLock{conn: conn, id: id}, nil
}

type pgLock struct {
	conn *pgxpool.Conn
	id   int64
}

func (l *pgLock) Unlock(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	defer func() {
		l.conn.Release()
		l.conn = nil
	}()

	if _, err := l.conn.Exec(ctx, "select pg_advisory_unlock($1)", l.id); err != nil {
		return fmt.Errorf("advisory unlock: %w", err)
	}
	return nil
}

// AdvisoryKey переводит строковый ключ в int64 для advisory lock.
func AdvisoryKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}
