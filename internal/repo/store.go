package repo

import "github.com/jackc/pgx/v5/pgxpool"

// Store объединяет репозитории в run-store поверх PostgreSQL.
type Store struct {
	*PipelineRepo
	*OperationRunRepo
}

// NewStore создаёт Store поверх пула соединений.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		PipelineRepo:     NewPipelineRepo(pool),
		OperationRunRepo: NewOperationRunRepo(pool),
	}
}
