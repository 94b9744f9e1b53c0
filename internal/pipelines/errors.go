package pipelines

import "errors"

// Ошибки планировщика.
var (
	// ErrMissingOperation — upstream ссылается на операцию, которой нет в pipeline run.
	ErrMissingOperation = errors.New("upstream operation not found in pipeline run")

	// ErrNoStore — Scheduler создан без run-store.
	ErrNoStore = errors.New("scheduler requires a store")

	// ErrNoLauncher — Scheduler создан без launcher.
	ErrNoLauncher = errors.New("scheduler requires a launcher")

	// ErrNoDispatcher — Scheduler создан без dispatcher.
	ErrNoDispatcher = errors.New("scheduler requires a dispatcher")
)
