package launcher

import "errors"

// Ошибки launcher.
var (
	// ErrUnknownKind — нет launcher для kind операции.
	ErrUnknownKind = errors.New("unknown operation kind")

	// ErrInvalidLimit — некорректное описание лимитов классов.
	ErrInvalidLimit = errors.New("invalid concurrency class limit")
)
