package engine

import "errors"

var (
	// ErrNotFound — work item или якорь не найден у владельца.
	ErrNotFound = errors.New("work item not found")

	// ErrAnchorNotFound — владелец не существует.
	ErrAnchorNotFound = errors.New("anchor not found")

	// ErrInvalidBatchSize — размер батча claim должен быть положительным.
	ErrInvalidBatchSize = errors.New("batch size must be positive")

	// ErrKindMismatch — владелец другого типа, чем Engine.
	ErrKindMismatch = errors.New("owner kind does not match engine")

	// ErrInvalidStatus — неизвестный статус попытки.
	ErrInvalidStatus = errors.New("invalid attempt status")
)
