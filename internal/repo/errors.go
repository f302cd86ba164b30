package repo

import "errors"

// Общие ошибки хранилища. Возвращаются всеми реализациями Store.
var (
	// ErrNotFound — запись не найдена (или не принадлежит владельцу).
	ErrNotFound = errors.New("not found")

	// ErrInvalidState — операция невозможна в текущем состоянии
	// (например, изменение work item с записанной попыткой).
	ErrInvalidState = errors.New("invalid state")

	// ErrUnknownAnchorKind — для типа якоря нет запроса.
	ErrUnknownAnchorKind = errors.New("unknown anchor kind")

	// ErrAlreadyExists — запись с таким ID уже существует.
	ErrAlreadyExists = errors.New("already exists")
)
