package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Ошибки валидации определения work item.
var (
	// ErrNoChannels — не включён ни один канал доставки.
	ErrNoChannels = errors.New("at least one channel must be enabled")

	// ErrUnknownChannel — неизвестный канал доставки.
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrMessageTooLong — сообщение длиннее MaxMessageLength.
	ErrMessageTooLong = errors.New("message is too long")

	// ErrMissingTimezone — не указан timezone.
	ErrMissingTimezone = errors.New("timezone is required")

	// ErrUnknownTimingKind — тип timing rule не relative и не absolute.
	ErrUnknownTimingKind = errors.New("unknown timing rule kind")

	// ErrInvalidOffset — relative rule с неположительным offset.
	ErrInvalidOffset = errors.New("offset_minutes must be positive")

	// ErrMissingAbsoluteTime — absolute rule без момента времени.
	ErrMissingAbsoluteTime = errors.New("absolute timing requires a valid instant")

	// ErrInvalidOwner — владелец без типа или ID.
	ErrInvalidOwner = errors.New("invalid owner reference")
)

// ValidationError — ошибка валидации с указанием поля.
type ValidationError struct {
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return e.Field + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(field, message string, err error) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// TerminalStateError — попытка изменить work item, для которого уже записана попытка.
type TerminalStateError struct {
	ID          uuid.UUID
	AttemptedAt *time.Time
}

// Error реализует интерфейс error.
func (e *TerminalStateError) Error() string {
	if e.AttemptedAt != nil {
		return fmt.Sprintf("work item %s already attempted at %s", e.ID, e.AttemptedAt.UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf("work item %s already attempted", e.ID)
}

// IsValidationError проверяет, является ли ошибка ошибкой валидации.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTerminalStateError проверяет, является ли ошибка TerminalStateError.
func IsTerminalStateError(err error) bool {
	var te *TerminalStateError
	return errors.As(err, &te)
}
