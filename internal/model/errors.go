package model

import (
	"errors"
	"fmt"
)

// Стандартные ошибки приложения
var (
	ErrNotFound      = errors.New("resource not found")
	ErrStoryNotFound = errors.New("story not found")
	ErrJobNotFound   = errors.New("generation job not found")
	ErrUserNotFound  = errors.New("user not found")

	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrTokenInvalid   = errors.New("token is invalid")
	ErrTokenMalformed = errors.New("token is malformed")
	ErrTokenExpired   = errors.New("token has expired")

	ErrInvalidInput = errors.New("invalid input data")

	// ErrPreconditionFailed - ожидаемая запись отсутствует в контрольной точке.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrDocumentGone - обновление адресовано уже удаленному документу.
	ErrDocumentGone = errors.New("document no longer exists")
	// ErrStoryDeletedDuringGeneration - история удалена, пока шла генерация.
	ErrStoryDeletedDuringGeneration = fmt.Errorf("story was deleted during generation: %w", ErrPreconditionFailed)

	// ErrRetriesExhausted - пользовательское сообщение после исчерпания попыток.
	ErrRetriesExhausted = errors.New("story generation failed after multiple retries")
)

// ValidationError - пользовательский ввод нарушает ограничение.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// Is позволяет проверять через errors.Is(err, ErrInvalidInput).
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// GenerationErrorKind - классификация ошибки генерации для ретраев.
type GenerationErrorKind string

const (
	GenerationTransient GenerationErrorKind = "transient"
	GenerationTerminal  GenerationErrorKind = "terminal"
)

// GenerationError - классифицированная ошибка клиента генерации.
type GenerationError struct {
	Kind       GenerationErrorKind
	Message    string
	StatusCode int
	Attempt    int
	Exhausted  bool
	Err        error
}

func (e *GenerationError) Error() string {
	return e.Message
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Is: исчерпанные ретраи сопоставляются с ErrRetriesExhausted.
func (e *GenerationError) Is(target error) bool {
	return e.Exhausted && target == ErrRetriesExhausted
}

// IsTransient сообщает, можно ли повторить операцию.
func IsTransient(err error) bool {
	var genErr *GenerationError
	return errors.As(err, &genErr) && genErr.Kind == GenerationTransient
}

// IsExhausted сообщает, что ошибка - результат исчерпания всех попыток.
func IsExhausted(err error) bool {
	var genErr *GenerationError
	return errors.As(err, &genErr) && genErr.Exhausted
}

// CreationError - не удалось создать или перечитать пару история/задача.
type CreationError struct {
	Err error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("failed to create story generation job: %v", e.Err)
}

func (e *CreationError) Unwrap() error { return e.Err }

// CleanupError - сбой одной из операций компенсирующей очистки.
type CleanupError struct {
	Op  string
	Err error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("cleanup %s failed: %v", e.Op, e.Err)
}

func (e *CleanupError) Unwrap() error { return e.Err }

// IsGone сообщает, что запись отсутствует (не найдена или удалена во время записи).
func IsGone(err error) bool {
	return errors.Is(err, ErrDocumentGone) ||
		errors.Is(err, ErrStoryNotFound) ||
		errors.Is(err, ErrJobNotFound)
}
