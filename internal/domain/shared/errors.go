// Package shared содержит ошибки и события, общие для всех доменных пакетов.
package shared

import (
	"errors"
	"fmt"
)

// ══════════════════════════════════════════════════════════════════════════════
// ВИДЫ ОШИБОК
// Вид определяет, как ошибку видит вызывающий: HTTP-статус, повтор, лог.
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrValidation - входные данные отклонены, повтор без изменений бесполезен.
	ErrValidation = errors.New("validation error")

	// ErrNotFound - пользователь, головоломка или запись лидерборда не найдены.
	ErrNotFound = errors.New("not found")

	// ErrConflict - конкурентная операция помешала, можно повторить.
	ErrConflict = errors.New("conflict")

	// ErrTimeout - операция не уложилась в отведённое время.
	ErrTimeout = errors.New("operation timeout")

	// ErrStorage - сбой хранилища.
	ErrStorage = errors.New("storage error")
)

// DomainError - ошибка с доменным контекстом: где (Domain.Op), какой вид
// (Kind) и что случилось (Message, Err).
type DomainError struct {
	Domain  string // leaderboard, puzzle, query
	Op      string // RefreshAll, RecordCompletion ...
	Kind    error
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	msg := e.Domain + "." + e.Op + ": " + e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap отдаёт и вид, и причину, чтобы errors.Is находил оба.
func (e *DomainError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// WrapError оборачивает err доменным контекстом. err может быть nil.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

// KindOf возвращает вид ошибки или nil, если err не несёт вида.
func KindOf(err error) error {
	for _, kind := range []error{ErrValidation, ErrNotFound, ErrConflict, ErrTimeout, ErrStorage} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// IsNotFound - ошибка вида ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsValidation - ошибка вида ErrValidation.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsRetryable - повтор той же операции может пройти.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrTimeout)
}
