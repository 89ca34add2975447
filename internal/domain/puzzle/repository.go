package puzzle

import (
	"context"
)

// CompletionOutcome - результат записи завершения.
type CompletionOutcome struct {
	// Record - сохранённая запись о решении.
	Record SolveRecord

	// Stats - статистика головоломки после применения.
	Stats Stats

	// FirstSolve - true, если пользователь решил головоломку впервые.
	FirstSolve bool
}

// CompletionRepository хранит решения и статистику головоломок.
// RecordCompletion атомарен: запись решения и статистика блокируются,
// изменяются через ApplyCompletion и сохраняются в одной транзакции.
type CompletionRepository interface {
	RecordCompletion(ctx context.Context, c Completion) (*CompletionOutcome, error)
}
