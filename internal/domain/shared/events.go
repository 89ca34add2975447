package shared

import "time"

// EventType - имя события на шине и в канале Redis.
type EventType string

const (
	EventPuzzleCompleted      EventType = "puzzle.completed"
	EventLeaderboardRefreshed EventType = "leaderboard.refreshed"
	EventRanksRecomputed      EventType = "leaderboard.ranks_recomputed"
)

// Event - доменное событие. Конкретные события сериализуются в JSON целиком,
// поэтому им достаточно тегов на полях.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
	AggregateID() string
}

// Meta встраивается в каждое событие.
type Meta struct {
	Type          EventType `json:"type"`
	At            time.Time `json:"occurred_at"`
	Aggregate     string    `json:"aggregate_id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

func newMeta(t EventType, aggregate string, at time.Time) Meta {
	return Meta{Type: t, At: at, Aggregate: aggregate}
}

func (m Meta) EventType() EventType  { return m.Type }
func (m Meta) OccurredAt() time.Time { return m.At }
func (m Meta) AggregateID() string   { return m.Aggregate }

// Correlated возвращает копию с проставленным ID корреляции (обычно ID запроса).
func (m Meta) Correlated(id string) Meta {
	m.CorrelationID = id
	return m
}

// ═══════════════════════════════════════════════════════════════════════════
// ГОЛОВОЛОМКИ
// ═══════════════════════════════════════════════════════════════════════════

// PuzzleCompletedEvent - прохождение записано, счёт пользователя пересчитан.
type PuzzleCompletedEvent struct {
	Meta
	UserID      string  `json:"user_id"`
	PuzzleID    string  `json:"puzzle_id"`
	TimeSeconds int     `json:"time_seconds"`
	FirstSolve  bool    `json:"first_solve"`
	NewScore    float64 `json:"new_score"`
}

func NewPuzzleCompletedEvent(userID, puzzleID string, timeSeconds int, firstSolve bool, newScore float64, at time.Time) PuzzleCompletedEvent {
	return PuzzleCompletedEvent{
		Meta:        newMeta(EventPuzzleCompleted, puzzleID, at),
		UserID:      userID,
		PuzzleID:    puzzleID,
		TimeSeconds: timeSeconds,
		FirstSolve:  firstSolve,
		NewScore:    newScore,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// ЛИДЕРБОРД
// ═══════════════════════════════════════════════════════════════════════════

// LeaderboardRefreshedEvent - полный пересчёт счетов завершён.
type LeaderboardRefreshedEvent struct {
	Meta
	RunID     string `json:"run_id"`
	Refreshed int    `json:"refreshed"`
	Failed    int    `json:"failed"`
}

func NewLeaderboardRefreshedEvent(runID string, refreshed, failed int, at time.Time) LeaderboardRefreshedEvent {
	return LeaderboardRefreshedEvent{
		Meta:      newMeta(EventLeaderboardRefreshed, runID, at),
		RunID:     runID,
		Refreshed: refreshed,
		Failed:    failed,
	}
}

// RanksRecomputedEvent - ранги записаны одной транзакцией.
type RanksRecomputedEvent struct {
	Meta
	Ranked  int `json:"ranked"`
	Changed int `json:"changed"`
}

func NewRanksRecomputedEvent(ranked, changed int, at time.Time) RanksRecomputedEvent {
	return RanksRecomputedEvent{
		Meta:    newMeta(EventRanksRecomputed, "leaderboard", at),
		Ranked:  ranked,
		Changed: changed,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// ШИНА
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler обрабатывает одно событие. Ошибка логируется шиной
// и не влияет на остальных подписчиков.
type EventHandler func(event Event) error

type EventPublisher interface {
	Publish(event Event) error
}

type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
}

type EventBus interface {
	EventPublisher
	EventSubscriber
}
