package messaging

import (
	"encoding/json"
	"fmt"

	"github.com/sudokuhub/power-index/internal/domain/shared"
)

// envelope is the Pub/Sub wire format. Event holds the concrete event as
// JSON; Type picks the Go type to decode it into.
type envelope struct {
	Origin string           `json:"origin"`
	Type   shared.EventType `json:"type"`
	Event  json.RawMessage  `json:"event"`
}

var decoders = map[shared.EventType]func([]byte) (shared.Event, error){
	shared.EventPuzzleCompleted:      decodeAs[shared.PuzzleCompletedEvent],
	shared.EventLeaderboardRefreshed: decodeAs[shared.LeaderboardRefreshedEvent],
	shared.EventRanksRecomputed:      decodeAs[shared.RanksRecomputedEvent],
}

func decodeAs[T shared.Event](data []byte) (shared.Event, error) {
	var e T
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return e, nil
}

func encodeEnvelope(origin string, event shared.Event) ([]byte, error) {
	if _, ok := decoders[event.EventType()]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrEventNotSupported, event.EventType())
	}
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", event.EventType(), err)
	}
	return json.Marshal(envelope{Origin: origin, Type: event.EventType(), Event: body})
}

// decodeEnvelope returns the origin instance and the concrete event value,
// so handlers can type-assert as they do for local events.
func decodeEnvelope(data []byte) (string, shared.Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	decode, ok := decoders[env.Type]
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", ErrEventNotSupported, env.Type)
	}
	event, err := decode(env.Event)
	if err != nil {
		return "", nil, fmt.Errorf("unmarshal %s: %w", env.Type, err)
	}
	return env.Origin, event, nil
}
