package analytics

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EntityType identifies which catalog record an event references
type EntityType string

const (
	EntityCollection EntityType = "collection"
	EntityPlatform   EntityType = "platform"
)

// EventType identifies the kind of interaction
type EventType string

const (
	EventView  EventType = "view"
	EventClick EventType = "click"
)

// NormalizedEvent is a validated event ready for aggregation. OccurredAt is
// always UTC.
type NormalizedEvent struct {
	EntityType EntityType
	EntityID   int64
	EventType  EventType
	OccurredAt time.Time
}

// Day returns the UTC calendar day the event belongs to
func (e NormalizedEvent) Day() time.Time {
	t := e.OccurredAt.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseError reports why a raw payload was rejected by the normalizer.
// A ParseError never halts the consumer; the caller logs and discards.
type ParseError struct {
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid event: %s: %s", e.Field, e.Reason)
}

// rawEvent is the wire shape of a queued payload. entity_id is accepted as a
// JSON number or a numeric string; metadata is tolerated for forward
// compatibility and never persisted.
type rawEvent struct {
	EntityType string            `json:"entity_type"`
	EntityID   interface{}       `json:"entity_id"`
	EventType  string            `json:"event_type"`
	OccurredAt string            `json:"occurred_at,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// timestamp layouts accepted for occurred_at; layouts without a zone are
// interpreted as UTC
var occurredAtLayouts = []struct {
	layout string
	naive  bool
}{
	{time.RFC3339Nano, false},
	{"2006-01-02T15:04:05.999999999", true},
	{"2006-01-02 15:04:05", true},
	{"2006-01-02", true},
}

// ParseEvent validates a raw queued payload and normalizes it into a typed
// event. Any violation returns a *ParseError; the payload is otherwise left
// untouched.
func ParseEvent(payload []byte) (NormalizedEvent, error) {
	return parseEventAt(payload, time.Now().UTC())
}

func parseEventAt(payload []byte, now time.Time) (NormalizedEvent, error) {
	var raw rawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return NormalizedEvent{}, &ParseError{Field: "payload", Reason: "not a JSON object"}
	}

	entityType := EntityType(strings.ToLower(strings.TrimSpace(raw.EntityType)))
	switch entityType {
	case EntityCollection, EntityPlatform:
	default:
		return NormalizedEvent{}, &ParseError{Field: "entity_type", Reason: fmt.Sprintf("unknown value %q", raw.EntityType)}
	}

	eventType := EventType(strings.ToLower(strings.TrimSpace(raw.EventType)))
	switch eventType {
	case EventView, EventClick:
	default:
		return NormalizedEvent{}, &ParseError{Field: "event_type", Reason: fmt.Sprintf("unknown value %q", raw.EventType)}
	}

	entityID, err := coerceEntityID(raw.EntityID)
	if err != nil {
		return NormalizedEvent{}, err
	}

	occurredAt, err := parseOccurredAt(raw.OccurredAt, now)
	if err != nil {
		return NormalizedEvent{}, err
	}

	return NormalizedEvent{
		EntityType: entityType,
		EntityID:   entityID,
		EventType:  eventType,
		OccurredAt: occurredAt,
	}, nil
}

func coerceEntityID(v interface{}) (int64, error) {
	var id int64
	switch val := v.(type) {
	case float64:
		if val != float64(int64(val)) {
			return 0, &ParseError{Field: "entity_id", Reason: "not an integer"}
		}
		id = int64(val)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil {
			return 0, &ParseError{Field: "entity_id", Reason: "not an integer"}
		}
		id = parsed
	case json.Number:
		parsed, err := val.Int64()
		if err != nil {
			return 0, &ParseError{Field: "entity_id", Reason: "not an integer"}
		}
		id = parsed
	case nil:
		return 0, &ParseError{Field: "entity_id", Reason: "missing"}
	default:
		return 0, &ParseError{Field: "entity_id", Reason: "not an integer"}
	}

	if id <= 0 {
		return 0, &ParseError{Field: "entity_id", Reason: "must be positive"}
	}
	return id, nil
}

func parseOccurredAt(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return now.UTC(), nil
	}

	for _, l := range occurredAtLayouts {
		var ts time.Time
		var err error
		if l.naive {
			ts, err = time.ParseInLocation(l.layout, value, time.UTC)
		} else {
			ts, err = time.Parse(l.layout, value)
		}
		if err == nil {
			return ts.UTC(), nil
		}
	}

	return time.Time{}, &ParseError{Field: "occurred_at", Reason: fmt.Sprintf("unparseable timestamp %q", value)}
}
