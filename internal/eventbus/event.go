package eventbus

import (
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Event is the unit exchanged on the bus. Concrete events embed
// IntegrationEvent and add their own JSON-serializable payload fields.
type Event interface {
	// EventID is the identity of the event and the broker message key.
	EventID() uuid.UUID
	// OccurredAt is the creation timestamp of the event.
	OccurredAt() time.Time
}

// IntegrationEvent carries the identity and timestamp metadata shared by all
// events. Both fields are assigned once by NewIntegrationEvent and must not be
// mutated afterwards.
type IntegrationEvent struct {
	ID           uuid.UUID `json:"id"`
	CreationDate time.Time `json:"occurredAt"`
}

// NewIntegrationEvent returns metadata with a fresh random ID and the current
// UTC time.
func NewIntegrationEvent() IntegrationEvent {
	return IntegrationEvent{
		ID:           uuid.New(),
		CreationDate: time.Now().UTC(),
	}
}

func (e IntegrationEvent) EventID() uuid.UUID {
	return e.ID
}

func (e IntegrationEvent) OccurredAt() time.Time {
	return e.CreationDate
}

// IsNil reports whether e is nil or a typed nil pointer.
func IsNil(e Event) bool {
	if e == nil {
		return true
	}

	v := reflect.ValueOf(e)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return v.IsNil()
	default:
		return false
	}
}
