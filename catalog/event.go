package catalog

import (
	"encoding/json"

	"github.com/c360/catalogstream/errors"
)

// EventType discriminates change feed events
type EventType string

// Change feed event types
const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// Valid reports whether the event type is one of the defined values
func (t EventType) Valid() bool {
	switch t {
	case EventInsert, EventUpdate, EventDelete:
		return true
	}
	return false
}

// Event is a tagged change feed event. Insert and Update carry the full item;
// Delete carries only the item ID.
type Event struct {
	Type EventType `json:"type"`
	Item *Item     `json:"item,omitempty"`
	ID   string    `json:"id,omitempty"`
}

// ItemID returns the identifier the event refers to, regardless of shape
func (e Event) ItemID() string {
	if e.ID != "" {
		return e.ID
	}
	if e.Item != nil {
		return e.Item.ID
	}
	return ""
}

// Validate checks the event shape against its type
func (e Event) Validate() error {
	if !e.Type.Valid() {
		return errors.WrapInvalid(errors.ErrMalformedEvent, "Event", "Validate",
			"unrecognized event type "+string(e.Type))
	}

	switch e.Type {
	case EventInsert, EventUpdate:
		if e.Item == nil {
			return errors.WrapInvalid(errors.ErrMalformedEvent, "Event", "Validate",
				string(e.Type)+" event missing item")
		}
		if err := e.Item.Validate(); err != nil {
			return err
		}
	case EventDelete:
		if e.ItemID() == "" {
			return errors.WrapInvalid(errors.ErrMalformedEvent, "Event", "Validate",
				"delete event missing item ID")
		}
	}
	return nil
}

// DecodeEvent is the single deserialization boundary for change feed payloads.
// Anything that does not decode into a well-formed tagged event is rejected
// here; past this point event handling is exhaustive over the three types.
func DecodeEvent(data []byte) (Event, error) {
	if len(data) == 0 {
		return Event{}, errors.WrapInvalid(errors.ErrMalformedEvent, "Event", "DecodeEvent",
			"empty event payload")
	}

	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return Event{}, errors.WrapInvalid(errors.ErrMalformedEvent, "Event", "DecodeEvent",
			"event JSON unmarshal")
	}

	if err := event.Validate(); err != nil {
		return Event{}, err
	}

	return event, nil
}

// NewInsert builds an insert event for item
func NewInsert(item Item) Event {
	return Event{Type: EventInsert, Item: &item, ID: item.ID}
}

// NewUpdate builds an update event for item
func NewUpdate(item Item) Event {
	return Event{Type: EventUpdate, Item: &item, ID: item.ID}
}

// NewDelete builds a delete event for the given item ID
func NewDelete(id string) Event {
	return Event{Type: EventDelete, ID: id}
}
