// Package model contains domain models passed between layers.
package model

import (
	"encoding/json"
	"errors"
	"time"
)

// Event names carried by the bus. The set is open; these are the ones the
// core itself produces or consumes.
const (
	EventPresenceUpdate = "presence_update"
	EventNewMessage     = "new_message"
	EventActivityUpdate = "activity_update"
	EventVoteCast       = "vote_cast"
	EventClubUpdate     = "club_update"
	EventNotification   = "notification"
	EventProgressUpdate = "progress_update"
)

// ErrEmptyPayload is returned by Decode when the event carries no payload.
var ErrEmptyPayload = errors.New("event has no payload")

// Event is the immutable envelope published on the bus and over the
// transport. OriginID identifies the emitting node and is the only field
// used for delivery filtering.
type Event struct {
	Name      string          `json:"name"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	OriginID  string          `json:"originId"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return ErrEmptyPayload
	}
	return json.Unmarshal(e.Payload, v)
}

// Time returns the emit timestamp.
func (e Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Valid reports whether the envelope has the fields required for delivery.
func (e Event) Valid() bool {
	return e.Name != "" && e.OriginID != ""
}
