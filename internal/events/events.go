package events

import (
	"encoding/json"
	"time"
)

const (
	TypeManga      = "manga"
	TypeQueryState = "query.state"
)

// Event is what the hub pushes to every websocket client.
type Event struct {
	Type    string          `json:"type"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
	At      time.Time       `json:"at"`
}

// NewEvent marshals payload into an Event. Unmarshalable payloads are dropped.
func NewEvent(typ, name string, payload any) Event {
	ev := Event{Type: typ, Name: name, At: time.Now().UTC()}
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			ev.Payload = b
		}
	}
	return ev
}
