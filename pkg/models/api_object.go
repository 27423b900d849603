package models

import "encoding/json"

// ApiObject is the envelope MangaDex wraps every entity in: an id, the entity
// type and a typed attributes payload.
type ApiObject[A any] struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Attributes    A              `json:"attributes"`
	Relationships []Relationship `json:"relationships,omitempty"`
}

type Relationship struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Related    string          `json:"related,omitempty"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
}

// Collection is a page of entities as returned by list endpoints.
type Collection[T any] struct {
	Result   string `json:"result"`
	Response string `json:"response"`
	Data     []T    `json:"data"`
	Limit    int    `json:"limit"`
	Offset   int    `json:"offset"`
	Total    int    `json:"total"`
}

// Data is the single-entity response shape.
type Data[T any] struct {
	Result   string `json:"result"`
	Response string `json:"response"`
	Data     T      `json:"data"`
}
