package mangadex

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRequest means the request never produced an HTTP response.
	ErrRequest = errors.New("mangadex: request failed")
	// ErrDecode means the response body did not match the expected shape.
	ErrDecode = errors.New("mangadex: decode failed")
)

// APIError is a non-2xx answer from MangaDex.
type APIError struct {
	Status int             `json:"-"`
	Result string          `json:"result"`
	Errors []APIErrorEntry `json:"errors"`
}

type APIErrorEntry struct {
	ID     string `json:"id"`
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
}

func (e *APIError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("mangadex: status %d", e.Status)
	}
	parts := make([]string, 0, len(e.Errors))
	for _, entry := range e.Errors {
		if entry.Detail != "" {
			parts = append(parts, entry.Title+": "+entry.Detail)
			continue
		}
		parts = append(parts, entry.Title)
	}
	return fmt.Sprintf("mangadex: status %d: %s", e.Status, strings.Join(parts, "; "))
}

// IsNotFound reports whether err is a MangaDex 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == 404
}
