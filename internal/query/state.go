package query

import "time"

type Status int

const (
	StatusPending Status = iota // no data yet
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "pending"
	}
}

// State is a snapshot of one cache entry. Data is shared with the cache and
// must be treated as read-only.
type State struct {
	Data       any
	Err        error
	Status     Status
	IsFetching bool
	UpdatedAt  time.Time
	ErrorAt    time.Time
	FetchCount int
}

func (s State) IsSuccess() bool { return s.Status == StatusSuccess }
func (s State) IsError() bool   { return s.Status == StatusError }
func (s State) IsPending() bool { return s.Status == StatusPending }

// IsLoading is true for the first fetch of an entry that has no data yet.
func (s State) IsLoading() bool { return s.IsPending() && s.IsFetching }
