package rpc

import (
	"errors"
	"fmt"
)

// ErrTransportUnavailable is returned (wrapped) when the channel to the
// backend cannot carry the call.
var ErrTransportUnavailable = errors.New("rpc: transport unavailable")

type ErrorCode string

const (
	BadRequest          ErrorCode = "BadRequest"
	Unauthorized        ErrorCode = "Unauthorized"
	NotFound            ErrorCode = "NotFound"
	InternalServerError ErrorCode = "InternalServerError"
)

// Error is a procedure failure reported by the backend.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CodeOf returns the code of the *Error in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Code
	}
	return ""
}
