package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrAuth         = errors.New("authentication failed")
	ErrTransport    = errors.New("transport failure")
	ErrRateLimited  = errors.New("rate limited")
	ErrStorage      = errors.New("storage unavailable")
	ErrExhausted    = errors.New("reconnect attempts exhausted")
	ErrConnectivity = errors.New("connectivity check failed")
	ErrWSDisconnect = errors.New("websocket disconnected")
)

// VenueError is a business-rule rejection from the exchange (4xx). It is
// terminal for the event that triggered it and is never retried.
type VenueError struct {
	Code    int
	Message string
}

func (e *VenueError) Error() string {
	return fmt.Sprintf("venue rejected (%d): %s", e.Code, e.Message)
}

// IsNotFound reports whether err indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetriable reports whether err is worth retrying: transport faults and
// rate limits are, venue rejections and auth failures are not.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	var ve *VenueError
	if errors.As(err, &ve) {
		return false
	}
	if errors.Is(err, ErrAuth) {
		return false
	}
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrRateLimited)
}
