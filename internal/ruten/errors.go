package ruten

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrPayload marks a response that arrived but could not be used.
var ErrPayload = errors.New("unusable payload")

// RemoteFetchError reports a failed marketplace call together with the
// product or shop it was about.
type RemoteFetchError struct {
	Kind    Kind
	Subject string
	Status  int // HTTP status, 0 when no response was received
	Err     error
}

func (e *RemoteFetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("ruten %s %q: status %d: %v", e.Kind, e.Subject, e.Status, e.Err)
	}
	return fmt.Sprintf("ruten %s %q: %v", e.Kind, e.Subject, e.Err)
}

func (e *RemoteFetchError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the call could succeed.
func (e *RemoteFetchError) Temporary() bool {
	if e.Status == http.StatusTooManyRequests || e.Status >= 500 {
		return true
	}
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

func fetchError(req Request, status int, err error) *RemoteFetchError {
	return &RemoteFetchError{Kind: req.Kind(), Subject: req.Subject(), Status: status, Err: err}
}
