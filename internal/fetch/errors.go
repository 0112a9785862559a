package fetch

import (
	"errors"
	"fmt"

	"github.com/jmylchreest/gatefetch/internal/challenge"
)

var (
	// ErrExhausted matches every *ExhaustedError.
	ErrExhausted = errors.New("fetch attempts exhausted")
	// ErrInvalidURL is returned for URLs that are not absolute http(s) URLs.
	ErrInvalidURL = errors.New("invalid fetch url")
	// ErrOffOrigin is returned for URLs outside the configured target origin.
	ErrOffOrigin = errors.New("url outside target origin")
	// ErrStatus marks a non-2xx response.
	ErrStatus = errors.New("unexpected response status")
)

// SessionError is a failure to obtain credentials or a live page.
type SessionError struct {
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session acquisition: %v", e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// TransientError is a failed in-context call: the call itself erroring, a
// non-2xx status or an undecodable body.
type TransientError struct {
	URL       string
	Status    int
	Challenge challenge.Type
	Err       error
}

func (e *TransientError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	if e.Challenge != "" && e.Challenge != challenge.TypeNone {
		return fmt.Sprintf("fetch %s: status %d (%s): %v", e.URL, e.Status, e.Challenge, e.Err)
	}
	return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.Status, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// ExhaustedError is returned once every attempt failed. Err is the last failure.
type ExhaustedError struct {
	Attempts int
	URL      string
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrExhausted) hold.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted
}
