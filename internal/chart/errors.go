package chart

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated = errors.New("chart: unauthenticated")
	ErrAccessDenied    = errors.New("chart: access denied")
	ErrAlreadyVoted    = errors.New("chart: already voted")
	ErrTooManySongs    = errors.New("chart: too many songs")
	ErrNotFound        = errors.New("chart: not found")
	ErrNotJSON         = errors.New("chart: malformed response")
	ErrNetwork         = errors.New("chart: network failure")
)

func IsUnauthenticated(err error) bool { return errors.Is(err, ErrUnauthenticated) }
func IsAccessDenied(err error) bool    { return errors.Is(err, ErrAccessDenied) }
func IsAlreadyVoted(err error) bool    { return errors.Is(err, ErrAlreadyVoted) }
func IsTooManySongs(err error) bool    { return errors.Is(err, ErrTooManySongs) }
func IsNotFound(err error) bool        { return errors.Is(err, ErrNotFound) }
func IsNotJSON(err error) bool         { return errors.Is(err, ErrNotJSON) }
func IsNetwork(err error) bool         { return errors.Is(err, ErrNetwork) }

// StatusError carries a non-2xx status the taxonomy has no named kind for,
// together with whatever detail string the API attached.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("chart: http status %d", e.Code)
	}
	return fmt.Sprintf("chart: http status %d: %s", e.Code, e.Detail)
}
