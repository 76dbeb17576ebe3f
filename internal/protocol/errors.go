package protocol

import (
	"errors"
	"fmt"
)

var errMissingType = errors.New("type is required")

// ParseError reports a payload that could not be turned into an Envelope.
type ParseError struct {
	Reason  string
	Payload string // leading bytes of the offending payload
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse envelope: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("parse envelope: %s", e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsParseError reports whether err is, or wraps, a *ParseError.
func IsParseError(err error) (*ParseError, bool) {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
