package relay

import (
	"errors"
	"fmt"
)

// SetupError is a failure before the agent connection exists: bad request
// parameters, missing credentials, or prompt generation failure.
type SetupError struct {
	Op      string
	Message string
	Err     error
}

func (e *SetupError) Error() string { return format("setup", e.Op, e.Message, e.Err) }
func (e *SetupError) Unwrap() error { return e.Err }

// UpstreamError is a failure of the voice agent connection: dial, protocol,
// write, unexpected close, or a missing settings acknowledgement.
type UpstreamError struct {
	Op      string
	Message string
	Err     error
}

func (e *UpstreamError) Error() string { return format("upstream", e.Op, e.Message, e.Err) }
func (e *UpstreamError) Unwrap() error { return e.Err }

// ClientError is a failure of the browser connection.
type ClientError struct {
	Op  string
	Err error
}

func (e *ClientError) Error() string { return format("client", e.Op, "", e.Err) }
func (e *ClientError) Unwrap() error { return e.Err }

func format(kind, op, msg string, err error) string {
	s := "relay: " + kind
	if op != "" {
		s += " " + op
	}
	if msg != "" {
		s += ": " + msg
	}
	if err != nil {
		s = fmt.Sprintf("%s: %v", s, err)
	}
	return s
}

// IsSetup reports whether err is a SetupError.
func IsSetup(err error) bool {
	var target *SetupError
	return errors.As(err, &target)
}

// IsUpstream reports whether err is an UpstreamError.
func IsUpstream(err error) bool {
	var target *UpstreamError
	return errors.As(err, &target)
}

// IsClient reports whether err is a ClientError.
func IsClient(err error) bool {
	var target *ClientError
	return errors.As(err, &target)
}

// PublicMessage returns the text to show the browser for err.
func PublicMessage(err error) string {
	var setupErr *SetupError
	if errors.As(err, &setupErr) && setupErr.Message != "" {
		return setupErr.Message
	}
	var upstreamErr *UpstreamError
	if errors.As(err, &upstreamErr) && upstreamErr.Message != "" {
		return upstreamErr.Message
	}
	return "Internal server error"
}
