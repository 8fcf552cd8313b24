package bgjob

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrTimeout   = errors.New("bgjob: command timed out")
	ErrProtocol  = errors.New("bgjob: protocol error")
	ErrTransport = errors.New("bgjob: transport error")
	ErrBusy      = errors.New("bgjob: too many commands in flight")
)

// TimeoutError reports a command whose reply was not correlated before its
// deadline.
type TimeoutError struct {
	JobID   string
	Command string
	After   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("bgjob: command %q (job %s) timed out after %s", e.Command, e.JobID, e.After)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// ProtocolError reports a reply whose shape could not be classified.
type ProtocolError struct {
	JobID  string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("bgjob: job %s: %s", e.JobID, e.Reason)
}

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// TransportError wraps a connection-level failure.
type TransportError struct {
	JobID string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("bgjob: job %s: transport: %v", e.JobID, e.Err)
}

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

func (e *TransportError) Unwrap() error { return e.Err }
