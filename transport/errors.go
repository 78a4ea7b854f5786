// Package transport owns child processes speaking line-delimited JSON-RPC
// 2.0 over stdin/stdout. One client drives one process; calls serialize per
// instance, and every stderr read is deadline-bounded.
package transport

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotRunning is returned when a call is attempted against a client whose
// child process is not alive.
var ErrNotRunning = errors.New("child process not running")

// Error is a transport-level failure: the channel itself broke (spawn
// failed, stdin closed, process died, malformed frame). Transport errors are
// transient from the caller's perspective and may be retried against a
// restarted instance.
type Error struct {
	// Server is the tool-server name the client was bound to.
	Server string

	// Op is the operation that failed ("start", "call", "write", "read").
	Op string

	// Err is the underlying cause.
	Err error

	// Stderr holds the tail of the child's stderr at failure time.
	Stderr string
}

func (e *Error) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("transport %s: %s: %v (stderr: %s)", e.Server, e.Op, e.Err, e.Stderr)
	}
	return fmt.Sprintf("transport %s: %s: %v", e.Server, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// TimeoutError reports that a call did not produce a response in time. The
// request may still complete on the server; the response is discarded when
// it eventually arrives.
type TimeoutError struct {
	Server  string
	Method  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("transport %s: %s timed out after %s", e.Server, e.Method, e.Timeout)
}

// RPCError is a JSON-RPC error object returned by the server. Unlike
// transport errors it describes a completed exchange; whether it retries is
// up to the caller's policy.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// IsTimeout reports whether err is a transport timeout.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
