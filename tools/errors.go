// Package tools provides typed clients for the external tool servers
// (repository packer, source host, chat, filesystem). Each client wraps one
// transport instance with retry, health probing, and response normalization.
package tools

import (
	"errors"
	"fmt"

	"github.com/c360studio/dbworkflow/transport"
)

// ToolError is an error object returned by a tool server for a completed
// exchange. Unlike transport errors, the channel worked; the call itself was
// rejected or failed server-side.
type ToolError struct {
	Server  string
	Tool    string
	Code    int
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s/%s failed (code %d): %s", e.Server, e.Tool, e.Code, e.Message)
}

// retryableCodes are tool-error codes worth retrying: server busy and the
// HTTP 429 shape some servers pass through.
var retryableCodes = map[int]bool{
	-32000: true,
	429:    true,
}

// TransientError marks an error as retryable.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string { return e.err.Error() }
func (e *TransientError) Unwrap() error { return e.err }

// NewTransientError wraps an error as transient (retryable).
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// FatalError marks an error as permanent.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string { return e.err.Error() }
func (e *FatalError) Unwrap() error { return e.err }

// NewFatalError wraps an error as fatal (non-retryable).
func NewFatalError(err error) error {
	return &FatalError{err: err}
}

// IsTransient returns true if the error should be retried.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsFatal returns true if the error must not be retried.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// classifyCallError sorts a call failure into transient or fatal. Transport
// breakage and timeouts are transient (the instance can be restarted or the
// call repeated); tool errors are fatal unless their code is declared
// retryable; deterministic errors (bad arguments, not found) never retry.
func classifyCallError(server, tool string, err error) error {
	var rpcErr *transport.RPCError
	if errors.As(err, &rpcErr) {
		toolErr := &ToolError{Server: server, Tool: tool, Code: rpcErr.Code, Message: rpcErr.Message}
		if retryableCodes[rpcErr.Code] {
			return NewTransientError(toolErr)
		}
		return NewFatalError(toolErr)
	}

	var transportErr *transport.Error
	if errors.As(err, &transportErr) {
		return NewTransientError(err)
	}
	if transport.IsTimeout(err) {
		return NewTransientError(err)
	}

	return NewFatalError(err)
}
