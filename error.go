// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tickrpc

import (
	"errors"
	"fmt"
)

var (
	// ErrLookupFailed is matched by every error raised when a service or
	// procedure name cannot be resolved.
	ErrLookupFailed = errors.New("tickrpc: lookup failed")

	// ErrCallFailed is matched by every error raised while binding arguments
	// for, or running, a procedure body.
	ErrCallFailed = errors.New("tickrpc: call failed")

	// ErrStepped is returned when Step is invoked twice on the same Continuation.
	ErrStepped = errors.New("tickrpc: continuation already stepped")

	// ErrTokenConsumed is returned when a Token is resumed a second time.
	ErrTokenConsumed = errors.New("tickrpc: continuation token already consumed")

	// ErrDuplicate is returned when registering a procedure name twice.
	ErrDuplicate = errors.New("tickrpc: procedure already registered")
)

// LookupError reports an unresolved service or procedure name.
type LookupError struct {
	Service   string
	Procedure string
	// Reason is "service" when the service is unknown, "procedure" otherwise.
	Reason string
}

func (e *LookupError) Error() string {
	if e.Reason == "service" {
		return fmt.Sprintf("tickrpc: service %s not found", e.Service)
	}
	return fmt.Sprintf("tickrpc: procedure %s.%s not found", e.Service, e.Procedure)
}

// Is reports ErrLookupFailed as a match.
func (e *LookupError) Is(target error) bool {
	return target == ErrLookupFailed
}

// CallError reports a failure raised by, or on behalf of, a procedure body.
type CallError struct {
	Name string // qualified "Service.Procedure"
	Err  error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("tickrpc: %s: %v", e.Name, e.Err)
}

// Unwrap returns the underlying cause.
func (e *CallError) Unwrap() error { return e.Err }

// Is reports ErrCallFailed as a match.
func (e *CallError) Is(target error) bool {
	return target == ErrCallFailed
}
