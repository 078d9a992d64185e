// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tickrpc

import (
	"github.com/google/uuid"
)

// ClientID identifies the client connection that owns a request.
type ClientID = uuid.UUID

// Call is an immutable procedure call descriptor decoded by a transport.
type Call struct {
	Service   string
	Procedure string
	Args      []any
}

// Name returns the qualified "Service.Procedure" name.
func (c Call) Name() string {
	return c.Service + "." + c.Procedure
}

// CallContext identifies the caller of a procedure body.
type CallContext struct {
	Client  ClientID
	Request RequestID
}

// Result is the terminal outcome of a logical request: a value or an error.
// A suspension is never a Result.
type Result struct {
	Value any
	Err   error
}

// ValueResult returns a successful Result carrying v.
func ValueResult(v any) Result {
	return Result{Value: v}
}

// ErrorResult returns a failed Result carrying err.
func ErrorResult(err error) Result {
	return Result{Err: err}
}

// Failed reports whether r carries an error.
func (r Result) Failed() bool {
	return r.Err != nil
}

// Request is one client-originated call as handed to the scheduler.
type Request struct {
	ID     RequestID
	Client ClientID
	Call   Call
}

// Response is the terminal Result of the request with the same ID.
type Response struct {
	ID     RequestID
	Client ClientID
	Result Result
}
