// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tickrpc

import (
	"errors"
	"fmt"
)

// Runtime is the context shared by every continuation: the Resolver that
// maps names to signatures and the Executor that runs bodies.
type Runtime struct {
	Resolver Resolver
	Executor *Executor
}

// NewRuntime returns a Runtime resolving through r with a fresh Executor.
func NewRuntime(r Resolver) *Runtime {
	return &Runtime{Resolver: r, Executor: &Executor{}}
}

// contState tags what the next Step of a Continuation will do.
type contState uint8

const (
	// stateReady runs the original call.
	stateReady contState = iota
	// stateFailed raises the lookup failure captured at construction.
	stateFailed
	// stateResume resumes the held token.
	stateResume
	// stateDone marks a continuation that has been stepped or discarded.
	stateDone
)

// Continuation is the resumable state of one logical request.
//
// A Continuation is single use: Step consumes it. A suspended Step returns
// a new Continuation carrying the same signature and the new token, so the
// signature is resolved exactly once per logical request no matter how many
// ticks the call spans.
type Continuation struct {
	exec  *Executor
	cc    CallContext
	call  Call
	sig   *Signature
	token *Token
	err   error
	state contState
}

// NewContinuation resolves call through rt.Resolver and returns a
// continuation ready to run it. Resolution failures are captured, not
// returned: they surface from the first Step, so a failed lookup costs one
// scheduling step like any other call.
func NewContinuation(rt *Runtime, cc CallContext, call Call) *Continuation {
	c := &Continuation{exec: rt.Executor, cc: cc, call: call}
	sig, err := rt.Resolver.Resolve(call.Service, call.Procedure)
	if err != nil {
		if !errors.Is(err, ErrLookupFailed) {
			err = fmt.Errorf("%w: %s: %w", ErrLookupFailed, call.Name(), err)
		}
		c.err = err
		c.state = stateFailed
		return c
	}
	c.sig = &sig
	return c
}

// Prepare returns a continuation that runs call against an already
// resolved signature, skipping the Resolver.
func Prepare(exec *Executor, sig *Signature, cc CallContext, call Call) *Continuation {
	return &Continuation{exec: exec, cc: cc, call: call, sig: sig}
}

// resume returns the continuation that resumes tok on the next Step.
func resume(exec *Executor, sig *Signature, cc CallContext, tok *Token) *Continuation {
	return &Continuation{exec: exec, cc: cc, sig: sig, token: tok, state: stateResume}
}

// Signature returns the resolved signature, or nil if resolution failed.
func (c *Continuation) Signature() *Signature {
	return c.sig
}

// Context returns the call context the continuation runs with.
func (c *Continuation) Context() CallContext {
	return c.cc
}

// Step runs the continuation once.
//
//   - (Result, nil, nil): the request is terminal; the Result may carry a
//     call failure matching ErrCallFailed.
//   - (Result{}, next, nil): the request suspended; next must be stepped on a later tick.
//   - (Result{}, nil, err): the lookup failure captured at construction
//     (matching ErrLookupFailed), or ErrStepped on reuse.
func (c *Continuation) Step() (Result, *Continuation, error) {
	var out Outcome
	switch c.state {
	case stateFailed:
		c.state = stateDone
		return Result{}, nil, c.err
	case stateReady:
		c.state = stateDone
		out = c.exec.Execute(c.sig, c.cc, c.call.Args)
	case stateResume:
		c.state = stateDone
		tok := c.token
		c.token = nil
		out = c.exec.Resume(c.sig, tok)
	default:
		return Result{}, nil, ErrStepped
	}

	if out.Status == StatusSuspended {
		return Result{}, resume(c.exec, c.sig, c.cc, out.Token), nil
	}
	return out.Result(), nil, nil
}

// Discard abandons the continuation without stepping it, dropping any held
// token. Effects already performed stand.
func (c *Continuation) Discard() {
	c.state = stateDone
	if c.token != nil {
		c.token.Discard()
		c.token = nil
	}
}
