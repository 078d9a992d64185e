// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tickrpc

import (
	"fmt"

	"code.hybscloud.com/kont"
)

// Status is the three-way outcome of one execution step.
type Status uint8

const (
	StatusCompleted Status = iota
	StatusFailed
	StatusSuspended
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusSuspended:
		return "suspended"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Outcome is what the Executor reports for one execution step.
// Value is set when Completed, Err when Failed, Token when Suspended.
type Outcome struct {
	Status Status
	Value  any
	Err    error
	Token  *Token
}

// Result converts a terminal Outcome to a Result.
// Calling Result on a Suspended outcome panics.
func (o Outcome) Result() Result {
	switch o.Status {
	case StatusCompleted:
		return ValueResult(o.Value)
	case StatusFailed:
		return ErrorResult(o.Err)
	}
	panic("tickrpc: Result of suspended outcome")
}

// evaluation is the answer type every procedure body is stepped at.
// Left carries a thrown error, Right the returned value.
type evaluation = kont.Either[error, any]

// Token is the captured suspension state of a procedure body.
// It is affine: Resume consumes it, and a second Resume returns
// ErrTokenConsumed.
type Token struct {
	susp *kont.Suspension[evaluation]
}

// Consumed reports whether the token has been resumed or discarded.
func (t *Token) Consumed() bool {
	return t == nil || t.susp == nil
}

// Discard drops the suspended computation without resuming it.
// Effects already performed by the body stand.
func (t *Token) Discard() {
	if t == nil || t.susp == nil {
		return
	}
	t.susp.Discard()
	t.susp = nil
}

// take consumes the suspension held by t.
func (t *Token) take() (*kont.Suspension[evaluation], bool) {
	if t == nil || t.susp == nil {
		return nil, false
	}
	susp := t.susp
	t.susp = nil
	return susp, true
}

// errorDispatcher is the structural interface of kont error operations
// specialized to error values.
type errorDispatcher interface {
	DispatchError(ctx *kont.ErrorContext[error]) (kont.Resumed, bool)
}

// Executor invokes procedure bodies and translates their suspensions into
// a Suspended Outcome. The zero value is ready to use.
// Not safe for concurrent use; it runs on the scheduler goroutine.
type Executor struct {
	// Calls counts fresh executions, Resumes counts resumptions.
	Calls   uint64
	Resumes uint64
}

// Execute binds args to sig and steps its body until it completes, fails,
// or suspends.
func (e *Executor) Execute(sig *Signature, cc CallContext, args []any) (out Outcome) {
	e.Calls++
	bound, err := sig.bind(args)
	if err != nil {
		return failed(sig, err)
	}
	defer recoverCall(sig, &out)

	body := kont.ExprMap(kont.Reify(sig.Body(cc, bound)), func(v any) evaluation {
		return kont.Right[error, any](v)
	})
	result, susp := kont.StepExpr(body)
	return settle(sig, result, susp)
}

// Resume resumes the body suspended in tok on behalf of sig.
// tok is consumed regardless of the outcome.
func (e *Executor) Resume(sig *Signature, tok *Token) (out Outcome) {
	susp, ok := tok.take()
	if !ok {
		return failed(sig, ErrTokenConsumed)
	}
	e.Resumes++
	defer recoverCall(sig, &out)

	result, next := susp.Resume(resumeYield)
	return settle(sig, result, next)
}

// settle dispatches non-yield effects eagerly until the body completes,
// fails, or reaches a yield.
func settle(sig *Signature, result evaluation, susp *kont.Suspension[evaluation]) Outcome {
	for susp != nil {
		switch op := susp.Op().(type) {
		case yieldOp:
			return Outcome{Status: StatusSuspended, Token: &Token{susp: susp}}
		case errorDispatcher:
			var ctx kont.ErrorContext[error]
			v, _ := op.DispatchError(&ctx)
			if ctx.HasErr {
				susp.Discard()
				return failed(sig, ctx.Err)
			}
			result, susp = susp.Resume(v)
		default:
			susp.Discard()
			return failed(sig, fmt.Errorf("unhandled effect %T", op))
		}
	}
	if err, ok := result.GetLeft(); ok {
		return failed(sig, err)
	}
	v, _ := result.GetRight()
	return Outcome{Status: StatusCompleted, Value: v}
}

func failed(sig *Signature, err error) Outcome {
	return Outcome{Status: StatusFailed, Err: &CallError{Name: sig.Name(), Err: err}}
}

// recoverCall turns a panic raised by a procedure body into a failed Outcome.
func recoverCall(sig *Signature, out *Outcome) {
	if r := recover(); r != nil {
		err, ok := r.(error)
		if !ok {
			err = fmt.Errorf("panic: %v", r)
		}
		*out = failed(sig, err)
	}
}
