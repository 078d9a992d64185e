// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tickrpc

import (
	"code.hybscloud.com/kont"
)

// yieldOp is the effect operation for suspending until the next tick.
// Perform(yieldOp{}) resumes with struct{}{} on the following tick.
type yieldOp struct {
	kont.Phantom[struct{}]
}

// resumeYield is the pre-boxed resumption value for yieldOp.
var resumeYield kont.Resumed = struct{}{}

// Yield suspends the calling procedure body until the next tick.
func Yield() kont.Eff[struct{}] {
	return kont.Perform(yieldOp{})
}

// YieldThen suspends until the next tick and then continues with next().
// Fuses Perform(yieldOp{}) + Bind; next is evaluated only after resumption.
func YieldThen[B any](next func() kont.Eff[B]) kont.Eff[B] {
	return kont.Bind(Yield(), func(struct{}) kont.Eff[B] {
		return next()
	})
}

// WaitUntil completes in the current tick if cond holds, otherwise yields
// and re-checks cond once per tick. cond is evaluated on the scheduler
// goroutine and may read host state.
func WaitUntil(cond func() bool) kont.Eff[struct{}] {
	if cond() {
		return kont.Pure(struct{}{})
	}
	return YieldThen(func() kont.Eff[struct{}] {
		return WaitUntil(cond)
	})
}

// Repeat runs step once per tick for n ticks, yielding between runs, and
// then completes with the last value returned by step.
// step receives the zero-based iteration number.
func Repeat[A any](n int, step func(i int) A) kont.Eff[A] {
	return repeatFrom(0, n, step)
}

func repeatFrom[A any](i, n int, step func(int) A) kont.Eff[A] {
	v := step(i)
	if i+1 >= n {
		return kont.Pure(v)
	}
	return YieldThen(func() kont.Eff[A] {
		return repeatFrom(i+1, n, step)
	})
}

// Return completes a procedure body with v.
func Return(v any) kont.Eff[any] {
	return kont.Pure(v)
}

// Throw fails a procedure body with err. The executor reports it as a
// failed Outcome whose error matches ErrCallFailed and wraps err.
func Throw(err error) kont.Eff[any] {
	return kont.ThrowError[error, any](err)
}

// Then runs m and continues with f applied to its result, erasing the
// result type for use as a procedure body. Nested procedure bodies compose
// with Then; a yield anywhere inside m suspends the whole call.
func Then[A any](m kont.Eff[A], f func(A) kont.Eff[any]) kont.Eff[any] {
	return kont.Bind(m, f)
}
