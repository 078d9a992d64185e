// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package testservice provides the simulated host state and the demo
// services exposed by the test server.
package testservice

import (
	"errors"
	"fmt"

	"code.hybscloud.com/kont"
	"github.com/hashicorp/go-multierror"

	"code.hybscloud.com/tickrpc"
)

// ErrDivideByZero is thrown by Calculator.Divide.
var ErrDivideByZero = errors.New("divide by zero")

// Vessel is the simulated host state. It is read and written only on the
// scheduler goroutine.
type Vessel struct {
	Altitude float64
	// Climb is the altitude gained per tick.
	Climb float64
}

// Advance moves the vessel forward one tick. Register it with
// Scheduler.OnTick.
func (v *Vessel) Advance(uint64) {
	v.Altitude += v.Climb
}

// Register adds the demo services to reg.
func Register(reg *tickrpc.Registry, v *Vessel) error {
	var result *multierror.Error
	for _, sig := range Signatures(v) {
		if err := reg.Register(sig); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Signatures returns the demo procedures bound to v.
func Signatures(v *Vessel) []tickrpc.Signature {
	return []tickrpc.Signature{
		{
			Service: "Calculator", Procedure: "Add",
			Params: []tickrpc.Parameter{
				{Name: "a", Kind: tickrpc.KindInt},
				{Name: "b", Kind: tickrpc.KindInt},
			},
			Returns: tickrpc.KindInt,
			Body: func(_ tickrpc.CallContext, args []any) kont.Eff[any] {
				return tickrpc.Return(args[0].(int64) + args[1].(int64))
			},
		},
		{
			Service: "Calculator", Procedure: "Divide",
			Params: []tickrpc.Parameter{
				{Name: "a", Kind: tickrpc.KindFloat},
				{Name: "b", Kind: tickrpc.KindFloat},
			},
			Returns: tickrpc.KindFloat,
			Body: func(_ tickrpc.CallContext, args []any) kont.Eff[any] {
				a, b := args[0].(float64), args[1].(float64)
				if b == 0 {
					return tickrpc.Throw(ErrDivideByZero)
				}
				return tickrpc.Return(a / b)
			},
		},
		{
			Service: "Nav", Procedure: "Altitude",
			Returns: tickrpc.KindFloat,
			Body: func(tickrpc.CallContext, []any) kont.Eff[any] {
				return tickrpc.Return(v.Altitude)
			},
		},
		{
			Service: "Nav", Procedure: "WaitUntilAltitude",
			Params:  []tickrpc.Parameter{{Name: "altitude", Kind: tickrpc.KindFloat}},
			Returns: tickrpc.KindBool,
			Doc:     "Completes once the vessel reaches the given altitude.",
			Body: func(_ tickrpc.CallContext, args []any) kont.Eff[any] {
				target := args[0].(float64)
				return tickrpc.Then(tickrpc.WaitUntil(func() bool { return v.Altitude >= target }),
					func(struct{}) kont.Eff[any] { return tickrpc.Return(true) })
			},
		},
		{
			Service: "TestService", Procedure: "Echo",
			Params:  []tickrpc.Parameter{{Name: "value", Kind: tickrpc.KindAny}},
			Returns: tickrpc.KindAny,
			Body: func(_ tickrpc.CallContext, args []any) kont.Eff[any] {
				return tickrpc.Return(args[0])
			},
		},
		{
			Service: "TestService", Procedure: "YieldTimes",
			Params:  []tickrpc.Parameter{{Name: "n", Kind: tickrpc.KindInt}},
			Returns: tickrpc.KindInt,
			Doc:     "Yields n times and returns n.",
			Body: func(_ tickrpc.CallContext, args []any) kont.Eff[any] {
				n := args[0].(int64)
				return yieldTimes(n, n)
			},
		},
		{
			Service: "TestService", Procedure: "Counter",
			Params: []tickrpc.Parameter{
				{Name: "n", Kind: tickrpc.KindInt},
			},
			Returns: tickrpc.KindInt,
			Doc:     "Counts to n, one step per tick, and returns n.",
			Body: func(_ tickrpc.CallContext, args []any) kont.Eff[any] {
				n := int(args[0].(int64))
				if n <= 0 {
					return tickrpc.Return(int64(0))
				}
				return tickrpc.Then(tickrpc.Repeat(n, func(i int) int64 { return int64(i + 1) }),
					func(last int64) kont.Eff[any] { return tickrpc.Return(last) })
			},
		},
		{
			Service: "TestService", Procedure: "ThrowAfter",
			Params: []tickrpc.Parameter{
				{Name: "message", Kind: tickrpc.KindString},
				{Name: "yields", Kind: tickrpc.KindInt, Optional: true, Default: int64(0)},
			},
			Returns: tickrpc.KindNone,
			Body: func(_ tickrpc.CallContext, args []any) kont.Eff[any] {
				msg := args[0].(string)
				return yieldThen(args[1].(int64), func() kont.Eff[any] {
					return tickrpc.Throw(errors.New(msg))
				})
			},
		},
		{
			Service: "TestService", Procedure: "Panic",
			Params:  []tickrpc.Parameter{{Name: "message", Kind: tickrpc.KindString}},
			Returns: tickrpc.KindNone,
			Body: func(_ tickrpc.CallContext, args []any) kont.Eff[any] {
				panic(fmt.Sprintf("test service: %s", args[0]))
			},
		},
	}
}

func yieldTimes(left, n int64) kont.Eff[any] {
	return yieldThen(left, func() kont.Eff[any] { return tickrpc.Return(n) })
}

// yieldThen yields n times, then continues with f.
func yieldThen(n int64, f func() kont.Eff[any]) kont.Eff[any] {
	if n <= 0 {
		return f()
	}
	return tickrpc.YieldThen(func() kont.Eff[any] { return yieldThen(n-1, f) })
}
