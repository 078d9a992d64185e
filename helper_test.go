// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tickrpc_test

import (
	"errors"

	"code.hybscloud.com/kont"
	"code.hybscloud.com/tickrpc"
	"github.com/google/uuid"
)

// countingResolver counts Resolve calls made against an underlying Registry.
type countingResolver struct {
	reg      *tickrpc.Registry
	resolves int
}

func (r *countingResolver) Resolve(service, procedure string) (tickrpc.Signature, error) {
	r.resolves++
	return r.reg.Resolve(service, procedure)
}

// altimeter is host state advanced once per tick.
type altimeter struct {
	altitude float64
	climb    float64
}

func (a *altimeter) advance(uint64) { a.altitude += a.climb }

// newTestRuntime registers Calculator.Add, Nav.WaitUntilAltitude,
// Test.YieldTimes, Test.Nested, Test.Throw and Test.Panic.
func newTestRuntime(alt *altimeter) (*tickrpc.Runtime, *countingResolver) {
	reg := tickrpc.NewRegistry()
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(reg.Register(tickrpc.Signature{
		Service:   "Calculator",
		Procedure: "Add",
		Params:    []tickrpc.Parameter{{Name: "a", Kind: tickrpc.KindInt}, {Name: "b", Kind: tickrpc.KindInt}},
		Returns:   tickrpc.KindInt,
		Body: func(_ tickrpc.CallContext, args []any) kont.Eff[any] {
			return tickrpc.Return(args[0].(int64) + args[1].(int64))
		},
	}))
	must(reg.Register(tickrpc.Signature{
		Service:   "Nav",
		Procedure: "WaitUntilAltitude",
		Params:    []tickrpc.Parameter{{Name: "altitude", Kind: tickrpc.KindFloat}},
		Returns:   tickrpc.KindBool,
		Body: func(_ tickrpc.CallContext, args []any) kont.Eff[any] {
			target := args[0].(float64)
			return tickrpc.Then(tickrpc.WaitUntil(func() bool { return alt.altitude >= target }),
				func(struct{}) kont.Eff[any] { return tickrpc.Return(true) })
		},
	}))
	must(reg.Register(tickrpc.Signature{
		Service:   "Test",
		Procedure: "YieldTimes",
		Params:    []tickrpc.Parameter{{Name: "n", Kind: tickrpc.KindInt}},
		Returns:   tickrpc.KindInt,
		Body:      yieldTimes,
	}))
	must(reg.Register(tickrpc.Signature{
		Service:   "Test",
		Procedure: "Nested",
		Params:    []tickrpc.Parameter{{Name: "n", Kind: tickrpc.KindInt}},
		Returns:   tickrpc.KindInt,
		Body: func(cc tickrpc.CallContext, args []any) kont.Eff[any] {
			// Two nested bodies, each yielding n times.
			return tickrpc.Then(yieldTimes(cc, args), func(a any) kont.Eff[any] {
				return tickrpc.Then(yieldTimes(cc, args), func(b any) kont.Eff[any] {
					return tickrpc.Return(a.(int64) + b.(int64))
				})
			})
		},
	}))
	must(reg.Register(tickrpc.Signature{
		Service:   "Test",
		Procedure: "Throw",
		Params:    []tickrpc.Parameter{{Name: "afterYields", Kind: tickrpc.KindInt, Optional: true, Default: int64(0)}},
		Body: func(_ tickrpc.CallContext, args []any) kont.Eff[any] {
			n := int(args[0].(int64))
			if n == 0 {
				return tickrpc.Throw(errBoom)
			}
			return tickrpc.Then(tickrpc.Repeat(n, func(int) struct{} { return struct{}{} }),
				func(struct{}) kont.Eff[any] { return tickrpc.Throw(errBoom) })
		},
	}))
	must(reg.Register(tickrpc.Signature{
		Service:   "Test",
		Procedure: "Panic",
		Body: func(tickrpc.CallContext, []any) kont.Eff[any] {
			return tickrpc.Then(tickrpc.Yield(), func(struct{}) kont.Eff[any] {
				panic("host exploded")
			})
		},
	}))
	cr := &countingResolver{reg: reg}
	return tickrpc.NewRuntime(cr), cr
}

var errBoom = errors.New("boom")

// yieldTimes yields n times, then returns n.
func yieldTimes(_ tickrpc.CallContext, args []any) kont.Eff[any] {
	n := args[0].(int64)
	if n == 0 {
		return tickrpc.Return(n)
	}
	return tickrpc.Then(tickrpc.Repeat(int(n)+1, func(int) int64 { return n }),
		func(v int64) kont.Eff[any] { return tickrpc.Return(v) })
}

// runToCompletion steps c until it is terminal, returning the result and
// the number of suspensions observed.
func runToCompletion(c *tickrpc.Continuation) (tickrpc.Result, int, error) {
	suspensions := 0
	for {
		res, next, err := c.Step()
		if err != nil {
			return tickrpc.Result{}, suspensions, err
		}
		if next == nil {
			return res, suspensions, nil
		}
		suspensions++
		c = next
	}
}

// fakeHost is an in-memory Host.
type fakeHost struct {
	client    uuid.UUID
	queued    []tickrpc.Request
	dropped   []uuid.UUID
	delivered []tickrpc.Response
	ticks     int // remaining Running() == true answers; <0 means forever
	updates   []uint64
}

func newFakeHost() *fakeHost {
	return &fakeHost{client: uuid.New(), ticks: -1}
}

func (h *fakeHost) send(service, procedure string, args ...any) tickrpc.RequestID {
	id := tickrpc.NextRequestID()
	h.queued = append(h.queued, tickrpc.Request{
		ID:     id,
		Client: h.client,
		Call:   tickrpc.Call{Service: service, Procedure: procedure, Args: args},
	})
	return id
}

func (h *fakeHost) Running() bool {
	if h.ticks < 0 {
		return true
	}
	if h.ticks == 0 {
		return false
	}
	h.ticks--
	return true
}

func (h *fakeHost) Poll(in *tickrpc.Inbox) {
	for _, r := range h.queued {
		in.Push(r)
	}
	h.queued = h.queued[:0]
	for _, c := range h.dropped {
		in.Drop(c)
	}
	h.dropped = h.dropped[:0]
}

func (h *fakeHost) Deliver(resp tickrpc.Response) {
	h.delivered = append(h.delivered, resp)
}

func (h *fakeHost) Update(tick uint64) {
	h.updates = append(h.updates, tick)
}

func (h *fakeHost) response(id tickrpc.RequestID) (tickrpc.Response, bool) {
	for _, r := range h.delivered {
		if r.ID == id {
			return r, true
		}
	}
	return tickrpc.Response{}, false
}
