// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tickrpc_test

import (
	"errors"
	"testing"

	"code.hybscloud.com/kont"
	"code.hybscloud.com/tickrpc"
)

func TestContinuationCompletesWithoutSuspension(t *testing.T) {
	rt, cr := newTestRuntime(&altimeter{})
	c := tickrpc.NewContinuation(rt, tickrpc.CallContext{},
		tickrpc.Call{Service: "Calculator", Procedure: "Add", Args: []any{2, 3}})

	res, next, err := c.Step()
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if next != nil {
		t.Fatal("expected terminal result, got suspension")
	}
	if res.Failed() {
		t.Fatalf("unexpected failure: %v", res.Err)
	}
	if res.Value != int64(5) {
		t.Fatalf("got %v, want 5", res.Value)
	}
	if cr.resolves != 1 {
		t.Fatalf("resolves got %d, want 1", cr.resolves)
	}
}

func TestContinuationResolvesOnceAcrossSuspensions(t *testing.T) {
	rt, cr := newTestRuntime(&altimeter{})
	for _, n := range []int64{1, 2, 5, 32} {
		cr.resolves = 0
		c := tickrpc.NewContinuation(rt, tickrpc.CallContext{},
			tickrpc.Call{Service: "Test", Procedure: "YieldTimes", Args: []any{n}})

		res, suspensions, err := runToCompletion(c)
		if err != nil {
			t.Fatalf("n=%d: %v", n, err)
		}
		if int64(suspensions) != n {
			t.Fatalf("n=%d: suspensions got %d", n, suspensions)
		}
		if res.Value != n {
			t.Fatalf("n=%d: value got %v", n, res.Value)
		}
		if cr.resolves != 1 {
			t.Fatalf("n=%d: resolves got %d, want 1", n, cr.resolves)
		}
	}
}

func TestContinuationNestedSuspension(t *testing.T) {
	rt, cr := newTestRuntime(&altimeter{})
	c := tickrpc.NewContinuation(rt, tickrpc.CallContext{},
		tickrpc.Call{Service: "Test", Procedure: "Nested", Args: []any{3}})

	res, suspensions, err := runToCompletion(c)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if suspensions != 6 {
		t.Fatalf("suspensions got %d, want 6", suspensions)
	}
	if res.Value != int64(6) {
		t.Fatalf("value got %v, want 6", res.Value)
	}
	if cr.resolves != 1 {
		t.Fatalf("resolves got %d, want 1", cr.resolves)
	}
}

func TestContinuationDeferredLookupFailure(t *testing.T) {
	rt, cr := newTestRuntime(&altimeter{})

	cases := []tickrpc.Call{
		{Service: "Missing", Procedure: "Add"},
		{Service: "Calculator", Procedure: "Missing"},
	}
	for _, call := range cases {
		cr.resolves = 0
		// Construction never raises.
		c := tickrpc.NewContinuation(rt, tickrpc.CallContext{}, call)
		if c.Signature() != nil {
			t.Fatalf("%s: signature resolved for unknown name", call.Name())
		}
		if cr.resolves != 1 {
			t.Fatalf("%s: resolves got %d, want 1", call.Name(), cr.resolves)
		}

		_, next, err := c.Step()
		if next != nil {
			t.Fatalf("%s: unexpected suspension", call.Name())
		}
		if !errors.Is(err, tickrpc.ErrLookupFailed) {
			t.Fatalf("%s: got %v, want ErrLookupFailed", call.Name(), err)
		}
		var le *tickrpc.LookupError
		if !errors.As(err, &le) {
			t.Fatalf("%s: got %T, want *LookupError", call.Name(), err)
		}
	}
}

func TestContinuationWrapsForeignResolverErrors(t *testing.T) {
	rt := tickrpc.NewRuntime(resolverFunc(func(string, string) (tickrpc.Signature, error) {
		return tickrpc.Signature{}, errors.New("registry offline")
	}))
	c := tickrpc.NewContinuation(rt, tickrpc.CallContext{}, tickrpc.Call{Service: "A", Procedure: "B"})
	_, _, err := c.Step()
	if !errors.Is(err, tickrpc.ErrLookupFailed) {
		t.Fatalf("got %v, want ErrLookupFailed", err)
	}
}

type resolverFunc func(service, procedure string) (tickrpc.Signature, error)

func (f resolverFunc) Resolve(service, procedure string) (tickrpc.Signature, error) {
	return f(service, procedure)
}

func TestContinuationStepTwice(t *testing.T) {
	rt, _ := newTestRuntime(&altimeter{})
	c := tickrpc.NewContinuation(rt, tickrpc.CallContext{},
		tickrpc.Call{Service: "Test", Procedure: "YieldTimes", Args: []any{1}})

	_, next, err := c.Step()
	if err != nil || next == nil {
		t.Fatalf("first Step: next=%v err=%v", next, err)
	}
	if _, _, err := c.Step(); !errors.Is(err, tickrpc.ErrStepped) {
		t.Fatalf("second Step on original: got %v, want ErrStepped", err)
	}

	res, last, err := next.Step()
	if err != nil || last != nil || res.Value != int64(1) {
		t.Fatalf("resumed Step: res=%v last=%v err=%v", res, last, err)
	}
	if _, _, err := next.Step(); !errors.Is(err, tickrpc.ErrStepped) {
		t.Fatalf("second Step on resumption: got %v, want ErrStepped", err)
	}
}

func TestContinuationSignatureSnapshot(t *testing.T) {
	reg := tickrpc.NewRegistry()
	sig := tickrpc.Signature{
		Service:   "Test",
		Procedure: "Twice",
		Body: func(tickrpc.CallContext, []any) kont.Eff[any] {
			return tickrpc.Then(tickrpc.Yield(), func(struct{}) kont.Eff[any] { return tickrpc.Return("v1") })
		},
	}
	if err := reg.Register(sig); err != nil {
		t.Fatal(err)
	}
	rt := tickrpc.NewRuntime(reg)
	c := tickrpc.NewContinuation(rt, tickrpc.CallContext{}, tickrpc.Call{Service: "Test", Procedure: "Twice"})
	_, next, err := c.Step()
	if err != nil || next == nil {
		t.Fatalf("first Step: next=%v err=%v", next, err)
	}

	// Replacing the registry entry mid-request does not affect the snapshot.
	reg.Unregister("Test", "Twice")
	if next.Signature() != c.Signature() {
		t.Fatal("resumption does not share the resolved signature")
	}
	res, _, err := next.Step()
	if err != nil || res.Value != "v1" {
		t.Fatalf("resumed Step: res=%v err=%v", res, err)
	}
}

func TestContinuationCallFailure(t *testing.T) {
	rt, _ := newTestRuntime(&altimeter{})

	for _, after := range []int64{0, 1, 3} {
		c := tickrpc.NewContinuation(rt, tickrpc.CallContext{},
			tickrpc.Call{Service: "Test", Procedure: "Throw", Args: []any{after}})
		res, _, err := runToCompletion(c)
		if err != nil {
			t.Fatalf("after=%d: unexpected step error %v", after, err)
		}
		if !errors.Is(res.Err, tickrpc.ErrCallFailed) {
			t.Fatalf("after=%d: got %v, want ErrCallFailed", after, res.Err)
		}
		if !errors.Is(res.Err, errBoom) {
			t.Fatalf("after=%d: got %v, want errBoom", after, res.Err)
		}
	}
}

func TestContinuationDiscard(t *testing.T) {
	rt, _ := newTestRuntime(&altimeter{})
	c := tickrpc.NewContinuation(rt, tickrpc.CallContext{},
		tickrpc.Call{Service: "Test", Procedure: "YieldTimes", Args: []any{4}})
	_, next, err := c.Step()
	if err != nil || next == nil {
		t.Fatalf("Step: next=%v err=%v", next, err)
	}
	next.Discard()
	if _, _, err := next.Step(); !errors.Is(err, tickrpc.ErrStepped) {
		t.Fatalf("Step after Discard: got %v, want ErrStepped", err)
	}
}

func TestPrepareSkipsResolver(t *testing.T) {
	rt, cr := newTestRuntime(&altimeter{})
	sig, err := cr.Resolve("Calculator", "Add")
	if err != nil {
		t.Fatal(err)
	}
	cr.resolves = 0
	for i := range 3 {
		c := tickrpc.Prepare(rt.Executor, &sig, tickrpc.CallContext{},
			tickrpc.Call{Service: "Calculator", Procedure: "Add", Args: []any{i, i}})
		res, _, err := c.Step()
		if err != nil || res.Value != int64(2*i) {
			t.Fatalf("i=%d: res=%v err=%v", i, res, err)
		}
	}
	if cr.resolves != 0 {
		t.Fatalf("resolves got %d, want 0", cr.resolves)
	}
}
