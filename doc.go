// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package tickrpc runs remote procedure calls against a single-threaded host
// that advances at a fixed tick rate, using continuations from
// [code.hybscloud.com/kont] so a call may span many ticks.
//
// # Architecture
//
//   - Procedures: bodies are [code.hybscloud.com/kont.Eff] computations. A body suspends
//     by performing [Yield]; [WaitUntil], [YieldThen], [Repeat] and [Loop] compose yields, and [Throw] fails the call.
//   - Registry: [Registry] maps (service, procedure) pairs to an immutable [Signature].
//   - Execution: [Executor] steps a body until it completes, fails, or suspends,
//     returning an [Outcome]. A suspension carries a one-shot [Token].
//   - Continuations: [Continuation] wraps one logical request. The signature is resolved
//     exactly once and carried across every resumption; a lookup failure is deferred to the first [Continuation.Step].
//   - Scheduling: [Scheduler] polls every registered [Host] once per tick, steps each
//     pending continuation exactly once, delivers terminal results, and paces to the target rate.
//
// # Concurrency
//
// Every Step and every procedure body runs on the goroutine that drives the
// [Scheduler]. Hosts own their I/O goroutines and exchange requests and
// responses with the scheduler through their own queues; see package server.
//
// # Example
//
//	reg := tickrpc.NewRegistry()
//	_ = reg.Register(tickrpc.Signature{
//		Service:   "Calculator",
//		Procedure: "Add",
//		Params:    []tickrpc.Parameter{{Name: "a", Kind: tickrpc.KindInt}, {Name: "b", Kind: tickrpc.KindInt}},
//		Returns:   tickrpc.KindInt,
//		Body: func(_ tickrpc.CallContext, args []any) kont.Eff[any] {
//			return tickrpc.Return(args[0].(int64) + args[1].(int64))
//		},
//	})
//	c := tickrpc.NewContinuation(tickrpc.NewRuntime(reg), tickrpc.CallContext{},
//		tickrpc.Call{Service: "Calculator", Procedure: "Add", Args: []any{2, 3}})
//	res, next, err := c.Step() // res.Value == int64(5), next == nil, err == nil
package tickrpc
