// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tickrpc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Inbox collects what a Host observed since the previous tick.
// The scheduler reuses one Inbox across hosts and ticks.
type Inbox struct {
	requests []Request
	dropped  []ClientID
}

// Push hands a decoded request to the scheduler.
func (in *Inbox) Push(r Request) {
	in.requests = append(in.requests, r)
}

// Drop reports that client disconnected. Its pending requests are removed
// without being stepped again.
func (in *Inbox) Drop(client ClientID) {
	in.dropped = append(in.dropped, client)
}

func (in *Inbox) reset() {
	clear(in.requests)
	in.requests = in.requests[:0]
	in.dropped = in.dropped[:0]
}

// Host is a request source serviced by the Scheduler once per tick.
// Poll and Deliver are called on the scheduler goroutine.
type Host interface {
	// Running reports whether the host still accepts work. The scheduler
	// loop ends once no registered host is running.
	Running() bool
	// Poll pushes every request and dropped client observed since the
	// previous poll into in. It must not block.
	Poll(in *Inbox)
	// Deliver hands a terminal result to the host for the originating client.
	Deliver(resp Response)
}

// Updater is implemented by hosts that need per-tick servicing after all
// pending calls have been stepped.
type Updater interface {
	Update(tick uint64)
}

// Config configures a Scheduler. Zero fields take defaults.
type Config struct {
	// Rate is the target tick rate in ticks per second. Default 60.
	Rate int
	// SpinThreshold is how long before a deadline the pacer stops sleeping
	// and spins. Default 2ms.
	SpinThreshold time.Duration
	// SpinOnly disables sleeping entirely: the pacer busy-waits for the
	// whole remainder of every tick.
	SpinOnly bool
	// Debug enables periodic tick timing reports.
	Debug bool
	// Report receives the timing reports as plain lines, independent of the
	// logger's level. When nil they are logged at Info.
	Report io.Writer
	// ReportEvery is the number of ticks between timing reports. Default Rate.
	ReportEvery uint64
	// Logger receives scheduler diagnostics. Default discards.
	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.Rate <= 0 {
		c.Rate = 60
	}
	if c.SpinThreshold <= 0 {
		c.SpinThreshold = 2 * time.Millisecond
	}
	if c.ReportEvery == 0 {
		c.ReportEvery = uint64(c.Rate)
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
}

// pendingCall is one entry of the pending-call table.
type pendingCall struct {
	id     RequestID
	host   int
	client ClientID
	name   string
	cont   *Continuation
}

// Scheduler drives continuations at a fixed tick rate.
//
// All state is owned by the goroutine calling Tick or Run; Add and OnTick
// must be called before Run.
type Scheduler struct {
	rt      *Runtime
	cfg     Config
	period  time.Duration
	log     *slog.Logger
	hosts   []Host
	hooks   []func(tick uint64)
	inbox   Inbox
	pending []pendingCall
	tick    uint64
	stats   Stats
}

// NewScheduler returns a Scheduler running continuations against rt.
func NewScheduler(rt *Runtime, cfg Config) *Scheduler {
	cfg.setDefaults()
	return &Scheduler{
		rt:     rt,
		cfg:    cfg,
		period: time.Second / time.Duration(cfg.Rate),
		log:    cfg.Logger,
	}
}

// Add registers h for per-tick servicing.
func (s *Scheduler) Add(h Host) {
	s.hosts = append(s.hosts, h)
}

// OnTick registers fn to run at the start of every tick, before any call
// is stepped. Host simulations advance their state here.
func (s *Scheduler) OnTick(fn func(tick uint64)) {
	s.hooks = append(s.hooks, fn)
}

// Period returns the target tick period.
func (s *Scheduler) Period() time.Duration {
	return s.period
}

// Ticks returns the number of ticks run so far.
func (s *Scheduler) Ticks() uint64 {
	return s.tick
}

// Pending returns the number of suspended requests awaiting a later tick.
func (s *Scheduler) Pending() int {
	return len(s.pending)
}

// IsPending reports whether the request id is in the pending-call table.
func (s *Scheduler) IsPending(id RequestID) bool {
	for i := range s.pending {
		if s.pending[i].id == id {
			return true
		}
	}
	return false
}

// Tick runs one scheduling iteration without pacing.
func (s *Scheduler) Tick() {
	s.tick++
	for _, fn := range s.hooks {
		fn(s.tick)
	}

	for hi, h := range s.hosts {
		s.inbox.reset()
		h.Poll(&s.inbox)
		for _, r := range s.inbox.requests {
			cc := CallContext{Client: r.Client, Request: r.ID}
			s.pending = append(s.pending, pendingCall{
				id:     r.ID,
				host:   hi,
				client: r.Client,
				name:   r.Call.Name(),
				cont:   NewContinuation(s.rt, cc, r.Call),
			})
		}
		for _, client := range s.inbox.dropped {
			s.drop(hi, client)
		}
	}

	kept := s.pending[:0]
	for _, p := range s.pending {
		res, next := s.step(&p)
		if next != nil {
			p.cont = next
			kept = append(kept, p)
			continue
		}
		if res.Failed() {
			s.log.Debug("call failed", "request", p.id, "call", p.name, "err", res.Err)
		}
		s.hosts[p.host].Deliver(Response{ID: p.id, Client: p.client, Result: res})
	}
	clear(s.pending[len(kept):])
	s.pending = kept

	for _, h := range s.hosts {
		if u, ok := h.(Updater); ok {
			u.Update(s.tick)
		}
	}
}

// step runs one Step of p, confining any failure to p's own result.
func (s *Scheduler) step(p *pendingCall) (res Result, next *Continuation) {
	defer func() {
		if r := recover(); r != nil {
			res = ErrorResult(&CallError{Name: p.name, Err: fmt.Errorf("panic: %v", r)})
			next = nil
		}
	}()
	res, next, err := p.cont.Step()
	if err != nil {
		return ErrorResult(err), nil
	}
	return res, next
}

// drop removes every pending request of client on host hi without
// stepping it.
func (s *Scheduler) drop(hi int, client ClientID) {
	kept := s.pending[:0]
	for _, p := range s.pending {
		if p.host == hi && p.client == client {
			s.log.Debug("dropping pending call", "request", p.id, "call", p.name, "client", client)
			p.cont.Discard()
			continue
		}
		kept = append(kept, p)
	}
	clear(s.pending[len(kept):])
	s.pending = kept
}

// running reports whether any registered host is still running.
func (s *Scheduler) running() bool {
	for _, h := range s.hosts {
		if h.Running() {
			return true
		}
	}
	return false
}

// Run ticks at the configured rate until ctx is cancelled or no registered
// host is running. Continuations still pending on exit are abandoned.
// Returns ctx.Err() on cancellation, nil otherwise.
func (s *Scheduler) Run(ctx context.Context) error {
	p := pacer{period: s.period, spinFor: s.cfg.SpinThreshold, spinOnly: s.cfg.SpinOnly}
	defer s.abandon()
	for s.running() {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := p.begin()
		s.Tick()
		work := time.Since(start)
		s.stats.observe(start, work, s.period)

		if s.cfg.Debug && s.tick%s.cfg.ReportEvery == 0 {
			s.report(work)
		}
		p.wait()
	}
	return nil
}

// report describes how far the last tick's work was from the target period.
func (s *Scheduler) report(work time.Duration) {
	diff := s.period - work
	msg, by := "tick fast", diff
	if diff < 0 {
		msg, by = "tick slow", -diff
	}
	if s.cfg.Report != nil {
		fmt.Fprintf(s.cfg.Report, "%s by %v at tick %d (work %v)\n", msg, by, s.tick, work)
		return
	}
	s.log.Info(msg, "tick", s.tick, "by", by, "work", work)
}

// abandon discards every pending continuation.
func (s *Scheduler) abandon() {
	if len(s.pending) == 0 {
		return
	}
	s.log.Debug("abandoning pending calls", "count", len(s.pending))
	for i := range s.pending {
		s.pending[i].cont.Discard()
	}
	clear(s.pending)
	s.pending = s.pending[:0]
}

// Stats returns timing statistics gathered by Run.
func (s *Scheduler) Stats() Stats {
	return s.stats
}
