// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tickrpc

import (
	"time"

	"code.hybscloud.com/spin"
)

// pacer holds ticks to a fixed period against absolute deadlines, so
// per-tick overhead does not accumulate as drift.
//
// Waiting is hybrid: sleep until spinFor before the deadline, then spin.
// Sleep granularity on most platforms is too coarse for a 16ms period.
type pacer struct {
	period   time.Duration
	spinFor  time.Duration
	spinOnly bool
	deadline time.Time
	sw       spin.Wait
}

// begin starts a tick and returns its start time. The deadline advances
// by one period; if the loop fell more than a period behind it resyncs to
// now instead of bursting to catch up.
func (p *pacer) begin() time.Time {
	now := time.Now()
	if p.deadline.IsZero() || now.Sub(p.deadline) > p.period {
		p.deadline = now.Add(p.period)
		return now
	}
	p.deadline = p.deadline.Add(p.period)
	return now
}

// wait blocks until the current deadline.
func (p *pacer) wait() {
	p.sw.Reset()
	for {
		remaining := time.Until(p.deadline)
		if remaining <= 0 {
			return
		}
		if !p.spinOnly && remaining > p.spinFor {
			time.Sleep(remaining - p.spinFor)
			continue
		}
		p.sw.Once()
	}
}

// Stats are tick timing statistics gathered by Scheduler.Run.
type Stats struct {
	// Ticks is the number of paced ticks observed.
	Ticks uint64
	// Mean is the mean start-to-start tick period.
	Mean time.Duration
	// MaxWork is the longest time spent inside a single tick.
	MaxWork time.Duration
	// Overruns counts ticks whose work alone exceeded the period.
	Overruns uint64

	first time.Time
	last  time.Time
}

func (st *Stats) observe(start time.Time, work, period time.Duration) {
	if st.Ticks == 0 {
		st.first = start
	}
	st.Ticks++
	st.last = start
	if st.Ticks > 1 {
		st.Mean = st.last.Sub(st.first) / time.Duration(st.Ticks-1)
	}
	if work > st.MaxWork {
		st.MaxWork = work
	}
	if work > period {
		st.Overruns++
	}
}
