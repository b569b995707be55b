// Package sched implements the deterministic round-robin clip scheduler:
// a fixed schedule table walked one clip at a time, with per-clip
// nanosecond budgets, overrun detection, and per-clip restart generations.
//
// Grounded on fsw/vivid/rtos_tasks.c's schedule_execute/schedule_advance
// pair -- schedule_index, schedule_loads, schedule_ticks, and the
// RESTART_ON_RESCHEDULE vs plain-resume distinction map directly onto the
// fields and methods below, adapted from a real timer-interrupt context
// switch to a single-goroutine deterministic call loop (this core has no
// hardware interrupt to drive the genuine preemption the original relies
// on; callers supply a Clock so tests can run epochs without wall-clock
// delay).
package sched

import (
	"github.com/celskeggs/hailburst-sub000/internal/trace"
)

// RestartPolicy selects whether a clip resumes from where the scheduler
// left off at the last deadline, or always restarts its invocation fresh.
type RestartPolicy int

const (
	// NotRestartable clips are expected to run to completion every time
	// they are dispatched; an overrun is a scheduler-level contract
	// violation.
	NotRestartable RestartPolicy = iota
	// RestartOnReschedule clips may be interrupted at deadline and will
	// simply be invoked fresh (from the top) next time they are
	// dispatched; ClipIsRestart() reports true for that invocation.
	RestartOnReschedule
)

// Clip is a single schedule-table entry: a non-blocking function and its
// budget. restarts is the clip's own restart-generation counter, incremented
// whenever the clip is judged to have been interrupted rather than having
// returned normally.
type Clip struct {
	Name     string
	Fn       func(ctx *Context)
	Budget   uint64 // nanoseconds
	Policy   RestartPolicy
	restarts uint64
	ranLast  bool
}

// Context is passed to a running clip; ClipIsRestart reports whether this
// invocation follows an interruption (deadline overrun on a
// RestartOnReschedule clip, or the very first invocation after process
// start) rather than a normal return.
type Context struct {
	isRestart bool
}

// ClipIsRestart returns true inside a clip on the first invocation after
// the process started, or after the previous invocation was interrupted by
// deadline -- see spec.md §4.2.
func (c *Context) ClipIsRestart() bool { return c.isRestart }

// Clock abstracts the monotonic nanosecond timer boundary (timer_now_ns())
// so that tests can drive the scheduler without wall-clock delay.
type Clock interface {
	NowNS() uint64
}

// Scheduler walks a fixed ordered list of Clip entries round-robin, one
// full pass constituting one epoch.
type Scheduler struct {
	clock     Clock
	schedule  []*Clip
	index     int
	loads     uint64
	ticks     uint64
	periodEnd uint64
	lastEnd   uint64
	epochAt   uint64
}

// New constructs a scheduler over the given fixed schedule table, starting
// the clock at startTime.
func New(clock Clock, schedule []*Clip, startTime uint64) *Scheduler {
	if len(schedule) == 0 {
		trace.Abort("sched: schedule table must not be empty")
	}
	for _, c := range schedule {
		c.ranLast = true // first invocation of every clip counts as a restart
	}
	return &Scheduler{
		clock:    clock,
		schedule: schedule,
		lastEnd:  startTime,
	}
}

// Loads returns the free-running count of clip dispatches.
func (s *Scheduler) Loads() uint64 { return s.loads }

// Ticks returns the free-running count of full epoch passes.
func (s *Scheduler) Ticks() uint64 { return s.ticks }

// EpochStart returns the monotonic time at which the current epoch began.
func (s *Scheduler) EpochStart() uint64 { return s.epochAt }

// Advance dispatches exactly one clip: the next entry in the schedule
// table. It programs the new deadline, asserts the scheduler has not
// already drifted past it (an overrun of the *previous* clip), and invokes
// the clip function. Panics (contract violations bubbling up from inside a
// clip) and deadline overruns both abort the process via trace.Abort, the
// same fail-stop semantics described in spec.md §4.2.
func (s *Scheduler) Advance() {
	clip := s.schedule[s.index]

	if s.index == 0 {
		s.epochAt = s.lastEnd
	}
	s.loads++

	deadline := s.lastEnd + clip.Budget
	here := s.clock.NowNS()
	if here > deadline {
		trace.Abort("sched: clip %q overran its budget (now=%d > deadline=%d)", clip.Name, here, deadline)
	}

	s.periodEnd = s.lastEnd
	s.lastEnd = deadline

	ctx := &Context{isRestart: clip.ranLast}
	clip.ranLast = false

	func() {
		defer func() {
			if r := recover(); r != nil {
				clip.ranLast = true
				clip.restarts++
				panic(r)
			}
		}()
		clip.Fn(ctx)
	}()

	if clip.Policy == RestartOnReschedule {
		// A clip that returns normally is, by definition, not mid-cycle;
		// the next dispatch is a restart only if this invocation finished
		// past its own deadline -- checked here, once the clip returns, by
		// comparing real elapsed time against the deadline.
		after := s.clock.NowNS()
		if after > deadline {
			clip.ranLast = true
			clip.restarts++
		}
	}

	s.index = (s.index + 1) % len(s.schedule)
	if s.index == 0 {
		s.ticks++
	}
}

// RunEpoch dispatches one full pass through the schedule table.
func (s *Scheduler) RunEpoch() {
	n := len(s.schedule)
	for i := 0; i < n; i++ {
		s.Advance()
	}
}
