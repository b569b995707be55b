// Package craft holds the system topology registry -- initializers tagged
// with one of three boot stages, and the ordered schedule table -- and
// boots it into an internal/sched scheduler. It creates no ducts or clips
// itself; the registered initializers and AddClip callers do that.
//
// Grounded on fsw/vivid/rtos_tasks.c's PROGRAM_INIT staging
// (STAGE_RAW/STAGE_READY/STAGE_CRAFT) and its assembly of the global
// schedule table.
package craft

import (
	"github.com/celskeggs/hailburst-sub000/internal/sched"
	"github.com/celskeggs/hailburst-sub000/internal/trace"
)

// Stage identifies one of the three boot phases a topology definition
// walks through in order.
type Stage int

const (
	// StageRaw runs first: allocate ducts, notepads, and any package-level
	// state, but perform no I/O and make no assumption that any other
	// component has been constructed yet.
	StageRaw Stage = iota
	// StageReady runs once every component's StageRaw initializer has
	// completed: wire cross-component references (a clip's duct handles,
	// a transactor's register addresses) that depend on other components
	// existing.
	StageReady
	// StageCraft runs last: anything that should happen exactly once,
	// immediately before the schedule starts running epochs.
	StageCraft
)

// InitFunc is one registered initializer, tagged with the stage it must
// run in.
type InitFunc struct {
	Stage Stage
	Name  string
	Fn    func()
}

// Topology accumulates initializers and schedule entries as components
// register themselves, then boots and runs the assembled system.
type Topology struct {
	inits    []InitFunc
	schedule []*sched.Clip
	booted   bool
}

// New constructs an empty topology.
func New() *Topology {
	return &Topology{}
}

// Register adds an initializer to run during the given stage. Components
// call this from their own package-level registration (an init() or an
// explicit setup call from cmd/ main), mirroring PROGRAM_INIT's macro-based
// registration in the C source.
func (t *Topology) Register(stage Stage, name string, fn func()) {
	if t.booted {
		trace.Abort("craft: cannot register %q after boot", name)
	}
	t.inits = append(t.inits, InitFunc{Stage: stage, Name: name, Fn: fn})
}

// AddClip appends a clip to the schedule table, in registration order --
// the fixed round-robin order the scheduler will dispatch them in.
func (t *Topology) AddClip(c *sched.Clip) {
	if t.booted {
		trace.Abort("craft: cannot add clip %q after boot", c.Name)
	}
	t.schedule = append(t.schedule, c)
}

// Boot runs every registered initializer in stage order (StageRaw, then
// StageReady, then StageCraft), and constructs the scheduler over the
// assembled clip list. Boot may only be called once.
func (t *Topology) Boot(clock sched.Clock, startTime uint64) *sched.Scheduler {
	if t.booted {
		trace.Abort("craft: already booted")
	}
	if len(t.schedule) == 0 {
		trace.Abort("craft: no clips registered")
	}
	t.booted = true

	for _, stage := range []Stage{StageRaw, StageReady, StageCraft} {
		for _, init := range t.inits {
			if init.Stage != stage {
				continue
			}
			trace.Trace(3, "craft: running %v initializer %q", stage, init.Name)
			init.Fn()
		}
	}

	return sched.New(clock, t.schedule, startTime)
}

func (s Stage) String() string {
	switch s {
	case StageRaw:
		return "RAW"
	case StageReady:
		return "READY"
	case StageCraft:
		return "CRAFT"
	default:
		return "UNKNOWN"
	}
}
