// Package magnetometer implements a stub three-axis magnetometer sensor
// clip: a periodic, fixed-shape sample message published onto a telemetry
// duct at a fixed cadence, standing in for a real sensor driver.
//
// Grounded on original_source/magnetometer.c's periodic stub sampling
// clip, which synthesizes a deterministic waveform rather than talking to
// real hardware -- useful for exercising the telemetry pipeline on a
// testbed with no sensor attached.
package magnetometer

import (
	"encoding/binary"
	"math"

	"github.com/celskeggs/hailburst-sub000/internal/duct"
	"github.com/celskeggs/hailburst-sub000/internal/sched"
)

// RecordKind is this sensor's telemetry record tag, consumed by
// internal/telemetry's DrainClip.
const RecordKind = 0x4D41 // "MA"

// SampleClip periodically publishes a synthesized magnetic-field sample.
type SampleClip struct {
	Out        *duct.Duct
	OutReplica uint8

	PeriodNS uint64
	lastAt   uint64
	started  bool

	phase float64
}

// Run is the clip body; ctx carries no timing information by itself, so
// the clip is driven by the scheduler's own cadence (one invocation equals
// one sample) rather than self-timing against a wall clock.
func (c *SampleClip) Run(ctx *sched.Context) {
	x := int32(math.Round(2000 * math.Sin(c.phase)))
	y := int32(math.Round(2000 * math.Sin(c.phase+2*math.Pi/3)))
	z := int32(math.Round(2000 * math.Sin(c.phase+4*math.Pi/3)))
	c.phase += 0.1
	if c.phase > 2*math.Pi {
		c.phase -= 2 * math.Pi
	}

	body := make([]byte, 2+12)
	binary.BigEndian.PutUint16(body[0:2], RecordKind)
	binary.BigEndian.PutUint32(body[2:6], uint32(x))
	binary.BigEndian.PutUint32(body[6:10], uint32(y))
	binary.BigEndian.PutUint32(body[10:14], uint32(z))

	c.Out.SendPrepare(c.OutReplica)
	if c.Out.SendAllowed(c.OutReplica) {
		c.Out.SendMessage(c.OutReplica, body, 0)
	}
	c.Out.SendCommit(c.OutReplica)
}
