// Package telemetry implements the tlm-duct draining clip: it collects
// fixed-shape telemetry records from an inbound duct (written by sensor
// and housekeeping clips) and republishes them, framed, onto the
// downlink-bound duct that internal/comm's DownlinkClip drains.
//
// Grounded on original_source/telemetry.c's drain-and-forward clip.
package telemetry

import (
	"encoding/binary"

	"github.com/celskeggs/hailburst-sub000/internal/duct"
	"github.com/celskeggs/hailburst-sub000/internal/sched"
	"github.com/celskeggs/hailburst-sub000/internal/trace"
)

// RecordKind tags the shape of a telemetry record so the ground segment
// can decode the downlink stream without an out-of-band schema.
type RecordKind uint16

// DrainClip is the per-epoch clip body: it strictly votes and drains the
// inbound telemetry duct, and republishes each record -- prefixed with its
// kind and a monotonic sequence number -- onto the outbound duct.
type DrainClip struct {
	In        *duct.Duct
	InReplica uint8

	Out        *duct.Duct
	OutReplica uint8

	seq uint32
}

// Run is the clip body.
func (c *DrainClip) Run(ctx *sched.Context) {
	c.In.ReceivePrepare(c.InReplica)
	buf := make([]byte, c.In.MessageSize())

	c.Out.SendPrepare(c.OutReplica)
	for {
		n := c.In.ReceiveMessage(c.InReplica, buf, nil)
		if n == 0 {
			break
		}
		if n < 2 {
			trace.Abort("telemetry: record too short to carry a kind tag")
		}
		kind := binary.BigEndian.Uint16(buf[:2])

		frame := make([]byte, 0, 8+n-2)
		var hdr [8]byte
		binary.BigEndian.PutUint16(hdr[0:2], kind)
		binary.BigEndian.PutUint32(hdr[2:6], c.seq)
		c.seq++
		frame = append(frame, hdr[:]...)
		frame = append(frame, buf[2:n]...)

		if c.Out.SendAllowed(c.OutReplica) {
			c.Out.SendMessage(c.OutReplica, frame, 0)
		} else {
			trace.Trace(1, "telemetry: outbound duct full, dropping record kind=%d", kind)
		}
	}
	c.Out.SendCommit(c.OutReplica)
	c.In.ReceiveCommit(c.InReplica)
}
