// Package comm connects the radio's RMAP-addressable register file to the
// link-exchange layer through a pair of clips: the uplink clip turns an
// RMAP read reply of the uplink registers into extracted bytes on a duct,
// and the downlink clip drains a duct of outbound frames into RMAP write
// requests. Both clips only build requests on their Transactor (marking it
// pending); the built request bytes are not sent anywhere by this package.
//
// Grounded on original_source/comm.c's register address assignments and
// its uplink-poll/downlink-drain clip pair.
package comm

import (
	"github.com/celskeggs/hailburst-sub000/internal/duct"
	"github.com/celskeggs/hailburst-sub000/internal/radio"
	"github.com/celskeggs/hailburst-sub000/internal/rmap"
	"github.com/celskeggs/hailburst-sub000/internal/sched"
	"github.com/celskeggs/hailburst-sub000/internal/trace"
)

// Register addresses within the radio's RMAP address space, matching
// original_source/comm.c.
const (
	RegMagic      = 0
	RegTxPtr      = 1
	RegTxLen      = 2
	RegTxState    = 3
	RegRxState    = 4
	RegRxPtrPrime = 5
	RegRxLenPrime = 6
	RegRxPtrAlt   = 7
	RegRxLenAlt   = 8
)

// UplinkClip polls the radio's uplink registers via RMAP, runs the
// ping-pong read algorithm, and forwards newly extracted bytes onto an
// outbound duct for internal/exchange to decode into packets.
type UplinkClip struct {
	Transactor *rmap.Transactor
	Uplink     *radio.Uplink
	Out        *duct.Duct
	OutReplica uint8
	TargetLogAddr, TargetKey byte
}

// Run is the clip body: non-blocking, resumable across calls via the
// transactor's own pending-request bookkeeping.
func (u *UplinkClip) Run(ctx *sched.Context) {
	if !u.Transactor.Pending() {
		// build a fresh register snapshot read (the request bytes are
		// discarded; replies reach HandleReply from the caller); a real implementation
		// reads each register in turn, collapsed here into one RMAP read
		// of the contiguous register block for brevity.
		u.Transactor.BuildRead(u.TargetLogAddr, u.TargetKey, radio.RegBaseAddr, 4*9)
		return
	}
}

// HandleReply processes a completed RMAP read reply carrying the uplink
// register snapshot, runs the ping-pong algorithm, and emits any extracted
// bytes onto Out.
func (u *UplinkClip) HandleReply(reply *rmap.ReadReply, extractedBytes func(regs radio.UplinkRegisters) []byte, watchdogOK func()) {
	if len(reply.Data) < 4*9 {
		trace.Abort("comm: uplink register reply too short")
	}
	regs := radio.UplinkRegisters{
		State:         radio.RxState(be32(reply.Data[4*RegRxState:])),
		EndIndexPrime: be32(reply.Data[4*RegRxLenPrime:]),
		EndIndexAlt:   be32(reply.Data[4*RegRxLenAlt:]),
	}
	plan := u.Uplink.ComputeReads(regs, watchdogOK)
	if plan.ReadLength == 0 {
		return
	}
	body := extractedBytes(regs)
	if len(body) == 0 {
		return
	}
	u.Out.SendPrepare(u.OutReplica)
	if u.Out.SendAllowed(u.OutReplica) {
		u.Out.SendMessage(u.OutReplica, body, 0)
	}
	u.Out.SendCommit(u.OutReplica)
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// DownlinkClip drains a duct of outbound telemetry frames and turns them
// into RMAP write requests for the radio's transmit memory.
type DownlinkClip struct {
	Transactor               *rmap.Transactor
	Downlink                 *radio.Downlink
	In                       *duct.Duct
	InReplica                uint8
	TargetLogAddr, TargetKey byte
}

// Run drains any messages enqueued in the duct this epoch into the local
// downlink transmitter, then builds an RMAP write request if there is a
// frame ready and hwState reports the hardware idle. The request bytes are
// discarded; only the transactor's pending state records the request.
func (d *DownlinkClip) Run(hwState radio.TxState) {
	d.In.ReceivePrepare(d.InReplica)
	buf := make([]byte, d.In.MessageSize())
	for {
		n := d.In.ReceiveMessage(d.InReplica, buf, nil)
		if n == 0 {
			break
		}
		if !d.Downlink.Enqueue(buf[:n]) {
			trace.Trace(1, "comm: downlink busy, dropping telemetry frame")
		}
	}
	d.In.ReceiveCommit(d.InReplica)

	if d.Transactor.Pending() {
		return
	}
	frame, ready := d.Downlink.Poll(hwState)
	if !ready {
		return
	}
	d.Transactor.BuildWrite(d.TargetLogAddr, d.TargetKey, radio.MemBaseAddr, frame)
}
