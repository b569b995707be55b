// Package radio implements the two RMAP-driven pipelines that move bytes
// between the spacecraft radio's onboard memory and the local flight
// software: uplink (a double-buffered "ping-pong" read algorithm draining
// ground-commanded bytes) and downlink (a single-buffer transmit state
// machine for telemetry bound for the ground).
//
// Grounded on fsw/flight/radio.c: the register/memory map constants,
// radio_uplink_compute_reads's half-selection and flip/refill logic, and
// the downlink ACTIVE/IDLE transmit register protocol.
package radio

import (
	"github.com/celskeggs/hailburst-sub000/internal/trace"
)

// Register map constants, matching fsw/flight/radio.c.
const (
	Magic       = 0x7E1ECA11
	RegBaseAddr = 0x0000
	MemBaseAddr = 0x1000
	MemSize     = 0x4000

	// UplinkHalfSize is the size of each of the two ping-pong halves the
	// radio's uplink memory is divided into.
	UplinkHalfSize = MemSize / 4
)

// RxState mirrors the hardware's uplink receive-path register state.
type RxState int

const (
	RxIdle RxState = iota
	RxListening
	RxOverflow
)

// TxState mirrors the hardware's downlink transmit-path register state.
type TxState int

const (
	TxIdle TxState = iota
	TxActive
)

// UplinkRegisters is the subset of hardware state radio_uplink_compute_reads
// consults each round: which state the receive path is in, and the
// byte-offset boundary each of the two ping-pong halves has been filled to.
type UplinkRegisters struct {
	State      RxState
	EndIndexPrime uint32
	EndIndexAlt   uint32
}

// UplinkPlan is what one round of the uplink algorithm decides to do:
// which local half to read from, at what offset, how much, and whether the
// hardware-facing ping-pong halves need to be flipped or refilled
// afterward.
type UplinkPlan struct {
	ReadHalf      int
	ReadOffset    int
	ReadLength    int
	NeedsFlip     bool
	NeedsRefillAlt bool
	NeedsResetAll bool
}

// Uplink tracks the local-side bookkeeping for the ping-pong uplink
// algorithm across rounds: which physical half is considered "prime"
// (actively being read out of) locally, and the running extraction cursor.
type Uplink struct {
	localBufSize   int
	primeHalf      int // 0 or 1
	bytesExtracted uint64
	initialized    bool
}

// NewUplink constructs the uplink reader with a local read-out buffer of
// the given capacity (must not exceed UplinkHalfSize).
func NewUplink(localBufSize int) *Uplink {
	if localBufSize <= 0 || localBufSize > UplinkHalfSize {
		trace.Abort("radio: uplink local buffer size out of range")
	}
	return &Uplink{localBufSize: localBufSize}
}

// ComputeReads decides this round's read plan given the current hardware
// registers, ported from radio_uplink_compute_reads. watchdogOK, if
// non-nil, is invoked once initialization has completed to indicate
// liveness of the radio uplink aspect -- mirroring the original's
// watchdog_ok(WATCHDOG_ASPECT_RADIO_UPLINK) call gated on the same
// condition.
func (u *Uplink) ComputeReads(regs UplinkRegisters, watchdogOK func()) UplinkPlan {
	if !u.initialized {
		u.primeHalf = 0
		u.bytesExtracted = 0
		u.initialized = true
		return UplinkPlan{NeedsResetAll: true}
	}

	if watchdogOK != nil {
		watchdogOK()
	}

	altHalf := 1 - u.primeHalf

	if regs.EndIndexPrime == regs.EndIndexAlt {
		trace.Abort("radio: uplink prime/alt end indices must differ")
	}

	cycleOffset := int(u.bytesExtracted % (2 * uint64(u.localBufSize)))
	readHalf := u.primeHalf
	readOffset := cycleOffset
	if cycleOffset >= u.localBufSize {
		readHalf = altHalf
		readOffset = cycleOffset - u.localBufSize
	}

	var readLength int
	if regs.EndIndexAlt == 0 {
		readLength = int(regs.EndIndexPrime) - readOffset
	} else {
		readLength = u.localBufSize - readOffset
	}
	if readLength < 0 {
		readLength = 0
	}
	if readLength > u.localBufSize {
		readLength = u.localBufSize
	}

	u.bytesExtracted += uint64(readLength)

	// The alt half is considered to still hold unread hardware-written
	// bytes whenever its recorded end index is nonzero; a zero end index
	// means the hardware has not (yet, or again) written anything new
	// there since it was last drained.
	altHasUnread := regs.EndIndexAlt != 0

	plan := UplinkPlan{
		ReadHalf:   readHalf,
		ReadOffset: readOffset,
		ReadLength: readLength,
	}

	switch regs.State {
	case RxOverflow:
		if !altHasUnread {
			u.primeHalf = altHalf
			plan.NeedsFlip = true
			plan.NeedsResetAll = true
		}
	case RxListening:
		if !altHasUnread {
			plan.NeedsRefillAlt = true
		}
	}

	return plan
}

// Downlink is the local-side bookkeeping for the single-buffer telemetry
// transmit path: a clip hands it whole frames, and it reports whether the
// hardware is ready to accept the next one.
type Downlink struct {
	state   TxState
	pending []byte
}

// NewDownlink constructs an idle downlink transmitter.
func NewDownlink() *Downlink {
	return &Downlink{state: TxIdle}
}

// Enqueue accepts a frame to transmit if the transmitter is idle.
func (d *Downlink) Enqueue(frame []byte) bool {
	if d.state != TxIdle {
		return false
	}
	d.pending = append([]byte(nil), frame...)
	d.state = TxActive
	return true
}

// Poll reports whether a frame is ready to be written to the radio's
// transmit memory this round, returning it if so; hwState reflects the
// hardware's own acknowledgment of the previous frame's completion.
func (d *Downlink) Poll(hwState TxState) ([]byte, bool) {
	if d.state != TxActive {
		return nil, false
	}
	if hwState == TxActive {
		return nil, false // hardware still busy transmitting the prior write
	}
	frame := d.pending
	d.pending = nil
	d.state = TxIdle
	return frame, true
}

// State reports the local transmit state.
func (d *Downlink) State() TxState { return d.state }
