// Package duct implements the bounded, epoch-synchronized, replicated
// message channel that is the sole means of communication between clips.
//
// Grounded directly on fsw/synch/duct.c: send_prepare/send_allowed/
// send_message/send_commit and receive_prepare/receive_message/
// receive_commit, including the exact abort conditions and strict-voting
// rule at the receive step.
package duct

import (
	"bytes"

	"github.com/celskeggs/hailburst-sub000/internal/epoch"
	"github.com/celskeggs/hailburst-sub000/internal/trace"
)

// MissingFlow is the sentinel flow-status value meaning "no flow recorded
// for this epoch yet" -- the DUCT_MISSING_FLOW constant from the C source.
const MissingFlow = -1

// Polarity selects which side of a duct "goes first" in a fresh epoch.
type Polarity int

const (
	// SenderFirst ducts begin each epoch full: Flow starts at MissingFlow
	// and the sender must commit before any receiver may proceed.
	SenderFirst Polarity = iota
	// ReceiverFirst ducts begin each epoch empty: Flow starts at 0 (no
	// messages outstanding) so the first receive_prepare finds nothing
	// to strictly vote on before the sender ever runs.
	ReceiverFirst
)

type message struct {
	size      int
	timestamp uint64
	body      []byte
}

// Duct is a fixed-flow, replicated, strictly-voted channel parameterized by
// sender replica count S, receiver replica count R, maximum in-flight
// message count F (max_flow), and per-message byte capacity M.
type Duct struct {
	senderReplicas   uint8
	receiverReplicas uint8
	maxFlow          int
	messageSize      int
	polarity         Polarity

	mutex epoch.Lock

	// buffer[s][f] holds the f'th message sent by sender replica s this
	// epoch.
	buffer [][]message

	// flow[s][r] records how many messages sender s has committed as
	// visible to receiver r this epoch, or MissingFlow.
	flow [][]int

	// flowCurrent is the scratch cursor, valid only while mutex is held.
	flowCurrent int
}

// New constructs a duct with the given shape. The initial flow is derived
// from polarity: MissingFlow for SenderFirst (nothing sent yet) or 0 for
// ReceiverFirst (an empty, already-drained channel).
func New(senderReplicas, receiverReplicas uint8, maxFlow, messageSize int, polarity Polarity) *Duct {
	if senderReplicas == 0 || receiverReplicas == 0 {
		trace.Abort("duct: sender and receiver replica counts must be nonzero")
	}
	if maxFlow <= 0 || messageSize <= 0 {
		trace.Abort("duct: max_flow and message_size must be positive")
	}

	d := &Duct{
		senderReplicas:   senderReplicas,
		receiverReplicas: receiverReplicas,
		maxFlow:          maxFlow,
		messageSize:      messageSize,
		polarity:         polarity,
	}

	initFlow := MissingFlow
	if polarity == ReceiverFirst {
		initFlow = 0
	}

	d.buffer = make([][]message, senderReplicas)
	d.flow = make([][]int, senderReplicas)
	for s := range d.buffer {
		d.buffer[s] = make([]message, maxFlow)
		d.flow[s] = make([]int, receiverReplicas)
		for r := range d.flow[s] {
			d.flow[s][r] = initFlow
		}
	}
	return d
}

// MaxFlow returns the duct's maximum in-flight message count per epoch.
func (d *Duct) MaxFlow() int { return d.maxFlow }

// MessageSize returns the duct's per-message byte capacity.
func (d *Duct) MessageSize() int { return d.messageSize }

// SendPrepare acquires the duct's mutex for a sending clip invocation and
// resets the send cursor. Aborts if any receiver has not yet consumed the
// previous epoch's messages from this sender -- a broken temporal contract.
func (d *Duct) SendPrepare(senderID uint8) {
	if senderID >= d.senderReplicas {
		trace.Abort("duct: sender id %d out of range", senderID)
	}
	d.mutex.Acquire(senderID)

	for r := uint8(0); r < d.receiverReplicas; r++ {
		if d.flow[senderID][r] != MissingFlow {
			trace.Abort("duct: temporal ordering broken, previous receiver %d did not act on schedule", r)
		}
	}
	d.flowCurrent = 0
}

// SendAllowed reports whether at least one more message may be sent this
// epoch.
func (d *Duct) SendAllowed(senderID uint8) bool {
	d.mutex.Held()
	if d.flowCurrent > d.maxFlow {
		trace.Abort("duct: flow_current exceeded max_flow")
	}
	return d.flowCurrent < d.maxFlow
}

// SendMessage copies body into the next transit slot for senderID. size
// must be in [1, MessageSize()].
func (d *Duct) SendMessage(senderID uint8, body []byte, timestamp uint64) {
	d.mutex.Held()
	if len(body) < 1 || len(body) > d.messageSize {
		trace.Abort("duct: message size %d out of range [1,%d]", len(body), d.messageSize)
	}
	if d.flowCurrent >= d.maxFlow {
		trace.Abort("duct: send exceeded max_flow for this epoch")
	}

	slot := &d.buffer[senderID][d.flowCurrent]
	slot.size = len(body)
	slot.timestamp = timestamp
	if cap(slot.body) < len(body) {
		slot.body = make([]byte, len(body))
	} else {
		slot.body = slot.body[:len(body)]
	}
	copy(slot.body, body)

	d.flowCurrent++
}

// SendCommit publishes this epoch's flow count to every receiver replica
// and releases the mutex.
func (d *Duct) SendCommit(senderID uint8) {
	d.mutex.Held()
	for r := uint8(0); r < d.receiverReplicas; r++ {
		if d.flow[senderID][r] != MissingFlow {
			trace.Abort("duct: flow already published for receiver %d", r)
		}
		d.flow[senderID][r] = d.flowCurrent
	}
	d.flowCurrent = MissingFlow
	d.mutex.Release()
}

// ReceivePrepare acquires the duct's mutex for a receiving clip invocation.
// Aborts if any sender has not yet published this epoch's flow.
func (d *Duct) ReceivePrepare(receiverID uint8) {
	if receiverID >= d.receiverReplicas {
		trace.Abort("duct: receiver id %d out of range", receiverID)
	}
	d.mutex.Acquire(receiverID)

	for s := uint8(0); s < d.senderReplicas; s++ {
		if d.flow[s][receiverID] == MissingFlow {
			trace.Abort("duct: temporal ordering broken, previous sender %d did not act on schedule", s)
		}
	}
	d.flowCurrent = 0
}

// ReceiveMessage performs strict voting across all sender replicas for the
// next message in sequence. Returns 0 once either max_flow has been reached
// or every sender agrees there is nothing further this epoch. A one-byte
// divergence between any two senders' copies of the same message aborts the
// process.
//
// outBuf, if non-nil, receives a copy of the agreed message body (which must
// have capacity >= returned size); if nil, callers should use PeekMessage to
// obtain a reference into internal storage instead. outTimestamp, if
// non-nil, receives the agreed timestamp.
func (d *Duct) ReceiveMessage(receiverID uint8, outBuf []byte, outTimestamp *uint64) int {
	d.mutex.Held()
	if d.flowCurrent > d.maxFlow {
		trace.Abort("duct: flow_current exceeded max_flow on receive")
	}
	if d.flowCurrent == d.maxFlow {
		return 0
	}

	anotherCount := 0
	for s := uint8(0); s < d.senderReplicas; s++ {
		idx := d.flow[s][receiverID]
		if idx == MissingFlow || idx > d.maxFlow {
			trace.Abort("duct: invalid flow index for sender %d", s)
		}
		if idx > d.flowCurrent {
			anotherCount++
		}
	}
	if anotherCount != 0 && anotherCount != int(d.senderReplicas) {
		trace.Abort("duct: senders disagree on message availability at index %d", d.flowCurrent)
	}
	if anotherCount == 0 {
		return 0
	}

	first := &d.buffer[0][d.flowCurrent]
	if first.size < 1 || first.size > d.messageSize {
		trace.Abort("duct: corrupt message size %d", first.size)
	}

	for s := uint8(1); s < d.senderReplicas; s++ {
		next := &d.buffer[s][d.flowCurrent]
		if next.size != first.size || next.timestamp != first.timestamp || !bytes.Equal(next.body, first.body) {
			trace.Abort("duct: replicas diverged on message %d from sender %d", d.flowCurrent, s)
		}
	}

	if outBuf != nil {
		copy(outBuf, first.body)
	}
	if outTimestamp != nil {
		*outTimestamp = first.timestamp
	}

	size := first.size
	d.flowCurrent++
	return size
}

// PeekMessage returns an internal reference to the most recently voted
// message body, for callers (like the wire codec) that want to avoid a
// copy. The returned slice is only valid until the next ReceiveMessage or
// ReceiveCommit call.
func (d *Duct) PeekMessage(receiverID uint8, index int) []byte {
	d.mutex.Held()
	return d.buffer[0][index].body
}

// ReceiveCommit asserts that every message published this epoch was
// consumed, clears the flow back to MissingFlow, and releases the mutex.
func (d *Duct) ReceiveCommit(receiverID uint8) {
	d.mutex.Held()
	for s := uint8(0); s < d.senderReplicas; s++ {
		if d.flow[s][receiverID] != d.flowCurrent {
			trace.Abort("duct: unprocessed messages remain from sender %d (flow=%d, current=%d)",
				s, d.flow[s][receiverID], d.flowCurrent)
		}
		d.flow[s][receiverID] = MissingFlow
	}
	d.flowCurrent = MissingFlow
	d.mutex.Release()
}
