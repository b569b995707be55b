// Package exchange implements the link-exchange protocol: the
// handshake/flow-control/keep-alive state machine that turns a raw,
// possibly-noisy byte stream (as framed by internal/wire) into a reliable
// ordered sequence of whole packets.
//
// Grounded on fsw/bus/exchange.c: the CONNECTING/HANDSHAKING/OPERATING
// top-level states, the LISTENING/RECEIVING/OVERFLOWED receive substates,
// MAX_OUTSTANDING_TOKENS, and the jittered handshake retransmit period are
// carried over directly; the IDLE/HEADER/BODY/FOOTER transmit substates are
// collapsed into two (idle, and sending a packet's START/body/END). Where the C source relies on a hardware UART ISR driving byte
// delivery, this port is driven once per epoch by Poll, matching how every
// other layer in this core is clip-scheduled rather than interrupt-driven.
package exchange

import (
	"math/rand"

	"github.com/celskeggs/hailburst-sub000/internal/trace"
	"github.com/celskeggs/hailburst-sub000/internal/wire"
)

// State is the top-level link-exchange connection state.
type State int

const (
	Connecting State = iota
	Handshaking
	Operating
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Handshaking:
		return "HANDSHAKING"
	case Operating:
		return "OPERATING"
	default:
		return "UNKNOWN"
	}
}

// MaxOutstandingTokens bounds how far ahead of consumption the receiver
// will grant flow-control tokens, and therefore how many packets the
// sender may have in flight unacknowledged.
const MaxOutstandingTokens = 10

// handshakePeriodMinNS/MaxNS bound the jittered handshake retransmit
// interval -- [3ms, 10ms) in fsw/bus/exchange.c's handshake_period().
const (
	handshakePeriodMinNS = 3_000_000
	handshakePeriodMaxNS = 10_000_000
	keepAlivePeriodNS    = 10_000_000
	keepAliveTimeoutNS   = 3 * keepAlivePeriodNS
)

type rxState int

const (
	rxListening rxState = iota
	rxReceiving
	rxOverflowed
)

type txState int

const (
	txIdle txState = iota
	txSending
)

// Link is one direction-agnostic link-exchange endpoint: it both accepts
// inbound packets to forward to a duct and drains a queue of outbound
// packets, all driven by periodic Poll calls.
type Link struct {
	clock func() uint64
	rng   *rand.Rand

	state      State
	localID    uint32
	remoteID   uint32
	nextHandshakeAt uint64

	rx         rxState
	rxBuf      []byte
	rxMax      int
	decSync    wire.DecoderSync
	lastRecvAt uint64

	tx          txState
	txQueue     [][]byte
	txCur       []byte
	txOff       int
	lastSendAt  uint64

	pktsSent  uint32
	fctsRcvd  uint32
	pktsRcvd  uint32
	fctsSent  uint32

	received [][]byte
}

// New constructs a link-exchange endpoint. seed determines the jittered
// handshake retransmit timing (see DESIGN.md open question 2: the seed is an
// explicit constructor argument chosen by the caller, not a hidden global;
// cmd/groundstation-bridge defaults it to 1552). rxMax bounds the
// size of an in-progress received packet.
func New(seed int64, clock func() uint64, rxMax int) *Link {
	l := &Link{
		clock: clock,
		rng:   rand.New(rand.NewSource(seed)),
		rxMax: rxMax,
	}
	l.localID = l.rng.Uint32()
	l.armHandshakeTimer()
	return l
}

func (l *Link) armHandshakeTimer() {
	period := uint64(handshakePeriodMinNS + l.rng.Int63n(handshakePeriodMaxNS-handshakePeriodMinNS))
	l.nextHandshakeAt = l.clock() + period
}

// State returns the current top-level connection state.
func (l *Link) State() State { return l.state }

// EnqueueSend queues a whole packet for transmission once the link is
// operating and a flow-control token is available. Returns false if the
// send queue is full (callers should retry next epoch).
func (l *Link) EnqueueSend(packet []byte, capacity int) bool {
	if len(l.txQueue) >= capacity {
		return false
	}
	cp := append([]byte(nil), packet...)
	l.txQueue = append(l.txQueue, cp)
	return true
}

func (l *Link) doReset() {
	trace.Trace(2, "exchange: resetting link to CONNECTING")
	l.state = Connecting
	l.rx = rxListening
	l.tx = txIdle
	l.rxBuf = l.rxBuf[:0]
	l.decSync.Reset()
	l.txCur = nil
	l.txOff = 0
	l.pktsSent = 0
	l.fctsRcvd = 0
	l.pktsRcvd = 0
	l.fctsSent = 0
	l.localID = l.rng.Uint32()
	l.armHandshakeTimer()
}

// Poll is the single per-epoch entry point: it consumes any bytes received
// since the last call, advances the handshake/flow-control/keep-alive
// state machine, encodes any bytes that must be transmitted this epoch
// into an encoder of the given capacity, and returns the fully-received
// packets (if any) accumulated since the last call.
func (l *Link) Poll(rxBytes []byte, enc *wire.Encoder) [][]byte {
	now := l.clock()
	l.received = l.received[:0]

	dec := wire.NewDecoder(&l.decSync)
	dec.Feed(rxBytes)
	dec.DecodeAll(func(d wire.Decoded) {
		l.handleDecoded(d, now)
	})

	switch l.state {
	case Connecting:
		if now >= l.nextHandshakeAt {
			if enc.EncodeCtrl(wire.Handshake1, l.localID) {
				l.armHandshakeTimer()
			}
		}
	case Handshaking:
		if now >= l.nextHandshakeAt {
			if enc.EncodeCtrl(wire.Handshake2, l.remoteID) {
				// answering the peer's primary handshake completes this side
				l.state = Operating
				l.rx = rxListening
				l.tx = txIdle
				l.pktsSent, l.fctsRcvd, l.pktsRcvd, l.fctsSent = 0, 0, 0, 0
				trace.Trace(2, "exchange: link now OPERATING (local=%#x remote=%#x)", l.localID, l.remoteID)
			}
		}
	case Operating:
		l.sendFlowControl(enc)
		l.sendQueuedData(enc, now)
		l.maybeSendKeepAlive(enc, now)
		if l.lastRecvAt != 0 && now-l.lastRecvAt > keepAliveTimeoutNS {
			trace.Trace(1, "exchange: peer silent past keep-alive timeout, resetting")
			l.doReset()
		}
	}

	return l.received
}

func (l *Link) handleDecoded(d wire.Decoded, now uint64) {
	l.lastRecvAt = now

	switch d.Ctrl {
	case wire.None:
		l.handleData(d.Data)
	case wire.Handshake1:
		switch l.state {
		case Connecting, Handshaking:
			l.remoteID = d.Param
			l.state = Handshaking
			l.nextHandshakeAt = now // echo back promptly
		case Operating:
			trace.Trace(1, "exchange: peer restarted handshake while operating")
			l.doReset()
			l.remoteID = d.Param
			l.state = Handshaking
			l.nextHandshakeAt = now
		}
	case wire.Handshake2:
		switch l.state {
		case Connecting, Handshaking:
			if d.Param == l.localID {
				l.state = Operating
				l.rx = rxListening
				l.tx = txIdle
				l.pktsSent, l.fctsRcvd, l.pktsRcvd, l.fctsSent = 0, 0, 0, 0
				trace.Trace(2, "exchange: link now OPERATING (local=%#x remote=%#x)", l.localID, l.remoteID)
			} else if l.state == Handshaking {
				trace.Trace(1, "exchange: HANDSHAKE_2 id mismatch (got %#x, want %#x), resetting", d.Param, l.localID)
				l.doReset()
			}
		}
	case wire.StartPacket:
		l.beginPacket()
	case wire.EndPacket:
		l.finishPacket(false)
	case wire.ErrorPacket:
		l.finishPacket(true)
	case wire.FlowControl:
		if l.state == Operating {
			n := d.Param
			if n < l.fctsRcvd || n > l.pktsSent+MaxOutstandingTokens {
				trace.Trace(1, "exchange: FLOW_CONTROL(%d) out of range (fcts_rcvd=%d pkts_sent=%d), resetting",
					n, l.fctsRcvd, l.pktsSent)
				l.doReset()
				return
			}
			l.fctsRcvd = n
		}
	case wire.KeepAlive:
		if l.state == Operating && d.Param != l.pktsRcvd {
			trace.Trace(1, "exchange: KEEP_ALIVE(%d) != pkts_rcvd(%d), resetting", d.Param, l.pktsRcvd)
			l.doReset()
		}
	case wire.CodecError, wire.EscapeSym:
		trace.Trace(1, "exchange: codec error on receive, resetting link")
		l.doReset()
	default:
		trace.Abort("exchange: unrecognized decoded control %v", d.Ctrl)
	}
}

func (l *Link) beginPacket() {
	if l.state != Operating {
		return
	}
	if l.rx == rxReceiving {
		trace.Trace(1, "exchange: START_PACKET while already receiving, resetting")
		l.doReset()
		return
	}
	if l.fctsSent <= l.pktsRcvd {
		trace.Trace(1, "exchange: START_PACKET without an available flow-control token, resetting")
		l.doReset()
		return
	}
	l.pktsRcvd++
	l.rx = rxReceiving
	l.rxBuf = l.rxBuf[:0]
}

func (l *Link) handleData(data []byte) {
	if l.state != Operating || l.rx != rxReceiving {
		return
	}
	if len(l.rxBuf)+len(data) > l.rxMax {
		l.rx = rxOverflowed
		return
	}
	l.rxBuf = append(l.rxBuf, data...)
}

func (l *Link) finishPacket(errored bool) {
	if l.state != Operating {
		return
	}
	switch l.rx {
	case rxReceiving:
		if !errored {
			pkt := append([]byte(nil), l.rxBuf...)
			l.received = append(l.received, pkt)
		} else {
			trace.Trace(2, "exchange: ERROR_PACKET received, discarding %d bytes", len(l.rxBuf))
		}
	case rxOverflowed:
		trace.Trace(1, "exchange: packet overflowed local buffer, discarding")
	case rxListening:
		trace.Trace(1, "exchange: END/ERROR_PACKET with no START_PACKET, resetting")
		l.doReset()
		return
	}
	l.rx = rxListening
	l.rxBuf = l.rxBuf[:0]
}

// sendFlowControl grants fresh tokens up to MaxOutstandingTokens ahead of
// what has actually been consumed locally (pktsRcvd), matching
// exchange.c's invariant that the sender never holds more than
// MAX_OUTSTANDING_TOKENS unredeemed grants.
func (l *Link) sendFlowControl(enc *wire.Encoder) {
	for l.fctsSent-l.pktsRcvd < MaxOutstandingTokens {
		next := l.fctsSent + 1
		if !enc.EncodeCtrl(wire.FlowControl, next) {
			break
		}
		l.fctsSent = next
	}
}

func (l *Link) sendQueuedData(enc *wire.Encoder, now uint64) {
	for {
		if l.tx == txIdle {
			if len(l.txQueue) == 0 {
				return
			}
			if l.pktsSent >= l.fctsRcvd {
				return // no token available
			}
			if !enc.EncodeCtrl(wire.StartPacket, 0) {
				return
			}
			l.txCur = l.txQueue[0]
			l.txQueue = l.txQueue[1:]
			l.txOff = 0
			l.tx = txSending
			l.lastSendAt = now
		}

		if l.txOff < len(l.txCur) {
			n := enc.EncodeData(l.txCur[l.txOff:])
			l.txOff += n
			l.lastSendAt = now
			if l.txOff < len(l.txCur) {
				return // encoder full this epoch, resume next epoch
			}
		}

		if !enc.EncodeCtrl(wire.EndPacket, 0) {
			return
		}
		l.pktsSent++
		l.tx = txIdle
		l.txCur = nil
		l.txOff = 0
		l.lastSendAt = now
	}
}

func (l *Link) maybeSendKeepAlive(enc *wire.Encoder, now uint64) {
	if l.lastSendAt != 0 && now-l.lastSendAt < keepAlivePeriodNS {
		return
	}
	// repeat the current grant as a reminder, so a lost FLOW_CONTROL does
	// not stall the peer forever
	if l.fctsSent != 0 && !enc.EncodeCtrl(wire.FlowControl, l.fctsSent) {
		return
	}
	if enc.EncodeCtrl(wire.KeepAlive, l.pktsSent) {
		l.lastSendAt = now
	}
}
