// Package wire implements the byte-level escape/control framing used by
// the link exchange layer: a closed set of control characters, a
// parameterized-control-character sub-protocol, and an escape encoding for
// any data byte that collides with the reserved control range.
//
// Grounded on fsw/bus/codec.c's fakewire_dec_decode/fakewire_enc_encode_*
// functions. The chunk-at-a-time duct delivery model in the C source
// (fakewire_dec_prepare reading one duct message per epoch) is expressed
// here as Decoder.Feed/Decode operating on a caller-supplied byte slice per
// call, so the codec itself stays duct-agnostic; internal/exchange wires it
// to an actual duct.
package wire

import (
	"encoding/binary"

	"github.com/celskeggs/hailburst-sub000/internal/trace"
)

// Ctrl is a wire control character. Values outside this enumeration never
// appear on the wire undecoded -- any data byte whose value collides with
// the reserved range is escaped by the encoder.
type Ctrl uint8

const (
	None Ctrl = 0

	Handshake1  Ctrl = 0x80
	Handshake2  Ctrl = 0x81
	StartPacket Ctrl = 0x82
	EndPacket   Ctrl = 0x83
	ErrorPacket Ctrl = 0x84
	FlowControl Ctrl = 0x85
	KeepAlive   Ctrl = 0x86
	EscapeSym   Ctrl = 0x87

	// CodecError is a synthetic control character never seen on the wire:
	// the decoder reports it to signal a control character interrupting an
	// in-progress parameter. An invalid escape sequence is reported as
	// EscapeSym instead.
	CodecError Ctrl = 0xFF
)

func (c Ctrl) String() string {
	switch c {
	case None:
		return "NONE"
	case Handshake1:
		return "HANDSHAKE_1"
	case Handshake2:
		return "HANDSHAKE_2"
	case StartPacket:
		return "START_PACKET"
	case EndPacket:
		return "END_PACKET"
	case ErrorPacket:
		return "ERROR_PACKET"
	case FlowControl:
		return "FLOW_CONTROL"
	case KeepAlive:
		return "KEEP_ALIVE"
	case EscapeSym:
		return "ESCAPE_SYM"
	case CodecError:
		return "CODEC_ERROR"
	default:
		return "UNKNOWN"
	}
}

// isSpecial reports whether a raw byte value falls in the reserved control
// range (and therefore requires escaping when transmitted as data).
func isSpecial(b byte) bool {
	return b >= byte(Handshake1) && b <= byte(EscapeSym)
}

// isParametrized reports whether a control character carries a trailing
// 32-bit big-endian parameter.
func isParametrized(c Ctrl) bool {
	switch c {
	case FlowControl, KeepAlive, Handshake1, Handshake2:
		return true
	default:
		return false
	}
}

// Decoded is one decoded wire entity: either a run of data bytes
// (Data, with Ctrl == None) or a control character (Ctrl != None, with
// Param populated if the character is parameterized).
type Decoded struct {
	Ctrl  Ctrl
	Param uint32
	Data  []byte
}

// DecoderSync is the resumable decode state that must be preserved across
// chunk boundaries -- the fw_decoder_synch_t equivalent. Zero value is the
// correct initial state.
type DecoderSync struct {
	inEscape    bool
	current     Ctrl
	paramCount  int
	param       [4]byte
}

// Reset clears decode state, as when the exchange resets the connection.
func (s *DecoderSync) Reset() {
	*s = DecoderSync{}
}

// Decoder decodes a byte stream into a sequence of Decoded entities. It is
// fed one chunk of bytes at a time (one per epoch, in the link exchange's
// usage) and resumes across calls using DecoderSync.
type Decoder struct {
	sync *DecoderSync
	buf  []byte
	off  int
}

// NewDecoder constructs a decoder backed by the given synchronization
// record (callers own the DecoderSync's lifetime so it can live in a
// notepad across restarts).
func NewDecoder(sync *DecoderSync) *Decoder {
	return &Decoder{sync: sync}
}

// Feed supplies the next chunk of received bytes to decode.
func (d *Decoder) Feed(chunk []byte) {
	d.buf = chunk
	d.off = 0
}

// Remaining reports whether Feed's chunk has unconsumed bytes.
func (d *Decoder) Remaining() bool {
	return d.off < len(d.buf)
}

// decodeRaw decodes the next run of plain data bytes or a single raw
// control character (without resolving parameters), mirroring
// fakewire_dec_internal_decode.
func (d *Decoder) decodeRaw(maxData int) (ctrl Ctrl, data []byte) {
	for d.off < len(d.buf) {
		cur := d.buf[d.off]
		d.off++

		if d.sync.inEscape {
			decodedByte := cur ^ 0x10
			if !isSpecial(decodedByte) {
				if len(data) > 0 {
					d.off--
					return None, data
				}
				d.off--
				d.sync.inEscape = false
				return EscapeSym, nil
			}
			d.sync.inEscape = false
			data = append(data, decodedByte)
		} else if Ctrl(cur) == EscapeSym {
			d.sync.inEscape = true
		} else if isSpecial(cur) {
			if len(data) > 0 {
				d.off--
				return None, data
			}
			return Ctrl(cur), nil
		} else {
			data = append(data, cur)
		}

		if maxData > 0 && len(data) == maxData {
			return None, data
		}
	}
	return None, data
}

// Decode attempts to decode the next entity from the fed chunk, resuming a
// parameter accumulation left in progress by a previous call. Returns false
// if the chunk is exhausted before a complete entity is available (caller
// should Feed another chunk next epoch; the partial parameter state is
// preserved in DecoderSync).
func (d *Decoder) Decode() (Decoded, bool) {
	for {
		if d.sync.current == None {
			ctrl, data := d.decodeRaw(0)
			if ctrl == None && len(data) == 0 {
				return Decoded{}, false
			}
			if ctrl == None {
				return Decoded{Data: data}, true
			}
			if !isParametrized(ctrl) {
				return Decoded{Ctrl: ctrl}, true
			}
			d.sync.current = ctrl
			d.sync.paramCount = 0
			continue
		}

		// mid-parameter: keep accumulating into sync.param
		want := 4 - d.sync.paramCount
		ctrl, data := d.decodeRaw(want)
		if ctrl != None {
			trace.Trace(1, "wire: unexpected control %s while decoding parameterized %s", ctrl, d.sync.current)
			d.sync.current = None
			d.sync.paramCount = 0
			return Decoded{Ctrl: CodecError}, true
		}
		if len(data) == 0 {
			return Decoded{}, false
		}
		copy(d.sync.param[d.sync.paramCount:], data)
		d.sync.paramCount += len(data)
		if d.sync.paramCount == 4 {
			param := binary.BigEndian.Uint32(d.sync.param[:])
			out := Decoded{Ctrl: d.sync.current, Param: param}
			d.sync.current = None
			d.sync.paramCount = 0
			return out, true
		}
		// still short; loop around for more (decodeRaw only returns short
		// of `want` when the chunk ran out, so this will hit the false
		// above on the next iteration unless more data remains)
	}
}

// DecodeAll drains every decodable entity from the currently fed chunk,
// invoking fn for each. This is the shape link exchange actually uses: it
// has no interest in partial decode loops, only "process everything
// available this epoch."
func (d *Decoder) DecodeAll(fn func(Decoded)) {
	for {
		ent, ok := d.Decode()
		if !ok {
			return
		}
		fn(ent)
	}
}

// Encoder encodes data bytes and control characters into a bounded
// per-epoch transmit buffer, reporting "would block" (false) when there
// isn't room left for a worst-case escape of the requested symbol.
type Encoder struct {
	buf []byte
	cap int
}

// NewEncoder constructs an encoder writing into a buffer of the given
// capacity.
func NewEncoder(capacity int) *Encoder {
	return &Encoder{cap: capacity}
}

// Reset clears the transmit buffer for a new epoch.
func (e *Encoder) Reset() {
	e.buf = e.buf[:0]
}

// Bytes returns the bytes encoded so far this epoch.
func (e *Encoder) Bytes() []byte { return e.buf }

// EncodeData appends as many data bytes from in as fit, escaping any byte
// that collides with the reserved control range. Returns the number of
// input bytes actually consumed -- less than len(in) signals the caller
// should retry the remainder next epoch.
func (e *Encoder) EncodeData(in []byte) int {
	consumed := 0
	for _, b := range in {
		need := 1
		if isSpecial(b) {
			need = 2
		}
		if len(e.buf)+need > e.cap {
			break
		}
		if isSpecial(b) {
			e.buf = append(e.buf, byte(EscapeSym), b^0x10)
		} else {
			e.buf = append(e.buf, b)
		}
		consumed++
	}
	return consumed
}

// EncodeCtrl appends a control character (and its parameter, if
// parameterized) to the buffer. Returns false ("would block") if there
// isn't room for the worst-case escaped encoding -- 9 bytes for a
// parameterized control, 2 for a bare one.
func (e *Encoder) EncodeCtrl(c Ctrl, param uint32) bool {
	if c == EscapeSym || !isSpecial(byte(c)) {
		trace.Abort("wire: %s is not a valid control character to encode", c)
	}
	worst := 2
	if isParametrized(c) {
		worst = 9
	}
	if len(e.buf)+worst > e.cap {
		return false
	}
	e.buf = append(e.buf, byte(c))
	if isParametrized(c) {
		var netparam [4]byte
		binary.BigEndian.PutUint32(netparam[:], param)
		got := e.EncodeData(netparam[:])
		if got != 4 {
			trace.Abort("wire: reserved space for parameter encoding was insufficient")
		}
	}
	return true
}
