package wire_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/celskeggs/hailburst-sub000/internal/wire"
)

func decodeAllBytes(t *testing.T, chunks ...[]byte) []wire.Decoded {
	var sync wire.DecoderSync
	dec := wire.NewDecoder(&sync)
	var out []wire.Decoded
	for _, c := range chunks {
		dec.Feed(c)
		dec.DecodeAll(func(d wire.Decoded) { out = append(out, d) })
	}
	return out
}

func TestEncodeDecodePlainData(t *testing.T) {
	enc := wire.NewEncoder(64)
	n := enc.EncodeData([]byte("hello"))
	require.Equal(t, 5, n)

	out := decodeAllBytes(t, enc.Bytes())
	require.Len(t, out, 1)
	require.Equal(t, wire.None, out[0].Ctrl)
	require.Equal(t, "hello", string(out[0].Data))
}

func TestEncodeDecodeEscapesReservedBytes(t *testing.T) {
	enc := wire.NewEncoder(64)
	raw := []byte{0x01, byte(wire.StartPacket), 0x02, byte(wire.EscapeSym)}
	n := enc.EncodeData(raw)
	require.Equal(t, len(raw), n)

	out := decodeAllBytes(t, enc.Bytes())
	require.Len(t, out, 1)
	require.Equal(t, raw, out[0].Data)
}

func TestEncodeDecodeBareControlChar(t *testing.T) {
	enc := wire.NewEncoder(64)
	require.True(t, enc.EncodeCtrl(wire.StartPacket, 0))

	out := decodeAllBytes(t, enc.Bytes())
	require.Len(t, out, 1)
	require.Equal(t, wire.StartPacket, out[0].Ctrl)
}

func TestEncodeDecodeParameterizedControlChar(t *testing.T) {
	enc := wire.NewEncoder(64)
	require.True(t, enc.EncodeCtrl(wire.FlowControl, 12345))

	out := decodeAllBytes(t, enc.Bytes())
	require.Len(t, out, 1)
	require.Equal(t, wire.FlowControl, out[0].Ctrl)
	require.Equal(t, uint32(12345), out[0].Param)
}

func TestParameterSplitAcrossChunks(t *testing.T) {
	enc := wire.NewEncoder(64)
	require.True(t, enc.EncodeCtrl(wire.KeepAlive, 0xDEADBEEF))
	full := enc.Bytes()

	for split := 1; split < len(full); split++ {
		out := decodeAllBytes(t, full[:split], full[split:])
		require.Len(t, out, 1, "split at %d", split)
		require.Equal(t, wire.KeepAlive, out[0].Ctrl)
		require.Equal(t, uint32(0xDEADBEEF), out[0].Param)
	}
}

func TestEncoderReportsWouldBlockWhenFull(t *testing.T) {
	enc := wire.NewEncoder(2)
	require.False(t, enc.EncodeCtrl(wire.FlowControl, 1)) // needs 9 bytes worst case
	require.True(t, enc.EncodeCtrl(wire.StartPacket, 0))  // needs 2, fits
	require.False(t, enc.EncodeCtrl(wire.EndPacket, 0))   // only 1 byte left
}

func TestEncoderPartialDataConsumption(t *testing.T) {
	enc := wire.NewEncoder(4)
	n := enc.EncodeData([]byte{1, 2, 3, 4, 5, 6})
	require.Equal(t, 4, n)
	require.Equal(t, []byte{1, 2, 3, 4}, enc.Bytes())
}

func TestMixedDataAndControlRoundTrip(t *testing.T) {
	enc := wire.NewEncoder(64)
	enc.EncodeCtrl(wire.StartPacket, 0)
	enc.EncodeData([]byte("payload"))
	enc.EncodeCtrl(wire.EndPacket, 0)

	out := decodeAllBytes(t, enc.Bytes())
	require.Len(t, out, 3)
	require.Equal(t, wire.StartPacket, out[0].Ctrl)
	require.Equal(t, wire.None, out[1].Ctrl)
	require.Equal(t, "payload", string(out[1].Data))
	require.Equal(t, wire.EndPacket, out[2].Ctrl)
}

// TestCodecRoundTripProperty checks spec.md §8's codec invariant: for any
// sequence of data runs and control characters, encoding then decoding
// (across arbitrarily chunked reads) reproduces the original sequence.
func TestCodecRoundTripProperty(t *testing.T) {
	ctrls := []wire.Ctrl{wire.StartPacket, wire.EndPacket, wire.ErrorPacket, wire.Handshake1, wire.Handshake2, wire.FlowControl, wire.KeepAlive}

	rapid.Check(t, func(rt *rapid.T) {
		type item struct {
			isCtrl bool
			ctrl   wire.Ctrl
			param  uint32
			data   []byte
		}
		n := rapid.IntRange(0, 8).Draw(rt, "n")
		items := make([]item, n)
		enc := wire.NewEncoder(4096)
		for i := 0; i < n; i++ {
			if rapid.Bool().Draw(rt, "isCtrl") {
				c := ctrls[rapid.IntRange(0, len(ctrls)-1).Draw(rt, "ctrl")]
				p := rapid.Uint32().Draw(rt, "param")
				items[i] = item{isCtrl: true, ctrl: c, param: p}
				require.True(rt, enc.EncodeCtrl(c, p))
			} else {
				d := rapid.SliceOfN(rapid.Byte(), 1, 16).Draw(rt, "data")
				items[i] = item{data: d}
				got := enc.EncodeData(d)
				require.Equal(rt, len(d), got)
			}
		}

		full := append([]byte(nil), enc.Bytes()...)
		chunkSize := rapid.IntRange(1, 7).Draw(rt, "chunkSize")
		var chunks [][]byte
		for off := 0; off < len(full); off += chunkSize {
			end := off + chunkSize
			if end > len(full) {
				end = len(full)
			}
			chunks = append(chunks, full[off:end])
		}

		var sync wire.DecoderSync
		dec := wire.NewDecoder(&sync)
		var decoded []wire.Decoded
		for _, c := range chunks {
			dec.Feed(c)
			dec.DecodeAll(func(d wire.Decoded) { decoded = append(decoded, d) })
		}

		// Data runs may be split/coalesced differently by chunk boundaries;
		// flatten both sides into (ctrl) | (data-byte) tokens to compare.
		var gotCtrls []wire.Decoded
		var gotData []byte
		for _, d := range decoded {
			if d.Ctrl != wire.None {
				gotCtrls = append(gotCtrls, d)
			} else {
				gotData = append(gotData, d.Data...)
			}
		}
		var wantCtrls []wire.Decoded
		var wantData []byte
		for _, it := range items {
			if it.isCtrl {
				wantCtrls = append(wantCtrls, wire.Decoded{Ctrl: it.ctrl, Param: it.param})
			} else {
				wantData = append(wantData, it.data...)
			}
		}
		require.Equal(rt, wantData, gotData)
		require.Equal(rt, len(wantCtrls), len(gotCtrls))
		for i := range wantCtrls {
			require.Equal(rt, wantCtrls[i].Ctrl, gotCtrls[i].Ctrl)
			require.Equal(rt, wantCtrls[i].Param, gotCtrls[i].Param)
		}
	})
}
