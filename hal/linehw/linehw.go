// Package linehw provides the real-hardware backend for the byte-stream
// boundary internal/exchange sits on top of: a serial port opened via
// github.com/tarm/goserial, read and written in small bounded chunks.
// Reads block inside goserial until data arrives (see PollRead).
//
// Grounded on FengXuebin-gnssgo's src/stream.go SerialComm/OpenSerial/
// ReadSerial/WriteSerial, adapted from that package's arbitrary-length
// buffered reads to this core's bounded per-epoch chunk model.
package linehw

import (
	"fmt"
	"io"

	serial "github.com/tarm/goserial"

	"github.com/celskeggs/hailburst-sub000/internal/trace"
)

// Port is a serial-backed byte-stream endpoint.
type Port struct {
	io   io.ReadWriteCloser
	name string
}

// Open opens a serial port at the given device path and baud rate,
// mirroring OpenSerial's serial.Config/serial.OpenPort call.
func Open(devicePath string, baud int) (*Port, error) {
	cfg := &serial.Config{Name: devicePath, Baud: baud}
	s, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, fmt.Errorf("linehw: open %s at %d baud: %w", devicePath, baud, err)
	}
	trace.Trace(3, "linehw: opened %s at %d baud", devicePath, baud)
	return &Port{io: s, name: devicePath}, nil
}

// Close releases the underlying serial port.
func (p *Port) Close() error {
	return p.io.Close()
}

// PollRead performs one non-blocking-best-effort read into buf, returning
// the number of bytes actually read. Real serial ports under goserial
// block on Read; callers running this from a clip should size buf small
// and budget the clip generously, or wrap the port in a dedicated reader
// goroutine feeding a channel -- this is left to cmd/groundstation-bridge,
// which is the only caller of this package outside of tests.
func (p *Port) PollRead(buf []byte) int {
	n, err := p.io.Read(buf)
	if err != nil && err != io.EOF {
		trace.Trace(1, "linehw: read error on %s: %v", p.name, err)
		return 0
	}
	return n
}

// Write writes buf in full, matching WriteSerial's all-or-nothing
// contract for the chunk sizes this core uses (at most a handful of
// kilobytes per epoch).
func (p *Port) Write(buf []byte) (int, error) {
	n, err := p.io.Write(buf)
	if err != nil {
		trace.Trace(1, "linehw: write error on %s: %v", p.name, err)
	}
	return n, err
}
