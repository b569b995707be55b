/*------------------------------------------------------------------------------
* groundstation-bridge : serial link-exchange bridge for ground testbeds
*
* Bridges a real serial port (via hal/linehw) to the link-exchange
* protocol, printing each received packet to stdout as a hex line and
* sending each line read from stdin as an outbound packet. Intended for
* bench testing internal/exchange against real UART hardware or a null-
* modem cable to a second instance of this same tool.
*-----------------------------------------------------------------------------*/
package main

import (
	"bufio"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/celskeggs/hailburst-sub000/hal/linehw"
	"github.com/celskeggs/hailburst-sub000/internal/exchange"
	"github.com/celskeggs/hailburst-sub000/internal/trace"
	"github.com/celskeggs/hailburst-sub000/internal/wire"
)

var (
	devicePath = flag.String("device", "", "serial device path, e.g. /dev/ttyUSB0")
	baud       = flag.Int("baud", 115200, "serial baud rate")
	seed       = flag.Int64("seed", 1552, "handshake jitter seed")
	traceLevel = flag.Int("trace", trace.WARNING, "trace verbosity (0=critical..4=trace)")
)

func main() {
	flag.Parse()
	trace.SetLevel(*traceLevel)

	if *devicePath == "" {
		fmt.Fprintln(os.Stderr, "usage: groundstation-bridge -device /dev/ttyUSB0 [-baud 115200]")
		os.Exit(2)
	}

	port, err := linehw.Open(*devicePath, *baud)
	if err != nil {
		fmt.Fprintln(os.Stderr, "groundstation-bridge:", err)
		os.Exit(1)
	}
	defer port.Close()

	link := exchange.New(*seed, func() uint64 { return uint64(time.Now().UnixNano()) }, 65536)

	stdinLines := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			stdinLines <- scanner.Text()
		}
		close(stdinLines)
	}()

	rxBuf := make([]byte, 4096)
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		select {
		case line, ok := <-stdinLines:
			if !ok {
				return
			}
			raw, err := hex.DecodeString(line)
			if err != nil {
				fmt.Fprintln(os.Stderr, "groundstation-bridge: invalid hex input:", err)
				continue
			}
			if !link.EnqueueSend(raw, 64) {
				fmt.Fprintln(os.Stderr, "groundstation-bridge: send queue full, dropping packet")
			}
		default:
		}

		n := port.PollRead(rxBuf)

		enc := wire.NewEncoder(4096)
		received := link.Poll(rxBuf[:n], enc)
		for _, pkt := range received {
			fmt.Println(hex.EncodeToString(pkt))
		}

		if out := enc.Bytes(); len(out) > 0 {
			if _, err := port.Write(out); err != nil {
				fmt.Fprintln(os.Stderr, "groundstation-bridge: write error:", err)
			}
		}
	}
}
