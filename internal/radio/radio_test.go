package radio_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/celskeggs/hailburst-sub000/internal/radio"
)

func TestUplinkFirstRoundInitializes(t *testing.T) {
	u := radio.NewUplink(64)
	plan := u.ComputeReads(radio.UplinkRegisters{State: radio.RxListening, EndIndexPrime: 10, EndIndexAlt: 0}, nil)
	require.True(t, plan.NeedsResetAll)
}

func TestUplinkSubsequentRoundReadsFromPrimeHalf(t *testing.T) {
	u := radio.NewUplink(64)
	u.ComputeReads(radio.UplinkRegisters{State: radio.RxListening, EndIndexPrime: 0, EndIndexAlt: 0}, nil)

	calledWatchdog := false
	plan := u.ComputeReads(radio.UplinkRegisters{State: radio.RxListening, EndIndexPrime: 32, EndIndexAlt: 0}, func() {
		calledWatchdog = true
	})
	require.True(t, calledWatchdog)
	require.Equal(t, 0, plan.ReadHalf)
	require.Equal(t, 0, plan.ReadOffset)
	require.Equal(t, 32, plan.ReadLength)
	require.False(t, plan.NeedsResetAll)
}

func TestUplinkRequestsAltRefillWhenAltDrained(t *testing.T) {
	u := radio.NewUplink(64)
	u.ComputeReads(radio.UplinkRegisters{State: radio.RxListening, EndIndexPrime: 0, EndIndexAlt: 0}, nil)

	plan := u.ComputeReads(radio.UplinkRegisters{State: radio.RxListening, EndIndexPrime: 64, EndIndexAlt: 0}, nil)
	require.True(t, plan.NeedsRefillAlt)
}

func TestUplinkOverflowFlipsWhenAltExhausted(t *testing.T) {
	u := radio.NewUplink(64)
	u.ComputeReads(radio.UplinkRegisters{State: radio.RxListening, EndIndexPrime: 0, EndIndexAlt: 0}, nil)

	plan := u.ComputeReads(radio.UplinkRegisters{State: radio.RxOverflow, EndIndexPrime: 64, EndIndexAlt: 0}, nil)
	require.True(t, plan.NeedsFlip)
	require.True(t, plan.NeedsResetAll)
}

func TestDownlinkDoesNotAcceptSecondFrameUntilSent(t *testing.T) {
	d := radio.NewDownlink()
	require.True(t, d.Enqueue([]byte("telemetry-1")))
	require.False(t, d.Enqueue([]byte("telemetry-2")))

	frame, ready := d.Poll(radio.TxIdle)
	require.True(t, ready)
	require.Equal(t, "telemetry-1", string(frame))
	require.Equal(t, radio.TxIdle, d.State())

	require.True(t, d.Enqueue([]byte("telemetry-2")))
}

func TestDownlinkWaitsForHardwareToFinishTransmitting(t *testing.T) {
	d := radio.NewDownlink()
	d.Enqueue([]byte("frame"))

	_, ready := d.Poll(radio.TxActive)
	require.False(t, ready)

	frame, ready := d.Poll(radio.TxIdle)
	require.True(t, ready)
	require.Equal(t, "frame", string(frame))
}
