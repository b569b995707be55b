package watchdog_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/celskeggs/hailburst-sub000/internal/watchdog"
)

func TestTransformKnownVectors(t *testing.T) {
	// recipe=0: base=(0>>8)|1=1, power=0 -> integer_power_truncated=1;
	// no bits set to XOR in, so the result is the bare power-truncated
	// value.
	require.Equal(t, uint32(1), watchdog.Transform(0))

	// recipe=1: base=1, power=1 -> integer_power_truncated=1 (any power of
	// a base of 1 is 1); bit 0 of the recipe is set, which XORs bit 31 of
	// the result.
	require.Equal(t, uint32(0x80000001), watchdog.Transform(1))

	// recipe=0x100: base=(0x100>>8)|1=1, power=0x100 -> still base 1, so
	// integer_power_truncated=1; bit 8 of the recipe is set, XORing bit 23.
	require.Equal(t, uint32(0x800001), watchdog.Transform(0x100))
}

func TestTransformIsDeterministic(t *testing.T) {
	for _, recipe := range []uint32{0, 1, 2, 12345, 0xDEADBEEF, 0xFFFFFFFF} {
		require.Equal(t, watchdog.Transform(recipe), watchdog.Transform(recipe))
	}
}

type fakeMMIO struct{ reg watchdog.MMIORegion }

func (m *fakeMMIO) Read() watchdog.MMIORegion  { return m.reg }
func (m *fakeMMIO) Write(r watchdog.MMIORegion) { m.reg = r }

func TestAspectsOKRequiresEveryAspectWithinTimeout(t *testing.T) {
	const uplink watchdog.Aspect = 1
	const downlink watchdog.Aspect = 2

	mmio := &fakeMMIO{}
	v := watchdog.NewVoter(mmio, map[watchdog.Aspect]uint64{uplink: 100, downlink: 200})

	require.False(t, v.AspectsOK(0)) // nothing indicated yet

	v.Indicate(uplink, 0)
	v.Indicate(downlink, 0)
	require.True(t, v.AspectsOK(50))

	require.False(t, v.AspectsOK(150)) // uplink timed out
}

func TestVoterClipWithholdsVoteWhenAspectsNotOK(t *testing.T) {
	const radio watchdog.Aspect = 1
	mmio := &fakeMMIO{}
	v := watchdog.NewVoter(mmio, map[watchdog.Aspect]uint64{radio: 100})

	vote, _, _ := v.VoterClip(0)
	require.False(t, vote)

	v.Indicate(radio, 0)
	vote, recipe, food := v.VoterClip(0)
	require.True(t, vote)
	require.Equal(t, watchdog.Transform(recipe), food)
}

func TestCanFeedYetComparesDeadlineMinusEarlyOffset(t *testing.T) {
	reg := watchdog.MMIORegion{Deadline: 1000, EarlyOffset: 100}
	require.False(t, watchdog.CanFeedYet(899, reg))
	require.True(t, watchdog.CanFeedYet(900, reg))
	require.True(t, watchdog.CanFeedYet(1000, reg))
}

func TestMonitorClipFeedsOnlyWhenDue(t *testing.T) {
	mmio := &fakeMMIO{reg: watchdog.MMIORegion{Deadline: 1000, EarlyOffset: 100}}
	m := watchdog.NewMonitorClip(mmio)

	require.False(t, m.Feed(500, 42))
	require.Equal(t, uint32(0), mmio.reg.Feed)

	require.True(t, m.Feed(950, 42))
	require.Equal(t, uint32(42), mmio.reg.Feed)
}

func TestForceResetZeroesGreet(t *testing.T) {
	mmio := &fakeMMIO{reg: watchdog.MMIORegion{Greet: 0xCAFEBABE}}
	m := watchdog.NewMonitorClip(mmio)
	m.ForceReset()
	require.Equal(t, uint32(0), mmio.reg.Greet)
}
