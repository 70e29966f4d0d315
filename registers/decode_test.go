package registers

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func pairProfile(signed bool, lowFirst bool) Profile {
	return Profile{
		Key: "pair",
		Input: []Descriptor{
			{Address: 100, Name: "quantity", Signed: signed, HasPair: true, Pair: 101, PairScale: 0.1, LowFirst: lowFirst},
			{Address: 101, Name: "quantity", Signed: signed, HasPair: true, Pair: 100},
		},
	}
}

func TestDecodeSingleRegister(t *testing.T) {
	m, err := NewMap("single")
	require.NoError(t, err)

	cache := Cache{1: 2315}
	value, ok := m.Decode(cache, Input, QtyPV1Voltage)
	require.True(t, ok)
	require.InDelta(t, 231.5, value, 1e-9)
}

func TestDecodeSignedSingleRegister(t *testing.T) {
	m, err := NewMap("single")
	require.NoError(t, err)

	// -5.0 degrees as two's complement of -50.
	cache := Cache{24: 0xFFCE}
	value, ok := m.Decode(cache, Input, QtyInnerTemperature)
	require.True(t, ok)
	require.InDelta(t, -5.0, value, 1e-9)
}

func TestDecodePairCombinesHighAndLowWords(t *testing.T) {
	m, err := newMap(pairProfile(false, false))
	require.NoError(t, err)

	cache := Cache{100: 0x0001, 101: 0x86A0}
	value, ok := m.Decode(cache, Input, "quantity")
	require.True(t, ok)
	// (1<<16 | 0x86A0) = 165536, scaled by 0.1
	require.InDelta(t, 16553.6, value, 1e-9)
}

func TestDecodeSignedPairWrapsAtTwoToThirtyOne(t *testing.T) {
	m, err := newMap(pairProfile(true, false))
	require.NoError(t, err)

	cache := Cache{100: 0xFFFF, 101: 0xFFFE}
	value, ok := m.Decode(cache, Input, "quantity")
	require.True(t, ok)
	require.InDelta(t, -0.2, value, 1e-9)
}

func TestDecodePairLowFirstOverride(t *testing.T) {
	m, err := newMap(pairProfile(false, true))
	require.NoError(t, err)

	// With the override the lower address carries the low word.
	cache := Cache{100: 0x86A0, 101: 0x0001}
	value, ok := m.Decode(cache, Input, "quantity")
	require.True(t, ok)
	require.InDelta(t, 16553.6, value, 1e-9)
}

func TestDecodePairMissingWordReadsAsZero(t *testing.T) {
	m, err := newMap(pairProfile(false, false))
	require.NoError(t, err)

	// Older firmware may expose only one member of a pair.
	cache := Cache{100: 0x0002}
	value, ok := m.Decode(cache, Input, "quantity")
	require.True(t, ok)
	require.InDelta(t, float64(0x20000)*0.1, value, 1e-9)
}

func TestDecodeAbsentNameIsNotAnError(t *testing.T) {
	m, err := NewMap("single")
	require.NoError(t, err)

	_, ok := m.Decode(Cache{}, Input, QtyBatteryVoltage)
	require.False(t, ok)
}

func TestDecodeUsesScaleOfOneWhenUnset(t *testing.T) {
	m, err := newMap(Profile{
		Key:   "unscaled",
		Input: []Descriptor{{Address: 0, Name: "code"}},
	})
	require.NoError(t, err)

	value, ok := m.Decode(Cache{0: 42}, Input, "code")
	require.True(t, ok)
	require.Equal(t, 42.0, value)
}
