package registers

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewMapBuildsEveryCatalogProfile(t *testing.T) {
	for _, key := range Profiles() {
		m, err := NewMap(key)
		require.NoError(t, err, "profile %s", key)
		require.Equal(t, key, m.Profile())
	}
}

func TestNewMapUnknownProfile(t *testing.T) {
	_, err := NewMap("does-not-exist")
	require.Error(t, err)
}

func TestNewMapRejectsAsymmetricPair(t *testing.T) {
	profile := Profile{
		Key: "broken",
		Input: []Descriptor{
			{Address: 8, Name: "pv_power", HasPair: true, Pair: 9, PairScale: 1},
			{Address: 9, Name: "pv_power", HasPair: true, Pair: 10},
			{Address: 10, Name: "other", Scale: 1},
		},
	}
	_, err := newMap(profile)
	require.ErrorContains(t, err, "asymmetric pair reference")
}

func TestNewMapRejectsPairWithUndefinedPartner(t *testing.T) {
	profile := Profile{
		Key: "broken",
		Input: []Descriptor{
			{Address: 8, Name: "pv_power", HasPair: true, Pair: 99, PairScale: 1},
		},
	}
	_, err := newMap(profile)
	require.ErrorContains(t, err, "undefined register")
}

func TestNewMapRejectsPairWithoutCombinedScale(t *testing.T) {
	profile := Profile{
		Key: "broken",
		Input: []Descriptor{
			{Address: 8, Name: "pv_power", HasPair: true, Pair: 9},
			{Address: 9, Name: "pv_power", HasPair: true, Pair: 8},
		},
	}
	_, err := newMap(profile)
	require.ErrorContains(t, err, "no combined scale")
}

func TestNewMapRejectsDuplicateName(t *testing.T) {
	profile := Profile{
		Key: "broken",
		Input: []Descriptor{
			{Address: 1, Name: "pv1_voltage", Scale: 0.1},
			{Address: 2, Name: "pv1_voltage", Scale: 0.1},
		},
	}
	_, err := newMap(profile)
	require.ErrorContains(t, err, "duplicate")
}

func TestLookupNameResolvesAliasAsFallback(t *testing.T) {
	m, err := NewMap("single-hybrid-g2")
	require.NoError(t, err)

	// The second-generation firmware relocated the daily battery counters
	// into the extension band; the canonical name resolves through the alias.
	desc, ok := m.LookupName(Input, QtyBatteryChargeToday)
	require.True(t, ok)
	require.Equal(t, RegExtensionBase, desc.Address)
	require.Equal(t, "hr_battery_charge_today", desc.Name)
}

func TestLookupNamePrefersDirectNameOverAlias(t *testing.T) {
	profile := Profile{
		Key: "direct",
		Input: []Descriptor{
			{Address: 1, Name: "energy_today", Scale: 0.1},
			{Address: 2, Name: "relocated", Scale: 0.01, Alias: "energy_today"},
		},
	}
	m, err := newMap(profile)
	require.NoError(t, err)

	desc, ok := m.LookupName(Input, "energy_today")
	require.True(t, ok)
	require.Equal(t, uint16(1), desc.Address)
}

func TestLookupNameResolvesPairToAnchor(t *testing.T) {
	m, err := NewMap("single")
	require.NoError(t, err)

	desc, ok := m.LookupName(Input, QtyActivePower)
	require.True(t, ok)
	require.True(t, desc.HasPair)
	require.NotZero(t, desc.PairScale)
}

func TestBoundsAndDefinedIn(t *testing.T) {
	m, err := NewMap("single-hybrid")
	require.NoError(t, err)

	lo, hi, ok := m.Bounds(Input)
	require.True(t, ok)
	require.Equal(t, uint16(0), lo)
	require.Equal(t, uint16(591), hi)

	lo, hi, ok = m.BoundsWithin(Input, 512, 608)
	require.True(t, ok)
	require.Equal(t, uint16(516), lo)
	require.Equal(t, uint16(591), hi)

	require.True(t, m.DefinedIn(Input, 0, 119))
	require.False(t, m.DefinedIn(Input, 3072, 3120))
}

func TestProfileForTypeCode(t *testing.T) {
	key, ok := ProfileForTypeCode(5400)
	require.True(t, ok)
	require.Equal(t, "single-hybrid", key)

	_, ok = ProfileForTypeCode(1)
	require.False(t, ok)
}
