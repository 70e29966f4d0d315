package registers

// Cache holds the raw words of one address space for a single poll cycle.
// It is rebuilt in full before decoding starts and never mutated afterwards.
type Cache map[uint16]uint16

// Merge copies a block of raw words into the cache starting at base.
func (c Cache) Merge(base uint16, words []uint16) {
	for i, word := range words {
		c[base+uint16(i)] = word
	}
}

// Decode resolves a quantity name against the profile and decodes it from
// the raw cache into engineering units.
//
// The second return value is false only when the quantity is not defined in
// this profile at all. That is the normal outcome for hardware that lacks
// the feature, not an error; callers default the corresponding snapshot
// field.
func (m *Map) Decode(cache Cache, space Space, name string) (float64, bool) {
	desc, ok := m.LookupName(space, name)
	if !ok {
		return 0, false
	}
	if !desc.HasPair {
		raw := float64(cache[desc.Address])
		if desc.Signed && cache[desc.Address]&0x8000 != 0 {
			raw -= 65536
		}
		return raw * scaleOrUnit(desc.Scale), true
	}

	partner, ok := m.LookupAddress(space, desc.Pair)
	if !ok {
		// Construction validates pair symmetry; this cannot happen on a
		// built map.
		return 0, false
	}

	// Missing words read as 0: older firmware may expose only one member
	// of a pair.
	first, second := desc, partner
	if second.Address < first.Address {
		first, second = second, first
	}
	high, low := cache[first.Address], cache[second.Address]
	if first.LowFirst {
		high, low = low, high
	}

	combined := float64(uint32(high)<<16 | uint32(low))
	if (desc.Signed || partner.Signed) && combined > 2147483647 {
		combined -= 4294967296
	}
	scale := desc.PairScale
	if scale == 0 {
		scale = partner.PairScale
	}
	return combined * scaleOrUnit(scale), true
}

func scaleOrUnit(scale float64) float64 {
	if scale == 0 {
		return 1
	}
	return scale
}
