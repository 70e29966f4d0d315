// Package registers holds the per-profile catalog of inverter register
// descriptors and the decoding rules that turn raw 16-bit words into
// engineering units.
package registers

import (
	"fmt"
	"sort"
)

// Space selects one of the two Modbus register address spaces.
type Space int

const (
	// Input registers carry read-only telemetry.
	Input Space = iota
	// Holding registers carry configuration, control and identification.
	Holding
)

func (s Space) String() string {
	switch s {
	case Input:
		return "input"
	case Holding:
		return "holding"
	default:
		return fmt.Sprintf("space(%d)", int(s))
	}
}

// Descriptor describes one register address within a profile.
//
// Paired 32-bit quantities occupy two descriptors that reference each other
// through Pair. By protocol-family convention the lower address carries the
// high word; LowFirst on the lower-address descriptor overrides that for
// profiles found to differ. PairScale is set on the member that anchors the
// combined value.
type Descriptor struct {
	Address   uint16
	Name      string
	Scale     float64
	Signed    bool
	HasPair   bool
	Pair      uint16
	PairScale float64
	Alias     string
	LowFirst  bool
}

// Profile is one hardware family's register catalog.
type Profile struct {
	Key     string
	Input   []Descriptor
	Holding []Descriptor
}

// Map is the immutable, indexed register catalog for a single profile.
type Map struct {
	profile string
	byAddr  [2]map[uint16]Descriptor
	byName  [2]map[string]Descriptor
	byAlias [2]map[string]Descriptor
}

// NewMap builds the indexed map for a catalog profile key.
func NewMap(profileKey string) (*Map, error) {
	profile, ok := profiles[profileKey]
	if !ok {
		return nil, fmt.Errorf("unknown profile %q", profileKey)
	}
	return newMap(profile)
}

func newMap(p Profile) (*Map, error) {
	m := &Map{profile: p.Key}
	for space, descriptors := range map[Space][]Descriptor{Input: p.Input, Holding: p.Holding} {
		byAddr := make(map[uint16]Descriptor, len(descriptors))
		byName := make(map[string]Descriptor, len(descriptors))
		byAlias := make(map[string]Descriptor)
		for _, d := range descriptors {
			if d.Name == "" {
				return nil, fmt.Errorf("profile %s: %s register %d has no name", p.Key, space, d.Address)
			}
			if _, dup := byAddr[d.Address]; dup {
				return nil, fmt.Errorf("profile %s: duplicate %s register %d", p.Key, space, d.Address)
			}
			byAddr[d.Address] = d
			if existing, ok := byName[d.Name]; ok {
				// Pair members share the quantity name; keep the anchor.
				if !(d.HasPair && existing.HasPair && existing.Pair == d.Address) {
					return nil, fmt.Errorf("profile %s: duplicate %s quantity %q", p.Key, space, d.Name)
				}
				if d.PairScale != 0 {
					byName[d.Name] = d
				}
			} else {
				byName[d.Name] = d
			}
			if d.Alias != "" {
				byAlias[d.Alias] = d
			}
		}
		for _, d := range descriptors {
			if !d.HasPair {
				continue
			}
			partner, ok := byAddr[d.Pair]
			if !ok {
				return nil, fmt.Errorf("profile %s: %s register %d pairs with undefined register %d", p.Key, space, d.Address, d.Pair)
			}
			if !partner.HasPair || partner.Pair != d.Address {
				return nil, fmt.Errorf("profile %s: %s registers %d and %d have an asymmetric pair reference", p.Key, space, d.Address, d.Pair)
			}
			if d.PairScale == 0 && partner.PairScale == 0 {
				return nil, fmt.Errorf("profile %s: %s pair %d/%d carries no combined scale", p.Key, space, d.Address, d.Pair)
			}
		}
		m.byAddr[space] = byAddr
		m.byName[space] = byName
		m.byAlias[space] = byAlias
	}
	return m, nil
}

// Profile returns the catalog key this map was built from.
func (m *Map) Profile() string {
	return m.profile
}

// LookupAddress resolves a register by address.
func (m *Map) LookupAddress(space Space, address uint16) (Descriptor, bool) {
	d, ok := m.byAddr[space][address]
	return d, ok
}

// LookupName resolves a quantity name, falling back to alias matches when
// no register carries the name directly.
func (m *Map) LookupName(space Space, name string) (Descriptor, bool) {
	if d, ok := m.byName[space][name]; ok {
		return d, true
	}
	d, ok := m.byAlias[space][name]
	return d, ok
}

// Bounds reports the lowest and highest defined address of a space.
func (m *Map) Bounds(space Space) (uint16, uint16, bool) {
	addrs := m.byAddr[space]
	if len(addrs) == 0 {
		return 0, 0, false
	}
	first := true
	var lo, hi uint16
	for addr := range addrs {
		if first {
			lo, hi = addr, addr
			first = false
			continue
		}
		if addr < lo {
			lo = addr
		}
		if addr > hi {
			hi = addr
		}
	}
	return lo, hi, true
}

// BoundsWithin reports the defined sub-range of a space inside [lo, hi].
func (m *Map) BoundsWithin(space Space, lo, hi uint16) (uint16, uint16, bool) {
	found := false
	var min, max uint16
	for addr := range m.byAddr[space] {
		if addr < lo || addr > hi {
			continue
		}
		if !found {
			min, max = addr, addr
			found = true
			continue
		}
		if addr < min {
			min = addr
		}
		if addr > max {
			max = addr
		}
	}
	return min, max, found
}

// DefinedIn reports whether the profile places any register inside [lo, hi].
func (m *Map) DefinedIn(space Space, lo, hi uint16) bool {
	_, _, ok := m.BoundsWithin(space, lo, hi)
	return ok
}

// Names lists the quantity names defined in a space, sorted.
func (m *Map) Names(space Space) []string {
	names := make([]string, 0, len(m.byName[space]))
	for name := range m.byName[space] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
