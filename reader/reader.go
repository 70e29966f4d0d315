// Package reader assembles full device snapshots from banded Modbus reads.
package reader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/timzifer/invergate/registers"
	"github.com/timzifer/invergate/remote"
	"github.com/timzifer/invergate/telemetry"
)

// ErrMandatoryRange reports that the band containing the primary status
// register could not be read; the snapshot for this cycle is unusable.
var ErrMandatoryRange = errors.New("mandatory register band unavailable")

// band is a fixed, protocol-defined address range. Different hardware
// families place overlapping functionality at these offsets; a band is read
// only when the active profile defines at least one register inside it.
type band struct {
	name      string
	space     registers.Space
	lo, hi    uint16
	mandatory bool
}

var bands = []band{
	{name: "base", space: registers.Input, lo: 0, hi: 119, mandatory: true},
	{name: "storage", space: registers.Input, lo: 512, hi: 608},
	{name: "extension", space: registers.Input, lo: 3072, hi: 3120},
	{name: "control", space: registers.Holding, lo: 100, hi: 110},
}

// Config tunes transport usage.
type Config struct {
	// RequestGap is the minimum spacing between consecutive transport
	// requests. Device firmware throttles faster polling.
	RequestGap time.Duration
	// MaxWords caps the register count per read request. Zero selects the
	// transport default.
	MaxWords uint16
}

// Reader orchestrates banded register reads and snapshot decoding.
type Reader struct {
	client    remote.Client
	m         *registers.Map
	gap       time.Duration
	maxWords  uint16
	collector telemetry.Collector
	logger    zerolog.Logger

	mu          sync.Mutex
	lastRequest time.Time

	now   func() time.Time
	sleep func(time.Duration)
}

// New creates a reader for one device and profile.
func New(client remote.Client, m *registers.Map, cfg Config, collector telemetry.Collector, logger zerolog.Logger) *Reader {
	maxWords := cfg.MaxWords
	if maxWords == 0 || maxWords > remote.MaxRequestWords {
		maxWords = remote.MaxRequestWords
	}
	if collector == nil {
		collector = telemetry.Noop()
	}
	return &Reader{
		client:    client,
		m:         m,
		gap:       cfg.RequestGap,
		maxWords:  maxWords,
		collector: collector,
		logger:    logger,
		now:       time.Now,
		sleep:     time.Sleep,
	}
}

// NewProbe creates a reader without a register map, for raw probing such
// as model detection. Only ReadRange and WriteRegister may be used.
func NewProbe(client remote.Client, cfg Config, collector telemetry.Collector, logger zerolog.Logger) *Reader {
	return New(client, nil, cfg, collector, logger)
}

// Map returns the active register map.
func (r *Reader) Map() *registers.Map {
	return r.m
}

// pace enforces the global inter-request spacing across all reads and
// writes issued through this reader.
func (r *Reader) pace() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gap > 0 && !r.lastRequest.IsZero() {
		if wait := r.gap - r.now().Sub(r.lastRequest); wait > 0 {
			r.sleep(wait)
		}
	}
	r.lastRequest = r.now()
}

// ReadRange reads count registers starting at start, splitting the range
// into transport-limited chunks issued back-to-back.
func (r *Reader) ReadRange(space registers.Space, start, count uint16) ([]uint16, error) {
	out := make([]uint16, 0, count)
	for count > 0 {
		chunk := count
		if chunk > r.maxWords {
			chunk = r.maxWords
		}
		r.pace()
		var (
			payload []byte
			err     error
		)
		switch space {
		case registers.Input:
			payload, err = r.client.ReadInputRegisters(start, chunk)
		case registers.Holding:
			payload, err = r.client.ReadHoldingRegisters(start, chunk)
		default:
			return nil, fmt.Errorf("unsupported address space %v", space)
		}
		if err != nil {
			return nil, fmt.Errorf("read %s %d+%d: %w", space, start, chunk, err)
		}
		if len(payload) < int(chunk)*2 {
			return nil, fmt.Errorf("read %s %d+%d: short payload (%d bytes)", space, start, chunk, len(payload))
		}
		for i := 0; i < int(chunk); i++ {
			out = append(out, binary.BigEndian.Uint16(payload[i*2:]))
		}
		r.collector.TransportRead(int(chunk))
		start += chunk
		count -= chunk
	}
	return out, nil
}

// WriteRegister writes a single holding register, paced like any other
// transport request.
func (r *Reader) WriteRegister(address, value uint16) error {
	r.pace()
	if _, err := r.client.WriteSingleRegister(address, value); err != nil {
		return fmt.Errorf("write holding %d: %w", address, err)
	}
	return nil
}

// ReadSnapshot populates the raw caches for every relevant band and decodes
// them into a fresh snapshot. Optional band failures degrade to defaulted
// quantities; only the mandatory band aborts the read.
func (r *Reader) ReadSnapshot() (*Snapshot, error) {
	caches := map[registers.Space]registers.Cache{
		registers.Input:   {},
		registers.Holding: {},
	}
	for _, b := range bands {
		lo, hi, ok := r.m.BoundsWithin(b.space, b.lo, b.hi)
		if !ok {
			continue
		}
		words, err := r.ReadRange(b.space, lo, hi-lo+1)
		if err != nil {
			if b.mandatory {
				return nil, fmt.Errorf("%w: %s", ErrMandatoryRange, err)
			}
			r.logger.Warn().Err(err).Str("band", b.name).Msg("optional band unavailable; defaulting its quantities")
			continue
		}
		caches[b.space].Merge(lo, words)
	}

	snap := &Snapshot{TakenAt: r.now()}
	r.decodeInto(snap, caches)
	r.readIdentification(snap)
	return snap, nil
}

func (r *Reader) decodeInto(snap *Snapshot, caches map[registers.Space]registers.Cache) {
	input := caches[registers.Input]
	holding := caches[registers.Holding]

	assign := []struct {
		name string
		dst  *float64
	}{
		{registers.QtyPV1Voltage, &snap.PV1Voltage},
		{registers.QtyPV1Current, &snap.PV1Current},
		{registers.QtyPV2Voltage, &snap.PV2Voltage},
		{registers.QtyPV2Current, &snap.PV2Current},
		{registers.QtyPV3Voltage, &snap.PV3Voltage},
		{registers.QtyPV3Current, &snap.PV3Current},
		{registers.QtyPVPower, &snap.PVPower},
		{registers.QtyGridVoltageL1, &snap.GridVoltageL1},
		{registers.QtyGridCurrentL1, &snap.GridCurrentL1},
		{registers.QtyGridVoltageL2, &snap.GridVoltageL2},
		{registers.QtyGridCurrentL2, &snap.GridCurrentL2},
		{registers.QtyGridVoltageL3, &snap.GridVoltageL3},
		{registers.QtyGridCurrentL3, &snap.GridCurrentL3},
		{registers.QtyGridFrequency, &snap.GridFrequency},
		{registers.QtyActivePower, &snap.ActivePower},
		{registers.QtyGridExportPower, &snap.GridExportPower},
		{registers.QtyEnergyToday, &snap.EnergyToday},
		{registers.QtyEnergyTotal, &snap.EnergyTotal},
		{registers.QtyBatteryVoltage, &snap.BatteryVoltage},
		{registers.QtyBatteryCurrent, &snap.BatteryCurrent},
		{registers.QtyBatteryPower, &snap.BatteryPower},
		{registers.QtyBatterySOC, &snap.BatterySOC},
		{registers.QtyBatteryChargeToday, &snap.BatteryChargeToday},
		{registers.QtyBatteryDischargeToday, &snap.BatteryDischargeToday},
		{registers.QtyBatteryChargeTotal, &snap.BatteryChargeTotal},
		{registers.QtyBatteryDischargeTotal, &snap.BatteryDischargeTotal},
	}
	for _, a := range assign {
		if v, ok := r.m.Decode(input, registers.Input, a.name); ok {
			*a.dst = v
		}
	}

	if v, ok := r.m.Decode(input, registers.Input, registers.QtyInnerTemperature); ok {
		snap.InnerTemperature = &v
	}
	if v, ok := r.m.Decode(input, registers.Input, registers.QtyBatteryTemperature); ok {
		snap.BatteryTemperature = &v
	}
	if v, ok := r.m.Decode(input, registers.Input, registers.QtyFaultCode); ok {
		code := uint16(v)
		snap.FaultCode = &code
	}
	if v, ok := r.m.Decode(input, registers.Input, registers.QtyWarningCode); ok {
		code := uint16(v)
		snap.WarningCode = &code
	}
	if v, ok := r.m.Decode(input, registers.Input, registers.QtyRunState); ok {
		snap.RunState = Status(int(v))
	}
	if v, ok := r.m.Decode(holding, registers.Holding, registers.QtyExportLimit); ok {
		snap.ExportLimit = v
	}
}

// readIdentification fills the serial number and firmware version from the
// dedicated holding range. Failures leave the fields empty; identification
// is not worth failing a snapshot over.
func (r *Reader) readIdentification(snap *Snapshot) {
	words, err := r.ReadRange(registers.Holding, registers.RegSerialStart, registers.RegFirmwareVersion-registers.RegSerialStart+1)
	if err != nil {
		r.logger.Debug().Err(err).Msg("identification registers unavailable")
		return
	}
	snap.SerialNumber = decodeASCII(words[:registers.RegSerialWords])
	fw := words[len(words)-1]
	snap.FirmwareVersion = fmt.Sprintf("%d.%02d", fw>>8, fw&0xFF)
}

func decodeASCII(words []uint16) string {
	raw := make([]byte, 0, len(words)*2)
	for _, w := range words {
		raw = append(raw, byte(w>>8), byte(w))
	}
	return strings.TrimRight(strings.TrimLeft(string(raw), "\x00 "), "\x00 ")
}
