package reader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/invergate/registers"
)

type readCall struct {
	space registers.Space
	start uint16
	count uint16
}

// fakeClient serves registers from in-memory banks. Addresses listed in
// failing cause the whole request to error, mimicking devices that NAK
// reads outside their layout.
type fakeClient struct {
	input   map[uint16]uint16
	holding map[uint16]uint16
	failing map[registers.Space]map[uint16]bool
	failAll bool
	reads   []readCall
	writes  map[uint16]uint16
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		input:   map[uint16]uint16{},
		holding: map[uint16]uint16{},
		failing: map[registers.Space]map[uint16]bool{},
		writes:  map[uint16]uint16{},
	}
}

func (f *fakeClient) failRange(space registers.Space, lo, hi uint16) {
	if f.failing[space] == nil {
		f.failing[space] = map[uint16]bool{}
	}
	for addr := lo; addr <= hi; addr++ {
		f.failing[space][addr] = true
	}
}

func (f *fakeClient) read(space registers.Space, bank map[uint16]uint16, address, quantity uint16) ([]byte, error) {
	if f.failAll {
		return nil, errors.New("connection lost")
	}
	f.reads = append(f.reads, readCall{space: space, start: address, count: quantity})
	out := make([]byte, 0, quantity*2)
	for addr := address; addr < address+quantity; addr++ {
		if f.failing[space][addr] {
			return nil, fmt.Errorf("illegal data address %d", addr)
		}
		var buf [2]byte
		binary.BigEndian.PutUint16(buf[:], bank[addr])
		out = append(out, buf[:]...)
	}
	return out, nil
}

func (f *fakeClient) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	return f.read(registers.Input, f.input, address, quantity)
}

func (f *fakeClient) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	return f.read(registers.Holding, f.holding, address, quantity)
}

func (f *fakeClient) WriteSingleRegister(address, value uint16) ([]byte, error) {
	if f.failAll {
		return nil, errors.New("connection lost")
	}
	f.writes[address] = value
	return nil, nil
}

func (f *fakeClient) Close() error {
	return nil
}

func populateHybrid(f *fakeClient) {
	f.input[0] = 2     // run state: normal
	f.input[1] = 3251  // pv1 voltage 325.1 V
	f.input[2] = 82    // pv1 current 8.2 A
	f.input[8] = 0     // pv power high word
	f.input[9] = 2665  // pv power 2665 W
	f.input[10] = 2304 // grid voltage 230.4 V
	f.input[16] = 4999 // 49.99 Hz
	f.input[17] = 0
	f.input[18] = 2500 // active power 2500 W
	f.input[20] = 84   // energy today 8.4 kWh
	f.input[21] = 1
	f.input[22] = 34464 // energy total (1<<16|34464)*0.1 = 10000.0 kWh
	f.input[24] = 0xFFCE
	f.input[26] = 0
	f.input[27] = 0
	f.input[516] = 0
	f.input[517] = 120 // charge total 12.0 kWh
	f.input[518] = 0
	f.input[519] = 80 // discharge total 8.0 kWh
	f.input[520] = 31 // charge today 3.1
	f.input[521] = 27 // discharge today 2.7
	f.input[586] = 182
	f.input[587] = 5120   // battery 51.20 V
	f.input[588] = 77     // soc
	f.input[590] = 0xFF9C // battery power -100 W
	f.input[591] = 0xFFF6 // battery current -0.1 A

	f.holding[100] = 1000 // export limit 100.0 %
	f.holding[102] = 250  // charge current limit 25.0 A

	// serial "INV47110A " firmware 1.07
	serial := "INV47110A\x00"
	for i := 0; i < 5; i++ {
		f.holding[40+uint16(i)] = uint16(serial[i*2])<<8 | uint16(serial[i*2+1])
	}
	f.holding[46] = 0x0107
}

func newTestReader(t *testing.T, client *fakeClient, profile string, cfg Config) *Reader {
	t.Helper()
	m, err := registers.NewMap(profile)
	require.NoError(t, err)
	r := New(client, m, cfg, nil, zerolog.Nop())
	r.sleep = func(time.Duration) {}
	return r
}

func TestReadSnapshotDecodesHybrid(t *testing.T) {
	client := newFakeClient()
	populateHybrid(client)
	r := newTestReader(t, client, "single-hybrid", Config{})

	snap, err := r.ReadSnapshot()
	require.NoError(t, err)

	require.InDelta(t, 325.1, snap.PV1Voltage, 1e-9)
	require.InDelta(t, 8.2, snap.PV1Current, 1e-9)
	require.InDelta(t, 2665, snap.PVPower, 1e-9)
	require.InDelta(t, 230.4, snap.GridVoltageL1, 1e-9)
	require.InDelta(t, 49.99, snap.GridFrequency, 1e-9)
	require.InDelta(t, 2500, snap.ActivePower, 1e-9)
	require.InDelta(t, 8.4, snap.EnergyToday, 1e-9)
	require.InDelta(t, 10000.0, snap.EnergyTotal, 1e-9)
	require.InDelta(t, 51.20, snap.BatteryVoltage, 1e-9)
	require.InDelta(t, 77, snap.BatterySOC, 1e-9)
	require.InDelta(t, -100, snap.BatteryPower, 1e-9)
	require.InDelta(t, -0.1, snap.BatteryCurrent, 1e-9)
	require.InDelta(t, 12.0, snap.BatteryChargeTotal, 1e-9)
	require.InDelta(t, 3.1, snap.BatteryChargeToday, 1e-9)
	require.NotNil(t, snap.InnerTemperature)
	require.InDelta(t, -5.0, *snap.InnerTemperature, 1e-9)
	require.NotNil(t, snap.BatteryTemperature)
	require.InDelta(t, 18.2, *snap.BatteryTemperature, 1e-9)
	require.NotNil(t, snap.FaultCode)
	require.Equal(t, uint16(0), *snap.FaultCode)
	require.Equal(t, StatusNormal, snap.RunState)
	require.InDelta(t, 100.0, snap.ExportLimit, 1e-9)
	require.Equal(t, "INV47110A", snap.SerialNumber)
	require.Equal(t, "1.07", snap.FirmwareVersion)
	require.False(t, snap.TakenAt.IsZero())
}

func TestReadSnapshotSkipsBandsTheProfileDoesNotDefine(t *testing.T) {
	client := newFakeClient()
	populateHybrid(client)
	r := newTestReader(t, client, "single", Config{})

	_, err := r.ReadSnapshot()
	require.NoError(t, err)

	for _, call := range client.reads {
		if call.space != registers.Input {
			continue
		}
		require.Less(t, call.start, uint16(512), "single profile must not touch the storage band")
	}
}

func TestReadSnapshotOptionalBandFailureDegrades(t *testing.T) {
	client := newFakeClient()
	populateHybrid(client)
	client.failRange(registers.Input, 512, 608)
	r := newTestReader(t, client, "single-hybrid", Config{})

	snap, err := r.ReadSnapshot()
	require.NoError(t, err)
	require.Zero(t, snap.BatteryVoltage)
	require.Zero(t, snap.BatteryChargeTotal)
	require.Nil(t, snap.BatteryTemperature)
	require.InDelta(t, 325.1, snap.PV1Voltage, 1e-9)
}

func TestReadSnapshotMandatoryBandFailureFails(t *testing.T) {
	client := newFakeClient()
	populateHybrid(client)
	client.failRange(registers.Input, 0, 119)
	r := newTestReader(t, client, "single-hybrid", Config{})

	_, err := r.ReadSnapshot()
	require.ErrorIs(t, err, ErrMandatoryRange)
}

func TestReadRangeChunksToTransportLimit(t *testing.T) {
	client := newFakeClient()
	for addr := uint16(0); addr < 30; addr++ {
		client.input[addr] = addr
	}
	r := newTestReader(t, client, "single", Config{MaxWords: 10})

	words, err := r.ReadRange(registers.Input, 0, 28)
	require.NoError(t, err)
	require.Len(t, words, 28)
	for i, word := range words {
		require.Equal(t, uint16(i), word)
	}

	require.Len(t, client.reads, 3)
	require.Equal(t, readCall{space: registers.Input, start: 0, count: 10}, client.reads[0])
	require.Equal(t, readCall{space: registers.Input, start: 10, count: 10}, client.reads[1])
	require.Equal(t, readCall{space: registers.Input, start: 20, count: 8}, client.reads[2])
}

func TestPaceEnforcesGlobalRequestSpacing(t *testing.T) {
	client := newFakeClient()
	populateHybrid(client)
	r := newTestReader(t, client, "single", Config{RequestGap: 100 * time.Millisecond})

	current := time.Unix(1000, 0)
	var slept []time.Duration
	r.now = func() time.Time { return current }
	r.sleep = func(d time.Duration) {
		slept = append(slept, d)
		current = current.Add(d)
	}

	_, err := r.ReadRange(registers.Input, 0, 5)
	require.NoError(t, err)
	require.Empty(t, slept, "first request needs no spacing")

	// 40ms of work elapse before the next request.
	current = current.Add(40 * time.Millisecond)
	_, err = r.ReadRange(registers.Holding, 100, 1)
	require.NoError(t, err)
	require.Equal(t, []time.Duration{60 * time.Millisecond}, slept)
}

func TestOfflineViewPolicyAndIdempotence(t *testing.T) {
	temp := 42.5
	fault := uint16(3)
	snap := Snapshot{
		PV1Voltage:         325.1,
		PVPower:            2665,
		ActivePower:        2500,
		BatteryPower:       -100,
		EnergyToday:        8.4,
		EnergyTotal:        10000,
		BatteryChargeToday: 3.1,
		InnerTemperature:   &temp,
		FaultCode:          &fault,
		RunState:           StatusNormal,
	}

	view := snap.OfflineView()
	require.Zero(t, view.PV1Voltage)
	require.Zero(t, view.PVPower)
	require.Zero(t, view.ActivePower)
	require.Zero(t, view.BatteryPower)
	require.InDelta(t, 8.4, view.EnergyToday, 1e-9)
	require.InDelta(t, 10000.0, view.EnergyTotal, 1e-9)
	require.InDelta(t, 3.1, view.BatteryChargeToday, 1e-9)
	require.Nil(t, view.InnerTemperature)
	require.Nil(t, view.FaultCode)
	require.Equal(t, StatusOffline, view.RunState)

	require.Equal(t, view, view.OfflineView(), "offline policy must be idempotent")
}

func TestZeroDailyClearsOnlyDailyCounters(t *testing.T) {
	snap := Snapshot{
		EnergyToday:           8.4,
		EnergyTotal:           10000,
		BatteryChargeToday:    3.1,
		BatteryDischargeToday: 2.7,
		BatteryChargeTotal:    12,
	}
	zeroed := snap.ZeroDaily()
	require.Zero(t, zeroed.EnergyToday)
	require.Zero(t, zeroed.BatteryChargeToday)
	require.Zero(t, zeroed.BatteryDischargeToday)
	require.InDelta(t, 10000.0, zeroed.EnergyTotal, 1e-9)
	require.InDelta(t, 12.0, zeroed.BatteryChargeTotal, 1e-9)
}
