package reader

import (
	"time"

	"github.com/timzifer/invergate/registers"
)

// Status mirrors the inverter run-state register. StatusOffline is never
// reported by hardware; the coordinator substitutes it while the device is
// unreachable.
type Status int

const (
	StatusOffline        Status = -1
	StatusWaiting        Status = 0
	StatusChecking       Status = 1
	StatusNormal         Status = 2
	StatusFault          Status = 3
	StatusPermanentFault Status = 4
)

func (s Status) String() string {
	switch s {
	case StatusOffline:
		return "offline"
	case StatusWaiting:
		return "waiting"
	case StatusChecking:
		return "checking"
	case StatusNormal:
		return "normal"
	case StatusFault:
		return "fault"
	case StatusPermanentFault:
		return "permanent fault"
	default:
		return "unknown"
	}
}

// Snapshot is the decoded device state produced by one successful poll.
// Quantities a profile does not define stay at their zero value.
// Diagnostic pointers are nil when unavailable.
type Snapshot struct {
	PV1Voltage float64
	PV1Current float64
	PV2Voltage float64
	PV2Current float64
	PV3Voltage float64
	PV3Current float64
	PVPower    float64

	GridVoltageL1 float64
	GridCurrentL1 float64
	GridVoltageL2 float64
	GridCurrentL2 float64
	GridVoltageL3 float64
	GridCurrentL3 float64
	GridFrequency float64
	ActivePower   float64

	GridExportPower float64

	EnergyToday     float64
	EnergyYesterday float64
	EnergyTotal     float64

	BatteryVoltage        float64
	BatteryCurrent        float64
	BatteryPower          float64
	BatterySOC            float64
	BatteryChargeToday    float64
	BatteryDischargeToday float64
	BatteryChargeTotal    float64
	BatteryDischargeTotal float64

	InnerTemperature   *float64
	BatteryTemperature *float64
	FaultCode          *uint16
	WarningCode        *uint16

	RunState    Status
	ExportLimit float64

	SerialNumber    string
	FirmwareVersion string

	TakenAt time.Time
}

// OfflineView applies the offline presentation policy: instantaneous
// quantities read zero, cumulative counters keep their last known value,
// diagnostics become unavailable and the run state reports offline. The
// transformation is idempotent.
func (s Snapshot) OfflineView() Snapshot {
	out := s
	out.PV1Voltage = 0
	out.PV1Current = 0
	out.PV2Voltage = 0
	out.PV2Current = 0
	out.PV3Voltage = 0
	out.PV3Current = 0
	out.PVPower = 0
	out.GridVoltageL1 = 0
	out.GridCurrentL1 = 0
	out.GridVoltageL2 = 0
	out.GridCurrentL2 = 0
	out.GridVoltageL3 = 0
	out.GridCurrentL3 = 0
	out.GridFrequency = 0
	out.ActivePower = 0
	out.GridExportPower = 0
	out.BatteryVoltage = 0
	out.BatteryCurrent = 0
	out.BatteryPower = 0
	out.InnerTemperature = nil
	out.BatteryTemperature = nil
	out.FaultCode = nil
	out.WarningCode = nil
	out.RunState = StatusOffline
	return out
}

// ZeroDaily clears the daily-accumulating counters. The coordinator uses it
// when a midnight boundary passes while the device cannot be asked.
func (s Snapshot) ZeroDaily() Snapshot {
	out := s
	out.EnergyToday = 0
	out.BatteryChargeToday = 0
	out.BatteryDischargeToday = 0
	return out
}

// Values exposes the numeric quantities under their canonical names, for
// derived-expression environments and generic consumers. Unavailable
// diagnostics are omitted.
func (s Snapshot) Values() map[string]float64 {
	out := map[string]float64{
		registers.QtyPV1Voltage:            s.PV1Voltage,
		registers.QtyPV1Current:            s.PV1Current,
		registers.QtyPV2Voltage:            s.PV2Voltage,
		registers.QtyPV2Current:            s.PV2Current,
		registers.QtyPV3Voltage:            s.PV3Voltage,
		registers.QtyPV3Current:            s.PV3Current,
		registers.QtyPVPower:               s.PVPower,
		registers.QtyGridVoltageL1:         s.GridVoltageL1,
		registers.QtyGridCurrentL1:         s.GridCurrentL1,
		registers.QtyGridVoltageL2:         s.GridVoltageL2,
		registers.QtyGridCurrentL2:         s.GridCurrentL2,
		registers.QtyGridVoltageL3:         s.GridVoltageL3,
		registers.QtyGridCurrentL3:         s.GridCurrentL3,
		registers.QtyGridFrequency:         s.GridFrequency,
		registers.QtyActivePower:           s.ActivePower,
		registers.QtyGridExportPower:       s.GridExportPower,
		registers.QtyEnergyToday:           s.EnergyToday,
		"energy_yesterday":                 s.EnergyYesterday,
		registers.QtyEnergyTotal:           s.EnergyTotal,
		registers.QtyBatteryVoltage:        s.BatteryVoltage,
		registers.QtyBatteryCurrent:        s.BatteryCurrent,
		registers.QtyBatteryPower:          s.BatteryPower,
		registers.QtyBatterySOC:            s.BatterySOC,
		registers.QtyBatteryChargeToday:    s.BatteryChargeToday,
		registers.QtyBatteryDischargeToday: s.BatteryDischargeToday,
		registers.QtyBatteryChargeTotal:    s.BatteryChargeTotal,
		registers.QtyBatteryDischargeTotal: s.BatteryDischargeTotal,
		registers.QtyExportLimit:           s.ExportLimit,
		registers.QtyRunState:              float64(s.RunState),
	}
	if s.InnerTemperature != nil {
		out[registers.QtyInnerTemperature] = *s.InnerTemperature
	}
	if s.BatteryTemperature != nil {
		out[registers.QtyBatteryTemperature] = *s.BatteryTemperature
	}
	if s.FaultCode != nil {
		out[registers.QtyFaultCode] = float64(*s.FaultCode)
	}
	if s.WarningCode != nil {
		out[registers.QtyWarningCode] = float64(*s.WarningCode)
	}
	return out
}
