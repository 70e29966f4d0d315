package registers

import "sort"

// Canonical quantity names. Aliased extension registers resolve to these so
// downstream decoding stays format-agnostic across firmware generations.
const (
	QtyRunState              = "run_state"
	QtyPV1Voltage            = "pv1_voltage"
	QtyPV1Current            = "pv1_current"
	QtyPV2Voltage            = "pv2_voltage"
	QtyPV2Current            = "pv2_current"
	QtyPV3Voltage            = "pv3_voltage"
	QtyPV3Current            = "pv3_current"
	QtyPVPower               = "pv_power"
	QtyGridVoltageL1         = "grid_voltage_l1"
	QtyGridCurrentL1         = "grid_current_l1"
	QtyGridVoltageL2         = "grid_voltage_l2"
	QtyGridCurrentL2         = "grid_current_l2"
	QtyGridVoltageL3         = "grid_voltage_l3"
	QtyGridCurrentL3         = "grid_current_l3"
	QtyGridFrequency         = "grid_frequency"
	QtyActivePower           = "active_power"
	QtyEnergyToday           = "energy_today"
	QtyEnergyTotal           = "energy_total"
	QtyInnerTemperature      = "inner_temperature"
	QtyFaultCode             = "fault_code"
	QtyWarningCode           = "warning_code"
	QtyBatteryChargeTotal    = "battery_charge_total"
	QtyBatteryDischargeTotal = "battery_discharge_total"
	QtyBatteryChargeToday    = "battery_charge_today"
	QtyBatteryDischargeToday = "battery_discharge_today"
	QtyBatteryTemperature    = "battery_temperature"
	QtyBatteryVoltage        = "battery_voltage"
	QtyBatterySOC            = "battery_soc"
	QtyBatteryPower          = "battery_power"
	QtyBatteryCurrent        = "battery_current"
	QtyGridExportPower       = "grid_export_power"
	QtyDeviceTypeCode        = "device_type_code"
	QtyProtocolVersion       = "protocol_version"
	QtyExportLimit           = "export_limit"
	QtyChargeCurrentLimit    = "charge_current_limit"
)

// Well-known addresses shared by every profile of this protocol family.
const (
	RegDeviceTypeCode  uint16 = 20 // holding
	RegProtocolVersion uint16 = 21 // holding
	RegSerialStart     uint16 = 40 // holding, ASCII
	RegSerialWords     uint16 = 5
	RegFirmwareVersion uint16 = 46 // holding, major/minor packed per byte

	RegBatteryVoltage uint16 = 587 // input, battery presence marker
	RegPV3Voltage     uint16 = 5   // input, third string marker
	RegGridVoltageL2  uint16 = 12  // input, multi-phase marker
	RegGridVoltageL3  uint16 = 14  // input, multi-phase marker
	RegExtensionBase  uint16 = 3072
)

func reg(addr uint16, name string, scale float64) Descriptor {
	return Descriptor{Address: addr, Name: name, Scale: scale}
}

func signedReg(addr uint16, name string, scale float64) Descriptor {
	return Descriptor{Address: addr, Name: name, Scale: scale, Signed: true}
}

// pairRegs emits both members of a 32-bit quantity. The lower address is the
// high word per the family convention; the anchor carries the combined scale.
func pairRegs(high, low uint16, name string, pairScale float64, signed bool) []Descriptor {
	return []Descriptor{
		{Address: high, Name: name, Signed: signed, HasPair: true, Pair: low, PairScale: pairScale},
		{Address: low, Name: name, Signed: signed, HasPair: true, Pair: high},
	}
}

func baseInput(threePhase, pv3 bool) []Descriptor {
	out := []Descriptor{
		reg(0, QtyRunState, 1),
		reg(1, QtyPV1Voltage, 0.1),
		reg(2, QtyPV1Current, 0.1),
		reg(3, QtyPV2Voltage, 0.1),
		reg(4, QtyPV2Current, 0.1),
	}
	if pv3 {
		out = append(out,
			reg(RegPV3Voltage, QtyPV3Voltage, 0.1),
			reg(6, QtyPV3Current, 0.1),
		)
	}
	out = append(out, pairRegs(8, 9, QtyPVPower, 1, false)...)
	out = append(out,
		reg(10, QtyGridVoltageL1, 0.1),
		reg(11, QtyGridCurrentL1, 0.1),
	)
	if threePhase {
		out = append(out,
			reg(RegGridVoltageL2, QtyGridVoltageL2, 0.1),
			reg(13, QtyGridCurrentL2, 0.1),
			reg(RegGridVoltageL3, QtyGridVoltageL3, 0.1),
			reg(15, QtyGridCurrentL3, 0.1),
		)
	}
	out = append(out, reg(16, QtyGridFrequency, 0.01))
	out = append(out, pairRegs(17, 18, QtyActivePower, 1, true)...)
	out = append(out, reg(20, QtyEnergyToday, 0.1))
	out = append(out, pairRegs(21, 22, QtyEnergyTotal, 0.1, false)...)
	out = append(out,
		signedReg(24, QtyInnerTemperature, 0.1),
		reg(26, QtyFaultCode, 1),
		reg(27, QtyWarningCode, 1),
	)
	return out
}

// storageInput is the battery band shared by the hybrid profiles. Daily
// counters are skipped for second-generation firmware, which relocated them
// into the extension band.
func storageInput(dailyCounters bool) []Descriptor {
	out := append(
		pairRegs(516, 517, QtyBatteryChargeTotal, 0.1, false),
		pairRegs(518, 519, QtyBatteryDischargeTotal, 0.1, false)...,
	)
	if dailyCounters {
		out = append(out,
			reg(520, QtyBatteryChargeToday, 0.1),
			reg(521, QtyBatteryDischargeToday, 0.1),
		)
	}
	out = append(out,
		signedReg(586, QtyBatteryTemperature, 0.1),
		reg(RegBatteryVoltage, QtyBatteryVoltage, 0.01),
		reg(588, QtyBatterySOC, 1),
		signedReg(590, QtyBatteryPower, 1),
		signedReg(591, QtyBatteryCurrent, 0.01),
	)
	return out
}

// extensionInput is the second-generation 0x0C00 band. Relocated registers
// alias their canonical legacy names.
func extensionInput() []Descriptor {
	out := []Descriptor{
		{Address: RegExtensionBase, Name: "hr_battery_charge_today", Scale: 0.01, Alias: QtyBatteryChargeToday},
		{Address: RegExtensionBase + 1, Name: "hr_battery_discharge_today", Scale: 0.01, Alias: QtyBatteryDischargeToday},
	}
	out = append(out, pairRegs(3080, 3081, QtyGridExportPower, 1, true)...)
	return out
}

func baseHolding(hybrid bool) []Descriptor {
	out := []Descriptor{
		reg(RegDeviceTypeCode, QtyDeviceTypeCode, 1),
		reg(RegProtocolVersion, QtyProtocolVersion, 1),
		reg(100, QtyExportLimit, 0.1),
	}
	if hybrid {
		out = append(out, reg(102, QtyChargeCurrentLimit, 0.1))
	}
	return out
}

var profiles = map[string]Profile{
	"single": {
		Key:     "single",
		Input:   baseInput(false, false),
		Holding: baseHolding(false),
	},
	"single-pv3": {
		Key:     "single-pv3",
		Input:   baseInput(false, true),
		Holding: baseHolding(false),
	},
	"single-hybrid": {
		Key:     "single-hybrid",
		Input:   append(baseInput(false, false), storageInput(true)...),
		Holding: baseHolding(true),
	},
	"single-hybrid-g2": {
		Key:     "single-hybrid-g2",
		Input:   append(append(baseInput(false, false), storageInput(false)...), extensionInput()...),
		Holding: baseHolding(true),
	},
	"three": {
		Key:     "three",
		Input:   baseInput(true, false),
		Holding: baseHolding(false),
	},
	"three-hybrid": {
		Key:     "three-hybrid",
		Input:   append(baseInput(true, false), storageInput(true)...),
		Holding: baseHolding(true),
	},
}

// typeCodes maps the vendor device-type code to a profile key.
var typeCodes = map[uint16]string{
	2400: "single",
	3400: "single-pv3",
	5400: "single-hybrid",
	5402: "single-hybrid-g2",
	6200: "three",
	6400: "three-hybrid",
}

// Profiles lists the known profile keys, sorted.
func Profiles() []string {
	keys := make([]string, 0, len(profiles))
	for key := range profiles {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ProfileForTypeCode resolves a device-type code to a profile key.
func ProfileForTypeCode(code uint16) (string, bool) {
	key, ok := typeCodes[code]
	return key, ok
}
