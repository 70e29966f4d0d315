// Package detect identifies the attached hardware variant by probing
// identification and marker registers. It only ever issues reads, so it can
// be re-run at any time without disturbing the device.
package detect

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/timzifer/invergate/registers"
)

// Confidence grades how strongly the evidence supports the detected profile.
type Confidence int

const (
	Low Confidence = iota
	Medium
	High
	VeryHigh
)

func (c Confidence) String() string {
	switch c {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	case VeryHigh:
		return "very high"
	default:
		return "unknown"
	}
}

// Result is the outcome of a detection run. Uncertain results should be
// confirmed manually before the profile is persisted.
type Result struct {
	Profile    string
	Confidence Confidence
	Uncertain  bool
	Evidence   []string
}

// Prober is the raw-read primitive detection runs on, satisfied by
// reader.Reader.
type Prober interface {
	ReadRange(space registers.Space, start, count uint16) ([]uint16, error)
}

// ErrNoResponse reports that no probed range answered at all.
var ErrNoResponse = errors.New("device did not respond to any probe")

// Detect runs the two-phase identification. Phase one reads the device type
// code register and returns immediately on a table hit; safeMode skips it
// for hardware families known to fault when those addresses are probed.
// Phase two applies a fixed-priority decision tree over marker registers.
func Detect(p Prober, safeMode bool, logger zerolog.Logger) (Result, error) {
	var evidence []string

	if safeMode {
		evidence = append(evidence, "safe mode: identification registers not probed")
	} else {
		words, err := p.ReadRange(registers.Holding, registers.RegDeviceTypeCode, 2)
		switch {
		case err != nil:
			evidence = append(evidence, fmt.Sprintf("type code register unreadable: %v", err))
		case len(words) >= 1:
			code := words[0]
			if len(words) >= 2 {
				evidence = append(evidence, fmt.Sprintf("protocol version %d", words[1]))
			}
			if key, ok := registers.ProfileForTypeCode(code); ok {
				evidence = append(evidence, fmt.Sprintf("device type code %d maps to profile %s", code, key))
				logger.Info().Str("profile", key).Uint16("type_code", code).Msg("identified by device type code")
				return Result{Profile: key, Confidence: VeryHigh, Evidence: evidence}, nil
			}
			evidence = append(evidence, fmt.Sprintf("device type code %d not in table", code))
		}
	}

	probe := func(space registers.Space, addr uint16) (uint16, bool) {
		words, err := p.ReadRange(space, addr, 1)
		if err != nil || len(words) == 0 {
			return 0, false
		}
		return words[0], true
	}

	battRaw, battOK := probe(registers.Input, registers.RegBatteryVoltage)
	// A plausible battery voltage is well above 5 V; a zeroed scratch word
	// must not look like a battery.
	battery := battOK && battRaw >= 500
	if battery {
		evidence = append(evidence, fmt.Sprintf("battery voltage register reads %.2f V", float64(battRaw)*0.01))
	} else if battOK {
		evidence = append(evidence, "storage band responds but battery voltage is implausible")
	} else {
		evidence = append(evidence, "storage band absent")
	}

	l2Raw, l2OK := probe(registers.Input, registers.RegGridVoltageL2)
	l3Raw, l3OK := probe(registers.Input, registers.RegGridVoltageL3)
	threePhase := (l2OK && l2Raw > 0) || (l3OK && l3Raw > 0)
	if threePhase {
		evidence = append(evidence, "second/third phase voltage registers populated")
	}

	pv3Raw, pv3OK := probe(registers.Input, registers.RegPV3Voltage)
	pv3 := pv3OK && pv3Raw > 0
	if pv3 {
		evidence = append(evidence, "third PV string voltage register populated")
	}

	pv1Raw, pv1OK := probe(registers.Input, 1)
	_, extOK := probe(registers.Input, registers.RegExtensionBase)
	if extOK {
		evidence = append(evidence, "extension band responds")
	}

	anyResponse := battOK || l2OK || l3OK || pv3OK || pv1OK || extOK

	var res Result
	switch {
	case battery && threePhase:
		res = Result{Profile: "three-hybrid", Confidence: High}
	case battery && extOK:
		res = Result{Profile: "single-hybrid-g2", Confidence: High}
	case battery:
		res = Result{Profile: "single-hybrid", Confidence: High}
	case threePhase:
		res = Result{Profile: "three", Confidence: High}
	case pv3:
		res = Result{Profile: "single-pv3", Confidence: High}
	case pv1OK && pv1Raw > 0:
		evidence = append(evidence, "single PV string producing; battery and phase markers absent")
		res = Result{Profile: "single", Confidence: Medium}
	case pv1OK:
		evidence = append(evidence, "base band responds but PV strings are dark; confirm model manually")
		res = Result{Profile: "single", Confidence: Low, Uncertain: true}
	case anyResponse:
		evidence = append(evidence, "base band silent; guessed from the ranges that responded, confirm model manually")
		res = Result{Profile: "single", Confidence: Low, Uncertain: true}
	default:
		return Result{Evidence: evidence}, ErrNoResponse
	}

	res.Evidence = evidence
	logger.Info().
		Str("profile", res.Profile).
		Stringer("confidence", res.Confidence).
		Bool("uncertain", res.Uncertain).
		Msg("identified by marker heuristics")
	return res, nil
}
