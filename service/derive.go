package service

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/timzifer/invergate/config"
	"github.com/timzifer/invergate/reader"
)

// derivedProgram is one compiled derived-quantity expression.
type derivedProgram struct {
	name    string
	program *vm.Program
}

func compileDerived(configs []config.DerivedConfig) ([]derivedProgram, error) {
	programs := make([]derivedProgram, 0, len(configs))
	for _, cfg := range configs {
		program, err := expr.Compile(cfg.Expression, expr.AllowUndefinedVariables())
		if err != nil {
			return nil, fmt.Errorf("derived quantity %s: compile: %w", cfg.Name, err)
		}
		programs = append(programs, derivedProgram{name: cfg.Name, program: program})
	}
	return programs, nil
}

// evaluateDerived runs every derived expression over the snapshot's
// quantity environment. Evaluation failures skip the quantity for this
// cycle; they never fail the poll.
func (s *Service) evaluateDerived(snap *reader.Snapshot) map[string]float64 {
	if len(s.programs) == 0 {
		return nil
	}
	values := snap.Values()
	env := make(map[string]interface{}, len(values))
	for name, value := range values {
		env[name] = value
	}
	out := make(map[string]float64, len(s.programs))
	for _, p := range s.programs {
		result, err := expr.Run(p.program, env)
		if err != nil {
			s.logger.Warn().Err(err).Str("derived", p.name).Msg("derived quantity evaluation failed")
			continue
		}
		value, ok := toFloat(result)
		if !ok {
			s.logger.Warn().Str("derived", p.name).Msgf("derived quantity produced non-numeric %T", result)
			continue
		}
		out[p.name] = value
	}
	return out
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
