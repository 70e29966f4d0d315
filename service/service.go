// Package service drives the polling state machine: it calls the device
// reader on a fixed cadence, absorbs transient failures, and keeps serving
// a policy-adjusted snapshot while the inverter is unreachable.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/timzifer/invergate/config"
	"github.com/timzifer/invergate/detect"
	"github.com/timzifer/invergate/reader"
	"github.com/timzifer/invergate/registers"
	"github.com/timzifer/invergate/telemetry"
)

// ErrNoSnapshot reports a failed poll with no previous snapshot to fall
// back on. Only the very first poll can surface it.
var ErrNoSnapshot = errors.New("initial poll failed with no snapshot to fall back on")

// ErrUnknownRegister reports a write against a name the active profile does
// not define.
var ErrUnknownRegister = errors.New("no such holding register")

// Config tunes the coordinator.
type Config struct {
	Interval   time.Duration
	RetryMax   int
	RetryDelay time.Duration
	Location   *time.Location
	Derived    []config.DerivedConfig
}

// State is the published view consumers subscribe to.
type State struct {
	Snapshot    reader.Snapshot
	Online      bool
	LastSuccess time.Time
	Derived     map[string]float64
}

// Service is the polling coordinator. It is the sole writer of the current
// snapshot; consumers only read it through State.
type Service struct {
	cfg       Config
	reader    *reader.Reader
	collector telemetry.Collector
	logger    zerolog.Logger
	programs  []derivedProgram

	// busMu serializes all transport use: poll cycles, control writes and
	// on-demand detection never interleave on the wire.
	busMu sync.Mutex

	mu          sync.RWMutex
	current     *reader.Snapshot
	online      bool
	lastSuccess time.Time
	day         time.Time
	derived     map[string]float64

	sleep func(time.Duration)
}

// New creates a coordinator around a device reader.
func New(rd *reader.Reader, cfg Config, collector telemetry.Collector, logger zerolog.Logger) (*Service, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.RetryMax < 1 {
		cfg.RetryMax = 1
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if collector == nil {
		collector = telemetry.Noop()
	}
	programs, err := compileDerived(cfg.Derived)
	if err != nil {
		return nil, err
	}
	return &Service{
		cfg:       cfg,
		reader:    rd,
		collector: collector,
		logger:    logger,
		programs:  programs,
		sleep:     time.Sleep,
	}, nil
}

// Run polls until the context is cancelled. Ticks never overlap: the loop
// is a single goroutine and the ticker drops ticks while a cycle is still
// running. Only a first-ever failed poll terminates the run with an error.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Poll(time.Now()); err != nil {
		return err
	}
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if err := s.Poll(now); err != nil {
				s.logger.Error().Err(err).Msg("poll tick failed")
			}
		}
	}
}

// Poll executes one tick of the state machine.
func (s *Service) Poll(now time.Time) error {
	started := time.Now()
	snap, err := s.attemptRead()
	duration := time.Since(started)

	today := midnight(now, s.cfg.Location)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.collector.PollFailed()
		if s.current == nil {
			return fmt.Errorf("%w: %v", ErrNoSnapshot, err)
		}
		if s.online {
			s.logger.Warn().Err(err).Msg("device went offline; serving last known snapshot")
		}
		s.online = false
		s.collector.SetOnline(false)
		if today.After(s.day) {
			// The real device cannot be asked across this boundary, so the
			// retained counters must not leak yesterday's totals into the
			// new day.
			zeroed := s.current.ZeroDaily()
			s.current = &zeroed
			s.day = today
			s.logger.Info().Msg("midnight crossed while offline; daily counters reset locally")
		}
		return nil
	}

	if s.day.IsZero() {
		s.day = today
	}
	if today.After(s.day) {
		if s.online && s.current != nil {
			// First tick past midnight with the device reachable: keep the
			// outgoing day's total before the device counters roll over.
			snap.EnergyYesterday = s.current.EnergyToday
			s.logger.Info().Float64("energy_yesterday", snap.EnergyYesterday).Msg("midnight crossed; captured outgoing daily total")
		} else if s.current != nil {
			// Reconnected across the boundary: the device already rolled
			// its own counters, nothing to force.
			snap.EnergyYesterday = s.current.EnergyYesterday
		}
		s.day = today
	} else if s.current != nil {
		snap.EnergyYesterday = s.current.EnergyYesterday
	}

	if !s.online && s.current != nil {
		s.logger.Info().Msg("device back online")
	}
	s.current = snap
	s.online = true
	s.lastSuccess = now
	s.derived = s.evaluateDerived(snap)
	s.collector.PollSucceeded(duration)
	s.collector.SetOnline(true)
	s.collector.SetLastSuccess(now)
	return nil
}

// attemptRead holds the transport for one tick and retries with a constant
// delay up to the configured bound.
func (s *Service) attemptRead() (*reader.Snapshot, error) {
	s.busMu.Lock()
	defer s.busMu.Unlock()
	var lastErr error
	for attempt := 1; attempt <= s.cfg.RetryMax; attempt++ {
		snap, err := s.reader.ReadSnapshot()
		if err == nil {
			return snap, nil
		}
		lastErr = err
		s.logger.Debug().Err(err).Int("attempt", attempt).Int("max", s.cfg.RetryMax).Msg("snapshot read failed")
		if attempt < s.cfg.RetryMax && s.cfg.RetryDelay > 0 {
			s.sleep(s.cfg.RetryDelay)
		}
	}
	return nil, lastErr
}

// State returns the published snapshot. While offline it is the previous
// snapshot with the offline presentation policy applied.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := State{Online: s.online, LastSuccess: s.lastSuccess}
	if len(s.derived) > 0 {
		st.Derived = make(map[string]float64, len(s.derived))
		for name, value := range s.derived {
			st.Derived[name] = value
		}
	}
	if s.current != nil {
		if s.online {
			st.Snapshot = *s.current
		} else {
			st.Snapshot = s.current.OfflineView()
		}
	}
	return st
}

// Detect runs model detection on demand, sharing the exclusive transport
// channel with polling.
func (s *Service) Detect(safeMode bool) (detect.Result, error) {
	s.busMu.Lock()
	defer s.busMu.Unlock()
	return detect.Detect(s.reader, safeMode, s.logger)
}

// WriteNamed scales an engineering value into a raw word and writes it to
// the named holding register, then refreshes the snapshot.
func (s *Service) WriteNamed(name string, value float64) error {
	desc, ok := s.reader.Map().LookupName(registers.Holding, name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRegister, name)
	}
	if desc.HasPair {
		return fmt.Errorf("register %s is a 32-bit pair and cannot be written", name)
	}
	raw, err := rawWord(value, desc)
	if err != nil {
		return err
	}
	return s.writeRegister(desc.Address, raw)
}

// WriteRaw writes a pre-scaled word to the named holding register.
func (s *Service) WriteRaw(name string, raw uint16) error {
	desc, ok := s.reader.Map().LookupName(registers.Holding, name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRegister, name)
	}
	return s.writeRegister(desc.Address, raw)
}

func (s *Service) writeRegister(address, raw uint16) error {
	s.busMu.Lock()
	err := s.reader.WriteRegister(address, raw)
	s.busMu.Unlock()
	if err != nil {
		return err
	}
	// Refresh so the control mirror reflects the write.
	if err := s.Poll(time.Now()); err != nil {
		s.logger.Warn().Err(err).Msg("refresh after write failed")
	}
	return nil
}

func rawWord(value float64, desc registers.Descriptor) (uint16, error) {
	scale := desc.Scale
	if scale == 0 {
		scale = 1
	}
	raw := decimal.NewFromFloat(value).Div(decimal.NewFromFloat(scale)).Round(0).IntPart()
	if desc.Signed {
		if raw < math.MinInt16 || raw > math.MaxInt16 {
			return 0, fmt.Errorf("value %v out of range for register %s", value, desc.Name)
		}
		return uint16(int16(raw)), nil
	}
	if raw < 0 || raw > math.MaxUint16 {
		return 0, fmt.Errorf("value %v out of range for register %s", value, desc.Name)
	}
	return uint16(raw), nil
}

// midnight truncates a timestamp to the start of its local calendar day.
func midnight(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	year, month, day := local.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}
