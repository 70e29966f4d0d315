package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures telemetry events emitted by the polling runtime.
//
// Implementations may forward metrics to Prometheus, loggers or other
// monitoring systems. They should be inexpensive to call because hooks are
// executed inline with the poll cycle.
type Collector interface {
	PollSucceeded(duration time.Duration)
	PollFailed()
	SetOnline(online bool)
	SetLastSuccess(ts time.Time)
	TransportRead(words int)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) PollSucceeded(time.Duration) {}
func (noopCollector) PollFailed()                 {}
func (noopCollector) SetOnline(bool)              {}
func (noopCollector) SetLastSuccess(time.Time)    {}
func (noopCollector) TransportRead(int)           {}

// PrometheusCollector exposes polling telemetry via Prometheus.
type PrometheusCollector struct {
	pollOutcome    *prometheus.CounterVec
	pollDuration   prometheus.Gauge
	online         prometheus.Gauge
	lastSuccess    prometheus.Gauge
	transportReads prometheus.Counter
	wordsRead      prometheus.Counter
}

var (
	pollOutcomeCounter  *prometheus.CounterVec
	pollDurationGauge   prometheus.Gauge
	onlineGauge         prometheus.Gauge
	lastSuccessGauge    prometheus.Gauge
	transportReadsTotal prometheus.Counter
	wordsReadTotal      prometheus.Counter
	registryLock        sync.Mutex
)

// NewPrometheusCollector registers the required metrics with the provided registerer.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	registryLock.Lock()
	defer registryLock.Unlock()

	if pollOutcomeCounter == nil {
		counter := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "invergate_poll_total",
			Help: "Number of completed poll cycles partitioned by outcome.",
		}, []string{"outcome"})
		registered, err := registerCounterVec(reg, counter)
		if err != nil {
			return nil, err
		}
		pollOutcomeCounter = registered
	}
	if pollDurationGauge == nil {
		gauge := prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "invergate_poll_duration_seconds",
			Help: "Duration of the most recent successful poll cycle.",
		})
		registered, err := registerGauge(reg, gauge)
		if err != nil {
			return nil, err
		}
		pollDurationGauge = registered
	}
	if onlineGauge == nil {
		gauge := prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "invergate_device_online",
			Help: "Whether the inverter is currently reachable (1) or offline (0).",
		})
		registered, err := registerGauge(reg, gauge)
		if err != nil {
			return nil, err
		}
		onlineGauge = registered
	}
	if lastSuccessGauge == nil {
		gauge := prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "invergate_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful device contact.",
		})
		registered, err := registerGauge(reg, gauge)
		if err != nil {
			return nil, err
		}
		lastSuccessGauge = registered
	}
	if transportReadsTotal == nil {
		counter := prometheus.NewCounter(prometheus.CounterOpts{
			Name: "invergate_transport_reads_total",
			Help: "Number of Modbus read requests issued to the device.",
		})
		registered, err := registerCounter(reg, counter)
		if err != nil {
			return nil, err
		}
		transportReadsTotal = registered
	}
	if wordsReadTotal == nil {
		counter := prometheus.NewCounter(prometheus.CounterOpts{
			Name: "invergate_transport_words_total",
			Help: "Number of 16-bit registers transferred from the device.",
		})
		registered, err := registerCounter(reg, counter)
		if err != nil {
			return nil, err
		}
		wordsReadTotal = registered
	}

	return &PrometheusCollector{
		pollOutcome:    pollOutcomeCounter,
		pollDuration:   pollDurationGauge,
		online:         onlineGauge,
		lastSuccess:    lastSuccessGauge,
		transportReads: transportReadsTotal,
		wordsRead:      wordsReadTotal,
	}, nil
}

func registerCounterVec(reg prometheus.Registerer, counter *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(counter); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return counter, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return gauge, nil
}

// PollSucceeded records a successful poll cycle.
func (c *PrometheusCollector) PollSucceeded(duration time.Duration) {
	c.pollOutcome.WithLabelValues("success").Inc()
	c.pollDuration.Set(duration.Seconds())
}

// PollFailed records a poll cycle that exhausted its retries.
func (c *PrometheusCollector) PollFailed() {
	c.pollOutcome.WithLabelValues("failure").Inc()
}

// SetOnline mirrors the coordinator's connection state.
func (c *PrometheusCollector) SetOnline(online bool) {
	if online {
		c.online.Set(1)
		return
	}
	c.online.Set(0)
}

// SetLastSuccess records the timestamp of the last successful contact.
func (c *PrometheusCollector) SetLastSuccess(ts time.Time) {
	c.lastSuccess.Set(float64(ts.Unix()))
}

// TransportRead counts one issued read request and the words it returned.
func (c *PrometheusCollector) TransportRead(words int) {
	c.transportReads.Inc()
	c.wordsRead.Add(float64(words))
}
