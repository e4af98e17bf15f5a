package monitoring

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes engine ingest metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	Samples      *prometheus.CounterVec
	Discarded    *prometheus.CounterVec
	Calibrations prometheus.Counter
	FrontHeight  prometheus.Gauge
	SideHeight   prometheus.Gauge
}

// NewCollector registers the metrics against reg (the default registerer when nil).
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	samples, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "levelsense_samples_total",
		Help: "Motion samples received, by kind.",
	}, []string{"kind"}), "levelsense_samples_total")
	if err != nil {
		return nil, err
	}

	discarded, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "levelsense_samples_discarded_total",
		Help: "Motion samples dropped without updating attitude, by kind and reason.",
	}, []string{"kind", "reason"}), "levelsense_samples_discarded_total")
	if err != nil {
		return nil, err
	}

	cals, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "levelsense_calibrations_total",
		Help: "Calibration baselines captured.",
	}), "levelsense_calibrations_total")
	if err != nil {
		return nil, err
	}

	front, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "levelsense_front_height_inches",
		Help: "Latest calibrated front height offset.",
	}), "levelsense_front_height_inches")
	if err != nil {
		return nil, err
	}

	side, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "levelsense_side_height_inches",
		Help: "Latest calibrated side height offset.",
	}), "levelsense_side_height_inches")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:     gatherer,
		Samples:      samples,
		Discarded:    discarded,
		Calibrations: cals,
		FrontHeight:  front,
		SideHeight:   side,
	}, nil
}

// Gatherer returns the gatherer the collector was registered with.
func (c *Collector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

func (c *Collector) ObserveSample(kind string) {
	if c == nil {
		return
	}
	c.Samples.WithLabelValues(kind).Inc()
}

func (c *Collector) ObserveDiscard(kind, reason string) {
	if c == nil {
		return
	}
	c.Discarded.WithLabelValues(kind, reason).Inc()
}

func (c *Collector) IncCalibrations() {
	if c == nil {
		return
	}
	c.Calibrations.Inc()
}

func (c *Collector) SetHeights(front, side float64) {
	if c == nil {
		return
	}
	c.FrontHeight.Set(front)
	c.SideHeight.Set(side)
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
