// Package resampling aligns heterogeneous, irregularly-arriving telemetry
// streams onto a fixed-period output schedule. Consumers subscribe by sending
// a ComponentMetricRequest; the dispatcher allocates one output channel per
// distinct request and forwards aligned samples at each tick.
package resampling

import (
	"fmt"
	"time"
)

// Quantity is a single measured value. Metric-specific units are documented
// on the MetricID constants.
type Quantity float64

// Float returns the quantity as a plain float64.
func (q Quantity) Float() float64 { return float64(q) }

func (q Quantity) String() string { return fmt.Sprintf("%g", float64(q)) }

// A Sample is one point of a resampled stream. A nil Value represents a known
// gap: the resampling window containing Timestamp had no input. This is
// distinct from "no tick yet", which produces no Sample at all.
type Sample struct {
	Timestamp time.Time
	Value     *Quantity
}

// NewSample returns a sample carrying the given value.
func NewSample(ts time.Time, value float64) Sample {
	q := Quantity(value)
	return Sample{Timestamp: ts, Value: &q}
}

// GapSample returns a sample marking a known gap at the given instant.
func GapSample(ts time.Time) Sample {
	return Sample{Timestamp: ts}
}
