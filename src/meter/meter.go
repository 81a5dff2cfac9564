package meter

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Direction tags which way the bytes of a TrafficSample travelled.
type Direction uint8

const (
	// In counts bytes received from the neighbor over the tunnel: traffic we
	// forward on their behalf, billed at our local fee.
	In Direction = iota
	// Out counts bytes we handed to the neighbor: traffic they forward on our
	// behalf, billed at their advertised price.
	Out
)

// String ...
func (d Direction) String() string {
	if d == In {
		return "in"
	}
	return "out"
}

// Usage is a pair of cumulative byte counters for one neighbor, as reported
// by the kernel. Monotonic except for resets on interface restart.
type Usage struct {
	Rx uint64
	Tx uint64
}

// TrafficSample is one interval's worth of traffic for one neighbor in one
// direction. Samples are immutable and consumed exactly once by the ledger.
type TrafficSample struct {
	Key       string
	Bytes     uint64
	Direction Direction
	Start     time.Time
	End       time.Time
}

// CounterSource reads the kernel's cumulative per-neighbor byte counters.
type CounterSource interface {
	Counters() (map[string]Usage, error)
}

// Meter converts cumulative kernel counters into per-interval traffic
// samples. Each byte is counted exactly once: the meter remembers the last
// seen counters and emits only deltas, treating a decreasing counter as a
// reset to zero rather than a negative delta.
type Meter struct {
	source  CounterSource
	history map[string]Usage
	last    time.Time
	logger  *logrus.Entry
}

// NewMeter ...
func NewMeter(source CounterSource, logger *logrus.Entry) *Meter {
	return &Meter{
		source:  source,
		history: make(map[string]Usage),
		logger:  logger.WithField("prefix", "meter"),
	}
}

// Sample reads the counters and returns the samples accrued since the last
// tick. The active filter gates which neighbor keys are metered; a nil filter
// meters everything. On a read failure no sample is produced and the history
// is left untouched, so the traffic is picked up by the next successful tick.
func (m *Meter) Sample(now time.Time, active func(key string) bool) ([]TrafficSample, error) {
	counters, err := m.source.Counters()
	if err != nil {
		return nil, err
	}

	start := m.last
	if start.IsZero() {
		start = now
	}

	var samples []TrafficSample

	for key, cur := range counters {
		hist, seen := m.history[key]

		if !seen {
			// First observation. Start the counter off at the current value
			// so pre-existing traffic is not billed.
			m.logger.WithFields(logrus.Fields{
				"neighbor": key,
				"rx":       cur.Rx,
				"tx":       cur.Tx,
			}).Debug("First counter observation")
			m.history[key] = cur
			continue
		}

		if active != nil && !active(key) {
			// Inactive neighbors still have their history advanced so that
			// traffic from a gated period is never billed retroactively.
			m.history[key] = cur
			continue
		}

		rxDelta := delta(cur.Rx, hist.Rx)
		txDelta := delta(cur.Tx, hist.Tx)

		if rxDelta > 0 {
			samples = append(samples, TrafficSample{
				Key:       key,
				Bytes:     rxDelta,
				Direction: In,
				Start:     start,
				End:       now,
			})
		}
		if txDelta > 0 {
			samples = append(samples, TrafficSample{
				Key:       key,
				Bytes:     txDelta,
				Direction: Out,
				Start:     start,
				End:       now,
			})
		}

		m.history[key] = cur
	}

	m.last = now

	return samples, nil
}

// delta computes cur-prev, treating a decreasing counter as a reset to zero.
func delta(cur, prev uint64) uint64 {
	if cur < prev {
		return cur
	}
	return cur - prev
}
