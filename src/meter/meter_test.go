package meter

import (
	"fmt"
	"testing"
	"time"

	"github.com/meshnetworks/toll/src/common"
)

type fakeSource struct {
	counters map[string]Usage
	err      error
}

func (s *fakeSource) Counters() (map[string]Usage, error) {
	if s.err != nil {
		return nil, s.err
	}
	res := make(map[string]Usage, len(s.counters))
	for k, v := range s.counters {
		res[k] = v
	}
	return res, nil
}

func initMeter(t *testing.T) (*Meter, *fakeSource) {
	source := &fakeSource{counters: make(map[string]Usage)}
	return NewMeter(source, common.NewTestEntry(t, "test")), source
}

func sampleFor(samples []TrafficSample, key string, dir Direction) (TrafficSample, bool) {
	for _, s := range samples {
		if s.Key == key && s.Direction == dir {
			return s, true
		}
	}
	return TrafficSample{}, false
}

func TestFirstObservationNotBilled(t *testing.T) {
	m, source := initMeter(t)

	now := time.Now()

	// A neighbor arrives with pre-existing counters. None of it is ours to
	// bill.
	source.counters["alice"] = Usage{Rx: 5000, Tx: 3000}

	samples, err := m.Sample(now, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != 0 {
		t.Fatalf("first observation produced %d samples, expected 0", len(samples))
	}

	// From the second tick on, only the delta is billed.
	source.counters["alice"] = Usage{Rx: 5100, Tx: 3250}

	samples, err = m.Sample(now.Add(10*time.Second), nil)
	if err != nil {
		t.Fatal(err)
	}

	in, ok := sampleFor(samples, "alice", In)
	if !ok {
		t.Fatal("no In sample for alice")
	}
	if in.Bytes != 100 {
		t.Fatalf("In sample carries %d bytes, expected 100", in.Bytes)
	}

	out, ok := sampleFor(samples, "alice", Out)
	if !ok {
		t.Fatal("no Out sample for alice")
	}
	if out.Bytes != 250 {
		t.Fatalf("Out sample carries %d bytes, expected 250", out.Bytes)
	}
}

func TestEachByteCountedOnce(t *testing.T) {
	m, source := initMeter(t)

	now := time.Now()

	source.counters["alice"] = Usage{}
	if _, err := m.Sample(now, nil); err != nil {
		t.Fatal(err)
	}

	var total uint64
	for i := 1; i <= 5; i++ {
		source.counters["alice"] = Usage{Rx: uint64(i) * 1000}

		samples, err := m.Sample(now.Add(time.Duration(i)*time.Second), nil)
		if err != nil {
			t.Fatal(err)
		}

		for _, s := range samples {
			total += s.Bytes
		}
	}

	if total != 5000 {
		t.Fatalf("billed %d bytes over 5 ticks, expected exactly 5000", total)
	}
}

func TestCounterReset(t *testing.T) {
	m, source := initMeter(t)

	now := time.Now()

	source.counters["alice"] = Usage{Rx: 9000}
	if _, err := m.Sample(now, nil); err != nil {
		t.Fatal(err)
	}

	// The interface restarted; counters dropped back to near zero. The new
	// value is the delta, never a negative or a wrap-around.
	source.counters["alice"] = Usage{Rx: 300}

	samples, err := m.Sample(now.Add(10*time.Second), nil)
	if err != nil {
		t.Fatal(err)
	}

	in, ok := sampleFor(samples, "alice", In)
	if !ok {
		t.Fatal("no In sample after reset")
	}
	if in.Bytes != 300 {
		t.Fatalf("reset produced a %d byte sample, expected 300", in.Bytes)
	}
}

func TestInactiveNeighborNotBilled(t *testing.T) {
	m, source := initMeter(t)

	now := time.Now()

	source.counters["alice"] = Usage{}
	if _, err := m.Sample(now, nil); err != nil {
		t.Fatal(err)
	}

	// Traffic accrues while alice is gated.
	source.counters["alice"] = Usage{Rx: 1000}

	samples, err := m.Sample(now.Add(10*time.Second), func(string) bool { return false })
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != 0 {
		t.Fatalf("gated neighbor produced %d samples", len(samples))
	}

	// When the gate opens again, the gated period's traffic must not be billed
	// retroactively.
	source.counters["alice"] = Usage{Rx: 1200}

	samples, err = m.Sample(now.Add(20*time.Second), nil)
	if err != nil {
		t.Fatal(err)
	}

	in, ok := sampleFor(samples, "alice", In)
	if !ok {
		t.Fatal("no In sample after gate opened")
	}
	if in.Bytes != 200 {
		t.Fatalf("billed %d bytes, expected only the 200 post-gate bytes", in.Bytes)
	}
}

func TestReadFailureDefersTraffic(t *testing.T) {
	m, source := initMeter(t)

	now := time.Now()

	source.counters["alice"] = Usage{}
	if _, err := m.Sample(now, nil); err != nil {
		t.Fatal(err)
	}

	source.counters["alice"] = Usage{Rx: 500}
	source.err = fmt.Errorf("wg: resource temporarily unavailable")

	if _, err := m.Sample(now.Add(10*time.Second), nil); err == nil {
		t.Fatal("expected an error from a failed counter read")
	}

	// The failed tick must not advance history; the next good tick picks the
	// traffic up.
	source.err = nil
	source.counters["alice"] = Usage{Rx: 800}

	samples, err := m.Sample(now.Add(20*time.Second), nil)
	if err != nil {
		t.Fatal(err)
	}

	in, ok := sampleFor(samples, "alice", In)
	if !ok {
		t.Fatal("no In sample after recovery")
	}
	if in.Bytes != 800 {
		t.Fatalf("billed %d bytes after recovery, expected 800", in.Bytes)
	}
}
