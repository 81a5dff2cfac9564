package usage

import (
	"testing"
	"time"

	"github.com/meshnetworks/toll/src/meter"
)

func TestTrackerAggregation(t *testing.T) {
	tracker := NewTracker(10, time.Hour)
	now := time.Now()

	tracker.Record(meter.TrafficSample{Key: "alice", Bytes: 100, Direction: meter.In}, 10, now)
	tracker.Record(meter.TrafficSample{Key: "bob", Bytes: 200, Direction: meter.Out}, 30, now)

	c := tracker.Current()
	if c == nil {
		t.Fatal("current round should exist")
	}
	if c.Down != 100 {
		t.Fatalf("down should be 100, not %d", c.Down)
	}
	if c.Up != 200 {
		t.Fatalf("up should be 200, not %d", c.Up)
	}
	if c.AvgPrice() != 20 {
		t.Fatalf("avg price should be 20, not %d", c.AvgPrice())
	}
}

func TestTrackerRounds(t *testing.T) {
	tracker := NewTracker(10, time.Hour)
	now := time.Now()

	tracker.Record(meter.TrafficSample{Key: "alice", Bytes: 100, Direction: meter.In}, 10, now)
	// second sample lands in a new round
	tracker.Record(meter.TrafficSample{Key: "alice", Bytes: 50, Direction: meter.In}, 10, now.Add(2*time.Hour))

	closed, err := tracker.Window(-1)
	if err != nil {
		t.Fatal(err)
	}
	if len(closed) != 1 {
		t.Fatalf("should have 1 closed round, not %d", len(closed))
	}
	if closed[0].Down != 100 {
		t.Fatalf("closed round down should be 100, not %d", closed[0].Down)
	}

	c := tracker.Current()
	if c.Index != 1 {
		t.Fatalf("current round index should be 1, not %d", c.Index)
	}
	if c.Down != 50 {
		t.Fatalf("current round down should be 50, not %d", c.Down)
	}
}

func TestTrackerWindowRollsOff(t *testing.T) {
	tracker := NewTracker(2, time.Hour)
	now := time.Now()

	for i := 0; i < 6; i++ {
		tracker.Record(
			meter.TrafficSample{Key: "alice", Bytes: 1, Direction: meter.In},
			1,
			now.Add(time.Duration(i)*2*time.Hour))
	}

	// 5 closed rounds with size 2: the oldest should have rolled off
	if _, err := tracker.Window(-1); err == nil {
		t.Fatal("window should report rolled off rounds")
	}

	closed, err := tracker.Window(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(closed) != 3 {
		t.Fatalf("should have 3 rounds after index 1, not %d", len(closed))
	}
}
