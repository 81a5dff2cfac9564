package usage

import (
	"sync"
	"time"

	"github.com/meshnetworks/toll/src/common"
	"github.com/meshnetworks/toll/src/meter"
)

// Round aggregates traffic over one accounting period.
type Round struct {
	Index int
	Start time.Time
	// Up is bytes handed to neighbors for forwarding, Down is bytes received
	// from them.
	Up   uint64
	Down uint64
	// PriceSum and Samples yield the average route price seen during the
	// round.
	PriceSum uint64
	Samples  uint64
}

// AvgPrice returns the average route price of the round's samples.
func (r *Round) AvgPrice() uint64 {
	if r.Samples == 0 {
		return 0
	}
	return r.PriceSum / r.Samples
}

// Tracker keeps a rolling window of usage rounds so operators can see how
// much traffic the node moved and at what prices, without unbounded growth.
type Tracker struct {
	sync.Mutex

	rounds   *common.RollingIndex
	current  *Round
	duration time.Duration
}

// NewTracker creates a Tracker that closes a round every duration and retains
// on the order of 2*size closed rounds.
func NewTracker(size int, duration time.Duration) *Tracker {
	return &Tracker{
		rounds:   common.NewRollingIndex("Round", size),
		duration: duration,
	}
}

// Record adds one traffic sample to the current round, closing it first if
// its period has elapsed.
func (t *Tracker) Record(s meter.TrafficSample, price uint64, now time.Time) {
	t.Lock()
	defer t.Unlock()

	if t.current == nil {
		t.current = &Round{Start: now}
	} else if now.Sub(t.current.Start) >= t.duration {
		t.closeCurrent(now)
	}

	switch s.Direction {
	case meter.In:
		t.current.Down += s.Bytes
	case meter.Out:
		t.current.Up += s.Bytes
	}
	t.current.PriceSum += price
	t.current.Samples++
}

// closeCurrent pushes the current round into the window and starts a new one.
// Caller holds the lock.
func (t *Tracker) closeCurrent(now time.Time) {
	t.rounds.Set(*t.current, t.current.Index)
	t.current = &Round{
		Index: t.current.Index + 1,
		Start: now,
	}
}

// Current returns a copy of the open round, or nil if nothing has been
// recorded yet.
func (t *Tracker) Current() *Round {
	t.Lock()
	defer t.Unlock()

	if t.current == nil {
		return nil
	}
	c := *t.current
	return &c
}

// Window returns the closed rounds with index strictly greater than
// skipIndex.
func (t *Tracker) Window(skipIndex int) ([]Round, error) {
	t.Lock()
	defer t.Unlock()

	items, err := t.rounds.Get(skipIndex)
	if err != nil {
		return nil, err
	}

	res := make([]Round, len(items))
	for i, item := range items {
		res[i] = item.(Round)
	}
	return res, nil
}
