package engine

import (
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/meshnetworks/toll/src/babel"
	"github.com/meshnetworks/toll/src/config"
	"github.com/meshnetworks/toll/src/ledger"
	"github.com/meshnetworks/toll/src/meter"
	"github.com/meshnetworks/toll/src/neighbors"
	"github.com/meshnetworks/toll/src/payments"
	"github.com/meshnetworks/toll/src/usage"
)

// RouteSource is the slice of the babeld client the engine needs.
type RouteSource interface {
	Dump() ([]babel.Neighbour, []babel.Route, error)
	LocalFee() (uint64, error)
	SetLocalFee(fee uint64) error
}

// TunnelSource reports per-neighbor tunnel status.
type TunnelSource interface {
	Tunnels(now time.Time) (map[string]bool, error)
}

// Enforcer toggles kernel forwarding for a neighbor's mesh IP.
type Enforcer interface {
	EnableForwarding(meshIP string) error
	DisableForwarding(meshIP string) error
}

// Engine is the reconciliation core. Four periodic tasks drive it: refreshing
// the route-table snapshot, metering tunnel traffic into the ledger,
// reconciling neighbor lifecycle, and turning balances into payments and
// enforcement.
//
// The route snapshot is the engine's only view of prices. When it goes stale
// the engine degrades rather than guesses: metering of cost-dependent traffic
// stops, and no new obligations or suspensions are produced until fresh data
// arrives.
type Engine struct {
	state

	conf       *config.Config
	registry   *neighbors.Registry
	routes     RouteSource
	tunnels    TunnelSource
	enforcer   Enforcer
	meter      *meter.Meter
	keeper     *ledger.Keeper
	controller *payments.Controller
	tracker    *usage.Tracker

	// policy is the runtime-adjustable relay policy; nil in exit mode.
	policy *ledger.RelayPolicy

	babelLock sync.Mutex

	snapshotLock sync.RWMutex
	snapshot     *babel.Snapshot

	shutdownCh chan struct{}

	start  time.Time
	logger *logrus.Entry
}

// NewEngine ...
func NewEngine(
	conf *config.Config,
	registry *neighbors.Registry,
	routes RouteSource,
	tunnels TunnelSource,
	enforcer Enforcer,
	m *meter.Meter,
	keeper *ledger.Keeper,
	controller *payments.Controller,
	tracker *usage.Tracker,
	policy *ledger.RelayPolicy,
	logger *logrus.Entry,
) *Engine {
	return &Engine{
		conf:       conf,
		registry:   registry,
		routes:     routes,
		tunnels:    tunnels,
		enforcer:   enforcer,
		meter:      m,
		keeper:     keeper,
		controller: controller,
		tracker:    tracker,
		policy:     policy,
		shutdownCh: make(chan struct{}),
		start:      time.Now(),
		logger:     logger.WithField("prefix", "engine"),
	}
}

// RunAsync calls Run as a separate thread
func (e *Engine) RunAsync() {
	go e.Run()
}

// Run starts the periodic tasks and blocks until Shutdown.
func (e *Engine) Run() {
	// Take a first snapshot immediately so the engine does not start its
	// life degraded.
	e.routeTick(time.Now())

	e.goFunc(func() { e.loop(e.conf.RouteInterval, e.routeTick) })
	e.goFunc(func() { e.loop(e.conf.MeterInterval, e.meterTick) })
	e.goFunc(func() { e.loop(e.conf.EvalInterval, e.lifecycleTick) })
	e.goFunc(func() { e.loop(e.conf.SettleInterval, e.settleTick) })

	<-e.shutdownCh
}

func (e *Engine) loop(interval time.Duration, tick func(now time.Time)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			tick(now)
		case <-e.shutdownCh:
			return
		}
	}
}

// Shutdown stops the periodic tasks and waits for in-flight payments.
func (e *Engine) Shutdown() {
	if e.getState() != Shutdown {
		e.logger.Debug("Shutdown")

		e.setState(Shutdown)

		close(e.shutdownCh)

		e.waitRoutines()

		// in-flight payments resolve within the channel timeout
		e.controller.Wait()
	}
}

//==============================================================================
//Periodic tasks

// routeTick refreshes the route-table snapshot and records which neighbors
// are present in it.
func (e *Engine) routeTick(now time.Time) {
	e.babelLock.Lock()
	nbrs, routes, err := e.routes.Dump()
	e.babelLock.Unlock()

	if err != nil {
		// keep the old snapshot; it will go stale on its own and the
		// settlement task will stop trusting it
		e.logger.WithError(err).Warn("Route dump failed")
		return
	}

	snap := babel.NewSnapshot(routes, e.conf.MaxFee, e.conf.RouteInterval, now)

	for _, ip := range snap.MeshIPs() {
		if key, ok := e.registry.KeyByMeshIP(ip); ok {
			e.registry.Observe(key, now)
		}
	}

	e.snapshotLock.Lock()
	e.snapshot = snap
	e.snapshotLock.Unlock()

	if e.getState() == Degraded {
		e.logger.Info("Route data fresh again")
		e.setState(Running)
	}

	e.logger.WithFields(logrus.Fields{
		"neighbours": len(nbrs),
		"routes":     len(routes),
		"priced":     len(snap.Prices),
	}).Debug("Refreshed route snapshot")
}

// meterTick reads the tunnel counters and feeds the deltas into the ledger.
func (e *Engine) meterTick(now time.Time) {
	active := func(key string) bool {
		n, ok := e.registry.Get(key)
		return ok && n.State == neighbors.Routing
	}

	samples, err := e.meter.Sample(now, active)
	if err != nil {
		e.logger.WithError(err).Warn("Counter read failed, traffic deferred to next tick")
		return
	}

	snap := e.currentSnapshot()
	stale := snap.Stale(now)

	for _, s := range samples {
		n, ok := e.registry.Get(s.Key)
		if !ok {
			continue
		}

		price, priced := snap.Price(n.MeshIP)

		if s.Direction == meter.Out && stale {
			// without a fresh price the cost basis is unknown; dropping the
			// sample can only undercharge ourselves
			e.logger.WithFields(logrus.Fields{
				"neighbor": s.Key,
				"bytes":    s.Bytes,
			}).Warn("Dropping outbound sample, route data stale")
			continue
		}
		if s.Direction == meter.Out && !priced {
			price = 0
		}

		if err := e.keeper.ApplyTraffic(s, price, now); err != nil {
			e.logger.WithField("neighbor", s.Key).WithError(err).
				Error("Failed to persist traffic delta")
			continue
		}

		e.tracker.Record(s, price, now)
	}
}

// settleTick turns balances into payments and enforcement. It refuses to act
// on stale route data.
func (e *Engine) settleTick(now time.Time) {
	snap := e.currentSnapshot()
	if snap.Stale(now) {
		if e.getState() == Running {
			e.logger.Warn("Route data stale, withholding payments and suspensions")
			e.setState(Degraded)
		}
		return
	}

	for _, n := range e.registry.Snapshot() {
		if n.State != neighbors.Routing && n.State != neighbors.Suspended {
			continue
		}

		v, err := e.keeper.Evaluate(n.WgPubKey, now)
		if err != nil {
			e.logger.WithField("neighbor", n.WgPubKey).WithError(err).
				Error("Evaluation failed")
			continue
		}

		switch v.Action {
		case ledger.ActionPay:
			e.pay(&n, now)
		case ledger.ActionSuspend:
			e.suspend(&n, now)
		case ledger.ActionResume:
			e.resume(&n, now)
		}
	}
}

func (e *Engine) pay(n *neighbors.Neighbor, now time.Time) {
	if n.EthAddr == "" {
		e.logger.WithField("neighbor", n.WgPubKey).
			Warn("Payment due but no payment address provisioned")
		return
	}

	o, err := e.keeper.OpenObligation(n.WgPubKey, n.EthAddr, now)
	if err != nil {
		e.logger.WithField("neighbor", n.WgPubKey).WithError(err).
			Error("Failed to open obligation")
		return
	}

	if err := e.controller.Submit(o); err != nil {
		e.logger.WithField("obligation", o.ID).WithError(err).
			Error("Failed to submit obligation")
	}
}

func (e *Engine) suspend(n *neighbors.Neighbor, now time.Time) {
	e.logger.WithField("neighbor", n.WgPubKey).Info("Suspending for nonpayment")

	if err := e.enforcer.DisableForwarding(n.MeshIP); err != nil {
		e.logger.WithField("neighbor", n.WgPubKey).WithError(err).
			Error("Failed to disable forwarding")
	}

	if err := e.registry.Transition(n.WgPubKey, neighbors.Suspended, now); err != nil {
		e.logger.WithError(err).Error("Suspend transition failed")
	}
}

func (e *Engine) resume(n *neighbors.Neighbor, now time.Time) {
	e.logger.WithField("neighbor", n.WgPubKey).Info("Resuming, debt settled")

	if err := e.enforcer.EnableForwarding(n.MeshIP); err != nil {
		e.logger.WithField("neighbor", n.WgPubKey).WithError(err).
			Error("Failed to enable forwarding")
	}

	if err := e.registry.Transition(n.WgPubKey, neighbors.Routing, now); err != nil {
		e.logger.WithError(err).Error("Resume transition failed")
	}
}

func (e *Engine) currentSnapshot() *babel.Snapshot {
	e.snapshotLock.RLock()
	defer e.snapshotLock.RUnlock()
	return e.snapshot
}

//==============================================================================
//Operator surface

// LocalFee returns the per-byte fee babeld currently advertises.
func (e *Engine) LocalFee() (uint64, error) {
	e.babelLock.Lock()
	defer e.babelLock.Unlock()
	return e.routes.LocalFee()
}

// SetLocalFee updates both the fee babeld advertises and the fee future
// inbound traffic is billed at.
func (e *Engine) SetLocalFee(fee uint64) error {
	if fee == 0 {
		e.logger.Warn("Setting a zero local fee, neighbors will use this node for free")
	}

	e.babelLock.Lock()
	err := e.routes.SetLocalFee(fee)
	e.babelLock.Unlock()
	if err != nil {
		return err
	}

	if e.policy != nil {
		e.policy.SetFee(fee)
	}

	e.logger.WithField("fee", fee).Info("Local fee updated")

	return nil
}

// Neighbors returns copies of all neighbor records.
func (e *Engine) Neighbors() []neighbors.Neighbor {
	return e.registry.Snapshot()
}

// Debts returns copies of all debt entries.
func (e *Engine) Debts() []*ledger.DebtEntry {
	return e.keeper.AllDebts()
}

// Debt returns one neighbor's debt entry.
func (e *Engine) Debt(key string) (*ledger.DebtEntry, error) {
	return e.keeper.Balance(key)
}

// Forgive zeroes a neighbor's balance.
func (e *Engine) Forgive(key string) error {
	return e.keeper.Forgive(key, time.Now())
}

// Usage returns the closed usage rounds after skipIndex.
func (e *Engine) Usage(skipIndex int) ([]usage.Round, error) {
	return e.tracker.Window(skipIndex)
}

// CurrentUsage returns the open usage round.
func (e *Engine) CurrentUsage() *usage.Round {
	return e.tracker.Current()
}

// GetStats returns stats
func (e *Engine) GetStats() map[string]string {
	now := time.Now()
	snap := e.currentSnapshot()

	snapshotAge := "never"
	if snap != nil {
		snapshotAge = now.Sub(snap.TakenAt).String()
	}

	var routing, suspended, pending int
	owedToUs := new(big.Int)
	weOwe := new(big.Int)

	for _, n := range e.registry.Snapshot() {
		switch n.State {
		case neighbors.Routing:
			routing++
		case neighbors.Suspended:
			suspended++
		}
		if e.keeper.PendingObligation(n.WgPubKey) != nil {
			pending++
		}
	}

	for _, d := range e.keeper.AllDebts() {
		if d.Balance.Sign() > 0 {
			owedToUs.Add(owedToUs, d.Balance)
		} else {
			weOwe.Sub(weOwe, d.Balance)
		}
	}

	s := map[string]string{
		"state":               e.getState().String(),
		"moniker":             e.conf.Moniker,
		"uptime":              time.Since(e.start).String(),
		"neighbors":           strconv.Itoa(len(e.registry.Keys())),
		"routing":             strconv.Itoa(routing),
		"suspended":           strconv.Itoa(suspended),
		"pending_obligations": strconv.Itoa(pending),
		"payments_timed_out":  strconv.Itoa(e.controller.TimedOutCount()),
		"route_snapshot_age":  snapshotAge,
		"route_data_stale":    fmt.Sprint(snap.Stale(now)),
		"owed_to_us":          owedToUs.Text(10),
		"we_owe":              weOwe.Text(10),
		"exit_mode":           fmt.Sprint(e.conf.ExitMode),
	}
	return s
}
