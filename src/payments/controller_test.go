package payments

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/meshnetworks/toll/src/common"
	"github.com/meshnetworks/toll/src/ledger"
	"github.com/meshnetworks/toll/src/meter"
)

func initKeeper(t *testing.T) *ledger.Keeper {
	conf := ledger.KeeperConfig{
		PayThreshold:    big.NewInt(1000000),
		MaxPayment:      big.NewInt(1500000),
		CreditLimit:     big.NewInt(5000000),
		ResumeThreshold: big.NewInt(1000000),
		DebtGrace:       2 * time.Minute,
	}

	k, err := ledger.NewKeeper(
		ledger.NewInmemStore(),
		ledger.NewRelayPolicy(50, 0),
		conf,
		common.NewTestEntry(t, "test"))
	if err != nil {
		t.Fatal(err)
	}
	return k
}

func owe(t *testing.T, k *ledger.Keeper, key string, amount uint64) *ledger.Obligation {
	s := meter.TrafficSample{Key: key, Bytes: amount, Direction: meter.Out}
	if err := k.ApplyTraffic(s, 1, time.Now()); err != nil {
		t.Fatal(err)
	}
	o, err := k.OpenObligation(key, "0x"+key, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func TestControllerConfirm(t *testing.T) {
	k := initKeeper(t)
	channel := NewInmemChannel()
	ctrl := NewController(channel, k, time.Second, common.NewTestEntry(t, "test"))

	o := owe(t, k, "alice", 1200000)

	if err := ctrl.Submit(o); err != nil {
		t.Fatal(err)
	}
	ctrl.Wait()

	payments := channel.Payments()
	if len(payments) != 1 {
		t.Fatalf("should have 1 payment, not %d", len(payments))
	}
	if payments[0].To != "0xalice" {
		t.Fatalf("payment should go to 0xalice, not %s", payments[0].To)
	}
	if payments[0].Amount.Cmp(o.Amount) != 0 {
		t.Fatalf("payment amount should be %s, not %s",
			o.Amount.Text(10), payments[0].Amount.Text(10))
	}

	d, err := k.Balance("alice")
	if err != nil {
		t.Fatal(err)
	}
	// 1,200,000 owed, paid in full
	if d.Balance.Sign() != 0 {
		t.Fatalf("balance should be 0, not %s", d.Balance.Text(10))
	}
	if k.PendingObligation("alice") != nil {
		t.Fatalf("no obligation should be in flight")
	}
}

func TestControllerFailure(t *testing.T) {
	k := initKeeper(t)
	channel := NewInmemChannel()
	channel.FailPaymentsTo("0xalice", errors.New("insufficient funds"))
	ctrl := NewController(channel, k, time.Second, common.NewTestEntry(t, "test"))

	o := owe(t, k, "alice", 1200000)

	if err := ctrl.Submit(o); err != nil {
		t.Fatal(err)
	}
	ctrl.Wait()

	if len(channel.Payments()) != 0 {
		t.Fatalf("no payment should have been recorded")
	}

	d, err := k.Balance("alice")
	if err != nil {
		t.Fatal(err)
	}
	// the full debt is back after compensation
	if d.Balance.Cmp(big.NewInt(-1200000)) != 0 {
		t.Fatalf("balance should be -1200000, not %s", d.Balance.Text(10))
	}
	if ctrl.TimedOutCount() != 0 {
		t.Fatalf("timed out count should be 0, not %d", ctrl.TimedOutCount())
	}
}

func TestControllerTimeout(t *testing.T) {
	k := initKeeper(t)
	channel := NewInmemChannel()
	channel.DelayPaymentsTo("0xalice", 500*time.Millisecond)
	ctrl := NewController(channel, k, 50*time.Millisecond, common.NewTestEntry(t, "test"))

	o := owe(t, k, "alice", 1200000)

	if err := ctrl.Submit(o); err != nil {
		t.Fatal(err)
	}
	ctrl.Wait()

	if ctrl.TimedOutCount() != 1 {
		t.Fatalf("timed out count should be 1, not %d", ctrl.TimedOutCount())
	}

	d, err := k.Balance("alice")
	if err != nil {
		t.Fatal(err)
	}
	if d.Balance.Cmp(big.NewInt(-1200000)) != 0 {
		t.Fatalf("balance should be -1200000, not %s", d.Balance.Text(10))
	}

	// the late success must not be applied twice; wait for the delayed
	// payment to land and check the ledger is untouched
	time.Sleep(600 * time.Millisecond)

	d, err = k.Balance("alice")
	if err != nil {
		t.Fatal(err)
	}
	if d.Balance.Cmp(big.NewInt(-1200000)) != 0 {
		t.Fatalf("balance should still be -1200000, not %s", d.Balance.Text(10))
	}
}
