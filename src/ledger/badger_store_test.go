package ledger

import (
	"io/ioutil"
	"log"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/meshnetworks/toll/src/common"
)

func initBadgerStore(t *testing.T) *BadgerStore {
	os.RemoveAll("test_data")
	os.Mkdir("test_data", os.ModeDir|0777)
	dir, err := ioutil.TempDir("test_data", "badger")
	if err != nil {
		log.Fatal(err)
	}

	store, err := NewBadgerStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	return store
}

func removeBadgerStore(store *BadgerStore, t *testing.T) {
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(store.path); err != nil {
		t.Fatal(err)
	}
}

func TestBadgerDebtRoundTrip(t *testing.T) {
	store := initBadgerStore(t)
	defer removeBadgerStore(store, t)

	d := NewDebtEntry("alice")
	d.Balance = big.NewInt(-123456)
	d.Carry = big.NewInt(7)
	d.LastTraffic = time.Now().Round(0)

	if err := store.SetDebt(d); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetDebt("alice")
	if err != nil {
		t.Fatal(err)
	}
	if got.Balance.Cmp(d.Balance) != 0 {
		t.Fatalf("balance should be %s, not %s", d.Balance.Text(10), got.Balance.Text(10))
	}
	if got.Carry.Cmp(d.Carry) != 0 {
		t.Fatalf("carry should be %s, not %s", d.Carry.Text(10), got.Carry.Text(10))
	}

	if _, err := store.GetDebt("bob"); !common.IsStore(err, common.KeyNotFound) {
		t.Fatalf("should get KeyNotFound for bob, got %v", err)
	}
}

func TestBadgerReload(t *testing.T) {
	store := initBadgerStore(t)
	path := store.path
	defer os.RemoveAll(path)

	now := time.Now().Round(0)

	d := NewDebtEntry("alice")
	d.Balance = big.NewInt(-2000000)

	o := NewObligation("alice", "0xaa", big.NewInt(1500000), now)
	o.State = ObligationPending

	// optimistic removal happens before persisting
	d.Balance.Add(d.Balance, o.Amount)

	if err := store.CreateObligation(d, o); err != nil {
		t.Fatal(err)
	}
	if err := store.SetObligation(o); err != nil {
		t.Fatal(err)
	}

	confirmed := NewObligation("bob", "0xbb", big.NewInt(100), now)
	confirmed.State = ObligationConfirmed
	confirmed.Consumed = true
	if err := store.ResolveObligation(NewDebtEntry("bob"), confirmed); err != nil {
		t.Fatal(err)
	}

	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadBadgerStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer loaded.Close()

	got, err := loaded.GetDebt("alice")
	if err != nil {
		t.Fatal(err)
	}
	if got.Balance.Cmp(big.NewInt(-500000)) != 0 {
		t.Fatalf("balance should be -500000, not %s", got.Balance.Text(10))
	}

	unresolved, err := loaded.UnresolvedObligations()
	if err != nil {
		t.Fatal(err)
	}
	if len(unresolved) != 1 {
		t.Fatalf("should have 1 unresolved obligation, not %d", len(unresolved))
	}
	if unresolved[0].ID != o.ID {
		t.Fatalf("unresolved obligation should be %s, not %s", o.ID, unresolved[0].ID)
	}
	if unresolved[0].State != ObligationPending {
		t.Fatalf("unresolved obligation should be Pending, not %s",
			unresolved[0].State.String())
	}

	// consumed obligations are still readable from disk
	gotConfirmed, err := loaded.GetObligation(confirmed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if gotConfirmed.State != ObligationConfirmed {
		t.Fatalf("obligation should be Confirmed, not %s", gotConfirmed.State.String())
	}
}

// A keeper rebuilt from a reloaded store must compensate obligations that
// were in flight at crash time.
func TestBadgerKeeperRecovery(t *testing.T) {
	store := initBadgerStore(t)
	path := store.path
	defer os.RemoveAll(path)

	conf := testConfig()
	policy := NewRelayPolicy(50, 0)
	now := time.Now()

	k, err := NewKeeper(store, policy, conf, common.NewTestEntry(t, "test"))
	if err != nil {
		t.Fatal(err)
	}
	if err := k.ApplyTraffic(outSample("alice", 1000000), 2, now); err != nil {
		t.Fatal(err)
	}
	o, err := k.OpenObligation("alice", "0xaa", now)
	if err != nil {
		t.Fatal(err)
	}
	if err := k.MarkObligationPending(o.ID); err != nil {
		t.Fatal(err)
	}

	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadBadgerStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer loaded.Close()

	k2, err := NewKeeper(loaded, policy, conf, common.NewTestEntry(t, "test"))
	if err != nil {
		t.Fatal(err)
	}

	d, err := k2.Balance("alice")
	if err != nil {
		t.Fatal(err)
	}
	if d.Balance.Cmp(big.NewInt(-2000000)) != 0 {
		t.Fatalf("recovered balance should be -2000000, not %s", d.Balance.Text(10))
	}

	unresolved, err := loaded.UnresolvedObligations()
	if err != nil {
		t.Fatal(err)
	}
	if len(unresolved) != 0 {
		t.Fatalf("should have no unresolved obligations, not %d", len(unresolved))
	}
}
