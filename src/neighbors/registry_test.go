package neighbors

import (
	"testing"
	"time"

	"github.com/meshnetworks/toll/src/common"
)

func initRegistry(t *testing.T) *Registry {
	return NewRegistry(common.NewTestEntry(t, "test"))
}

func TestTransitionLegality(t *testing.T) {
	legal := []struct {
		from, to State
	}{
		{Discovered, TunnelEstablished},
		{TunnelEstablished, Routing},
		{Routing, Suspended},
		{Suspended, Routing},
		{Routing, SettlementHold},
		{SettlementHold, Removed},
		{Removed, Discovered},
	}
	for _, tt := range legal {
		if !transitionAllowed(tt.from, tt.to) {
			t.Errorf("%s => %s should be legal", tt.from, tt.to)
		}
	}

	illegal := []struct {
		from, to State
	}{
		{Discovered, Routing},
		{Suspended, Removed},
		{SettlementHold, Suspended},
		{Removed, Routing},
	}
	for _, tt := range illegal {
		if transitionAllowed(tt.from, tt.to) {
			t.Errorf("%s => %s should be illegal", tt.from, tt.to)
		}
	}
}

func TestRegistryTransition(t *testing.T) {
	registry := initRegistry(t)

	now := time.Now()

	registry.Add(NewNeighbor("alice-key", "fd00::1", "0xaaaa"))

	if err := registry.Transition("alice-key", Routing, now); err == nil {
		t.Fatal("Discovered => Routing should be refused")
	}

	if err := registry.Transition("alice-key", TunnelEstablished, now); err != nil {
		t.Fatal(err)
	}
	if err := registry.Transition("alice-key", Routing, now); err != nil {
		t.Fatal(err)
	}

	n, ok := registry.Get("alice-key")
	if !ok {
		t.Fatal("alice not found")
	}
	if n.State != Routing {
		t.Fatalf("alice is %s, expected Routing", n.State)
	}
}

func TestObserveRevivesRemoved(t *testing.T) {
	registry := initRegistry(t)

	now := time.Now()

	alice := NewNeighbor("alice-key", "fd00::1", "0xaaaa")
	alice.State = Removed
	registry.Add(alice)

	registry.Observe("alice-key", now)

	n, _ := registry.Get("alice-key")
	if n.State != Discovered {
		t.Fatalf("reappearing neighbor is %s, expected Discovered", n.State)
	}
	if !n.LastSeen.Equal(now) {
		t.Fatalf("LastSeen %v, expected %v", n.LastSeen, now)
	}
}

func TestSetTunnel(t *testing.T) {
	registry := initRegistry(t)

	now := time.Now()

	registry.Add(NewNeighbor("alice-key", "fd00::1", "0xaaaa"))

	registry.SetTunnel("alice-key", true, now)

	n, _ := registry.Get("alice-key")
	if n.State != TunnelEstablished || !n.TunnelUp {
		t.Fatalf("after handshake alice is %s tunnel=%v", n.State, n.TunnelUp)
	}

	registry.SetTunnel("alice-key", false, now.Add(time.Minute))

	n, _ = registry.Get("alice-key")
	if n.State != Discovered || n.TunnelUp {
		t.Fatalf("after tunnel loss alice is %s tunnel=%v", n.State, n.TunnelUp)
	}
}

func TestKeyByMeshIP(t *testing.T) {
	registry := initRegistry(t)

	registry.Add(NewNeighbor("alice-key", "fd00::1", "0xaaaa"))
	registry.Add(NewNeighbor("bob-key", "fd00::2", "0xbbbb"))

	key, ok := registry.KeyByMeshIP("fd00::2")
	if !ok || key != "bob-key" {
		t.Fatalf("fd00::2 resolved to %q,%v", key, ok)
	}

	if _, ok := registry.KeyByMeshIP("fd00::99"); ok {
		t.Fatal("unknown mesh IP resolved")
	}
}

func TestSnapshotReturnsCopies(t *testing.T) {
	registry := initRegistry(t)

	registry.Add(NewNeighbor("alice-key", "fd00::1", "0xaaaa"))

	snapshot := registry.Snapshot()
	if len(snapshot) != 1 {
		t.Fatalf("snapshot has %d records, expected 1", len(snapshot))
	}

	// Mutating the copy must not leak into the registry.
	snapshot[0].State = Routing

	n, _ := registry.Get("alice-key")
	if n.State != Discovered {
		t.Fatal("snapshot copy mutation leaked into the registry")
	}
}
