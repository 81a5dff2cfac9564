package neighbors

import (
	"io/ioutil"
	"os"
	"testing"
)

func TestJSONNeighborSet(t *testing.T) {
	dir, err := ioutil.TempDir("", "toll")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	neighborSet := NewJSONNeighborSet(dir)

	ns := []*Neighbor{
		NewNeighbor("alice-key", "fd00::1", "0xaaaa"),
		NewNeighbor("bob-key", "fd00::2", "0xbbbb"),
	}
	// runtime state must not survive a round trip
	ns[0].State = Routing

	if err := neighborSet.Write(ns); err != nil {
		t.Fatal(err)
	}

	read, err := neighborSet.Neighbors()
	if err != nil {
		t.Fatal(err)
	}

	if len(read) != 2 {
		t.Fatalf("read %d neighbors, expected 2", len(read))
	}
	for i := range ns {
		if read[i].WgPubKey != ns[i].WgPubKey ||
			read[i].MeshIP != ns[i].MeshIP ||
			read[i].EthAddr != ns[i].EthAddr {
			t.Fatalf("neighbor %d mismatch: %+v != %+v", i, read[i], ns[i])
		}
		if read[i].ID == 0 {
			t.Fatalf("neighbor %d has no ID", i)
		}
		if read[i].State != Discovered {
			t.Fatalf("neighbor %d loaded in state %s, expected Discovered", i, read[i].State)
		}
	}
}

func TestJSONNeighborSetMissingFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "toll")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	if _, err := NewJSONNeighborSet(dir).Neighbors(); !os.IsNotExist(err) {
		t.Fatalf("expected a not-exist error, got %v", err)
	}
}
