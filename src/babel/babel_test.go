package babel

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/meshnetworks/toll/src/common"
)

// fakeBabeld is a scripted babeld control socket. It serves the preamble on
// connect, then answers dump and fee commands.
func fakeBabeld(t *testing.T, dumpLines []string) net.Listener {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		conn.Write([]byte("BABEL 1.0\nversion babeld-1.9-price\nlocal fee 42\nok\n"))

		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}

			switch {
			case strings.TrimSpace(line) == "dump":
				for _, l := range dumpLines {
					conn.Write([]byte(l + "\n"))
				}
				conn.Write([]byte("ok\n"))
			case strings.HasPrefix(line, "fee "):
				conn.Write([]byte("ok\n"))
			default:
				conn.Write([]byte("bad\n"))
			}
		}
	}()

	return listener
}

func initClient(t *testing.T, dumpLines []string) (*Client, net.Listener) {
	listener := fakeBabeld(t, dumpLines)

	client := NewClient(listener.Addr().String(), time.Second, common.NewTestEntry(t, "test"))
	if err := client.Connect(); err != nil {
		t.Fatal(err)
	}

	return client, listener
}

func TestLocalFeeFromPreamble(t *testing.T) {
	client, listener := initClient(t, nil)
	defer listener.Close()
	defer client.Close()

	fee, err := client.LocalFee()
	if err != nil {
		t.Fatal(err)
	}
	if fee != 42 {
		t.Fatalf("preamble fee is %d, expected 42", fee)
	}
}

func TestSetLocalFee(t *testing.T) {
	client, listener := initClient(t, nil)
	defer listener.Close()
	defer client.Close()

	if err := client.SetLocalFee(75); err != nil {
		t.Fatal(err)
	}

	fee, err := client.LocalFee()
	if err != nil {
		t.Fatal(err)
	}
	if fee != 75 {
		t.Fatalf("fee is %d after SetLocalFee, expected 75", fee)
	}
}

func TestDump(t *testing.T) {
	dumpLines := []string{
		"add neighbour 14f19a8 address fe80::1 if wg0 reach ffff rxcost 96 txcost 96 cost 96",
		"add route 7f315 prefix fd00::1/128 from ::/0 installed yes id ba:be:1d metric 96 price 25 refmetric 0 via fe80::1 if wg0",
		"add route 7f316 prefix fd00::/8 from ::/0 installed yes id ba:be:1d metric 128 price 0 refmetric 32 via fe80::1 if wg0",
		"add route 7f317 prefix fd00::2/128 from ::/0 installed no id ba:be:2d metric 512 price 10 refmetric 256 via fe80::2 if wg0",
	}

	client, listener := initClient(t, dumpLines)
	defer listener.Close()
	defer client.Close()

	neighbours, routes, err := client.Dump()
	if err != nil {
		t.Fatal(err)
	}

	if len(neighbours) != 1 {
		t.Fatalf("parsed %d neighbours, expected 1", len(neighbours))
	}
	if neighbours[0].Address != "fe80::1" || neighbours[0].Cost != 96 {
		t.Fatalf("bad neighbour: %+v", neighbours[0])
	}

	if len(routes) != 3 {
		t.Fatalf("parsed %d routes, expected 3", len(routes))
	}
	if routes[0].Prefix != "fd00::1/128" || routes[0].Price != 25 || !routes[0].Installed {
		t.Fatalf("bad route: %+v", routes[0])
	}
	if routes[2].Installed {
		t.Fatalf("route %+v should not be installed", routes[2])
	}
}

func TestSnapshotPrices(t *testing.T) {
	now := time.Now()

	routes := []Route{
		{Prefix: "fd00::1/128", Installed: true, Price: 25},
		// not installed, must not appear
		{Prefix: "fd00::2/128", Installed: false, Price: 10},
		// network route, must not appear
		{Prefix: "fd00::/8", Installed: true, Price: 5},
		// absurd advertised price, capped at maxFee
		{Prefix: "fd00::3/128", Installed: true, Price: 900000},
	}

	s := NewSnapshot(routes, 5000, 10*time.Second, now)

	if price, ok := s.Price("fd00::1"); !ok || price != 25 {
		t.Fatalf("fd00::1 price is %d,%v, expected 25,true", price, ok)
	}
	if _, ok := s.Price("fd00::2"); ok {
		t.Fatal("uninstalled route made it into the snapshot")
	}
	if price, ok := s.Price("fd00::3"); !ok || price != 5000 {
		t.Fatalf("fd00::3 price is %d,%v, expected the 5000 cap", price, ok)
	}
	if len(s.MeshIPs()) != 2 {
		t.Fatalf("snapshot has %d destinations, expected 2", len(s.MeshIPs()))
	}
}

func TestSnapshotStaleness(t *testing.T) {
	now := time.Now()

	s := NewSnapshot(nil, 5000, 10*time.Second, now)

	if s.Stale(now) {
		t.Fatal("fresh snapshot reported stale")
	}
	if s.Stale(now.Add(19 * time.Second)) {
		t.Fatal("snapshot within 2x the poll interval reported stale")
	}
	if !s.Stale(now.Add(21 * time.Second)) {
		t.Fatal("snapshot beyond 2x the poll interval reported fresh")
	}

	var nilSnapshot *Snapshot
	if !nilSnapshot.Stale(now) {
		t.Fatal("nil snapshot reported fresh")
	}
}
