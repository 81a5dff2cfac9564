package babel

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Neighbour is one line of babeld's neighbour table.
type Neighbour struct {
	Address string
	Iface   string
	Reach   string
	RxCost  uint64
	TxCost  uint64
	Cost    uint64
}

// Route is one line of babeld's route table. Price is the per-byte fee
// advertised by the destination, a field specific to price-aware babeld
// forks.
type Route struct {
	Prefix    string
	From      string
	Installed bool
	ID        string
	Metric    uint64
	Price     uint64
	RefMetric uint64
	Via       string
	Iface     string
}

// Client speaks the line-based babeld control protocol over a TCP socket. It
// is not safe for concurrent use; the engine serializes access from its
// route-refresh task.
type Client struct {
	addr    string
	timeout time.Duration
	logger  *logrus.Entry

	conn net.Conn
	r    *bufio.Reader

	localFee    uint64
	hasLocalFee bool
}

// NewClient ...
func NewClient(addr string, timeout time.Duration, logger *logrus.Entry) *Client {
	return &Client{
		addr:    addr,
		timeout: timeout,
		logger:  logger.WithField("prefix", "babel"),
	}
}

// Connect dials the babeld control socket and consumes the preamble up to the
// first terminator. The price-aware babeld fork includes a "local fee" line in
// the preamble, which is captured for LocalFee.
func (c *Client) Connect() error {
	conn, err := net.DialTimeout("tcp", c.addr, c.timeout)
	if err != nil {
		return err
	}

	c.conn = conn
	c.r = bufio.NewReader(conn)

	return c.readToTerminator(func(fields []string) {
		if len(fields) == 3 && fields[0] == "local" && fields[1] == "fee" {
			if fee, err := strconv.ParseUint(fields[2], 10, 64); err == nil {
				c.localFee = fee
				c.hasLocalFee = true
			}
		}
	})
}

// Close ...
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// LocalFee returns the per-byte fee babeld is currently advertising for this
// node, as announced in the connection preamble.
func (c *Client) LocalFee() (uint64, error) {
	if !c.hasLocalFee {
		return 0, fmt.Errorf("babeld did not announce a local fee; fee-less babeld?")
	}
	return c.localFee, nil
}

// SetLocalFee asks babeld to advertise a new per-byte fee.
func (c *Client) SetLocalFee(fee uint64) error {
	if err := c.send(fmt.Sprintf("fee %d\n", fee)); err != nil {
		return err
	}

	if err := c.readToTerminator(nil); err != nil {
		return err
	}

	c.localFee = fee
	c.hasLocalFee = true

	return nil
}

// Dump requests a full table dump and returns the parsed neighbour and route
// tables.
func (c *Client) Dump() ([]Neighbour, []Route, error) {
	if err := c.send("dump\n"); err != nil {
		return nil, nil, err
	}

	var neighbours []Neighbour
	var routes []Route

	err := c.readToTerminator(func(fields []string) {
		if len(fields) < 3 || fields[0] != "add" {
			return
		}

		switch fields[1] {
		case "neighbour":
			neighbours = append(neighbours, parseNeighbour(fields[3:]))
		case "route":
			routes = append(routes, parseRoute(fields[3:]))
		}
	})

	if err != nil {
		return nil, nil, err
	}

	return neighbours, routes, nil
}

func (c *Client) send(cmd string) error {
	if c.conn == nil {
		return fmt.Errorf("babel client is not connected")
	}

	c.conn.SetDeadline(time.Now().Add(c.timeout))

	_, err := c.conn.Write([]byte(cmd))

	return err
}

// readToTerminator consumes lines until babeld signals completion with "ok",
// or failure with "no" or "bad". Each intermediate line is split into fields
// and handed to fn.
func (c *Client) readToTerminator(fn func(fields []string)) error {
	if c.conn == nil {
		return fmt.Errorf("babel client is not connected")
	}

	c.conn.SetDeadline(time.Now().Add(c.timeout))

	for {
		line, err := c.r.ReadString('\n')
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "ok" {
			return nil
		}
		if line == "no" || line == "bad" {
			return fmt.Errorf("babeld refused command: %s", line)
		}

		if fn != nil && line != "" {
			fn(strings.Fields(line))
		}
	}
}

// parseNeighbour reads the key-value pairs of an "add neighbour" line.
func parseNeighbour(fields []string) Neighbour {
	n := Neighbour{}
	for k, v := range pairs(fields) {
		switch k {
		case "address":
			n.Address = v
		case "if":
			n.Iface = v
		case "reach":
			n.Reach = v
		case "rxcost":
			n.RxCost = parseUint(v)
		case "txcost":
			n.TxCost = parseUint(v)
		case "cost":
			n.Cost = parseUint(v)
		}
	}
	return n
}

// parseRoute reads the key-value pairs of an "add route" line.
func parseRoute(fields []string) Route {
	r := Route{}
	for k, v := range pairs(fields) {
		switch k {
		case "prefix":
			r.Prefix = v
		case "from":
			r.From = v
		case "installed":
			r.Installed = v == "yes"
		case "id":
			r.ID = v
		case "metric":
			r.Metric = parseUint(v)
		case "price":
			r.Price = parseUint(v)
		case "refmetric":
			r.RefMetric = parseUint(v)
		case "via":
			r.Via = v
		case "if":
			r.Iface = v
		}
	}
	return r
}

func pairs(fields []string) map[string]string {
	res := make(map[string]string, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		res[fields[i]] = fields[i+1]
	}
	return res
}

func parseUint(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}
