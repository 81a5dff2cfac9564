package payments

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	rpcPayment uint8 = iota
	rpcBalance
)

const bufSize = 65535

// RPCChannel is a Channel implementation that talks to the payment-channel
// daemon over a TCP socket. Each request is framed by a byte that indicates
// the message type, followed by the json encoded request. The response is an
// error string followed by the response object.
//
// The client keeps a single connection and redials lazily after a failure.
// Calls are serialized; the daemon processes one request at a time anyway.
type RPCChannel struct {
	sync.Mutex

	addr    string
	timeout time.Duration

	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
	dec  *json.Decoder
	enc  *json.Encoder

	shutdown bool

	logger *logrus.Entry
}

// NewRPCChannel creates a client for the channel daemon at addr. No
// connection is attempted until the first call.
func NewRPCChannel(addr string, timeout time.Duration, logger *logrus.Entry) *RPCChannel {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &RPCChannel{
		addr:    addr,
		timeout: timeout,
		logger:  logger.WithField("prefix", "channel"),
	}
}

// SendPayment implements the Channel interface.
func (c *RPCChannel) SendPayment(to string, amount *big.Int) error {
	args := PaymentRequest{
		To:     to,
		Amount: amount.Text(10),
	}

	var resp PaymentResponse
	if err := c.call(rpcPayment, args, &resp); err != nil {
		return err
	}

	if !resp.Accepted {
		return fmt.Errorf("payment to %s rejected", to)
	}

	c.logger.WithFields(logrus.Fields{
		"to":      to,
		"amount":  args.Amount,
		"tx_hash": resp.TxHash,
	}).Debug("Payment accepted")

	return nil
}

// Balance implements the Channel interface.
func (c *RPCChannel) Balance(address string) (*big.Int, error) {
	args := BalanceRequest{Address: address}

	var resp BalanceResponse
	if err := c.call(rpcBalance, args, &resp); err != nil {
		return nil, err
	}

	balance, ok := new(big.Int).SetString(resp.Balance, 10)
	if !ok {
		return nil, fmt.Errorf("bad balance %q from channel daemon", resp.Balance)
	}

	return balance, nil
}

// Close implements the Channel interface.
func (c *RPCChannel) Close() error {
	c.Lock()
	defer c.Unlock()

	c.shutdown = true
	return c.release()
}

func (c *RPCChannel) call(rpcType uint8, args interface{}, resp interface{}) error {
	c.Lock()
	defer c.Unlock()

	if c.shutdown {
		return ErrChannelShutdown
	}

	if err := c.connect(); err != nil {
		return err
	}

	if c.timeout > 0 {
		c.conn.SetDeadline(time.Now().Add(c.timeout))
	}

	if err := c.send(rpcType, args); err != nil {
		c.release()
		return err
	}

	if err := c.decodeResponse(resp); err != nil {
		c.release()
		return err
	}

	return nil
}

func (c *RPCChannel) connect() error {
	if c.conn != nil {
		return nil
	}

	conn, err := net.DialTimeout("tcp", c.addr, c.timeout)
	if err != nil {
		return err
	}

	c.conn = conn
	c.r = bufio.NewReaderSize(conn, bufSize)
	c.w = bufio.NewWriterSize(conn, bufSize)
	c.dec = json.NewDecoder(c.r)
	c.enc = json.NewEncoder(c.w)

	return nil
}

func (c *RPCChannel) send(rpcType uint8, args interface{}) error {
	if err := c.w.WriteByte(rpcType); err != nil {
		return err
	}
	if err := c.enc.Encode(args); err != nil {
		return err
	}
	return c.w.Flush()
}

func (c *RPCChannel) decodeResponse(resp interface{}) error {
	var rpcError string
	if err := c.dec.Decode(&rpcError); err != nil {
		return err
	}
	if err := c.dec.Decode(resp); err != nil {
		return err
	}
	if rpcError != "" {
		return fmt.Errorf(rpcError)
	}
	return nil
}

func (c *RPCChannel) release() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
