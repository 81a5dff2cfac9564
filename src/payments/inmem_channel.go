package payments

import (
	"fmt"
	"math/big"
	"sync"
	"time"
)

// InmemChannel implements the Channel interface in memory, to allow the
// payment pipeline to be tested without a channel daemon. Failure modes and
// artificial latency are programmable per counterparty.
type InmemChannel struct {
	sync.Mutex

	payments []InmemPayment
	balances map[string]*big.Int

	failFor  map[string]error
	delayFor map[string]time.Duration
}

// InmemPayment records one accepted payment.
type InmemPayment struct {
	To     string
	Amount *big.Int
}

// NewInmemChannel ...
func NewInmemChannel() *InmemChannel {
	return &InmemChannel{
		balances: make(map[string]*big.Int),
		failFor:  make(map[string]error),
		delayFor: make(map[string]time.Duration),
	}
}

// FailPaymentsTo makes payments to a counterparty fail with err.
func (c *InmemChannel) FailPaymentsTo(to string, err error) {
	c.Lock()
	defer c.Unlock()
	c.failFor[to] = err
}

// DelayPaymentsTo makes payments to a counterparty block for d before
// returning.
func (c *InmemChannel) DelayPaymentsTo(to string, d time.Duration) {
	c.Lock()
	defer c.Unlock()
	c.delayFor[to] = d
}

// SetBalance sets the balance returned for an address.
func (c *InmemChannel) SetBalance(address string, balance *big.Int) {
	c.Lock()
	defer c.Unlock()
	c.balances[address] = new(big.Int).Set(balance)
}

// Payments returns the accepted payments in order.
func (c *InmemChannel) Payments() []InmemPayment {
	c.Lock()
	defer c.Unlock()

	res := make([]InmemPayment, len(c.payments))
	copy(res, c.payments)
	return res
}

// SendPayment implements the Channel interface.
func (c *InmemChannel) SendPayment(to string, amount *big.Int) error {
	c.Lock()
	delay := c.delayFor[to]
	failErr := c.failFor[to]
	c.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	if failErr != nil {
		return failErr
	}

	c.Lock()
	defer c.Unlock()
	c.payments = append(c.payments, InmemPayment{
		To:     to,
		Amount: new(big.Int).Set(amount),
	})

	return nil
}

// Balance implements the Channel interface.
func (c *InmemChannel) Balance(address string) (*big.Int, error) {
	c.Lock()
	defer c.Unlock()

	b, ok := c.balances[address]
	if !ok {
		return nil, fmt.Errorf("no balance for %s", address)
	}
	return new(big.Int).Set(b), nil
}

// Close implements the Channel interface.
func (c *InmemChannel) Close() error {
	return nil
}
