package payments

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/meshnetworks/toll/src/ledger"
)

// Settler is the slice of the debt keeper the controller needs: marking an
// obligation as sent and applying its terminal outcome.
type Settler interface {
	MarkObligationPending(id string) error
	ApplySettlementResult(id string, outcome ledger.ObligationState, now time.Time) error
}

// Controller drives obligations through the payment channel. Each submitted
// obligation gets its own goroutine that sends the payment, bounds the wait
// with a timeout, and reports the outcome back to the settler. The keeper
// already guarantees at most one obligation per neighbor, so the controller
// never has to coordinate between submissions.
//
// A timed out payment is applied as failed, but counted separately: the
// payment may still land, and repeated timeouts usually mean the channel
// daemon is stuck.
type Controller struct {
	channel Channel
	settler Settler
	timeout time.Duration

	wg       sync.WaitGroup
	timedOut int32

	logger *logrus.Entry
}

// NewController ...
func NewController(channel Channel, settler Settler, timeout time.Duration, logger *logrus.Entry) *Controller {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &Controller{
		channel: channel,
		settler: settler,
		timeout: timeout,
		logger:  logger.WithField("prefix", "payments"),
	}
}

// Submit takes ownership of a freshly opened obligation and settles it
// asynchronously. It returns as soon as the obligation is marked pending.
func (c *Controller) Submit(o *ledger.Obligation) error {
	if err := c.settler.MarkObligationPending(o.ID); err != nil {
		return err
	}

	c.wg.Add(1)
	go c.settle(o.Copy())

	return nil
}

func (c *Controller) settle(o *ledger.Obligation) {
	defer c.wg.Done()

	done := make(chan error, 1)
	go func() {
		done <- c.channel.SendPayment(o.To, o.Amount)
	}()

	var outcome ledger.ObligationState

	select {
	case err := <-done:
		if err != nil {
			c.logger.WithFields(logrus.Fields{
				"obligation": o.ID,
				"to":         o.To,
				"amount":     o.Amount.Text(10),
			}).WithError(err).Warn("Payment failed")
			outcome = ledger.ObligationFailed
		} else {
			outcome = ledger.ObligationConfirmed
		}
	case <-time.After(c.timeout):
		atomic.AddInt32(&c.timedOut, 1)
		c.logger.WithFields(logrus.Fields{
			"obligation": o.ID,
			"to":         o.To,
			"amount":     o.Amount.Text(10),
			"timeout":    c.timeout.String(),
		}).Warn("Payment timed out, check the channel daemon")
		outcome = ledger.ObligationTimedOut
	}

	if err := c.settler.ApplySettlementResult(o.ID, outcome, time.Now()); err != nil {
		c.logger.WithField("obligation", o.ID).WithError(err).
			Error("Failed to apply settlement result")
	}
}

// TimedOutCount returns the number of payments that timed out since startup.
func (c *Controller) TimedOutCount() int {
	return int(atomic.LoadInt32(&c.timedOut))
}

// Wait blocks until every submitted obligation has been settled.
func (c *Controller) Wait() {
	c.wg.Wait()
}
