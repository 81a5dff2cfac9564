// Package payments connects the debt ledger to the external payment-channel
// daemon. The Controller takes obligations opened by the keeper, pushes them
// through a Channel implementation, and feeds the terminal outcome back so
// the ledger can finalize or compensate.
package payments
