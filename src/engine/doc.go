// Package engine contains the reconciliation core of a Toll node. It ties
// the route-table snapshot, the traffic meter, the debt ledger, the payment
// controller, and the neighbor registry together under four periodic tasks,
// and degrades to a read-only posture whenever the route data it would act on
// is stale.
package engine
