package ledger

// Store is the durable backend of the debt keeper. DebtEntry and in-flight
// obligation state must survive process restart so that no payment is
// forgotten or duplicated.
//
// CreateObligation and ResolveObligation write the debt entry and the
// obligation in one atomic unit: a crash can never leave a ledger balance
// that silently forgot a payment.
type Store interface {
	GetDebt(key string) (*DebtEntry, error)
	SetDebt(d *DebtEntry) error
	AllDebts() ([]*DebtEntry, error)

	GetObligation(id string) (*Obligation, error)
	SetObligation(o *Obligation) error
	CreateObligation(d *DebtEntry, o *Obligation) error
	ResolveObligation(d *DebtEntry, o *Obligation) error
	UnresolvedObligations() ([]*Obligation, error)

	Close() error
}
