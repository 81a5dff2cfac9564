package payments

// PaymentRequest asks the channel daemon to pay a counterparty. The amount is
// a decimal string in minor currency units because JSON numbers cannot carry
// arbitrary precision.
type PaymentRequest struct {
	To     string
	Amount string
}

// PaymentResponse indicates the success or failure of a PaymentRequest.
type PaymentResponse struct {
	Accepted bool
	TxHash   string
}

// BalanceRequest asks the channel daemon for the spendable balance of an
// address.
type BalanceRequest struct {
	Address string
}

// BalanceResponse contains the response to a BalanceRequest.
type BalanceResponse struct {
	Balance string
}
