package types

// ConfirmationStatus is what the ledger reports about a submitted transaction
type ConfirmationStatus string

const (
	ConfirmationUnknown   ConfirmationStatus = "unknown" // not seen, or still processing
	ConfirmationConfirmed ConfirmationStatus = "confirmed"
	ConfirmationFinalized ConfirmationStatus = "finalized"
	ConfirmationFailed    ConfirmationStatus = "failed"
)

// Landed reports whether the transaction executed successfully on the ledger
func (s ConfirmationStatus) Landed() bool {
	return s == ConfirmationConfirmed || s == ConfirmationFinalized
}

// Confirmation is a single observation of a transaction
type Confirmation struct {
	Reference string             `json:"reference"`
	Status    ConfirmationStatus `json:"status"`
	Slot      uint64             `json:"slot,omitempty"`
	Error     string             `json:"error,omitempty"` // on-chain error when Status is failed
}
