package product

// TransferStatus is the lifecycle state of a product in the catalog.
// CREATED -> TRANSFERRING -> RECEIVED is the success path; CREATED or
// TRANSFERRING may drop to FAILED. RECEIVED and FAILED are terminal.
type TransferStatus string

const (
	StatusUnknown      TransferStatus = ""
	StatusCreated      TransferStatus = "CREATED"
	StatusTransferring TransferStatus = "TRANSFERRING"
	StatusReceived     TransferStatus = "RECEIVED"
	StatusFailed       TransferStatus = "FAILED"
)

// Terminal reports whether the status allows no further transitions without
// operator intervention.
func (s TransferStatus) Terminal() bool {
	return s == StatusReceived || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next is a legal lifecycle
// transition.
func (s TransferStatus) CanTransitionTo(next TransferStatus) bool {
	switch s {
	case StatusUnknown:
		return next == StatusCreated
	case StatusCreated:
		return next == StatusTransferring || next == StatusFailed
	case StatusTransferring:
		return next == StatusReceived || next == StatusFailed
	default:
		return false
	}
}
