package types

// Event represents a typed event emitted during ledger state transitions
// (placements, credits, pool accruals and payouts).
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
