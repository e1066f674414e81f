package types

// Event is the structured record emitted for every observable state change.
// Attributes carry string-encoded payload fields for audit and reconciliation.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
