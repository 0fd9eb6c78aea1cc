package internal

import "encoding/json"

// Event is a stored activity event on its way to the publishers.
type Event struct {
	Provider  string          `json:"provider"`
	Name      string          `json:"name"`
	RequestID string          `json:"request_id,omitempty"`
	AccountID string          `json:"account_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}
