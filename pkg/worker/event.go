package worker

import (
	"encoding/json"

	"asanahooks/pkg/activity"
)

// Event represents an activity message received by the worker.
type Event struct {
	// Topic is the name of the topic the message was received on.
	Topic string `json:"topic"`
	// ActionType is the classified action of the activity event.
	ActionType activity.ActionType `json:"action_type"`
	// AccountID is the account whose credentials enriched the event, if any.
	AccountID string `json:"account_id"`
	// RequestID is the id of the webhook delivery that produced the event.
	RequestID string `json:"request_id"`
	// Metadata contains message-broker-specific metadata.
	Metadata map[string]string `json:"metadata"`
	// Payload is the raw JSON payload of the message.
	Payload json.RawMessage `json:"payload"`
	// Activity is the decoded normalized event.
	Activity activity.EventView `json:"activity"`
	// Client is an Asana client bound to the event's account, if available.
	Client *AccountClient `json:"-"`
}
