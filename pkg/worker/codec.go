package worker

import (
	"encoding/json"
	"fmt"

	"asanahooks/pkg/activity"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Codec is an interface for decoding messages from a message broker into an Event.
type Codec interface {
	// Decode transforms a Watermill message into an Event.
	Decode(topic string, msg *message.Message) (*Event, error)
}

// DefaultCodec decodes the JSON event view published by the relay.
type DefaultCodec struct{}

// Decode unmarshals a Watermill message into an Event. Metadata fills the
// action type when the payload does not carry one.
func (DefaultCodec) Decode(topic string, msg *message.Message) (*Event, error) {
	var view activity.EventView
	if err := json.Unmarshal(msg.Payload, &view); err != nil {
		return nil, fmt.Errorf("decode activity payload: %w", err)
	}

	metadata := make(map[string]string, len(msg.Metadata))
	for key, value := range msg.Metadata {
		metadata[key] = value
	}

	actionType := view.ActionType
	if actionType == "" {
		actionType = msg.Metadata.Get("event")
	}

	return &Event{
		Topic:      topic,
		ActionType: activity.ActionType(actionType),
		AccountID:  msg.Metadata.Get("account_id"),
		RequestID:  msg.Metadata.Get("request_id"),
		Metadata:   metadata,
		Payload:    json.RawMessage(msg.Payload),
		Activity:   view,
	}, nil
}
