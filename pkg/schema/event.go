package schema

import "time"

// EventRecord is an immutable business fact fed into the engine.
type EventRecord struct {
	ID      string         `json:"id"`
	Type    EventType      `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`

	// UserRef and ConversationRef identify the customer and conversation the
	// event belongs to. Either may be empty (e.g. schedule events).
	UserRef         string `json:"user_ref,omitempty"`
	ConversationRef string `json:"conversation_ref,omitempty"`

	// OwnerRef names the tenant directly for events that carry no
	// conversation (schedule, some platform comments).
	OwnerRef string `json:"owner_ref,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}

// MessageContent returns the textual content carried by the event, if any.
func (e *EventRecord) MessageContent() string {
	if e.Payload == nil {
		return ""
	}
	if s, ok := e.Payload["content"].(string); ok {
		return s
	}
	if s, ok := e.Payload["text"].(string); ok {
		return s
	}
	return ""
}

// Channel returns the originating channel, or "" when absent.
func (e *EventRecord) Channel() string {
	if e.Payload == nil {
		return ""
	}
	s, _ := e.Payload["channel"].(string)
	return s
}
