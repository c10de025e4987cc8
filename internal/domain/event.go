package domain

import (
	"encoding/json"
	"strconv"
	"strings"
)

// MessageType distinguishes who authored a Chatwoot message.
type MessageType int

const (
	MessageIncoming MessageType = 0 // from the end user
	MessageOutgoing MessageType = 1 // from the assistant/operator
)

// FlexID is an identifier that Chatwoot delivers sometimes as a JSON number
// and sometimes as a string, depending on the payload variant.
type FlexID string

func (f *FlexID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}

func (f FlexID) String() string { return string(f) }

// UnixTime accepts either a numeric epoch or a string timestamp. The value is
// carried through for logging only; the pipeline never orders by it.
type UnixTime int64

func (t *UnixTime) UnmarshalJSON(data []byte) error {
	trimmed := strings.Trim(string(data), `"`)
	if trimmed == "" || trimmed == "null" {
		*t = 0
		return nil
	}
	n, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		// Non-numeric timestamp strings are tolerated as zero.
		*t = 0
		return nil
	}
	*t = UnixTime(n)
	return nil
}

// RawMessage is a single message as Chatwoot delivers it, either inside a
// webhook body or from the conversation messages endpoint.
type RawMessage struct {
	Content     string      `json:"content"`
	MessageType MessageType `json:"message_type"`
	CreatedAt   UnixTime    `json:"created_at"`
}

// InboundEvent is the webhook body Chatwoot posts on conversation activity.
// Messages arrive most-recent-first; only the first entry is inspected.
type InboundEvent struct {
	Event          string       `json:"event"`
	ConversationID FlexID       `json:"id"`
	Messages       []RawMessage `json:"messages"`
}
