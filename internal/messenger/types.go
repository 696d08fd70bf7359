// Package messenger implements the chat platform integration: webhook event
// parsing, signature verification, and the outbound reply/push/profile API.
package messenger

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind identifies the variant of an InboundEvent. It is a closed set:
// everything the platform may send that is not a text message or a postback
// vote action maps to KindOther.
type EventKind int

const (
	KindText EventKind = iota
	KindVote
	KindOther
)

func (k EventKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindVote:
		return "vote"
	case KindOther:
		return "other"
	default:
		return "unknown"
	}
}

// InboundEvent is one discrete occurrence reported by the platform, already
// narrowed to the fields the pipeline consumes. Raw keeps the original JSON
// so the event can be queued and re-resolved losslessly.
type InboundEvent struct {
	Kind       EventKind
	UserID     string
	RoomID     string
	Timestamp  time.Time
	ReplyToken string

	// Text is set for KindText events.
	Text string

	// PostbackData is set for KindVote events and carries the opaque
	// action string produced by the poll reply payload.
	PostbackData string

	Raw json.RawMessage
}

// webhookBody mirrors the platform's webhook envelope.
type webhookBody struct {
	Events []json.RawMessage `json:"events"`
}

type webhookEvent struct {
	Type       string `json:"type"`
	ReplyToken string `json:"replyToken"`
	Timestamp  int64  `json:"timestamp"` // unix milliseconds
	Source     struct {
		Type   string `json:"type"`
		UserID string `json:"userId"`
		RoomID string `json:"roomId"`
	} `json:"source"`
	Message struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"message"`
	Postback struct {
		Data string `json:"data"`
	} `json:"postback"`
}

// ParseWebhook decodes a webhook request body into its inbound events.
func ParseWebhook(body []byte) ([]InboundEvent, error) {
	var envelope webhookBody
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse webhook body: %w", err)
	}

	events := make([]InboundEvent, 0, len(envelope.Events))
	for i, raw := range envelope.Events {
		ev, err := ParseEvent(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse event %d: %w", i, err)
		}
		events = append(events, ev)
	}

	return events, nil
}

// ParseEvent decodes a single webhook event. Unrecognized event or message
// types are preserved as KindOther rather than rejected, so new platform
// event types never break ingestion.
func ParseEvent(raw json.RawMessage) (InboundEvent, error) {
	var we webhookEvent
	if err := json.Unmarshal(raw, &we); err != nil {
		return InboundEvent{}, fmt.Errorf("malformed event payload: %w", err)
	}

	ev := InboundEvent{
		Kind:       KindOther,
		UserID:     we.Source.UserID,
		RoomID:     we.Source.RoomID,
		Timestamp:  time.UnixMilli(we.Timestamp).UTC(),
		ReplyToken: we.ReplyToken,
		Raw:        raw,
	}

	switch we.Type {
	case "message":
		if we.Message.Type == "text" {
			ev.Kind = KindText
			ev.Text = we.Message.Text
		}
	case "postback":
		ev.Kind = KindVote
		ev.PostbackData = we.Postback.Data
	}

	return ev, nil
}

// Message is one outbound message payload for the reply/push APIs.
type Message struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	AltText  string    `json:"altText,omitempty"`
	Template *Template `json:"template,omitempty"`
}

// Template is an interactive button payload.
type Template struct {
	Type    string   `json:"type"`
	Title   string   `json:"title,omitempty"`
	Text    string   `json:"text"`
	Actions []Action `json:"actions"`
}

// Action is one interactive element inside a template: either a postback
// carrying opaque data, or an external link.
type Action struct {
	Type  string `json:"type"`
	Label string `json:"label"`
	Data  string `json:"data,omitempty"`
	URI   string `json:"uri,omitempty"`
}

// NewTextMessage builds a plain text reply message.
func NewTextMessage(text string) Message {
	return Message{Type: "text", Text: text}
}

// NewButtonsMessage builds an interactive buttons template message.
func NewButtonsMessage(altText, title, text string, actions []Action) Message {
	return Message{
		Type:    "template",
		AltText: altText,
		Template: &Template{
			Type:    "buttons",
			Title:   title,
			Text:    text,
			Actions: actions,
		},
	}
}

// NewPostbackAction builds a button that posts back opaque data.
func NewPostbackAction(label, data string) Action {
	return Action{Type: "postback", Label: label, Data: data}
}

// NewURIAction builds a button that opens an external link.
func NewURIAction(label, uri string) Action {
	return Action{Type: "uri", Label: label, URI: uri}
}

// Profile is the platform's view of a user.
type Profile struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}
