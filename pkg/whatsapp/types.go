package whatsapp

import "encoding/json"

// WebhookEvent is the envelope the messaging platform posts to the
// webhook endpoint.
type WebhookEvent struct {
	Event   string          `json:"event"`
	Session string          `json:"session"`
	Payload json.RawMessage `json:"payload"`
}

// Webhook event names this service reacts to.
const EventMessageCreate = "message.any"

// MediaRef points at a downloadable media payload.
type MediaRef struct {
	Mimetype string `json:"mimetype"`
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
}

// MessageEvent is one inbound or outbound conversation event.
type MessageEvent struct {
	ID        string    `json:"id"`
	Timestamp int64     `json:"timestamp"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Author    string    `json:"author,omitempty"`
	Body      string    `json:"body"`
	Type      string    `json:"type"`
	FromMe    bool      `json:"fromMe"`
	HasMedia  bool      `json:"hasMedia"`
	Media     *MediaRef `json:"media,omitempty"`

	// AuthorName is resolved by the directory cache before the event
	// is persisted; it is not part of the wire payload.
	AuthorName string `json:"-"`
}

// ChatID returns the conversation the event belongs to: the
// destination for own messages, the origin otherwise.
func (e *MessageEvent) ChatID() string {
	if e.FromMe {
		return e.To
	}
	return e.From
}

// IsGroupChat reports whether id names a group conversation.
func IsGroupChat(id string) bool {
	return len(id) > 5 && id[len(id)-5:] == "@g.us"
}

// ParseMessageEvent decodes the payload of a message webhook event.
func ParseMessageEvent(event *WebhookEvent) (*MessageEvent, error) {
	var msg MessageEvent
	if err := json.Unmarshal(event.Payload, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
