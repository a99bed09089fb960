package models

// MessageRecord is one conversation event as persisted in a chat's
// messages.json. Records are immutable once written.
type MessageRecord struct {
	ID            string  `json:"id"`
	Timestamp     int64   `json:"timestamp"`
	ChatID        string  `json:"chatId"`
	Author        string  `json:"author,omitempty"`
	AuthorName    string  `json:"authorName,omitempty"`
	Body          *string `json:"body"`
	Type          string  `json:"type"`
	FromMe        bool    `json:"fromMe"`
	HasMedia      bool    `json:"hasMedia"`
	MediaFileName *string `json:"mediaFileName"`
	// MediaError is set when HasMedia is true but the download failed.
	// A record never has media silently missing.
	MediaError string `json:"mediaError,omitempty"`
}

// Message type tags as reported by the messaging platform.
const (
	MessageTypeText     = "chat"
	MessageTypeAudio    = "audio"
	MessageTypeVoice    = "ptt"
	MessageTypeImage    = "image"
	MessageTypeVideo    = "video"
	MessageTypeDocument = "document"
)

// IsVoiceNote reports whether the record is an audio message eligible
// for transcription.
func (r *MessageRecord) IsVoiceNote() bool {
	return r.Type == MessageTypeAudio || r.Type == MessageTypeVoice
}
