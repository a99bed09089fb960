// Package privacy masks conversation identifiers before they reach
// log output.
package privacy

import "strings"

// MaskChatID hides the subscriber part of a chat id while keeping its
// structure readable, e.g. "1234567890@c.us" -> "******7890@c.us".
func MaskChatID(chatID string) string {
	if chatID == "" {
		return ""
	}

	if at := strings.Index(chatID, "@"); at >= 0 {
		return maskString(chatID[:at], 4) + chatID[at:]
	}
	return maskString(chatID, 4)
}

// maskString keeps only the last keepLast characters visible.
func maskString(s string, keepLast int) string {
	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}
