// Package reports computes periodic conversation analytics and queues
// them for delivery through the scheduled dispatch engine.
package reports

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"whatskeeper/internal/models"

	"github.com/sirupsen/logrus"
)

// Lookback tokens accepted in a report rule's frequency field.
const (
	FrequencyLastDay   = "last day"
	FrequencyLastWeek  = "last week"
	FrequencyLastMonth = "last month"
	FrequencyLastYear  = "last year"
)

var linkRe = regexp.MustCompile(`https?://`)

// Since maps a frequency token to the start of its lookback window.
// Unknown tokens fall back to last week with a warning.
func Since(now time.Time, frequency string, logger *logrus.Logger) time.Time {
	switch frequency {
	case FrequencyLastDay:
		return now.AddDate(0, 0, -1)
	case FrequencyLastWeek:
		return now.AddDate(0, 0, -7)
	case FrequencyLastMonth:
		return now.AddDate(0, -1, 0)
	case FrequencyLastYear:
		return now.AddDate(-1, 0, 0)
	default:
		logger.WithField("frequency", frequency).Warn("Unknown report frequency, using last week")
		return now.AddDate(0, 0, -7)
	}
}

// Filter keeps the records whose timestamp falls inside the window.
func Filter(records []models.MessageRecord, since time.Time) []models.MessageRecord {
	cutoff := since.Unix()
	out := make([]models.MessageRecord, 0, len(records))
	for _, record := range records {
		if record.Timestamp >= cutoff {
			out = append(out, record)
		}
	}
	return out
}

// MessageStats renders the volume report for one conversation window.
func MessageStats(records []models.MessageRecord) string {
	var links, media, text int
	for _, record := range records {
		if record.Body != nil && linkRe.MatchString(*record.Body) {
			links++
		}
		if record.HasMedia {
			media++
		}
		if record.Type == models.MessageTypeText {
			text++
		}
	}

	return fmt.Sprintf(`📊 *Message statistics:*
- Total messages: %d
- Total links: %d
- Total media: %d
- Total text messages: %d`, len(records), links, media, text)
}

// AuthorStats renders per-author counts in first-appearance order.
func AuthorStats(records []models.MessageRecord) string {
	type authorCount struct {
		messages int
		media    int
	}

	counts := make(map[string]*authorCount)
	var order []string
	for _, record := range records {
		author := authorLabel(&record)
		count, ok := counts[author]
		if !ok {
			count = &authorCount{}
			counts[author] = count
			order = append(order, author)
		}
		count.messages++
		if record.HasMedia {
			count.media++
		}
	}

	var b strings.Builder
	b.WriteString("👥 *Author statistics:*\n")
	for _, author := range order {
		count := counts[author]
		fmt.Fprintf(&b, "- %s: %d messages, %d media\n", author, count.messages, count.media)
	}
	return b.String()
}

func authorLabel(record *models.MessageRecord) string {
	if record.FromMe {
		return "You"
	}
	if record.AuthorName != "" {
		return record.AuthorName
	}
	if record.Author != "" {
		return record.Author
	}
	return record.ChatID
}

// JoinBodies concatenates the text bodies for AI-backed report kinds.
func JoinBodies(records []models.MessageRecord) string {
	var bodies []string
	for _, record := range records {
		if record.Body != nil && *record.Body != "" {
			bodies = append(bodies, *record.Body)
		}
	}
	return strings.Join(bodies, "\n")
}
