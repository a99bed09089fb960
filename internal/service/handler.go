// Package service runs the inbound event pipeline: directory refresh,
// backup, then the per-chat transcription and summarization gates.
package service

import (
	"context"
	"fmt"

	"whatskeeper/internal/backup"
	"whatskeeper/internal/models"
	"whatskeeper/internal/privacy"
	"whatskeeper/internal/tracing"
	"whatskeeper/internal/transcribe"
	"whatskeeper/pkg/whatsapp"

	"github.com/sirupsen/logrus"
)

// ConfigSource yields the current configuration snapshot.
type ConfigSource func() *models.Config

// Directory resolves display names for chats and users.
type Directory interface {
	ResolveChatName(ctx context.Context, chatID string) string
	ResolveUserName(ctx context.Context, userID string) string
}

// Summarizer produces document summaries.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Transcriber turns a stored voice note into text.
type Transcriber interface {
	Transcribe(ctx context.Context, mediaPath, language string) <-chan transcribe.Result
}

// Sender is the outbound half of the messaging client the handler
// needs for replies and audio forwarding.
type Sender interface {
	SendText(ctx context.Context, chatID, text string) error
	SendMedia(ctx context.Context, chatID, mediaPath, caption string) error
}

// Handler processes one webhook event at a time. Every message is
// backed up; replies (transcripts, document summaries) are gated by
// the chat's feature flags and never sent for our own messages.
type Handler struct {
	config      ConfigSource
	backup      *backup.Store
	directory   Directory
	transcriber Transcriber
	summarizer  Summarizer
	sender      Sender
	logger      *logrus.Logger
}

func NewHandler(config ConfigSource, store *backup.Store, dir Directory, transcriber Transcriber, summarizer Summarizer, sender Sender, logger *logrus.Logger) *Handler {
	return &Handler{
		config:      config,
		backup:      store,
		directory:   dir,
		transcriber: transcriber,
		summarizer:  summarizer,
		sender:      sender,
		logger:      logger,
	}
}

// HandleEvent processes one message webhook event end to end.
func (h *Handler) HandleEvent(ctx context.Context, event *whatsapp.MessageEvent) error {
	ctx, span := tracing.StartSpan(ctx, "service.handle_event")
	defer span.End()

	chatID := event.ChatID()
	if chatID == "" {
		return fmt.Errorf("event %s has no chat id", event.ID)
	}

	h.directory.ResolveChatName(ctx, chatID)
	if event.Author != "" {
		event.AuthorName = h.directory.ResolveUserName(ctx, event.Author)
	}

	record, err := h.backup.Record(ctx, event)
	if err != nil {
		return fmt.Errorf("failed to back up message: %w", err)
	}

	h.logger.WithFields(logrus.Fields{
		"chat": privacy.MaskChatID(chatID),
		"type": record.Type,
	}).Debug("Message recorded")

	// Own messages are archived above but never answered.
	if event.FromMe {
		return nil
	}

	cfg := h.config()
	options, ok := cfg.Chats[chatID]
	if !ok {
		return nil
	}

	if record.IsVoiceNote() && record.MediaFileName != nil {
		mediaPath := h.backup.MediaPath(chatID, *record.MediaFileName)

		if options.SendAudioToTranscriptGroup && cfg.TranscriptionGroup != "" {
			if err := h.sender.SendMedia(ctx, cfg.TranscriptionGroup, mediaPath, ""); err != nil {
				h.logger.WithError(err).Error("Failed to forward voice note to transcript group")
			}
		}

		if options.TranscribeAudio {
			h.transcribeAndReply(ctx, cfg, chatID, mediaPath, options)
		}
	}

	if options.SummarizeDocuments && record.Type == models.MessageTypeDocument && record.Body != nil && *record.Body != "" {
		h.summarizeAndReply(ctx, chatID, *record.Body)
	}

	return nil
}

func (h *Handler) transcribeAndReply(ctx context.Context, cfg *models.Config, chatID, mediaPath string, options models.ChatOptions) {
	result := <-h.transcriber.Transcribe(ctx, mediaPath, cfg.Transcription.Language)
	if result.Err != nil {
		// Already logged and counted by the transcriber.
		return
	}

	target := chatID
	if options.SendTranscriptionTo == models.TranscriptionTargetGroup && cfg.TranscriptionGroup != "" {
		target = cfg.TranscriptionGroup
	}

	reply := "📝 " + result.Text
	if err := h.sender.SendText(ctx, target, reply); err != nil {
		h.logger.WithError(err).WithField("chat", privacy.MaskChatID(target)).Error("Failed to send transcription")
	}
}

func (h *Handler) summarizeAndReply(ctx context.Context, chatID, text string) {
	summary, err := h.summarizer.Summarize(ctx, text)
	if err != nil {
		// The invoker already logged the failure; no summary is sent.
		return
	}

	if err := h.sender.SendText(ctx, chatID, "📄 "+summary); err != nil {
		h.logger.WithError(err).WithField("chat", privacy.MaskChatID(chatID)).Error("Failed to send document summary")
	}
}
