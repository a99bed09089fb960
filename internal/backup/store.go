// Package backup persists conversation events: an append-only
// messages.json per chat plus a media side-store. The store is the
// sole writer of both.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"whatskeeper/internal/metrics"
	"whatskeeper/internal/models"
	"whatskeeper/pkg/whatsapp"

	"github.com/sirupsen/logrus"
)

const (
	messagesFileName = "messages.json"
	mediaDirName     = "media"
	chatsDirName     = "chats"
)

// MediaFetcher downloads an event's media payload.
type MediaFetcher interface {
	DownloadMedia(ctx context.Context, event *whatsapp.MessageEvent) ([]byte, string, error)
}

// Store owns the per-chat message logs under <root>/chats/<chatID>/.
// Chats are independent partitions; appends within one chat are
// serialized by a per-chat lock.
type Store struct {
	root    string
	fetcher MediaFetcher
	logger  *logrus.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewStore(root string, fetcher MediaFetcher, logger *logrus.Logger) *Store {
	return &Store{
		root:    root,
		fetcher: fetcher,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *Store) chatLock(chatID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[chatID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[chatID] = lock
	}
	return lock
}

func (s *Store) chatDir(chatID string) string {
	return filepath.Join(s.root, chatsDirName, chatID)
}

// MediaDir returns the media directory of a chat partition.
func (s *Store) MediaDir(chatID string) string {
	return filepath.Join(s.chatDir(chatID), mediaDirName)
}

// MediaPath returns the full path of a stored media file.
func (s *Store) MediaPath(chatID, fileName string) string {
	return filepath.Join(s.MediaDir(chatID), fileName)
}

func (s *Store) messagesFile(chatID string) string {
	return filepath.Join(s.chatDir(chatID), messagesFileName)
}

// Record appends one message record for the event's chat. When the
// event carries media, the download attempt completes (successfully or
// not) before the record is written, so exactly one log write happens
// per event. A failed download leaves the filename null with the
// failure recorded on the record.
func (s *Store) Record(ctx context.Context, event *whatsapp.MessageEvent) (*models.MessageRecord, error) {
	chatID := event.ChatID()
	if chatID == "" {
		return nil, fmt.Errorf("event %s has no chat id", event.ID)
	}

	lock := s.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.ensureChatDirs(chatID); err != nil {
		return nil, err
	}

	record := models.MessageRecord{
		ID:         event.ID,
		Timestamp:  event.Timestamp,
		ChatID:     chatID,
		Author:     event.Author,
		AuthorName: event.AuthorName,
		Type:       event.Type,
		FromMe:     event.FromMe,
		HasMedia:   event.HasMedia,
	}
	if event.Body != "" {
		body := event.Body
		record.Body = &body
	}

	if event.HasMedia {
		fileName, err := s.saveMedia(ctx, chatID, event)
		if err != nil {
			// Non-fatal: the record is still appended, with the
			// failure made explicit.
			s.logger.WithError(err).WithFields(logrus.Fields{
				"chat":    chatID,
				"message": event.ID,
			}).Warn("Failed to save media for message")
			record.MediaError = err.Error()
			metrics.MediaFailures.Inc()
		} else {
			record.MediaFileName = &fileName
		}
	}

	records, err := s.load(chatID)
	if err != nil {
		s.logger.WithError(err).WithField("chat", chatID).Error("Unreadable message log, starting fresh")
		records = nil
	}
	records = append(records, record)

	if err := s.save(chatID, records); err != nil {
		return nil, err
	}

	metrics.RecordsBackedUp.WithLabelValues(record.Type).Inc()
	return &record, nil
}

// Read returns all records of a chat in append order. A missing log is
// an empty sequence.
func (s *Store) Read(chatID string) ([]models.MessageRecord, error) {
	lock := s.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	return s.load(chatID)
}

func (s *Store) ensureChatDirs(chatID string) error {
	if err := os.MkdirAll(s.MediaDir(chatID), 0750); err != nil {
		return fmt.Errorf("failed to create chat directories: %w", err)
	}
	return nil
}

func (s *Store) saveMedia(ctx context.Context, chatID string, event *whatsapp.MessageEvent) (string, error) {
	data, mimetype, err := s.fetcher.DownloadMedia(ctx, event)
	if err != nil {
		return "", fmt.Errorf("media download failed: %w", err)
	}

	ext := ExtensionForMime(mimetype)
	if ext == "" {
		ext = "bin"
	}
	fileName := event.ID + "." + ext

	path := s.MediaPath(chatID, fileName)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write media file: %w", err)
	}

	return fileName, nil
}

func (s *Store) load(chatID string) ([]models.MessageRecord, error) {
	raw, err := os.ReadFile(s.messagesFile(chatID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read message log: %w", err)
	}

	var records []models.MessageRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("failed to parse message log: %w", err)
	}
	return records, nil
}

func (s *Store) save(chatID string, records []models.MessageRecord) error {
	raw, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal message log: %w", err)
	}
	if err := os.WriteFile(s.messagesFile(chatID), raw, 0600); err != nil {
		return fmt.Errorf("failed to write message log: %w", err)
	}
	return nil
}

// ExtensionForMime derives a file extension from a MIME type: the
// subtype with any parameters after ";" discarded, so
// "image/jpeg; charset=binary" yields "jpeg".
func ExtensionForMime(mimetype string) string {
	parts := strings.SplitN(mimetype, "/", 2)
	if len(parts) != 2 {
		return ""
	}
	subtype := strings.SplitN(parts[1], ";", 2)[0]
	return strings.TrimSpace(subtype)
}
