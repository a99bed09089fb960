// Package dispatch owns scheduled-messages.json: the store is the sole
// process-side writer, and the engine delivers due entries.
package dispatch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"whatskeeper/internal/models"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// Store reads and rewrites scheduled-messages.json as a whole. The
// file doubles as an interface: operators and the web form edit it
// directly, so every pass reloads from disk.
type Store struct {
	path   string
	logger *logrus.Logger

	mu sync.Mutex

	// lastSelfWrite holds the file mtime produced by our own save, so
	// the engine's change watcher can tell edits apart from saves.
	lastSelfWrite atomic.Value
}

func NewStore(path string, logger *logrus.Logger) *Store {
	s := &Store{path: path, logger: logger}
	s.lastSelfWrite.Store(time.Time{})
	return s
}

// List returns all entries currently on disk.
func (s *Store) List() []models.ScheduledEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Create appends a new approved entry and returns it with its
// generated id.
func (s *Store) Create(entry models.ScheduledEntry) (*models.ScheduledEntry, error) {
	entry.ID = ulid.Make().String()
	entry.Status = models.EntryStatusApproved
	entry.SentAt = nil
	entry.ScheduledAt = models.EnsureSeconds(entry.ScheduledAt)

	if _, err := models.ParseScheduleTime(entry.ScheduledAt); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := append(s.load(), entry)
	if err := s.save(entries); err != nil {
		return nil, err
	}
	return &entry, nil
}

// UpdatePatch carries the mutable fields of an entry; nil means leave
// the field unchanged.
type UpdatePatch struct {
	Recipient   *string             `json:"recipient"`
	Message     *string             `json:"message"`
	Attachment  *string             `json:"attachment"`
	ScheduledAt *string             `json:"scheduledAt"`
	Status      *models.EntryStatus `json:"status"`
}

// Update applies a partial update. It returns nil when no entry has
// the given id.
func (s *Store) Update(id string, patch UpdatePatch) (*models.ScheduledEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.load()
	for i := range entries {
		if entries[i].ID != id {
			continue
		}
		if patch.Recipient != nil {
			entries[i].Recipient = *patch.Recipient
		}
		if patch.Message != nil {
			entries[i].Message = *patch.Message
		}
		if patch.Attachment != nil {
			entries[i].Attachment = patch.Attachment
		}
		if patch.ScheduledAt != nil {
			scheduledAt := models.EnsureSeconds(*patch.ScheduledAt)
			if _, err := models.ParseScheduleTime(scheduledAt); err != nil {
				return nil, err
			}
			entries[i].ScheduledAt = scheduledAt
		}
		if patch.Status != nil {
			switch *patch.Status {
			case models.EntryStatusApproved:
				// Re-approving clears sentAt so the entry dispatches
				// again.
				entries[i].Status = models.EntryStatusApproved
				entries[i].SentAt = nil
			case models.EntryStatusSent:
				entries[i].Status = models.EntryStatusSent
			default:
				return nil, fmt.Errorf("invalid status %q", *patch.Status)
			}
		}
		if err := s.save(entries); err != nil {
			return nil, err
		}
		entry := entries[i]
		return &entry, nil
	}
	return nil, nil
}

// Delete removes the entry with the given id and reports whether it
// existed.
func (s *Store) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.load()
	for i := range entries {
		if entries[i].ID != id {
			continue
		}
		entries = append(entries[:i], entries[i+1:]...)
		return true, s.save(entries)
	}
	return false, nil
}

// mutate runs fn over a fresh load of the file and persists the result
// when fn reports a change. The engine reconciles through this so that
// load, delivery bookkeeping and save form one critical section.
func (s *Store) mutate(fn func(entries []models.ScheduledEntry) ([]models.ScheduledEntry, bool)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, changed := fn(s.load())
	if !changed {
		return nil
	}
	return s.save(entries)
}

// selfWriteMtime returns the mtime of the store's most recent save.
func (s *Store) selfWriteMtime() time.Time {
	return s.lastSelfWrite.Load().(time.Time)
}

func (s *Store) load() []models.ScheduledEntry {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.WithError(err).Error("Failed to read scheduled messages file")
		}
		return []models.ScheduledEntry{}
	}

	var entries []models.ScheduledEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		s.logger.WithError(err).Error("Failed to parse scheduled messages file, treating as empty")
		return []models.ScheduledEntry{}
	}
	return entries
}

func (s *Store) save(entries []models.ScheduledEntry) error {
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal scheduled messages: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0750); err != nil {
		return fmt.Errorf("failed to create scheduled messages parent: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0600); err != nil {
		return fmt.Errorf("failed to write scheduled messages: %w", err)
	}

	if stat, err := os.Stat(s.path); err == nil {
		s.lastSelfWrite.Store(stat.ModTime())
	}
	return nil
}
