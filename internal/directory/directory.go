// Package directory caches conversation and user display names in
// chat_names.json. The cache is eventually consistent: lookups go to
// the messaging platform and failures leave entries unset.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"whatskeeper/internal/models"

	"github.com/sirupsen/logrus"
)

// Resolver looks display names up on the messaging platform.
type Resolver interface {
	GetChatName(ctx context.Context, chatID string) (string, error)
	GetContactName(ctx context.Context, userID string) (string, error)
}

// Cache reads, updates and rewrites the whole directory document per
// resolution. Writes are guarded by a process-local mutex; concurrent
// processes are out of scope.
type Cache struct {
	path     string
	resolver Resolver
	logger   *logrus.Logger
	mu       sync.Mutex
}

func NewCache(path string, resolver Resolver, logger *logrus.Logger) *Cache {
	return &Cache{path: path, resolver: resolver, logger: logger}
}

// ResolveChatName returns the chat's display name, refreshing the
// stored entry whenever the freshly observed name differs. Resolver
// failures fall back to the stored name, then to the id.
func (c *Cache) ResolveChatName(ctx context.Context, chatID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc := c.load()
	stored := doc.Chats[chatID]

	name, err := c.resolver.GetChatName(ctx, chatID)
	if err != nil {
		c.logger.WithError(err).WithField("chat", chatID).Debug("Chat name lookup failed")
		if stored != "" {
			return stored
		}
		return chatID
	}

	if name != stored {
		doc.Chats[chatID] = name
		c.store(doc)
	}
	return name
}

// ResolveUserName returns the user's display name. The first
// resolution wins: an existing entry is never overwritten.
func (c *Cache) ResolveUserName(ctx context.Context, userID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc := c.load()
	if stored := doc.Users[userID]; stored != "" {
		return stored
	}

	name, err := c.resolver.GetContactName(ctx, userID)
	if err != nil {
		c.logger.WithError(err).WithField("user", userID).Debug("User name lookup failed")
		return userID
	}

	doc.Users[userID] = name
	c.store(doc)
	return name
}

// ChatIDs returns the known chat id -> name map, for report jobs that
// iterate all conversations.
func (c *Cache) ChatIDs() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc := c.load()
	out := make(map[string]string, len(doc.Chats))
	for id, name := range doc.Chats {
		out[id] = name
	}
	return out
}

func (c *Cache) load() *models.DirectoryDoc {
	doc := &models.DirectoryDoc{
		Chats: map[string]string{},
		Users: map[string]string{},
	}

	raw, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.WithError(err).Error("Failed to read directory file, starting empty")
		}
		return doc
	}
	if err := json.Unmarshal(raw, doc); err != nil {
		c.logger.WithError(err).Error("Failed to parse directory file, starting empty")
		return &models.DirectoryDoc{Chats: map[string]string{}, Users: map[string]string{}}
	}
	if doc.Chats == nil {
		doc.Chats = map[string]string{}
	}
	if doc.Users == nil {
		doc.Users = map[string]string{}
	}
	return doc
}

func (c *Cache) store(doc *models.DirectoryDoc) {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		c.logger.WithError(err).Error("Failed to marshal directory")
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0750); err != nil {
		c.logger.WithError(err).Error("Failed to create directory file parent")
		return
	}
	if err := os.WriteFile(c.path, raw, 0600); err != nil {
		c.logger.WithError(err).Error(fmt.Sprintf("Failed to write %s", filepath.Base(c.path)))
	}
}
