package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"whatskeeper/internal/metrics"
	"whatskeeper/internal/models"
	"whatskeeper/internal/privacy"
	"whatskeeper/internal/tracing"

	"github.com/sirupsen/logrus"
)

// Sender is the outbound half of the messaging client the engine
// needs.
type Sender interface {
	SendText(ctx context.Context, chatID, text string) error
	SendMedia(ctx context.Context, chatID, mediaPath, caption string) error
}

// ConfigSource yields the current configuration snapshot.
type ConfigSource func() *models.Config

// Engine delivers due entries. Two triggers feed one serial loop: an
// mtime watcher on the schedule file and a periodic sweep. A trigger
// arriving while a pass runs is dropped; the next sweep catches
// anything it would have found.
type Engine struct {
	store  *Store
	sender Sender
	config ConfigSource
	logger *logrus.Logger

	reconciling atomic.Bool
	triggers    chan string
	now         func() time.Time
}

func NewEngine(store *Store, sender Sender, config ConfigSource, logger *logrus.Logger) *Engine {
	return &Engine{
		store:    store,
		sender:   sender,
		config:   config,
		logger:   logger,
		triggers: make(chan string, 1),
		now:      time.Now,
	}
}

// Start runs the watcher, the sweep ticker and the reconcile loop
// until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	cfg := e.config().Dispatch

	go e.watchFile(ctx, cfg.WatchInterval())
	go e.sweep(ctx, cfg.SweepInterval())

	e.logger.WithFields(logrus.Fields{
		"sweepInterval": cfg.SweepInterval().String(),
		"watchInterval": cfg.WatchInterval().String(),
	}).Info("Dispatch engine started")

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Dispatch engine stopping")
			return
		case trigger := <-e.triggers:
			e.Reconcile(ctx, trigger)
		}
	}
}

// Trigger requests a reconciliation pass. It never blocks: when the
// loop is busy or a trigger is already queued the request is dropped.
func (e *Engine) Trigger(trigger string) {
	select {
	case e.triggers <- trigger:
	default:
		e.logger.WithField("trigger", trigger).Debug("Reconciliation already pending, trigger dropped")
	}
}

func (e *Engine) watchFile(ctx context.Context, interval time.Duration) {
	var lastMod time.Time
	if stat, err := os.Stat(e.store.path); err == nil {
		lastMod = stat.ModTime()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stat, err := os.Stat(e.store.path)
			if err != nil {
				continue
			}
			if !stat.ModTime().After(lastMod) {
				continue
			}
			lastMod = stat.ModTime()

			// Our own save also bumps the mtime; reacting to it
			// would reconcile twice per delivery.
			if stat.ModTime().Equal(e.store.selfWriteMtime()) {
				continue
			}
			e.Trigger("file_change")
		}
	}
}

func (e *Engine) sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Trigger("sweep")
		}
	}
}

// Reconcile runs a single delivery pass. Passes are single-flight: a
// call while another pass is in progress is a no-op.
func (e *Engine) Reconcile(ctx context.Context, trigger string) {
	if !e.reconciling.CompareAndSwap(false, true) {
		e.logger.WithField("trigger", trigger).Debug("Reconciliation already running, skipping")
		return
	}
	defer e.reconciling.Store(false)

	ctx, span := tracing.StartSpan(ctx, "dispatch.reconcile")
	defer span.End()

	metrics.Reconciliations.WithLabelValues(trigger).Inc()
	now := e.now()

	err := e.store.mutate(func(entries []models.ScheduledEntry) ([]models.ScheduledEntry, bool) {
		consumed := false
		for i := range entries {
			if !entries[i].Pending() {
				continue
			}
			due, err := entries[i].DueBy(now)
			if err != nil {
				e.logger.WithError(err).WithField("id", entries[i].ID).Warn("Entry has unparseable scheduledAt, skipping")
				continue
			}
			if !due {
				continue
			}

			e.deliver(ctx, &entries[i])

			// The entry is consumed even when the send failed:
			// redelivery of a possibly-sent message is worse than a
			// logged loss.
			sentAt := now.Format(time.RFC3339)
			entries[i].Status = models.EntryStatusSent
			entries[i].SentAt = &sentAt
			consumed = true
		}
		return entries, consumed
	})
	if err != nil {
		e.logger.WithError(err).Error("Failed to persist reconciliation pass")
	}
}

func (e *Engine) deliver(ctx context.Context, entry *models.ScheduledEntry) {
	log := e.logger.WithFields(logrus.Fields{
		"id":        entry.ID,
		"recipient": privacy.MaskChatID(entry.Recipient),
	})

	err := e.send(ctx, entry)
	if err != nil {
		log.WithError(err).Error("Failed to deliver scheduled message")
		metrics.DispatchFailures.Inc()
		return
	}

	log.Info("Scheduled message delivered")
	metrics.Dispatched.Inc()
}

func (e *Engine) send(ctx context.Context, entry *models.ScheduledEntry) error {
	if entry.Attachment != nil && *entry.Attachment != "" {
		path := filepath.Join(e.config().AttachmentsDir, *entry.Attachment)
		if _, err := os.Stat(path); err == nil {
			return e.sender.SendMedia(ctx, entry.Recipient, path, entry.Message)
		}
		e.logger.WithField("attachment", *entry.Attachment).Warn("Attachment missing on disk, sending text only")
	}
	return e.sender.SendText(ctx, entry.Recipient, entry.Message)
}
