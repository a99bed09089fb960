package reports

import (
	"context"
	"strings"
	"sync"
	"time"

	"whatskeeper/internal/models"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// BackupReader reads a conversation's persisted records.
type BackupReader interface {
	Read(chatID string) ([]models.MessageRecord, error)
}

// ChatLister lists known conversations for the chat-class rules.
type ChatLister interface {
	ChatIDs() map[string]string
}

// Summarizer produces AI-backed report content.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Enqueuer queues a produced report for delivery.
type Enqueuer interface {
	Create(entry models.ScheduledEntry) (*models.ScheduledEntry, error)
}

// Waker nudges the dispatch engine after reports are enqueued, so
// delivery does not wait for the next sweep.
type Waker interface {
	Trigger(trigger string)
}

// Scheduler registers one cron job per enabled report rule. Jobs read
// the backup store, compute the requested report kinds and enqueue
// each result as an approved scheduled entry due immediately.
type Scheduler struct {
	backup     BackupReader
	chats      ChatLister
	summarizer Summarizer
	queue      Enqueuer
	waker      Waker
	logger     *logrus.Logger
	now        func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

func NewScheduler(backup BackupReader, chats ChatLister, summarizer Summarizer, queue Enqueuer, waker Waker, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		backup:     backup,
		chats:      chats,
		summarizer: summarizer,
		queue:      queue,
		waker:      waker,
		logger:     logger,
		now:        time.Now,
	}
}

// Apply rebuilds the cron jobs from a configuration snapshot. It is
// called at startup and again on every config reload.
func (s *Scheduler) Apply(cfg *models.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		s.cron.Stop()
	}
	s.cron = cron.New()

	summary := cfg.SummaryConfig
	if summary.AnalyzeAllPrivateChats.Enabled {
		s.register("all private chats", summary.AnalyzeAllPrivateChats, func(rule models.SummaryRule) {
			s.analyzeClass(false, rule)
		})
	}
	if summary.AnalyzeAllGroups.Enabled {
		s.register("all groups", summary.AnalyzeAllGroups, func(rule models.SummaryRule) {
			s.analyzeClass(true, rule)
		})
	}
	for chatID, rule := range summary.Chats {
		if rule.Schedule == "" {
			continue
		}
		chatID := chatID
		s.register(chatID, rule, func(rule models.SummaryRule) {
			s.AnalyzeChat(context.Background(), chatID, rule)
		})
	}

	s.cron.Start()
	s.logger.WithField("jobs", len(s.cron.Entries())).Info("Report jobs scheduled")
}

// Stop halts the cron runner.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		s.cron.Stop()
	}
}

func (s *Scheduler) register(name string, rule models.SummaryRule, job func(models.SummaryRule)) {
	if _, err := s.cron.AddFunc(rule.Schedule, func() { job(rule) }); err != nil {
		s.logger.WithError(err).WithField("rule", name).Error("Invalid report schedule, rule skipped")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"rule":     name,
		"schedule": rule.Schedule,
	}).Debug("Report rule registered")
}

// analyzeClass runs a rule over every known conversation of one class.
func (s *Scheduler) analyzeClass(groups bool, rule models.SummaryRule) {
	for chatID := range s.chats.ChatIDs() {
		if strings.HasSuffix(chatID, "@g.us") == groups {
			s.AnalyzeChat(context.Background(), chatID, rule)
		}
	}
}

// AnalyzeChat computes the rule's report kinds for one conversation
// and enqueues every produced report for every recipient.
func (s *Scheduler) AnalyzeChat(ctx context.Context, chatID string, rule models.SummaryRule) {
	records, err := s.backup.Read(chatID)
	if err != nil {
		s.logger.WithError(err).WithField("chat", chatID).Error("Failed to read backup for report")
		return
	}
	if len(records) == 0 {
		return
	}

	filtered := Filter(records, Since(s.now(), rule.Frequency, s.logger))

	var produced []string
	for _, kind := range rule.Types {
		report := s.produce(ctx, kind, chatID, filtered)
		if report != "" {
			produced = append(produced, report)
		}
	}

	scheduledAt := s.now().Format(models.ScheduleTimeLayout)
	enqueued := 0
	for _, recipient := range rule.Recipients {
		for _, report := range produced {
			if _, err := s.queue.Create(models.ScheduledEntry{
				Recipient:   recipient,
				Message:     report,
				ScheduledAt: scheduledAt,
			}); err != nil {
				s.logger.WithError(err).WithField("recipient", recipient).Error("Failed to enqueue report")
				continue
			}
			enqueued++
		}
	}

	// Enqueued reports are due immediately; the store's own writes are
	// invisible to the engine's file watcher, so wake it directly.
	if enqueued > 0 && s.waker != nil {
		s.waker.Trigger("report")
	}
}

func (s *Scheduler) produce(ctx context.Context, kind, chatID string, records []models.MessageRecord) string {
	switch kind {
	case models.ReportMessageStats:
		return MessageStats(records)
	case models.ReportAuthorStats:
		return AuthorStats(records)
	case models.ReportThemeSummary:
		summary, err := s.summarizer.Summarize(ctx, JoinBodies(records))
		if err != nil {
			s.logger.WithError(err).WithField("chat", chatID).Warn("Theme summary unavailable")
			return ""
		}
		return summary
	case models.ReportFollowUps:
		prompt := "Identify possible follow-ups and unresolved tasks in the following messages: " + JoinBodies(records)
		followUps, err := s.summarizer.Summarize(ctx, prompt)
		if err != nil {
			s.logger.WithError(err).WithField("chat", chatID).Warn("Follow-up report unavailable")
			return ""
		}
		return followUps
	default:
		s.logger.WithField("type", kind).Warn("Unknown report type, skipped")
		return ""
	}
}
