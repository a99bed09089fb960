package config

import (
	"encoding/json"
	"os"

	"whatskeeper/internal/models"

	"github.com/sirupsen/logrus"
)

// Defaults applied to absent config.json fields.
const (
	DefaultDataDir               = "./whatsapp-backup"
	DefaultAttachmentsDir        = "./attachments"
	DefaultScheduledMessagesFile = "./scheduled-messages.json"
	DefaultDirectoryFile         = "./whatsapp-backup/chat_names.json"
	DefaultService               = "openai"
	DefaultSweepIntervalSec      = 60
	DefaultWatchIntervalSec      = 2
	DefaultPollIntervalMs        = 700
	DefaultMaxPollAttempts       = 15
	DefaultMaxTokens             = 800
	DefaultServiceMaxAttempts    = 3
	DefaultServiceBackoffMs      = 1000
	DefaultWhatsAppTimeoutSec    = 30
	DefaultAPIKeyEnv             = "OPENAI_API_KEY"
)

// Load reads config.json. An unreadable or malformed file is treated
// as an empty configuration: the error is logged and processing
// continues with defaults rather than crashing the process.
func Load(path string, logger *logrus.Logger) *models.Config {
	var cfg models.Config

	raw, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		logger.WithError(err).WithField("path", path).Error("Failed to read config file, using defaults")
		applyDefaults(&cfg)
		return &cfg
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		logger.WithError(err).WithField("path", path).Error("Failed to parse config file, using defaults")
		cfg = models.Config{}
	}

	applyDefaults(&cfg)
	applyEnvironmentOverrides(&cfg)
	return &cfg
}

func applyDefaults(c *models.Config) {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.AttachmentsDir == "" {
		c.AttachmentsDir = DefaultAttachmentsDir
	}
	if c.ScheduledMessagesFile == "" {
		c.ScheduledMessagesFile = DefaultScheduledMessagesFile
	}
	if c.DirectoryFile == "" {
		c.DirectoryFile = DefaultDirectoryFile
	}
	if c.Service == "" {
		c.Service = DefaultService
	}
	if c.Chats == nil {
		c.Chats = map[string]models.ChatOptions{}
	}
	if c.Services == nil {
		c.Services = map[string]models.ServiceTemplate{}
	}
	for name, svc := range c.Services {
		if svc.Method == "" {
			svc.Method = "POST"
		}
		if svc.APIKeyEnv == "" {
			svc.APIKeyEnv = DefaultAPIKeyEnv
		}
		if svc.MaxTokens <= 0 {
			svc.MaxTokens = DefaultMaxTokens
		}
		if svc.MaxAttempts <= 0 {
			svc.MaxAttempts = DefaultServiceMaxAttempts
		}
		if svc.BackoffMs <= 0 {
			svc.BackoffMs = DefaultServiceBackoffMs
		}
		c.Services[name] = svc
	}
	if c.Dispatch.SweepIntervalSec <= 0 {
		c.Dispatch.SweepIntervalSec = DefaultSweepIntervalSec
	}
	if c.Dispatch.WatchIntervalSec <= 0 {
		c.Dispatch.WatchIntervalSec = DefaultWatchIntervalSec
	}
	if c.Transcription.PollIntervalMs <= 0 {
		c.Transcription.PollIntervalMs = DefaultPollIntervalMs
	}
	if c.Transcription.MaxPollAttempts <= 0 {
		c.Transcription.MaxPollAttempts = DefaultMaxPollAttempts
	}
	if c.WhatsApp.TimeoutSec <= 0 {
		c.WhatsApp.TimeoutSec = DefaultWhatsAppTimeoutSec
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "whatskeeper"
	}
	if c.Tracing.SampleRate <= 0 {
		c.Tracing.SampleRate = 0.1
	}
}

func applyEnvironmentOverrides(c *models.Config) {
	if url := os.Getenv("WHATSAPP_API_URL"); url != "" {
		c.WhatsApp.APIBaseURL = url
	}
	if dir := os.Getenv("WHATSKEEPER_DATA_DIR"); dir != "" {
		c.DataDir = dir
	}
	if level := os.Getenv("WHATSKEEPER_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
}
