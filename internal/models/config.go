package models

import "time"

// Config is the immutable snapshot of config.json. The file is
// hot-reloaded; readers always hold a complete snapshot and never see
// a partially written document.
type Config struct {
	DataDir               string `json:"dataDir"`
	AttachmentsDir        string `json:"attachmentsDir"`
	ScheduledMessagesFile string `json:"scheduledMessagesFile"`
	DirectoryFile         string `json:"directoryFile"`
	LogLevel              string `json:"logLevel"`

	WhatsApp WhatsAppConfig `json:"whatsapp"`

	// Chats holds per-conversation feature flags keyed by chat id.
	Chats              map[string]ChatOptions `json:"chats"`
	TranscriptionGroup string                 `json:"transcriptionGroup"`
	Transcription      TranscriptionConfig    `json:"transcription"`

	// Service selects the default entry of Services.
	Service  string                     `json:"service"`
	Services map[string]ServiceTemplate `json:"services"`

	Dispatch      DispatchConfig `json:"dispatch"`
	SummaryConfig SummaryConfig  `json:"summaryConfig"`
	Tracing       TracingConfig  `json:"tracing"`
}

type WhatsAppConfig struct {
	APIBaseURL  string `json:"apiBaseUrl"`
	SessionName string `json:"sessionName"`
	TimeoutSec  int    `json:"timeoutSec"`
}

// ChatOptions are the per-conversation feature flags recognized by the
// inbound event pipeline.
type ChatOptions struct {
	TranscribeAudio            bool   `json:"transcribeAudio"`
	SendAudioToTranscriptGroup bool   `json:"sendAudioToTranscriptGroup"`
	SendTranscriptionTo        string `json:"sendTranscriptionTo"`
	SummarizeDocuments         bool   `json:"summarizeDocuments"`
}

// Transcription reply targets.
const (
	TranscriptionTargetSameChat = "same_chat"
	TranscriptionTargetGroup    = "transcript_group"
)

type TranscriptionConfig struct {
	Command         string `json:"command"`
	OutputDir       string `json:"outputDir"`
	Language        string `json:"language"`
	PollIntervalMs  int    `json:"pollIntervalMs"`
	MaxPollAttempts int    `json:"maxPollAttempts"`
}

func (t TranscriptionConfig) PollInterval() time.Duration {
	return time.Duration(t.PollIntervalMs) * time.Millisecond
}

// ServiceTemplate declares how to call one external HTTP-based AI
// backend. Body is the decoded JSON template tree; string leaves may
// contain {{key}} placeholders.
type ServiceTemplate struct {
	URL         string            `json:"url"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers"`
	Body        interface{}       `json:"body"`
	ResultPath  string            `json:"resultPath"`
	Model       string            `json:"model"`
	APIKeyEnv   string            `json:"apiKeyEnv"`
	MaxTokens   int               `json:"maxTokens"`
	MaxAttempts int               `json:"maxAttempts"`
	BackoffMs   int               `json:"backoffMs"`
}

func (t ServiceTemplate) Backoff() time.Duration {
	return time.Duration(t.BackoffMs) * time.Millisecond
}

type DispatchConfig struct {
	SweepIntervalSec int `json:"sweepIntervalSec"`
	WatchIntervalSec int `json:"watchIntervalSec"`
}

func (d DispatchConfig) SweepInterval() time.Duration {
	return time.Duration(d.SweepIntervalSec) * time.Second
}

func (d DispatchConfig) WatchInterval() time.Duration {
	return time.Duration(d.WatchIntervalSec) * time.Second
}

// SummaryConfig holds the report-scheduling rules: per-chat rules plus
// the two chat classes.
type SummaryConfig struct {
	AnalyzeAllPrivateChats SummaryRule            `json:"analyzeAllPrivateChats"`
	AnalyzeAllGroups       SummaryRule            `json:"analyzeAllGroups"`
	Chats                  map[string]SummaryRule `json:"chats"`
}

// SummaryRule is one cron-scheduled report job.
type SummaryRule struct {
	Enabled    bool     `json:"enabled"`
	Schedule   string   `json:"schedule"`
	Frequency  string   `json:"frequency"`
	Types      []string `json:"types"`
	Recipients []string `json:"recipients"`
}

// Report kinds accepted in SummaryRule.Types.
const (
	ReportMessageStats = "messageStats"
	ReportAuthorStats  = "authorStats"
	ReportThemeSummary = "themeSummary"
	ReportFollowUps    = "followUps"
)

type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"serviceName"`
	ServiceVersion string  `json:"serviceVersion"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlpEndpoint"`
	SampleRate     float64 `json:"sampleRate"`
	UseStdout      bool    `json:"useStdout"`
}

// DirectoryDoc is the persisted shape of chat_names.json.
type DirectoryDoc struct {
	Chats map[string]string `json:"chats"`
	Users map[string]string `json:"users"`
}
