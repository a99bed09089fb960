package config

import (
	"os"
	"path/filepath"
	"testing"

	"whatskeeper/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{}`)

	cfg := Load(path, testLogger())

	assert.Equal(t, DefaultDataDir, cfg.DataDir)
	assert.Equal(t, DefaultService, cfg.Service)
	assert.Equal(t, DefaultSweepIntervalSec, cfg.Dispatch.SweepIntervalSec)
	assert.Equal(t, DefaultPollIntervalMs, cfg.Transcription.PollIntervalMs)
	assert.Equal(t, DefaultMaxPollAttempts, cfg.Transcription.MaxPollAttempts)
	assert.NotNil(t, cfg.Chats)
	assert.NotNil(t, cfg.Services)
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "absent.json"), testLogger())

	assert.Equal(t, DefaultDataDir, cfg.DataDir)
	assert.Equal(t, DefaultScheduledMessagesFile, cfg.ScheduledMessagesFile)
}

func TestLoadMalformedFileYieldsDefaults(t *testing.T) {
	path := writeConfig(t, `{"dataDir": `)

	cfg := Load(path, testLogger())

	assert.Equal(t, DefaultDataDir, cfg.DataDir)
}

func TestLoadServiceTemplateDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"service": "ollama",
		"services": {
			"ollama": {
				"url": "http://localhost:11434/api/generate",
				"body": {"model": "{{model}}", "prompt": "{{text}}", "stream": false},
				"resultPath": "response",
				"model": "llama3"
			}
		}
	}`)

	cfg := Load(path, testLogger())

	svc, ok := cfg.Services["ollama"]
	require.True(t, ok)
	assert.Equal(t, "POST", svc.Method)
	assert.Equal(t, DefaultAPIKeyEnv, svc.APIKeyEnv)
	assert.Equal(t, DefaultMaxTokens, svc.MaxTokens)
	assert.Equal(t, DefaultServiceMaxAttempts, svc.MaxAttempts)
	assert.Equal(t, DefaultServiceBackoffMs, svc.BackoffMs)
}

func TestLoadChatOptions(t *testing.T) {
	path := writeConfig(t, `{
		"chats": {
			"555@g.us": {"transcribeAudio": true, "sendTranscriptionTo": "same_chat"}
		},
		"transcriptionGroup": "999@g.us"
	}`)

	cfg := Load(path, testLogger())

	opts := cfg.Chats["555@g.us"]
	assert.True(t, opts.TranscribeAudio)
	assert.Equal(t, models.TranscriptionTargetSameChat, opts.SendTranscriptionTo)
	assert.Equal(t, "999@g.us", cfg.TranscriptionGroup)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("WHATSAPP_API_URL", "http://waha:3000")

	cfg := Load(writeConfig(t, `{"whatsapp": {"apiBaseUrl": "http://old:3000"}}`), testLogger())

	assert.Equal(t, "http://waha:3000", cfg.WhatsApp.APIBaseURL)
}

func TestWatcherSnapshotIsStable(t *testing.T) {
	path := writeConfig(t, `{"dataDir": "/tmp/one"}`)

	w := NewWatcher(path, 0, testLogger())

	snap := w.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, "/tmp/one", snap.DataDir)

	// A reload swaps the slot; the old snapshot is untouched.
	require.NoError(t, os.WriteFile(path, []byte(`{"dataDir": "/tmp/two"}`), 0600))
	w.reload()

	assert.Equal(t, "/tmp/one", snap.DataDir)
	assert.Equal(t, "/tmp/two", w.Snapshot().DataDir)
}
