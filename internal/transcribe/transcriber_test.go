package transcribe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"whatskeeper/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// writeTool creates an executable shell script standing in for the
// transcription command.
func writeTool(t *testing.T, dir, script string) string {
	t.Helper()
	path := filepath.Join(dir, "tool.sh")
	content := "#!/bin/sh\n" + script + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0700))
	return path
}

func configWith(cfg models.TranscriptionConfig) ConfigSource {
	snapshot := &models.Config{Transcription: cfg}
	return func() *models.Config { return snapshot }
}

func TestTranscribeSuccess(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")

	// The tool writes <outDir>/<base>.txt like the real command does.
	tool := writeTool(t, dir, `media="$1"; out="$2"; base=$(basename "$media"); base="${base%.*}"; printf ' hello world \n' > "$out/$base.txt"`)

	tr := NewTranscriber(configWith(models.TranscriptionConfig{
		Command:         tool,
		OutputDir:       outDir,
		Language:        "en",
		PollIntervalMs:  10,
		MaxPollAttempts: 15,
	}), quietLogger())

	mediaPath := filepath.Join(dir, "voice1.ogg")
	require.NoError(t, os.WriteFile(mediaPath, []byte("ogg"), 0600))

	result := <-tr.Transcribe(context.Background(), mediaPath, "en")
	require.NoError(t, result.Err)
	assert.Equal(t, "hello world", result.Text)
}

func TestTranscribeLanguageArgument(t *testing.T) {
	dir := t.TempDir()

	// The tool echoes the language it was asked for.
	tool := writeTool(t, dir, `printf '%s' "$4" > "$2/voice1.txt"`)

	tr := NewTranscriber(configWith(models.TranscriptionConfig{
		Command:         tool,
		OutputDir:       dir,
		Language:        "en",
		PollIntervalMs:  10,
		MaxPollAttempts: 15,
	}), quietLogger())

	result := <-tr.Transcribe(context.Background(), filepath.Join(dir, "voice1.ogg"), "pt")
	require.NoError(t, result.Err)
	assert.Equal(t, "pt", result.Text)
}

func TestTranscribeLanguageDefaultsToConfig(t *testing.T) {
	dir := t.TempDir()
	tool := writeTool(t, dir, `printf '%s' "$4" > "$2/voice1.txt"`)

	tr := NewTranscriber(configWith(models.TranscriptionConfig{
		Command:         tool,
		OutputDir:       dir,
		Language:        "en",
		PollIntervalMs:  10,
		MaxPollAttempts: 15,
	}), quietLogger())

	result := <-tr.Transcribe(context.Background(), filepath.Join(dir, "voice1.ogg"), "")
	require.NoError(t, result.Err)
	assert.Equal(t, "en", result.Text)
}

func TestTranscribeToolFailureIsTerminal(t *testing.T) {
	dir := t.TempDir()
	tool := writeTool(t, dir, `echo "model not found" >&2; exit 1`)

	tr := NewTranscriber(configWith(models.TranscriptionConfig{
		Command:         tool,
		OutputDir:       dir,
		PollIntervalMs:  10,
		MaxPollAttempts: 2,
	}), quietLogger())

	result := <-tr.Transcribe(context.Background(), filepath.Join(dir, "voice1.ogg"), "en")
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "model not found")
}

func TestTranscribeOutputNeverAppears(t *testing.T) {
	dir := t.TempDir()
	tool := writeTool(t, dir, `exit 0`)

	tr := NewTranscriber(configWith(models.TranscriptionConfig{
		Command:         tool,
		OutputDir:       dir,
		PollIntervalMs:  5,
		MaxPollAttempts: 3,
	}), quietLogger())

	result := <-tr.Transcribe(context.Background(), filepath.Join(dir, "voice1.ogg"), "en")
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "did not appear")
}

func TestTranscribeDelayedOutputIsPolled(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "voice1.txt")

	// The tool exits before the transcript exists; a helper writes it
	// moments later, exercising the poll loop.
	tool := writeTool(t, dir, fmt.Sprintf(`(sleep 0.1; printf 'late text' > %q) &`, outPath))

	tr := NewTranscriber(configWith(models.TranscriptionConfig{
		Command:         tool,
		OutputDir:       dir,
		PollIntervalMs:  20,
		MaxPollAttempts: 15,
	}), quietLogger())

	result := <-tr.Transcribe(context.Background(), filepath.Join(dir, "voice1.ogg"), "en")
	require.NoError(t, result.Err)
	assert.Equal(t, "late text", result.Text)
}

func TestTranscribeNoCommandConfigured(t *testing.T) {
	tr := NewTranscriber(configWith(models.TranscriptionConfig{}), quietLogger())

	result := <-tr.Transcribe(context.Background(), "/tmp/voice1.ogg", "en")
	require.Error(t, result.Err)
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/out", "abc.txt"), outputPath("/out", "/data/media/abc.ogg"))
	assert.Equal(t, filepath.Join("/out", "noext.txt"), outputPath("/out", "/data/media/noext"))
}
