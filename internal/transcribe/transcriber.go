// Package transcribe turns voice notes into text by spawning an
// external speech-to-text tool and polling for its output artifact.
package transcribe

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"whatskeeper/internal/metrics"
	"whatskeeper/internal/models"

	"github.com/sirupsen/logrus"
)

// ConfigSource yields the current configuration snapshot.
type ConfigSource func() *models.Config

// Result is delivered exactly once per Transcribe call.
type Result struct {
	Text string
	Err  error
}

// Transcriber runs the configured transcription command for a media
// file. The tool writes <outputDir>/<base>.txt on success; the
// transcriber polls for that file because the tool may keep writing
// after the process exits.
type Transcriber struct {
	config ConfigSource
	logger *logrus.Logger
}

func NewTranscriber(config ConfigSource, logger *logrus.Logger) *Transcriber {
	return &Transcriber{config: config, logger: logger}
}

// Transcribe spawns the tool for mediaPath and returns a channel that
// receives the single terminal result. An empty language falls back to
// the configured default. Spawn failures and non-zero exits are
// terminal; so is exhausting the output poll budget.
func (t *Transcriber) Transcribe(ctx context.Context, mediaPath, language string) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		out <- t.run(ctx, mediaPath, language)
	}()
	return out
}

func (t *Transcriber) run(ctx context.Context, mediaPath, language string) Result {
	cfg := t.config().Transcription
	if cfg.Command == "" {
		return t.fail(mediaPath, fmt.Errorf("transcription command not configured"))
	}
	if language == "" {
		language = cfg.Language
	}

	outputDir := cfg.OutputDir
	if outputDir == "" {
		outputDir = filepath.Dir(mediaPath)
	}
	if err := os.MkdirAll(outputDir, 0750); err != nil {
		return t.fail(mediaPath, fmt.Errorf("failed to create output dir: %w", err))
	}

	cmd := exec.CommandContext(ctx, cfg.Command, mediaPath, outputDir, "txt", language)
	if output, err := cmd.CombinedOutput(); err != nil {
		return t.fail(mediaPath, fmt.Errorf("transcription tool failed: %w: %s", err, strings.TrimSpace(string(output))))
	}

	text, err := t.awaitOutput(ctx, cfg, outputPath(outputDir, mediaPath))
	if err != nil {
		return t.fail(mediaPath, err)
	}

	metrics.Transcriptions.WithLabelValues("ok").Inc()
	return Result{Text: text}
}

// awaitOutput polls for the transcript file at the configured interval
// until it appears or the attempt budget runs out.
func (t *Transcriber) awaitOutput(ctx context.Context, cfg models.TranscriptionConfig, path string) (string, error) {
	for attempt := 0; attempt < cfg.MaxPollAttempts; attempt++ {
		raw, err := os.ReadFile(path)
		if err == nil {
			return strings.TrimSpace(string(raw)), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to read transcript: %w", err)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(cfg.PollInterval()):
		}
	}
	return "", fmt.Errorf("transcript %s did not appear after %d attempts", filepath.Base(path), cfg.MaxPollAttempts)
}

func (t *Transcriber) fail(mediaPath string, err error) Result {
	t.logger.WithError(err).WithField("media", mediaPath).Error("Transcription failed")
	metrics.Transcriptions.WithLabelValues("error").Inc()
	return Result{Err: err}
}

// outputPath maps media/<id>.ogg to <outputDir>/<id>.txt.
func outputPath(outputDir, mediaPath string) string {
	base := filepath.Base(mediaPath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(outputDir, base+".txt")
}
