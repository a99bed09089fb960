// Package aiservice invokes external HTTP-based AI backends described
// by declarative service templates.
package aiservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"whatskeeper/internal/metrics"
	"whatskeeper/internal/models"
	"whatskeeper/internal/retry"
	"whatskeeper/internal/template"

	"github.com/sirupsen/logrus"
)

var (
	// ErrServiceNotConfigured is permanent: the service name has no
	// template in the current configuration.
	ErrServiceNotConfigured = errors.New("service not configured")

	// ErrRateLimited marks an HTTP 429 response; it is the only
	// retryable invocation error.
	ErrRateLimited = errors.New("rate limited")
)

// ConfigSource yields the current configuration snapshot.
type ConfigSource func() *models.Config

// Invoker renders a service template against an invocation context and
// executes the call with 429-only exponential backoff.
type Invoker struct {
	config ConfigSource
	client *http.Client
	logger *logrus.Logger
}

func NewInvoker(config ConfigSource, logger *logrus.Logger) *Invoker {
	return &Invoker{
		config: config,
		client: &http.Client{Timeout: 120 * time.Second},
		logger: logger,
	}
}

// Invoke calls the named service with the given input text. Failures
// of any class return an error; callers treat that as "no result
// produced", never as a fault to propagate to the end user.
func (inv *Invoker) Invoke(ctx context.Context, serviceName, text string) (string, error) {
	cfg := inv.config()
	tmpl, ok := cfg.Services[serviceName]
	if !ok {
		inv.logger.WithField("service", serviceName).Error("Unknown AI service")
		metrics.Summaries.WithLabelValues(serviceName, "error").Inc()
		return "", fmt.Errorf("%w: %s", ErrServiceNotConfigured, serviceName)
	}

	renderCtx := map[string]interface{}{
		"text":      text,
		"model":     tmpl.Model,
		"apiKey":    os.Getenv(tmpl.APIKeyEnv),
		"maxTokens": tmpl.MaxTokens,
	}

	req, err := renderRequest(tmpl, renderCtx)
	if err != nil {
		inv.logger.WithError(err).WithField("service", serviceName).Error("Malformed service template")
		metrics.Summaries.WithLabelValues(serviceName, "error").Inc()
		return "", err
	}

	backoff := retry.New(tmpl.Backoff(), tmpl.MaxAttempts)

	var result string
	err = backoff.Retry(ctx, func() error {
		var opErr error
		result, opErr = inv.execute(ctx, tmpl, req)
		return opErr
	}, func(err error) bool { return errors.Is(err, ErrRateLimited) })

	if err != nil {
		inv.logger.WithError(err).WithField("service", serviceName).Warn("AI service invocation failed")
		metrics.Summaries.WithLabelValues(serviceName, "error").Inc()
		return "", err
	}

	metrics.Summaries.WithLabelValues(serviceName, "ok").Inc()
	return result, nil
}

// Summarize invokes the configured default service.
func (inv *Invoker) Summarize(ctx context.Context, text string) (string, error) {
	return inv.Invoke(ctx, inv.config().Service, text)
}

// renderedRequest holds the concrete request pieces after template
// substitution.
type renderedRequest struct {
	method  string
	url     string
	headers map[string]string
	body    []byte
}

func renderRequest(tmpl models.ServiceTemplate, renderCtx map[string]interface{}) (*renderedRequest, error) {
	if tmpl.URL == "" {
		return nil, fmt.Errorf("service template has no url")
	}

	req := &renderedRequest{
		method:  tmpl.Method,
		url:     template.ParseString(tmpl.URL).RenderString(renderCtx),
		headers: make(map[string]string, len(tmpl.Headers)),
	}

	for key, value := range tmpl.Headers {
		req.headers[key] = template.ParseString(value).RenderString(renderCtx)
	}

	if tmpl.Body != nil {
		node, err := template.Parse(tmpl.Body)
		if err != nil {
			return nil, fmt.Errorf("invalid body template: %w", err)
		}
		raw, err := json.Marshal(node.Render(renderCtx))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal rendered body: %w", err)
		}
		req.body = raw
	}

	return req, nil
}

func (inv *Invoker) execute(ctx context.Context, tmpl models.ServiceTemplate, rendered *renderedRequest) (string, error) {
	var body io.Reader
	if rendered.body != nil {
		body = bytes.NewReader(rendered.body)
	}

	req, err := http.NewRequestWithContext(ctx, rendered.method, rendered.url, body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range rendered.headers {
		req.Header.Set(key, value)
	}
	if req.Header.Get("Content-Type") == "" && rendered.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := inv.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("%w (status 429)", ErrRateLimited)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("service returned status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	return extractResult(raw, tmpl.ResultPath)
}

// extractResult applies the template's dotted result path to the JSON
// response. An unset path returns the raw payload.
func extractResult(raw []byte, path string) (string, error) {
	if path == "" {
		return string(raw), nil
	}

	var payload interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	current := payload
	for _, part := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]interface{}:
			next, ok := node[part]
			if !ok {
				return "", fmt.Errorf("result path %q not found in response", path)
			}
			current = next
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return "", fmt.Errorf("result path %q not found in response", path)
			}
			current = node[idx]
		default:
			return "", fmt.Errorf("result path %q not found in response", path)
		}
	}

	if s, ok := current.(string); ok {
		return strings.TrimSpace(s), nil
	}
	return fmt.Sprint(current), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
