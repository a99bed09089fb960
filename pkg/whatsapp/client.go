package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// Client is the messaging-platform collaborator: an opaque send
// primitive plus media and directory lookups.
type Client interface {
	SendText(ctx context.Context, chatID, text string) error
	SendMedia(ctx context.Context, chatID, mediaPath, caption string) error
	DownloadMedia(ctx context.Context, event *MessageEvent) ([]byte, string, error)
	GetChatName(ctx context.Context, chatID string) (string, error)
	GetContactName(ctx context.Context, userID string) (string, error)
}

// ClientConfig configures the WAHA-style HTTP client.
type ClientConfig struct {
	BaseURL     string
	APIKey      string
	SessionName string
	Timeout     time.Duration
}

type httpClient struct {
	baseURL string
	apiKey  string
	session string
	client  *http.Client
}

// NewClient returns a Client backed by a WAHA-style HTTP API.
func NewClient(cfg ClientConfig) Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	session := cfg.SessionName
	if session == "" {
		session = "default"
	}
	return &httpClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		session: session,
		client:  &http.Client{Timeout: timeout},
	}
}

type sendTextRequest struct {
	ChatID  string `json:"chatId"`
	Text    string `json:"text"`
	Session string `json:"session"`
}

type apiError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (c *httpClient) SendText(ctx context.Context, chatID, text string) error {
	payload, err := json.Marshal(sendTextRequest{ChatID: chatID, Text: text, Session: c.session})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/sendText", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.auth(req)

	return c.do(req)
}

func (c *httpClient) SendMedia(ctx context.Context, chatID, mediaPath, caption string) error {
	file, err := os.Open(mediaPath) // #nosec G304 -- path comes from the schedule store
	if err != nil {
		return fmt.Errorf("failed to open media file: %w", err)
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filepath.Base(mediaPath))
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("failed to copy file content: %w", err)
	}

	_ = writer.WriteField("chatId", chatID)
	_ = writer.WriteField("session", c.session)
	if caption != "" {
		_ = writer.WriteField("caption", caption)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/sendMedia", body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.auth(req)

	return c.do(req)
}

// DownloadMedia fetches the event's media payload and returns the raw
// bytes and MIME type.
func (c *httpClient) DownloadMedia(ctx context.Context, event *MessageEvent) ([]byte, string, error) {
	if event.Media == nil || event.Media.URL == "" {
		return nil, "", fmt.Errorf("event %s has no media reference", event.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, event.Media.URL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	c.auth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("media download failed with status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read media body: %w", err)
	}

	mimetype := event.Media.Mimetype
	if mimetype == "" {
		mimetype = resp.Header.Get("Content-Type")
	}
	return data, mimetype, nil
}

type chatInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (c *httpClient) GetChatName(ctx context.Context, chatID string) (string, error) {
	endpoint := fmt.Sprintf("%s/api/%s/chats/%s", c.baseURL, url.PathEscape(c.session), url.PathEscape(chatID))

	var info chatInfo
	if err := c.getJSON(ctx, endpoint, &info); err != nil {
		return "", err
	}
	if info.Name == "" {
		return "", fmt.Errorf("chat %s has no name", chatID)
	}
	return info.Name, nil
}

type contactInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Pushname string `json:"pushname"`
}

func (c *httpClient) GetContactName(ctx context.Context, userID string) (string, error) {
	endpoint := fmt.Sprintf("%s/api/contacts?contactId=%s&session=%s",
		c.baseURL, url.QueryEscape(userID), url.QueryEscape(c.session))

	var info contactInfo
	if err := c.getJSON(ctx, endpoint, &info); err != nil {
		return "", err
	}
	if info.Name != "" {
		return info.Name, nil
	}
	if info.Pushname != "" {
		return info.Pushname, nil
	}
	return "", fmt.Errorf("contact %s has no name", userID)
}

func (c *httpClient) auth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
}

func (c *httpClient) do(req *http.Request) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && (apiErr.Message != "" || apiErr.Error != "") {
			msg := apiErr.Message
			if msg == "" {
				msg = apiErr.Error
			}
			return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, msg)
		}
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	return nil
}

func (c *httpClient) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.auth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
