package main

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"whatskeeper/internal/backup"
	"whatskeeper/internal/dispatch"
	"whatskeeper/internal/models"
	"whatskeeper/internal/service"
	"whatskeeper/internal/transcribe"
	"whatskeeper/pkg/whatsapp"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	mu    sync.Mutex
	texts []string
}

func (c *stubClient) SendText(ctx context.Context, chatID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, chatID+": "+text)
	return nil
}

func (c *stubClient) SendMedia(ctx context.Context, chatID, mediaPath, caption string) error {
	return nil
}

func (c *stubClient) DownloadMedia(ctx context.Context, event *whatsapp.MessageEvent) ([]byte, string, error) {
	return []byte("media"), "image/jpeg", nil
}

func (c *stubClient) GetChatName(ctx context.Context, chatID string) (string, error) {
	return chatID, nil
}

func (c *stubClient) GetContactName(ctx context.Context, userID string) (string, error) {
	return userID, nil
}

type stubDirectory struct{}

func (stubDirectory) ResolveChatName(ctx context.Context, chatID string) string { return chatID }
func (stubDirectory) ResolveUserName(ctx context.Context, userID string) string { return userID }

type stubTranscriber struct{}

func (stubTranscriber) Transcribe(ctx context.Context, mediaPath, language string) <-chan transcribe.Result {
	out := make(chan transcribe.Result, 1)
	out <- transcribe.Result{Text: "transcript"}
	return out
}

type stubSummarizer struct{}

func (stubSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	return "summary", nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

type serverFixture struct {
	server *Server
	store  *backup.Store
	client *stubClient
	cfg    *models.Config
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	dir := t.TempDir()
	cfg := &models.Config{
		DataDir:        filepath.Join(dir, "backup"),
		AttachmentsDir: filepath.Join(dir, "attachments"),
		Chats:          map[string]models.ChatOptions{},
		Dispatch:       models.DispatchConfig{SweepIntervalSec: 60, WatchIntervalSec: 60},
	}
	configSource := func() *models.Config { return cfg }

	client := &stubClient{}
	store := backup.NewStore(cfg.DataDir, client, quietLogger())
	scheduleStore := dispatch.NewStore(filepath.Join(dir, "scheduled-messages.json"), quietLogger())
	engine := dispatch.NewEngine(scheduleStore, client, configSource, quietLogger())
	handler := service.NewHandler(configSource, store, stubDirectory{}, stubTranscriber{}, stubSummarizer{}, client, quietLogger())

	settings := ServerSettings{Port: 0, RateLimitRPS: 1000, RateLimitBurst: 1000}
	return &serverFixture{
		server: NewServer(settings, configSource, scheduleStore, engine, handler, quietLogger()),
		store:  store,
		client: client,
		cfg:    cfg,
	}
}

func (f *serverFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	r := httptest.NewRequest(method, path, reader)
	r.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.router.ServeHTTP(rec, r)
	return rec
}

func TestHealth(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestScheduleCRUD(t *testing.T) {
	f := newServerFixture(t)

	// Create.
	rec := f.do(t, "POST", "/api/schedule", map[string]string{
		"recipient":   "111@c.us",
		"message":     "hello",
		"scheduledAt": "2030-01-01T10:00",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created models.ScheduledEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "2030-01-01T10:00:00", created.ScheduledAt)
	assert.Equal(t, models.EntryStatusApproved, created.Status)

	// List.
	rec = f.do(t, "GET", "/api/scheduled-messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []models.ScheduledEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)

	// Update.
	rec = f.do(t, "PUT", "/api/schedule/"+created.ID, map[string]string{"message": "changed"})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated models.ScheduledEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "changed", updated.Message)

	// Delete.
	rec = f.do(t, "DELETE", "/api/schedule/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, "GET", "/api/scheduled-messages", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Empty(t, listed)
}

func TestCreateValidation(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, "POST", "/api/schedule", map[string]string{"recipient": "111@c.us"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "POST", "/api/schedule", map[string]string{
		"recipient":   "111@c.us",
		"message":     "hi",
		"scheduledAt": "not a time",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateAndDeleteMissingEntry(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, "PUT", "/api/schedule/ghost", map[string]string{"message": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, "DELETE", "/api/schedule/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateMultipartWithAttachment(t *testing.T) {
	f := newServerFixture(t)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	require.NoError(t, form.WriteField("recipient", "555@g.us"))
	require.NoError(t, form.WriteField("message", "see attached"))
	require.NoError(t, form.WriteField("scheduledAt", "2030-01-01T10:00"))
	part, err := form.CreateFormFile("attachment", `bad/na:me?.pdf`)
	require.NoError(t, err)
	_, err = part.Write([]byte("pdf-bytes"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	r := httptest.NewRequest("POST", "/api/schedule", &buf)
	r.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	f.server.router.ServeHTTP(rec, r)

	require.Equal(t, http.StatusCreated, rec.Code)

	var created models.ScheduledEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotNil(t, created.Attachment)
	assert.Equal(t, "na_me_.pdf", *created.Attachment)

	data, err := os.ReadFile(filepath.Join(f.cfg.AttachmentsDir, *created.Attachment))
	require.NoError(t, err)
	assert.Equal(t, []byte("pdf-bytes"), data)
}

func TestWebhookRecordsMessage(t *testing.T) {
	f := newServerFixture(t)

	payload := map[string]interface{}{
		"event":   "message.any",
		"session": "default",
		"payload": map[string]interface{}{
			"id":        "w1",
			"timestamp": 1767225600,
			"from":      "111@c.us",
			"to":        "me@c.us",
			"body":      "hi there",
			"type":      "chat",
		},
	}

	rec := f.do(t, "POST", "/webhook/whatsapp", payload)
	require.Equal(t, http.StatusOK, rec.Code)

	// Processing is asynchronous.
	require.Eventually(t, func() bool {
		records, err := f.store.Read("111@c.us")
		return err == nil && len(records) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, "POST", "/webhook/whatsapp", map[string]interface{}{
		"event":   "session.status",
		"payload": map[string]interface{}{},
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookRejectsBadPayload(t *testing.T) {
	f := newServerFixture(t)

	r := httptest.NewRequest("POST", "/webhook/whatsapp", bytes.NewReader([]byte("{broken")))
	rec := httptest.NewRecorder()
	f.server.router.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimitOnAdminAPI(t *testing.T) {
	f := newServerFixture(t)

	// Rebuild the routes with a tight per-client budget.
	settings := ServerSettings{Port: 0, RateLimitRPS: 1, RateLimitBurst: 1}
	rebuilt := NewServer(settings, f.server.config, f.server.schedule, f.server.engine, f.server.handler, quietLogger())

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		r := httptest.NewRequest("GET", "/api/scheduled-messages", nil)
		r.RemoteAddr = "10.0.0.9:1000"
		rec := httptest.NewRecorder()
		rebuilt.router.ServeHTTP(rec, r)
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestCreateTriggersImmediateDispatch(t *testing.T) {
	f := newServerFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.server.engine.Start(ctx)

	past := time.Now().Add(-time.Minute).Format(models.ScheduleTimeLayout)
	rec := f.do(t, "POST", "/api/schedule", map[string]string{
		"recipient":   "111@c.us",
		"message":     "now",
		"scheduledAt": past,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	require.Eventually(t, func() bool {
		f.client.mu.Lock()
		defer f.client.mu.Unlock()
		return len(f.client.texts) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
