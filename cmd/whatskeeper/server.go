package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"whatskeeper/internal/dispatch"
	"whatskeeper/internal/middleware"
	"whatskeeper/internal/models"
	"whatskeeper/internal/security"
	"whatskeeper/internal/service"
	"whatskeeper/pkg/whatsapp"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const maxUploadBytes = 32 << 20

// ServerSettings are the environment-driven server knobs
// (WHATSKEEPER_PORT and friends).
type ServerSettings struct {
	Port           int     `envconfig:"PORT" default:"8082"`
	RateLimitRPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"5"`
	RateLimitBurst int     `envconfig:"RATE_LIMIT_BURST" default:"10"`
}

// Server exposes the admin API: schedule CRUD, the webhook intake,
// health and metrics.
type Server struct {
	router   *mux.Router
	logger   *logrus.Logger
	config   service.ConfigSource
	schedule *dispatch.Store
	engine   *dispatch.Engine
	handler  *service.Handler
	settings ServerSettings
	server   *http.Server
}

func NewServer(settings ServerSettings, config service.ConfigSource, schedule *dispatch.Store, engine *dispatch.Engine, handler *service.Handler, logger *logrus.Logger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		logger:   logger,
		config:   config,
		schedule: schedule,
		engine:   engine,
		handler:  handler,
		settings: settings,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Observability(s.logger))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.router.HandleFunc("/webhook/whatsapp", s.handleWebhook()).Methods(http.MethodPost)

	api := s.router.PathPrefix("/api").Subrouter()
	limiter := middleware.NewRateLimiter(s.settings.RateLimitRPS, s.settings.RateLimitBurst)
	api.Use(limiter.Middleware)

	api.HandleFunc("/scheduled-messages", s.handleList()).Methods(http.MethodGet)
	api.HandleFunc("/schedule", s.handleCreate()).Methods(http.MethodPost)
	api.HandleFunc("/schedule/{id}", s.handleUpdate()).Methods(http.MethodPut)
	api.HandleFunc("/schedule/{id}", s.handleDelete()).Methods(http.MethodDelete)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.settings.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.settings.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"version": Version,
		})
	}
}

func (s *Server) handleList() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.schedule.List())
	}
}

// scheduleRequest is the JSON form of a schedule submission. The
// multipart form carries the same fields plus an optional file upload.
type scheduleRequest struct {
	Recipient   string  `json:"recipient"`
	Message     string  `json:"message"`
	ScheduledAt string  `json:"scheduledAt"`
	Attachment  *string `json:"attachment"`
}

func (s *Server) handleCreate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req scheduleRequest
		var err error
		if isMultipart(r) {
			req, err = s.parseMultipartSchedule(r)
		} else {
			err = json.NewDecoder(r.Body).Decode(&req)
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		if req.Recipient == "" || req.Message == "" || req.ScheduledAt == "" {
			writeError(w, http.StatusBadRequest, "recipient, message and scheduledAt are required")
			return
		}

		entry, err := s.schedule.Create(models.ScheduledEntry{
			Recipient:   req.Recipient,
			Message:     req.Message,
			Attachment:  req.Attachment,
			ScheduledAt: req.ScheduledAt,
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		// A just-created entry may already be due.
		s.engine.Trigger("api")

		writeJSON(w, http.StatusCreated, entry)
	}
}

func (s *Server) parseMultipartSchedule(r *http.Request) (scheduleRequest, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return scheduleRequest{}, fmt.Errorf("invalid multipart form: %w", err)
	}

	req := scheduleRequest{
		Recipient:   r.FormValue("recipient"),
		Message:     r.FormValue("message"),
		ScheduledAt: r.FormValue("scheduledAt"),
	}

	file, header, err := r.FormFile("attachment")
	if err == http.ErrMissingFile {
		return req, nil
	}
	if err != nil {
		return scheduleRequest{}, fmt.Errorf("invalid attachment: %w", err)
	}
	defer file.Close()

	name, err := s.saveAttachment(file, header.Filename)
	if err != nil {
		return scheduleRequest{}, err
	}
	req.Attachment = &name
	return req, nil
}

func (s *Server) saveAttachment(file io.Reader, rawName string) (string, error) {
	name := security.SafeFilename(filepath.Base(rawName))
	dir := s.config().AttachmentsDir

	if err := security.ValidatePathWithin(name, dir); err != nil {
		return "", fmt.Errorf("unsafe attachment name: %w", err)
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create attachments dir: %w", err)
	}

	out, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return "", fmt.Errorf("failed to store attachment: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, io.LimitReader(file, maxUploadBytes)); err != nil {
		return "", fmt.Errorf("failed to write attachment: %w", err)
	}
	return name, nil
}

func (s *Server) handleUpdate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		var patch dispatch.UpdatePatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		entry, err := s.schedule.Update(id, patch)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if entry == nil {
			writeError(w, http.StatusNotFound, "scheduled message not found")
			return
		}

		s.engine.Trigger("api")
		writeJSON(w, http.StatusOK, entry)
	}
}

func (s *Server) handleDelete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		found, err := s.schedule.Delete(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !found {
			writeError(w, http.StatusNotFound, "scheduled message not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var event whatsapp.WebhookEvent
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			writeError(w, http.StatusBadRequest, "invalid webhook payload")
			return
		}

		if event.Event != whatsapp.EventMessageCreate {
			w.WriteHeader(http.StatusOK)
			return
		}

		msg, err := whatsapp.ParseMessageEvent(&event)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid message payload")
			return
		}

		// The pipeline may wait on transcription; don't hold the
		// webhook open for it.
		go func() {
			if err := s.handler.HandleEvent(context.Background(), msg); err != nil {
				s.logger.WithError(err).Error("Failed to process message event")
			}
		}()

		w.WriteHeader(http.StatusOK)
	}
}

func isMultipart(r *http.Request) bool {
	contentType := r.Header.Get("Content-Type")
	return len(contentType) >= 19 && contentType[:19] == "multipart/form-data"
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
