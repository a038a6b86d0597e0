package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/wolfman30/dermassist/internal/diagnosis"
	"github.com/wolfman30/dermassist/pkg/logging"
)

const (
	defaultMaxImageBytes = 10 << 20
	writeWait            = 5 * time.Second
	pingPeriod           = 30 * time.Second
)

type ctxKey struct{}

// HandlerConfig configures the session HTTP surface.
type HandlerConfig struct {
	Manager        *Manager
	MaxImageBytes  int64
	AllowedOrigins []string
	Logger         *logging.Logger
}

// Handler turns HTTP requests into workflow intents and returns snapshots.
type Handler struct {
	manager       *Manager
	maxImageBytes int64
	upgrader      websocket.Upgrader
	logger        *logging.Logger
}

// NewHandler builds the handler. The manager is required.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Manager == nil {
		panic("session: manager cannot be nil")
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = defaultMaxImageBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Handler{
		manager:       cfg.Manager,
		maxImageBytes: cfg.MaxImageBytes,
		logger:        cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
	}
}

// Routes mounts under /api/sessions.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Route("/{sessionID}", func(r chi.Router) {
		r.Use(h.loadSession)
		r.Get("/", h.Get)
		r.Post("/image", h.SelectImage)
		r.Delete("/image", h.ClearImage)
		r.Put("/language", h.SetLanguage)
		r.Post("/submit", h.Submit)
		r.Get("/audio", h.Audio)
		r.Post("/audio/toggle", h.ToggleAudio)
		r.Post("/audio/ended", h.AudioEnded)
		r.Post("/chat", h.SendChat)
		r.Get("/stream", h.Stream)
	})
	return r
}

func (h *Handler) loadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "sessionID")
		s, ok := h.manager.Get(id)
		if !ok {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, s)))
	})
}

func sessionFrom(r *http.Request) *Session {
	s, _ := r.Context().Value(ctxKey{}).(*Session)
	return s
}

// Create starts a session and returns its initial snapshot.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	s := h.manager.Create()
	writeJSON(w, http.StatusCreated, s.Snapshot())
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionFrom(r).Snapshot())
}

// SelectImage expects a multipart form with an "image" file part.
func (h *Handler) SelectImage(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	// Leave room for multipart framing around the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxImageBytes+1<<20)
	file, header, err := r.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "image exceeds upload limit")
			return
		}
		writeError(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxImageBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read image")
		return
	}
	if int64(len(data)) > h.maxImageBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "image exceeds upload limit")
		return
	}

	img, err := diagnosis.NewImageSelection(data, header.Header.Get("Content-Type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "image file is empty")
		return
	}
	if !strings.HasPrefix(img.MIMEType, "image/") {
		writeError(w, http.StatusUnsupportedMediaType, "file is not an image")
		return
	}
	if err := s.Prediction.SelectImage(img); err != nil {
		writeError(w, http.StatusBadRequest, "image file is empty")
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (h *Handler) ClearImage(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	s.Prediction.ClearImage()
	writeJSON(w, http.StatusOK, s.Snapshot())
}

type languageRequest struct {
	Language string `json:"language"`
}

func (h *Handler) SetLanguage(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	var req languageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	lang, err := diagnosis.ParseLanguage(req.Language)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unsupported language")
		return
	}
	if !s.Prediction.SetLanguage(lang) {
		writeError(w, http.StatusConflict, "language cannot change while an analysis is in progress")
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	if !s.Prediction.Submit(r.Context()) {
		writeError(w, http.StatusConflict, "nothing to submit or analysis already in progress")
		return
	}
	writeJSON(w, http.StatusAccepted, s.Snapshot())
}

// Audio streams the live clip's bytes.
func (h *Handler) Audio(w http.ResponseWriter, r *http.Request) {
	clip := sessionFrom(r).Playback.Clip()
	if clip == nil {
		writeError(w, http.StatusNotFound, "no audio available")
		return
	}
	w.Header().Set("Content-Type", clip.MIMEType)
	w.Header().Set("Content-Language", clip.Language.SpeechCode())
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(clip.Data)
}

func (h *Handler) ToggleAudio(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	if !s.ToggleAudio() {
		writeError(w, http.StatusConflict, "no audio available")
		return
	}
	writeJSON(w, http.StatusOK, s.Playback.State())
}

func (h *Handler) AudioEnded(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	s.AudioEnded()
	writeJSON(w, http.StatusOK, s.Playback.State())
}

type chatRequest struct {
	Message string `json:"message"`
}

func (h *Handler) SendChat(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if !s.Chat.Send(r.Context(), req.Message) {
		writeError(w, http.StatusConflict, "a reply is still pending")
		return
	}
	writeJSON(w, http.StatusAccepted, s.Chat.Snapshot())
}

type streamEvent struct {
	Type     string    `json:"type"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
}

// Stream pushes a snapshot on connect and after every state change.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "session_id", s.ID, "error", err)
		return
	}

	updates, unsubscribe := s.Subscribe()
	defer unsubscribe()

	// Inbound frames are ignored; the read loop only detects disconnects.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	defer func() {
		_ = conn.Close()
		<-gone
	}()

	send := func() error {
		snap := s.Snapshot()
		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return err
		}
		return conn.WriteJSON(streamEvent{Type: "snapshot", Snapshot: &snap})
	}
	if err := send(); err != nil {
		return
	}

	// Each tick pings the client and keeps the session from expiring while
	// it is being watched.
	ticker := time.NewTicker(h.manager.keepAliveInterval())
	defer ticker.Stop()
	for {
		select {
		case <-gone:
			return
		case <-s.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
				time.Now().Add(writeWait))
			return
		case <-updates:
			if err := send(); err != nil {
				h.logger.Debug("websocket write failed", "session_id", s.ID, "error", err)
				return
			}
		case <-ticker.C:
			h.manager.Touch(s.ID)
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := map[string]struct{}{}
	for _, origin := range allowed {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		if origin != "" {
			set[origin] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set[origin]; ok {
			return true
		}
		// Same-host connections are always allowed.
		return strings.HasSuffix(origin, "://"+r.Host)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
