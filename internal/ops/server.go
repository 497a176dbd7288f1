// Package ops exposes the operator HTTP API: health, dashboard, history, and
// the pause switch. It replaces an interactive console; nothing here sits on
// the offer decision path.
package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"automatic/internal/config"
	"automatic/internal/domain"
	"automatic/internal/session"
	storepkg "automatic/internal/store"
)

// SessionStatus reports the supervisor's current state for the dashboard.
type SessionStatus interface {
	Status() (session.State, time.Time)
}

// Notifier mirrors pause/resume actions to the operator channel.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

type Server struct {
	cfg      config.Config
	store    storepkg.Store
	sessions SessionStatus
	notifier Notifier
	log      zerolog.Logger
}

func NewServer(cfg config.Config, store storepkg.Store, sessions SessionStatus, notifier Notifier, log zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		sessions: sessions,
		notifier: notifier,
		log:      log.With().Str("component", "ops").Logger(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/admin/login", s.handleAdminLogin)

	r.Group(func(protected chi.Router) {
		protected.Use(s.requireAdmin)
		protected.Get("/dashboard/summary", s.handleDashboardSummary)
		protected.Get("/resolutions", s.handleListResolutions)
		protected.Get("/events", s.handleListEvents)
		protected.Post("/bot/pause", s.handlePause)
		protected.Post("/bot/resume", s.handleResume)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Username != s.cfg.AdminUsername || req.Password != s.cfg.AdminPassword {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token, expiresAt, err := s.signAdminToken(req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create admin token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_at": expiresAt.Format(time.RFC3339),
		"type":       "Bearer",
	})
}

func (s *Server) handleDashboardSummary(w http.ResponseWriter, r *http.Request) {
	state, lastRenewal := s.sessions.Status()
	body := map[string]interface{}{
		"session_state": string(state),
		"paused":        s.store.IsPaused(),
		"resolutions":   s.store.ListResolutions(20),
	}
	if !lastRenewal.IsZero() {
		body["last_renewal"] = lastRenewal.Format(time.RFC3339)
	}
	if summary, ok := s.store.LastSummary(); ok {
		body["offer_counts"] = summary
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleListResolutions(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 20)
	list := s.store.ListResolutions(limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"resolutions": list,
		"count":       len(list),
	})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 20)
	list := s.store.ListEvents(limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": list,
		"count":  len(list),
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.store.SetPaused(true)
	event := s.store.AppendEvent(domain.EventBotPaused, map[string]interface{}{
		"paused": true,
		"source": "admin",
	})
	_ = s.notifier.Notify(r.Context(), "Agent paused: incoming offers from non-owners are ignored.")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"event_id": event.ID,
	})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.store.SetPaused(false)
	event := s.store.AppendEvent(domain.EventBotPaused, map[string]interface{}{
		"paused": false,
		"source": "admin",
	})
	_ = s.notifier.Notify(r.Context(), "Agent resumed: offers are processed again.")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"event_id": event.ID,
	})
}

func (s *Server) signAdminToken(subject string) (string, time.Time, error) {
	expiresAt := time.Now().UTC().Add(12 * time.Hour)
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": expiresAt.Unix(),
		"iat": time.Now().UTC().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		parsed, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
			return []byte(s.cfg.JWTSecret), nil
		})
		if err != nil || !parsed.Valid {
			writeError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func parseInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func decodeJSON(r *http.Request, target interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
