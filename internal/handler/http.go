package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/guild-achievements/internal/domain"
	"github.com/guild-achievements/internal/service"
	"github.com/guild-achievements/internal/websocket"
)

const defaultEventLimit = 50

// EventLog lists recorded achievement events
type EventLog interface {
	ListEvents(ctx context.Context, communityID, memberID string, limit int) ([]domain.AuditEntry, error)
}

// Handler provides HTTP handlers for the achievements API
type Handler struct {
	service *service.AchievementService
	hub     *websocket.Hub
	events  EventLog
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler. events may be nil when no event
// log is configured.
func NewHandler(service *service.AchievementService, hub *websocket.Hub, events EventLog, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		hub:     hub,
		events:  events,
		logger:  logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// GrantRequest is the body of a grant call
type GrantRequest struct {
	MemberID  string `json:"member_id"`
	ChannelID string `json:"channel_id,omitempty"`
}

// GrantResponse reports whether the grant changed anything
type GrantResponse struct {
	Granted     bool                     `json:"granted"`
	Achievement domain.AchievementRecord `json:"achievement"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)
	r.Get("/ws", h.HandleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/events", h.PostEvent)

		r.Route("/communities/{communityID}", func(r chi.Router) {
			r.Route("/achievements", func(r chi.Router) {
				r.Post("/", h.CreateAchievement)
				r.Get("/", h.ListAchievements)

				r.Route("/{achievementID}", func(r chi.Router) {
					r.Get("/", h.GetAchievement)
					r.Delete("/", h.DeleteAchievement)
					r.Post("/grant", h.GrantAchievement)

					r.Get("/progress/{memberID}", h.GetProgress)
					r.Delete("/progress/{memberID}", h.DeleteProgress)
					r.Get("/completion/{memberID}", h.GetCompletion)
					r.Delete("/completion/{memberID}", h.DeleteCompletion)
				})
			})

			r.Route("/members/{memberID}", func(r chi.Router) {
				r.Get("/progresses", h.ListMemberProgresses)
				r.Get("/completions", h.ListMemberCompletions)
				r.Get("/events", h.ListMemberEvents)
			})
		})

		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeSuccess(w http.ResponseWriter, data any) {
	h.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: data})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	resp := APIResponse{Success: false, Error: err.Error()}
	var achievementsErr *domain.AchievementsError
	if errors.As(err, &achievementsErr) {
		resp.Code = achievementsErr.Code
	}
	h.writeJSON(w, status, resp)
}

// writeServiceError maps service errors onto status codes. Unexpected
// errors are logged and hidden from the caller.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, action string, err error) {
	switch {
	case domain.IsValidationError(err):
		h.writeError(w, http.StatusBadRequest, err)
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, err)
	default:
		h.logger.Error("failed to "+action,
			"error", err,
			"request_id", middleware.GetReqID(r.Context()),
		)
		h.writeJSON(w, http.StatusInternalServerError, APIResponse{Success: false, Error: "internal server error"})
	}
}

// achievement resolves the achievement named by the URL, writing the error
// response itself when it cannot
func (h *Handler) achievement(w http.ResponseWriter, r *http.Request) (*service.Achievement, bool) {
	communityID := chi.URLParam(r, "communityID")
	achievementID, err := strconv.Atoi(chi.URLParam(r, "achievementID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, domain.InvalidValue("achievement_id", "must be an integer"))
		return nil, false
	}

	a, ok, err := h.service.Get(r.Context(), achievementID, communityID)
	if err != nil {
		h.writeServiceError(w, r, "load achievement", err)
		return nil, false
	}
	if !ok {
		h.writeError(w, http.StatusNotFound, domain.TargetNotFound(achievementID, communityID))
		return nil, false
	}
	return a, true
}

func records(achievements []*service.Achievement) []domain.AchievementRecord {
	out := make([]domain.AchievementRecord, 0, len(achievements))
	for _, a := range achievements {
		out = append(out, a.Record())
	}
	return out
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"total_connections": h.hub.GetTotalConnections(),
	}
	if communityID := r.URL.Query().Get("community_id"); communityID != "" {
		stats["subscribers"] = h.hub.GetSubscriberCount(communityID)
	}
	h.writeSuccess(w, stats)
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck reports ready once the storage backend answers a read
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if _, err := h.service.Store().Keys(r.Context(), ""); err != nil {
		h.logger.Warn("storage not ready", "error", err)
		h.writeJSON(w, http.StatusServiceUnavailable, APIResponse{Success: false, Error: "storage unavailable"})
		return
	}
	h.writeSuccess(w, map[string]string{"status": "ready", "backend": h.service.Store().Backend().Name()})
}

// PostEvent feeds a platform event into the achievement service
func (h *Handler) PostEvent(w http.ResponseWriter, r *http.Request) {
	var event domain.PlatformEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.InvalidValue("body", "must be a JSON event"))
		return
	}

	if err := h.service.HandleEvent(r.Context(), event); err != nil {
		h.writeServiceError(w, r, "handle event", err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, APIResponse{Success: true, Data: map[string]string{"status": "accepted"}})
}

// CreateAchievement handles achievement creation
func (h *Handler) CreateAchievement(w http.ResponseWriter, r *http.Request) {
	var input domain.AchievementInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.InvalidValue("body", "must be a JSON achievement"))
		return
	}

	a, err := h.service.Create(r.Context(), chi.URLParam(r, "communityID"), input)
	if err != nil {
		h.writeServiceError(w, r, "create achievement", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{Success: true, Data: a.Record()})
}

// ListAchievements returns a community's achievements, fuzzily filtered by ?q=
func (h *Handler) ListAchievements(w http.ResponseWriter, r *http.Request) {
	achievements, err := h.service.Search(r.Context(), chi.URLParam(r, "communityID"), r.URL.Query().Get("q"))
	if err != nil {
		h.writeServiceError(w, r, "list achievements", err)
		return
	}
	h.writeSuccess(w, records(achievements))
}

// GetAchievement returns an achievement by ID
func (h *Handler) GetAchievement(w http.ResponseWriter, r *http.Request) {
	a, ok := h.achievement(w, r)
	if !ok {
		return
	}
	h.writeSuccess(w, a.Record())
}

// DeleteAchievement removes an achievement from its community
func (h *Handler) DeleteAchievement(w http.ResponseWriter, r *http.Request) {
	a, ok := h.achievement(w, r)
	if !ok {
		return
	}
	if err := a.Delete(r.Context(), ""); err != nil {
		h.writeServiceError(w, r, "delete achievement", err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "deleted"})
}

// GrantAchievement completes an achievement for a member
func (h *Handler) GrantAchievement(w http.ResponseWriter, r *http.Request) {
	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.InvalidValue("body", "must be a JSON grant request"))
		return
	}

	a, ok := h.achievement(w, r)
	if !ok {
		return
	}

	granted, err := a.Grant(r.Context(), req.MemberID, req.ChannelID)
	if err != nil {
		h.writeServiceError(w, r, "grant achievement", err)
		return
	}
	h.writeSuccess(w, GrantResponse{Granted: granted, Achievement: a.Record()})
}

// GetProgress returns a member's progress on an achievement
func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	a, ok := h.achievement(w, r)
	if !ok {
		return
	}
	entry, err := a.Progresses.Get(r.Context(), chi.URLParam(r, "memberID"))
	if err != nil {
		h.writeServiceError(w, r, "get progress", err)
		return
	}
	h.writeSuccess(w, entry)
}

// DeleteProgress removes a member's progress on an achievement
func (h *Handler) DeleteProgress(w http.ResponseWriter, r *http.Request) {
	a, ok := h.achievement(w, r)
	if !ok {
		return
	}
	entry, err := a.Progresses.Delete(r.Context(), chi.URLParam(r, "memberID"))
	if err != nil {
		h.writeServiceError(w, r, "delete progress", err)
		return
	}
	h.writeSuccess(w, entry)
}

// GetCompletion returns a member's completion of an achievement
func (h *Handler) GetCompletion(w http.ResponseWriter, r *http.Request) {
	a, ok := h.achievement(w, r)
	if !ok {
		return
	}
	entry, err := a.FinishedCompletions.Get(r.Context(), chi.URLParam(r, "memberID"))
	if err != nil {
		h.writeServiceError(w, r, "get completion", err)
		return
	}
	h.writeSuccess(w, entry)
}

// DeleteCompletion removes a member's completion entry of an achievement
func (h *Handler) DeleteCompletion(w http.ResponseWriter, r *http.Request) {
	a, ok := h.achievement(w, r)
	if !ok {
		return
	}
	entry, err := a.FinishedCompletions.Delete(r.Context(), chi.URLParam(r, "memberID"))
	if err != nil {
		h.writeServiceError(w, r, "delete completion", err)
		return
	}
	h.writeSuccess(w, entry)
}

// ListMemberProgresses returns every progress entry of a member
func (h *Handler) ListMemberProgresses(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.MemberProgresses(r.Context(), chi.URLParam(r, "communityID"), chi.URLParam(r, "memberID"))
	if err != nil {
		h.writeServiceError(w, r, "list progresses", err)
		return
	}
	h.writeSuccess(w, entries)
}

// ListMemberCompletions returns every completion entry of a member
func (h *Handler) ListMemberCompletions(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.MemberCompletions(r.Context(), chi.URLParam(r, "communityID"), chi.URLParam(r, "memberID"))
	if err != nil {
		h.writeServiceError(w, r, "list completions", err)
		return
	}
	h.writeSuccess(w, entries)
}

// ListMemberEvents returns the member's recorded achievement events
func (h *Handler) ListMemberEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		h.writeJSON(w, http.StatusNotImplemented, APIResponse{Success: false, Error: "event log is not enabled"})
		return
	}

	limit := defaultEventLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	entries, err := h.events.ListEvents(r.Context(), chi.URLParam(r, "communityID"), chi.URLParam(r, "memberID"), limit)
	if err != nil {
		h.writeServiceError(w, r, "list events", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	h.writeSuccess(w, entries)
}
