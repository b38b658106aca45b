// Package handler exposes the run service over HTTP and WebSocket.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"run-route/internal/geo"
	"run-route/internal/run-service/analyzer"
	"run-route/internal/run-service/companion"
	"run-route/internal/run-service/domain"
	"run-route/internal/run-service/interval"
	"run-route/internal/run-service/pace"
	"run-route/internal/run-service/planner"
	"run-route/internal/run-service/service"
	"run-route/internal/run-service/tracking"
	"run-route/pkg/auth"
	"run-route/pkg/logger"
	"run-route/pkg/ratelimit"
	"run-route/pkg/websocket"
)

// RunService is what the handlers drive; *service.RunService implements it.
type RunService interface {
	PlanRoute(ctx context.Context, runnerID string, start geo.Coordinate, targetDistance float64) (planner.Snapshot, error)
	GenerateOptions(ctx context.Context, runnerID string, start geo.Coordinate, targetDistance float64) (planner.Snapshot, error)
	SelectOption(ctx context.Context, runnerID, optionID string) (planner.Snapshot, error)
	ToggleDirection(runnerID string) (planner.Snapshot, error)
	UpdateWaypoints(ctx context.Context, runnerID string, waypoints []geo.Coordinate) (planner.Snapshot, error)
	ResizeRoute(ctx context.Context, runnerID string, count int) (planner.Snapshot, error)
	CurrentRoute(runnerID string) (planner.Snapshot, error)
	RouteDetails(runnerID string) (analyzer.RouteDetails, error)
	RouteGPX(runnerID string) ([]byte, error)
	StartRun(ctx context.Context, runnerID string, goal service.Goal) (service.RunStatus, error)
	RecordLocation(ctx context.Context, runnerID string, fix tracking.Fix) (service.RunStatus, error)
	StopRun(ctx context.Context, runnerID string) (*domain.RunRecord, error)
	RunGPX(runnerID string) ([]byte, error)
	RunState(runnerID string) (service.RunStatus, error)
	History(ctx context.Context, runnerID string, limit int) ([]*domain.RunRecord, error)
	HandleCompanionAction(ctx context.Context, action companion.Action) error
	StartWorkout(runnerID string, spec interval.Spec) (interval.State, error)
	ControlWorkout(runnerID string, cmd interval.Command) (interval.State, error)
	WorkoutState(runnerID string) (interval.State, error)
	SpeechDone(runnerID string)
	CloseSession(runnerID string)
}

var errTooManyFixes = errors.New("too many location updates")

type Handler struct {
	svc     RunService
	jwt     *auth.JWTManager
	sockets *websocket.Manager
	fixes   *ratelimit.Limiter
	log     logger.Logger
}

// New builds a Handler. fixes throttles location updates per runner; nil
// accepts every update.
func New(svc RunService, jwtManager *auth.JWTManager, sockets *websocket.Manager, fixes *ratelimit.Limiter, log logger.Logger) *Handler {
	return &Handler{
		svc:     svc,
		jwt:     jwtManager,
		sockets: sockets,
		fixes:   fixes,
		log:     log,
	}
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)

	// Development helper: issues tokens without credentials.
	mux.HandleFunc("POST /auth/token", h.GenerateToken)

	runner := func(fn http.HandlerFunc) http.Handler {
		return h.jwt.AuthMiddleware(fn, auth.RoleRunner)
	}

	mux.Handle("POST /routes", runner(h.PlanRoute))
	mux.Handle("POST /routes/options", runner(h.GenerateOptions))
	mux.Handle("POST /routes/options/{option_id}/select", runner(h.SelectOption))
	mux.Handle("POST /routes/reverse", runner(h.ToggleDirection))
	mux.Handle("PUT /routes/waypoints", runner(h.UpdateWaypoints))
	mux.Handle("POST /routes/resize", runner(h.ResizeRoute))
	mux.Handle("GET /routes/current", runner(h.CurrentRoute))
	mux.Handle("GET /routes/current/details", runner(h.RouteDetails))
	mux.Handle("GET /routes/current/gpx", runner(h.RouteGPX))

	mux.Handle("POST /runs", runner(h.StartRun))
	mux.Handle("GET /runs/current", runner(h.RunState))
	mux.Handle("POST /runs/location", runner(h.RecordLocation))
	mux.Handle("POST /runs/stop", runner(h.StopRun))
	mux.Handle("GET /runs/current/gpx", runner(h.RunGPX))
	mux.Handle("GET /runs/history", runner(h.History))
	mux.Handle("POST /runs/workout", runner(h.StartWorkout))
	mux.Handle("GET /runs/workout", runner(h.WorkoutState))
	mux.Handle("POST /runs/workout/{command}", runner(h.ControlWorkout))

	mux.Handle("DELETE /session", runner(h.CloseSession))

	mux.HandleFunc("GET /ws/runners/{runner_id}", h.Socket)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type TokenRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
}

func (h *Handler) GenerateToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.Role == "" {
		req.Role = string(auth.RoleRunner)
	}
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, err := h.jwt.GenerateToken(req.UserID, role)
	if err != nil {
		h.log.Error("generate_token_failed", err)
		writeError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	writeJSON(w, http.StatusOK, TokenResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(h.jwt.TokenDuration()).Format(time.RFC3339),
		UserID:    req.UserID,
		Role:      string(role),
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{
		"error":   http.StatusText(code),
		"message": msg,
	})
}

// statusFor maps service errors to HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, planner.ErrInvalidDistance),
		errors.Is(err, planner.ErrTooFewWaypoints),
		errors.Is(err, service.ErrInvalidWaypointCount),
		errors.Is(err, pace.ErrInvalidGoal),
		errors.Is(err, companion.ErrUnknownAction),
		errors.Is(err, interval.ErrInvalidWorkout),
		errors.Is(err, interval.ErrUnknownPreset),
		errors.Is(err, interval.ErrUnknownCommand):
		return http.StatusBadRequest
	case errors.Is(err, planner.ErrNoActiveRoute),
		errors.Is(err, planner.ErrOptionNotFound),
		errors.Is(err, service.ErrNoActiveRun),
		errors.Is(err, interval.ErrNoWorkout):
		return http.StatusNotFound
	case errors.Is(err, service.ErrRunInProgress),
		errors.Is(err, planner.ErrRouteLocked),
		errors.Is(err, interval.ErrWorkoutFinished):
		return http.StatusConflict
	case errors.Is(err, service.ErrServiceClosed),
		errors.Is(err, planner.ErrSessionStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Internal errors are logged and
// reported without detail.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, action string, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		h.log.WithFields(logger.LogFields{"path": r.URL.Path}).Error(action, err)
		writeError(w, code, "internal error")
		return
	}
	writeError(w, code, err.Error())
}

func (h *Handler) allowFix(runnerID string) bool {
	return h.fixes == nil || h.fixes.Allow(runnerID)
}

// runnerID is the authenticated caller; AuthMiddleware guarantees claims.
func runnerID(r *http.Request) string {
	claims, _ := auth.GetClaims(r.Context())
	return claims.UserID
}
