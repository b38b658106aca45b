package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"run-route/internal/geo"
	"run-route/internal/run-service/domain"
	"run-route/internal/run-service/interval"
	"run-route/internal/run-service/planner"
	"run-route/internal/run-service/service"
	"run-route/internal/run-service/tracking"
)

// PlanRequest carries the start point and target distance. Lat and Lng are
// required; 0,0 is a real place and never a default.
type PlanRequest struct {
	Lat       *float64 `json:"lat"`
	Lng       *float64 `json:"lng"`
	DistanceM float64  `json:"distance_m"`
}

type WaypointsRequest struct {
	Waypoints []geo.Coordinate `json:"waypoints"`
}

type ResizeRequest struct {
	WaypointCount int `json:"waypoint_count"`
}

type StartRunRequest struct {
	Goal service.Goal `json:"goal"`
}

type HistoryResponse struct {
	Runs []*domain.RunRecord `json:"runs"`
}

// decode reads an optional JSON body; an empty body leaves v untouched.
func decode(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(v)
}

var errStartRequired = errors.New("lat and lng are required")

func (req PlanRequest) start() geo.Coordinate {
	return geo.Coordinate{Lat: *req.Lat, Lng: *req.Lng}
}

// decodePlan reads a PlanRequest and fills in the default distance. It
// writes the 400 itself and reports false when the body is unusable.
func decodePlan(w http.ResponseWriter, r *http.Request) (PlanRequest, bool) {
	var req PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if req.Lat == nil || req.Lng == nil {
		writeError(w, http.StatusBadRequest, errStartRequired.Error())
		return req, false
	}
	if req.DistanceM == 0 {
		req.DistanceM = planner.DefaultTargetDistance
	}
	return req, true
}

func (h *Handler) PlanRoute(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePlan(w, r)
	if !ok {
		return
	}

	snap, err := h.svc.PlanRoute(r.Context(), runnerID(r), req.start(), req.DistanceM)
	if err != nil {
		h.fail(w, r, "plan_route", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) GenerateOptions(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePlan(w, r)
	if !ok {
		return
	}

	snap, err := h.svc.GenerateOptions(r.Context(), runnerID(r), req.start(), req.DistanceM)
	if err != nil {
		h.fail(w, r, "generate_options", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) SelectOption(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.SelectOption(r.Context(), runnerID(r), r.PathValue("option_id"))
	if err != nil {
		h.fail(w, r, "select_option", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) ToggleDirection(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.ToggleDirection(runnerID(r))
	if err != nil {
		h.fail(w, r, "toggle_direction", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) UpdateWaypoints(w http.ResponseWriter, r *http.Request) {
	var req WaypointsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	snap, err := h.svc.UpdateWaypoints(r.Context(), runnerID(r), req.Waypoints)
	if err != nil {
		h.fail(w, r, "update_waypoints", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) ResizeRoute(w http.ResponseWriter, r *http.Request) {
	var req ResizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	snap, err := h.svc.ResizeRoute(r.Context(), runnerID(r), req.WaypointCount)
	if err != nil {
		h.fail(w, r, "resize_route", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) CurrentRoute(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.CurrentRoute(runnerID(r))
	if err != nil {
		h.fail(w, r, "current_route", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) RouteDetails(w http.ResponseWriter, r *http.Request) {
	details, err := h.svc.RouteDetails(runnerID(r))
	if err != nil {
		h.fail(w, r, "route_details", err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (h *Handler) RouteGPX(w http.ResponseWriter, r *http.Request) {
	data, err := h.svc.RouteGPX(runnerID(r))
	if err != nil {
		h.fail(w, r, "route_gpx", err)
		return
	}
	writeGPX(w, "route.gpx", data)
}

func (h *Handler) RunGPX(w http.ResponseWriter, r *http.Request) {
	data, err := h.svc.RunGPX(runnerID(r))
	if err != nil {
		h.fail(w, r, "run_gpx", err)
		return
	}
	writeGPX(w, "run.gpx", data)
}

func writeGPX(w http.ResponseWriter, filename string, data []byte) {
	w.Header().Set("Content-Type", "application/gpx+xml")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	var req StartRunRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	status, err := h.svc.StartRun(r.Context(), runnerID(r), req.Goal)
	if err != nil {
		h.fail(w, r, "start_run", err)
		return
	}
	writeJSON(w, http.StatusCreated, status)
}

func (h *Handler) RunState(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.RunState(runnerID(r))
	if err != nil {
		h.fail(w, r, "run_state", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) RecordLocation(w http.ResponseWriter, r *http.Request) {
	if !h.allowFix(runnerID(r)) {
		writeError(w, http.StatusTooManyRequests, errTooManyFixes.Error())
		return
	}

	var fix tracking.Fix
	if err := json.NewDecoder(r.Body).Decode(&fix); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	status, err := h.svc.RecordLocation(r.Context(), runnerID(r), fix)
	if err != nil {
		h.fail(w, r, "record_location", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) StopRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.svc.StopRun(r.Context(), runnerID(r))
	if err != nil {
		h.fail(w, r, "stop_run", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs, err := h.svc.History(r.Context(), runnerID(r), limit)
	if err != nil {
		h.fail(w, r, "run_history", err)
		return
	}
	if runs == nil {
		runs = []*domain.RunRecord{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Runs: runs})
}

func (h *Handler) StartWorkout(w http.ResponseWriter, r *http.Request) {
	var spec interval.Spec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	state, err := h.svc.StartWorkout(runnerID(r), spec)
	if err != nil {
		h.fail(w, r, "start_workout", err)
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

func (h *Handler) ControlWorkout(w http.ResponseWriter, r *http.Request) {
	state, err := h.svc.ControlWorkout(runnerID(r), interval.Command(r.PathValue("command")))
	if err != nil {
		h.fail(w, r, "control_workout", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) WorkoutState(w http.ResponseWriter, r *http.Request) {
	state, err := h.svc.WorkoutState(runnerID(r))
	if err != nil {
		h.fail(w, r, "workout_state", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	h.svc.CloseSession(runnerID(r))
	w.WriteHeader(http.StatusNoContent)
}
