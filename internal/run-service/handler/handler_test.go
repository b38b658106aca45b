package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"run-route/internal/geo"
	"run-route/internal/run-service/analyzer"
	"run-route/internal/run-service/companion"
	"run-route/internal/run-service/domain"
	"run-route/internal/run-service/interval"
	"run-route/internal/run-service/navigation"
	"run-route/internal/run-service/pace"
	"run-route/internal/run-service/planner"
	"run-route/internal/run-service/service"
	"run-route/internal/run-service/tracking"
	"run-route/pkg/auth"
	"run-route/pkg/clock"
	"run-route/pkg/logger"
	"run-route/pkg/ratelimit"
	"run-route/pkg/websocket"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeService records calls and fails with err when set. Handlers run on
// server goroutines, so every field is guarded by mu.
type fakeService struct {
	mu   sync.Mutex
	err  error
	seen seen
}

type seen struct {
	calls   []string
	start   geo.Coordinate
	target  float64
	goal    service.Goal
	fix     tracking.Fix
	actions []companion.Action
	limit   int
	workout interval.Spec
}

func (f *fakeService) record(call string, update func(*seen)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen.calls = append(f.seen.calls, call)
	if update != nil {
		update(&f.seen)
	}
	return f.err
}

func (f *fakeService) failWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeService) observed() seen {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen
}

func snapshotAt(start geo.Coordinate, target float64) planner.Snapshot {
	return planner.Snapshot{
		TargetDistance: target,
		Strategy:       planner.Balanced,
		Waypoints:      []geo.Coordinate{start, {Lat: start.Lat + 0.01, Lng: start.Lng}},
	}
}

func (f *fakeService) PlanRoute(ctx context.Context, runnerID string, start geo.Coordinate, target float64) (planner.Snapshot, error) {
	err := f.record("plan:"+runnerID, func(s *seen) { s.start, s.target = start, target })
	return snapshotAt(start, target), err
}

func (f *fakeService) GenerateOptions(ctx context.Context, runnerID string, start geo.Coordinate, target float64) (planner.Snapshot, error) {
	err := f.record("options:"+runnerID, func(s *seen) { s.start, s.target = start, target })
	return snapshotAt(start, target), err
}

func (f *fakeService) SelectOption(ctx context.Context, runnerID, optionID string) (planner.Snapshot, error) {
	return planner.Snapshot{SelectedID: optionID}, f.record("select:"+optionID, nil)
}

func (f *fakeService) ToggleDirection(runnerID string) (planner.Snapshot, error) {
	return planner.Snapshot{}, f.record("toggle", nil)
}

func (f *fakeService) UpdateWaypoints(ctx context.Context, runnerID string, wps []geo.Coordinate) (planner.Snapshot, error) {
	return planner.Snapshot{Waypoints: wps}, f.record(fmt.Sprintf("waypoints:%d", len(wps)), nil)
}

func (f *fakeService) ResizeRoute(ctx context.Context, runnerID string, count int) (planner.Snapshot, error) {
	return planner.Snapshot{}, f.record(fmt.Sprintf("resize:%d", count), nil)
}

func (f *fakeService) CurrentRoute(runnerID string) (planner.Snapshot, error) {
	return planner.Snapshot{}, f.record("current", nil)
}

func (f *fakeService) RouteDetails(runnerID string) (analyzer.RouteDetails, error) {
	return analyzer.RouteDetails{}, f.record("details", nil)
}

func (f *fakeService) RouteGPX(runnerID string) ([]byte, error) {
	return []byte("<gpx></gpx>"), f.record("gpx", nil)
}

func (f *fakeService) StartRun(ctx context.Context, runnerID string, goal service.Goal) (service.RunStatus, error) {
	err := f.record("start", func(s *seen) { s.goal = goal })
	return service.RunStatus{Running: true, Accepted: true}, err
}

func (f *fakeService) RecordLocation(ctx context.Context, runnerID string, fix tracking.Fix) (service.RunStatus, error) {
	err := f.record("location", func(s *seen) { s.fix = fix })
	return service.RunStatus{
		Running:    true,
		Accepted:   true,
		PaceStatus: pace.OnPace,
		Navigation: navigation.Progress{State: navigation.Navigating, WaypointIndex: 1, WaypointCount: 2},
	}, err
}

func (f *fakeService) StopRun(ctx context.Context, runnerID string) (*domain.RunRecord, error) {
	return &domain.RunRecord{ID: "run-1", RunnerID: runnerID}, f.record("stop", nil)
}

func (f *fakeService) RunGPX(runnerID string) ([]byte, error) {
	return []byte("<gpx><trk></trk></gpx>"), f.record("run_gpx", nil)
}

func (f *fakeService) RunState(runnerID string) (service.RunStatus, error) {
	return service.RunStatus{Running: true}, f.record("state", nil)
}

func (f *fakeService) History(ctx context.Context, runnerID string, limit int) ([]*domain.RunRecord, error) {
	return nil, f.record("history", func(s *seen) { s.limit = limit })
}

func (f *fakeService) HandleCompanionAction(ctx context.Context, action companion.Action) error {
	return f.record("action", func(s *seen) { s.actions = append(s.actions, action) })
}

func (f *fakeService) StartWorkout(runnerID string, spec interval.Spec) (interval.State, error) {
	err := f.record("workout", func(s *seen) { s.workout = spec })
	return interval.State{Running: true, Phase: interval.Warmup, PhaseCount: 18}, err
}

func (f *fakeService) ControlWorkout(runnerID string, cmd interval.Command) (interval.State, error) {
	return interval.State{}, f.record("workout:"+string(cmd), nil)
}

func (f *fakeService) WorkoutState(runnerID string) (interval.State, error) {
	return interval.State{Running: true}, f.record("workout_state", nil)
}

func (f *fakeService) SpeechDone(runnerID string) {
	f.record("speech_done:"+runnerID, nil)
}

func (f *fakeService) CloseSession(runnerID string) {
	f.record("close:"+runnerID, nil)
}

type testServer struct {
	srv     *httptest.Server
	svc     *fakeService
	jwt     *auth.JWTManager
	sockets *websocket.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	svc := &fakeService{}
	jwtm := auth.NewJWTManager("test-secret", time.Hour)
	sockets := websocket.NewManager(logger.Nop())

	fixes := ratelimit.New(clock.NewMock(time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC)), time.Second, 5)

	mux := http.NewServeMux()
	New(svc, jwtm, sockets, fixes, logger.Nop()).Register(mux)
	srv := httptest.NewServer(RequestLogger(logger.Nop(), mux))
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, svc: svc, jwt: jwtm, sockets: sockets}
}

func (ts *testServer) token(t *testing.T, userID string, role auth.Role) string {
	t.Helper()
	token, err := ts.jwt.GenerateToken(userID, role)
	require.NoError(t, err)
	return token
}

func (ts *testServer) do(t *testing.T, method, path, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))
}

func TestRequestIDIsKept(t *testing.T) {
	ts := newTestServer(t)
	req, err := http.NewRequest(http.MethodGet, ts.srv.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, "req-42")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "req-42", resp.Header.Get(RequestIDHeader))
}

func TestLocationUpdatesAreThrottled(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "runner-1", auth.RoleRunner)

	for i := 0; i < 5; i++ {
		resp := ts.do(t, http.MethodPost, "/runs/location", token, `{"lat":51.5,"lng":-0.12,"accuracy":5}`)
		require.Equal(t, http.StatusOK, resp.StatusCode, "fix %d", i)
	}
	resp := ts.do(t, http.MethodPost, "/runs/location", token, `{"lat":51.5,"lng":-0.12,"accuracy":5}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	other := ts.do(t, http.MethodPost, "/runs/location", ts.token(t, "runner-2", auth.RoleRunner), `{"lat":1,"lng":1}`)
	assert.Equal(t, http.StatusOK, other.StatusCode)
}

func TestGenerateToken(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/auth/token", "", `{"user_id":"runner-1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out TokenResponse
	decodeBody(t, resp, &out)
	assert.Equal(t, "RUNNER", out.Role)

	claims, err := ts.jwt.ParseToken(out.Token)
	require.NoError(t, err)
	assert.Equal(t, "runner-1", claims.UserID)

	resp = ts.do(t, http.MethodPost, "/auth/token", "", `{"user_id":"x","role":"admin"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRoutesRequireRunnerToken(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/routes/current", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/routes/current", ts.token(t, "watch-1", auth.RoleCompanion), "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, ts.svc.observed().calls)
}

func TestPlanRoute(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "runner-1", auth.RoleRunner)

	resp := ts.do(t, http.MethodPost, "/routes", token, `{"lat":51.5,"lng":-0.12}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap planner.Snapshot
	decodeBody(t, resp, &snap)

	assert.Equal(t, planner.DefaultTargetDistance, snap.TargetDistance)
	assert.Equal(t, geo.Coordinate{Lat: 51.5, Lng: -0.12}, ts.svc.observed().start)
	assert.Equal(t, []string{"plan:runner-1"}, ts.svc.observed().calls)

	resp = ts.do(t, http.MethodPost, "/routes", token, `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPlanRequiresStart(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "runner-1", auth.RoleRunner)

	for _, body := range []string{`{}`, `{"lat":51.5}`, `{"lng":-0.12,"distance_m":5000}`} {
		for _, path := range []string{"/routes", "/routes/options"} {
			resp := ts.do(t, http.MethodPost, path, token, body)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode, "%s %s", path, body)
			var out map[string]string
			decodeBody(t, resp, &out)
			assert.Equal(t, "lat and lng are required", out["message"])
		}
	}
	assert.Empty(t, ts.svc.observed().calls)

	// The equator and prime meridian are valid when given explicitly.
	resp := ts.do(t, http.MethodPost, "/routes", token, `{"lat":0,"lng":0}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouteEditing(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "runner-1", auth.RoleRunner)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/routes/options", token, `{"lat":1,"lng":2,"distance_m":8000}`).StatusCode)
	assert.Equal(t, 8000.0, ts.svc.observed().target)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/routes/options/opt-2/select", token, "").StatusCode)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/routes/reverse", token, "").StatusCode)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, "/routes/waypoints", token,
		`{"waypoints":[{"lat":1,"lng":2},{"lat":1.01,"lng":2},{"lat":1,"lng":2.01}]}`).StatusCode)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/routes/resize", token, `{"waypoint_count":4}`).StatusCode)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/routes/current/details", token, "").StatusCode)

	assert.Equal(t, []string{
		"options:runner-1", "select:opt-2", "toggle", "waypoints:3", "resize:4", "details",
	}, ts.svc.observed().calls)
}

func TestGPXDownloads(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "runner-1", auth.RoleRunner)

	for path, file := range map[string]string{
		"/routes/current/gpx": "route.gpx",
		"/runs/current/gpx":   "run.gpx",
	} {
		resp := ts.do(t, http.MethodGet, path, token, "")
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, "application/gpx+xml", resp.Header.Get("Content-Type"))
		assert.Contains(t, resp.Header.Get("Content-Disposition"), file)
	}
}

func TestRunLifecycle(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "runner-1", auth.RoleRunner)

	resp := ts.do(t, http.MethodPost, "/runs", token, `{"goal":{"distance_km":5,"minutes":25}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, service.Goal{DistanceKm: 5, Minutes: 25}, ts.svc.observed().goal)

	resp = ts.do(t, http.MethodPost, "/runs/location", token,
		`{"lat":51.5,"lng":-0.12,"accuracy":5,"timestamp":"2024-06-01T06:00:00Z"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	fix := ts.svc.observed().fix
	assert.Equal(t, 51.5, fix.Lat)
	assert.Equal(t, 5.0, fix.HorizontalAccuracy)
	assert.Equal(t, time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC), fix.Time.UTC())

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/runs/current", token, "").StatusCode)

	resp = ts.do(t, http.MethodPost, "/runs/stop", token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var run domain.RunRecord
	decodeBody(t, resp, &run)
	assert.Equal(t, "run-1", run.ID)
}

func TestWorkoutRoutes(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "runner-1", auth.RoleRunner)

	resp := ts.do(t, http.MethodPost, "/runs/workout", token, `{"preset":"couch_to_5k_week1"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var state interval.State
	decodeBody(t, resp, &state)
	assert.Equal(t, 18, state.PhaseCount)
	assert.Equal(t, interval.Spec{Preset: interval.PresetCouchTo5K}, ts.svc.observed().workout)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/runs/workout", token, "").StatusCode)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/runs/workout/pause", token, "").StatusCode)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/runs/workout/skip", token, "").StatusCode)
	assert.Equal(t, []string{"workout", "workout_state", "workout:pause", "workout:skip"}, ts.svc.observed().calls)

	resp = ts.do(t, http.MethodPost, "/runs/workout", token, `{"preset":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	ts.svc.failWith(interval.ErrUnknownCommand)
	resp = ts.do(t, http.MethodPost, "/runs/workout/rewind", token, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStartRunWithoutBody(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodPost, "/runs", ts.token(t, "runner-1", auth.RoleRunner), "")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, service.Goal{}, ts.svc.observed().goal)
}

func TestHistory(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "runner-1", auth.RoleRunner)

	resp := ts.do(t, http.MethodGet, "/runs/history?limit=10", token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out HistoryResponse
	decodeBody(t, resp, &out)
	assert.NotNil(t, out.Runs)
	assert.Equal(t, 10, ts.svc.observed().limit)

	resp = ts.do(t, http.MethodGet, "/runs/history?limit=-1", token, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCloseSession(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodDelete, "/session", ts.token(t, "runner-1", auth.RoleRunner), "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{"close:runner-1"}, ts.svc.observed().calls)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("plan route: %w", planner.ErrInvalidDistance), http.StatusBadRequest},
		{planner.ErrTooFewWaypoints, http.StatusBadRequest},
		{service.ErrInvalidWaypointCount, http.StatusBadRequest},
		{pace.ErrInvalidGoal, http.StatusBadRequest},
		{companion.ErrUnknownAction, http.StatusBadRequest},
		{planner.ErrNoActiveRoute, http.StatusNotFound},
		{planner.ErrOptionNotFound, http.StatusNotFound},
		{service.ErrNoActiveRun, http.StatusNotFound},
		{service.ErrRunInProgress, http.StatusConflict},
		{planner.ErrRouteLocked, http.StatusConflict},
		{interval.ErrInvalidWorkout, http.StatusBadRequest},
		{interval.ErrUnknownPreset, http.StatusBadRequest},
		{interval.ErrUnknownCommand, http.StatusBadRequest},
		{interval.ErrNoWorkout, http.StatusNotFound},
		{interval.ErrWorkoutFinished, http.StatusConflict},
		{service.ErrServiceClosed, http.StatusServiceUnavailable},
		{planner.ErrSessionStopped, http.StatusServiceUnavailable},
		{fmt.Errorf("save run: %w", assert.AnError), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestErrorResponseBody(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "runner-1", auth.RoleRunner)

	ts.svc.failWith(service.ErrRunInProgress)
	resp := ts.do(t, http.MethodPost, "/routes/reverse", token, "")
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Equal(t, "Conflict", body["error"])
	assert.Equal(t, service.ErrRunInProgress.Error(), body["message"])

	ts.svc.failWith(assert.AnError)
	resp = ts.do(t, http.MethodPost, "/runs/stop", token, "")
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	decodeBody(t, resp, &body)
	assert.Equal(t, "internal error", body["message"])
}

type wsFrame struct {
	Type    string          `json:"type"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (ts *testServer) dial(t *testing.T, runnerID, token string) *gws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws/runners/" + runnerID
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "message": "Bearer " + token}))
	return conn
}

func readFrame(t *testing.T, conn *gws.Conn) wsFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f wsFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestSocketStreamsLocations(t *testing.T) {
	ts := newTestServer(t)
	phone := ts.dial(t, "runner-1", ts.token(t, "runner-1", auth.RoleRunner))
	require.Eventually(t, func() bool { return ts.sockets.IsConnected("runner-1") }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, phone.WriteJSON(map[string]interface{}{
		"type": "location", "lat": 51.5, "lng": -0.12, "accuracy": 4,
	}))
	f := readFrame(t, phone)
	require.Equal(t, MsgTypeStatus, f.Type)

	var status service.RunStatus
	require.NoError(t, json.Unmarshal(f.Data, &status))
	assert.True(t, status.Accepted)
	assert.Equal(t, 2, status.Navigation.WaypointCount)
	assert.Equal(t, 51.5, ts.svc.observed().fix.Lat)

	require.NoError(t, phone.WriteJSON(map[string]string{"type": "dance"}))
	assert.Equal(t, MsgTypeError, readFrame(t, phone).Type)
}

func TestSocketSpeechDone(t *testing.T) {
	ts := newTestServer(t)
	phone := ts.dial(t, "runner-1", ts.token(t, "runner-1", auth.RoleRunner))
	watch := ts.dial(t, "runner-1", ts.token(t, "runner-1", auth.RoleCompanion))
	require.Eventually(t, func() bool { return ts.sockets.Count() == 2 }, 2*time.Second, 10*time.Millisecond)

	// Frames on one connection are handled in order, so the error reply to
	// the unknown frame means speech_done was already handled.
	require.NoError(t, watch.WriteJSON(map[string]string{"type": "speech_done"}))
	require.NoError(t, watch.WriteJSON(map[string]string{"type": "dance"}))
	assert.Equal(t, MsgTypeError, readFrame(t, watch).Type)
	assert.Empty(t, ts.svc.observed().calls, "only the phone reports speech")

	require.NoError(t, phone.WriteJSON(map[string]string{"type": "speech_done"}))
	require.NoError(t, phone.WriteJSON(map[string]string{"type": "dance"}))
	assert.Equal(t, MsgTypeError, readFrame(t, phone).Type)
	assert.Equal(t, []string{"speech_done:runner-1"}, ts.svc.observed().calls)
}

func TestSocketCompanionActions(t *testing.T) {
	ts := newTestServer(t)
	watch := ts.dial(t, "runner-1", ts.token(t, "runner-1", auth.RoleCompanion))
	require.Eventually(t, func() bool { return ts.sockets.IsConnected("runner-1") }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, watch.WriteJSON(map[string]string{"type": "action", "action": "start"}))
	assert.Equal(t, MsgTypeStatus, readFrame(t, watch).Type)

	assert.Equal(t, []companion.Action{{RunnerID: "runner-1", Action: companion.ActionStart}}, ts.svc.observed().actions)

	require.NoError(t, watch.WriteJSON(map[string]interface{}{"type": "location", "lat": 1, "lng": 1}))
	f := readFrame(t, watch)
	assert.Equal(t, MsgTypeError, f.Type)
	assert.Contains(t, f.Message, "only the runner")
}

func TestSocketRejectsOtherRunner(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, "runner-2", ts.token(t, "runner-1", auth.RoleRunner))

	// The error frame races the close; either way no status ever arrives.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f wsFrame
	if err := conn.ReadJSON(&f); err == nil {
		assert.Equal(t, MsgTypeError, f.Type)
	}
	assert.False(t, ts.sockets.IsConnected("runner-2"))
	assert.False(t, ts.sockets.IsConnected("runner-1"))
}
