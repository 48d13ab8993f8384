package sessions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablewise/dashsync/internal/auth"
	"github.com/tablewise/dashsync/internal/collab"
	"github.com/tablewise/dashsync/internal/presence"
	ws "github.com/tablewise/dashsync/internal/websocket"
)

const testDoc = "5b2a7c3e-1d2f-4a8b-9c0d-1e2f3a4b5c6d"

type testEnv struct {
	router  *gin.Engine
	engine  *collab.Engine
	tracker *presence.Tracker
	token   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret")

	gin.SetMode(gin.TestMode)

	engine := collab.NewEngine(collab.Options{})
	t.Cleanup(engine.Shutdown)

	tracker := presence.NewTracker(presence.Options{})
	t.Cleanup(tracker.Shutdown)

	hub := ws.NewHub()
	go hub.Run()
	t.Cleanup(hub.Shutdown)

	token, err := auth.GenerateJWT("user-1", "Ada", "", time.Hour)
	require.NoError(t, err)

	router := gin.New()
	passthrough := func(c *gin.Context) { c.Next() }
	RegisterRoutes(router.Group("/api/v1"), engine, hub, tracker, passthrough)

	return &testEnv{router: router, engine: engine, tracker: tracker, token: token}
}

func (env *testEnv) join(t *testing.T, userID string) {
	t.Helper()

	_, err := env.engine.Join(context.Background(), testDoc, userID)
	require.NoError(t, err)
}

func (env *testEnv) submit(t *testing.T, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/v1/sessions/%s/operations", testDoc), bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	return w
}

func makeOp(id string, path []string, base int64) collab.Operation {
	return collab.Operation{
		ID:          id,
		Type:        collab.OpUpdate,
		Path:        path,
		Payload:     json.RawMessage(`{"title":"Revenue"}`),
		BaseVersion: base,
	}
}

func TestSubmitOperation(t *testing.T) {
	env := newTestEnv(t)
	env.join(t, "user-1")

	w := env.submit(t, SubmitOperationRequest{Operation: makeOp("op-1", []string{"widgets", "w1"}, 0)}, env.token)

	require.Equal(t, http.StatusOK, w.Code)

	var result collab.SubmitResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, collab.StatusApplied, result.Status)
	assert.Equal(t, int64(1), result.NewVersion)
}

func TestSubmitOperationRequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	env.join(t, "user-1")

	w := env.submit(t, SubmitOperationRequest{Operation: makeOp("op-1", []string{"widgets", "w1"}, 0)}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.submit(t, SubmitOperationRequest{Operation: makeOp("op-1", []string{"widgets", "w1"}, 0)}, "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSubmitOperationUnknownSession(t *testing.T) {
	env := newTestEnv(t)

	w := env.submit(t, SubmitOperationRequest{Operation: makeOp("op-1", []string{"widgets", "w1"}, 0)}, env.token)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "unknown_session")
}

func TestSubmitOperationConflict(t *testing.T) {
	env := newTestEnv(t)
	env.join(t, "user-1")

	first := env.submit(t, SubmitOperationRequest{Operation: makeOp("op-1", []string{"widgets", "w1"}, 0)}, env.token)
	require.Equal(t, http.StatusOK, first.Code)

	// same subtree, stale base: rejected with the winner attached
	second := env.submit(t, SubmitOperationRequest{Operation: makeOp("op-2", []string{"widgets", "w1", "title"}, 0)}, env.token)
	require.Equal(t, http.StatusConflict, second.Code)

	var result collab.SubmitResult
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &result))
	assert.Equal(t, collab.ReasonConflict, result.Reason)
	require.NotNil(t, result.Winner)
	assert.Equal(t, "op-1", result.Winner.ID)
}

func TestSubmitOperationValidation(t *testing.T) {
	env := newTestEnv(t)
	env.join(t, "user-1")

	// missing path fails engine validation
	w := env.submit(t, SubmitOperationRequest{Operation: makeOp("op-1", nil, 0)}, env.token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// malformed body fails binding
	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/v1/sessions/%s/operations", testDoc), bytes.NewReader([]byte("not json")))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+env.token)

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitOperationRejectsBadDocumentID(t *testing.T) {
	env := newTestEnv(t)

	payload, err := json.Marshal(SubmitOperationRequest{Operation: makeOp("op-1", []string{"widgets", "w1"}, 0)})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/not-a-uuid/operations", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+env.token)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetSessionState(t *testing.T) {
	env := newTestEnv(t)
	env.join(t, "user-1")

	for i := 0; i < 3; i++ {
		w := env.submit(t, SubmitOperationRequest{
			Operation: makeOp(fmt.Sprintf("op-%d", i), []string{"widgets", fmt.Sprintf("w%d", i)}, int64(i)),
		}, env.token)
		require.Equal(t, http.StatusOK, w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/sessions/%s?since_version=1", testDoc), nil)
	req.Header.Set("Authorization", "Bearer "+env.token)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(3), resp.Version)
	assert.Len(t, resp.Operations, 2)
	assert.Equal(t, []string{"user-1"}, resp.Participants)
}

func TestGetSessionStateUnknownSession(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/sessions/%s", testDoc), nil)
	req.Header.Set("Authorization", "Bearer "+env.token)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "unknown_session")
}

func TestGetPresence(t *testing.T) {
	env := newTestEnv(t)
	env.join(t, "user-1")
	env.tracker.Join(testDoc, "user-1", "Ada", "")
	env.tracker.UpdateCursor(testDoc, "user-1", presence.Cursor{X: 10, Y: 20, ElementID: "w1"})

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/sessions/%s/presence", testDoc), nil)
	req.Header.Set("Authorization", "Bearer "+env.token)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp PresenceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Participants, 1)
	assert.Equal(t, "Ada", resp.Participants[0].Username)
	require.NotNil(t, resp.Participants[0].Cursor)
	assert.Equal(t, float64(10), resp.Participants[0].Cursor.X)
}
