package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daycal/internal/config"
	"daycal/internal/identity"
	"daycal/internal/model"
	"daycal/internal/projection"
	"daycal/internal/store"
)

type testEnv struct {
	srv      *httptest.Server
	store    *store.Store
	verifier *identity.Verifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.Open(store.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	v, err := identity.NewVerifier([]byte("test-secret"), "daycal")
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	s := NewServer(cfg, st, v)
	s.now = func() time.Time { return time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC) }

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: st, verifier: v}
}

func (e *testEnv) token(t *testing.T, id identity.Identity) string {
	t.Helper()
	tok, err := e.verifier.Issue(id, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthAndMetricsNeedNoAuth(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "daycal_claims")
}

func TestAPIRequiresToken(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/claims", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Bearer")

	resp = env.do(t, http.MethodGet, "/api/claims", "not-a-jwt", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestClaimLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ada := env.token(t, identity.Identity{OwnerID: "u1", DisplayName: "Ada"})
	bo := env.token(t, identity.Identity{OwnerID: "u2"})

	resp := env.do(t, http.MethodPut, "/api/claims/me", ada, `{"date":"2025-03-20"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stored := decode[model.Claim](t, resp)
	assert.Equal(t, "u1", stored.OwnerID)
	assert.Equal(t, "Ada", stored.DisplayName, "name falls back to the token")
	assert.Equal(t, model.DefaultAvatarRef, stored.AvatarRef)

	resp = env.do(t, http.MethodPut, "/api/claims/me", bo, `{"date":"2025-03-02","display_name":"Bo"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Re-claiming replaces the previous day.
	resp = env.do(t, http.MethodPut, "/api/claims/me", ada, `{"date":"2025-03-05"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/claims", ada, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decode[model.Snapshot](t, resp)
	assert.Len(t, snap.Claims, 2)

	resp = env.do(t, http.MethodGet, "/api/roster", ada, "")
	roster := decode[rosterResponse](t, resp)
	require.Len(t, roster.Roster, 2)
	assert.Equal(t, "2025-03-02", roster.Roster[0].Date)
	assert.Equal(t, "2025-03-05", roster.Roster[1].Date)

	resp = env.do(t, http.MethodGet, "/api/calendar", ada, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[projection.View](t, resp)
	assert.Len(t, view.Days, 42)
	require.NotNil(t, view.Own)
	assert.Equal(t, "2025-03-05", view.Own.Date)

	resp = env.do(t, http.MethodGet, "/api/claims/me", bo, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2025-03-02", decode[model.Claim](t, resp).Date)

	resp = env.do(t, http.MethodDelete, "/api/claims/me", bo, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = env.do(t, http.MethodDelete, "/api/claims/me", bo, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode, "clearing twice is fine")

	resp = env.do(t, http.MethodGet, "/api/claims/me", bo, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPutRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	anon := env.token(t, identity.Identity{OwnerID: "u9"})

	cases := map[string]string{
		"bad json":       `{"date":`,
		"bad date":       `{"date":"2025-02-30","display_name":"X"}`,
		"no date":        `{"display_name":"X"}`,
		"no name at all": `{"date":"2025-02-03"}`,
		"blank name":     `{"date":"2025-02-03","display_name":"   "}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp := env.do(t, http.MethodPut, "/api/claims/me", anon, body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestCalendarQuery(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, identity.Identity{OwnerID: "u1", DisplayName: "Ada"})

	resp := env.do(t, http.MethodGet, "/api/calendar?year=2024&month=2", tok, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[projection.View](t, resp)
	assert.Equal(t, 2024, view.Month.Year)
	assert.Equal(t, time.February, view.Month.Month)
	assert.Nil(t, view.Own)

	for _, q := range []string{"?month=0", "?month=13", "?year=abc"} {
		resp = env.do(t, http.MethodGet, "/api/calendar"+q, tok, "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

func TestICSFeed(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, identity.Identity{OwnerID: "u1", DisplayName: "Ada"})
	env.do(t, http.MethodPut, "/api/claims/me", tok, `{"date":"2025-03-20"}`)

	resp := env.do(t, http.MethodGet, "/calendar.ics", tok, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/calendar")
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "DTSTART;VALUE=DATE:20250320")
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, identity.Identity{OwnerID: "u1", DisplayName: "Ada"})
	require.NoError(t, env.store.Close())

	resp := env.do(t, http.MethodPut, "/api/claims/me", tok, `{"date":"2025-03-20"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/claims", tok, "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestSubscribePushesSnapshots(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, identity.Identity{OwnerID: "u1", DisplayName: "Ada"})

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/api/subscribe?access_token=" + tok
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first model.Frame
	require.NoError(t, ws.ReadJSON(&first))
	assert.Equal(t, model.FrameSnapshot, first.Type)
	assert.Empty(t, first.Claims)

	resp := env.do(t, http.MethodPut, "/api/claims/me", tok, `{"date":"2025-03-20"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var next model.Frame
	require.NoError(t, ws.ReadJSON(&next))
	require.Len(t, next.Claims, 1)
	assert.Equal(t, "2025-03-20", next.Claims[0].Date)
	assert.Greater(t, next.Revision, first.Revision)
}

func TestSubscribeRejectsMissingToken(t *testing.T) {
	env := newTestEnv(t)

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/api/subscribe"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMeEchoesToken(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, identity.Identity{OwnerID: "u1", DisplayName: "Ada", AvatarRef: "a.png"})

	resp := env.do(t, http.MethodGet, "/api/me", tok, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, identity.Identity{OwnerID: "u1", DisplayName: "Ada", AvatarRef: "a.png"}, decode[identity.Identity](t, resp))
}
