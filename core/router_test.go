package core

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	router   *gin.Engine
	accounts *MemoryAccountRepository
	face     *fakeFaceService
}

// newTestServer wires the full HTTP stack on memory stores. withRedis adds
// token revocation, face-sync scheduling and queue metrics on miniredis.
func newTestServer(t *testing.T, withRedis bool) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := DefaultConfig()
	cfg.StoreDriver = StoreDriverMemory

	accounts := NewMemoryAccountRepository()
	images, err := NewLocalFaceStore(t.TempDir())
	require.NoError(t, err)
	face, srv := newFakeFaceService(t)
	matcher := NewHTTPFaceClient(srv.URL)
	tokens := newTestTokens(t)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	var (
		revocations RevocationList
		scheduler   FaceSyncScheduler
		queueStats  *MetricsService
	)
	if withRedis {
		_, client := newMiniRedis(t)
		revocations = NewRedisRevocationList(client)
		scheduler = NewQueueFaceSyncScheduler(NewRedisQueue(client), metrics)
		queueStats = NewMetricsService(client)
	}

	router := NewRouter(RouterDeps{
		Config:      cfg,
		Gate:        NewGate(tokens, accounts, revocations, metrics),
		Auth:        NewRepositoryAuthService(accounts, newTestHasher(), tokens, metrics),
		Revocations: revocations,
		Accounts:    NewAccountService(accounts, newTestHasher(), images, scheduler),
		Leaves:      NewLeaveService(NewMemoryLeaveRepository()),
		Faces:       NewFaceDetectService(matcher, accounts, cfg.FaceMatchThreshold, metrics),
		QueueStats:  queueStats,
		Registry:    reg,
	})
	seedAccount(t, accounts, "root", "rootpw", RoleAdmin)
	return &testServer{router: router, accounts: accounts, face: face}
}

func (s *testServer) do(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) form(method, path, token string, values url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.do(req, token)
}

func (s *testServer) get(path, token string) *httptest.ResponseRecorder {
	return s.do(httptest.NewRequest(http.MethodGet, path, nil), token)
}

func (s *testServer) login(t *testing.T, username, password string) string {
	t.Helper()
	w := s.form(http.MethodPost, "/api/token", "", url.Values{"username": {username}, "password": {password}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeJSON(t, w)
	assert.Equal(t, "bearer", body["token_type"])
	return body["access_token"].(string)
}

// upload sends a multipart form with one file part of the given content type.
func (s *testServer) upload(t *testing.T, method, path, token string, fields map[string]string, fileField, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileField != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+fileField+`"; filename="face"`)
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return s.do(req, token)
}

func (s *testServer) createUser(t *testing.T, adminToken, username, password string) map[string]any {
	t.Helper()
	w := s.upload(t, http.MethodPost, "/api/user", adminToken,
		map[string]string{"username": username, "password": password, "role": "user"},
		"faceIMG", "image/png", testPNG(t))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeJSON(t, w)
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeJSON(t, w)
	e, ok := body["error"].(map[string]any)
	require.True(t, ok, w.Body.String())
	return e["code"].(string)
}

func TestRouter_AccountLifecycle(t *testing.T) {
	s := newTestServer(t, false)
	admin := s.login(t, "root", "rootpw")

	alice := s.createUser(t, admin, "alice", "alicepw")
	assert.Equal(t, "alice", alice["username"])
	assert.Equal(t, "user", alice["role"])
	assert.NotContains(t, alice, "password_hash")
	userID := alice["user_id"].(string)
	assert.True(t, IsUserID(userID))

	token := s.login(t, "alice", "alicepw")
	w := s.get("/api/user", token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, userID, decodeJSON(t, w)["user_id"])

	w = s.get("/api/user/faceImg", token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))

	w = s.get("/api/user/all", token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "PERMISSION_DENIED", errorCode(t, w))

	w = s.get("/api/user/all?per_page=1&page=2", admin)
	require.Equal(t, http.StatusOK, w.Code)
	page := decodeJSON(t, w)
	assert.EqualValues(t, 2, page["total_items"])
	assert.EqualValues(t, 2, page["total_pages"])
	require.Len(t, page["items"], 1)

	w = s.get("/api/user/faceImg/"+userID, admin)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.form(http.MethodPut, "/api/user/password", token, url.Values{"old_password": {"wrong"}, "new_password": {"x"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = s.form(http.MethodPut, "/api/user/password", token, url.Values{"old_password": {"alicepw"}, "new_password": {"newpw"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	s.login(t, "alice", "newpw")

	w = s.form(http.MethodPut, "/api/user/"+userID, admin, url.Values{"disabled": {"true"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.get("/api/user", token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INACTIVE_USER", errorCode(t, w))

	w = s.do(httptest.NewRequest(http.MethodDelete, "/api/user/"+userID, nil), admin)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.get("/api/user", token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = s.get("/api/user/faceImg/"+userID, admin)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_LoginFailures(t *testing.T) {
	s := newTestServer(t, false)

	w := s.form(http.MethodPost, "/api/token", "", url.Values{"username": {"root"}, "password": {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))

	w = s.get("/api/user", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = s.get("/api/user", "garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_CreateUserErrors(t *testing.T) {
	s := newTestServer(t, false)
	admin := s.login(t, "root", "rootpw")
	s.createUser(t, admin, "alice", "pw")

	w := s.upload(t, http.MethodPost, "/api/user", admin,
		map[string]string{"username": "alice", "password": "pw"}, "faceIMG", "image/png", testPNG(t))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "DUPLICATE", errorCode(t, w))

	w = s.upload(t, http.MethodPost, "/api/user", admin,
		map[string]string{"username": "bob", "password": "pw"}, "faceIMG", "image/gif", []byte("GIF89a"))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = s.upload(t, http.MethodPost, "/api/user", admin,
		map[string]string{"username": "bob", "password": "pw"}, "", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w))
}

func TestRouter_LeaveFlow(t *testing.T) {
	s := newTestServer(t, false)
	admin := s.login(t, "root", "rootpw")
	s.createUser(t, admin, "alice", "pw")
	token := s.login(t, "alice", "pw")

	apply := url.Values{"task_id": {"T-1"}, "reason": {"family"}, "start_time": {"1700000000000"}, "end_time": {"1700086400000"}}
	w := s.form(http.MethodPost, "/api/app/leave", token, apply)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "pending", decodeJSON(t, w)["status"])

	w = s.form(http.MethodPost, "/api/app/leave", token, apply)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "DUPLICATE", errorCode(t, w))

	w = s.form(http.MethodPost, "/api/app/leave", token, url.Values{"task_id": {"T-2"}, "start_time": {"abc"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.get("/api/app/leave", token)
	require.Equal(t, http.StatusOK, w.Code)
	var own []LeaveApplication
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &own))
	require.Len(t, own, 1)

	w = s.get("/api/app/leave/all", token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.form(http.MethodPut, "/api/app/leave", admin, url.Values{"task_id": {"T-1"}, "status": {"approved"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "approved", decodeJSON(t, w)["status"])

	w = s.form(http.MethodPut, "/api/app/leave", admin, url.Values{"task_id": {"T-9"}, "status": {"approved"}})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.get("/api/app/leave/all", admin)
	require.Equal(t, http.StatusOK, w.Code)
	var all []LeaveApplication
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	require.Len(t, all, 1)
	assert.Equal(t, LeaveApproved, all[0].Status)
}

func TestRouter_FaceDetect(t *testing.T) {
	s := newTestServer(t, false)
	admin := s.login(t, "root", "rootpw")
	alice := s.createUser(t, admin, "alice", "pw")

	w := s.upload(t, http.MethodPost, "/api/face/detect", "", nil, "file", "image/jpeg", testJPEG(t))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeJSON(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Face not found", body["message"])

	s.face.setMatch(&FaceMatch{Identity: "gallery/" + alice["user_id"].(string) + ".jpg", Confidence: 0.75, Box: FacePose{X: 4, Y: 5, W: 60, H: 60}})
	w = s.upload(t, http.MethodPost, "/api/face/detect", "", nil, "file", "image/png", testPNG(t))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body = decodeJSON(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "alice", body["username"])
	assert.Equal(t, "user", body["role"])
	assert.InDelta(t, 0.75, body["conf"], 1e-9)

	w = s.upload(t, http.MethodPost, "/api/face/detect", "", nil, "file", "text/plain", []byte("hello"))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = s.upload(t, http.MethodPost, "/api/face/detect", "", nil, "", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_TokenRevocation(t *testing.T) {
	s := newTestServer(t, true)
	admin := s.login(t, "root", "rootpw")

	w := s.do(httptest.NewRequest(http.MethodDelete, "/api/token", nil), admin)
	require.Equal(t, http.StatusNoContent, w.Code)
	w = s.get("/api/user", admin)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	fresh := s.login(t, "root", "rootpw")
	w = s.get("/api/user", fresh)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_TokenRevocationNeedsTokenID(t *testing.T) {
	s := newTestServer(t, true)
	exp := jwt.NewNumericDate(time.Now().Add(time.Hour))
	noID, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "root", ExpiresAt: exp}).
		SignedString([]byte("test-secret"))
	require.NoError(t, err)

	w := s.do(httptest.NewRequest(http.MethodDelete, "/api/token", nil), noID)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, w))
}

func TestRouter_TokenRevocationDisabled(t *testing.T) {
	s := newTestServer(t, false)
	admin := s.login(t, "root", "rootpw")
	w := s.do(httptest.NewRequest(http.MethodDelete, "/api/token", nil), admin)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestRouter_AdminMetrics(t *testing.T) {
	s := newTestServer(t, false)
	admin := s.login(t, "root", "rootpw")
	w := s.get("/api/admin/metrics/overview", admin)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	s = newTestServer(t, true)
	admin = s.login(t, "root", "rootpw")
	s.createUser(t, admin, "alice", "pw")

	w = s.get("/api/admin/metrics/queues", admin)
	require.Equal(t, http.StatusOK, w.Code)
	queues := decodeJSON(t, w)
	assert.EqualValues(t, 1, queues["pending"], "user creation schedules an enroll job")
	byOp, ok := queues["by_op"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"pending": 1.0, "processing": 0.0}, byOp["enroll"])

	w = s.get("/api/admin/metrics/overview", admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decodeJSON(t, w), "workers")

	w = s.get("/api/admin/metrics/workers/nope", admin)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_Infrastructure(t *testing.T) {
	s := newTestServer(t, false)

	w := s.get("/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)

	s.login(t, "root", "rootpw")
	w = s.get("/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `facedesk_login_attempts_total{result="success"} 1`)
}

func TestRouter_HealthzReportsStore(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(RouterDeps{
		Config: DefaultConfig(),
		Gate:   NewGate(newTestTokens(t), NewMemoryAccountRepository(), nil, nil),
		Ready:  func(context.Context) error { return context.DeadlineExceeded },
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRouter_ListUsersRejectsBadPages(t *testing.T) {
	s := newTestServer(t, false)
	admin := s.login(t, "root", "rootpw")

	for _, q := range []string{
		"page=4611686018427387905&per_page=2",
		"page=9223372036854775807",
		"page=99999999999999999999",
		"page=0",
		"per_page=-1",
	} {
		w := s.get("/api/user/all?"+q, admin)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400; body=%s", q, w.Code, w.Body.String())
		}
		if code := errorCode(t, w); code != "VALIDATION_ERROR" {
			t.Fatalf("%s: code = %q, want VALIDATION_ERROR", q, code)
		}
	}
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		page, perPage string
		wantPage      int
		wantPerPage   int
	}{
		{"", "", 1, defaultPerPage},
		{"3", "10", 3, 10},
		{" ", "500", 1, maxPerPage},
	}
	for _, tt := range tests {
		page, perPage, err := parsePagination(tt.page, tt.perPage)
		if err != nil {
			t.Fatalf("parsePagination(%q, %q): %v", tt.page, tt.perPage, err)
		}
		if page != tt.wantPage || perPage != tt.wantPerPage {
			t.Fatalf("parsePagination(%q, %q) = %d, %d, want %d, %d",
				tt.page, tt.perPage, page, perPage, tt.wantPage, tt.wantPerPage)
		}
	}
}
