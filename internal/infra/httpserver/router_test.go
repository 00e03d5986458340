package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appauth "github.com/bryanwahyu/snapsense/internal/application/auth"
	"github.com/bryanwahyu/snapsense/internal/application/results"
	"github.com/bryanwahyu/snapsense/internal/application/submission"
	domai "github.com/bryanwahyu/snapsense/internal/domain/ai"
	"github.com/bryanwahyu/snapsense/internal/domain/analysis"
	domauth "github.com/bryanwahyu/snapsense/internal/domain/auth"
	"github.com/bryanwahyu/snapsense/internal/middleware"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n0000000000000000")

type fakeProvider struct{}

func (fakeProvider) Ready(context.Context) error { return nil }

func (fakeProvider) SignUp(_ context.Context, email, _ string) (*domauth.User, error) {
	if email == "taken@example.com" {
		return nil, domauth.ErrUserExists
	}
	return &domauth.User{ID: "u2", Email: email}, nil
}

func (fakeProvider) Verify(_ context.Context, email, _ string) (*domauth.User, error) {
	return &domauth.User{ID: "u2", Email: email}, nil
}

func (fakeProvider) SignIn(_ context.Context, email, password string) (*domauth.Session, error) {
	if password != "correct-horse" {
		return nil, domauth.ErrInvalidCredentials
	}
	return &domauth.Session{ID: "s1", UserID: "u1", Email: email, Token: "good", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (fakeProvider) SignOut(context.Context, string) error { return nil }

func (fakeProvider) Session(_ context.Context, token string) (*domauth.Session, error) {
	if token != "good" {
		return nil, domauth.ErrInvalidToken
	}
	return &domauth.Session{ID: "s1", UserID: "u1", Email: "u1@example.com", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type memStore struct{}

func (memStore) Upload(_ context.Context, key string, _ []byte, _ string) (string, error) {
	return "https://img/" + key, nil
}
func (memStore) PublicURL(key string) string { return "https://img/" + key }
func (memStore) ShareURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://signed/" + key, nil
}
func (memStore) Delete(context.Context, string) error { return nil }
func (memStore) Check(context.Context) error          { return nil }

type memRepo struct {
	mu   sync.Mutex
	recs []*analysis.Record
}

func (m *memRepo) Insert(_ context.Context, r *analysis.Record) (*analysis.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *r
	c.ID = analysis.RecordID(uuid.NewString())
	m.recs = append(m.recs, &c)
	out := c
	return &out, nil
}

func (m *memRepo) Complete(_ context.Context, id analysis.RecordID, st analysis.Status, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.recs {
		if r.ID == id {
			if r.Status != analysis.StatusProcessing {
				return analysis.ErrNotProcessing
			}
			r.Status, r.AnalysisText = st, text
			return nil
		}
	}
	return analysis.ErrNotFound
}

func (m *memRepo) Get(_ context.Context, owner string, id analysis.RecordID) (*analysis.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.recs {
		if r.ID == id && r.Owner == owner {
			c := *r
			return &c, nil
		}
	}
	return nil, analysis.ErrNotFound
}

func (m *memRepo) Find(_ context.Context, q analysis.Query) ([]*analysis.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*analysis.Record
	for _, r := range m.recs {
		if r.Owner == q.Owner {
			c := *r
			out = append(out, &c)
		}
	}
	return out, nil
}

type fakeAI struct {
	text string
	err  error
}

func (f fakeAI) Describe(context.Context, []byte, string) (string, error) { return f.text, f.err }

type passNormalizer struct{}

func (passNormalizer) Normalize(data []byte) ([]byte, string, error) { return data, "image/jpeg", nil }

type testServer struct {
	handler http.Handler
	repo    *memRepo
}

func newTestServer(t *testing.T, ai fakeAI, anonymous bool, checks map[string]middleware.HealthChecker) testServer {
	t.Helper()
	return newTestServerWith(t, ai, func(c *Config) {
		c.AllowAnonymous = anonymous
		c.Checks = checks
	})
}

func newTestServerWith(t *testing.T, ai fakeAI, opt func(*Config)) testServer {
	t.Helper()
	repo := &memRepo{}
	mgr := appauth.NewManager(fakeProvider{}, nil, nil)
	require.NoError(t, mgr.Init(context.Background()))

	reg := submission.NewRegistry(submission.Deps{
		Images:     memStore{},
		Records:    repo,
		Inference:  ai,
		Normalizer: passNormalizer{},
	})
	cfg := Config{
		Registry: reg,
		Results:  &results.Service{Repo: repo, Images: memStore{}},
		Auth:     mgr,
	}
	if opt != nil {
		opt(&cfg)
	}
	return testServer{handler: NewRouter(cfg), repo: repo}
}

func (s testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func imageRequest(t *testing.T, token string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", "photo.png")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/analyses", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func authed(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer good")
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestProbes(t *testing.T) {
	srv := newTestServer(t, fakeAI{text: "ok"}, false, map[string]middleware.HealthChecker{
		"storage": middleware.CheckFunc(func(context.Context) error { return nil }),
	})

	rec := srv.do(t, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = srv.do(t, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var health middleware.HealthStatus
	decodeBody(t, rec, &health)
	assert.Equal(t, "ready", health.Status)
	assert.Contains(t, health.Checks, "auth")

	rec = srv.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "submissions_total")
}

func TestReady_FailingCheck(t *testing.T) {
	srv := newTestServer(t, fakeAI{text: "ok"}, false, map[string]middleware.HealthChecker{
		"database": middleware.CheckFunc(func(context.Context) error { return errors.New("down") }),
	})
	rec := srv.do(t, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSubmit_Success(t *testing.T) {
	srv := newTestServer(t, fakeAI{text: "A cat on a sofa."}, false, nil)

	rec := srv.do(t, imageRequest(t, "good", pngHeader))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var body submitResponse
	decodeBody(t, rec, &body)
	require.NotNil(t, body.Record)
	assert.Equal(t, analysis.StatusSuccess, body.Record.Status)
	assert.Equal(t, "A cat on a sofa.", body.Record.AnalysisText)
	assert.Equal(t, "u1", body.Record.Owner)
	assert.Len(t, srv.repo.recs, 1)
}

func TestSubmit_RequiresSession(t *testing.T) {
	srv := newTestServer(t, fakeAI{text: "ok"}, false, nil)
	rec := srv.do(t, imageRequest(t, "", pngHeader))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, srv.repo.recs)
}

func TestSubmit_AnonymousWhenEnabled(t *testing.T) {
	srv := newTestServer(t, fakeAI{text: "ok"}, true, nil)
	rec := srv.do(t, imageRequest(t, "", pngHeader))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var body submitResponse
	decodeBody(t, rec, &body)
	assert.Equal(t, analysis.AnonymousOwner, body.Record.Owner)
}

func TestSubmit_InvalidTokenRejected(t *testing.T) {
	srv := newTestServer(t, fakeAI{text: "ok"}, true, nil)
	rec := srv.do(t, imageRequest(t, "forged", pngHeader))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmit_NotAnImage(t *testing.T) {
	srv := newTestServer(t, fakeAI{text: "ok"}, false, nil)
	rec := srv.do(t, imageRequest(t, "good", []byte("just some text")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, srv.repo.recs)
}

func TestSubmit_PostRecordFailure(t *testing.T) {
	srv := newTestServer(t, fakeAI{err: errors.New("model unavailable")}, false, nil)

	rec := srv.do(t, imageRequest(t, "good", pngHeader))
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var body submitResponse
	decodeBody(t, rec, &body)
	assert.Equal(t, "inference", body.Stage)
	require.NotNil(t, body.Record)
	assert.Equal(t, analysis.StatusError, body.Record.Status)
	assert.Equal(t, analysis.FailureText, body.Record.AnalysisText)
}

func TestSubmit_QuotaExceeded(t *testing.T) {
	srv := newTestServer(t, fakeAI{err: fmt.Errorf("describe: %w", domai.ErrQuotaExceeded)}, false, nil)
	rec := srv.do(t, imageRequest(t, "good", pngHeader))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestList(t *testing.T) {
	srv := newTestServer(t, fakeAI{text: "ok"}, false, nil)
	require.Equal(t, http.StatusCreated, srv.do(t, imageRequest(t, "good", pngHeader)).Code)

	rec := srv.do(t, authed(http.MethodGet, "/v1/analyses?window=all&sort=oldest", ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var page results.Page
	decodeBody(t, rec, &page)
	assert.Len(t, page.Records, 1)
	assert.Equal(t, results.WindowAll, page.Window)
	assert.Equal(t, results.SortOldest, page.Sort)
}

func TestList_BadInput(t *testing.T) {
	srv := newTestServer(t, fakeAI{text: "ok"}, false, nil)

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"unknown window", "/v1/analyses?window=5y", http.StatusBadRequest},
		{"unknown sort", "/v1/analyses?sort=random", http.StatusBadRequest},
		{"inverted range", "/v1/analyses?from=2024-05-02T00:00:00Z&to=2024-05-01T00:00:00Z", http.StatusBadRequest},
		{"bad timestamp", "/v1/analyses?window=custom&from=yesterday&to=today", http.StatusBadRequest},
		{"limit too big", "/v1/analyses?limit=1000", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(t, authed(http.MethodGet, tt.target, ""))
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	rec := srv.do(t, httptest.NewRequest(http.MethodGet, "/v1/analyses", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestList_SearchIgnoresCustomRange(t *testing.T) {
	srv := newTestServer(t, fakeAI{text: "ok"}, false, nil)
	require.Equal(t, http.StatusCreated, srv.do(t, imageRequest(t, "good", pngHeader)).Code)

	rec := srv.do(t, authed(http.MethodGet, "/v1/analyses?window=custom&q=ok", ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var page results.Page
	decodeBody(t, rec, &page)
	assert.Equal(t, "ok", page.Search)
	assert.Equal(t, results.SortLatest, page.Sort)
}

func TestClientAddress_ForwardedHeadersNeedTrustProxy(t *testing.T) {
	statusFrom := func(srv testServer, forwarded string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/submissions/status", nil)
		req.RemoteAddr = "192.0.2.10:5000"
		req.Header.Set("X-Forwarded-For", forwarded)
		return srv.do(t, req).Code
	}

	for _, trust := range []bool{false, true} {
		t.Run(fmt.Sprintf("trustProxy=%v", trust), func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			srv := newTestServerWith(t, fakeAI{text: "ok"}, func(c *Config) {
				c.AllowAnonymous = true
				c.TrustProxy = trust
				c.Limiter = middleware.NewRateLimiter(ctx, 1, 1)
			})

			assert.Equal(t, http.StatusOK, statusFrom(srv, "203.0.113.1"))
			second := statusFrom(srv, "203.0.113.2")
			if trust {
				assert.Equal(t, http.StatusOK, second)
			} else {
				assert.Equal(t, http.StatusTooManyRequests, second)
			}
		})
	}
}

func TestGetAndShare(t *testing.T) {
	srv := newTestServer(t, fakeAI{text: "ok"}, false, nil)
	created := srv.do(t, imageRequest(t, "good", pngHeader))
	require.Equal(t, http.StatusCreated, created.Code)
	var body submitResponse
	decodeBody(t, created, &body)
	id := string(body.Record.ID)

	rec := srv.do(t, authed(http.MethodGet, "/v1/analyses/"+id, ""))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, authed(http.MethodGet, "/v1/analyses/"+id+"/share", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	var shared results.Shared
	decodeBody(t, rec, &shared)
	assert.True(t, strings.HasPrefix(shared.ImageURL, "https://signed/images/u1/"))
	assert.Equal(t, "ok", shared.Text)

	rec = srv.do(t, authed(http.MethodGet, "/v1/analyses/not-a-uuid", ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, authed(http.MethodGet, "/v1/analyses/"+uuid.NewString(), ""))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatus(t *testing.T) {
	srv := newTestServer(t, fakeAI{text: "ok"}, false, nil)
	rec := srv.do(t, authed(http.MethodGet, "/v1/submissions/status", ""))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	decodeBody(t, rec, &body)
	assert.Equal(t, "idle", body["state"])
	assert.Equal(t, false, body["processing"])
}

func TestAuthEndpoints(t *testing.T) {
	srv := newTestServer(t, fakeAI{text: "ok"}, false, nil)

	rec := srv.do(t, httptest.NewRequest(http.MethodPost, "/v1/auth/signin",
		strings.NewReader(`{"email":"u1@example.com","password":"correct-horse"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	var s domauth.Session
	decodeBody(t, rec, &s)
	assert.Equal(t, "good", s.Token)

	rec = srv.do(t, httptest.NewRequest(http.MethodPost, "/v1/auth/signin",
		strings.NewReader(`{"email":"u1@example.com","password":"nope"}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = srv.do(t, httptest.NewRequest(http.MethodPost, "/v1/auth/signup",
		strings.NewReader(`{"email":"not-an-email","password":"longenough"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, httptest.NewRequest(http.MethodPost, "/v1/auth/signup",
		strings.NewReader(`{"email":"taken@example.com","password":"longenough"}`)))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = srv.do(t, httptest.NewRequest(http.MethodPost, "/v1/auth/verify",
		strings.NewReader(`{"email":"u2@example.com","code":"12ab"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, authed(http.MethodGet, "/v1/auth/session", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"user_id":"u1"`)

	rec = srv.do(t, authed(http.MethodPost, "/v1/auth/signout", ""))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = srv.do(t, httptest.NewRequest(http.MethodPost, "/v1/auth/signout", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{submission.ErrBusy, http.StatusConflict},
		{&submission.StageError{Stage: "upload", Err: errors.New("x")}, http.StatusBadGateway},
		{analysis.ErrNotFound, http.StatusNotFound},
		{results.ErrInvalidRange, http.StatusBadRequest},
		{domauth.ErrSessionExpired, http.StatusUnauthorized},
		{domauth.ErrEmailNotVerified, http.StatusForbidden},
		{appauth.ErrNotReady, http.StatusServiceUnavailable},
		{domai.ErrQuotaExceeded, http.StatusTooManyRequests},
		{domauth.ErrTooManyAttempts, http.StatusTooManyRequests},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
