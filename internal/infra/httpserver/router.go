package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	appauth "github.com/bryanwahyu/snapsense/internal/application/auth"
	"github.com/bryanwahyu/snapsense/internal/application/results"
	"github.com/bryanwahyu/snapsense/internal/application/submission"
	appvoice "github.com/bryanwahyu/snapsense/internal/application/voice"
	domai "github.com/bryanwahyu/snapsense/internal/domain/ai"
	"github.com/bryanwahyu/snapsense/internal/domain/analysis"
	domauth "github.com/bryanwahyu/snapsense/internal/domain/auth"
	infraauth "github.com/bryanwahyu/snapsense/internal/infra/auth"
	"github.com/bryanwahyu/snapsense/internal/logging"
	"github.com/bryanwahyu/snapsense/internal/middleware"
)

const (
	DefaultMaxImageBytes = 20 << 20
	DefaultMaxAudioBytes = 10 << 20
)

// Config carries everything the router serves. Voice and Limiter are optional.
type Config struct {
	Registry       *submission.Registry
	Results        *results.Service
	Auth           *appauth.Manager
	Voice          *appvoice.Service
	Checks         map[string]middleware.HealthChecker
	Limiter        *middleware.RateLimiter
	Logger         logging.Logger
	AllowAnonymous bool
	// TrustProxy takes the client address from X-Real-IP / X-Forwarded-For.
	// Enable only behind a proxy that overwrites those headers.
	TrustProxy     bool
	AllowedOrigins []string
	MaxImageBytes  int64
	MaxAudioBytes  int64
}

type Router struct {
	cfg      Config
	log      logging.Logger
	validate *validator.Validate
}

func NewRouter(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = DefaultMaxImageBytes
	}
	if cfg.MaxAudioBytes <= 0 {
		cfg.MaxAudioBytes = DefaultMaxAudioBytes
	}
	r := &Router{
		cfg:      cfg,
		log:      cfg.Logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}

	checks := make(map[string]middleware.HealthChecker, len(cfg.Checks)+1)
	for name, c := range cfg.Checks {
		checks[name] = c
	}
	checks["auth"] = middleware.CheckFunc(r.authReady)

	mux := chi.NewRouter()
	if cfg.TrustProxy {
		mux.Use(chimw.RealIP)
	}
	mux.Use(chimw.RequestID)
	mux.Use(chimw.Recoverer)
	mux.Use(middleware.MetricsMiddleware)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg.AllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Retry-After", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	mux.Get("/health", middleware.HealthHandler(checks))
	mux.Get("/ready", middleware.ReadinessHandler(checks))
	mux.Get("/live", middleware.LivenessHandler)
	mux.Get("/metrics", middleware.MetricsHandler)

	mux.Route("/v1", func(rt chi.Router) {
		rt.Use(middleware.SessionAuth(cfg.Auth, false))
		rt.Use(middleware.RequestLogger(r.log))
		if cfg.Limiter != nil {
			rt.Use(middleware.RateLimitMiddleware(cfg.Limiter))
		}

		rt.Post("/auth/signup", r.wrap(r.handleSignUp))
		rt.Post("/auth/verify", r.wrap(r.handleVerify))
		rt.Post("/auth/signin", r.wrap(r.handleSignIn))
		rt.Post("/auth/signout", r.wrap(r.handleSignOut))
		rt.Get("/auth/session", r.wrap(r.handleSession))

		rt.Post("/analyses", r.wrap(r.handleSubmit))
		rt.Get("/analyses", r.wrap(r.handleList))
		rt.Get("/analyses/{id}", r.wrap(r.handleGet))
		rt.Get("/analyses/{id}/share", r.wrap(r.handleShare))
		rt.Get("/analyses/{id}/neighbors", r.wrap(r.handleNeighbors))
		rt.Get("/submissions/status", r.wrap(r.handleStatus))

		if cfg.Voice != nil {
			rt.Post("/voice/command", r.wrap(r.handleVoice))
		}
	})

	return mux
}

func allowedOrigins(o []string) []string {
	if len(o) == 0 {
		return []string{"*"}
	}
	return o
}

func (r *Router) authReady(ctx context.Context) error {
	st, err := r.cfg.Auth.Status()
	if st == appauth.Ready {
		return nil
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("auth is %s", st)
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// httpError carries an explicit status for input problems found in handlers.
type httpError struct {
	status int
	msg    string
}

func (e *httpError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &httpError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

var errUnauthorized = &httpError{status: http.StatusUnauthorized, msg: "sign in required"}

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			r.log.Error(req.Context(), "request failed", "path", req.URL.Path, "err", err)
		}
		msg := err.Error()
		if status == http.StatusInternalServerError {
			msg = "internal server error"
		}
		middleware.WriteJSON(w, status, middleware.ErrorBody{Error: msg})
	}
}

func statusFor(err error) int {
	var he *httpError
	var ve validator.ValidationErrors
	switch {
	case errors.As(err, &he):
		return he.status
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, appauth.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, domai.ErrQuotaExceeded), errors.Is(err, domauth.ErrTooManyAttempts):
		return http.StatusTooManyRequests
	case errors.Is(err, submission.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, submission.ErrSubmissionFailed):
		return http.StatusBadGateway
	case errors.Is(err, analysis.ErrNotFound), errors.Is(err, domauth.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, results.ErrInvalidRange),
		errors.Is(err, results.ErrInvalidWindow),
		errors.Is(err, results.ErrInvalidSort),
		errors.Is(err, domauth.ErrInvalidCode),
		errors.Is(err, infraauth.ErrWeakPassword),
		errors.Is(err, appvoice.ErrNoAudio):
		return http.StatusBadRequest
	case errors.Is(err, results.ErrOwnerRequired),
		errors.Is(err, domauth.ErrInvalidCredentials),
		errors.Is(err, domauth.ErrInvalidToken),
		errors.Is(err, domauth.ErrSessionExpired),
		errors.Is(err, domauth.ErrSessionNotFound):
		return http.StatusUnauthorized
	case errors.Is(err, domauth.ErrEmailNotVerified):
		return http.StatusForbidden
	case errors.Is(err, domauth.ErrUserExists):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (r *Router) decode(req *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(req.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid JSON body: %v", err)
	}
	return r.validate.Struct(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// caller returns the registry key and record owner for the request.
func (r *Router) caller(req *http.Request) (key, owner string, err error) {
	if uid := middleware.UserIDFromContext(req.Context()); uid != "" {
		return uid, uid, nil
	}
	if r.cfg.AllowAnonymous {
		return "anon:" + middleware.ClientIP(req), analysis.AnonymousOwner, nil
	}
	return "", "", errUnauthorized
}

func (r *Router) signedIn(req *http.Request) (*domauth.Session, error) {
	s, ok := middleware.SessionFromContext(req.Context())
	if !ok {
		return nil, errUnauthorized
	}
	return s, nil
}

// readPart reads one multipart file field bounded by limit.
func readPart(w http.ResponseWriter, req *http.Request, field string, limit int64) ([]byte, string, string, error) {
	req.Body = http.MaxBytesReader(w, req.Body, limit+1<<20)
	if err := req.ParseMultipartForm(limit); err != nil {
		return nil, "", "", badRequest("invalid multipart form: %v", err)
	}
	f, hdr, err := req.FormFile(field)
	if err != nil {
		return nil, "", "", badRequest("%s file is required", field)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, "", "", badRequest("read %s: %v", field, err)
	}
	if int64(len(data)) > limit {
		return nil, "", "", &httpError{status: http.StatusRequestEntityTooLarge, msg: field + " is too large"}
	}
	return data, hdr.Filename, hdr.Header.Get("Content-Type"), nil
}

// POST /v1/auth/signup
func (r *Router) handleSignUp(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Email    string `json:"email" validate:"required,email,max=254"`
		Password string `json:"password" validate:"required,min=8,max=128"`
	}
	if err := r.decode(req, &body); err != nil {
		return err
	}
	u, err := r.cfg.Auth.SignUp(req.Context(), body.Email, body.Password)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, map[string]any{
		"user":    u,
		"message": "verification code sent",
	})
}

// POST /v1/auth/verify
func (r *Router) handleVerify(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Email string `json:"email" validate:"required,email"`
		Code  string `json:"code" validate:"required"`
	}
	if err := r.decode(req, &body); err != nil {
		return err
	}
	if err := middleware.ValidateVerificationCode(body.Code); err != nil {
		return badRequest("%v", err)
	}
	u, err := r.cfg.Auth.Verify(req.Context(), body.Email, body.Code)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, u)
}

// POST /v1/auth/signin
func (r *Router) handleSignIn(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}
	if err := r.decode(req, &body); err != nil {
		return err
	}
	s, err := r.cfg.Auth.SignIn(req.Context(), body.Email, body.Password)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, s)
}

// POST /v1/auth/signout
func (r *Router) handleSignOut(w http.ResponseWriter, req *http.Request) error {
	s, err := r.signedIn(req)
	if err != nil {
		return err
	}
	if err := r.cfg.Auth.SignOut(req.Context(), s); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// GET /v1/auth/session
func (r *Router) handleSession(w http.ResponseWriter, req *http.Request) error {
	s, err := r.signedIn(req)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"user_id":    s.UserID,
		"email":      s.Email,
		"expires_at": s.ExpiresAt,
	})
}

type submitResponse struct {
	Error    string           `json:"error,omitempty"`
	Stage    string           `json:"stage,omitempty"`
	Record   *analysis.Record `json:"record,omitempty"`
	Duration int64            `json:"duration_ms"`
}

// POST /v1/analyses (multipart field "image")
func (r *Router) handleSubmit(w http.ResponseWriter, req *http.Request) error {
	key, owner, err := r.caller(req)
	if err != nil {
		return err
	}
	p := r.cfg.Registry.For(key, owner)
	if p.IsProcessing() {
		middleware.IncrementBusyRejections()
		return submission.ErrBusy
	}

	data, name, _, err := readPart(w, req, "image", r.cfg.MaxImageBytes)
	if err != nil {
		return err
	}
	ct, err := middleware.ValidateImageContent(data)
	if err != nil {
		return badRequest("%v", err)
	}

	done := middleware.SubmissionStarted()
	out, err := p.Submit(req.Context(), submission.Image{Data: data, ContentType: ct, Name: name})
	done(err != nil && !errors.Is(err, submission.ErrBusy))
	if errors.Is(err, submission.ErrBusy) {
		middleware.IncrementBusyRejections()
		return err
	}

	resp := submitResponse{Record: out.Record, Duration: out.Duration.Milliseconds()}
	var serr *submission.StageError
	if errors.As(err, &serr) {
		resp.Error = serr.Error()
		resp.Stage = string(serr.Stage)
		return writeJSON(w, statusFor(err), resp)
	}
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, resp)
}

// selection reads window, sort, from, to and q.
func selectionFrom(req *http.Request) (results.Selection, error) {
	q := req.URL.Query()
	sel := results.DefaultSelection()

	window, err := middleware.ValidateWindow(q.Get("window"))
	if err != nil {
		return sel, err
	}
	sort, err := middleware.ValidateSort(q.Get("sort"))
	if err != nil {
		return sel, err
	}
	sel = sel.WithWindow(window).WithSort(sort)

	search, err := middleware.ValidateSearch(q.Get("q"))
	if err != nil {
		return sel, badRequest("%v", err)
	}
	// a search ignores the time range, so from/to are not required
	if search != "" {
		return sel.WithSearch(search), nil
	}

	from, to := q.Get("from"), q.Get("to")
	if from != "" || to != "" || window == results.WindowCustom {
		start, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return sel, badRequest("from must be an RFC3339 timestamp")
		}
		end, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return sel, badRequest("to must be an RFC3339 timestamp")
		}
		sel = sel.WithRange(start, end)
	}
	return sel, nil
}

// GET /v1/analyses?window=&sort=&from=&to=&q=&limit=
func (r *Router) handleList(w http.ResponseWriter, req *http.Request) error {
	s, err := r.signedIn(req)
	if err != nil {
		return err
	}
	sel, err := selectionFrom(req)
	if err != nil {
		return err
	}
	limit, err := middleware.ValidateLimit(req.URL.Query().Get("limit"), analysis.MaxLimit)
	if err != nil {
		return badRequest("%v", err)
	}
	page, err := r.cfg.Results.FetchLimit(req.Context(), s.UserID, sel, limit)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, page)
}

func recordID(req *http.Request) (analysis.RecordID, error) {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateRecordID(id); err != nil {
		return "", badRequest("%v", err)
	}
	return analysis.RecordID(id), nil
}

// GET /v1/analyses/{id}
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) error {
	s, err := r.signedIn(req)
	if err != nil {
		return err
	}
	id, err := recordID(req)
	if err != nil {
		return err
	}
	rec, err := r.cfg.Results.Get(req.Context(), s.UserID, id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, rec)
}

// GET /v1/analyses/{id}/share
func (r *Router) handleShare(w http.ResponseWriter, req *http.Request) error {
	s, err := r.signedIn(req)
	if err != nil {
		return err
	}
	id, err := recordID(req)
	if err != nil {
		return err
	}
	shared, err := r.cfg.Results.Share(req.Context(), s.UserID, id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, shared)
}

// GET /v1/analyses/{id}/neighbors?window=&sort=&q=
func (r *Router) handleNeighbors(w http.ResponseWriter, req *http.Request) error {
	s, err := r.signedIn(req)
	if err != nil {
		return err
	}
	id, err := recordID(req)
	if err != nil {
		return err
	}
	sel, err := selectionFrom(req)
	if err != nil {
		return err
	}
	adj, err := r.cfg.Results.Neighbors(req.Context(), s.UserID, sel, id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, adj)
}

// GET /v1/submissions/status
func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) error {
	key, _, err := r.caller(req)
	if err != nil {
		return err
	}
	state, processing := submission.StateIdle, false
	if p, ok := r.cfg.Registry.Lookup(key); ok {
		state, processing = p.State(), p.IsProcessing()
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"state":      state.String(),
		"processing": processing,
	})
}

// POST /v1/voice/command (multipart field "audio")
func (r *Router) handleVoice(w http.ResponseWriter, req *http.Request) error {
	if _, _, err := r.caller(req); err != nil {
		return err
	}
	data, name, ct, err := readPart(w, req, "audio", r.cfg.MaxAudioBytes)
	if err != nil {
		return err
	}
	if err := middleware.ValidateAudioType(ct); err != nil {
		return badRequest("%v", err)
	}
	if name == "" {
		name = "command.webm"
	}
	res, err := r.cfg.Voice.Handle(req.Context(), data, name)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, res)
}
