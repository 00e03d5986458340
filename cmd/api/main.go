package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanwahyu/snapsense/internal/application"
	appauth "github.com/bryanwahyu/snapsense/internal/application/auth"
	"github.com/bryanwahyu/snapsense/internal/application/cleanup"
	"github.com/bryanwahyu/snapsense/internal/application/results"
	"github.com/bryanwahyu/snapsense/internal/application/submission"
	appvoice "github.com/bryanwahyu/snapsense/internal/application/voice"
	"github.com/bryanwahyu/snapsense/internal/config"
	"github.com/bryanwahyu/snapsense/internal/domain/analysis"
	domauth "github.com/bryanwahyu/snapsense/internal/domain/auth"
	"github.com/bryanwahyu/snapsense/internal/domain/failures"
	"github.com/bryanwahyu/snapsense/internal/imaging"
	"github.com/bryanwahyu/snapsense/internal/infra/ai/openai"
	infraauth "github.com/bryanwahyu/snapsense/internal/infra/auth"
	"github.com/bryanwahyu/snapsense/internal/infra/db/migrations"
	mysqlp "github.com/bryanwahyu/snapsense/internal/infra/db/mysql"
	"github.com/bryanwahyu/snapsense/internal/infra/db/postgres"
	"github.com/bryanwahyu/snapsense/internal/infra/httpserver"
	"github.com/bryanwahyu/snapsense/internal/infra/storage"
	"github.com/bryanwahyu/snapsense/internal/logging"
	"github.com/bryanwahyu/snapsense/internal/middleware"
)

type repositories struct {
	records  analysis.Repository
	failures failures.Repository
	users    domauth.UserRepository
	sessions domauth.SessionRepository
}

func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, repositories, error) {
	switch cfg.Database.Driver {
	case "postgres":
		db, err := postgres.Connect(ctx, cfg.PostgresDSN(), cfg.Database.MaxOpen, cfg.Database.MaxIdle)
		if err != nil {
			return nil, repositories{}, err
		}
		return db, repositories{
			records:  postgres.NewAnalysisRepository(db),
			failures: postgres.NewFailureRepository(db),
			users:    postgres.NewUserRepository(db),
			sessions: postgres.NewSessionRepository(db),
		}, nil
	default:
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN(), mysqlp.Pool{
			MaxOpen:     cfg.Database.MaxOpen,
			MaxIdle:     cfg.Database.MaxIdle,
			MaxLifetime: cfg.Database.MaxLifetime,
		})
		if err != nil {
			return nil, repositories{}, err
		}
		return db, repositories{
			records:  mysqlp.NewAnalysisRepository(db),
			failures: mysqlp.NewFailureRepository(db),
			users:    mysqlp.NewUserRepository(db),
			sessions: mysqlp.NewSessionRepository(db),
		}, nil
	}
}

func voiceKeywords(cfg *config.Config) map[appvoice.Command][]string {
	if len(cfg.Voice.CaptureKeywords) == 0 && len(cfg.Voice.ResultsKeywords) == 0 {
		return nil
	}
	return map[appvoice.Command][]string{
		appvoice.CommandCapture: cfg.Voice.CaptureKeywords,
		appvoice.CommandResults: cfg.Voice.ResultsKeywords,
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "snapsense: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// load config
	cfg, err := config.Load(config.Path())
	if err != nil {
		return fmt.Errorf("config load error: %w", err)
	}
	log := logging.New(os.Stdout, cfg.Log.Format, cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, repos, err := openDatabase(ctx, cfg)
	if err != nil {
		return fmt.Errorf("%s connect error: %w", cfg.Database.Driver, err)
	}
	defer db.Close()

	if cfg.Database.Migrate {
		if err := migrations.Up(ctx, db, cfg.Database.Driver); err != nil {
			return err
		}
	}

	store, err := storage.Open(ctx, storage.Options{
		Driver:        cfg.Storage.Driver,
		Endpoint:      cfg.Storage.Endpoint,
		Region:        cfg.Storage.Region,
		Bucket:        cfg.Storage.BucketName,
		AccessKey:     cfg.Storage.AccessKey,
		SecretKey:     cfg.Storage.SecretKey,
		UseSSL:        cfg.Storage.UseSSL,
		PublicBaseURL: cfg.Storage.PublicBaseURL,
	})
	if err != nil {
		return fmt.Errorf("storage init error: %w", err)
	}

	var ai *openai.Client
	if cfg.OpenAI.BaseURL != "" {
		ai = openai.NewClientWithBaseURL(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.BaseURL)
	} else {
		ai = openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
	}
	ai.Hint = cfg.OpenAI.Hint

	clock := application.SystemClock{}

	// auth
	signer, err := infraauth.NewSigner(cfg.Auth.Secret)
	if err != nil {
		return err
	}
	provider := &infraauth.Provider{
		Users:      repos.users,
		Sessions:   repos.sessions,
		Signer:     signer,
		Notifier:   infraauth.LogNotifier{Logger: log.With("component", "notifier")},
		Clock:      clock,
		SessionTTL: cfg.Auth.SessionTTL,
	}
	manager := appauth.NewManager(provider, clock, log.With("component", "auth"))
	if err := manager.Init(ctx); err != nil {
		// the manager stays in error and /ready reports it; retried below
		log.Error(ctx, "auth init failed", "err", err)
	}

	// pipeline
	registry := submission.NewRegistry(submission.Deps{
		Images:     store,
		Records:    repos.records,
		Inference:  ai,
		Normalizer: imaging.NewNormalizer(cfg.Pipeline.MaxDimension, cfg.Pipeline.Quality),
		Failures:   repos.failures,
		Clock:      clock,
		Logger:     log.With("component", "submission"),
		Observer: func(owner string, s submission.State) {
			log.Debug(context.Background(), "pipeline state", "owner", owner, "state", s.String())
		},
	})

	unsubscribe := manager.Subscribe(func(e appauth.Event) {
		log.Info(context.Background(), "auth event", "kind", e.Kind, "user_id", e.UserID)
		if e.Kind == appauth.EventSignedOut {
			registry.Forget(e.UserID)
		}
	})
	defer unsubscribe()

	resultsSvc := &results.Service{
		Repo:     repos.records,
		Images:   store,
		Clock:    clock,
		PageSize: cfg.Results.PageSize,
		ShareTTL: cfg.Results.ShareTTL,
	}

	var voiceSvc *appvoice.Service
	if cfg.Voice.Enabled {
		voiceSvc = &appvoice.Service{
			Recognizer: openai.NewTranscriber(ai, cfg.OpenAI.Language),
			Keywords:   voiceKeywords(cfg),
		}
	}

	// background work
	if cfg.Cleanup.Interval > 0 {
		sweeper := &cleanup.Sweeper{
			Failures:  repos.failures,
			Images:    store,
			Clock:     clock,
			Logger:    log.With("component", "cleanup"),
			OrphanAge: cfg.Cleanup.OrphanAge,
			Batch:     cfg.Cleanup.Batch,
			OnReport:  func(r cleanup.Report) { middleware.AddOrphansDeleted(r.Deleted) },
		}
		go sweeper.Run(ctx, cfg.Cleanup.Interval)
	}
	go registry.Run(ctx, time.Minute, cfg.Pipeline.IdleTTL)
	go retryAuthInit(ctx, manager, log)

	handler := httpserver.NewRouter(httpserver.Config{
		Registry: registry,
		Results:  resultsSvc,
		Auth:     manager,
		Voice:    voiceSvc,
		Checks: map[string]middleware.HealthChecker{
			"database": &middleware.DatabaseHealthChecker{DB: db},
			"storage":  store,
		},
		Limiter:        middleware.NewRateLimiter(ctx, cfg.RateLimit.Capacity, cfg.RateLimit.RefillRate),
		Logger:         log.With("component", "http"),
		AllowAnonymous: cfg.Auth.AllowAnonymous,
		TrustProxy:     cfg.Server.TrustProxy,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		MaxImageBytes:  cfg.Pipeline.MaxImageBytes,
		MaxAudioBytes:  cfg.Voice.MaxAudioBytes,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// run server
	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "server listening", "addr", addr, "db", cfg.Database.Driver, "storage", cfg.Storage.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// graceful shutdown
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info(context.Background(), "shutting down server...")

	// Shutdown waits for in-flight requests, running submissions included
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "shutdown error", "err", err)
	}
	return nil
}

// retryAuthInit keeps calling Init while the manager is in error.
func retryAuthInit(ctx context.Context, m *appauth.Manager, log logging.Logger) {
	t := time.NewTicker(10 * time.Second)
	defer t.Stop()
	for {
		if st, _ := m.Status(); st == appauth.Ready {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := m.Init(ctx); err != nil {
				log.Warn(ctx, "auth init retry failed", "err", err)
				continue
			}
			log.Info(ctx, "auth ready")
		}
	}
}
