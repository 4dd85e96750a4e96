// Command server runs the BrandSafe moderation API.
//
// @title                      BrandSafe API
// @version                    1.0
// @description                Content moderation backend for influencers and brand owners.
// @BasePath                   /api/v1
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization
// @description                Type "Bearer" followed by a space and the access token.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/brandsafe-backend/docs"
	"github.com/tbourn/brandsafe-backend/internal/auth"
	"github.com/tbourn/brandsafe-backend/internal/classifier"
	"github.com/tbourn/brandsafe-backend/internal/config"
	httpapi "github.com/tbourn/brandsafe-backend/internal/http"
	"github.com/tbourn/brandsafe-backend/internal/observability"
	"github.com/tbourn/brandsafe-backend/internal/repo"
	"github.com/tbourn/brandsafe-backend/internal/services"
	"github.com/tbourn/brandsafe-backend/internal/storage"
	"github.com/tbourn/brandsafe-backend/internal/sysutil"
)

const (
	shutdownTimeout = 10 * time.Second
	purgeInterval   = time.Hour
)

func main() {
	// A missing .env is fine; real deployments use the environment.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	logger := sysutil.ConfigureLogger(sysutil.LoggerOptions{
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty,
		Service: cfg.OTEL.ServiceName,
		Version: cfg.AppVersion,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, cfg.AppVersion)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			logger.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(db); err != nil {
			logger.Warn().Err(err).Msg("close database")
		}
	}()
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}

	cls, clsName, err := buildClassifier(cfg.Classifier)
	if err != nil {
		return err
	}
	uploads, err := buildStore(ctx, cfg.Upload)
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL)
	if err != nil {
		return err
	}

	mod := services.NewModerationService(db, cls, clsName)
	mod.IdempotencyTTL = cfg.IdempotencyTTL
	authSvc := services.NewAuthService(db, tokens)

	if created, err := authSvc.EnsureAdmin(ctx, cfg.Admin.Username, cfg.Admin.Password, cfg.Admin.Email); err != nil {
		return err
	} else if created {
		logger.Info().Str("username", cfg.Admin.Username).Msg("admin account created")
	}

	gin.SetMode(cfg.GinMode)
	docs.SwaggerInfo.BasePath = cfg.APIBasePath
	docs.SwaggerInfo.Version = cfg.AppVersion

	var usage *services.UsageService
	if cfg.UsageLogEnabled {
		usage = services.NewUsageService(db)
		usage.Retention = cfg.UsageRetention
	}

	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Services{
		Moderation: mod,
		Analytics:  services.NewAnalyticsService(db, cfg.ReportLocation),
		Auth:       authSvc,
		Usage:      usage,
		Uploads:    uploads,
		Tokens:     tokens,
	}, cfg)

	go janitor(ctx, mod, usage, purgeInterval)

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return logger.WithContext(context.Background()) },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("classifier", clsName).
			Str("uploads", cfg.Upload.Backend).
			Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

func buildClassifier(c config.ClassifierConfig) (classifier.Classifier, string, error) {
	if c.Kind == "openai" {
		o, err := classifier.NewOpenAIFromKey(c.OpenAIKey, c.OpenAIModel)
		if err != nil {
			return nil, "", err
		}
		timeout := c.OpenAITimeout
		return classifier.Func(func(ctx context.Context, in classifier.Input) (classifier.Decision, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return o.Classify(ctx, in)
		}), "openai", nil
	}

	policy, err := classifier.DefaultPolicy()
	if c.KeywordsFile != "" {
		policy, err = classifier.LoadPolicy(c.KeywordsFile)
	}
	if err != nil {
		return nil, "", err
	}
	opts := []classifier.Option{classifier.WithOverrideRate(c.OverrideRate)}
	if c.SimulateLatency {
		opts = append(opts, classifier.WithSimulatedLatency(100*time.Millisecond, 500*time.Millisecond))
	}
	return classifier.NewKeyword(policy, opts...), "keyword", nil
}

func buildStore(ctx context.Context, u config.UploadConfig) (storage.Store, error) {
	if u.Backend == "s3" {
		return storage.NewS3Store(ctx, storage.S3Options{
			Bucket:   u.Bucket,
			Prefix:   u.Prefix,
			Region:   u.Region,
			Endpoint: u.Endpoint,
		})
	}
	return storage.NewLocalStore(u.Dir)
}

// janitor drops expired Idempotency-Key entries and old usage rows until ctx
// ends. usage may be nil.
func janitor(ctx context.Context, mod *services.ModerationService, usage *services.UsageService, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if n, err := mod.PurgeIdempotency(ctx); err != nil {
			log.Warn().Err(err).Msg("idempotency purge failed")
		} else if n > 0 {
			log.Debug().Int64("purged", n).Msg("idempotency keys purged")
		}
		if usage == nil {
			continue
		}
		if n, err := usage.Purge(ctx); err != nil {
			log.Warn().Err(err).Msg("usage purge failed")
		} else if n > 0 {
			log.Debug().Int64("purged", n).Msg("usage rows purged")
		}
	}
}
