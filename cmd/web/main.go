package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	scs "github.com/alexedwards/scs/v2"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/scriptmarket/internal/api"
	"github.com/briangreenhill/scriptmarket/internal/cache"
	"github.com/briangreenhill/scriptmarket/internal/checkout"
	"github.com/briangreenhill/scriptmarket/internal/config"
	"github.com/briangreenhill/scriptmarket/internal/http/routes"
	"github.com/briangreenhill/scriptmarket/internal/market"
	"github.com/briangreenhill/scriptmarket/internal/persist"
	"github.com/briangreenhill/scriptmarket/internal/store"
	"github.com/briangreenhill/scriptmarket/internal/telemetry"
	"github.com/briangreenhill/scriptmarket/internal/userdata"
	"github.com/briangreenhill/scriptmarket/web"
)

const service = "scriptmarket-web"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fatal := telemetry.NewLogger(os.Stderr, "info", service)
		fatal.Fatal().Err(err).Msg("load config")
	}
	logger := telemetry.NewLogger(os.Stdout, cfg.LogLevel, service)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("web exited")
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.OTLPEndpoint, service)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("flush traces")
		}
	}()

	if cfg.SessionSecret == "" {
		cfg.SessionSecret = randomSecret()
		logger.Warn().Msg("SESSION_SECRET not set, using a random one; sessions and checkout state will not survive a restart")
	}

	client, err := api.New(cfg.APIBaseURL, api.WithLogger(logger))
	if err != nil {
		return err
	}

	snapshots, closeSnapshots, err := persist.Open(ctx, persist.OpenOptions{
		Backend:     cfg.Snapshot.Backend,
		Dir:         cfg.Snapshot.Dir,
		RedisAddr:   cfg.RedisAddr,
		DatabaseURL: cfg.DatabaseURL,
		SQLitePath:  cfg.Snapshot.SQLitePath,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := closeSnapshots(); err != nil {
			logger.Warn().Err(err).Msg("close snapshot backend")
		}
	}()

	scripts := store.New[market.Script](client, store.Config{
		Name:      "scripts",
		Endpoint:  "/scripts",
		Persist:   cfg.Snapshot.Backend != config.SnapshotNone,
		Persister: snapshots,
		Logger:    &logger,
	})
	if err := scripts.Hydrate(ctx); err != nil {
		logger.Warn().Err(err).Msg("hydrate scripts")
	}
	users := store.New[market.User](client, store.Config{Name: "users", Endpoint: "/users", Logger: &logger})
	licenses := store.New[market.License](client, store.Config{Name: "licenses", Endpoint: "/licenses", Logger: &logger})

	ttl := cache.New()
	fetcher := userdata.New(client, ttl, userdata.WithTTL(cfg.CacheTTL), userdata.WithLogger(logger))

	payments := checkout.NewRegistry()
	if cfg.HasStripe() {
		payments.Register(checkout.StripeProvider{Client: client, PublishableKey: cfg.Payments.StripePublishableKey})
	}
	if cfg.HasPayPal() {
		payments.Register(checkout.PayPalProvider{Client: client, ClientID: cfg.Payments.PayPalClientID})
	}

	sess := scs.New()
	sess.Lifetime = 12 * time.Hour
	sess.Cookie.Name = "sm_session"
	sess.Cookie.HttpOnly = true
	sess.Cookie.SameSite = http.SameSiteLaxMode
	sess.Cookie.Secure = strings.HasPrefix(cfg.SiteURL, "https://")

	tmpl, err := web.Templates()
	if err != nil {
		return err
	}

	queue := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn().Err(err).Msg("close task queue")
		}
	}()

	s := routes.New(routes.ServerOptions{
		Sess:     sess,
		Tmpl:     tmpl,
		API:      client,
		Cache:    ttl,
		Scripts:  scripts,
		Users:    users,
		Licenses: licenses,
		UserData: fetcher,
		Checkout: payments,
		Jobs:     queue,
		Cfg:      *cfg,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Strs("providers", payments.List()).Msg("starting web")
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
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
