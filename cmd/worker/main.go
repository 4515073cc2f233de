package main

import (
	"context"
	"os"

	"github.com/hibiken/asynq"

	"github.com/briangreenhill/scriptmarket/internal/api"
	"github.com/briangreenhill/scriptmarket/internal/config"
	"github.com/briangreenhill/scriptmarket/internal/email"
	"github.com/briangreenhill/scriptmarket/internal/jobs"
	"github.com/briangreenhill/scriptmarket/internal/telemetry"
)

const service = "scriptmarket-worker"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fatal := telemetry.NewLogger(os.Stderr, "info", service)
		fatal.Fatal().Err(err).Msg("load config")
	}
	logger := telemetry.NewLogger(os.Stdout, cfg.LogLevel, service)

	shutdownTracing, err := telemetry.SetupTracing(context.Background(), cfg.OTLPEndpoint, service)
	if err != nil {
		logger.Fatal().Err(err).Msg("tracing")
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	if cfg.WorkerToken == "" {
		logger.Warn().Msg("WORKER_TOKEN not set, payment lookups will be unauthenticated")
	}
	client, err := api.New(cfg.APIBaseURL,
		api.WithTokenSource(api.StaticToken(cfg.WorkerToken)),
		api.WithLogger(logger),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("api client")
	}

	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: cfg.RedisAddr}, asynq.Config{
		Concurrency: 8,
		Queues: map[string]int{
			jobs.QueueMail: 10,
			"default":      5,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Error().Err(err).
				Str("type", t.Type()).
				Int("retry", retried).
				Int("max_retry", maxRetry).
				Msg("task failed")
		}),
	})

	var mail email.Sender = email.StdoutSender{Logger: logger}
	if cfg.Mail.SMTPAddr != "" {
		mail = email.NewSMTPSender(cfg.Mail.SMTPAddr, cfg.Mail.From)
	}

	mux := asynq.NewServeMux()
	mux.Handle(jobs.TaskPurchaseReceipt, jobs.ReceiptHandler{
		Client: client,
		Mail:   mail,
		Logger: logger,
	})

	logger.Info().Str("redis", cfg.RedisAddr).Msg("worker running")
	if err := srv.Run(mux); err != nil {
		logger.Fatal().Err(err).Msg("worker exited")
	}
}
