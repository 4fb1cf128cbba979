package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"DealScanner/internal/config"
	"DealScanner/internal/httpapi"
	"DealScanner/internal/infrastructure/feeds"
	"DealScanner/internal/infrastructure/llm"
	"DealScanner/internal/infrastructure/scheduler"
	statestore "DealScanner/internal/infrastructure/state"
	"DealScanner/internal/infrastructure/telegram"
	"DealScanner/internal/infrastructure/telegraph"
	"DealScanner/internal/logging"
	"DealScanner/internal/ports"
	"DealScanner/internal/state"
	"DealScanner/internal/usecase"
)

// Run wires every adapter to the pipeline and serves until interrupted.
func Run(ctx context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logging.New(cfg.Logging.Level)

	store, err := blobStore(ctx, cfg.State)
	if err != nil {
		return err
	}

	pipeline := usecase.NewPipeline(usecase.Deps{
		Source:     feeds.NewSource(cfg.Feeds, log),
		Classifier: llm.NewGeminiClassifier(cfg.Gemini, log),
		Auditor:    llm.NewPerplexityAuditor(cfg.Perplexity, log),
		Messenger:  telegram.NewMessenger(cfg.Telegram.BotToken, log),
		Publisher:  telegraph.NewPublisher(cfg.Telegraph.Token, cfg.Telegraph.AuthorName, log),
		State:      state.NewManager(store, log),
		Cfg:        cfg,
		Log:        log,
	})

	cron := scheduler.NewCronScheduler(cfg.Scheduler, log)
	err = cron.Start(ctx, func(at time.Time) {
		runCtx, cancel := context.WithTimeout(ctx, 20*time.Minute)
		defer cancel()
		if _, err := pipeline.Run(runCtx); err != nil {
			log.Error("scheduled run failed", "error", err)
		}
		if _, err := pipeline.FlushDueDigest(runCtx, at); err != nil {
			log.Error("scheduled digest flush failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := cron.Stop(stopCtx); err != nil {
			log.Warn("scheduler stop", "error", err)
		}
	}()

	server := httpapi.NewServer(pipeline, cfg.Telegram.Secret, log)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe(cfg.HTTP.Port)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		return nil
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}

func blobStore(ctx context.Context, cfg config.StateConfig) (ports.BlobStore, error) {
	if cfg.Bucket != "" {
		return statestore.NewGCSStore(ctx, cfg.Bucket, cfg.Object)
	}
	return statestore.NewFileStore(cfg.LocalPath), nil
}
