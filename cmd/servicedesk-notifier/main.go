package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"servicedesk/internal/app"
	"servicedesk/internal/config"
	"servicedesk/internal/fanout"
	"servicedesk/internal/logging"
	"servicedesk/internal/notify"
)

func main() {
	cfg := config.Load()
	logger, err := logging.New(logging.Options{Level: logging.ParseLevel(cfg.LogLevel), File: cfg.LogFile})
	if err != nil {
		panic(err)
	}
	defer logger.Close()

	if len(cfg.KafkaBrokers) == 0 {
		logger.Error("startup", "KAFKA_BROKERS is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := app.OpenBackend(ctx, cfg, logger)
	if err != nil {
		logger.Errorf("startup", "store: %v", err)
		os.Exit(1)
	}
	defer backend.Close()

	consumer := fanout.NewKafkaConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID)
	defer consumer.Close()

	provider := notify.NewProvider(notify.ProviderConfig{
		Kind:         cfg.NotifierProvider,
		WebhookURL:   cfg.NotifierWebhookURL,
		WebhookToken: cfg.NotifierWebhookToken,
		MailerSend: notify.MailerSendConfig{
			APIKey:     cfg.MailerSendAPIKey,
			FromEmail:  cfg.MailerSendFromEmail,
			FromName:   cfg.MailerSendFromName,
			TemplateID: cfg.MailerSendTemplateID,
		},
	}, logger)
	worker := notify.New(consumer, backend.Store, provider, logger, notify.Config{
		MaxAttempts: cfg.NotifierMaxAttempts,
		Backoff:     500 * time.Millisecond,
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.Infof("startup", "servicedesk-notifier consuming %s as %s", cfg.KafkaTopic, cfg.KafkaGroupID)
		if err := worker.Run(ctx); err != nil {
			logger.Errorf("notify", "worker stopped: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
	case <-done:
	}
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.Warn("notify", "worker did not stop within 5s")
	}
}
