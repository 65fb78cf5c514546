package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"servicedesk/internal/app"
	"servicedesk/internal/auth"
	"servicedesk/internal/config"
	"servicedesk/internal/fanout"
	"servicedesk/internal/httpapi"
	"servicedesk/internal/logging"
	"servicedesk/internal/queue"
	"servicedesk/internal/realtime"
	"servicedesk/internal/telemetry"
)

func main() {
	cfg := config.Load()
	logger, err := logging.New(logging.Options{Level: logging.ParseLevel(cfg.LogLevel), File: cfg.LogFile})
	if err != nil {
		panic(err)
	}
	defer logger.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry := telemetry.Setup(ctx, "servicedesk-api", cfg.OTLPEndpoint, logger)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	backend, err := app.OpenBackend(ctx, cfg, logger)
	if err != nil {
		logger.Errorf("startup", "store: %v", err)
		os.Exit(1)
	}
	defer backend.Close()
	if err := app.Bootstrap(ctx, backend.Seeder, cfg, logger); err != nil {
		logger.Errorf("startup", "bootstrap: %v", err)
		os.Exit(1)
	}

	issuer, err := auth.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
	if err != nil {
		logger.Errorf("startup", "jwt: %v", err)
		os.Exit(1)
	}

	hub := fanout.NewHub(logger)
	publisher, closeSinks := buildPublisher(ctx, cfg, hub, logger)
	defer closeSinks()

	service := queue.NewService(backend.Store, queue.Options{
		Publisher: publisher,
		Logger:    logger,
		Timeout:   cfg.DBTimeout,
	})
	rt := realtime.NewServer(hub, issuer, logger)
	handler := httpapi.NewHandler(service, httpapi.Options{
		Tokens:        issuer,
		Authenticator: auth.NewAuthenticator(backend.Store, issuer),
		Limiter: httpapi.NewRateLimiter(httpapi.RateLimitConfig{
			IPPerMinute:    cfg.RateLimitPerMinute,
			IPBurst:        cfg.RateLimitBurst,
			KioskPerMinute: cfg.KioskRateLimitPerMinute,
			KioskBurst:     cfg.KioskRateLimitBurst,
		}),
		Logger:        logger,
		PublicBaseURL: cfg.PublicBaseURL,
		Realtime:      rt.SockJS(),
		Events:        rt.Events(),
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(handler.Routes(), "servicedesk-api"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     logger.Std("http", logging.ERROR),
	}

	go func() {
		logger.Infof("startup", "servicedesk-api listening on %s (store=%s)", server.Addr, cfg.StoreDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("http", "server error: %v", err)
			os.Exit(1)
		}
	}()

	go sweepNoShows(ctx, cfg, service, logger)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("http", "shutdown error: %v", err)
	}
}

// buildPublisher always delivers to local realtime clients, through redis
// when REDIS_ADDR is set so every api replica sees every event. Kafka, MQTT
// and AMQP sinks are added when configured.
func buildPublisher(ctx context.Context, cfg config.Config, hub *fanout.Hub, logger *logging.Logger) (fanout.Publisher, func()) {
	multi := fanout.NewMulti(logger)
	var closers []func()

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		broker := fanout.NewRedisBroker(client, hub, logger)
		go func() {
			if err := broker.Run(ctx); err != nil {
				logger.Errorf("fanout", "redis relay stopped: %v", err)
			}
		}()
		multi.Add("redis", broker)
		closers = append(closers, func() { _ = client.Close() })
	} else {
		multi.Add("hub", fanout.HubPublisher{Hub: hub})
	}

	if len(cfg.KafkaBrokers) > 0 {
		sink := fanout.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		multi.Add("kafka", sink)
		closers = append(closers, func() { _ = sink.Close() })
	}

	if cfg.MQTTBroker != "" {
		client, err := fanout.ConnectMQTT(fanout.MQTTConfig{BrokerURL: cfg.MQTTBroker, ClientID: "servicedesk-api", Logger: logger})
		if err != nil {
			logger.Warnf("fanout", "mqtt disabled: %v", err)
		} else {
			sink := fanout.NewMQTTSink(client)
			multi.Add("mqtt", sink)
			closers = append(closers, sink.Close)
		}
	}

	if cfg.AMQPURL != "" {
		sink, err := fanout.NewAMQPSink(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Warnf("fanout", "amqp disabled: %v", err)
		} else {
			multi.Add("amqp", sink)
			closers = append(closers, func() { _ = sink.Close() })
		}
	}

	logger.Infof("fanout", "publishing to %v", multi.Names())
	return multi, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
}

func sweepNoShows(ctx context.Context, cfg config.Config, service *queue.Service, logger *logging.Logger) {
	if cfg.NoShowGrace <= 0 || cfg.NoShowInterval <= 0 {
		return
	}
	ticker := time.NewTicker(cfg.NoShowInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := service.ExpireCalled(ctx, cfg.NoShowGrace, cfg.NoShowBatchSize)
			if err != nil {
				logger.Warnf("sweeper", "auto no-show error: %v", err)
				continue
			}
			if count > 0 {
				logger.Infof("sweeper", "auto no-show processed %d tickets", count)
			}
		}
	}
}
