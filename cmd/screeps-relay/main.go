package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"screeps-relay/config"
	"screeps-relay/internal/api"
	"screeps-relay/internal/logger"
	"screeps-relay/internal/metrics"
	"screeps-relay/internal/relay"
	mqttsink "screeps-relay/internal/relay/mqtt"
	natssink "screeps-relay/internal/relay/nats"
	"screeps-relay/internal/stream"
)

func main() {
	configPath := flag.String("config", "config/config.json", "path to config file")

	// Optional override flags
	endpointOverride := flag.String("endpoint", "", "override game server endpoint (empty = use config)")
	credentialOverride := flag.String("credential", "", "override auth credential (empty = use config)")
	metricsAddrOverride := flag.String("metrics-addr", "", "override metrics server address (empty = use config)")
	metricsPathOverride := flag.String("metrics-path", "", "override metrics endpoint path (empty = use config)")

	// One-shot console mode
	consoleExpr := flag.String("console", "", "execute a console expression via the HTTP API and exit")
	consoleShard := flag.String("shard", "", "target shard for -console (empty = server default)")

	// One-shot messaging mode
	listMessages := flag.Bool("messages", false, "list conversations via the HTTP API and exit")
	messageTo := flag.String("message-to", "", "peer user id: with -message sends it, alone prints the thread, then exit")
	messageText := flag.String("message", "", "message text to send to -message-to")

	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Apply any command line overrides
	cfg.ApplyOverrides(
		*endpointOverride,
		*credentialOverride,
		*metricsAddrOverride,
		*metricsPathOverride,
	)

	// Initialize logger
	logger, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}

	// One-shot console mode bypasses the daemon entirely.
	if *consoleExpr != "" {
		apiClient, err := api.NewClient(cfg.Stream.Endpoint, cfg.Stream.Credential, cfg.Stream.Username)
		if err != nil {
			logger.Fatal("failed to create api client", "error", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		result, err := apiClient.ConsoleExecute(ctx, *consoleExpr, *consoleShard)
		if err != nil {
			logger.Fatal("console command failed", "error", err)
		}
		if result.Feedback != "" {
			os.Stdout.WriteString(result.Feedback + "\n")
		}
		return
	}

	// One-shot messaging modes also bypass the daemon.
	if *listMessages || *messageTo != "" {
		apiClient, err := api.NewClient(cfg.Stream.Endpoint, cfg.Stream.Credential, cfg.Stream.Username)
		if err != nil {
			logger.Fatal("failed to create api client", "error", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		switch {
		case *messageTo != "" && *messageText != "":
			if err := apiClient.MessageSend(ctx, *messageTo, *messageText); err != nil {
				logger.Fatal("message send failed", "error", err)
			}
		case *messageTo != "":
			thread, err := apiClient.MessagesThread(ctx, *messageTo, 0)
			if err != nil {
				logger.Fatal("failed to fetch message thread", "error", err)
			}
			for _, msg := range thread {
				fmt.Printf("%s [%s] %s: %s\n", msg.CreatedAt, msg.Direction, msg.Sender.Username, msg.Text)
			}
		default:
			conversations, err := apiClient.MessagesIndex(ctx, 0)
			if err != nil {
				logger.Fatal("failed to fetch conversations", "error", err)
			}
			for _, conv := range conversations {
				latest := ""
				if len(conv.Messages) > 0 {
					latest = conv.Messages[0].Text
				}
				fmt.Printf("%s (%s): %s\n", conv.PeerUsername, conv.PeerID, latest)
			}
		}
		return
	}

	// Verify the credential against the HTTP API before streaming.
	if cfg.Stream.Credential != "" {
		apiClient, err := api.NewClient(cfg.Stream.Endpoint, cfg.Stream.Credential, cfg.Stream.Username)
		if err != nil {
			logger.Fatal("failed to create api client", "error", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		profile, err := apiClient.AuthMe(ctx)
		cancel()
		if err != nil {
			logger.Warn("credential check failed, streaming anyway", "error", err)
		} else {
			logger.Info("authenticated", "user", profile.Username, "id", profile.ID)
		}
	}

	// Setup metrics if enabled
	var metricsService *metrics.Metrics
	var metricsCollector *metrics.MetricsCollector
	var metricsServer *http.Server

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		metricsService, err = metrics.NewMetrics(reg)
		if err != nil {
			logger.Fatal("failed to create metrics service", "error", err)
		}

		updateInterval, err := time.ParseDuration(cfg.Metrics.UpdateInterval)
		if err != nil {
			logger.Fatal("invalid metrics update interval", "error", err)
		}

		metricsCollector = metrics.NewMetricsCollector(metricsService, updateInterval)
		metricsCollector.Start()
		defer metricsCollector.Stop()

		// Setup metrics HTTP server
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{
			Registry:          reg,
			EnableOpenMetrics: true,
		}))

		metricsServer = &http.Server{
			Addr:    cfg.Metrics.Address,
			Handler: mux,
		}

		go func() {
			logger.Info("starting metrics server",
				"address", cfg.Metrics.Address,
				"path", cfg.Metrics.Path)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	// Setup signal handlers
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	// Create the streaming client
	client, err := stream.New(stream.Config{
		Endpoint:            cfg.Stream.Endpoint,
		Credential:          cfg.Stream.Credential,
		DisableReconnect:    cfg.Stream.DisableReconnect,
		ReconnectBaseDelay:  cfg.Stream.ReconnectBaseDelayDuration(),
		ReconnectMaxDelay:   cfg.Stream.ReconnectMaxDelayDuration(),
		AuthRefreshInterval: cfg.Stream.AuthRefreshIntervalDuration(),
		Logger:              logger,
		Metrics:             metricsService,
	})
	if err != nil {
		logger.Fatal("failed to create streaming client", "error", err)
	}

	// Build the enabled sinks
	var sinks []relay.Sink
	if cfg.Relay.NATS.Enabled {
		sink, err := natssink.NewSink(&cfg.Relay.NATS, logger)
		if err != nil {
			logger.Fatal("failed to connect nats sink", "error", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Relay.MQTT.Enabled {
		sink, err := mqttsink.NewSink(&cfg.Relay.MQTT, logger)
		if err != nil {
			logger.Fatal("failed to connect mqtt sink", "error", err)
		}
		sinks = append(sinks, sink)
	}

	var eventRelay *relay.Relay
	if len(sinks) > 0 {
		eventRelay, err = relay.New(client, sinks, cfg.Relay.Topics, logger, metricsService)
		if err != nil {
			logger.Fatal("failed to create relay", "error", err)
		}
		eventRelay.Start()
	} else {
		logger.Warn("no sinks enabled; events are received but not forwarded")
	}

	client.Connect()

	logger.Info("screeps-relay started",
		"endpoint", cfg.Stream.Endpoint,
		"topics", len(cfg.Relay.Topics),
		"sinks", len(sinks),
		"metricsEnabled", cfg.Metrics.Enabled)

	// Handle signals
	for {
		sig := <-sigChan
		switch sig {
		case syscall.SIGHUP:
			logger.Info("received SIGHUP, ignoring")
		case syscall.SIGINT, syscall.SIGTERM:
			logger.Info("shutting down...")

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()

			if cfg.Metrics.Enabled && metricsServer != nil {
				if err := metricsServer.Shutdown(shutdownCtx); err != nil {
					logger.Error("failed to shutdown metrics server", "error", err)
				}
			}

			if eventRelay != nil {
				eventRelay.Stop()
			}
			client.Close()
			return
		}
	}
}
