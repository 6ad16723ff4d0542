package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/spf13/cobra"

	"github.com/vocabweave/vocabweave/internal/agent"
	"github.com/vocabweave/vocabweave/internal/agent/providers"
	"github.com/vocabweave/vocabweave/internal/agent/routing"
	"github.com/vocabweave/vocabweave/internal/blob"
	"github.com/vocabweave/vocabweave/internal/cache"
	"github.com/vocabweave/vocabweave/internal/config"
	"github.com/vocabweave/vocabweave/internal/format"
	"github.com/vocabweave/vocabweave/internal/observability"
	bedrockdiscovery "github.com/vocabweave/vocabweave/internal/providers/bedrock"
	"github.com/vocabweave/vocabweave/internal/providers/venice"
	"github.com/vocabweave/vocabweave/internal/retry"
	"github.com/vocabweave/vocabweave/internal/tts"
	"github.com/vocabweave/vocabweave/internal/vocab/audio"
	"github.com/vocabweave/vocabweave/internal/vocab/domain"
	"github.com/vocabweave/vocabweave/internal/vocab/executor"
	"github.com/vocabweave/vocabweave/internal/vocab/gateway"
	"github.com/vocabweave/vocabweave/internal/vocab/graph"
	"github.com/vocabweave/vocabweave/internal/vocab/intake"
	"github.com/vocabweave/vocabweave/internal/vocab/media"
	"github.com/vocabweave/vocabweave/internal/vocab/notify"
	"github.com/vocabweave/vocabweave/internal/vocab/store"
	"github.com/vocabweave/vocabweave/internal/vocab/supervisor"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		httpAddr   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the queue consumer and WebSocket server",
		Long: `serve loads configuration, wires the enrichment graph's collaborators
(LLM gateway, persistence, media, audio, and connection broadcaster), then:

  1. polls the configured SQS queue, running each message through intake.Process
     under a bounded timeout, deleting it on success or permanent failure and
     leaving it for redelivery on any transient error;
  2. serves a WebSocket endpoint (/ws) clients use to subscribe to a
     source word/target language pair's progress events.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, httpAddr)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "vocabweave.yaml", "path to the settings file")
	cmd.Flags().StringVar(&httpAddr, "http-addr", ":8080", "address the WebSocket/metrics server listens on")
	return cmd
}

func runServe(ctx context.Context, configPath, httpAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
	metrics := observability.NewMetrics()

	deps, notifier, st, err := buildDeps(ctx, cfg, logger, metrics)
	if err != nil {
		return fmt.Errorf("build dependencies: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	httpServer := newWSServer(httpAddr, notifier, metrics)
	go func() {
		logger.Info(ctx, "websocket server listening", "addr", httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "websocket server failed", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	timeout := intake.DefaultTimeout
	if cfg.ProcessingTimeoutSeconds > 0 {
		timeout = time.Duration(cfg.ProcessingTimeoutSeconds) * time.Second
	}
	dedupe := cache.NewDedupeCache(cache.DedupeCacheOptions{TTL: intake.DedupeWindow, MaxSize: 10_000})

	return consumeQueue(ctx, cfg.AWS.Region, cfg.AWS.QueueURL, deps, st, intake.Config{Timeout: timeout, Dedupe: dedupe}, logger)
}

// buildDeps wires the graph's collaborators from cfg and the process
// environment (secrets never live in the settings file).
func buildDeps(ctx context.Context, cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) (graph.Deps, *notify.Notifier, *store.Store, error) {
	providerRouter, primary, err := buildProviderRouter()
	if err != nil {
		return graph.Deps{}, nil, nil, fmt.Errorf("build provider router: %w", err)
	}

	sink := &metricsUsageSink{metrics: metrics, provider: primary}
	gw := gateway.New(providerRouter, sink)

	router := supervisor.Router{ExecutorModel: cfg.Models.Executor, SupervisorModel: cfg.Models.Supervisor}
	supCfg := supervisor.DefaultConfig()
	if cfg.Quality.Threshold > 0 {
		supCfg.QualityThreshold = cfg.Quality.Threshold
	}
	if cfg.Quality.MaxRetries > 0 {
		supCfg.MaxRetries = cfg.Quality.MaxRetries
	}
	if cfg.Quality.AcceptOnFinal > 0 {
		supCfg.AcceptOnFinal = cfg.Quality.AcceptOnFinal
	}
	sup := supervisor.New(supCfg, gw, router)
	exec := executor.New(sup, router)

	st, err := store.New(ctx, store.Config{TableName: cfg.AWS.VocabTable, Region: cfg.AWS.Region})
	if err != nil {
		return graph.Deps{}, nil, nil, fmt.Errorf("build store: %w", err)
	}

	var blobStore *blob.Store
	if cfg.AWS.MediaBucket != "" {
		blobStore, err = blob.New(ctx, blob.Config{Bucket: cfg.AWS.MediaBucket, Region: cfg.AWS.Region})
		if err != nil {
			return graph.Deps{}, nil, nil, fmt.Errorf("build blob store: %w", err)
		}
	}

	mediaProvider := media.New(gw, st, blobStore, media.Config{
		PexelsAPIKey: os.Getenv("PEXELS_API_KEY"),
		Model:        cfg.Models.Media,
	})

	ttsCfg := tts.DefaultConfig()
	ttsCfg.Enabled = true
	ttsCfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	ttsCfg.ElevenLabs.APIKey = os.Getenv("ELEVENLABS_API_KEY")
	audioProvider := audio.New(blobStore, audio.Config{TTS: ttsCfg, Retry: retry.Exponential(3, 500*time.Millisecond, 5*time.Second)})

	notifier, err := notify.New(ctx, notify.Config{
		TableName:   cfg.AWS.ConnectionsTable,
		Region:      cfg.AWS.Region,
		APIEndpoint: cfg.AWS.WebSocketEndpoint,
		Logger:      logger,
	})
	if err != nil {
		return graph.Deps{}, nil, nil, fmt.Errorf("build notifier: %w", err)
	}

	deps := graph.Deps{
		Gateway:  gw,
		Executor: exec,
		Store:    st,
		Media:    mediaProvider,
		Audio:    audioProvider,
		Notifier: notifier,
	}
	return deps, notifier, st, nil
}

// buildProviderRouter wires every LLM provider this process has credentials
// for behind a single routing.Router, so a transient Anthropic outage falls
// back to whichever of Bedrock/OpenAI/Google is configured instead of
// failing every in-flight request. Anthropic is required; the rest are
// opportunistic based on which API keys are present in the environment.
func buildProviderRouter() (*routing.Router, string, error) {
	anthropic, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
		APIKey:     os.Getenv("ANTHROPIC_API_KEY"),
		MaxRetries: 3,
	})
	if err != nil {
		return nil, "", fmt.Errorf("build anthropic provider: %w", err)
	}

	registered := map[string]agent.LLMProvider{"anthropic": anthropic}

	if region := os.Getenv("AWS_BEDROCK_REGION"); region != "" {
		if bedrockProvider, err := providers.NewBedrockProvider(providers.BedrockConfig{Region: region}); err == nil {
			registered["bedrock"] = bedrockProvider
			warnIfRegionHasNoModels(context.Background(), region)
		} else {
			slog.Warn("bedrock provider unavailable, skipping fallback route", "error", err)
		}
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		registered["openai"] = providers.NewOpenAIProvider(apiKey)
	}
	if apiKey := os.Getenv("GOOGLE_API_KEY"); apiKey != "" {
		if google, err := providers.NewGoogleProvider(providers.GoogleConfig{APIKey: apiKey}); err == nil {
			registered["google"] = google
		} else {
			slog.Warn("google provider unavailable, skipping fallback route", "error", err)
		}
	}
	if apiKey := os.Getenv("VENICE_API_KEY"); apiKey != "" {
		if vp, err := venice.NewVeniceProvider(venice.VeniceConfig{APIKey: apiKey}); err == nil {
			registered["venice"] = vp
		} else {
			slog.Warn("venice provider unavailable, skipping fallback route", "error", err)
		}
	}

	router := routing.NewRouter(routing.Config{
		DefaultProvider: "anthropic",
		Fallback:        routing.Target{Provider: "anthropic"},
		FailureCooldown: 30 * time.Second,
	}, registered)
	return router, "anthropic", nil
}

// warnIfRegionHasNoModels surfaces a misconfigured AWS_BEDROCK_REGION early:
// a region with Bedrock enabled but no Anthropic models available would
// otherwise fail silently until the first fallback request hits it.
func warnIfRegionHasNoModels(ctx context.Context, region string) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	models, err := bedrockdiscovery.DiscoverModels(ctx, &bedrockdiscovery.DiscoveryConfig{
		Region:         region,
		ProviderFilter: []string{"anthropic"},
	})
	if err != nil {
		slog.Warn("bedrock model discovery failed", "region", region, "error", err)
		return
	}
	if len(models) == 0 {
		slog.Warn("bedrock region has no anthropic models available", "region", region)
	}
}

// metricsUsageSink records LLM token usage via the shared Prometheus
// registry, implementing gateway.UsageSink.
type metricsUsageSink struct {
	metrics  *observability.Metrics
	provider string
}

func (s *metricsUsageSink) RecordUsage(ctx context.Context, model string, promptTokens, completionTokens int) {
	s.metrics.RecordLLMRequest(s.provider, model, "success", 0, promptTokens, completionTokens)
}

func consumeQueue(ctx context.Context, region, queueURL string, deps graph.Deps, st *store.Store, cfg intake.Config, logger *observability.Logger) error {
	if strings.TrimSpace(queueURL) == "" {
		return fmt.Errorf("serve: no queue URL configured")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return fmt.Errorf("serve: load aws config: %w", err)
	}
	client := sqs.NewFromConfig(awsCfg)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		out, err := client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            &queueURL,
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
			VisibilityTimeout:   int32(intake.VisibilityBuffer / time.Second),
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error(ctx, "receive_message_failed", "error", err)
			continue
		}

		for _, msg := range out.Messages {
			processMessage(ctx, client, queueURL, msg, deps, st, cfg, logger)
		}
	}
}

func processMessage(ctx context.Context, client *sqs.Client, queueURL string, msg sqstypes.Message, deps graph.Deps, st *store.Store, cfg intake.Config, logger *observability.Logger) {
	var req domain.Request
	if msg.Body != nil {
		if err := json.Unmarshal([]byte(*msg.Body), &req); err != nil {
			logger.Error(ctx, "malformed_message", "error", err)
			deleteMessage(ctx, client, queueURL, msg, logger)
			return
		}
	}

	logger.Info(ctx, "received_request", "source_word", req.SourceWord, "target_language", req.TargetLanguage)

	started := time.Now()
	result, err := intake.Process(ctx, deps, st, req, cfg)
	elapsedMs := float64(time.Since(started).Milliseconds())
	if err != nil {
		if retry.IsPermanent(err) {
			logger.Error(ctx, "request_rejected", "error", err, "elapsed", format.FormatDurationSeconds(elapsedMs, nil))
			deleteMessage(ctx, client, queueURL, msg, logger)
			return
		}
		logger.Error(ctx, "processing_failed_will_redeliver", "error", err, "elapsed", format.FormatDurationSeconds(elapsedMs, nil))
		return
	}

	logger.Info(ctx, "request_done", "cache_hit", result.CacheHit, "completed", result.Outcome.Completed, "elapsed", format.FormatDurationSeconds(elapsedMs, nil))
	deleteMessage(ctx, client, queueURL, msg, logger)
}

func deleteMessage(ctx context.Context, client *sqs.Client, queueURL string, msg sqstypes.Message, logger *observability.Logger) {
	_, err := client.DeleteMessage(ctx, &sqs.DeleteMessageInput{QueueUrl: &queueURL, ReceiptHandle: msg.ReceiptHandle})
	if err != nil {
		logger.Error(ctx, "delete_message_failed", "error", err)
	}
}
