package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/aiwaf/internal/adapter/inbound/grpchealth"
	"github.com/Sentinel-Gate/aiwaf/internal/adapter/inbound/http"
	"github.com/Sentinel-Gate/aiwaf/internal/adapter/outbound/bedrock"
	"github.com/Sentinel-Gate/aiwaf/internal/adapter/outbound/cel"
	"github.com/Sentinel-Gate/aiwaf/internal/adapter/outbound/firehose"
	"github.com/Sentinel-Gate/aiwaf/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/aiwaf/internal/adapter/outbound/metrics"
	"github.com/Sentinel-Gate/aiwaf/internal/adapter/outbound/policyfile"
	"github.com/Sentinel-Gate/aiwaf/internal/adapter/outbound/sqlite"
	"github.com/Sentinel-Gate/aiwaf/internal/config"
	"github.com/Sentinel-Gate/aiwaf/internal/domain/audit"
	"github.com/Sentinel-Gate/aiwaf/internal/domain/auth"
	"github.com/Sentinel-Gate/aiwaf/internal/observability"
	"github.com/Sentinel-Gate/aiwaf/internal/service"
)

const (
	shutdownTimeout    = 10 * time.Second
	grpcHealthInterval = 5 * time.Second
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway",
	Long: `Start the AI WAF gateway.

The gateway serves POST /chat (and POST /) on server.http_addr, plus
/health and /metrics. Prompts go through input classification, guarded
model invocation, output verification and tool-call verification.

Examples:
  # Start with config file settings
  ai-waf start

  # Start with a specific config file and debug logging
  ai-waf --config /etc/ai-waf/ai-waf.yaml start --dev`,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// stop() restores default signal handling so a second Ctrl+C is a hard kill.
	ctx, stop := signal.NotifyContext(cmd.Context(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}
	logger.Info("ai-waf stopped")
	return nil
}

// run wires every component and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.DevMode {
		logger.Warn("dev mode enabled: debug logging is on, do not use in production")
	}

	awsCfg, err := loadAWSConfig(ctx, cfg.Model)
	if err != nil {
		return err
	}

	// Observability providers are shut down last so late spans still export.
	providers, err := observability.Setup(ctx, observability.Config{
		ServiceName:     "ai-waf",
		Version:         Version,
		Environment:     cfg.Environment,
		TracingExporter: tracingExporter(cfg.Tracing),
		MetricsExporter: otelMetricsExporter(cfg.Metrics),
		MetricsInterval: cfg.Metrics.Interval,
		Writer:          os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("failed to set up observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("observability shutdown failed", "error", err)
		}
	}()

	// Security policy.
	loaded, err := policyfile.Load(cfg.Policy.File)
	if err != nil {
		return err
	}
	compiler, err := cel.NewEvaluator()
	if err != nil {
		return fmt.Errorf("failed to create rule compiler: %w", err)
	}
	policies, err := service.NewPolicyRuntime(loaded.Policy, compiler, logger)
	if err != nil {
		return err
	}
	if cfg.Policy.Watch {
		watcher, err := policyfile.NewWatcher(loaded.Path, policies, logger, policyfile.WithInitialHash(loaded.Hash))
		if err != nil {
			return err
		}
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Error("policy watcher stopped", "error", err)
			}
		}()
	}

	// Audit.
	store, err := openAuditStore(ctx, cfg.Audit, awsCfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	auditService := service.NewAuditService(store, logger,
		service.WithChannelSize(cfg.Audit.ChannelSize),
		service.WithBatchSize(cfg.Audit.BatchSize),
		service.WithFlushInterval(cfg.Audit.FlushInterval),
		service.WithSendTimeout(cfg.Audit.SendTimeout),
		service.WithWarningThreshold(cfg.Audit.WarningThreshold),
	)
	auditService.Start(ctx)
	defer auditService.Stop()

	// Metrics.
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	var sinks metrics.Fanout
	if cfg.Metrics.Enabled(config.MetricsPrometheus) {
		sinks = append(sinks, metrics.NewPrometheus(registry, cfg.Environment))
	}
	if cfg.Metrics.Enabled(config.MetricsOTel) {
		sinks = append(sinks, metrics.NewOTel(providers.Meter(), cfg.Environment, logger))
	}
	if cfg.Metrics.Enabled(config.MetricsCloudWatch) {
		cw := metrics.NewCloudWatch(cloudwatch.NewFromConfig(awsCfg), cfg.Metrics.Namespace, cfg.Environment, cfg.Metrics.Interval, logger)
		cw.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			cw.Stop(shutdownCtx)
		}()
		sinks = append(sinks, cw)
	}

	// Model.
	model := bedrock.New(awsCfg, bedrock.Config{
		ModelID:               cfg.Model.ID,
		ClassifierMaxTokens:   cfg.Model.ClassifierMaxTokens,
		ClassifierTemperature: cfg.Model.ClassifierTemperature,
	}, logger, bedrockOptions(cfg.Model)...)

	classifier := service.NewClassifierService(model, policies, logger,
		service.WithFailureMode(service.FailureMode(cfg.Classifier.FailureMode)),
		service.WithVerdictCache(cfg.Classifier.CacheSize),
		service.WithClassifierMetrics(sinks),
	)
	invoker := service.NewInvokerService(model, service.InvokerConfig{
		ModelID:          cfg.Model.ID,
		GuardrailID:      cfg.Model.GuardrailID,
		GuardrailVersion: cfg.Model.GuardrailVersion,
		MaxTokens:        cfg.Model.MaxTokens,
		Temperature:      cfg.Model.Temperature,
	}, logger)
	pipeline := service.NewPipelineService(classifier, invoker, policies, auditService, sinks,
		service.PipelineConfig{
			RiskThreshold: cfg.Classifier.RiskThreshold,
			Environment:   cfg.Environment,
		},
		logger,
		service.WithTracer(providers.Tracer()),
	)

	// Transport.
	var directKeys *auth.KeySet
	if cfg.Direct.Enabled {
		directKeys, err = auth.NewKeySet(cfg.Direct.APIKeyHashes)
		if err != nil {
			return fmt.Errorf("invalid direct.api_key_hashes: %w", err)
		}
		logger.Warn("unprotected /chat-direct endpoint enabled", "keys", directKeys.Len())
	}

	healthChecker := http.NewHealthChecker(auditService, policies, Version)

	if cfg.Server.GRPCHealthAddr != "" {
		grpcHealth := grpchealth.New(healthChecker.Healthy, grpcHealthInterval, logger)
		go func() {
			if err := grpcHealth.ListenAndServe(ctx, cfg.Server.GRPCHealthAddr); err != nil {
				logger.Error("grpc health server failed", "error", err)
			}
		}()
	}

	transport := http.NewHTTPTransport(http.NewHandler(pipeline, directKeys, logger),
		http.WithAddr(cfg.Server.HTTPAddr),
		http.WithLogger(logger),
		http.WithRegistry(registry),
		http.WithHealthChecker(healthChecker),
		http.WithAuditDrops(auditService.DroppedEvents),
		http.WithTimeouts(30*time.Second, cfg.Model.Timeout*2+10*time.Second),
	)

	logger.Info("ai-waf starting",
		"version", Version,
		"http_addr", cfg.Server.HTTPAddr,
		"environment", cfg.Environment,
		"model", cfg.Model.ID,
		"guardrail", cfg.Model.GuardrailID != "",
		"risk_threshold", cfg.Classifier.RiskThreshold,
		"failure_mode", cfg.Classifier.FailureMode,
		"audit_output", auditLabel(cfg.Audit),
		"metrics", strings.Join(cfg.Metrics.Backends, ","),
		"policy_version", policies.Current().Version,
		"policy_hash", loaded.Hash,
	)
	return transport.Start(ctx)
}

func loadAWSConfig(ctx context.Context, m config.ModelConfig) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if m.Region != "" {
		opts = append(opts, awsconfig.WithRegion(m.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}

// bedrockOptions applies the model timeout and endpoint override to the
// Bedrock runtime client only.
func bedrockOptions(m config.ModelConfig) []func(*bedrockruntime.Options) {
	opts := []func(*bedrockruntime.Options){
		func(o *bedrockruntime.Options) {
			o.HTTPClient = awshttp.NewBuildableClient().WithTimeout(m.Timeout)
		},
	}
	if m.Endpoint != "" {
		opts = append(opts, func(o *bedrockruntime.Options) {
			o.BaseEndpoint = aws.String(m.Endpoint)
		})
	}
	return opts
}

func openAuditStore(ctx context.Context, a config.AuditConfig, awsCfg aws.Config, logger *slog.Logger) (audit.AuditStore, error) {
	scheme, target := a.Target()
	switch scheme {
	case config.AuditStdout:
		return memory.NewAuditStore(), nil
	case config.AuditFile:
		return memory.NewFileAuditStore(target)
	case config.AuditSQLite:
		return sqlite.Open(ctx, target)
	case config.AuditFirehose:
		return firehose.New(awsCfg, target, logger)
	default:
		return nil, fmt.Errorf("unsupported audit output %q", a.Output)
	}
}

// auditLabel hides the firehose ARN account id from logs.
func auditLabel(a config.AuditConfig) string {
	scheme, target := a.Target()
	if scheme == config.AuditFirehose {
		return scheme + "://" + firehose.StreamName(target)
	}
	return a.Output
}

func tracingExporter(t config.TracingConfig) string {
	if !t.Enabled {
		return observability.ExporterNone
	}
	return t.Exporter
}

func otelMetricsExporter(m config.MetricsConfig) string {
	if m.Enabled(config.MetricsOTel) {
		return observability.ExporterStdout
	}
	return observability.ExporterNone
}

// parseLogLevel converts a log level string to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
