// Package config provides configuration types for the AI WAF gateway.
//
// Configuration is read once at startup from ai-waf.yaml and AI_WAF_*
// environment variables. The security policy is a separate file (see
// PolicyConfig) and is the only part that may be reloaded at runtime.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Audit output schemes.
const (
	AuditStdout   = "stdout"
	AuditFile     = "file"
	AuditSQLite   = "sqlite"
	AuditFirehose = "firehose"
)

// Metric backends.
const (
	MetricsPrometheus = "prometheus"
	MetricsOTel       = "otel"
	MetricsCloudWatch = "cloudwatch"
)

// Config is the top-level configuration of the gateway.
type Config struct {
	// Server configures the listeners and logging.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Model configures the LLM backend used for both risk evaluation and
	// guarded invocation.
	Model ModelConfig `yaml:"model" mapstructure:"model"`

	// Classifier configures the input classifier.
	Classifier ClassifierConfig `yaml:"classifier" mapstructure:"classifier"`

	// Audit configures where security events are written.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Metrics selects the metric sinks.
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`

	// Tracing configures per-stage spans.
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`

	// Policy points at the security policy file.
	Policy PolicyConfig `yaml:"policy" mapstructure:"policy"`

	// Direct gates the unprotected /chat-direct endpoint.
	Direct DirectConfig `yaml:"direct" mapstructure:"direct"`

	// Environment tags every audit event and metric (dev, staging, prod).
	Environment string `yaml:"environment" mapstructure:"environment" validate:"required"`

	// DevMode enables debug logging.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the listeners.
type ServerConfig struct {
	// HTTPAddr is the address of the gateway HTTP listener.
	// Defaults to "127.0.0.1:8080".
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"required,hostname_port"`
	// GRPCHealthAddr enables the gRPC health listener when set.
	GRPCHealthAddr string `yaml:"grpc_health_addr" mapstructure:"grpc_health_addr" validate:"omitempty,hostname_port"`
	// LogLevel is one of debug, info, warn, error. Defaults to "info".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// ModelConfig configures the Bedrock model.
type ModelConfig struct {
	ID     string `yaml:"id" mapstructure:"id" validate:"required"`
	Region string `yaml:"region" mapstructure:"region"`
	// Endpoint overrides the Bedrock runtime endpoint, e.g. for a VPC
	// endpoint or a local stub.
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint" validate:"omitempty,url"`
	// GuardrailID enables the content guardrail when set.
	GuardrailID      string `yaml:"guardrail_id" mapstructure:"guardrail_id"`
	GuardrailVersion string `yaml:"guardrail_version" mapstructure:"guardrail_version"`

	MaxTokens             int     `yaml:"max_tokens" mapstructure:"max_tokens" validate:"min=1"`
	Temperature           float64 `yaml:"temperature" mapstructure:"temperature" validate:"gte=0,lte=1"`
	ClassifierMaxTokens   int     `yaml:"classifier_max_tokens" mapstructure:"classifier_max_tokens" validate:"min=1"`
	ClassifierTemperature float64 `yaml:"classifier_temperature" mapstructure:"classifier_temperature" validate:"gte=0,lte=1"`

	// Timeout bounds a single model call. Defaults to 30s.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gt=0"`
}

// ClassifierConfig configures the input classifier.
type ClassifierConfig struct {
	// RiskThreshold is the score at or above which a prompt is blocked.
	RiskThreshold int `yaml:"risk_threshold" mapstructure:"risk_threshold" validate:"min=1,max=100"`
	// FailureMode is "open" (allow on evaluator error) or "closed".
	FailureMode string `yaml:"failure_mode" mapstructure:"failure_mode" validate:"oneof=open closed"`
	// CacheSize bounds the verdict cache. 0 disables it.
	CacheSize int `yaml:"cache_size" mapstructure:"cache_size" validate:"min=0"`
}

// AuditConfig configures the audit sink and its async channel.
type AuditConfig struct {
	// Output is one of "stdout", "file://<abs>", "sqlite://<abs>" or
	// "firehose://<stream name or ARN>".
	Output string `yaml:"output" mapstructure:"output" validate:"required,audit_output"`
	// ChannelSize is the buffered channel capacity. Defaults to 1000.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"min=1"`
	// BatchSize is the max events per write. Defaults to 100.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"min=1"`
	// FlushInterval is the max time between writes. Defaults to 1s.
	FlushInterval time.Duration `yaml:"flush_interval" mapstructure:"flush_interval" validate:"gt=0"`
	// SendTimeout bounds how long Record waits on a full channel.
	// Defaults to 100ms.
	SendTimeout time.Duration `yaml:"send_timeout" mapstructure:"send_timeout" validate:"gte=0"`
	// WarningThreshold is the channel fill percentage that triggers a
	// warning. Defaults to 80.
	WarningThreshold int `yaml:"warning_threshold" mapstructure:"warning_threshold" validate:"min=1,max=100"`
}

// Target splits Output into its scheme and target.
// "stdout" has an empty target.
func (a AuditConfig) Target() (scheme, target string) {
	if a.Output == AuditStdout {
		return AuditStdout, ""
	}
	scheme, target, _ = strings.Cut(a.Output, "://")
	return scheme, target
}

// MetricsConfig selects the metric sinks.
type MetricsConfig struct {
	// Backends lists the enabled sinks. Defaults to ["prometheus"].
	Backends []string `yaml:"backends" mapstructure:"backends" validate:"dive,oneof=prometheus otel cloudwatch"`
	// Namespace is the CloudWatch namespace. Defaults to "AI-WAF".
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	// Interval is the CloudWatch and OTel export period. Defaults to 60s.
	Interval time.Duration `yaml:"interval" mapstructure:"interval" validate:"gt=0"`
}

// Enabled reports whether backend is listed.
func (m MetricsConfig) Enabled(backend string) bool {
	for _, b := range m.Backends {
		if b == backend {
			return true
		}
	}
	return false
}

// TracingConfig configures tracing.
type TracingConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Exporter is "stdout" or "none". Defaults to "stdout".
	Exporter string `yaml:"exporter" mapstructure:"exporter" validate:"omitempty,oneof=stdout none"`
}

// PolicyConfig points at the security policy file.
type PolicyConfig struct {
	// File is the YAML policy. Empty uses the built-in default policy.
	File string `yaml:"file" mapstructure:"file"`
	// Watch reloads File on change.
	Watch bool `yaml:"watch" mapstructure:"watch"`
}

// DirectConfig gates the unprotected path.
type DirectConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// APIKeyHashes are argon2id hashes of the accepted bearer keys
	// (see the hash-key command).
	APIKeyHashes []string `yaml:"api_key_hashes" mapstructure:"api_key_hashes" validate:"dive,startswith=$argon2id$"`
}

// SetDevDefaults applies development-mode overrides.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	c.Server.LogLevel = "debug"
}

// SetDefaults applies default values to unset fields.
func (c *Config) SetDefaults() {
	// Bind to localhost only. Network exposure must be explicit.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if c.Model.ID == "" {
		c.Model.ID = "anthropic.claude-3-haiku-20240307-v1:0"
	}
	if c.Model.GuardrailVersion == "" {
		c.Model.GuardrailVersion = "DRAFT"
	}
	if c.Model.MaxTokens == 0 {
		c.Model.MaxTokens = 2000
	}
	if c.Model.ClassifierMaxTokens == 0 {
		c.Model.ClassifierMaxTokens = 500
	}
	// Zero is a valid temperature, so only fill when not set at all.
	if !viper.IsSet("model.temperature") && c.Model.Temperature == 0 {
		c.Model.Temperature = 0.7
	}
	if !viper.IsSet("model.classifier_temperature") && c.Model.ClassifierTemperature == 0 {
		c.Model.ClassifierTemperature = 0.1
	}
	if c.Model.Timeout == 0 {
		c.Model.Timeout = 30 * time.Second
	}

	if c.Classifier.RiskThreshold == 0 {
		c.Classifier.RiskThreshold = 70
	}
	if c.Classifier.FailureMode == "" {
		c.Classifier.FailureMode = "open"
	}
	if !viper.IsSet("classifier.cache_size") && c.Classifier.CacheSize == 0 {
		c.Classifier.CacheSize = 1000
	}

	if c.Audit.Output == "" {
		c.Audit.Output = AuditStdout
	}
	if c.Audit.ChannelSize == 0 {
		c.Audit.ChannelSize = 1000
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 100
	}
	if c.Audit.FlushInterval == 0 {
		c.Audit.FlushInterval = time.Second
	}
	if c.Audit.SendTimeout == 0 {
		c.Audit.SendTimeout = 100 * time.Millisecond
	}
	if c.Audit.WarningThreshold == 0 {
		c.Audit.WarningThreshold = 80
	}

	if len(c.Metrics.Backends) == 0 {
		c.Metrics.Backends = []string{MetricsPrometheus}
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "AI-WAF"
	}
	if c.Metrics.Interval == 0 {
		c.Metrics.Interval = time.Minute
	}

	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "stdout"
	}

	if c.Environment == "" {
		c.Environment = "dev"
	}
}
