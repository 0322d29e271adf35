package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "AI_WAF"

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for ai-waf.yaml/.yml in standard locations.
// The search requires an explicit YAML extension so the ai-waf binary itself
// is never picked up as a config file.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No search paths: ReadInConfig returns ConfigFileNotFoundError,
		// which LoadConfig tolerates.
		viper.SetConfigName("ai-waf")
		viper.SetConfigType("yaml")
	}

	// AI_WAF_SERVER_HTTP_ADDR overrides server.http_addr.
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	return findConfigFileInPaths([]string{
		".",
		filepath.Join(home, ".ai-waf"),
		"/etc/ai-waf",
	})
}

// findConfigFileInPaths returns the first ai-waf.yaml or ai-waf.yml found in
// paths, or "".
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "ai-waf"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// legacyEnv maps config keys to the environment names used by earlier
// deployments. The AI_WAF_ name always wins.
var legacyEnv = map[string]string{
	"model.id":                  "BEDROCK_MODEL_ID",
	"model.guardrail_id":        "GUARDRAIL_ID",
	"model.guardrail_version":   "GUARDRAIL_VERSION",
	"classifier.risk_threshold": "RISK_THRESHOLD",
	"server.log_level":          "LOG_LEVEL",
	"environment":               "ENVIRONMENT",
}

// legacyStreamEnv names the Kinesis Firehose stream ARN variable. It maps to
// audit.output=firehose://<arn> when audit.output is not set otherwise.
const legacyStreamEnv = "KINESIS_STREAM_ARN"

// bindNestedEnvKeys binds every scalar key for environment variable support.
// Array keys (metrics.backends, direct.api_key_hashes) accept a
// comma-separated value.
func bindNestedEnvKeys() {
	keys := []string{
		"server.http_addr",
		"server.grpc_health_addr",
		"server.log_level",

		"model.id",
		"model.region",
		"model.endpoint",
		"model.guardrail_id",
		"model.guardrail_version",
		"model.max_tokens",
		"model.temperature",
		"model.classifier_max_tokens",
		"model.classifier_temperature",
		"model.timeout",

		"classifier.risk_threshold",
		"classifier.failure_mode",
		"classifier.cache_size",

		"audit.output",
		"audit.channel_size",
		"audit.batch_size",
		"audit.flush_interval",
		"audit.send_timeout",
		"audit.warning_threshold",

		"metrics.backends",
		"metrics.namespace",
		"metrics.interval",

		"tracing.enabled",
		"tracing.exporter",

		"policy.file",
		"policy.watch",

		"direct.enabled",
		"direct.api_key_hashes",

		"environment",
		"dev_mode",
	}
	for _, key := range keys {
		names := []string{envName(key)}
		if legacy, ok := legacyEnv[key]; ok {
			names = append(names, legacy)
		}
		_ = viper.BindEnv(append([]string{key}, names...)...)
	}
}

func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults and validates the result.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw is LoadConfig without dev defaults and validation, so that
// CLI flags (e.g. --dev) can be applied first.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Pure environment configuration.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyLegacyStream(&cfg)
	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the config file read, or "".
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

func applyLegacyStream(cfg *Config) {
	if cfg.Audit.Output != "" {
		return
	}
	if arn := os.Getenv(legacyStreamEnv); arn != "" {
		cfg.Audit.Output = AuditFirehose + "://" + arn
	}
}
