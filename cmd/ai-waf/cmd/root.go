// Package cmd provides the CLI commands for the AI WAF gateway.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/aiwaf/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ai-waf",
	Short: "AI WAF - security gateway for LLM applications",
	Long: `AI WAF is a request-time security gateway between clients and an LLM.

Every prompt is classified for injection and jailbreak attempts, sent to the
model with a content guardrail attached, and the response is checked for
leaked secrets, PII and unauthorized tool calls before it is returned.
Every decision is written to the audit stream.

Quick start:
  1. Create a config file: ai-waf.yaml
  2. Run: ai-waf start

Configuration:
  Config is loaded from ai-waf.yaml in the current directory,
  $HOME/.ai-waf/, or /etc/ai-waf/.

  Environment variables can override config values with the AI_WAF_ prefix.
  Example: AI_WAF_CLASSIFIER_RISK_THRESHOLD=80

Commands:
  start       Start the gateway
  check       Run the local security checks against a prompt
  hash-key    Generate an argon2id hash for a direct-path API key
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./ai-waf.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
