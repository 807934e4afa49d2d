package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/sift/internal/api"
	"github.com/jackzampolin/sift/internal/config"
	"github.com/jackzampolin/sift/internal/home"
	"github.com/jackzampolin/sift/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "sift",
	Short: "Agentic structured extraction with LLM tool calling",
	Long: `Sift extracts structured records from text, images and PDFs.

A model fills a schema through tool calls: it sets the record, patches it
with JSON Patch, and reads it back. Every state is validated against the
schema before it is accepted.

  - Schemas are YAML, TOML or JSON descriptors, or JSON Schema documents
  - OpenAI-compatible gateways (OpenAI, OpenRouter, Bedrock) and Gemini
  - Token usage is metered per context, provider and model into a ledger`,
	Version:      version.GitRelease,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.sift/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "sift home directory (default: ~/.sift)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&verbose, "verbose", "v", false, "debug logging",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		format, err := api.ParseOutputFormat(outputFormat)
		if err != nil {
			return err
		}
		api.SetOutputFormat(format)
		return nil
	}

	rootCmd.AddCommand(versionCmd)
}

// newLogger logs to stderr so stdout carries only command output.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// session is the home directory, configuration and logger shared by the
// commands that run locally.
type session struct {
	home   *home.Dir
	config *config.Manager
	logger *slog.Logger
}

func newSession() (*session, error) {
	logger := newLogger()

	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}

	// .env in the working directory wins over the one in the home directory.
	if err := config.LoadEnvFiles(".env", h.EnvPath()); err != nil {
		return nil, err
	}

	mgr, err := config.NewManager(cfgFile, h.Path())
	if err != nil {
		return nil, err
	}
	mgr.SetLogger(logger)
	if f := mgr.ConfigFile(); f != "" {
		logger.Debug("loaded config", "file", f)
	}

	return &session{home: h, config: mgr, logger: logger}, nil
}
