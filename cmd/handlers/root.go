// Package handlers wires the marketbrief CLI commands.
package handlers

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"marketbrief/internal/config"
	"marketbrief/internal/fetch"
	"marketbrief/internal/llm"
	"marketbrief/internal/logger"
	"marketbrief/internal/pipeline"
	"marketbrief/internal/sources"
	"marketbrief/internal/store"
)

var cfgFile string

// NewRootCmd creates the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "marketbrief",
		Short: "marketbrief ingests, filters and ranks financial news for your holdings",
		Long: `marketbrief runs a staged pipeline over financial news: discovery from
news providers, headline triage, a cost gate, content fetch, dedup,
LLM classification, per-profile personalization and final ranking.
The result is a ranked feed of the stories that matter to your
portfolio, with generic churn filtered out before it costs anything.`,
		SilenceUsage: true,
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.marketbrief.yaml)")

	rootCmd.AddCommand(NewIngestCmd())
	rootCmd.AddCommand(NewProcessCmd())
	rootCmd.AddCommand(NewRankCmd())
	rootCmd.AddCommand(NewFeedCmd())
	rootCmd.AddCommand(NewHoldingsCmd())
	rootCmd.AddCommand(NewHealthCmd())
	rootCmd.AddCommand(NewClearCmd())

	return rootCmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.App.LogLevel, cfg.App.LogPlain)
}

func openStore() (*store.Store, error) {
	return store.Open(config.Get().App.DataDir)
}

// newOrchestrator builds the full pipeline from configuration.
func newOrchestrator(ctx context.Context, s *store.Store) (*pipeline.Orchestrator, error) {
	cfg := config.Get()
	client, err := llm.NewGeminiClient(ctx, cfg.AI.Gemini)
	if err != nil {
		return nil, err
	}
	resolver := fetch.NewHTTPResolver(cfg.Fetch.TimeoutDuration(), cfg.Providers.StrictRedirectAllowlist, cfg.Providers.AllowedRedirectHosts)
	return pipeline.New(s, client, cfg, resolver), nil
}

func newIngestor(s *store.Store) *sources.Ingestor {
	cfg := config.Get()
	return sources.NewIngestor(s, sources.NewNewsAPI(cfg.Providers))
}
