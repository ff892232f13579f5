package handlers

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"marketbrief/internal/sources"
	"marketbrief/internal/store"
)

// NewIngestCmd creates the discovery command.
func NewIngestCmd() *cobra.Command {
	var (
		sinceHours int
		perTerm    int
		noMacro    bool
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Discover new articles for your holdings",
		Long: `Query the configured news provider once per tracked holding, plus the
standing macro topics, and store every new URL as a pending article.
Already-known URLs are merged by extending their searched_by tags.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			holdings, err := s.ListHoldings(store.DefaultUserID)
			if err != nil {
				return err
			}

			opts := sources.DefaultIngestOptions()
			opts.Since = time.Now().Add(-time.Duration(sinceHours) * time.Hour)
			opts.PerTermLimit = perTerm
			opts.IncludeMacro = !noMacro

			result, err := newIngestor(s).IngestForHoldings(cmd.Context(), holdings, opts)
			if err != nil {
				return err
			}

			fmt.Printf("Queried %d terms (%d failed)\n", result.TermsQueried, result.TermsFailed)
			fmt.Printf("Fetched %d articles: %d new, %d merged\n", result.Fetched, result.Inserted, result.Merged)
			for _, e := range result.Errors {
				fmt.Printf("  warning: %v\n", e)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&sinceHours, "since", 24, "lookback window in hours")
	cmd.Flags().IntVar(&perTerm, "per-term", 25, "max articles per search term")
	cmd.Flags().BoolVar(&noMacro, "no-macro", false, "skip the standing macro topic searches")
	return cmd
}
