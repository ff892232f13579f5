package handlers

import (
	"fmt"

	"github.com/spf13/cobra"

	"marketbrief/internal/core"
	"marketbrief/internal/pipeline"
	"marketbrief/internal/store"
)

// NewProcessCmd creates the pipeline run command.
func NewProcessCmd() *cobra.Command {
	var (
		limit       int
		profile     string
		incremental bool
		topN        int
	)

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Run the pipeline over unprocessed articles",
		Long: `Run Stages 1 through 4 over every article that still needs work:
headline triage, the cost gate, content fetch, dedup, classification
and personalization. With --incremental the most promising articles
are processed first and the remainder continues in the background.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			articles, err := s.NeedsProcessing(limit)
			if err != nil {
				return err
			}
			if len(articles) == 0 {
				fmt.Println("Nothing to process")
				return nil
			}

			holdings, err := s.ListHoldings(store.DefaultUserID)
			if err != nil {
				return err
			}

			o, err := newOrchestrator(cmd.Context(), s)
			if err != nil {
				return err
			}

			var report *pipeline.BatchReport
			if incremental {
				var background <-chan *pipeline.BatchReport
				report, background, err = o.ProcessBatchIncremental(cmd.Context(), articles, holdings, core.Profile(profile), topN)
				if err != nil {
					return err
				}
				printReport(report)
				if background != nil {
					fmt.Println("Waiting for background batch...")
					if rest := <-background; rest != nil {
						printReport(rest)
					}
				}
				return nil
			}

			report, err = o.ProcessBatch(cmd.Context(), articles, holdings, core.Profile(profile))
			if err != nil {
				return err
			}
			printReport(report)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 200, "max articles to pick up")
	cmd.Flags().StringVar(&profile, "profile", string(core.ProfileBalanced), "personalization profile: focus, balanced or broad")
	cmd.Flags().BoolVar(&incremental, "incremental", false, "process the top articles first, rest in background")
	cmd.Flags().IntVar(&topN, "top", 0, "incremental synchronous batch size (0 = configured default)")
	return cmd
}

func printReport(report *pipeline.BatchReport) {
	for _, stage := range report.Stages {
		fmt.Printf("Stage %-4s %-16s processed %3d / %3d", stage.Number, stage.Name, stage.Processed, stage.Total)
		if stage.Errors > 0 {
			fmt.Printf("  errors %d", stage.Errors)
		}
		fmt.Println()
		for reason, n := range stage.Skips {
			fmt.Printf("           skipped %3d  %s\n", n, reason)
		}
	}
}
