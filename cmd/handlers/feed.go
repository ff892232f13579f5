package handlers

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"marketbrief/internal/config"
	"marketbrief/internal/store"
)

// NewFeedCmd creates the feed projection command.
func NewFeedCmd() *cobra.Command {
	var (
		limit      int
		minScore   float64
		sinceHours int
		sourceList string
	)

	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Show the ranked article feed",
		Long: `Show ranked and personalized articles, best rank first. The feed only
contains articles that survived every pipeline stage; use --min-score
to tighten it further.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			opts := store.FeedOptions{
				Limit:    limit,
				MinScore: minScore,
			}
			if minScore == 0 {
				opts.MinScore = float64(config.Get().Thresholds.FeedRankCutoff)
			}
			if sinceHours > 0 {
				opts.From = time.Now().Add(-time.Duration(sinceHours) * time.Hour)
			}
			if sourceList != "" {
				opts.Sources = strings.Split(sourceList, ",")
			}

			articles, err := s.FeedQuery(opts)
			if err != nil {
				return err
			}
			if len(articles) == 0 {
				fmt.Println("Feed is empty")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RANK\tVERDICT\tSOURCE\tTITLE")
			for _, a := range articles {
				title := a.Title
				if len(title) > 70 {
					title = title[:67] + "..."
				}
				fmt.Fprintf(w, "%.0f\t%s\t%s\t%s\n", a.FinalRankScore, a.Verdict, a.SourceName, title)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "max feed entries")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "minimum final rank score (0 = configured cutoff)")
	cmd.Flags().IntVar(&sinceHours, "since", 0, "only articles published in the last N hours")
	cmd.Flags().StringVar(&sourceList, "sources", "", "comma-separated source name filter")
	return cmd
}
