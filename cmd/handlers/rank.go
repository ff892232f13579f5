package handlers

import (
	"fmt"

	"github.com/spf13/cobra"

	"marketbrief/internal/config"
	"marketbrief/internal/rank"
)

// NewRankCmd creates the Stage 5 command.
func NewRankCmd() *cobra.Command {
	var cutoff int

	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Cluster and rank personalized articles",
		Long: `Run the ranking stage over every personalized article in the store:
near-duplicate stories are clustered, one primary is elected per
cluster, and the final rank score decides feed visibility.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			summary, err := rank.New(s, config.Get().Thresholds).Rank(cutoff)
			if err != nil {
				return err
			}

			fmt.Printf("Ranked %d articles into %d clusters, %d shown\n", summary.Candidates, summary.Clusters, summary.Shown)
			if summary.Degraded {
				fmt.Println("warning: cluster formation degraded to singletons")
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&cutoff, "cutoff", 0, "show threshold override (0 = configured default)")
	return cmd
}
