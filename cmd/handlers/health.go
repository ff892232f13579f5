package handlers

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// NewHealthCmd creates the pipeline status command.
func NewHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show article counts per pipeline status",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			counts, err := s.StatusCounts()
			if err != nil {
				return err
			}
			if len(counts) == 0 {
				fmt.Println("Store is empty")
				return nil
			}

			statuses := make([]string, 0, len(counts))
			total := 0
			for status, n := range counts {
				statuses = append(statuses, status)
				total += n
			}
			sort.Strings(statuses)

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STATUS\tCOUNT")
			for _, status := range statuses {
				fmt.Fprintf(w, "%s\t%d\n", status, counts[status])
			}
			fmt.Fprintf(w, "total\t%d\n", total)
			return w.Flush()
		},
	}
}
