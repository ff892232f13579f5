package handlers

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"marketbrief/internal/core"
	"marketbrief/internal/store"
)

// NewHoldingsCmd creates the holdings management command.
func NewHoldingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "holdings",
		Short: "Manage tracked ticker symbols",
	}
	cmd.AddCommand(newHoldingsAddCmd())
	cmd.AddCommand(newHoldingsRemoveCmd())
	cmd.AddCommand(newHoldingsListCmd())
	return cmd
}

func newHoldingsAddCmd() *cobra.Command {
	var label, notes string

	cmd := &cobra.Command{
		Use:   "add <ticker>",
		Short: "Track a ticker symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			h := core.Holding{
				UserID: store.DefaultUserID,
				Ticker: args[0],
				Label:  label,
				Notes:  notes,
			}
			if err := s.AddHolding(h); err != nil {
				return err
			}
			fmt.Printf("Tracking %s\n", core.NormalizeTicker(args[0]))
			return nil
		},
	}

	cmd.Flags().StringVar(&label, "label", "", "issuer name, e.g. \"Apple Inc\"")
	cmd.Flags().StringVar(&notes, "notes", "", "free-form notes")
	return cmd
}

func newHoldingsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <ticker>",
		Short: "Stop tracking a ticker symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.RemoveHolding(store.DefaultUserID, args[0]); err != nil {
				return err
			}
			fmt.Printf("Removed %s\n", core.NormalizeTicker(args[0]))
			return nil
		},
	}
}

func newHoldingsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tracked ticker symbols",
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
			if len(holdings) == 0 {
				fmt.Println("No holdings tracked. Add one with: marketbrief holdings add AAPL")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TICKER\tLABEL\tNOTES")
			for _, h := range holdings {
				fmt.Fprintf(w, "%s\t%s\t%s\n", h.Ticker, h.Label, strings.TrimSpace(h.Notes))
			}
			return w.Flush()
		},
	}
}
