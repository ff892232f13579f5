package handlers

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// NewClearCmd creates the destructive store reset command.
func NewClearCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every article from the store",
		Long: `Delete every article row and reclaim the database file. Holdings are
kept. This cannot be undone.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				fmt.Print("Delete all articles? Type 'yes' to confirm: ")
				reader := bufio.NewReader(os.Stdin)
				answer, _ := reader.ReadString('\n')
				if strings.TrimSpace(answer) != "yes" {
					fmt.Println("Aborted")
					return nil
				}
			}

			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.ClearAll(); err != nil {
				return err
			}
			fmt.Println("Store cleared")
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "skip the confirmation prompt")
	return cmd
}
