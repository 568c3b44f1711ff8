package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(summaryCmd)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every batch in the ledger (administrator)",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		rows, err := c.ListAll(context.Background())
		if err != nil {
			return err
		}
		return printBatches(rows)
	},
}

var deleteYes bool

var deleteCmd = &cobra.Command{
	Use:   "delete <category> <batch-id>",
	Short: "Permanently delete a batch (administrator)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !deleteYes {
			return fmt.Errorf("deleting %s/%s cannot be undone; re-run with --yes", args[0], args[1])
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.DeleteBatch(context.Background(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("✓ Deleted %s/%s\n", args[0], args[1])
		return nil
	},
}

func init() {
	deleteCmd.Flags().BoolVar(&deleteYes, "yes", false, "Confirm the deletion")
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show ledger-wide totals (administrator)",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		s, err := c.Summary(context.Background())
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(s)
		}
		fmt.Printf("Batches:   %d across %d categories (%d blocks)\n", s.Batches, s.Categories, s.Blocks)
		fmt.Printf("Tampered:  %d\n", s.TamperedBatches)
		fmt.Printf("Footprint: %.2f kg CO2e\n", s.TotalEmissions)
		fmt.Printf("Trust:     %d/100\n\n", s.AverageTrust)

		ids := make([]string, 0, len(s.ByCategory))
		for id := range s.ByCategory {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CATEGORY\tBATCHES\tBLOCKS\tCO2E")
		for _, id := range ids {
			cs := s.ByCategory[id]
			fmt.Fprintf(w, "%s\t%d\t%d\t%.2f\n", id, cs.Batches, cs.Blocks, cs.TotalEmissions)
		}
		return w.Flush()
	},
}
