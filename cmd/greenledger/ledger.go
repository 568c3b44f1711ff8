package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jmerrifield20/GreenLedger/internal/catalog"
	"github.com/jmerrifield20/GreenLedger/internal/emissions"
	"github.com/jmerrifield20/GreenLedger/internal/ledger"
	"github.com/jmerrifield20/GreenLedger/pkg/batchref"
	"github.com/jmerrifield20/GreenLedger/pkg/client"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(categoriesCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(chainCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(batchesCmd)
	rootCmd.AddCommand(lookupCmd)
	rootCmd.AddCommand(emissionsCmd)
	rootCmd.AddCommand(askCmd)
}

// ── categories ───────────────────────────────────────────────────────────────

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List categories and their roles",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		cats, err := c.Categories(context.Background())
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(cats)
		}
		for _, cat := range cats {
			fmt.Printf("%s (%d) %s\n", cat.ID, cat.Code, cat.Name)
			for i, r := range cat.Roles {
				fmt.Printf("  %d. %s\n", i+1, r)
			}
		}
		return nil
	},
}

// ── submit ───────────────────────────────────────────────────────────────────

var (
	submitBatch    string
	submitProduct  int
	submitFields   []string
	submitDataJSON string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Record a stage for a batch as the signed-in role",
	Long: `Record a stage for a batch. Measurements are given as key=value pairs or
as a JSON object:

  greenledger submit --batch COF-001 --field energyKwh=120 --field targetTemp=210
  greenledger submit --batch COF-001 --data '{"energyKwh":120,"notes":"lot A"}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := parseFields(submitFields)
		if err != nil {
			return err
		}
		if submitDataJSON != "" {
			var extra map[string]any
			dec := json.NewDecoder(strings.NewReader(submitDataJSON))
			dec.UseNumber()
			if err := dec.Decode(&extra); err != nil {
				return fmt.Errorf("--data must be a JSON object: %w", err)
			}
			for k, v := range extra {
				data[k] = v
			}
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		b, err := c.SubmitStage(context.Background(), client.StageRequest{
			BatchID:     submitBatch,
			ProductCode: submitProduct,
			Data:        data,
		})
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(b)
		}
		fmt.Printf("✓ Stage recorded\n\n")
		fmt.Printf("  Batch:      %s (%s)\n", b.BatchID, b.Category)
		fmt.Printf("  Block:      #%d\n", b.Index)
		fmt.Printf("  Hash:       %s\n", b.Hash)
		fmt.Printf("  Emissions:  %.2f kg CO2e (cumulative %.2f)\n", b.Emissions, b.CumulativeEmissions)
		if b.TrustAnalysis != nil {
			fmt.Printf("  Trust:      %d/100\n", b.TrustAnalysis.TrustScore)
		}
		return nil
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitBatch, "batch", "", "Batch id (required)")
	submitCmd.Flags().IntVar(&submitProduct, "product", 0, "Product code, e.g. 101; defaults to the batch's or the category's first product")
	submitCmd.Flags().StringArrayVar(&submitFields, "field", nil, "Measurement as key=value (repeatable)")
	submitCmd.Flags().StringVar(&submitDataJSON, "data", "", "Measurements as a JSON object")
	_ = submitCmd.MarkFlagRequired("batch")
}

// ── chain / verify ───────────────────────────────────────────────────────────

var chainCmd = &cobra.Command{
	Use:   "chain <category> <batch-id>",
	Short: "Show every block of a batch",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ch, err := c.Chain(context.Background(), args[0], args[1])
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(ch)
		}
		if len(ch.Blocks) == 0 {
			fmt.Printf("No blocks recorded for %s/%s\n", ch.Category, ch.BatchID)
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "#\tACTOR\tTIME\tCO2E\tCUMULATIVE\tTRUST\tHASH\tSTATUS")
		for i, b := range ch.Blocks {
			trust := "-"
			if b.TrustAnalysis != nil {
				trust = fmt.Sprint(b.TrustAnalysis.TrustScore)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%.2f\t%.2f\t%s\t%s\t%s\n",
				b.Index, b.Actor, time.UnixMilli(b.Timestamp).UTC().Format(time.RFC3339),
				b.Emissions, b.CumulativeEmissions, trust, shortHash(b.Hash), validMark(ch.Validity[i]))
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("\nTotal: %.2f kg CO2e, average trust %d, chain %s\n",
			ch.TotalEmissions, ch.AverageTrust, validMark(ch.Valid))
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <category> <batch-id>",
	Short: "Re-verify a batch's chain; exits non-zero when tampered",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		v, err := c.VerifyChain(context.Background(), args[0], args[1])
		if err != nil {
			return err
		}
		if jsonOutput() {
			if err := printJSON(v); err != nil {
				return err
			}
		} else {
			fmt.Printf("%s/%s: %d blocks, %s\n", v.Category, v.BatchID, v.Length, validMark(v.Valid))
			if v.FirstFailure != nil {
				fmt.Printf("  first failure at block #%d: %s\n", v.FirstFailure.Index, v.FirstFailure.Reason)
			}
		}
		if !v.Valid {
			return fmt.Errorf("chain %s/%s failed verification", v.Category, v.BatchID)
		}
		return nil
	},
}

// ── batches ──────────────────────────────────────────────────────────────────

var batchesRole string

var batchesCmd = &cobra.Command{
	Use:   "batches <category>",
	Short: "List a category's batches",
	Long: `List a category's batches. With --role only batches waiting for that
role's stage are shown.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		rows, err := c.ListBatches(context.Background(), args[0], batchesRole)
		if err != nil {
			return err
		}
		return printBatches(rows)
	},
}

func init() {
	batchesCmd.Flags().StringVar(&batchesRole, "role", "", "Only batches waiting for this role")
}

func printBatches(rows []client.BatchSummary) error {
	if jsonOutput() {
		return printJSON(rows)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CATEGORY\tBATCH\tCHAIN\tSTAGES\tNEXT ROLE\tCO2E\tTRUST\tSTATUS")
	for _, r := range rows {
		next := r.NextRole
		if r.Complete {
			next = "(complete)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%.2f\t%d\t%s\n",
			r.Category, r.BatchID, r.ChainID, r.Stages, next, r.CumulativeEmissions, r.AverageTrust, validMark(r.Valid))
	}
	return w.Flush()
}

// ── lookup ───────────────────────────────────────────────────────────────────

var lookupCmd = &cobra.Command{
	Use:   "lookup <batch-id | verification link | greenledger://...>",
	Short: "Show the public certificate of a batch (no sign-in needed)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := batchref.Parse(args[0]); err != nil {
			return err
		}
		c, err := client.New(serverURL)
		if err != nil {
			return err
		}
		r, err := c.Lookup(context.Background(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(r)
		}
		fmt.Printf("Certificate:  %s\n", r.CertificateID)
		fmt.Printf("Batch:        %s (%s, chain %s)\n", r.BatchID, r.Category, r.ChainID)
		fmt.Printf("Stages:       %d\n", len(r.Blocks))
		fmt.Printf("Footprint:    %.2f kg CO2e\n", r.TotalEmissions)
		fmt.Printf("Efficiency:   %d/100\n", r.EfficiencyScore)
		fmt.Printf("Trust:        %d/100\n", r.AverageTrust)
		fmt.Printf("Integrity:    %s\n", validMark(r.Valid))
		return nil
	},
}

// ── emissions (offline) ──────────────────────────────────────────────────────

var (
	emissionsProduct int
	emissionsFields  []string
)

var emissionsCmd = &cobra.Command{
	Use:   "emissions",
	Short: "Estimate a stage's footprint locally without recording it",
	Long: `Estimate the CO2e a stage would record, using the same formula as the
server:

  greenledger emissions --product 402 --field energyKwh=500 --field transport_dist=120 --field weight_kg=800`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fields, err := parseFields(emissionsFields)
		if err != nil {
			return err
		}
		data := ledger.Payload(fields)
		if emissionsProduct != 0 {
			if _, ok := catalog.CategoryForProduct(emissionsProduct); !ok {
				return fmt.Errorf("unknown product code %d", emissionsProduct)
			}
			data[ledger.FieldProductCode] = emissionsProduct
		}
		co2 := emissions.Calculate(data)
		if jsonOutput() {
			return printJSON(map[string]any{"emissions": co2, "efficiencyScore": emissions.EfficiencyScore(co2)})
		}
		fmt.Printf("%.2f kg CO2e (efficiency %d/100 as a single-stage batch)\n", co2, emissions.EfficiencyScore(co2))
		return nil
	},
}

func init() {
	emissionsCmd.Flags().IntVar(&emissionsProduct, "product", 0, "Product code (default 101)")
	emissionsCmd.Flags().StringArrayVar(&emissionsFields, "field", nil, "Measurement as key=value (repeatable)")
}

// ── ask ──────────────────────────────────────────────────────────────────────

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the EcoAssistant a sustainability question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		reply, err := c.Ask(context.Background(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Println(reply)
		return nil
	},
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
