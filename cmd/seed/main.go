// Command seed populates a running ledger server with demo batches through
// the public API: every role of every category signs one stage, so each
// category ends up with one completed batch.
//
// Running twice appends to the same batches only if they are still open;
// completed batches are reported and skipped.
//
// Usage:
//
//	go run ./cmd/seed
//	GREENLEDGER_SERVER=http://ledger:8080 go run ./cmd/seed -prefix DEMO
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/GreenLedger/pkg/client"
)

const defaultServer = "http://localhost:8080"

func main() {
	server := flag.String("server", "", "ledger server URL (default $GREENLEDGER_SERVER, then "+defaultServer+")")
	prefix := flag.String("prefix", "", "batch id prefix (default a random one per run)")
	flag.Parse()

	url := *server
	if url == "" {
		url = os.Getenv("GREENLEDGER_SERVER")
	}
	if url == "" {
		url = defaultServer
	}
	p := *prefix
	if p == "" {
		p = "SEED-" + uuid.NewString()[:8]
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := run(ctx, url, p); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
}

// stageData holds one measurement set per stage position, per category.
var stageData = map[string][]map[string]any{
	"thermal": {
		{"origin": "Huila, CO", "weight_kg": 1200, "transport_dist": 9400},
		{"grade": "AA", "moisture_pct": 11.2},
		{"targetTemp": 215, "energyKwh": 340, "duration_min": 14},
		{"energyKwh": 45, "finalTemp": 24},
		{"duration_hours": 48, "envScore": 88},
		{"energyKwh": 22, "units": 4800, "scrap_rate": 0.8},
		{"hvac_usage": 60, "targetTemp": 18},
	},
	"mixing": {
		{"supply_distance": 420, "mass_inbound": 850},
		{"formula": "F-22b", "energyKwh": 12},
		{"weight_kg": 850, "energyKwh": 18},
		{"machine_energy": 140, "duration_min": 35},
		{"energyKwh": 55, "targetTemp": 32},
		{"samples": 12, "passRate": 100, "envScore": 92},
		{"energyKwh": 30, "scrap_rate": 1.5},
	},
	"fermentation": {
		{"energyKwh": 80, "weight_kg": 2000, "transport_dist": 150},
		{"strain": "S-04", "sterilization_temp": 121, "energyKwh": 25},
		{"energyKwh": 260, "targetTemp": 19, "duration_hours": 168},
		{"hvac_usage": 120, "targetTemp": 4},
		{"energyKwh": 15, "cellCount": "1.2e6"},
		{"energyKwh": 90, "sterilization_temp": 72},
		{"energyKwh": 40, "envScore": 85},
	},
	"extraction": {
		{"mass_inbound": 5000, "supply_distance": 1200},
		{"solvent": "ethanol", "energyKwh": 60},
		{"energyKwh": 900, "targetTemp": 180},
		{"energyKwh": 120, "scrap_rate": 3.2},
		{"energyKwh": 650, "targetTemp": 240, "envScore": 65},
		{"purity_pct": 99.4, "energyKwh": 10},
		{"waste_kg": 320, "energyKwh": 35},
	},
	"assembly": {
		{"weight_kg": 300, "transport_dist": 6200},
		{"machine_energy": 75, "units": 1000},
		{"energyKwh": 110, "units": 1000},
		{"energyKwh": 20, "passRate": 99.1, "envScore": 90},
		{"energyKwh": 18, "scrap_rate": 0.4},
		{"idle_energy": 12},
		{"energyKwh": 8, "transport_dist": 350, "weight_kg": 310},
	},
}

func run(ctx context.Context, server, prefix string) error {
	c, err := client.New(server)
	if err != nil {
		return err
	}
	if err := c.Health(ctx); err != nil {
		return fmt.Errorf("server %s not healthy: %w", server, err)
	}
	cats, err := c.Categories(ctx)
	if err != nil {
		return fmt.Errorf("list categories: %w", err)
	}
	fmt.Printf("seeding %s\n", server)

	for _, cat := range cats {
		batchID := fmt.Sprintf("%s-%s", prefix, cat.ID)
		if err := seedBatch(ctx, c, cat, batchID); err != nil {
			return fmt.Errorf("seed %s: %w", cat.ID, err)
		}
	}

	if len(cats) > 0 {
		r, err := c.Lookup(ctx, fmt.Sprintf("%s-%s", prefix, cats[0].ID))
		if err != nil {
			return fmt.Errorf("lookup: %w", err)
		}
		fmt.Printf("\nsample certificate %s: %.2f kg CO2e, efficiency %d/100, valid=%t\n",
			r.CertificateID, r.TotalEmissions, r.EfficiencyScore, r.Valid)
	}
	return nil
}

func seedBatch(ctx context.Context, c *client.Client, cat client.Category, batchID string) error {
	if len(cat.Roles) == 0 {
		return errors.New("category has no roles")
	}
	if _, err := c.Login(ctx, cat.ID, cat.Roles[0]); err != nil {
		return fmt.Errorf("login %q: %w", cat.Roles[0], err)
	}
	existing, err := c.Chain(ctx, cat.ID, batchID)
	if err != nil {
		return err
	}
	start := len(existing.Blocks)
	if start >= len(cat.Roles) {
		fmt.Printf("  skip  %-13s %s (complete)\n", cat.ID, batchID)
		return nil
	}

	product := 0
	if len(cat.Products) > 0 {
		product = cat.Products[0].Code
	}
	data := stageData[cat.ID]

	for i := start; i < len(cat.Roles); i++ {
		role := cat.Roles[i]
		if _, err := c.Login(ctx, cat.ID, role); err != nil {
			return fmt.Errorf("login %q: %w", role, err)
		}

		fields := map[string]any{"notes": fmt.Sprintf("seeded stage %d", i+1)}
		if i < len(data) {
			for k, v := range data[i] {
				fields[k] = v
			}
		}
		b, err := c.SubmitStage(ctx, client.StageRequest{BatchID: batchID, ProductCode: product, Data: fields})
		if err != nil {
			return fmt.Errorf("stage %d (%s): %w", i+1, role, err)
		}
		fmt.Printf("  block %-13s %s #%d %-32s %8.2f kg\n", cat.ID, batchID, b.Index, role, b.Emissions)
	}
	return nil
}
