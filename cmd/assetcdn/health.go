package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/assetcdn/internal/resource"
)

var (
	healthWait time.Duration
	healthJSON bool
)

func newHealthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe all configured mirrors and show the ranking",
		Long: `Run one health-check round against every configured mirror and print the
results, fastest available mirror first. Unavailable mirrors keep their
configured order at the end of the list.`,
		Example: `  assetcdn health
  assetcdn health --json`,
		RunE: healthRun,
	}

	cmd.Flags().DurationVar(&healthWait, "wait", 30*time.Second, "maximum time to wait for the round")
	cmd.Flags().BoolVar(&healthJSON, "json", false, "print results as JSON")

	return cmd
}

func healthRun(cmd *cobra.Command, args []string) error {
	mgr, err := newManager()
	if err != nil {
		return err
	}

	if mode := mgr.Mode(); mode != resource.ModeMirrors {
		fmt.Printf("Mirrors not probed (mode: %s)\n", mode)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), healthWait)
	defer cancel()
	if err := mgr.Initialize(ctx); err != nil {
		return fmt.Errorf("health check did not complete: %w", err)
	}

	round, _ := mgr.LastRound()

	if healthJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(round)
	}

	fmt.Println("Mirror Health")
	fmt.Println("=============")
	fmt.Printf("Round %s, %d of %d available, checked %s\n\n",
		round.ID, round.AvailableCount(), len(round.Results), humanize.Time(round.FinishedAt))

	fmt.Printf("%-5s %-50s %-6s %10s %-6s %s\n", "Rank", "Mirror", "Status", "Latency", "Method", "Error")
	fmt.Println(strings.Repeat("-", 90))

	for i, r := range round.Results {
		status, latency, method := "down", "-", "-"
		if r.Available {
			status = "up"
			latency = fmt.Sprintf("%d ms", r.ResponseTimeMs)
			method = r.Method
		}
		fmt.Printf("%-5s %-50s %-6s %10s %-6s %s\n",
			humanize.Ordinal(i+1), r.Endpoint.BaseURL, status, latency, method, r.Error)
	}

	fmt.Println("")
	return nil
}
