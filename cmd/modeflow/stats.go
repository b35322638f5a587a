package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/RichLycus/ProjekUtama-sub000/internal/metrics"
	"github.com/RichLycus/ProjekUtama-sub000/internal/orchestrator"
)

func statsCmd() *cobra.Command {
	var (
		days   int
		recent int
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show recorded request metrics",
		Long: `Stats reads the metrics database: per-mode success, cache hit rate and
latency for the last --days, the daily rollups, and the most recent requests.

Examples:
  modeflow stats
  modeflow stats --days 1 --recent 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cfg.Metrics.Enabled {
				return errors.New("metrics are disabled (metrics.enabled: false)")
			}
			ctx := cmd.Context()
			collector, closeDB, err := orchestrator.OpenMetrics(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeDB()
			store := collector.Store()

			byMode, err := store.ByMode(ctx, time.Now().AddDate(0, 0, -days))
			if err != nil {
				return err
			}
			daily, err := store.Daily(ctx, days)
			if err != nil {
				return err
			}
			last, err := store.Recent(ctx, recent)
			if err != nil {
				return err
			}

			if jsonOut {
				return printJSON(map[string]any{"modes": byMode, "daily": daily, "recent": last})
			}

			fmt.Println(titleStyle.Render("Modes") + dimStyle.Render(fmt.Sprintf("  last %d days", days)))
			if len(byMode) == 0 {
				fmt.Println(dimStyle.Render("no requests recorded"))
			}
			counts := make(map[string]int64, len(byMode))
			for _, m := range byMode {
				counts[m.Mode] = m.Requests
				fmt.Println(row(m.Mode, fmt.Sprintf("%d req  %s ok  %s cached  %s avg  %s max",
					m.Requests,
					percent(m.SuccessRate),
					percent(m.CacheHitRate),
					metrics.FormatLatency(m.AvgLatencyMs),
					metrics.FormatLatency(float64(m.MaxLatencyMs)),
				)))
			}

			if len(daily) > 0 {
				fmt.Println()
				fmt.Println(titleStyle.Render("Daily"))
				for _, d := range daily {
					fmt.Println(row(d.Date, fmt.Sprintf("%d req  %d failed  %d cached  %d fallback  %s avg",
						d.Requests, d.Failures, d.CacheHits, d.Fallbacks, metrics.FormatLatency(d.AvgLatencyMs))))
				}
			}

			if len(last) > 0 {
				fmt.Println()
				fmt.Println(titleStyle.Render("Recent"))
				for _, m := range last {
					status := successStyle.Render("ok")
					if !m.Success {
						status = errorStyle.Render(m.Status)
					}
					line := fmt.Sprintf("%-9s %-18s %s %s", m.Mode, m.Pipeline, status,
						dimStyle.Render(m.Latency.Round(time.Millisecond).String()))
					if m.CacheHit {
						line += dimStyle.Render("  cached")
					}
					fmt.Println(row(m.CreatedAt.Local().Format(time.TimeOnly), line))
				}
			}

			if len(counts) > 1 {
				fmt.Println()
				fmt.Print(renderCounts("Distribution", counts))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "window for per-mode stats and daily rollups")
	cmd.Flags().IntVar(&recent, "recent", 10, "number of recent requests to list")
	return cmd
}

func percent(rate float64) string {
	return fmt.Sprintf("%.0f%%", rate*100)
}
