package main

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/scrollcap/internal/config"
	"github.com/goodtune/scrollcap/internal/storage"
	"github.com/spf13/cobra"
)

var (
	usageDay     string
	usageRecords bool
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show scroll usage for a day",
	Long:  `Show the distance scrolled per tracked app on a day, merging raw records and archived totals.`,
	Example: `  scrollcap usage
  scrollcap usage --day 2026-03-02 --records`,
	RunE: runUsage,
}

func init() {
	usageCmd.Flags().StringVar(&usageDay, "day", "", "Day as YYYY-MM-DD (defaults to today)")
	usageCmd.Flags().BoolVar(&usageRecords, "records", false, "List raw usage records")
	rootCmd.AddCommand(usageCmd)
}

func runUsage(cmd *cobra.Command, args []string) error {
	day := usageDay
	if day == "" {
		day = storage.DayKey(time.Now())
	} else if _, err := storage.ParseDay(day, time.Local); err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := openStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	ctx := cmd.Context()

	totals, err := store.Usage().DailyTotalsByApp(ctx, day)
	if err != nil {
		return fmt.Errorf("failed to read usage: %w", err)
	}
	settings, err := store.Settings().Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to read settings: %w", err)
	}

	cyan := color.New(color.FgCyan, color.Bold)
	_, _ = cyan.Printf("Usage on %s\n", day)
	printTotals(totals, color.New(color.FgGreen))

	var global float64
	for _, d := range totals {
		global += d
	}
	if settings.GlobalLimit > 0 {
		printAgainstLimit("global", global, settings.GlobalLimit)
	}
	for _, app := range sortedKeys(totals) {
		if limit, ok := settings.AppLimit(app); ok {
			printAgainstLimit(app, totals[app], limit)
		}
	}

	if usageRecords {
		records, err := store.Usage().ListRecords(ctx, day)
		if err != nil {
			return fmt.Errorf("failed to list records: %w", err)
		}
		_, _ = cyan.Printf("\nRecords (%d)\n", len(records))
		for _, r := range records {
			fmt.Printf("  %s  %-32s %8.3f  %s\n", r.Timestamp.Local().Format(time.TimeOnly), r.App, r.Distance, r.ID)
		}
	}

	return nil
}

// printTotals prints per-app totals in name order followed by their sum.
func printTotals(totals map[string]float64, style *color.Color) {
	if len(totals) == 0 {
		fmt.Fprintln(os.Stdout, "  (no usage)")
		return
	}
	var sum float64
	for _, app := range sortedKeys(totals) {
		_, _ = style.Printf("  %-32s %8.2f\n", app, totals[app])
		sum += totals[app]
	}
	fmt.Printf("  %-32s %8.2f\n", "total", sum)
}

func printAgainstLimit(name string, used, limit float64) {
	style := color.New(color.FgGreen)
	pct := used / limit * 100
	switch {
	case pct >= 100:
		style = color.New(color.FgRed, color.Bold)
	case pct >= 50:
		style = color.New(color.FgYellow)
	}
	_, _ = style.Printf("  %-32s %5.1f%% of %.0f\n", name, pct, limit)
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
