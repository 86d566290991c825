package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/scrollcap/internal/config"
	"github.com/goodtune/scrollcap/internal/policy"
	"github.com/goodtune/scrollcap/internal/storage"
	"github.com/spf13/cobra"
)

var (
	checkDay   string
	checkExtra float64
)

var checkCmd = &cobra.Command{
	Use:   "check [flags] APP",
	Short: "Check what enforcement an app would get",
	Long: `Check which intervention scrollcap would present if APP were in the foreground,
using the stored settings and usage. Warn and soft interventions are shown as
if they had not fired yet today.`,
	Example: `  scrollcap -c config.yaml check com.example.feed
  scrollcap check --extra 12.5 com.example.video`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkDay, "day", "", "Day as YYYY-MM-DD (defaults to today)")
	checkCmd.Flags().Float64Var(&checkExtra, "extra", 0, "Additional units scrolled in APP on top of recorded usage")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	app := args[0]
	if checkExtra < 0 {
		return fmt.Errorf("invalid --extra %v: must not be negative", checkExtra)
	}

	day := checkDay
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

	settings, err := store.Settings().Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to read settings: %w", err)
	}
	totals, err := store.Usage().DailyTotalsByApp(ctx, day)
	if err != nil {
		return fmt.Errorf("failed to read usage: %w", err)
	}

	in := checkInput(app, settings, totals, checkExtra)
	printCheckResult(app, settings.IsTracked(app), in, policy.Evaluate(in))
	return nil
}

// checkInput builds an evaluation input for app with no interventions
// delivered yet.
func checkInput(app string, settings storage.Settings, totals map[string]float64, extra float64) policy.Input {
	in := policy.Input{
		App:         app,
		AppUsage:    totals[app] + extra,
		GlobalLimit: settings.GlobalLimit,
	}
	for _, d := range totals {
		in.GlobalUsage += d
	}
	in.GlobalUsage += extra
	in.AppLimit, _ = settings.AppLimit(app)
	return in
}

func printCheckResult(app string, tracked bool, in policy.Input, d policy.Decision) {
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)
	red := color.New(color.FgRed, color.Bold)
	cyan := color.New(color.FgCyan)

	_, _ = cyan.Println("Enforcement Check")
	fmt.Printf("  App:      %s\n", app)
	if !tracked {
		_, _ = yellow.Println("  Not tracked: scrolling in this app is never measured")
	}
	printScopeLine("App", in.AppUsage, in.AppLimit)
	printScopeLine("Global", in.GlobalUsage, in.GlobalLimit)

	fmt.Println()
	switch d.Fire {
	case policy.LevelHard:
		_, _ = red.Printf("  Action: HARD BLOCK (%s limit)\n", d.Scope)
	case policy.LevelSoft:
		_, _ = yellow.Printf("  Action: SOFT BLOCK (%s limit)\n", d.Scope)
	case policy.LevelWarn:
		_, _ = yellow.Printf("  Action: WARN (%s limit)\n", d.Scope)
	default:
		_, _ = green.Println("  Action: NONE")
	}
	if !tracked && d.Fire != policy.LevelNone {
		_, _ = fmt.Fprintln(os.Stdout, "  (would apply once the app is tracked)")
	}
}

func printScopeLine(label string, used, limit float64) {
	if limit <= 0 {
		fmt.Printf("  %-9s %8.2f units, no limit\n", label+":", used)
		return
	}
	fmt.Printf("  %-9s %8.2f / %.2f units (%s)\n", label+":", used, limit, policy.RawLevel(used, limit))
}
