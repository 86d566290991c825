package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/scrollcap/internal/config"
	"github.com/goodtune/scrollcap/internal/storage"
	"github.com/spf13/cobra"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change tracked apps, limits and locks",
	Long: `Show or change the settings the enforcement engine applies. A running daemon
picks up changes immediately. While a lock is active the settings it covers
cannot be changed, and a lock can only be extended.`,
	RunE: withSettings(func(ctx context.Context, s storage.SettingsStore, _ []string) error {
		return showSettings(ctx, s)
	}),
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	Args:  cobra.NoArgs,
	RunE: withSettings(func(ctx context.Context, s storage.SettingsStore, _ []string) error {
		return showSettings(ctx, s)
	}),
}

var settingsTrackCmd = &cobra.Command{
	Use:     "track APP...",
	Short:   "Replace the set of tracked apps",
	Example: `  scrollcap settings track com.example.feed com.example.video`,
	Args:    cobra.MinimumNArgs(1),
	RunE: withSettings(func(ctx context.Context, s storage.SettingsStore, args []string) error {
		return s.SetTrackedApps(ctx, args)
	}),
}

var settingsUntrackCmd = &cobra.Command{
	Use:   "untrack APP...",
	Short: "Stop tracking apps",
	Args:  cobra.MinimumNArgs(1),
	RunE: withSettings(func(ctx context.Context, s storage.SettingsStore, args []string) error {
		current, err := s.Load(ctx)
		if err != nil {
			return err
		}
		apps := storage.NewAppSet(current.TrackedApps.Sorted()...)
		for _, app := range args {
			delete(apps, app)
		}
		return s.SetTrackedApps(ctx, apps.Sorted())
	}),
}

var settingsGlobalCmd = &cobra.Command{
	Use:   "global UNITS",
	Short: "Set the global daily limit",
	Args:  cobra.ExactArgs(1),
	RunE: withSettings(func(ctx context.Context, s storage.SettingsStore, args []string) error {
		limit, err := parseLimit(args[0])
		if err != nil {
			return err
		}
		return s.SetGlobalLimit(ctx, limit)
	}),
}

var settingsLimitCmd = &cobra.Command{
	Use:   "limit APP UNITS",
	Short: "Set a per-app daily limit",
	Args:  cobra.ExactArgs(2),
	RunE: withSettings(func(ctx context.Context, s storage.SettingsStore, args []string) error {
		limit, err := parseLimit(args[1])
		if err != nil {
			return err
		}
		return s.SetAppLimit(ctx, args[0], limit)
	}),
}

var settingsUnlimitCmd = &cobra.Command{
	Use:   "unlimit APP",
	Short: "Remove a per-app limit so the global limit applies",
	Args:  cobra.ExactArgs(1),
	RunE: withSettings(func(ctx context.Context, s storage.SettingsStore, args []string) error {
		return s.ClearAppLimit(ctx, args[0])
	}),
}

var settingsLockCmd = &cobra.Command{
	Use:   "lock general|app-limits DURATION",
	Short: "Lock settings for a duration",
	Example: `  scrollcap settings lock general 24h
  scrollcap settings lock app-limits 7d`,
	Args: cobra.ExactArgs(2),
	RunE: withSettings(func(ctx context.Context, s storage.SettingsStore, args []string) error {
		d, err := parseLockDuration(args[1])
		if err != nil {
			return err
		}
		until := time.Now().Add(d)
		switch args[0] {
		case "general":
			return s.SetGeneralLock(ctx, until)
		case "app-limits":
			return s.SetAppLimitsLock(ctx, until)
		default:
			return fmt.Errorf("unknown lock %q (want general or app-limits)", args[0])
		}
	}),
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsTrackCmd)
	settingsCmd.AddCommand(settingsUntrackCmd)
	settingsCmd.AddCommand(settingsGlobalCmd)
	settingsCmd.AddCommand(settingsLimitCmd)
	settingsCmd.AddCommand(settingsUnlimitCmd)
	settingsCmd.AddCommand(settingsLockCmd)
	rootCmd.AddCommand(settingsCmd)
}

// withSettings opens the store and runs fn against its settings. A write
// refused by an active lock is reported with the time it ends.
func withSettings(fn func(ctx context.Context, s storage.SettingsStore, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
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
		err = fn(ctx, store.Settings(), args)
		if errors.Is(err, storage.ErrLocked) {
			red := color.New(color.FgRed, color.Bold)
			_, _ = red.Fprintln(os.Stderr, "Settings are locked.")
			if current, lerr := store.Settings().Load(ctx); lerr == nil {
				printLocks(current)
			}
			cmd.SilenceUsage = true
			return err
		}
		if err != nil {
			return err
		}
		if name := cmd.Name(); name != "settings" && name != "show" {
			_, _ = color.New(color.FgGreen).Println("Settings updated")
		}
		return nil
	}
}

func showSettings(ctx context.Context, s storage.SettingsStore) error {
	current, err := s.Load(ctx)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)

	_, _ = cyan.Println("[tracked apps]")
	if len(current.TrackedApps) == 0 {
		fmt.Println("  (none)")
	}
	for _, app := range current.TrackedApps.Sorted() {
		_, _ = green.Printf("  %s\n", app)
	}

	_, _ = cyan.Println("\n[limits]")
	fmt.Printf("  %-32s %8.2f\n", "global", current.GlobalLimit)
	for _, app := range sortedKeys(current.AppLimits) {
		fmt.Printf("  %-32s %8.2f\n", app, current.AppLimits[app])
	}

	_, _ = cyan.Println("\n[locks]")
	printLocks(current)
	return nil
}

func printLocks(s storage.Settings) {
	now := time.Now()
	yellow := color.New(color.FgYellow)
	for _, lock := range []struct {
		name   string
		until  time.Time
		active bool
	}{
		{"general", s.GeneralLockUntil, s.GeneralLocked(now)},
		{"app-limits", s.AppLimitsLockUntil, s.AppLimitsLocked(now)},
	} {
		if lock.active {
			_, _ = yellow.Printf("  %-12s locked until %s\n", lock.name, lock.until.Local().Format(time.DateTime))
		} else {
			fmt.Printf("  %-12s unlocked\n", lock.name)
		}
	}
}

func parseLimit(raw string) (float64, error) {
	limit, err := strconv.ParseFloat(raw, 64)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit %q: want a positive number of units", raw)
	}
	return limit, nil
}

// parseLockDuration accepts Go durations plus a whole number of days, "7d".
func parseLockDuration(raw string) (time.Duration, error) {
	if n := len(raw); n > 1 && raw[n-1] == 'd' {
		days, err := strconv.Atoi(raw[:n-1])
		if err == nil && days > 0 {
			return time.Duration(days) * 24 * time.Hour, nil
		}
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid lock duration %q", raw)
	}
	return d, nil
}
