package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/scrollcap/internal/clock"
	"github.com/goodtune/scrollcap/internal/config"
	"github.com/goodtune/scrollcap/internal/storage"
	"github.com/goodtune/scrollcap/internal/usage"
	"github.com/spf13/cobra"
)

var archiveBefore string

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Fold old usage records into daily totals",
	Long: `Fold raw usage records older than the retention window, or older than
--before, into per-app daily totals and delete the raw records.`,
	RunE: runArchive,
}

func init() {
	archiveCmd.Flags().StringVar(&archiveBefore, "before", "", "Archive days before YYYY-MM-DD instead of the retention cutoff")
	rootCmd.AddCommand(archiveCmd)
}

func runArchive(cmd *cobra.Command, args []string) error {
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

	var result storage.ArchiveResult
	cutoff := archiveBefore
	if cutoff != "" {
		if _, err := storage.ParseDay(cutoff, time.Local); err != nil {
			return err
		}
		result, err = store.Usage().ArchiveAndPrune(ctx, cutoff)
	} else {
		rs, rerr := usage.NewRetentionScheduler(store.Usage(), cfg.Usage.ArchiveTime, cfg.Usage.RetentionDays,
			clock.RealClock{}, time.Local, quietLogger())
		if rerr != nil {
			return rerr
		}
		cutoff = rs.Cutoff(time.Now())
		result, err = rs.ArchiveNow(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to archive usage: %w", err)
	}

	if result.Days == 0 {
		fmt.Printf("Nothing to archive before %s\n", cutoff)
		return nil
	}
	_, _ = color.New(color.FgGreen, color.Bold).Printf("Archived %d day(s) before %s\n", result.Days, cutoff)
	fmt.Printf("  totals upserted  %d\n", result.TotalsUpserted)
	fmt.Printf("  records pruned   %d\n", result.RecordsPruned)
	return nil
}
