package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"loci/application/services/cascade"
	"loci/infrastructure/config"
	"loci/infrastructure/di"
)

var (
	repairApply bool
	repairJSON  bool
)

var rootCmd = &cobra.Command{
	Use:   "repair [flags]",
	Short: "Find and remove records orphaned by interrupted cascades",
	Long: `Scans content items, chunk-tag links and conversation messages for
references to records that no longer exist.

By default nothing is deleted and the orphans are only listed. Pass --apply
to delete them.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}

		container, cleanup, err := di.InitializeContainer(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize container: %w", err)
		}
		defer cleanup()
		defer func() { _ = container.Logger.Sync() }()

		report, err := container.Cascade.RepairOrphans(cmd.Context(), cascade.Options{DryRun: !repairApply})
		if err != nil {
			container.Logger.Error("Orphan repair failed", zap.Error(err))
			return err
		}
		return printReport(cmd, report)
	},
}

func printReport(cmd *cobra.Command, report *cascade.RepairReport) error {
	out := cmd.OutOrStdout()
	if repairJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	verb := "Deleted"
	if report.DryRun {
		verb = "Would delete"
	}
	fmt.Fprintf(out, "Scanned %d content items, %d chunk-tag links, %d messages\n",
		report.ScannedItems, report.ScannedLinks, report.ScannedMessages)
	fmt.Fprintf(out, "%s %d orphaned records\n", verb, len(report.Deleted))
	for _, ref := range report.Deleted {
		fmt.Fprintf(out, "  %s %s\n", ref.Kind, ref.ID)
	}
	if report.DryRun && len(report.Deleted) > 0 {
		fmt.Fprintln(out, "Run again with --apply to delete them.")
	}
	return nil
}

func init() {
	rootCmd.Flags().BoolVar(&repairApply, "apply", false, "Delete the orphans instead of listing them")
	rootCmd.Flags().BoolVar(&repairJSON, "json", false, "Print the report as JSON")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
