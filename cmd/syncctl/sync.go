package main

import (
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"propmarket/server/internal/app"
)

var intelligenceLimit int

var proximityCmd = &cobra.Command{
	Use:   "proximity",
	Short: "Recompute distance facts and nearest fields of every listing",
	RunE: withApp(func(cmd *cobra.Command, a *app.App, _ []string) error {
		result, err := a.Processor.RunProximityBatch(cmd.Context())
		if err != nil {
			return fmt.Errorf("proximity batch: %w", err)
		}
		return printJSON(cmd, result)
	}),
}

var intelligenceCmd = &cobra.Command{
	Use:   "intelligence",
	Short: "Recompute stale valuation snapshots",
	Long:  "Recomputes listings without a snapshot first, then the oldest snapshots, up to --limit listings.",
	RunE: withApp(func(cmd *cobra.Command, a *app.App, _ []string) error {
		updated, err := a.Processor.RunIntelligenceBatch(cmd.Context(), intelligenceLimit)
		if err != nil {
			return fmt.Errorf("intelligence batch: %w", err)
		}
		return printJSON(cmd, map[string]int{"updated": updated})
	}),
}

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Re-derive nearest fields of every listing from stored facts",
	RunE: withApp(func(cmd *cobra.Command, a *app.App, _ []string) error {
		result, err := a.Processor.RepairConvenienceFields(cmd.Context())
		if err != nil {
			return fmt.Errorf("repair: %w", err)
		}
		return printJSON(cmd, result)
	}),
}

var listingCmd = &cobra.Command{
	Use:   "listing <id>",
	Short: "Sync the distance facts and valuation of one listing",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		result, err := a.Syncer.SyncListing(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("sync listing %d: %w", id, err)
		}
		snapshot, err := a.Valuation.RecomputeListing(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("recompute valuation %d: %w", id, err)
		}
		return printJSON(cmd, map[string]interface{}{
			"proximity": result,
			"valuation": snapshot,
		})
	}),
}

var poiCmd = &cobra.Command{
	Use:   "poi <id>",
	Short: "Sync the distance facts of one POI",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		result, err := a.Syncer.SyncPOI(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("sync poi %d: %w", id, err)
		}
		return printJSON(cmd, result)
	}),
}

// withApp opens the engine for the duration of one command and cancels the
// command context on SIGINT or SIGTERM.
func withApp(run func(cmd *cobra.Command, a *app.App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		cmd.SetContext(ctx)

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		return run(cmd, a, args)
	}
}

func parseID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return uint(id), nil
}

func init() {
	intelligenceCmd.Flags().IntVar(&intelligenceLimit, "limit", 0, "max listings to recompute (0 uses SYNC_INTELLIGENCE_LIMIT)")
	rootCmd.AddCommand(proximityCmd, intelligenceCmd, repairCmd, listingCmd, poiCmd)
}
