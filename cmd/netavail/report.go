package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"netavail/internal/availability"
	"netavail/internal/database"
	"netavail/internal/web"
)

type windowFlags struct {
	account string
	device  string
	start   string
	end     string
}

func (w *windowFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&w.account, "account", "", "Account ID")
	cmd.Flags().StringVar(&w.device, "device", "", "Device ID")
	cmd.Flags().StringVar(&w.start, "start", "", "Window start, RFC3339 (default: end minus 24h)")
	cmd.Flags().StringVar(&w.end, "end", "", "Window end, RFC3339 (default: now)")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("device")
}

func (w *windowFlags) window() (time.Time, time.Time, error) {
	end := time.Now()
	if w.end != "" {
		parsed, err := time.Parse(time.RFC3339, w.end)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --end: %w", err)
		}
		end = parsed
	}

	start := end.Add(-24 * time.Hour)
	if w.start != "" {
		parsed, err := time.Parse(time.RFC3339, w.start)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --start: %w", err)
		}
		start = parsed
	}
	return start, end, nil
}

// openStore opens the configured database file. It fails while a server holds
// the file lock.
func openStore() (*database.BoltStore, *availability.DowntimeCalculator, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	location, err := cfg.Availability.Location()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid availability timezone: %w", err)
	}

	store, err := database.NewBoltStore(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	return store, availability.NewDowntimeCalculator(store, location), nil
}

func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func newReportCommand() *cobra.Command {
	var flags windowFlags

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print a device's availability report as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := flags.window()
			if err != nil {
				return err
			}

			store, _, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			report, err := availability.NewUptimeCalculator(store).
				ComputeAvailability(context.Background(), flags.account, flags.device, start, end)
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}

	flags.register(cmd)
	return cmd
}

func newSLACommand() *cobra.Command {
	var (
		flags  windowFlags
		target float64
	)

	cmd := &cobra.Command{
		Use:   "sla",
		Short: "Evaluate a device's SLA compliance as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := flags.window()
			if err != nil {
				return err
			}

			store, downtime, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			evaluator := availability.NewSLAEvaluator(availability.NewUptimeCalculator(store), downtime)
			result, err := evaluator.EvaluateSLA(context.Background(), flags.account, flags.device, start, end, target)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}

	flags.register(cmd)
	cmd.Flags().Float64Var(&target, "target", 99.9, "SLA target percentage")
	return cmd
}

func newCompactCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Rewrite the database file to reclaim space",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := context.Background()
			if err := store.CompactDatabase(ctx); err != nil {
				return err
			}
			stats, err := store.GetDatabaseStats(ctx)
			if err != nil {
				return err
			}
			return printJSON(stats)
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			info := web.GetBuildInfo()
			fmt.Printf("netavail %s\ncommit: %s\nbuilt: %s\ngo: %s %s/%s\n",
				info.Version, info.GitCommit, info.BuildTime, info.GoVersion, info.GoOS, info.GoArch)
		},
	}
}
