package cli

import (
	"github.com/spf13/cobra"

	"jobmate/recommender-service/internal/model"
)

var scanFlags struct {
	scheduled       bool
	respectBackoff  bool
	includeDisabled bool
}

var scanCmd = &cobra.Command{
	Use:   "scan [source-id...]",
	Short: "Scan the given sources, or every source when none is given",
	RunE:  runScan,
}

func init() {
	f := scanCmd.Flags()
	f.BoolVar(&scanFlags.scheduled, "scheduled", false, "behave like the timer: scheduled trigger, enabled sources, backoff respected")
	f.BoolVar(&scanFlags.respectBackoff, "respect-backoff", false, "skip sources still in backoff")
	f.BoolVar(&scanFlags.includeDisabled, "include-disabled", false, "also scan disabled sources (all-sources mode only)")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	trigger := model.TriggerManual
	if scanFlags.scheduled {
		trigger = model.TriggerScheduled
	}

	return withApp(cmd, func(a *app) error {
		ctx := cmd.Context()
		if len(args) == 0 {
			var (
				summary model.ScanSummary
				err     error
			)
			if scanFlags.scheduled {
				summary, err = a.svc.ScanAllScheduled(ctx)
			} else {
				summary, err = a.svc.ScanAll(ctx, !scanFlags.includeDisabled, trigger, scanFlags.respectBackoff)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summary)
		}

		records := make([]model.ScanRecord, 0, len(args))
		for _, id := range args {
			rec, err := a.svc.ScanSource(ctx, id, trigger, scanFlags.respectBackoff)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return printJSON(cmd.OutOrStdout(), records)
	})
}
