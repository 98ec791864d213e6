package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/howtoharden/hth/pkg/history"
	"github.com/howtoharden/hth/pkg/report"
)

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the scan trend and flag regressions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			hc, err := a.historyClient(ctx)
			if err != nil {
				return err
			}
			snaps, err := hc.Load(ctx, a.flags.vendor, limit)
			if err != nil {
				return err
			}
			changes := history.Analyze(snaps)
			if a.cfg.Global.Output == "json" {
				return writeJSON(cmd.OutOrStdout(), changes)
			}
			if len(changes) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No scans recorded yet.")
				return nil
			}

			rows := make([][]string, 0, len(changes))
			for _, c := range changes {
				s := c.Summary
				rows = append(rows, []string{
					time.Unix(c.Timestamp, 0).UTC().Format("2006-01-02 15:04"),
					c.Vendor,
					"L" + strconv.Itoa(c.ProfileLevel),
					strconv.Itoa(s.Passed),
					strconv.Itoa(s.Failed),
					strconv.Itoa(s.Errors),
					fmt.Sprintf("%+d", c.DeltaFailed),
				})
			}
			if err := report.WriteList(cmd.OutOrStdout(), "Scan history", []string{"Time (UTC)", "Vendor", "Level", "Passed", "Failed", "Errors", "Delta"}, rows, a.renderOptions()); err != nil {
				return err
			}
			if alerts := history.Alerts(changes); len(alerts) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "\n%s\n", strings.Join(alerts, "\n"))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of most recent scans to show (0 for all)")
	return cmd
}
