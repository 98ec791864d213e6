package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/howtoharden/hth/pkg/catalog"
	"github.com/howtoharden/hth/pkg/config"
	"github.com/howtoharden/hth/pkg/engine"
	"github.com/howtoharden/hth/pkg/history"
	"github.com/howtoharden/hth/pkg/notifier"
	"github.com/howtoharden/hth/pkg/pack"
	"github.com/howtoharden/hth/pkg/report"
	"github.com/howtoharden/hth/pkg/storage"
)

const defaultReportsDir = ".hth/reports"

type scanFlags struct {
	severity string
	tags     string
	controls string
	dryRun   bool
	save     bool
}

func newScanCmd(a *app) *cobra.Command {
	var f scanFlags
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Audit a vendor against its hardening pack",
		Long: `Run every read-only check in the vendor pack and report pass/fail per control.

Example:
  hth scan --vendor github --profile 2 --output sarif`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runScan(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.severity, "severity", "", "only controls of these severities (comma-separated)")
	cmd.Flags().StringVar(&f.tags, "tags", "", "only controls with any of these tags (comma-separated)")
	cmd.Flags().StringVar(&f.controls, "controls", "", "only these control ids (comma-separated)")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "list the controls that would run without calling the vendor")
	cmd.Flags().Duration("timeout", config.DefaultTimeout, "per-request timeout")
	cmd.Flags().String("fail-on", config.DefaultFailOn, "exit 1 when a control at or above this severity fails")
	cmd.Flags().BoolVar(&f.save, "save", false, "store the JSON report under storage.reports_url")
	return cmd
}

func (a *app) loadControls(vendorSlug string, severity, tags, ids string) ([]pack.Control, error) {
	p, err := pack.LoadPack(a.cfg.Global.PacksDir, vendorSlug, a.logger)
	if err != nil {
		return nil, err
	}
	var sevs []pack.Severity
	for _, s := range pack.SplitList(severity) {
		sev, err := pack.ParseSeverity(s)
		if err != nil {
			return nil, err
		}
		sevs = append(sevs, sev)
	}
	return pack.Filter(p.Controls, sevs, pack.SplitList(tags), pack.SplitList(ids)), nil
}

func (a *app) runScan(cmd *cobra.Command, f scanFlags) error {
	ctx := cmd.Context()
	vendorSlug, err := a.requireVendor()
	if err != nil {
		return err
	}
	format, err := a.format()
	if err != nil {
		return err
	}
	failOn, err := pack.ParseSeverity(a.cfg.Scan.FailOn)
	if err != nil {
		return err
	}
	controls, err := a.loadControls(vendorSlug, f.severity, f.tags, f.controls)
	if err != nil {
		return err
	}
	level := a.cfg.Global.ProfileLevel

	if f.dryRun {
		return writeDryRun(cmd.OutOrStdout(), vendorSlug, level, controls)
	}

	provider, err := catalog.ProvidersFromEnv(a.catalogOptions()).Get(vendorSlug)
	if err != nil {
		return err
	}

	eng := engine.New(engine.WithLogger(a.logger), engine.WithParallel(a.cfg.Scan.Parallel))
	rep := eng.Scan(ctx, controls, provider, level)

	if err := report.Render(cmd.OutOrStdout(), rep, format, a.renderOptions()); err != nil {
		return err
	}
	a.metrics.ObserveScan(rep)
	a.recordScan(ctx, rep, f.save)

	if rep.FailsAt(failOn) {
		return exitError{code: 1}
	}
	return nil
}

func writeDryRun(w io.Writer, vendorSlug string, level int, controls []pack.Control) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Dry run: %d controls for %s at L%d\n", len(controls), vendorSlug, level)
	for _, c := range controls {
		mark := "run "
		if !c.AppliesAt(level) {
			mark = "skip"
		}
		fmt.Fprintf(&b, "  %s %-12s [%s] %s (%s, %d checks)\n", mark, c.ID, c.Severity, c.Title, c.LevelLabel(), len(c.Audit))
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// recordScan appends history, optionally stores the report and notifies
// Slack. Failures here are logged and never fail the scan.
func (a *app) recordScan(ctx context.Context, rep engine.ScanReport, save bool) {
	if hc, err := a.historyClient(ctx); err != nil {
		a.logger.Warn("history disabled", "error", err)
	} else if err := hc.Append(ctx, history.FromReport(rep)); err != nil {
		a.logger.Warn("failed to record history", "error", err)
	}

	if save {
		store, err := storage.Open(ctx, a.reportsURL())
		if err == nil {
			var key string
			if key, err = storage.SaveScan(ctx, store, rep); err == nil {
				a.logger.Info("saved scan report", "location", a.reportsURL(), "key", key)
			}
		}
		if err != nil {
			a.logger.Warn("failed to save scan report", "error", err)
		}
	}

	slack := notifier.NewSlackClient(a.cfg.Notify.SlackWebhook, a.cfg.Notify.SlackChannel)
	if slack.Enabled() {
		if err := slack.SendScanReport(ctx, rep); err != nil {
			a.logger.Warn("slack notification failed", "error", err)
		}
	}
}

func (a *app) reportsURL() string {
	if a.cfg.Storage.ReportsURL != "" {
		return a.cfg.Storage.ReportsURL
	}
	return defaultReportsDir
}

// historyClient keeps the ledger next to the reports when they live in S3.
func (a *app) historyClient(ctx context.Context) (*history.Client, error) {
	if strings.HasPrefix(a.cfg.Storage.ReportsURL, "s3://") {
		store, err := storage.Open(ctx, a.cfg.Storage.ReportsURL)
		if err != nil {
			return nil, err
		}
		return history.NewClient(&history.BlobBackend{Store: store, Key: "history.jsonl"}), nil
	}
	return history.NewClient(history.NewLocalBackend(a.cfg.History.Path)), nil
}
