package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/howtoharden/hth/pkg/audit"
	"github.com/howtoharden/hth/pkg/audit/rules"
	"github.com/howtoharden/hth/pkg/cache"
	"github.com/howtoharden/hth/pkg/catalog"
	"github.com/howtoharden/hth/pkg/notifier"
	"github.com/howtoharden/hth/pkg/report"
	"github.com/howtoharden/hth/pkg/resource"
)

type auditFlags struct {
	list         bool
	failOnIssues bool
	follow       bool
}

// follower is implemented by fetchers that can stream new records.
type follower interface {
	Follow(ctx context.Context, emit func([]resource.Record) error) error
}

func newAuditCmd(a *app) *cobra.Command {
	var f auditFlags
	cmd := &cobra.Command{
		Use:   "audit <vendor>/<kind>",
		Short: "Run a credential or activity audit",
		Long: `Fetch one resource kind from a vendor and report the records that break the
built-in checks or configured rules.

Example:
  hth audit beyondtrust/api-keys --max-age 60
  hth audit vault/audit-log --follow
  hth audit --list`,
		Args: func(cmd *cobra.Command, args []string) error {
			if f.list {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.list {
				return a.listAudits(cmd)
			}
			return a.runAudit(cmd, args[0], f)
		},
	}
	cmd.Flags().BoolVar(&f.list, "list", false, "list the built-in audits")
	cmd.Flags().Int("max-age", 90, "maximum credential age in days")
	cmd.Flags().Int("max-count", 1000, "maximum events per group inside the window")
	cmd.Flags().Duration("window", 0, "window for event volume checks; log files end it at the newest event (0 counts everything, default from config)")
	cmd.Flags().BoolVar(&f.failOnIssues, "fail-on-issues", false, "exit 1 when any issue is reported")
	cmd.Flags().BoolVar(&f.follow, "follow", false, "keep watching file-backed sources and report new records")
	return cmd
}

func (a *app) auditChecks(vendorSlug string, kind resource.Kind) ([]audit.Option, error) {
	var opts []audit.Option
	entry, builtin := catalog.Lookup(vendorSlug, kind)
	if builtin {
		checks := entry.Checks(a.cfg.Thresholds, audit.SystemClock)
		opts = append(opts, audit.WithPredicates(checks.Predicates...), audit.WithAggregators(checks.Aggregators...))
	}
	custom, err := rules.FromConfig(a.cfg.Rules, vendorSlug, string(kind), audit.SystemClock)
	if err != nil {
		return nil, err
	}
	if !builtin && len(custom) == 0 {
		return nil, fmt.Errorf("no built-in audit or configured rule for %s/%s (see hth audit --list)", vendorSlug, kind)
	}
	opts = append(opts, audit.WithPredicates(custom...), audit.WithLogger(a.logger))
	return opts, nil
}

// fetchCache returns the Redis store when one is configured and reachable.
func (a *app) fetchCache() cache.Store {
	if a.cfg.Cache.RedisAddr == "" {
		return nil
	}
	store, err := cache.NewRedisStore(cache.RedisConfig{Addr: a.cfg.Cache.RedisAddr})
	if err != nil {
		a.logger.Warn("fetch cache disabled", "error", err)
		return nil
	}
	return store
}

func (a *app) runAudit(cmd *cobra.Command, target string, f auditFlags) error {
	ctx := cmd.Context()
	vendorSlug, kind, err := catalog.ParseTarget(target)
	if err != nil {
		return err
	}
	opts, err := a.auditChecks(vendorSlug, kind)
	if err != nil {
		return err
	}

	src, err := catalog.Open(ctx, vendorSlug, a.catalogOptions())
	if err != nil {
		return err
	}
	defer func() {
		if err := catalog.Close(src); err != nil {
			a.logger.Warn("failed to close source", "vendor", vendorSlug, "error", err)
		}
	}()

	if f.follow {
		return a.followAudit(ctx, cmd, src, vendorSlug, kind, opts)
	}

	var fetcher audit.Fetcher = src
	if store := a.fetchCache(); store != nil {
		if c, ok := store.(*cache.RedisStore); ok {
			defer c.Close()
		}
		fetcher = cache.Wrap(src, store, vendorSlug, a.cfg.Cache.TTL, a.logger)
	}

	format, err := a.format()
	if err != nil {
		return err
	}
	collector := &audit.Collector{}
	var rep audit.Reporter = collector
	if format == report.FormatJSON {
		rep = audit.Tee{collector, &audit.JSONReporter{W: cmd.OutOrStdout()}}
	}

	res, err := audit.NewRoutine(vendorSlug, kind, fetcher, append(opts, audit.WithReporter(rep))...).Run(ctx)
	if err != nil {
		return err
	}
	a.metrics.ObserveAudit(vendorSlug, string(kind), res.Issues, res.Duration)

	switch format {
	case report.FormatJSON:
	case report.FormatCSV:
		err = report.WriteIssuesCSV(cmd.OutOrStdout(), collector.Issues)
	case report.FormatTable:
		err = report.WriteIssuesTable(cmd.OutOrStdout(), target, res.Records, collector.Issues, a.renderOptions())
	default:
		err = fmt.Errorf("%s output is only available for scans", format)
	}
	if err != nil {
		return err
	}

	if len(collector.Issues) > 0 {
		slack := notifier.NewSlackClient(a.cfg.Notify.SlackWebhook, a.cfg.Notify.SlackChannel)
		if slack.Enabled() {
			if err := slack.SendAuditResult(ctx, target, res.Records, collector.Issues); err != nil {
				a.logger.Warn("slack notification failed", "error", err)
			}
		}
	}

	if f.failOnIssues && res.Issues > 0 {
		return exitError{code: 1}
	}
	return nil
}

// followAudit streams new records through the checks until interrupted.
// Volume checks count across batches inside the configured window.
func (a *app) followAudit(ctx context.Context, cmd *cobra.Command, src catalog.Source, vendorSlug string, kind resource.Kind, opts []audit.Option) error {
	fl, ok := src.(follower)
	if !ok {
		return fmt.Errorf("%s does not support --follow", vendorSlug)
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	stream := audit.NewStream(vendorSlug, kind, a.cfg.Thresholds.Window,
		append(opts, audit.WithReporter(audit.NewLineReporter(cmd.OutOrStdout())))...)
	a.logger.Info("following", "vendor", vendorSlug, "kind", kind, "window", a.cfg.Thresholds.Window)
	err := fl.Follow(ctx, func(batch []resource.Record) error {
		res, err := stream.Push(ctx, batch)
		if err != nil {
			return err
		}
		a.metrics.ObserveAudit(vendorSlug, string(kind), res.Issues, res.Duration)
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *app) listAudits(cmd *cobra.Command) error {
	var rows [][]string
	for _, e := range catalog.Entries() {
		rows = append(rows, []string{e.String(), e.Description})
	}
	if a.cfg.Global.Output == "json" {
		type item struct {
			Target      string `json:"target"`
			Description string `json:"description"`
		}
		out := make([]item, 0, len(rows))
		for _, r := range rows {
			out = append(out, item{Target: r[0], Description: r[1]})
		}
		return writeJSON(cmd.OutOrStdout(), out)
	}
	return report.WriteList(cmd.OutOrStdout(), "Built-in audits", []string{"Target", "Checks"}, rows, a.renderOptions())
}
