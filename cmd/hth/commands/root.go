// Package commands holds the hth cobra command tree.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/howtoharden/hth/pkg/catalog"
	"github.com/howtoharden/hth/pkg/config"
	"github.com/howtoharden/hth/pkg/report"
	"github.com/howtoharden/hth/pkg/telemetry"
	"github.com/howtoharden/hth/pkg/version"
)

// exitError ends the process with code without printing anything more.
type exitError struct {
	code int
}

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

type globalFlags struct {
	cfgFile  string
	vendor   string
	packsDir string
	output   string
	profile  int
	noColor  bool
	verbose  bool
	quiet    bool
	jsonLogs bool
}

// app is the state shared by every command once configuration is loaded.
type app struct {
	flags    globalFlags
	v        *viper.Viper
	cfg      config.Config
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	shutdown func(context.Context) error
}

// flagKeys binds flags to config keys so a set flag overrides the file
// and the environment.
var flagKeys = map[string]string{
	"packs-dir":       "global.packs_dir",
	"profile":         "global.profile_level",
	"output":          "global.output",
	"fail-on":         "scan.fail_on",
	"timeout":         "scan.timeout",
	"parallel":        "scan.parallel",
	"framework":       "report.frameworks",
	"include-passing": "report.include_passing",
	"max-age":         "thresholds.max_age_days",
	"max-count":       "thresholds.max_count",
	"window":          "thresholds.window",
}

// NewRootCmd builds the full command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "hth",
		Short: "How to Harden: SaaS security hardening scanner",
		Long: `hth audits SaaS vendors against the How to Harden guides.

Scan. Report. Remediate.`,
		Version:       version.Current,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initConfig(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.finish(cmd.Context())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.cfgFile, "config", "", "config file (default ./.hth.yaml or ~/.config/hth/.hth.yaml)")
	pf.StringVar(&a.flags.vendor, "vendor", "", "vendor slug, e.g. github or okta")
	pf.IntVarP(&a.flags.profile, "profile", "p", config.DefaultProfileLevel, "profile level: 1 baseline, 2 hardened, 3 maximum")
	pf.StringVar(&a.flags.packsDir, "packs-dir", config.DefaultPacksDir, "directory holding vendor packs")
	pf.StringVarP(&a.flags.output, "output", "o", config.DefaultOutput, "output format: table, json, sarif or csv")
	pf.BoolVar(&a.flags.noColor, "no-color", false, "disable colored output")
	pf.BoolVarP(&a.flags.verbose, "verbose", "v", false, "debug logging")
	pf.BoolVarP(&a.flags.quiet, "quiet", "q", false, "only log errors")
	pf.BoolVar(&a.flags.jsonLogs, "json-logs", false, "log as JSON")

	root.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		renderHelp(cmd)
	})

	root.AddCommand(
		newScanCmd(a),
		newAuditCmd(a),
		newRemediateCmd(a),
		newValidateCmd(a),
		newReportCmd(a),
		newListCmd(a),
		newInitCmd(a),
		newAnalyzeCmd(a),
		newHistoryCmd(a),
		newWebhookCmd(a),
		newServeCmd(a),
		newVersionCmd(),
	)
	return root
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		style := lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0055")).Bold(true)
		fmt.Fprintln(os.Stderr, style.Render("Error:"), err)
		os.Exit(1)
	}
}

func (a *app) initConfig(cmd *cobra.Command) error {
	a.logger = telemetry.NewLogger(cmd.ErrOrStderr(), telemetry.LogOptions{
		JSON:    a.flags.jsonLogs,
		Verbose: a.flags.verbose,
		Quiet:   a.flags.quiet,
	})

	a.v = viper.New()
	config.Prepare(a.v, a.flags.cfgFile)
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			_ = a.v.BindPFlag(key, f)
		}
	})
	if err := config.Read(a.v, a.flags.cfgFile); err != nil {
		return err
	}
	if used := a.v.ConfigFileUsed(); used != "" {
		a.logger.Debug("loaded config", "path", used)
	}
	cfg, err := config.Decode(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.metrics = telemetry.NewMetrics()
	shutdown, err := telemetry.Init(cmd.Context(), telemetry.TraceOptions{
		Service:     version.AppName,
		Version:     version.Current,
		Endpoint:    cfg.Telemetry.OtelEndpoint,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		a.logger.Warn("tracing disabled", "error", err)
	} else {
		a.shutdown = shutdown
	}
	return nil
}

// finish flushes spans and writes the metrics textfile.
func (a *app) finish(ctx context.Context) error {
	if a.cfg.Telemetry.MetricsFile != "" && a.metrics != nil {
		if err := a.metrics.WriteTextfile(a.cfg.Telemetry.MetricsFile); err != nil {
			a.logger.Warn("failed to write metrics file", "path", a.cfg.Telemetry.MetricsFile, "error", err)
		}
	}
	if a.shutdown != nil {
		if ctx == nil {
			ctx = context.Background()
		}
		return a.shutdown(ctx)
	}
	return nil
}

func (a *app) format() (report.Format, error) {
	return report.ParseFormat(a.cfg.Global.Output)
}

func (a *app) renderOptions() report.Options {
	return report.Options{NoColor: a.flags.noColor || os.Getenv("NO_COLOR") != "", Version: version.Current}
}

func (a *app) catalogOptions() catalog.Options {
	return catalog.Options{
		Vendors: a.cfg.Vendors,
		Timeout: a.cfg.Scan.Timeout,
		Logger:  a.logger,
	}
}

func (a *app) requireVendor() (string, error) {
	if a.flags.vendor == "" {
		return "", errors.New("--vendor is required")
	}
	return a.flags.vendor, nil
}

func renderHelp(cmd *cobra.Command) {
	w := cmd.OutOrStdout()
	r := lipgloss.NewRenderer(w)
	if os.Getenv("NO_COLOR") != "" {
		r.SetColorProfile(termenv.Ascii)
	}
	titleStyle := r.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#00FF99")).
		MarginBottom(1)
	flagStyle := r.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA"))

	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("HTH %s", version.Current)))
	if cmd.Long != "" {
		fmt.Fprintln(w, cmd.Long)
	} else {
		fmt.Fprintln(w, cmd.Short)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, titleStyle.Render("USAGE"))
	fmt.Fprintf(w, "  %s\n\n", cmd.UseLine())

	if cmd.HasAvailableSubCommands() {
		fmt.Fprintln(w, titleStyle.Render("COMMANDS"))
		for _, c := range cmd.Commands() {
			if c.IsAvailableCommand() {
				fmt.Fprintf(w, "  %-12s %s\n", c.Name(), c.Short)
			}
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, titleStyle.Render("FLAGS"))
	printFlags(w, cmd.LocalFlags(), flagStyle)
	if cmd.HasAvailableInheritedFlags() {
		printFlags(w, cmd.InheritedFlags(), flagStyle)
	}
	fmt.Fprintln(w)
}

func printFlags(w io.Writer, fs *pflag.FlagSet, style lipgloss.Style) {
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		output := fmt.Sprintf("  --%-18s %s", f.Name, f.Usage)
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "[]" {
			output += fmt.Sprintf(" (default %s)", f.DefValue)
		}
		fmt.Fprintln(w, style.Render(output))
	})
}
