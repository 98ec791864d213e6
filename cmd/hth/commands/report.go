package commands

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/howtoharden/hth/pkg/config"
	"github.com/howtoharden/hth/pkg/engine"
	"github.com/howtoharden/hth/pkg/report"
	"github.com/howtoharden/hth/pkg/storage"
)

type reportFlags struct {
	scanFile   string
	outputFile string
}

func newReportCmd(a *app) *cobra.Command {
	var f reportFlags
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Map a scan onto compliance frameworks",
		Long: `Build a compliance report from a saved scan. Without --scan-file the latest
scan saved for --vendor is used.

Example:
  hth report --scan-file scan.json --framework soc2,pci-dss
  hth report --vendor github --framework all --output-file github.csv -o csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runReport(cmd, f)
		},
	}
	cmd.Flags().StringSlice("framework", config.DefaultFrameworks, "frameworks to report on, or all")
	cmd.Flags().StringVar(&f.scanFile, "scan-file", "", "scan JSON to report on (path or s3:// URL)")
	cmd.Flags().StringVar(&f.outputFile, "output-file", "", "write the report here instead of stdout")
	cmd.Flags().Bool("include-passing", false, "include passing controls")
	return cmd
}

func (a *app) loadScan(cmd *cobra.Command, scanFile string) (engine.ScanReport, error) {
	ctx := cmd.Context()
	if scanFile != "" {
		data, err := storage.ReadURL(ctx, scanFile)
		if err != nil {
			return engine.ScanReport{}, err
		}
		return report.ReadJSON(bytes.NewReader(data))
	}
	vendorSlug, err := a.requireVendor()
	if err != nil {
		return engine.ScanReport{}, errors.New("--scan-file or --vendor is required")
	}
	store, err := storage.Open(ctx, a.reportsURL())
	if err != nil {
		return engine.ScanReport{}, err
	}
	r, err := storage.LatestScan(ctx, store, vendorSlug)
	if errors.Is(err, storage.ErrNotFound) {
		return r, fmt.Errorf("no saved scan for %s in %s (run hth scan --save first)", vendorSlug, a.reportsURL())
	}
	return r, err
}

func (a *app) runReport(cmd *cobra.Command, f reportFlags) (err error) {
	format, err := a.format()
	if err != nil {
		return err
	}
	frameworks, err := report.ParseFrameworks(a.cfg.Report.Frameworks)
	if err != nil {
		return err
	}
	scan, err := a.loadScan(cmd, f.scanFile)
	if err != nil {
		return err
	}
	sections := report.Compliance(scan, frameworks, a.cfg.Report.IncludePassing)

	var w io.Writer = cmd.OutOrStdout()
	opts := a.renderOptions()
	if f.outputFile != "" {
		file, ferr := os.Create(f.outputFile)
		if ferr != nil {
			return ferr
		}
		defer func() {
			if cerr := file.Close(); err == nil {
				err = cerr
			}
		}()
		w = file
		opts.NoColor = true
	}
	if err := report.RenderCompliance(w, sections, format, opts); err != nil {
		return err
	}
	if f.outputFile != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s report to %s\n", format, f.outputFile)
	}
	return nil
}
