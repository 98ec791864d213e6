package commands

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/howtoharden/hth/pkg/catalog"
	"github.com/howtoharden/hth/pkg/pack"
	"github.com/howtoharden/hth/pkg/report"
)

// Coverage is what hth can do for one vendor in a stack.
type Coverage struct {
	Vendor   string   `json:"vendor"`
	Pack     bool     `json:"pack"`
	Controls int      `json:"controls"`
	Audits   []string `json:"audits"`
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var stack string
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Show pack and audit coverage for a SaaS stack",
		Long: `List which vendors in a stack have a hardening pack and built-in audits.

Example:
  hth analyze --stack github,okta,slack,notion`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAnalyze(cmd, stack)
		},
	}
	cmd.Flags().StringVar(&stack, "stack", "", "comma-separated vendor slugs")
	_ = cmd.MarkFlagRequired("stack")
	return cmd
}

func (a *app) coverage(vendors []string) ([]Coverage, error) {
	packs, err := pack.DiscoverPacks(a.cfg.Global.PacksDir)
	if err != nil {
		return nil, err
	}
	out := make([]Coverage, 0, len(vendors))
	for _, v := range vendors {
		c := Coverage{Vendor: v, Audits: []string{}}
		if slices.Contains(packs, v) {
			p, err := pack.LoadPack(a.cfg.Global.PacksDir, v, a.logger)
			if err != nil {
				return nil, err
			}
			c.Pack = true
			c.Controls = len(p.Controls)
		}
		for _, e := range catalog.ForVendor(v) {
			c.Audits = append(c.Audits, string(e.Kind))
		}
		out = append(out, c)
	}
	return out, nil
}

func (a *app) runAnalyze(cmd *cobra.Command, stack string) error {
	var vendors []string
	for _, v := range pack.SplitList(stack) {
		vendors = append(vendors, strings.ToLower(v))
	}
	if len(vendors) == 0 {
		return errors.New("--stack needs at least one vendor")
	}
	cov, err := a.coverage(vendors)
	if err != nil {
		return err
	}
	if a.cfg.Global.Output == "json" {
		return writeJSON(cmd.OutOrStdout(), cov)
	}

	covered := 0
	rows := make([][]string, 0, len(cov))
	for _, c := range cov {
		controls := "-"
		if c.Pack {
			covered++
			controls = strconv.Itoa(c.Controls)
		}
		audits := strings.Join(c.Audits, ", ")
		if audits == "" {
			audits = "-"
		}
		rows = append(rows, []string{c.Vendor, yesNo(c.Pack), controls, audits})
	}
	if err := report.WriteList(cmd.OutOrStdout(), "Stack coverage", []string{"Vendor", "Pack", "Controls", "Audits"}, rows, a.renderOptions()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n  %d/%d vendors have a hardening pack\n", covered, len(cov))
	return nil
}
