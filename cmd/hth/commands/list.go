package commands

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/howtoharden/hth/pkg/catalog"
	"github.com/howtoharden/hth/pkg/pack"
	"github.com/howtoharden/hth/pkg/report"
)

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "list vendors|controls|frameworks|tags|audits",
		Short:     "List vendors, controls, frameworks, tags or audits",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"vendors", "controls", "frameworks", "tags", "audits"},
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "vendors":
				return a.listVendors(cmd)
			case "controls":
				return a.listControls(cmd)
			case "frameworks":
				return a.listFrameworks(cmd)
			case "tags":
				return a.listTags(cmd)
			}
			return a.listAudits(cmd)
		},
	}
}

// vendorSlugs is every vendor with a pack or a fetcher.
func (a *app) vendorSlugs() ([]string, []string, error) {
	packs, err := pack.DiscoverPacks(a.cfg.Global.PacksDir)
	if err != nil {
		return nil, nil, err
	}
	all := append(slices.Clone(packs), catalog.Vendors()...)
	slices.Sort(all)
	return slices.Compact(all), packs, nil
}

func (a *app) listVendors(cmd *cobra.Command) error {
	all, packs, err := a.vendorSlugs()
	if err != nil {
		return err
	}
	fetchers := catalog.Vendors()
	rows := make([][]string, 0, len(all))
	for _, v := range all {
		kinds := make([]string, 0)
		for _, e := range catalog.ForVendor(v) {
			kinds = append(kinds, string(e.Kind))
		}
		rows = append(rows, []string{v, yesNo(slices.Contains(packs, v)), yesNo(slices.Contains(fetchers, v)), strings.Join(kinds, ", ")})
	}
	return report.WriteList(cmd.OutOrStdout(), "Vendors", []string{"Vendor", "Pack", "Fetcher", "Audits"}, rows, a.renderOptions())
}

func (a *app) listControls(cmd *cobra.Command) error {
	vendorSlug, err := a.requireVendor()
	if err != nil {
		return err
	}
	p, err := pack.LoadPack(a.cfg.Global.PacksDir, vendorSlug, a.logger)
	if err != nil {
		return err
	}
	if a.cfg.Global.Output == "json" {
		return writeJSON(cmd.OutOrStdout(), p.Controls)
	}
	rows := make([][]string, 0, len(p.Controls))
	for _, c := range p.Controls {
		rows = append(rows, []string{c.ID, string(c.Severity), "L" + strconv.Itoa(c.ProfileLevel), c.Title, strings.Join(c.Tags, ", ")})
	}
	title := fmt.Sprintf("%s controls", vendorSlug)
	return report.WriteList(cmd.OutOrStdout(), title, []string{"ID", "Severity", "Level", "Title", "Tags"}, rows, a.renderOptions())
}

func (a *app) listFrameworks(cmd *cobra.Command) error {
	rows := make([][]string, 0, len(pack.Frameworks))
	for _, f := range pack.Frameworks {
		rows = append(rows, []string{f.Slug(), f.DisplayName()})
	}
	return report.WriteList(cmd.OutOrStdout(), "Frameworks", []string{"Slug", "Name"}, rows, a.renderOptions())
}

func (a *app) listTags(cmd *cobra.Command) error {
	vendors := []string{a.flags.vendor}
	if a.flags.vendor == "" {
		var err error
		if vendors, err = pack.DiscoverPacks(a.cfg.Global.PacksDir); err != nil {
			return err
		}
	}
	var controls []pack.Control
	for _, v := range vendors {
		p, err := pack.LoadPack(a.cfg.Global.PacksDir, v, a.logger)
		if err != nil {
			return err
		}
		controls = append(controls, p.Controls...)
	}
	for _, t := range pack.Tags(controls) {
		fmt.Fprintln(cmd.OutOrStdout(), t)
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "-"
}
