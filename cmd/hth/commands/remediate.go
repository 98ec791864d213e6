package commands

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/howtoharden/hth/pkg/catalog"
	"github.com/howtoharden/hth/pkg/engine"
	"github.com/howtoharden/hth/pkg/pack"
	"github.com/howtoharden/hth/pkg/vendors"
)

type remediateFlags struct {
	mode         string
	controls     string
	apply        bool
	terraformDir string
	yes          bool
}

func newRemediateCmd(a *app) *cobra.Command {
	var f remediateFlags
	cmd := &cobra.Command{
		Use:   "remediate",
		Short: "Fix failing controls through the vendor API or Terraform",
		Long: `Scan the vendor, then plan the remediation steps of every failing control.
Nothing is changed unless --apply is given.

Example:
  hth remediate --vendor github --mode terraform
  hth remediate --vendor github --controls github-2.1 --apply --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRemediate(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.mode, "mode", "api", "remediation mode: api, terraform or both")
	cmd.Flags().StringVar(&f.controls, "controls", "", "only these control ids (comma-separated)")
	cmd.Flags().BoolVar(&f.apply, "apply", false, "execute API steps instead of printing them")
	cmd.Flags().StringVar(&f.terraformDir, "terraform-dir", "./hth-terraform", "where generated Terraform is written")
	cmd.Flags().BoolVar(&f.yes, "yes", false, "do not ask for confirmation before applying")
	return cmd
}

func (a *app) runRemediate(cmd *cobra.Command, f remediateFlags) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	switch f.mode {
	case "api", "terraform", "both":
	default:
		return fmt.Errorf("unknown --mode %q (want api, terraform or both)", f.mode)
	}
	vendorSlug, err := a.requireVendor()
	if err != nil {
		return err
	}
	controls, err := a.loadControls(vendorSlug, "", "", f.controls)
	if err != nil {
		return err
	}
	provider, err := catalog.ProvidersFromEnv(a.catalogOptions()).Get(vendorSlug)
	if err != nil {
		return err
	}

	eng := engine.New(engine.WithLogger(a.logger), engine.WithParallel(a.cfg.Scan.Parallel))
	rep := eng.Scan(ctx, controls, provider, a.cfg.Global.ProfileLevel)

	var failing []pack.Control
	var steps []pack.Step
	for _, c := range controls {
		res, ok := rep.Result(c.ID)
		if !ok || res.Status != engine.StatusFail || c.Remediate == nil {
			continue
		}
		failing = append(failing, c)
		planned := engine.PlanRemediation(c, res)
		steps = append(steps, planned...)
		if len(planned) == 0 && c.Remediate.Note != "" {
			fmt.Fprintf(out, "  %s: %s\n", c.ID, c.Remediate.Note)
		}
	}
	if len(failing) == 0 {
		fmt.Fprintln(out, "Nothing to remediate: no failing control has a remediation.")
		return nil
	}

	if f.mode == "terraform" || f.mode == "both" {
		if err := a.writeTerraform(out, vendorSlug, failing, provider.Terraform(), f.terraformDir); err != nil {
			return err
		}
	}
	if f.mode == "terraform" {
		return nil
	}

	if len(steps) == 0 {
		fmt.Fprintln(out, "No API steps apply to the failing controls.")
		return nil
	}
	if !f.apply {
		fmt.Fprintf(out, "Dry run: %d API steps would be applied to %s\n", len(steps), vendorSlug)
		for _, s := range steps {
			fmt.Fprintf(out, "  %-6s %s  %s\n", s.Method, s.Endpoint, s.Description)
		}
		fmt.Fprintln(out, "Re-run with --apply to execute.")
		return nil
	}
	if !f.yes {
		ok, err := confirm(cmd.InOrStdin(), out, fmt.Sprintf("Apply %d changes to %s? [y/N] ", len(steps), vendorSlug))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	failed := 0
	for _, r := range eng.ExecuteRemediation(ctx, steps, provider) {
		if r.Success {
			fmt.Fprintf(out, "  ok   %s %s  %s\n", r.Method, r.Endpoint, r.Description)
			continue
		}
		failed++
		fmt.Fprintf(out, "  FAIL %s %s  %s: %s\n", r.Method, r.Endpoint, r.Description, r.Error)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d remediation steps failed", failed, len(steps))
	}
	return nil
}

func (a *app) writeTerraform(out io.Writer, vendorSlug string, controls []pack.Control, tp vendors.TerraformProvider, dir string) error {
	src, err := engine.GenerateTerraform(controls, tp)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, vendorSlug+".tf")
	if err := os.WriteFile(path, src, 0o644); err != nil {
		return fmt.Errorf("write terraform: %w", err)
	}
	fmt.Fprintf(out, "Wrote Terraform for %d controls to %s\n", len(controls), path)
	return nil
}

func confirm(in io.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprint(out, prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
