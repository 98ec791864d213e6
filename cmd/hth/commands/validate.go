package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/howtoharden/hth/pkg/pack"
)

func newValidateCmd(a *app) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check pack files for schema and expression errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runValidate(cmd, strict)
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "treat warnings as errors")
	return cmd
}

func (a *app) runValidate(cmd *cobra.Command, strict bool) error {
	out := cmd.OutOrStdout()
	vendors := []string{a.flags.vendor}
	if a.flags.vendor == "" {
		var err error
		if vendors, err = pack.DiscoverPacks(a.cfg.Global.PacksDir); err != nil {
			return err
		}
		if len(vendors) == 0 {
			return fmt.Errorf("no packs found in %s", a.cfg.Global.PacksDir)
		}
	}

	var all []pack.Finding
	controls := 0
	for _, v := range vendors {
		files, err := pack.ControlFiles(a.cfg.Global.PacksDir, v)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return fmt.Errorf("%w: %s", pack.ErrPackNotFound, v)
		}
		ids := map[string]string{}
		for _, path := range files {
			c, err := pack.LoadControl(path)
			if err != nil {
				all = append(all, pack.Finding{ControlID: filepath.Base(path), Level: pack.LevelError, Message: err.Error()})
				continue
			}
			controls++
			findings := pack.Validate(c)
			if prev, dup := ids[c.ID]; dup && c.ID != "" {
				findings = append(findings, pack.Finding{ControlID: c.ID, Level: pack.LevelError,
					Message: fmt.Sprintf("duplicate control id (also in %s)", filepath.Base(prev))})
			}
			ids[c.ID] = path
			if c.Vendor != "" && c.Vendor != v {
				findings = append(findings, pack.Finding{ControlID: c.ID, Level: pack.LevelWarning,
					Message: fmt.Sprintf("vendor %q does not match pack directory %q", c.Vendor, v)})
			}
			all = append(all, findings...)
		}
	}

	errs, warns := 0, 0
	for _, f := range all {
		fmt.Fprintln(out, " ", f)
		if f.Level == pack.LevelError {
			errs++
		} else {
			warns++
		}
	}
	fmt.Fprintf(out, "Validated %d controls in %d packs: %d errors, %d warnings\n", controls, len(vendors), errs, warns)
	if pack.HasErrors(all, strict) {
		return exitError{code: 1}
	}
	return nil
}
