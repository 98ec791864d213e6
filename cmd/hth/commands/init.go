package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/howtoharden/hth/pkg/config"
)

func newInitCmd(a *app) *cobra.Command {
	var force bool
	var path string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter .hth.yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteStarter(path, a.flags.vendor, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s. Credentials are read from the environment, never from this file.\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.Flags().StringVar(&path, "path", config.FileName+".yaml", "where to write the file")
	return cmd
}
