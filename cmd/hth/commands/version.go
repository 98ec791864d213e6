package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/howtoharden/hth/pkg/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s/%s)\n", version.AppName, version.Current, runtime.GOOS, runtime.GOARCH)
		},
	}
}
