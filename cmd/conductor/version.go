package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fulcrumlabs/conductor/pkg/modules"
)

var versionCmd = cobra.Command{
	Use:   "version",
	Short: "Print the conductor version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "conductor %s (module protocol %s)\n", version, modules.ProtocolVersion)
	},
}
