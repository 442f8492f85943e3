package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fulcrumlabs/conductor/pkg/modules"
)

const versionProbeTimeout = 10 * time.Second

var modulesCmd = cobra.Command{
	Use:   "modules",
	Short: "List discovered modules and their versions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if paths, _ := cmd.Flags().GetStringArray("module-path"); len(paths) > 0 {
			cfg.ModulePaths = append(paths, cfg.ModulePaths...)
		}
		reg := modules.NewRegistry()
		if err := reg.DiscoverStandardPaths(cfg.ModulePaths...); err != nil {
			return fmt.Errorf("discovering modules: %w", err)
		}
		return listModules(modules.SetupSignalHandler(), cmd.OutOrStdout(), reg)
	},
}

// listModules prints one row per registered module with the result of
// its version handshake.
func listModules(ctx context.Context, w io.Writer, reg *modules.Registry) error {
	exec := modules.NewExecutor(reg)
	exec.Logger = logger
	exec.DefaultTimeout = versionProbeTimeout

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVERSION\tPROTOCOL\tSTATUS\tPATH")
	for _, name := range reg.Names() {
		path, _ := reg.Lookup(name)
		info, err := exec.Version(ctx, name)
		status := "ok"
		if err != nil {
			status = "error: " + err.Error()
			logger.Debug("version handshake failed", "module", name, "error", err)
		}
		if info == nil {
			info = &modules.VersionInfo{}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", name, orDash(info.ModuleVersion), orDash(info.ProtocolVersion), status, path)
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	modulesCmd.Flags().StringArray("module-path", []string{}, "Additional module directory, searched before the standard paths (repeatable)")
}
