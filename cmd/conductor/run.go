package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fulcrumlabs/conductor/pkg/modules"
	"github.com/fulcrumlabs/conductor/pkg/netcache"
	"github.com/fulcrumlabs/conductor/pkg/playbook"
	"github.com/fulcrumlabs/conductor/pkg/runner"
)

var errPlaybookFailed = errors.New("playbook failed")

var runCmd = cobra.Command{
	Use:   "run [playbook|url]",
	Short: "Run a playbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if flags.Changed("roles-path") {
			cfg.RolesPath, _ = flags.GetString("roles-path")
		}
		if flags.Changed("timeout") {
			cfg.DefaultTimeout, _ = flags.GetDuration("timeout")
		}
		if flags.Changed("filters") {
			cfg.FiltersScript, _ = flags.GetString("filters")
		}
		if flags.Changed("metrics-file") {
			cfg.MetricsFile, _ = flags.GetString("metrics-file")
		}
		if paths, _ := flags.GetStringArray("module-path"); len(paths) > 0 {
			cfg.ModulePaths = append(paths, cfg.ModulePaths...)
		}

		varsFiles, _ := flags.GetStringArray("vars-file")
		extra, _ := flags.GetStringArray("extra-vars")
		vars, err := collectVars(varsFiles, extra)
		if err != nil {
			return err
		}

		sel := tagSelection{}
		sel.tags, _ = flags.GetStringSlice("tags")
		sel.skipTags, _ = flags.GetStringSlice("skip-tags")

		ctx := modules.SetupSignalHandler()
		return runPlaybook(ctx, cmd.OutOrStdout(), cfg, args[0], vars, sel)
	},
}

// resolvePlaybook returns a local path for source, downloading it first when
// source is a URL.
func resolvePlaybook(ctx context.Context, source string) (string, error) {
	if !netcache.IsURL(source) {
		return source, nil
	}
	cache := netcache.New(netcache.DefaultDir())
	cache.Logger = logger
	path, cached, err := cache.Get(ctx, source)
	if err != nil {
		return "", err
	}
	logger.Debug("resolved playbook URL", "url", source, "path", path, "cached", cached)
	return path, nil
}

type tagSelection struct {
	tags     []string
	skipTags []string
}

func runPlaybook(ctx context.Context, out io.Writer, cfg conductorConfig, source string, vars map[string]any, sel tagSelection) error {
	path, err := resolvePlaybook(ctx, source)
	if err != nil {
		return err
	}
	pb, err := playbook.LoadFile(path)
	if err != nil {
		return err
	}
	if err := pb.Validate(); err != nil {
		return fmt.Errorf("invalid playbook %s: %w", source, err)
	}

	x, err := newExpander(cfg.FiltersScript)
	if err != nil {
		return err
	}

	reg := modules.NewRegistry()
	if err := reg.DiscoverStandardPaths(cfg.ModulePaths...); err != nil {
		return fmt.Errorf("discovering modules: %w", err)
	}
	exec := modules.NewExecutor(reg)
	exec.Logger = logger
	if cfg.DefaultTimeout > 0 {
		exec.DefaultTimeout = cfg.DefaultTimeout
	}

	rolesPath := cfg.RolesPath
	if rolesPath == "" {
		rolesPath = filepath.Join(filepath.Dir(path), "roles")
	}

	metrics := runner.NewMetrics(nil)
	tasks := runner.NewTaskExecutor(exec, x)
	tasks.Metrics = metrics
	tasks.Logger = logger
	pe := runner.NewPlaybookExecutor(tasks, playbook.NewRoleLoader(rolesPath))
	pe.Tags, pe.SkipTags = sel.tags, sel.skipTags

	res, runErr := pe.Execute(ctx, pb, vars)
	if res != nil {
		printResult(out, res)
	}
	if cfg.MetricsFile != "" {
		if err := metrics.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Warn("writing metrics file", "path", cfg.MetricsFile, "error", err)
		}
	}
	if runErr != nil {
		return runErr
	}
	if !res.Success {
		return errPlaybookFailed
	}
	return nil
}

func printResult(w io.Writer, res *runner.PlaybookResult) {
	for _, play := range res.Plays {
		fmt.Fprintf(w, "PLAY [%s]\n", play.Name)
		for _, t := range play.Tasks {
			printTask(w, t, "")
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "PLAY RECAP (run %s): %s\n", res.RunID, res.Recap)
}

func printTask(w io.Writer, t *runner.TaskResult, indent string) {
	line := fmt.Sprintf("%s%-8s %s", indent, strings.ToUpper(t.Status()), t.Name)
	if t.Failed && t.Message != "" {
		line += ": " + t.Message
	}
	fmt.Fprintln(w, line)
	for _, it := range t.IterationResults {
		printTask(w, it, indent+"  ")
	}
}

func init() {
	runCmd.Flags().StringArrayP("extra-vars", "e", []string{}, "Set extra variables as KEY=VALUE or @file (repeatable)")
	runCmd.Flags().StringArray("vars-file", []string{}, "Load extra variables from a YAML file (repeatable)")
	runCmd.Flags().String("roles-path", "", "Directory containing roles (default: roles next to the playbook)")
	runCmd.Flags().StringArray("module-path", []string{}, "Additional module directory, searched before the standard paths (repeatable)")
	runCmd.Flags().Duration("timeout", 0, "Default module timeout")
	runCmd.Flags().String("filters", "", "Starlark script defining custom filters")
	runCmd.Flags().String("metrics-file", "", "Write Prometheus metrics to this textfile after the run")
	runCmd.Flags().StringSlice("tags", nil, "Only run tasks tagged with these values")
	runCmd.Flags().StringSlice("skip-tags", nil, "Skip tasks tagged with these values")
}
