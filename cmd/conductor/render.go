package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fulcrumlabs/conductor/pkg/jinja2"
)

var renderCmd = cobra.Command{
	Use:   "render [template-file]",
	Short: "Render a template file to stdout (- reads stdin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if flags.Changed("filters") {
			cfg.FiltersScript, _ = flags.GetString("filters")
		}
		varsFiles, _ := flags.GetStringArray("vars-file")
		extra, _ := flags.GetStringArray("extra-vars")
		vars, err := collectVars(varsFiles, extra)
		if err != nil {
			return err
		}
		showAST, _ := flags.GetBool("ast")

		src, err := readTemplate(cmd.InOrStdin(), args[0])
		if err != nil {
			return err
		}
		return renderTemplate(cmd.OutOrStdout(), src, vars, cfg.FiltersScript, showAST)
	},
}

func readTemplate(stdin io.Reader, path string) (string, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading template: %w", err)
	}
	return string(b), nil
}

// renderTemplate writes the rendered template, or its syntax tree and
// referenced variables when showAST is set.
func renderTemplate(w io.Writer, src string, vars map[string]any, filtersScript string, showAST bool) error {
	if showAST {
		doc, err := jinja2.Parse(src)
		if err != nil {
			return err
		}
		fmt.Fprint(w, jinja2.Pretty(doc))
		for _, name := range jinja2.Variables(doc) {
			fmt.Fprintf(w, "var %s\n", name)
		}
		return nil
	}

	x, err := newExpander(filtersScript)
	if err != nil {
		return err
	}
	out, err := x.ExpandString(src, jinja2.NewContextFromAny(vars))
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}

func init() {
	renderCmd.Flags().StringArrayP("extra-vars", "e", []string{}, "Set variables as KEY=VALUE or @file (repeatable)")
	renderCmd.Flags().StringArray("vars-file", []string{}, "Load variables from a YAML file (repeatable)")
	renderCmd.Flags().String("filters", "", "Starlark script defining custom filters")
	renderCmd.Flags().Bool("ast", false, "Print the parsed template instead of rendering it")
}
