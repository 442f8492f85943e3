package main

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fulcrumlabs/conductor/pkg/jinja2"
	"github.com/fulcrumlabs/conductor/pkg/loops"
	"github.com/fulcrumlabs/conductor/pkg/playbook"
	"github.com/fulcrumlabs/conductor/pkg/templating"
)

var checkCmd = cobra.Command{
	Use:   "check [playbook]",
	Short: "Load and validate a playbook and the roles it uses without running it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("roles-path") {
			cfg.RolesPath, _ = cmd.Flags().GetString("roles-path")
		}
		return checkPlaybook(cmd.OutOrStdout(), args[0], cfg.RolesPath)
	},
}

// loopVariables are bound by the runner and never need to be supplied.
var loopVariables = map[string]bool{"item": true, "ansible_loop": true}

func checkPlaybook(w io.Writer, path, rolesPath string) error {
	pb, err := playbook.LoadFile(path)
	if err != nil {
		return err
	}
	if err := pb.Validate(); err != nil {
		return fmt.Errorf("invalid playbook %s: %w", path, err)
	}
	if rolesPath == "" {
		rolesPath = filepath.Join(filepath.Dir(path), "roles")
	}

	c := &checker{roles: playbook.NewRoleLoader(rolesPath), vars: map[string]bool{}, seenRoles: map[string]bool{}}
	tasks := 0
	for _, play := range pb.Plays {
		for _, ref := range play.Roles {
			if err := c.role(ref); err != nil {
				return err
			}
		}
		for _, t := range play.Tasks {
			if err := c.task(t); err != nil {
				return err
			}
		}
		tasks += len(play.Tasks)
	}

	names := make([]string, 0, len(c.vars))
	for name := range c.vars {
		if !loopVariables[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	fmt.Fprintf(w, "%s: OK (%d plays, %d tasks, %d roles)\n", path, len(pb.Plays), tasks, len(c.seenRoles))
	if len(names) > 0 {
		fmt.Fprintf(w, "variables: %s\n", strings.Join(names, ", "))
	}
	return nil
}

type checker struct {
	roles     *playbook.RoleLoader
	vars      map[string]bool
	seenRoles map[string]bool
}

func (c *checker) role(ref *playbook.RoleReference) error {
	if err := c.conditions(ref.When); err != nil {
		return err
	}
	if err := c.value(ref.Parameters); err != nil {
		return err
	}
	if c.seenRoles[ref.Name] {
		return nil
	}
	c.seenRoles[ref.Name] = true

	role, err := c.roles.LoadRole(ref.Name)
	if err != nil {
		return err
	}
	if err := role.Validate(); err != nil {
		return fmt.Errorf("role %q: %w", ref.Name, err)
	}
	for _, t := range role.Tasks {
		if err := c.task(t); err != nil {
			return fmt.Errorf("role %q: %w", ref.Name, err)
		}
	}
	return nil
}

func (c *checker) task(t *playbook.Task) error {
	if err := c.template(string(t.Name)); err != nil {
		return err
	}
	for _, conds := range []playbook.Conditions{t.When, t.FailedWhen, t.ChangedWhen} {
		if err := c.conditions(conds); err != nil {
			return err
		}
	}
	if t.Role != nil {
		return c.role(t.Role)
	}
	if err := c.value(t.Parameters); err != nil {
		return err
	}
	if t.Loop != nil {
		if s, ok := t.Loop.Items.(string); ok {
			return c.conditions(playbook.Conditions{s})
		}
		if err := c.value(t.Loop.Items); err != nil {
			return fmt.Errorf("%s: %w", t.Loop.Kind, &loops.ExpansionError{Source: fmt.Sprint(t.Loop.Items), Err: err})
		}
	}
	return nil
}

func (c *checker) conditions(conds playbook.Conditions) error {
	for _, cond := range conds {
		if strings.TrimSpace(cond) == "" {
			continue
		}
		src := cond
		if !templating.IsTemplate(src) {
			src = "{{ " + src + " }}"
		}
		if err := c.template(src); err != nil {
			return err
		}
	}
	return nil
}

func (c *checker) value(v any) error {
	switch t := v.(type) {
	case string:
		return c.template(t)
	case map[string]any:
		for _, item := range t {
			if err := c.value(item); err != nil {
				return err
			}
		}
	case []any:
		for _, item := range t {
			if err := c.value(item); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *checker) template(src string) error {
	if !templating.IsTemplate(src) {
		return nil
	}
	doc, err := jinja2.Parse(src)
	if err != nil {
		return &templating.ExpansionError{Template: src, Err: err}
	}
	for _, name := range jinja2.Variables(doc) {
		c.vars[name] = true
	}
	return nil
}

func init() {
	checkCmd.Flags().String("roles-path", "", "Directory containing roles (default: roles next to the playbook)")
}
