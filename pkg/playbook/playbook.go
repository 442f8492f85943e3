// Package playbook holds the in-memory playbook model and loads it from
// YAML files.
package playbook

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/fulcrumlabs/conductor/pkg/jinja2"
	"github.com/fulcrumlabs/conductor/pkg/loops"
	v "github.com/fulcrumlabs/conductor/pkg/validator"
)

type RoleKind string

const (
	// RoleKindPlay is a role listed under a play's roles key.
	RoleKindPlay    RoleKind = "play"
	RoleKindImport  RoleKind = "import_role"
	RoleKindInclude RoleKind = "include_role"
)

// Conditions is a list of expressions that must all be true. YAML accepts
// a single string, a bool or a list.
type Conditions []string

func (c Conditions) Validate(description string) error {
	return v.Map(c, func(cond string, description string) error {
		if strings.TrimSpace(stripBraces(cond)) == "" {
			return nil
		}
		if _, err := jinja2.ParseExpression(stripBraces(cond)); err != nil {
			return fmt.Errorf("%s: %w", description, err)
		}
		return nil
	}, description)
}

type RoleReference struct {
	Name       string
	Parameters map[string]any
	When       Conditions
	Tags       []string
	Kind       RoleKind
}

func (r *RoleReference) Validate() error {
	return v.All(
		v.NotEmpty(r.Name, "role.name"),
		v.HasNoJinja(r.Name, "role.name"),
		v.MatchesAllowed(r.Kind, []RoleKind{RoleKindPlay, RoleKindImport, RoleKindInclude}, "role.kind"),
		v.NoDuplicates(r.Tags, "role.tags"),
		r.When.Validate("role.when"),
		v.MapDict(r.Parameters, validVarName, "role.vars"),
	)
}

type Role struct {
	Name     string
	Path     string
	Tasks    []*Task
	Defaults map[string]any
	Vars     map[string]any
}

func (r *Role) Validate() error {
	return v.All(
		v.NotEmpty(r.Name, "role.name"),
		v.MapDict(r.Defaults, validVarName, "role.defaults"),
		v.MapDict(r.Vars, validVarName, "role.vars"),
		v.Each(r.Tasks),
	)
}

type Task struct {
	Name         jinja2.TemplateString
	Module       string
	Parameters   map[string]any
	When         Conditions
	Loop         *loops.Definition
	IgnoreErrors bool
	FailedWhen   Conditions
	ChangedWhen  Conditions
	RegisterAs   string
	Timeout      time.Duration
	Tags         []string

	// Role is set for import_role and include_role tasks.
	Role *RoleReference
}

// DisplayName is the unrendered task name, falling back to the module.
func (t *Task) DisplayName() string {
	if t.Name != "" {
		return string(t.Name)
	}
	return t.Module
}

func (t *Task) Validate() error {
	if t.Role != nil {
		return v.All(
			t.Name.Validate(),
			t.Role.Validate(),
			t.When.Validate("when"),
		)
	}
	return v.All(
		v.NotEmpty(t.Module, fmt.Sprintf("task %q module", t.DisplayName())),
		t.Name.Validate(),
		t.When.Validate("when"),
		t.FailedWhen.Validate("failed_when"),
		t.ChangedWhen.Validate("changed_when"),
		v.HasNoJinja(t.RegisterAs, "register"),
		validRegister(t.RegisterAs),
		validTemplates(t.Parameters, "parameters"),
		validLoop(t.Loop),
	)
}

type Play struct {
	Name  string
	Vars  map[string]any
	Roles []*RoleReference
	Tasks []*Task
}

func (p *Play) Validate() error {
	if err := v.All(
		v.MapDict(p.Vars, validVarName, "vars"),
		v.Each(p.Roles),
		v.Each(p.Tasks),
	); err != nil {
		return fmt.Errorf("play %q: %w", p.Name, err)
	}
	return nil
}

type Playbook struct {
	Path  string
	Plays []*Play
}

func (p *Playbook) Validate() error {
	if len(p.Plays) == 0 {
		return fmt.Errorf("playbook has no plays")
	}
	return v.Each(p.Plays)
}

var varNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validVarName(name string, _ any) error {
	if !varNameRe.MatchString(name) {
		return fmt.Errorf("invalid variable name %q", name)
	}
	return nil
}

func validRegister(name string) error {
	if name == "" {
		return nil
	}
	return validVarName(name, nil)
}

// validTemplates parses every string found in params.
func validTemplates(val any, description string) error {
	switch t := val.(type) {
	case string:
		if err := jinja2.TemplateString(t).Validate(); err != nil {
			return fmt.Errorf("%s: %w", description, err)
		}
	case map[string]any:
		for k, item := range t {
			if err := validTemplates(item, description+"."+k); err != nil {
				return err
			}
		}
	case []any:
		return v.Map(t, func(item any, description string) error {
			return validTemplates(item, description)
		}, description)
	}
	return nil
}

func validLoop(def *loops.Definition) error {
	if def == nil {
		return nil
	}
	switch items := def.Items.(type) {
	case string:
		if strings.TrimSpace(stripBraces(items)) == "" {
			return nil
		}
		if _, err := jinja2.ParseExpression(stripBraces(items)); err != nil {
			return fmt.Errorf("%s: %w", def.Kind, err)
		}
		return nil
	default:
		return validTemplates(items, def.Kind.String())
	}
}
