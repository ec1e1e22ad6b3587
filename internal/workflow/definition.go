// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package workflow

import (
	_ "embed"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/olegiv/ocms-workflow/internal/model"
)

//go:embed defaults.yaml
var defaultDefinitionYAML []byte

// Rule allows Action from any of From, moving content to To, for actors
// holding at least one of Roles.
type Rule struct {
	From   []model.State `yaml:"from"`
	Action model.Action  `yaml:"action"`
	To     model.State   `yaml:"to"`
	Roles  []model.Role  `yaml:"roles"`
}

// AllowsRole reports whether an actor with role may apply the rule.
func (r Rule) AllowsRole(role model.Role) bool {
	for _, want := range r.Roles {
		if role.Satisfies(want) {
			return true
		}
	}
	return false
}

type ruleKey struct {
	from   model.State
	action model.Action
}

// Definition is an immutable workflow transition table.
type Definition struct {
	States []model.State `yaml:"states"`
	Rules  []Rule        `yaml:"rules"`

	index map[ruleKey]Rule
}

// DefaultDefinition returns the built-in approval workflow.
func DefaultDefinition() *Definition {
	def, err := ParseDefinition(defaultDefinitionYAML)
	if err != nil {
		panic("workflow: invalid built-in definition: " + err.Error())
	}
	return def
}

// LoadDefinition reads a workflow definition from a YAML file.
// An empty path yields the built-in definition.
func LoadDefinition(path string) (*Definition, error) {
	if path == "" {
		return DefaultDefinition(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow definition: %w", err)
	}
	def, err := ParseDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// ParseDefinition decodes and validates a YAML workflow definition.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parsing workflow definition: %w", err)
	}
	if err := def.build(); err != nil {
		return nil, err
	}
	return &def, nil
}

func (d *Definition) build() error {
	if len(d.States) == 0 {
		return fmt.Errorf("workflow definition has no states")
	}
	for _, s := range d.States {
		if !s.Valid() {
			return fmt.Errorf("unknown state %q", s)
		}
	}
	if !slices.Contains(d.States, model.StateDraft) {
		return fmt.Errorf("workflow definition must include the %q state", model.StateDraft)
	}

	d.index = make(map[ruleKey]Rule)
	for i, r := range d.Rules {
		if !r.Action.Valid() {
			return fmt.Errorf("rule %d: unknown action %q", i, r.Action)
		}
		if !slices.Contains(d.States, r.To) {
			return fmt.Errorf("rule %d: unknown target state %q", i, r.To)
		}
		if len(r.From) == 0 {
			return fmt.Errorf("rule %d: no source states", i)
		}
		if len(r.Roles) == 0 {
			return fmt.Errorf("rule %d: no roles", i)
		}
		for _, role := range r.Roles {
			if !role.Valid() {
				return fmt.Errorf("rule %d: unknown role %q", i, role)
			}
		}
		for _, from := range r.From {
			if !slices.Contains(d.States, from) {
				return fmt.Errorf("rule %d: unknown source state %q", i, from)
			}
			key := ruleKey{from: from, action: r.Action}
			if _, dup := d.index[key]; dup {
				return fmt.Errorf("rule %d: duplicate rule for %s from %s", i, r.Action, from)
			}
			d.index[key] = r
		}
	}
	return nil
}

// Lookup returns the rule for action applied in state from.
func (d *Definition) Lookup(from model.State, action model.Action) (Rule, bool) {
	r, ok := d.index[ruleKey{from: from, action: action}]
	return r, ok
}

// RulesFrom returns the rules whose source states include from, in definition order.
func (d *Definition) RulesFrom(from model.State) []Rule {
	var out []Rule
	for _, r := range d.Rules {
		if slices.Contains(r.From, from) {
			out = append(out, r)
		}
	}
	return out
}
