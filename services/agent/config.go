// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed agents.yaml
var defaultAgentsYAML []byte

//go:embed tasks.yaml
var defaultTasksYAML []byte

// AgentSpec is one persona entry of agents.yaml.
type AgentSpec struct {
	Role      string `yaml:"role"`
	Goal      string `yaml:"goal"`
	Backstory string `yaml:"backstory"`
}

// TaskSpec is one entry of tasks.yaml.
type TaskSpec struct {
	Agent          string `yaml:"agent"`
	Description    string `yaml:"description"`
	ExpectedOutput string `yaml:"expected_output"`
}

// Definitions holds the parsed persona and task files.
type Definitions struct {
	Agents map[string]AgentSpec
	Tasks  map[string]TaskSpec
}

var (
	defaultDefsOnce sync.Once
	defaultDefs     *Definitions
	defaultDefsErr  error
)

// DefaultDefinitions returns the embedded definitions, parsed once.
func DefaultDefinitions() (*Definitions, error) {
	defaultDefsOnce.Do(func() {
		defaultDefs, defaultDefsErr = ParseDefinitions(defaultAgentsYAML, defaultTasksYAML)
	})
	return defaultDefs, defaultDefsErr
}

// ParseDefinitions parses agents and tasks YAML and checks that every task
// names a known agent.
func ParseDefinitions(agentsYAML, tasksYAML []byte) (*Definitions, error) {
	defs := &Definitions{}
	if err := yaml.Unmarshal(agentsYAML, &defs.Agents); err != nil {
		return nil, fmt.Errorf("unmarshaling agents YAML: %w", err)
	}
	if err := yaml.Unmarshal(tasksYAML, &defs.Tasks); err != nil {
		return nil, fmt.Errorf("unmarshaling tasks YAML: %w", err)
	}
	for name, a := range defs.Agents {
		if a.Role == "" {
			return nil, fmt.Errorf("agent %q has no role", name)
		}
	}
	for name, t := range defs.Tasks {
		if _, ok := defs.Agents[t.Agent]; !ok {
			return nil, fmt.Errorf("task %q references unknown agent %q", name, t.Agent)
		}
		if strings.TrimSpace(t.Description) == "" {
			return nil, fmt.Errorf("task %q has no description", name)
		}
	}
	return defs, nil
}

// Agent builds the named persona with the given tools.
func (d *Definitions) Agent(name string, tools ...Tool) (*Agent, error) {
	spec, ok := d.Agents[name]
	if !ok {
		return nil, fmt.Errorf("unknown agent %q", name)
	}
	return &Agent{
		Role:      spec.Role,
		Goal:      strings.TrimSpace(spec.Goal),
		Backstory: strings.TrimSpace(spec.Backstory),
		Tools:     tools,
	}, nil
}

// Task builds the named task bound to agent.
func (d *Definitions) Task(name string, agent *Agent) (*Task, error) {
	spec, ok := d.Tasks[name]
	if !ok {
		return nil, fmt.Errorf("unknown task %q", name)
	}
	return &Task{
		Name:           name,
		Description:    spec.Description,
		ExpectedOutput: strings.TrimSpace(spec.ExpectedOutput),
		Agent:          agent,
	}, nil
}
