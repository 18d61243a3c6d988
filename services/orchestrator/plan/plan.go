// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package plan turns parsed instructions into an executable job plan.
//
// Every operation call becomes a Node named "<operation> (<n>)", where n
// counts from 1 in pre-order across the whole plan. Nested calls become
// dependencies of the node that consumes them, and literal parameters become
// the node's inputs. RunConfig renders the literal inputs the same way the
// job runner has always recorded them:
//
//	{"ops": {"math_block (2)": {"inputs": {"operand": {"value": "add"}}}}}
package plan

import (
	"fmt"

	"github.com/ConstellationAI/constellation/pkg/graph"
	"github.com/ConstellationAI/constellation/services/orchestrator/instructions"
)

// Node is one operation invocation.
type Node struct {
	Alias string
	// Op is the canonical registered operation.
	Op string
	// Root is the alias of the top-level node this node belongs to.
	Root string
	// Deps maps an input name to the alias producing it.
	Deps map[string]string
	// ListDeps maps an input name to the aliases whose outputs form a list.
	ListDeps map[string][]string
	// Inputs are the literal parameters.
	Inputs map[string]any
}

// Upstream returns every alias this node depends on.
func (n *Node) Upstream() []string {
	var out []string
	for _, a := range n.Deps {
		out = append(out, a)
	}
	for _, list := range n.ListDeps {
		out = append(out, list...)
	}
	return out
}

// Plan is the full job. Roots run one after another in order; the nodes
// under a root form a DAG.
type Plan struct {
	Nodes []*Node
	Roots []string
	index map[string]*Node
}

// Build assigns aliases and dependencies for instrs.
//
// # Description
//
// The alias counter is shared by all roots, so the second root of a
// two-instruction list continues numbering where the first left off.
//
// # Outputs
//
//   - *Plan: The plan. Node order is the pre-order of the instructions.
//   - error: When no instruction is given.
func Build(instrs []*instructions.Instruction) (*Plan, error) {
	if len(instrs) == 0 {
		return nil, fmt.Errorf("%w: nothing to plan", instructions.ErrInvalid)
	}
	p := &Plan{index: make(map[string]*Node)}
	counter := 1

	var visit func(in *instructions.Instruction, root string) string
	visit = func(in *instructions.Instruction, root string) string {
		alias := fmt.Sprintf("%s (%d)", in.Operation, counter)
		counter++
		if root == "" {
			root = alias
		}

		node := &Node{Alias: alias, Op: in.Canonical, Root: root}
		p.Nodes = append(p.Nodes, node)
		p.index[alias] = node

		for _, param := range in.Params {
			switch param.Kind {
			case instructions.ParamCall:
				if node.Deps == nil {
					node.Deps = make(map[string]string)
				}
				node.Deps[param.Name] = visit(param.Call, root)
			case instructions.ParamCallList:
				if node.ListDeps == nil {
					node.ListDeps = make(map[string][]string)
				}
				aliases := make([]string, 0, len(param.Calls))
				for _, c := range param.Calls {
					aliases = append(aliases, visit(c, root))
				}
				node.ListDeps[param.Name] = aliases
			default:
				if node.Inputs == nil {
					node.Inputs = make(map[string]any)
				}
				node.Inputs[param.Name] = param.Literal
			}
		}
		return alias
	}

	for _, in := range instrs {
		p.Roots = append(p.Roots, visit(in, ""))
	}
	return p, nil
}

// Node returns the node for alias, or nil.
func (p *Plan) Node(alias string) *Node {
	return p.index[alias]
}

// RunConfig renders the literal inputs of every node. Nodes without
// literals have no entry.
func (p *Plan) RunConfig() map[string]any {
	ops := make(map[string]any)
	for _, n := range p.Nodes {
		if len(n.Inputs) == 0 {
			continue
		}
		inputs := make(map[string]any, len(n.Inputs))
		for k, v := range n.Inputs {
			inputs[k] = map[string]any{"value": v}
		}
		ops[n.Alias] = map[string]any{"inputs": inputs}
	}
	return map[string]any{"ops": ops}
}

// Stage returns the aliases and dependency edges of one root's subgraph.
// Edges point from producer to consumer.
func (p *Plan) Stage(root string) ([]string, []graph.Edge[string]) {
	var nodes []string
	var edges []graph.Edge[string]
	for _, n := range p.Nodes {
		if n.Root != root {
			continue
		}
		nodes = append(nodes, n.Alias)
		for _, up := range n.Upstream() {
			edges = append(edges, graph.Edge[string]{Source: up, Target: n.Alias})
		}
	}
	return nodes, edges
}
