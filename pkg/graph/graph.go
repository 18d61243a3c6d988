// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph provides the directed-graph checks used for block edges,
// pipeline verification and job plans.
//
// # Description
//
// Functions are generic over the node key so the same code serves block
// UUIDs in the API and op aliases in the orchestrator. Node order given by
// the caller is preserved wherever a result is ordered, so outputs are
// deterministic.
//
// # Thread Safety
//
// All functions are pure and safe for concurrent use.
package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrCycle is returned when a graph contains a directed cycle.
	ErrCycle = errors.New("cyclic dependency detected")

	// ErrDisconnected is returned when nodes do not form a single weakly
	// connected component.
	ErrDisconnected = errors.New("graph is not connected")
)

// Edge is a directed edge from Source to Target.
type Edge[K comparable] struct {
	Source K
	Target K
}

// Adjacency builds the outgoing adjacency list of edges.
func Adjacency[K comparable](edges []Edge[K]) map[K][]K {
	adj := make(map[K][]K, len(edges))
	for _, e := range edges {
		adj[e.Source] = append(adj[e.Source], e.Target)
	}
	return adj
}

// HasPath reports whether to is reachable from from, using an iterative DFS.
// A node always reaches itself.
func HasPath[K comparable](adj map[K][]K, from, to K) bool {
	if from == to {
		return true
	}
	visited := map[K]bool{from: true}
	stack := []K{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range adj[n] {
			if next == to {
				return true
			}
			if !visited[next] {
				visited[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// WouldCreateCycle reports whether adding source -> target to edges closes
// a cycle, i.e. whether source is already reachable from target.
func WouldCreateCycle[K comparable](edges []Edge[K], source, target K) bool {
	return HasPath(Adjacency(edges), target, source)
}

// DetectCycle returns the nodes of one directed cycle, first node repeated
// at the end, or nil when edges are acyclic.
func DetectCycle[K comparable](edges []Edge[K]) []K {
	const (
		white = iota
		grey
		black
	)
	adj := Adjacency(edges)
	color := make(map[K]int)
	parent := make(map[K]K)

	var cycle []K
	var visit func(n K) bool
	visit = func(n K) bool {
		color[n] = grey
		for _, next := range adj[n] {
			switch color[next] {
			case grey:
				cycle = []K{next}
				for cur := n; cur != next; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, next)
				reverse(cycle)
				return true
			case white:
				parent[next] = n
				if visit(next) {
					return true
				}
			}
		}
		color[n] = black
		return false
	}

	for _, n := range nodesOf(edges) {
		if color[n] == white && visit(n) {
			return cycle
		}
	}
	return nil
}

// Connected reports whether nodes form one weakly connected component.
// Edges touching nodes outside the set are ignored. An empty set is not
// connected; a single node is.
func Connected[K comparable](nodes []K, edges []Edge[K]) bool {
	if len(nodes) == 0 {
		return false
	}
	members := make(map[K]bool, len(nodes))
	for _, n := range nodes {
		members[n] = true
	}
	undirected := make(map[K][]K, len(nodes))
	for _, e := range edges {
		if !members[e.Source] || !members[e.Target] {
			continue
		}
		undirected[e.Source] = append(undirected[e.Source], e.Target)
		undirected[e.Target] = append(undirected[e.Target], e.Source)
	}

	seen := map[K]bool{nodes[0]: true}
	queue := []K{nodes[0]}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, next := range undirected[n] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return len(seen) == len(members)
}

// Levels groups nodes into Kahn layers: every node's dependencies sit in an
// earlier layer. Nodes within a layer keep the caller's order.
//
// # Outputs
//
//   - [][]K: The layers, first layer has no incoming edges.
//   - error: Wraps ErrCycle, naming the nodes left unprocessed.
func Levels[K comparable](nodes []K, edges []Edge[K]) ([][]K, error) {
	indegree := make(map[K]int, len(nodes))
	for _, n := range nodes {
		indegree[n] = 0
	}
	adj := make(map[K][]K, len(nodes))
	for _, e := range edges {
		if _, ok := indegree[e.Source]; !ok {
			return nil, fmt.Errorf("edge source %v is not a node", e.Source)
		}
		if _, ok := indegree[e.Target]; !ok {
			return nil, fmt.Errorf("edge target %v is not a node", e.Target)
		}
		adj[e.Source] = append(adj[e.Source], e.Target)
		indegree[e.Target]++
	}

	var current []K
	for _, n := range nodes {
		if indegree[n] == 0 {
			current = append(current, n)
		}
	}

	var levels [][]K
	processed := 0
	for len(current) > 0 {
		levels = append(levels, current)
		processed += len(current)

		ready := make(map[K]bool)
		for _, n := range current {
			for _, next := range adj[n] {
				indegree[next]--
				if indegree[next] == 0 {
					ready[next] = true
				}
			}
		}
		var next []K
		for _, n := range nodes {
			if ready[n] {
				next = append(next, n)
			}
		}
		current = next
	}

	if processed != len(nodes) {
		var stuck []K
		for _, n := range nodes {
			if indegree[n] > 0 {
				stuck = append(stuck, n)
			}
		}
		return nil, fmt.Errorf("%w involving nodes: %v", ErrCycle, stuck)
	}
	return levels, nil
}

// TopologicalOrder flattens Levels into one ordering.
func TopologicalOrder[K comparable](nodes []K, edges []Edge[K]) ([]K, error) {
	levels, err := Levels(nodes, edges)
	if err != nil {
		return nil, err
	}
	order := make([]K, 0, len(nodes))
	for _, l := range levels {
		order = append(order, l...)
	}
	return order, nil
}

// Verify checks that edges over nodes are acyclic and that nodes are weakly
// connected. The cycle check runs first.
func Verify[K comparable](nodes []K, edges []Edge[K]) error {
	if cycle := DetectCycle(edges); cycle != nil {
		return fmt.Errorf("%w: %v", ErrCycle, cycle)
	}
	if !Connected(nodes, edges) {
		return ErrDisconnected
	}
	return nil
}

func nodesOf[K comparable](edges []Edge[K]) []K {
	seen := make(map[K]bool)
	var out []K
	for _, e := range edges {
		for _, n := range []K{e.Source, e.Target} {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out
}

func reverse[K any](s []K) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
