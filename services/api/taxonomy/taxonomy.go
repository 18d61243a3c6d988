// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package taxonomy converts nested block classifications to and from
// category rows.
//
// # Description
//
// A taxonomy document has a "general" section and an optional "specific"
// section keyed by branch:
//
//	{
//	  "general":  {"paper_type": "Weather/Climate Model", "application": ["Ocean", "Cryosphere"]},
//	  "specific": {"weather_climate": {"model": {"resolution": "0.25deg"}}}
//	}
//
// Only the branch matching general.paper_type is kept from "specific".
// Every key becomes a category under its parent, and every scalar leaf (or
// list element) becomes a child category of its key. Searching for
// (application, Ocean) therefore finds blocks linked to a category "Ocean"
// whose parent is "application".
package taxonomy

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/ConstellationAI/constellation/services/api/datatypes"
)

// Paper types recognised in general.paper_type.
const (
	PaperWeatherClimate   = "Weather/Climate Model"
	PaperEarthObservation = "Earth Observation Model"
	PaperDataset          = "Dataset"
	PaperOther            = "Other"
)

const (
	generalKey   = "general"
	specificKey  = "specific"
	paperTypeKey = "paper_type"
)

// SpecificBranch returns the "specific" sub-key for a paper type. Other and
// unknown types have no specific branch.
func SpecificBranch(paperType string) (string, bool) {
	switch paperType {
	case PaperEarthObservation:
		return "earth_observation", true
	case PaperWeatherClimate:
		return "weather_climate", true
	case PaperDataset:
		return "dataset", true
	default:
		return "", false
	}
}

// Sections returns the trees to store for a taxonomy document: the general
// section plus the specific branch chosen by paper type. A document without
// general/specific keys is returned as a single plain tree.
func Sections(doc map[string]any) []map[string]any {
	if len(doc) == 0 {
		return nil
	}
	general, hasGeneral := doc[generalKey].(map[string]any)
	specific, hasSpecific := doc[specificKey].(map[string]any)
	if !hasGeneral && !hasSpecific {
		return []map[string]any{doc}
	}

	var out []map[string]any
	if hasGeneral {
		out = append(out, general)
	}
	if hasSpecific {
		paperType, _ := general[paperTypeKey].(string)
		if branch, ok := SpecificBranch(paperType); ok {
			if tree, ok := specific[branch].(map[string]any); ok && len(tree) > 0 {
				out = append(out, tree)
			}
		}
	}
	return out
}

// Flatten joins nested keys with sep. Non-map values, lists included, are
// kept as they are.
func Flatten(tree map[string]any, sep string) map[string]any {
	out := make(map[string]any)
	flattenInto(out, tree, "", sep)
	return out
}

func flattenInto(out map[string]any, tree map[string]any, prefix, sep string) {
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + sep + k
		}
		if sub, ok := v.(map[string]any); ok {
			flattenInto(out, sub, key, sep)
			continue
		}
		out[key] = v
	}
}

// =============================================================================
// Category processing
// =============================================================================

// GetOrCreateFunc resolves a category by (name, parent), creating it when
// missing. parentID is nil for roots.
type GetOrCreateFunc func(ctx context.Context, name string, parentID *uuid.UUID) (uuid.UUID, error)

// Process walks every section of doc and returns the ids of all categories
// touched, keys and leaf values alike, without duplicates.
func Process(ctx context.Context, doc map[string]any, getOrCreate GetOrCreateFunc) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	add := func(id uuid.UUID) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	var walk func(tree map[string]any, parent *uuid.UUID) error
	walk = func(tree map[string]any, parent *uuid.UUID) error {
		for _, key := range sortedKeys(tree) {
			id, err := getOrCreate(ctx, key, parent)
			if err != nil {
				return fmt.Errorf("taxonomy: category %q: %w", key, err)
			}
			add(id)

			switch v := tree[key].(type) {
			case map[string]any:
				if err := walk(v, &id); err != nil {
					return err
				}
			default:
				for _, leaf := range leafValues(v) {
					leafID, err := getOrCreate(ctx, leaf, &id)
					if err != nil {
						return fmt.Errorf("taxonomy: value %q of %q: %w", leaf, key, err)
					}
					add(leafID)
				}
			}
		}
		return nil
	}

	for _, section := range Sections(doc) {
		if err := walk(section, nil); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// leafValues renders a scalar or list leaf as category names. nil and empty
// strings produce nothing.
func leafValues(v any) []string {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		if strings.TrimSpace(x) == "" {
			return nil
		}
		return []string{x}
	case []string:
		return x
	case []any:
		var out []string
		for _, item := range x {
			out = append(out, leafValues(item)...)
		}
		return out
	case map[string]any:
		return nil
	default:
		return []string{fmt.Sprint(x)}
	}
}

// =============================================================================
// Tree rebuilding and search
// =============================================================================

// BuildTree rebuilds a nested map from category rows. A key whose children
// are all leaves collapses to the leaf name, or a list of names when there
// are several. Categories whose parent is not in the set are roots.
func BuildTree(categories []datatypes.TaxonomyCategory) map[string]any {
	byID := make(map[uuid.UUID]datatypes.TaxonomyCategory, len(categories))
	for _, c := range categories {
		byID[c.ID] = c
	}
	children := make(map[uuid.UUID][]datatypes.TaxonomyCategory)
	var roots []datatypes.TaxonomyCategory
	for _, c := range categories {
		if c.ParentID != nil {
			if _, ok := byID[*c.ParentID]; ok {
				children[*c.ParentID] = append(children[*c.ParentID], c)
				continue
			}
		}
		roots = append(roots, c)
	}

	var render func(id uuid.UUID) any
	render = func(id uuid.UUID) any {
		kids := children[id]
		allLeaves := true
		for _, k := range kids {
			if len(children[k.ID]) > 0 {
				allLeaves = false
				break
			}
		}
		if allLeaves && len(kids) == 1 {
			return kids[0].Name
		}
		if allLeaves && len(kids) > 1 {
			names := make([]any, len(kids))
			for i, k := range kids {
				names[i] = k.Name
			}
			return names
		}
		node := make(map[string]any, len(kids))
		for _, k := range kids {
			node[k.Name] = render(k.ID)
		}
		return node
	}

	tree := make(map[string]any, len(roots))
	for _, r := range roots {
		tree[r.Name] = render(r.ID)
	}
	return tree
}

// Pair is one (key, value) search criterion.
type Pair struct {
	Key   string
	Value string
}

// Leaves turns search filters into criteria. Nested maps are followed, the
// innermost key is used, and list values yield one pair per element.
// Sections are honoured the same way as in Process.
func Leaves(filters map[string]any) []Pair {
	var pairs []Pair
	for _, section := range Sections(filters) {
		flat := Flatten(section, ".")
		for _, key := range sortedKeys(flat) {
			name := key[strings.LastIndex(key, ".")+1:]
			for _, v := range leafValues(flat[key]) {
				pairs = append(pairs, Pair{Key: name, Value: v})
			}
		}
	}
	return pairs
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
