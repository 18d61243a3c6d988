// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package instructions parses the nested JSON job descriptions the
// orchestrator accepts.
//
// An instruction is an object with an "operation" name and optional
// "parameters". A parameter is a literal, another instruction, or a list of
// instructions:
//
//	{
//	  "operation": "write_csv",
//	  "parameters": {
//	    "result": {
//	      "operation": "math_block",
//	      "parameters": {
//	        "data": {"operation": "mock_csv_data", "parameters": {}},
//	        "operand": "add",
//	        "constant": 5
//	      }
//	    }
//	  }
//	}
//
// Payloads may also arrive as a list of such objects, or wrapped in the
// legacy job envelope
// {"ops":{"generate_dynamic_job_configs":{"config":{"raw_input": ...}}}}.
// Unwrap normalizes all three forms to a list.
package instructions

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrMissingOperation = errors.New("operation not found in instruction")
	ErrUnknownOperation = errors.New("operation is not defined")
	ErrInvalid          = errors.New("invalid instructions")
)

// Registry resolves an operation name to its canonical registered name.
// ops.Registry implements it.
type Registry interface {
	Lookup(name string) (canonical string, ok bool)
}

// ParamKind tells which field of a Param is set.
type ParamKind int

const (
	ParamLiteral ParamKind = iota
	ParamCall
	ParamCallList
)

// Param is one named parameter of an instruction.
type Param struct {
	Name    string
	Kind    ParamKind
	Literal any
	Call    *Instruction
	Calls   []*Instruction
}

// Instruction is a parsed operation call.
type Instruction struct {
	// Operation is the name as written in the payload.
	Operation string
	// Canonical is the registered op the name resolves to.
	Canonical string
	// Params are sorted by name.
	Params []Param
}

// Parse parses one instruction object.
//
// # Description
//
// Parameters whose value is an object containing "operation" are parsed
// recursively. Lists whose elements are all instruction objects become call
// lists; lists mixing instructions and literals are rejected. Everything else
// is kept as a literal. Parameter names are visited in sorted order so that
// parsing the same document always yields the same tree.
//
// # Inputs
//
//   - raw: The decoded JSON object.
//   - reg: Resolves operation names. Nil accepts any name as canonical.
//
// # Outputs
//
//   - *Instruction: The parsed tree.
//   - error: Wraps ErrMissingOperation, ErrUnknownOperation or ErrInvalid.
func Parse(raw map[string]any, reg Registry) (*Instruction, error) {
	return parse(raw, reg, "$")
}

// ParseList parses the list form, element by element.
func ParseList(raw []any, reg Registry) ([]*Instruction, error) {
	out := make([]*Instruction, 0, len(raw))
	for i, item := range raw {
		path := fmt.Sprintf("$[%d]", i)
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s is %T, want an instruction object", ErrInvalid, path, item)
		}
		in, err := parse(obj, reg, path)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, nil
}

// ParsePayload unwraps payload and parses every instruction in it.
func ParsePayload(payload any, reg Registry) ([]*Instruction, error) {
	list, err := Unwrap(payload)
	if err != nil {
		return nil, err
	}
	return ParseList(list, reg)
}

// Unwrap accepts the job envelope, a bare instruction, or a list of
// instructions and returns the list form. An empty list is an error.
func Unwrap(payload any) ([]any, error) {
	switch v := payload.(type) {
	case []any:
		if len(v) == 0 {
			return nil, fmt.Errorf("%w: empty instruction list", ErrInvalid)
		}
		return v, nil
	case map[string]any:
		if _, ok := v["operation"]; ok {
			return []any{v}, nil
		}
		if ops, ok := v["ops"]; ok {
			raw, err := rawInput(ops)
			if err != nil {
				return nil, err
			}
			return Unwrap(raw)
		}
		if inner, ok := v["instructions"]; ok {
			return Unwrap(inner)
		}
		return nil, fmt.Errorf("%w: object has neither operation nor ops", ErrMissingOperation)
	case nil:
		return nil, fmt.Errorf("%w: no instructions", ErrInvalid)
	default:
		return nil, fmt.Errorf("%w: unexpected %T", ErrInvalid, payload)
	}
}

// Envelope wraps instructions in the legacy job envelope.
func Envelope(list []any) map[string]any {
	return map[string]any{
		"ops": map[string]any{
			"generate_dynamic_job_configs": map[string]any{
				"config": map[string]any{"raw_input": list},
			},
		},
	}
}

func rawInput(ops any) (any, error) {
	cur := ops
	for _, key := range []string{"generate_dynamic_job_configs", "config", "raw_input"} {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: envelope is missing %q", ErrInvalid, key)
		}
		if cur, ok = m[key]; !ok {
			return nil, fmt.Errorf("%w: envelope is missing %q", ErrInvalid, key)
		}
	}
	return cur, nil
}

func parse(raw map[string]any, reg Registry, path string) (*Instruction, error) {
	opVal, ok := raw["operation"]
	if !ok {
		return nil, fmt.Errorf("%w at %s", ErrMissingOperation, path)
	}
	op, ok := opVal.(string)
	if !ok || op == "" {
		return nil, fmt.Errorf("%w at %s: operation must be a non-empty string", ErrInvalid, path)
	}

	canonical := op
	if reg != nil {
		if canonical, ok = reg.Lookup(op); !ok {
			return nil, fmt.Errorf("%w: %q at %s", ErrUnknownOperation, op, path)
		}
	}

	in := &Instruction{Operation: op, Canonical: canonical}

	var params map[string]any
	switch p := raw["parameters"].(type) {
	case nil:
	case map[string]any:
		params = p
	default:
		return nil, fmt.Errorf("%w at %s: parameters must be an object, got %T", ErrInvalid, path, p)
	}

	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, name := range names {
		p, err := parseParam(name, params[name], reg, path+".parameters."+name)
		if err != nil {
			return nil, err
		}
		in.Params = append(in.Params, p)
	}
	return in, nil
}

func parseParam(name string, value any, reg Registry, path string) (Param, error) {
	switch v := value.(type) {
	case map[string]any:
		if _, ok := v["operation"]; ok {
			call, err := parse(v, reg, path)
			if err != nil {
				return Param{}, err
			}
			return Param{Name: name, Kind: ParamCall, Call: call}, nil
		}
	case []any:
		calls, isCalls, err := parseCallList(v, reg, path)
		if err != nil {
			return Param{}, err
		}
		if isCalls {
			return Param{Name: name, Kind: ParamCallList, Calls: calls}, nil
		}
	}
	return Param{Name: name, Kind: ParamLiteral, Literal: value}, nil
}

// parseCallList reports isCalls=false for a list without any instruction
// object, which is then a literal.
func parseCallList(list []any, reg Registry, path string) ([]*Instruction, bool, error) {
	var calls []*Instruction
	literals := 0
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			literals++
			continue
		}
		if _, ok := obj["operation"]; !ok {
			literals++
			continue
		}
		call, err := parse(obj, reg, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, false, err
		}
		calls = append(calls, call)
	}
	switch {
	case len(calls) == 0:
		return nil, false, nil
	case literals > 0:
		return nil, false, fmt.Errorf("%w at %s: list mixes instructions and literals", ErrInvalid, path)
	}
	return calls, true, nil
}

// Walk visits in and its nested calls in pre-order.
func (in *Instruction) Walk(fn func(*Instruction)) {
	fn(in)
	for _, p := range in.Params {
		switch p.Kind {
		case ParamCall:
			p.Call.Walk(fn)
		case ParamCallList:
			for _, c := range p.Calls {
				c.Walk(fn)
			}
		}
	}
}
