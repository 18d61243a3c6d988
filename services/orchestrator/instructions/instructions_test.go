// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package instructions

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapRegistry map[string]string

func (m mapRegistry) Lookup(name string) (string, bool) {
	c, ok := m[name]
	return c, ok
}

var testRegistry = mapRegistry{
	"mock_csv_data": "mock_csv_data",
	"math_block":    "math_block",
	"write_csv":     "write_csv",
	"export_to_gcs": "export_to_gcs",
	"export_to_s3":  "export_to_gcs",
	"dict_to_list":  "dict_to_list",
}

func decodeJSON(t *testing.T, s string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}

const writeCSVDoc = `{
  "operation": "write_csv",
  "parameters": {
    "result": {
      "operation": "math_block",
      "parameters": {
        "data": {"operation": "mock_csv_data", "parameters": {}},
        "operand": "add",
        "constant": 5
      }
    }
  }
}`

func TestParse_Nested(t *testing.T) {
	in, err := Parse(decodeJSON(t, writeCSVDoc).(map[string]any), testRegistry)
	require.NoError(t, err)

	assert.Equal(t, "write_csv", in.Operation)
	require.Len(t, in.Params, 1)
	result := in.Params[0]
	assert.Equal(t, ParamCall, result.Kind)

	math := result.Call
	assert.Equal(t, "math_block", math.Operation)
	names := []string{}
	for _, p := range math.Params {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"constant", "data", "operand"}, names)
	assert.Equal(t, ParamLiteral, math.Params[0].Kind)
	assert.Equal(t, 5.0, math.Params[0].Literal)
	assert.Equal(t, ParamCall, math.Params[1].Kind)
	assert.Equal(t, "add", math.Params[2].Literal)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"missing operation", `{"parameters": {}}`, ErrMissingOperation},
		{"unknown operation", `{"operation": "launch_rocket"}`, ErrUnknownOperation},
		{"nested unknown", `{"operation": "write_csv", "parameters": {"result": {"operation": "nope"}}}`, ErrUnknownOperation},
		{"bad parameters", `{"operation": "write_csv", "parameters": [1, 2]}`, ErrInvalid},
		{"non-string operation", `{"operation": 7}`, ErrInvalid},
		{"mixed list", `{"operation": "export_to_gcs", "parameters": {"inference_results": [{"operation": "mock_csv_data"}, 3]}}`, ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(decodeJSON(t, tt.doc).(map[string]any), testRegistry)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParse_AliasResolvesToCanonical(t *testing.T) {
	in, err := Parse(map[string]any{"operation": "export_to_s3"}, testRegistry)
	require.NoError(t, err)
	assert.Equal(t, "export_to_s3", in.Operation)
	assert.Equal(t, "export_to_gcs", in.Canonical)
}

func TestParse_NilRegistryAcceptsAnyOperation(t *testing.T) {
	in, err := Parse(map[string]any{"operation": "anything"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "anything", in.Canonical)
}

func TestParse_ListParameters(t *testing.T) {
	doc := `{"operation": "export_to_gcs", "parameters": {
	  "inference_results": [{"operation": "mock_csv_data"}, {"operation": "dict_to_list", "parameters": {"data": {"a": 1}}}],
	  "tags": ["x", "y"]
	}}`
	in, err := Parse(decodeJSON(t, doc).(map[string]any), testRegistry)
	require.NoError(t, err)

	require.Len(t, in.Params, 2)
	assert.Equal(t, ParamCallList, in.Params[0].Kind)
	assert.Len(t, in.Params[0].Calls, 2)
	assert.Equal(t, ParamLiteral, in.Params[1].Kind)
	assert.Equal(t, []any{"x", "y"}, in.Params[1].Literal)

	// dict_to_list's data is an object without operation, so a literal.
	dl := in.Params[0].Calls[1]
	assert.Equal(t, ParamLiteral, dl.Params[0].Kind)
}

func TestUnwrap(t *testing.T) {
	bare := decodeJSON(t, `{"operation": "mock_csv_data"}`)
	list := decodeJSON(t, `[{"operation": "mock_csv_data"}, {"operation": "write_csv"}]`)

	tests := []struct {
		name    string
		payload any
		wantLen int
		wantErr error
	}{
		{"bare instruction", bare, 1, nil},
		{"list", list, 2, nil},
		{"envelope body without ops key", Envelope([]any{bare})["ops"], 0, ErrMissingOperation},
		{"envelope with list", Envelope(list.([]any)), 2, nil},
		{"envelope with bare object", map[string]any{"ops": map[string]any{"generate_dynamic_job_configs": map[string]any{"config": map[string]any{"raw_input": bare}}}}, 1, nil},
		{"instructions key", map[string]any{"instructions": list}, 2, nil},
		{"broken envelope", map[string]any{"ops": map[string]any{"generate_dynamic_job_configs": map[string]any{}}}, 0, ErrInvalid},
		{"empty list", []any{}, 0, ErrInvalid},
		{"nil", nil, 0, ErrInvalid},
		{"string", "deploy it", 0, ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Unwrap(tt.payload)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, tt.wantLen)
		})
	}
}

func TestParsePayload_ListElementMustBeObject(t *testing.T) {
	_, err := ParsePayload([]any{map[string]any{"operation": "mock_csv_data"}, "oops"}, testRegistry)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestWalk_PreOrder(t *testing.T) {
	in, err := Parse(decodeJSON(t, writeCSVDoc).(map[string]any), testRegistry)
	require.NoError(t, err)

	var ops []string
	in.Walk(func(i *Instruction) { ops = append(ops, i.Operation) })

	assert.Equal(t, []string{"write_csv", "math_block", "mock_csv_data"}, ops)
}
