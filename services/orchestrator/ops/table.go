// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ops

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Table is a small numeric frame passed between the tabular ops.
type Table struct {
	Columns []string    `json:"columns"`
	Rows    [][]float64 `json:"rows"`
}

func mockCSVData(_ context.Context, oc OpContext, _ Inputs) (any, error) {
	t := Table{
		Columns: []string{"column1", "column2", "column3"},
		Rows:    [][]float64{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}},
	}
	oc.logger().Debug("mock data created", "alias", oc.Alias, "rows", len(t.Rows))
	return t, nil
}

func writeCSV(ctx context.Context, oc OpContext, in Inputs) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := asTable(in["result"])
	if err != nil {
		return nil, fmt.Errorf("write_csv: result: %w", err)
	}

	dir := oc.WorkDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("write_csv: %w", err)
	}
	path := filepath.Join(dir, "output.csv")
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("write_csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(t.Columns); err != nil {
		return nil, fmt.Errorf("write_csv: %w", err)
	}
	for _, row := range t.Rows {
		rec := make([]string, len(row))
		for i, v := range row {
			rec[i] = strconv.FormatFloat(v, 'f', -1, 64)
		}
		if err := w.Write(rec); err != nil {
			return nil, fmt.Errorf("write_csv: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("write_csv: %w", err)
	}

	oc.logger().Info("data written", "alias", oc.Alias, "path", path)
	return path, nil
}

func mathBlock(_ context.Context, _ OpContext, in Inputs) (any, error) {
	t, err := asTable(in["data"])
	if err != nil {
		return nil, fmt.Errorf("math_block: data: %w", err)
	}
	operand, ok := in["operand"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: math_block operand must be a string", ErrBadInput)
	}
	constant, err := asFloat(in["constant"])
	if err != nil {
		return nil, fmt.Errorf("math_block: constant: %w", err)
	}

	var apply func(float64) float64
	switch operand {
	case "add":
		apply = func(v float64) float64 { return v + constant }
	case "sub":
		apply = func(v float64) float64 { return v - constant }
	case "mul":
		apply = func(v float64) float64 { return v * constant }
	case "truediv":
		if constant == 0 {
			return nil, fmt.Errorf("%w: math_block division by zero", ErrBadInput)
		}
		apply = func(v float64) float64 { return v / constant }
	default:
		return nil, fmt.Errorf("%w: math_block operand %q", ErrBadInput, operand)
	}

	out := Table{Columns: append([]string(nil), t.Columns...), Rows: make([][]float64, len(t.Rows))}
	for i, row := range t.Rows {
		out.Rows[i] = make([]float64, len(row))
		for j, v := range row {
			out.Rows[i][j] = apply(v)
		}
	}
	return out, nil
}

// asTable accepts a Table or its decoded JSON form.
func asTable(v any) (Table, error) {
	switch t := v.(type) {
	case Table:
		return t, nil
	case *Table:
		if t == nil {
			return Table{}, fmt.Errorf("%w: nil table", ErrBadInput)
		}
		return *t, nil
	case map[string]any:
		var out Table
		cols, _ := t["columns"].([]any)
		for _, c := range cols {
			s, ok := c.(string)
			if !ok {
				return Table{}, fmt.Errorf("%w: column name %v", ErrBadInput, c)
			}
			out.Columns = append(out.Columns, s)
		}
		rows, _ := t["rows"].([]any)
		for _, r := range rows {
			cells, ok := r.([]any)
			if !ok {
				return Table{}, fmt.Errorf("%w: row %v", ErrBadInput, r)
			}
			row := make([]float64, 0, len(cells))
			for _, c := range cells {
				f, err := asFloat(c)
				if err != nil {
					return Table{}, err
				}
				row = append(row, f)
			}
			out.Rows = append(out.Rows, row)
		}
		return out, nil
	default:
		return Table{}, fmt.Errorf("%w: want a table, got %T", ErrBadInput, v)
	}
}

func asFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrBadInput, n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: want a number, got %T", ErrBadInput, v)
	}
}
