// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"encoding/json"
	"fmt"

	"github.com/ConstellationAI/constellation/services/orchestrator/instructions"
	"github.com/ConstellationAI/constellation/services/orchestrator/ops"
	"github.com/ConstellationAI/constellation/services/orchestrator/plan"
)

const summaryLimit = 200

// Compile parses an instruction payload in any accepted form and builds its
// plan. Errors wrap the instructions package sentinels.
func (e *Engine) Compile(payload any) (*plan.Plan, error) {
	list, err := instructions.ParsePayload(payload, e.reg)
	if err != nil {
		return nil, err
	}
	return plan.Build(list)
}

// Summarize renders an op output for run records and logs.
func Summarize(out any) string {
	var s string
	switch v := out.(type) {
	case nil:
		return ""
	case string:
		s = v
	case []byte:
		return fmt.Sprintf("<%d bytes>", len(v))
	case map[string][]byte:
		return fmt.Sprintf("<%d files>", len(v))
	case ops.Table:
		return fmt.Sprintf("<table %d cols x %d rows>", len(v.Columns), len(v.Rows))
	default:
		b, err := json.Marshal(v)
		if err != nil {
			s = fmt.Sprintf("%v", v)
		} else {
			s = string(b)
		}
	}
	if len(s) > summaryLimit {
		s = s[:summaryLimit] + "..."
	}
	return s
}
