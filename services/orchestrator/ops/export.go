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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoUploader is returned by export_to_gcs when no bucket is configured.
var ErrNoUploader = errors.New("no export bucket configured")

// ExportPath is the object path results of alias are written to.
func ExportPath(runID, alias string) string {
	return fmt.Sprintf("exports/%s/%s.json", runID, objectSafe(alias))
}

// objectSafe turns "export_to_s3 (2)" into "export_to_s3_2".
func objectSafe(alias string) string {
	var b strings.Builder
	for _, r := range alias {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('_')
		}
	}
	return b.String()
}

func exportToGCS(ctx context.Context, oc OpContext, in Inputs) (any, error) {
	if oc.Uploader == nil {
		return nil, ErrNoUploader
	}
	body, err := json.MarshalIndent(in["inference_results"], "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export_to_gcs: encode results: %w", err)
	}
	uri, err := oc.Uploader.Upload(ctx, ExportPath(oc.RunID, oc.Alias), "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("export_to_gcs: %w", err)
	}
	oc.logger().Info("results exported", "alias", oc.Alias, "uri", uri)
	return uri, nil
}
