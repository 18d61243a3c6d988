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
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
)

// maxDownloadBytes caps a Drive download.
const maxDownloadBytes = 512 << 20

// Limits on what an archive may expand to.
const (
	maxExtractBytes = 2 << 30
	maxArchiveFiles = 10_000
)

// ErrArchiveTooLarge is returned when an archive expands past its limits.
var ErrArchiveTooLarge = errors.New("archive too large")

func importFromGoogleDrive(ctx context.Context, oc OpContext, in Inputs) (any, error) {
	fileID, ok := in["file_id"].(string)
	if !ok || fileID == "" {
		return nil, fmt.Errorf("%w: import_from_google_drive file_id must be a non-empty string", ErrBadInput)
	}

	base := oc.DriveURL
	if base == "" {
		base = DefaultDriveURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("import_from_google_drive: drive url: %w", err)
	}
	q := u.Query()
	q.Set("id", fileID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := oc.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("import_from_google_drive: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("import_from_google_drive: download failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("import_from_google_drive: read: %w", err)
	}
	if len(body) > maxDownloadBytes {
		return nil, fmt.Errorf("import_from_google_drive: archive exceeds %d bytes", maxDownloadBytes)
	}

	files, err := unzip(body, maxExtractBytes)
	if err != nil {
		return nil, fmt.Errorf("import_from_google_drive: %w", err)
	}
	oc.logger().Info("downloaded archive", "alias", oc.Alias, "file_id", fileID, "files", len(files))
	return files, nil
}

// unzip returns the regular files of a zip archive keyed by their path. The
// decompressed total may not exceed limit bytes; declared sizes are not
// trusted.
func unzip(data []byte, limit int64) (map[string][]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	if len(zr.File) > maxArchiveFiles {
		return nil, fmt.Errorf("%w: %d entries, at most %d", ErrArchiveTooLarge, len(zr.File), maxArchiveFiles)
	}
	files := make(map[string][]byte, len(zr.File))
	remaining := limit
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		b, err := io.ReadAll(io.LimitReader(rc, remaining+1))
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		if int64(len(b)) > remaining {
			return nil, fmt.Errorf("%w: expands past %d bytes at %s", ErrArchiveTooLarge, limit, f.Name)
		}
		remaining -= int64(len(b))
		files[f.Name] = b
	}
	return files, nil
}

func dictToList(_ context.Context, _ OpContext, in Inputs) (any, error) {
	switch m := in["data"].(type) {
	case map[string][]byte:
		return sortedValues(m), nil
	case map[string]any:
		return sortedValues(m), nil
	case map[string]string:
		return sortedValues(m), nil
	default:
		return nil, fmt.Errorf("%w: dict_to_list data must be an object, got %T", ErrBadInput, in["data"])
	}
}

func sortedValues[V any](m map[string]V) []any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}
