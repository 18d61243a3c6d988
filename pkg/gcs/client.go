// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gcs uploads artifacts (run exports, model build contexts) to
// Google Cloud Storage, with a local-directory fallback for development.
package gcs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Uploader writes an object and returns its URI.
type Uploader interface {
	Upload(ctx context.Context, objectPath, contentType string, r io.Reader) (string, error)
}

// Client uploads to a single GCS bucket.
type Client struct {
	storageClient *storage.Client
	BucketName    string
}

// NewClient creates a bucket client.
//
// # Inputs
//
//   - bucketName: Target bucket, e.g. "constellation-artifacts".
//   - credentialsFile: Service-account JSON path. Empty uses Application
//     Default Credentials.
//   - opts: Extra client options (tests pass option.WithEndpoint).
func NewClient(ctx context.Context, bucketName, credentialsFile string, opts ...option.ClientOption) (*Client, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("gcs: bucket name is required")
	}
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); err != nil {
			return nil, fmt.Errorf("gcs: credentials file %s: %w", credentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	storageClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: create storage client: %w", err)
	}
	return &Client{storageClient: storageClient, BucketName: bucketName}, nil
}

// Upload streams r to gs://<bucket>/<objectPath>.
func (c *Client) Upload(ctx context.Context, objectPath, contentType string, r io.Reader) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	writer := c.storageClient.Bucket(c.BucketName).Object(objectPath).NewWriter(ctx)
	writer.ContentType = contentType
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(writer, r); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("gcs: copy to %s: %w", objectPath, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("gcs: close writer for %s: %w", objectPath, err)
	}

	uri := URI(c.BucketName, objectPath)
	slog.Info("uploaded object", "uri", uri)
	return uri, nil
}

// Close releases the underlying client.
func (c *Client) Close() error {
	return c.storageClient.Close()
}

// DirUploader writes objects below a local directory. Used when no bucket is
// configured.
type DirUploader struct {
	Root string
}

// Upload writes r to <Root>/<objectPath> and returns a file:// URI.
func (d *DirUploader) Upload(ctx context.Context, objectPath, _ string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean := path.Clean("/" + objectPath)
	target := filepath.Join(d.Root, filepath.FromSlash(strings.TrimPrefix(clean, "/")))
	if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
		return "", fmt.Errorf("gcs: create %s: %w", filepath.Dir(target), err)
	}

	f, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("gcs: create %s: %w", target, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("gcs: write %s: %w", target, err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	abs, err := filepath.Abs(target)
	if err != nil {
		abs = target
	}
	return "file://" + filepath.ToSlash(abs), nil
}

// URI formats gs://bucket/object.
func URI(bucket, objectPath string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, strings.TrimPrefix(objectPath, "/"))
}

var (
	_ Uploader = (*Client)(nil)
	_ Uploader = (*DirUploader)(nil)
)
