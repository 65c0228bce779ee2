// Copyright 2024 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package client

import (
	"context"
	"fmt"
	"net/http"
)

// Results is the client for the long-term Results backend.
type Results struct {
	*Client
}

// NewResults creates a Results client.
func NewResults(ctx context.Context, opts *Options) (*Results, error) {
	c, err := New(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create results client: %w", err)
	}
	return &Results{Client: c}, nil
}

// Deposit stores terminal works. The payload rows are passed through
// untouched so server-owned fields survive the transfer. Retried under
// the standard policy.
func (r *Results) Deposit(ctx context.Context, works []map[string]any) error {
	if err := r.withRetry(ctx, func(ctx context.Context) error {
		var reply map[string]any
		return r.do(ctx, http.MethodPost, "/deposit", nil, works, &reply)
	}); err != nil {
		return fmt.Errorf("failed to deposit results: %w", err)
	}
	return nil
}

// View queries stored results.
func (r *Results) View(ctx context.Context, query, projection map[string]any) ([]map[string]any, error) {
	payload := map[string]any{"query": query}
	if projection != nil {
		payload["projection"] = projection
	}
	var rows []map[string]any
	if err := r.do(ctx, http.MethodPost, "/view", nil, payload, &rows); err != nil {
		return nil, fmt.Errorf("failed to view results: %w", err)
	}
	return rows, nil
}

// Exists reports whether a result with the given pipeline and work id is
// already stored.
func (r *Results) Exists(ctx context.Context, pipeline, id string) (bool, error) {
	rows, err := r.View(ctx,
		map[string]any{"pipeline": pipeline, "id": id},
		map[string]any{"id": true})
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// Count returns counts by pipeline.
func (r *Results) Count(ctx context.Context) (map[string]any, error) {
	var counts map[string]any
	if err := r.do(ctx, http.MethodGet, "/status", nil, nil, &counts); err != nil {
		return nil, fmt.Errorf("failed to count results: %w", err)
	}
	return counts, nil
}

// Info returns the backend version document.
func (r *Results) Info(ctx context.Context) (map[string]any, error) {
	var info map[string]any
	if err := r.do(ctx, http.MethodGet, "/version", nil, nil, &info); err != nil {
		return nil, fmt.Errorf("failed to get results version: %w", err)
	}
	return info, nil
}
