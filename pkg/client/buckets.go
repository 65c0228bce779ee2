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
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/abcxyz/pkg/logging"
	"github.com/chimefrb/workflow/pkg/work"
)

// Buckets is the client for the Buckets queue backend.
type Buckets struct {
	*Client
}

// NewBuckets creates a Buckets client.
func NewBuckets(ctx context.Context, opts *Options) (*Buckets, error) {
	c, err := New(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create buckets client: %w", err)
	}
	return &Buckets{Client: c}, nil
}

// WithdrawFilter selects which queued work a withdraw is allowed to
// return. Empty fields are omitted from the query.
type WithdrawFilter struct {
	Pipelines []string
	Site      string
	Priority  int
	User      string
	Event     []int64
	Tags      []string
	Parent    string
}

func (f *WithdrawFilter) query() (map[string]any, error) {
	if len(f.Pipelines) == 0 {
		return nil, fmt.Errorf("withdraw requires at least one pipeline")
	}
	query := make(map[string]any)
	if len(f.Pipelines) == 1 {
		query["pipeline"] = f.Pipelines[0]
	} else {
		query["pipeline"] = map[string]any{"$in": f.Pipelines}
	}
	if f.Site != "" {
		query["site"] = f.Site
	}
	if f.Priority != 0 {
		query["priority"] = f.Priority
	}
	if f.User != "" {
		query["user"] = f.User
	}
	if len(f.Event) > 0 {
		query["event"] = map[string]any{"$in": f.Event}
	}
	if len(f.Tags) > 0 {
		query["tags"] = map[string]any{"$in": f.Tags}
	}
	if f.Parent != "" {
		query["config.parent"] = f.Parent
	}
	return query, nil
}

// Deposit queues works. With returnIDs the server-assigned ids are
// returned in order; otherwise the returned slice is nil. Retried under
// the standard policy.
func (b *Buckets) Deposit(ctx context.Context, works []*work.Work, returnIDs bool) ([]string, error) {
	query := url.Values{"return_ids": []string{strconv.FormatBool(returnIDs)}}

	var ids []string
	if err := b.withRetry(ctx, func(ctx context.Context) error {
		if returnIDs {
			ids = nil
			return b.do(ctx, http.MethodPost, "/work", query, works, &ids)
		}
		var ok bool
		return b.do(ctx, http.MethodPost, "/work", query, works, &ok)
	}); err != nil {
		return nil, fmt.Errorf("failed to deposit works: %w", err)
	}
	return ids, nil
}

// Withdraw atomically dequeues one work matching the filter; the server
// marks it running and stamps start in the same transaction. A nil work
// with nil error means the queue is empty for the filter.
func (b *Buckets) Withdraw(ctx context.Context, filter *WithdrawFilter) (*work.Work, error) {
	query, err := filter.query()
	if err != nil {
		return nil, err
	}

	var payload json.RawMessage
	if err := b.do(ctx, http.MethodPost, "/work/withdraw", nil, query, &payload); err != nil {
		return nil, fmt.Errorf("failed to withdraw work: %w", err)
	}
	if len(payload) == 0 || string(payload) == "null" {
		return nil, nil
	}
	w, err := work.FromJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode withdrawn work: %w", err)
	}
	return w, nil
}

// Update persists works back to the queue. Retried under the standard
// policy.
func (b *Buckets) Update(ctx context.Context, works []*work.Work) error {
	if err := b.withRetry(ctx, func(ctx context.Context) error {
		var ok bool
		return b.do(ctx, http.MethodPut, "/work", nil, works, &ok)
	}); err != nil {
		return fmt.Errorf("failed to update works: %w", err)
	}
	return nil
}

// DeleteIDs removes works by id. Retried under the standard policy.
func (b *Buckets) DeleteIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := url.Values{"ids": ids}
	if err := b.withRetry(ctx, func(ctx context.Context) error {
		var ok bool
		return b.do(ctx, http.MethodDelete, "/work", query, nil, &ok)
	}); err != nil {
		return fmt.Errorf("failed to delete works: %w", err)
	}
	return nil
}

// ConfirmFunc asks the operator to approve a bulk deletion. It receives a
// human-readable summary of what is about to be removed.
type ConfirmFunc func(ctx context.Context, summary string) (bool, error)

// DeleteMany removes the works of a pipeline, optionally filtered by
// status and events. It is two-phase: matching ids are listed first, then
// deleted only after the operator confirms. force skips the prompt;
// without force a confirm func is mandatory.
func (b *Buckets) DeleteMany(ctx context.Context, pipeline, status string, events []int64, force bool, confirm ConfirmFunc) (int, error) {
	query := map[string]any{"pipeline": pipeline}
	if status != "" {
		query["status"] = status
	}
	if len(events) > 0 {
		query["event"] = map[string]any{"$in": events}
	}

	rows, err := b.View(ctx, query, map[string]any{"id": true}, 0, 0)
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		if id, ok := row["id"].(string); ok && id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if !force {
		if confirm == nil {
			return 0, fmt.Errorf("bulk delete requires confirmation or force")
		}
		summary := fmt.Sprintf("delete %d works from bucket %q (status=%s, events=%v)? This action cannot be undone.",
			len(ids), pipeline, orAny(status), events)
		ok, err := confirm(ctx, summary)
		if err != nil {
			return 0, fmt.Errorf("failed to confirm deletion: %w", err)
		}
		if !ok {
			logging.FromContext(ctx).InfoContext(ctx, "bulk delete aborted by operator", "pipeline", pipeline)
			return 0, nil
		}
	}

	if err := b.DeleteIDs(ctx, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// View queries works server-side; projection is applied by the server and
// the raw _id is always suppressed. A zero limit uses the server default
// of 100.
func (b *Buckets) View(ctx context.Context, query, projection map[string]any, skip, limit int) ([]map[string]any, error) {
	if projection == nil {
		projection = make(map[string]any)
	}
	projection["_id"] = false
	if limit == 0 {
		limit = 100
	}
	payload := map[string]any{
		"query":      query,
		"projection": projection,
		"skip":       skip,
		"limit":      limit,
	}

	var rows []map[string]any
	if err := b.do(ctx, http.MethodPost, "/view", nil, payload, &rows); err != nil {
		return nil, fmt.Errorf("failed to view works: %w", err)
	}
	return rows, nil
}

// Audit performs the three server-side sweeps in fixed order: requeue
// retryable failures, expire running work past its deadline, and mark work
// older than seven days as failed. Returns the per-sweep counts.
func (b *Buckets) Audit(ctx context.Context) (map[string]int, error) {
	sweeps := []struct {
		name string
		path string
	}{
		{"failed", "/audit/failed"},
		{"expired", "/audit/expired"},
		{"stale", "/audit/stale/7.0"},
	}

	counts := make(map[string]int, len(sweeps))
	for _, sweep := range sweeps {
		var count int
		if err := b.do(ctx, http.MethodGet, sweep.path, nil, nil, &count); err != nil {
			return nil, fmt.Errorf("failed to audit %s works: %w", sweep.name, err)
		}
		counts[sweep.name] = count
	}
	return counts, nil
}

// Status returns the queue status, scoped to one pipeline when named.
func (b *Buckets) Status(ctx context.Context, pipeline string) (map[string]any, error) {
	path := "/status"
	if pipeline != "" {
		path = "/status/details/" + pipeline
	}
	var status map[string]any
	if err := b.do(ctx, http.MethodGet, path, nil, nil, &status); err != nil {
		return nil, fmt.Errorf("failed to get buckets status: %w", err)
	}
	return status, nil
}

// Pipelines lists the pipelines currently present in the queue.
func (b *Buckets) Pipelines(ctx context.Context) ([]string, error) {
	var pipelines []string
	if err := b.do(ctx, http.MethodGet, "/status/pipelines", nil, nil, &pipelines); err != nil {
		return nil, fmt.Errorf("failed to list pipelines: %w", err)
	}
	return pipelines, nil
}

// Info returns the backend version document.
func (b *Buckets) Info(ctx context.Context) (map[string]any, error) {
	var info map[string]any
	if err := b.do(ctx, http.MethodGet, "/version", nil, nil, &info); err != nil {
		return nil, fmt.Errorf("failed to get buckets version: %w", err)
	}
	return info, nil
}

func orAny(s string) string {
	if s == "" {
		return "any"
	}
	return s
}
