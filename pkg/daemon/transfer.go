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

package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/abcxyz/pkg/logging"
	"github.com/chimefrb/workflow/pkg/client"
	"github.com/chimefrb/workflow/pkg/work"
)

const (
	// CutoffSeconds is how long terminal work may linger in the queue
	// before the transfer removes it regardless of outcome.
	CutoffSeconds = 7 * 86400

	// batchLimit caps how many rows each query moves per tick.
	batchLimit = 1000
)

// Transfer periodically drains terminal work out of the queue: rows whose
// config asks for results archival are deposited into Results first, the
// rest are deleted outright.
type Transfer struct {
	// Buckets is the queue being drained. Required.
	Buckets *client.Buckets

	// Results receives transferred rows; nil turns every row into a
	// delete-only row.
	Results *client.Results

	// Archive mirrors the workspace archival switch (config.archive.results).
	// When false no row is transferred, whatever its own config says.
	Archive bool

	// Interval is the pause between ticks; zero means DefaultInterval.
	Interval time.Duration

	// Limit caps how many rows each query moves per tick; zero means
	// batchLimit.
	Limit int

	// Cutoff is the age past which terminal work is deleted regardless of
	// outcome; zero means CutoffSeconds.
	Cutoff time.Duration
}

// Tick runs one transfer round and returns the transferred and deleted
// counts.
func (t *Transfer) Tick(ctx context.Context) (map[string]int, error) {
	logger := logging.FromContext(ctx)

	limit := t.Limit
	if limit <= 0 {
		limit = batchLimit
	}
	cutoffAge := t.Cutoff.Seconds()
	if cutoffAge <= 0 {
		cutoffAge = CutoffSeconds
	}
	cutoff := work.Now() - cutoffAge

	// Exhausted failures older than the cutoff fall through to the stale
	// sweep, which needs no results transfer.
	queries := []map[string]any{
		{"status": string(work.StatusSuccess)},
		{
			"status":   string(work.StatusFailure),
			"$expr":    map[string]any{"$gte": []any{"$attempt", "$retries"}},
			"creation": map[string]any{"$gt": cutoff},
		},
		{"creation": map[string]any{"$lt": cutoff}},
	}

	var toTransfer []map[string]any
	var deleteIDs []string
	for i, query := range queries {
		rows, err := t.Buckets.View(ctx, query, nil, 0, limit)
		if err != nil {
			return nil, fmt.Errorf("transfer query %d failed: %w", i, err)
		}
		stale := i == len(queries)-1
		for _, row := range rows {
			id, _ := row["id"].(string)
			if id == "" {
				continue
			}
			if !stale && t.Archive && t.Results != nil && wantsResults(row) {
				toTransfer = append(toTransfer, row)
				continue
			}
			deleteIDs = append(deleteIDs, id)
		}
	}

	transferred := 0
	if len(toTransfer) > 0 {
		if err := t.Results.Deposit(ctx, toTransfer); err != nil {
			logger.ErrorContext(ctx, "failed to deposit results batch, checking per work", "error", err)
			// Sort out which rows made it: confirmed rows are deleted, the
			// rest get one redeposit before staying queued for the next tick.
			var missing []map[string]any
			for _, row := range toTransfer {
				id, _ := row["id"].(string)
				pipeline, _ := row["pipeline"].(string)
				ok, err := t.Results.Exists(ctx, pipeline, id)
				if err != nil {
					continue
				}
				if !ok {
					missing = append(missing, row)
					continue
				}
				deleteIDs = append(deleteIDs, id)
				transferred++
			}
			if len(missing) > 0 {
				if err := t.Results.Deposit(ctx, missing); err != nil {
					logger.ErrorContext(ctx, "failed to redeposit missing works, leaving them queued",
						"count", len(missing),
						"error", err)
				} else {
					for _, row := range missing {
						if id, _ := row["id"].(string); id != "" {
							deleteIDs = append(deleteIDs, id)
							transferred++
						}
					}
				}
			}
		} else {
			for _, row := range toTransfer {
				if id, _ := row["id"].(string); id != "" {
					deleteIDs = append(deleteIDs, id)
				}
			}
			transferred = len(toTransfer)
		}
	}

	if err := t.Buckets.DeleteIDs(ctx, deleteIDs); err != nil {
		return nil, fmt.Errorf("failed to delete transferred works: %w", err)
	}

	// The count key spelling is part of the queue contract.
	return map[string]int{
		"transfered": transferred,
		"deleted":    len(deleteIDs),
	}, nil
}

// Run ticks until the context is cancelled. Tick failures are logged and
// the loop keeps going.
func (t *Transfer) Run(ctx context.Context) error {
	logger := logging.FromContext(ctx)
	if t.Buckets == nil {
		return fmt.Errorf("transfer requires a buckets client")
	}
	interval := t.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	// Backend availability preflight; a failure here is worth a warning
	// but the loop still starts, the backends may come up later.
	if info, err := t.Buckets.Info(ctx); err != nil {
		logger.WarnContext(ctx, "buckets backend unavailable", "error", err)
	} else {
		logger.DebugContext(ctx, "buckets backend reachable", "version", info["version"])
	}
	if t.Results != nil {
		if info, err := t.Results.Info(ctx); err != nil {
			logger.WarnContext(ctx, "results backend unavailable", "error", err)
		} else {
			logger.DebugContext(ctx, "results backend reachable", "version", info["version"])
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		counts, err := t.Tick(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "transfer tick failed", "error", err)
		} else {
			logger.InfoContext(ctx, "transfer tick complete",
				"transfered", counts["transfered"],
				"deleted", counts["deleted"])
		}

		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "transfer daemon stopping")
			return nil
		case <-ticker.C:
		}
	}
}

// wantsResults reads config.archive.results off a raw queue row.
func wantsResults(row map[string]any) bool {
	config, ok := row["config"].(map[string]any)
	if !ok {
		return false
	}
	arch, ok := config["archive"].(map[string]any)
	if !ok {
		return false
	}
	results, ok := arch["results"].(bool)
	return ok && results
}
