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

// Package daemon holds the periodic reconciliation loops that keep the
// Buckets queue healthy: the audit requeues and expires stuck work, and
// the transfer moves terminal work into long-term Results storage.
package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/abcxyz/pkg/logging"
	"github.com/chimefrb/workflow/pkg/client"
)

// DefaultInterval is the pause between daemon ticks.
const DefaultInterval = 5 * time.Second

// Audit periodically runs the queue maintenance sweeps.
type Audit struct {
	// Buckets is the queue under maintenance. Required.
	Buckets *client.Buckets

	// Interval is the pause between ticks; zero means DefaultInterval.
	Interval time.Duration
}

// Tick runs one round of sweeps and returns the per-sweep counts.
func (a *Audit) Tick(ctx context.Context) (map[string]int, error) {
	counts, err := a.Buckets.Audit(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit tick failed: %w", err)
	}
	return counts, nil
}

// Run ticks until the context is cancelled. Tick failures are logged and
// the loop keeps going.
func (a *Audit) Run(ctx context.Context) error {
	logger := logging.FromContext(ctx)
	if a.Buckets == nil {
		return fmt.Errorf("audit requires a buckets client")
	}
	interval := a.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		counts, err := a.Tick(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "audit tick failed", "error", err)
		} else {
			logger.InfoContext(ctx, "audit tick complete",
				"failed", counts["failed"],
				"expired", counts["expired"],
				"stale", counts["stale"])
		}

		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "audit daemon stopping")
			return nil
		case <-ticker.C:
		}
	}
}
