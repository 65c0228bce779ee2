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

// Package lifecycle runs withdrawn work to completion: execute, archive,
// notify and report back to the queue. The loop survives every per-work
// failure; only context cancellation stops it.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/abcxyz/pkg/logging"
	"github.com/chimefrb/workflow/pkg/archive"
	"github.com/chimefrb/workflow/pkg/client"
	"github.com/chimefrb/workflow/pkg/work"
	"github.com/chimefrb/workflow/pkg/workspace"
)

const (
	// DefaultSleep is the pause between attempts when the queue is empty
	// or a withdraw fails.
	DefaultSleep = 30 * time.Second

	// MinSleep and MaxSleep bound the between-attempt pause.
	MinSleep = 1 * time.Second
	MaxSleep = 300 * time.Second
)

// Lifecycle is one worker: it withdraws work matching its filter and runs
// each through execute, archive, notify and update.
type Lifecycle struct {
	// Buckets reports to the queue. Required.
	Buckets *client.Buckets

	// Workspace scopes archive mounts and policies.
	Workspace *workspace.Workspace

	// Archiver materializes artifacts after execution.
	Archiver *archive.Archiver

	// Registry resolves work functions. Required for function work.
	Registry *Registry

	// Notifier posts completion messages; nil disables notifications.
	Notifier Notifier

	// Filter selects the work this worker is willing to run.
	Filter client.WithdrawFilter

	// Function, when set, replaces the function of every withdrawn work.
	Function string

	// Command, when set, replaces the command of every withdrawn work.
	Command []string

	// Lives caps how many works are attempted; negative means unlimited.
	Lives int

	// Sleep is the pause between attempts when nothing was withdrawn.
	Sleep time.Duration

	// MaxLoad skips withdrawing while the 1-minute load average exceeds
	// it; zero disables the guard.
	MaxLoad float64
}

// Run withdraws and attempts work until the context is cancelled or the
// lives budget is spent. Returns the number of works attempted.
func (l *Lifecycle) Run(ctx context.Context) (int, error) {
	logger := logging.FromContext(ctx)
	if l.Buckets == nil {
		return 0, fmt.Errorf("lifecycle requires a buckets client")
	}
	sleep := clampSleep(l.Sleep)

	// Worker identity for tracing one loop across a fleet's logs.
	worker := uuid.New().String()
	logger.InfoContext(ctx, "worker starting",
		"worker", worker,
		"pipelines", l.Filter.Pipelines,
		"lives", l.Lives)

	attempted := 0
	for l.Lives != 0 {
		if err := ctx.Err(); err != nil {
			logger.InfoContext(ctx, "worker stopping", "worker", worker, "attempted", attempted)
			return attempted, nil
		}

		if load, overloaded := l.overloaded(); overloaded {
			logger.WarnContext(ctx, "worker overloaded, holding off",
				"load", load,
				"max_load", l.MaxLoad)
			if err := sleepContext(ctx, sleep); err != nil {
				return attempted, nil
			}
			continue
		}

		w, err := l.Buckets.Withdraw(ctx, &l.Filter)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return attempted, nil
			}
			logger.WarnContext(ctx, "failed to withdraw work", "error", err)
			if err := sleepContext(ctx, sleep); err != nil {
				return attempted, nil
			}
			continue
		}
		if w == nil {
			logger.DebugContext(ctx, "no work available", "pipelines", l.Filter.Pipelines)
			if err := sleepContext(ctx, sleep); err != nil {
				return attempted, nil
			}
			continue
		}

		l.Attempt(ctx, w)
		attempted++
		if l.Lives > 0 {
			l.Lives--
		}
	}
	logger.InfoContext(ctx, "worker lives spent", "worker", worker, "attempted", attempted)
	return attempted, nil
}

// Attempt runs one withdrawn work to completion and reports it back. Every
// stage failure is absorbed: the work always goes back to the queue with a
// terminal status, even when the surrounding context is already cancelled.
func (l *Lifecycle) Attempt(ctx context.Context, w *work.Work) {
	logger := logging.FromContext(ctx)
	logger.InfoContext(ctx, "work withdrawn",
		"id", w.ID,
		"pipeline", w.Pipeline,
		"attempt", w.Attempt)

	// Static overloads force every withdrawn work through one entrypoint.
	if l.Function != "" {
		w.Function, w.Command = l.Function, nil
	} else if len(l.Command) > 0 {
		w.Command, w.Function = l.Command, ""
	}

	Execute(ctx, w, l.Registry)
	clampResults(ctx, w)

	if l.Archiver != nil && l.Workspace != nil {
		l.Archiver.Run(ctx, w, l.Workspace)
	}

	if l.Notifier != nil {
		if err := l.Notifier.Notify(ctx, w); err != nil {
			logger.WarnContext(ctx, "failed to notify", "id", w.ID, "error", err)
		}
	}

	// The update must land even when the worker is shutting down, or the
	// work stays running until the audit expires it.
	updateCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()
	if err := l.Buckets.Update(updateCtx, []*work.Work{w}); err != nil {
		logger.ErrorContext(ctx, "failed to report work", "id", w.ID, "error", err)
	}
}

// clampSleep bounds the between-attempt pause to [MinSleep, MaxSleep];
// unset means DefaultSleep.
func clampSleep(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultSleep
	case d < MinSleep:
		return MinSleep
	case d > MaxSleep:
		return MaxSleep
	}
	return d
}

// overloaded samples the 1-minute load average when a guard is set.
func (l *Lifecycle) overloaded() (float64, bool) {
	if l.MaxLoad <= 0 {
		return 0, false
	}
	load, err := loadAverage()
	if err != nil {
		return 0, false
	}
	return load, load > l.MaxLoad
}

func loadAverage() (float64, error) {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, fmt.Errorf("failed to read load average: %w", err)
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty load average")
	}
	load, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse load average: %w", err)
	}
	return load, nil
}
