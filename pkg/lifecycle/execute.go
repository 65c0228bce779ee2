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

package lifecycle

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/abcxyz/pkg/logging"
	"github.com/chimefrb/workflow/pkg/work"
)

// waitDelay bounds how long a command's pipes are drained after its
// context is cancelled before the process is abandoned.
const waitDelay = 10 * time.Second

// Execute runs the work's function or command under its declared timeout
// and fills in the result surface, stop stamp and final status. Execution
// failures never escape: they are recorded on the work as a failure and
// logged.
func Execute(ctx context.Context, w *work.Work, reg *Registry) {
	logger := logging.FromContext(ctx)

	if w.Start == 0 {
		w.Start = work.Now()
	}

	deadline := time.Duration(w.Timeout) * time.Second
	execCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	var outcome *Outcome
	err := validateRunnable(w, reg)
	if err == nil {
		if w.Function != "" {
			outcome, err = runFunction(execCtx, w, reg)
		} else {
			outcome, err = runCommand(execCtx, w)
		}
	}

	w.Stop = work.Now()

	// The in-process timeout can be missed when a function ignores its
	// context; the wall clock is authoritative.
	elapsed := w.Stop - w.Start
	if err == nil && elapsed > float64(w.Timeout) {
		logger.ErrorContext(ctx, "work exceeded its timeout",
			"id", w.ID,
			"pipeline", w.Pipeline,
			"elapsed", elapsed,
			"timeout", w.Timeout)
		w.Status = work.StatusFailure
		mergeOutcome(w, outcome)
		return
	}

	if err != nil {
		logger.ErrorContext(ctx, "work execution failed",
			"id", w.ID,
			"pipeline", w.Pipeline,
			"function", w.Function,
			"command", strings.Join(w.Command, " "),
			"error", err)
		w.Status = work.StatusFailure
		if w.Results == nil {
			w.Results = map[string]any{"error": err.Error()}
		} else {
			w.Results["error"] = err.Error()
		}
		mergeOutcome(w, outcome)
		return
	}

	w.Status = work.StatusSuccess
	mergeOutcome(w, outcome)
	logger.InfoContext(ctx, "work executed",
		"id", w.ID,
		"pipeline", w.Pipeline,
		"status", w.Status,
		"elapsed", elapsed)
}

func runFunction(ctx context.Context, w *work.Work, reg *Registry) (*Outcome, error) {
	fn, err := reg.Resolve(w.Function)
	if err != nil {
		return nil, err
	}
	raw, err := fn(ctx, w.Parameters)
	if err != nil {
		return nil, err
	}
	return normalizeOutcome(raw)
}

// runCommand executes the work's command in its own process group so the
// whole tree dies on timeout. The last stdout line is parsed as a JSON
// outcome; anything else yields a synthesized results mapping carrying
// the captured streams.
func runCommand(ctx context.Context, w *work.Work) (*Outcome, error) {
	logger := logging.FromContext(ctx)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, w.Command[0], w.Command[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL) //nolint:wrapcheck
	}
	cmd.WaitDelay = waitDelay

	runErr := cmd.Run()
	returncode := -1
	if cmd.ProcessState != nil {
		returncode = cmd.ProcessState.ExitCode()
	}

	if line := lastLine(stdout.Bytes()); len(line) > 0 {
		if outcome, err := parseOutcome(line); err == nil {
			if runErr != nil {
				return outcome, runErr //nolint:wrapcheck
			}
			return outcome, nil
		} else {
			logger.DebugContext(ctx, "stdout is not a structured outcome",
				"id", w.ID,
				"error", err)
		}
	}

	outcome := &Outcome{Results: map[string]any{
		"args":       w.Command,
		"stdout":     stdout.String(),
		"stderr":     stderr.String(),
		"returncode": returncode,
	}}
	if runErr != nil {
		return outcome, runErr //nolint:wrapcheck
	}
	return outcome, nil
}

// mergeOutcome folds an outcome into the work: results merge key-wise and
// artifact paths append.
func mergeOutcome(w *work.Work, outcome *Outcome) {
	if outcome == nil {
		return
	}
	if len(outcome.Results) > 0 {
		if w.Results == nil {
			w.Results = make(map[string]any, len(outcome.Results))
		}
		for k, v := range outcome.Results {
			w.Results[k] = v
		}
	}
	w.Products = append(w.Products, outcome.Products...)
	w.Plots = append(w.Plots, outcome.Plots...)
}

func lastLine(out []byte) []byte {
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	if len(lines) == 0 {
		return nil
	}
	return bytes.TrimSpace(lines[len(lines)-1])
}
