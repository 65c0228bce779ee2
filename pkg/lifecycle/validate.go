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
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/abcxyz/pkg/logging"
	"github.com/chimefrb/workflow/pkg/work"
)

// Outcome is the normalized result surface a function or command hands
// back: a results mapping plus any product and plot paths it produced.
type Outcome struct {
	Results  map[string]any `json:"results,omitempty"`
	Products []string       `json:"products,omitempty"`
	Plots    []string       `json:"plots,omitempty"`
}

// normalizeOutcome coerces the raw value a function returned into an
// Outcome. A bare mapping becomes the results; an Outcome or *Outcome is
// used directly; nil means no outcome.
func normalizeOutcome(v any) (*Outcome, error) {
	switch out := v.(type) {
	case nil:
		return &Outcome{}, nil
	case *Outcome:
		if out == nil {
			return &Outcome{}, nil
		}
		return out, nil
	case Outcome:
		return &out, nil
	case map[string]any:
		return &Outcome{Results: out}, nil
	default:
		return nil, fmt.Errorf("function returned %T, want a results mapping or an Outcome", v)
	}
}

// parseOutcome decodes one line of process stdout into an Outcome. An
// object becomes the results mapping; a three-element array is taken as
// [results, products, plots].
func parseOutcome(line []byte) (*Outcome, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("stdout is not valid JSON: %w", err)
	}

	switch v := raw.(type) {
	case map[string]any:
		return &Outcome{Results: v}, nil
	case []any:
		if len(v) != 3 {
			return nil, fmt.Errorf("stdout array must have 3 elements [results, products, plots], got %d", len(v))
		}
		results, ok := v[0].(map[string]any)
		if v[0] != nil && !ok {
			return nil, fmt.Errorf("stdout results element is %T, want an object", v[0])
		}
		products, err := toStrings(v[1])
		if err != nil {
			return nil, fmt.Errorf("stdout products element: %w", err)
		}
		plots, err := toStrings(v[2])
		if err != nil {
			return nil, fmt.Errorf("stdout plots element: %w", err)
		}
		return &Outcome{Results: results, Products: products, Plots: plots}, nil
	default:
		return nil, fmt.Errorf("stdout is %T, want an object or a 3-element array", raw)
	}
}

// validateRunnable checks a withdrawn work is executable on this worker
// before anything runs: its function must resolve or its command binary
// must exist on PATH.
func validateRunnable(w *work.Work, reg *Registry) error {
	switch {
	case w.Function != "":
		if _, err := reg.Resolve(w.Function); err != nil {
			return err
		}
	case len(w.Command) > 0:
		if _, err := exec.LookPath(w.Command[0]); err != nil {
			return fmt.Errorf("command %q not found: %w", w.Command[0], err)
		}
	default:
		return fmt.Errorf("work has neither function nor command")
	}
	return nil
}

// clampResults drops the results mapping when its serialized size exceeds
// the wire limit. The work is reported with null results; the log line
// carries the dropped size so the operator can tell what happened.
func clampResults(ctx context.Context, w *work.Work) {
	size := w.ResultsSize()
	if size <= work.MaxResultsBytes {
		return
	}
	logging.FromContext(ctx).WarnContext(ctx, "results exceed size limit, dropping",
		"id", w.ID,
		"pipeline", w.Pipeline,
		"size", size,
		"limit", work.MaxResultsBytes)
	w.Results = nil
}

func toStrings(v any) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("got %T, want an array of strings", v)
	}
	out := make([]string, 0, len(raw))
	for i, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("element %d is %T, want a string", i, item)
		}
		out = append(out, s)
	}
	return out, nil
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

// sleepContext blocks for d or until the context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err() //nolint:wrapcheck
	case <-timer.C:
		return nil
	}
}
