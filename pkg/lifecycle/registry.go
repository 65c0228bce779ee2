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
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Func is a registered work function. It receives the work parameters and
// returns either a results mapping or an *Outcome carrying results,
// products and plots.
type Func func(ctx context.Context, params map[string]any) (any, error)

// Param is one declared parameter of a Commander, with its default value.
type Param struct {
	Name    string
	Default any
}

// Commander is a registered function that declares its parameters up
// front. Declared defaults are merged under the work parameters before
// Main runs, so a work only needs to set the parameters it overrides.
type Commander interface {
	Params() []Param
	Main(ctx context.Context, params map[string]any) (any, error)
}

// Registry maps function names to their implementations. Names use the
// dotted form stored on the work, e.g. "workflow.examples.mean".
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry returns a registry preloaded with the example functions.
func NewRegistry() *Registry {
	r := &Registry{funcs: make(map[string]Func)}
	r.Register("workflow.examples.mean", mean)
	r.Register("workflow.examples.sleep", sleepFunc)
	return r
}

// Register adds a function under name, replacing any previous entry.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// RegisterCommander adds a Commander under name. Its declared defaults
// are merged under the caller's parameters on every invocation.
func (r *Registry) RegisterCommander(name string, c Commander) {
	r.Register(name, func(ctx context.Context, params map[string]any) (any, error) {
		merged := make(map[string]any)
		for _, p := range c.Params() {
			merged[p.Name] = p.Default
		}
		for k, v := range params {
			merged[k] = v
		}
		return c.Main(ctx, merged)
	})
}

// Resolve returns the function registered under name.
func (r *Registry) Resolve(name string) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	if !ok {
		return nil, fmt.Errorf("function %q is not registered (known: %v)", name, r.names())
	}
	return fn, nil
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// mean averages the numbers under the "values" parameter.
func mean(ctx context.Context, params map[string]any) (any, error) {
	raw, ok := params["values"].([]any)
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("mean requires a non-empty values list")
	}
	var sum float64
	for i, v := range raw {
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("values[%d] is not a number: %v", i, v)
		}
		sum += f
	}
	return map[string]any{
		"sum":  sum,
		"mean": sum / float64(len(raw)),
	}, nil
}

// sleepFunc blocks for the "seconds" parameter, honoring cancellation.
func sleepFunc(ctx context.Context, params map[string]any) (any, error) {
	seconds, ok := toFloat(params["seconds"])
	if !ok || seconds < 0 {
		seconds = 1
	}
	if err := sleepContext(ctx, secondsToDuration(seconds)); err != nil {
		return nil, err
	}
	return map[string]any{"slept": seconds}, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
