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

// Package work defines the unit task descriptor exchanged with the Buckets
// and Results backends, together with its validation rules and archival
// policy configuration.
package work

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/abcxyz/pkg/logging"
)

// Status is the queue lifecycle state of a work.
type Status string

const (
	StatusCreated Status = "created"
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

var statuses = map[Status]struct{}{
	StatusCreated: {},
	StatusQueued:  {},
	StatusRunning: {},
	StatusSuccess: {},
	StatusFailure: {},
}

// Sites valid for work when no workspace overrides them.
var Sites = []string{"chime", "kko", "gbo", "hco", "canfar", "cedar", "aro", "local"}

const (
	// MaxResultsBytes is the serialized size limit for the results mapping.
	MaxResultsBytes = 4_000_000

	// MaxTimeout bounds the per-work execution deadline.
	MaxTimeout = 86400

	// MaxRetries bounds the declared retry count (exclusive).
	MaxRetries = 6

	// TagsEnvVar holds extra comma-separated tags merged into every
	// locally-constructed work.
	TagsEnvVar = "WORKFLOW_TAGS"
)

var pipelineRE = regexp.MustCompile(`^[a-z0-9-]+$`)

// Work is one queued task unit: inputs and policy set by the operator, and
// a result surface filled in by the worker. Once deposited the descriptor
// fields are immutable; the server owns id, attempt and the start stamp.
type Work struct {
	Pipeline string `json:"pipeline"`
	Site     string `json:"site"`
	User     string `json:"user"`

	Function   string         `json:"function,omitempty"`
	Command    []string       `json:"command,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`

	Results  map[string]any `json:"results,omitempty"`
	Products []string       `json:"products,omitempty"`
	Plots    []string       `json:"plots,omitempty"`

	Event []int64  `json:"event,omitempty"`
	Tags  []string `json:"tags,omitempty"`

	Timeout  int `json:"timeout"`
	Retries  int `json:"retries"`
	Priority int `json:"priority"`

	ID       string  `json:"id,omitempty"`
	Creation float64 `json:"creation,omitempty"`
	Start    float64 `json:"start,omitempty"`
	Stop     float64 `json:"stop,omitempty"`
	Attempt  int     `json:"attempt"`
	Status   Status  `json:"status"`

	Config Config `json:"config"`
	Notify Notify `json:"notify"`
}

// New constructs a work with defaults applied, tags merged from the
// environment, and validation run. The creation stamp is set here.
func New(ctx context.Context, pipeline, site, user string) (*Work, error) {
	w := &Work{
		Pipeline: pipeline,
		Site:     site,
		User:     user,
		Timeout:  3600,
		Retries:  2,
		Priority: 3,
		Status:   StatusCreated,
		Creation: Now(),
		Config:   DefaultConfig(),
	}
	w.MergeEnvTags(envconfig.OsLookuper())
	if err := w.Validate(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// Validate checks the work invariants and normalizes the pipeline name.
// A reformatted pipeline name is logged as a warning so the caller learns
// the canonical spelling.
func (w *Work) Validate(ctx context.Context) error {
	return w.ValidateSites(ctx, Sites)
}

// ValidateSites is Validate with the closed site set replaced by the
// workspace's declared sites.
func (w *Work) ValidateSites(ctx context.Context, sites []string) error {
	logger := logging.FromContext(ctx)

	if w.Pipeline == "" {
		return fmt.Errorf("pipeline is required")
	}
	normalized := normalizePipeline(w.Pipeline)
	if normalized != w.Pipeline {
		logger.WarnContext(ctx, "pipeline reformatted",
			"from", w.Pipeline,
			"to", normalized)
		w.Pipeline = normalized
	}
	if !pipelineRE.MatchString(w.Pipeline) {
		return fmt.Errorf("pipeline name can only contain lowercase letters, numbers & dashes: %q", w.Pipeline)
	}

	if w.Site == "" {
		return fmt.Errorf("site is required")
	}
	if !contains(sites, w.Site) {
		return fmt.Errorf("site must be one of %v, got %q", sites, w.Site)
	}

	if w.User == "" {
		return fmt.Errorf("user is required")
	}

	if w.Function != "" && len(w.Command) > 0 {
		return fmt.Errorf("command and function cannot be set together")
	}

	if w.Timeout < 1 || w.Timeout > MaxTimeout {
		return fmt.Errorf("timeout must be within [1, %d], got %d", MaxTimeout, w.Timeout)
	}
	if w.Retries < 0 || w.Retries >= MaxRetries {
		return fmt.Errorf("retries must be within [0, %d], got %d", MaxRetries-1, w.Retries)
	}
	if w.Priority < 1 || w.Priority > 5 {
		return fmt.Errorf("priority must be within [1, 5], got %d", w.Priority)
	}
	if w.Attempt < 0 {
		return fmt.Errorf("attempt must be non-negative, got %d", w.Attempt)
	}

	if _, ok := statuses[w.Status]; !ok {
		return fmt.Errorf("status must be one of created|queued|running|success|failure, got %q", w.Status)
	}

	if w.Creation != 0 && w.Start != 0 && w.Creation > w.Start {
		return fmt.Errorf("creation %f is after start %f", w.Creation, w.Start)
	}
	if w.Start != 0 && w.Stop != 0 && w.Start > w.Stop {
		return fmt.Errorf("start %f is after stop %f", w.Start, w.Stop)
	}

	if err := w.Config.Archive.validate(); err != nil {
		return err
	}

	w.Tags = dedupe(w.Tags)
	return nil
}

// MergeEnvTags merges comma-separated tags from WORKFLOW_TAGS into the
// work, deduplicated.
func (w *Work) MergeEnvTags(lu envconfig.Lookuper) {
	raw, ok := lu.Lookup(TagsEnvVar)
	if !ok || raw == "" {
		return
	}
	for _, tag := range strings.Split(raw, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			w.Tags = append(w.Tags, tag)
		}
	}
	w.Tags = dedupe(w.Tags)
}

// FromJSON decodes a work from its wire form. The deprecated flat
// "archive" field is rejected; callers must use config.archive.
func FromJSON(data []byte) (*Work, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to decode work: %w", err)
	}
	if _, ok := probe["archive"]; ok {
		return nil, fmt.Errorf("the flat archive field is deprecated, set config.archive instead")
	}

	var w Work
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to decode work: %w", err)
	}
	return &w, nil
}

// ToJSON encodes the work in its wire form.
func (w *Work) ToJSON() ([]byte, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("failed to encode work: %w", err)
	}
	return data, nil
}

// ResultsSize returns the serialized size of the results mapping in bytes.
func (w *Work) ResultsSize() int {
	if w.Results == nil {
		return 0
	}
	data, err := json.Marshal(w.Results)
	if err != nil {
		return 0
	}
	return len(data)
}

// Now returns the current time as unix seconds, the timestamp format used
// on the wire.
func Now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

func normalizePipeline(pipeline string) string {
	pipeline = strings.ToLower(pipeline)
	pipeline = strings.ReplaceAll(pipeline, " ", "-")
	pipeline = strings.ReplaceAll(pipeline, "_", "-")
	return pipeline
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func dedupe(tags []string) []string {
	if len(tags) == 0 {
		return tags
	}
	seen := make(map[string]struct{}, len(tags))
	out := tags[:0]
	for _, tag := range tags {
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
