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

package work

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sethvargo/go-envconfig"

	"github.com/abcxyz/pkg/logging"
	"github.com/abcxyz/pkg/testutil"
)

func TestNew(t *testing.T) {
	t.Parallel()

	ctx := logging.WithLogger(context.Background(), logging.TestLogger(t))

	w, err := New(ctx, "test-pipeline", "chime", "tester")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := w.Timeout, 3600; got != want {
		t.Errorf("Timeout = %d, want %d", got, want)
	}
	if got, want := w.Retries, 2; got != want {
		t.Errorf("Retries = %d, want %d", got, want)
	}
	if got, want := w.Priority, 3; got != want {
		t.Errorf("Priority = %d, want %d", got, want)
	}
	if got, want := w.Status, StatusCreated; got != want {
		t.Errorf("Status = %q, want %q", got, want)
	}
	if w.Creation == 0 {
		t.Error("Creation was not stamped")
	}
	if diff := cmp.Diff(DefaultConfig(), w.Config); diff != "" {
		t.Errorf("Config diff (-want, +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	ctx := logging.WithLogger(context.Background(), logging.TestLogger(t))

	base := func() *Work {
		return &Work{
			Pipeline: "test-pipeline",
			Site:     "chime",
			User:     "tester",
			Timeout:  3600,
			Retries:  2,
			Priority: 3,
			Status:   StatusCreated,
			Config:   DefaultConfig(),
		}
	}

	cases := []struct {
		name   string
		mutate func(w *Work)
		expErr string
	}{
		{
			name:   "happy_path",
			mutate: func(w *Work) {},
		},
		{
			name:   "missing_pipeline",
			mutate: func(w *Work) { w.Pipeline = "" },
			expErr: "pipeline is required",
		},
		{
			name:   "pipeline_reformatted",
			mutate: func(w *Work) { w.Pipeline = "Test Pipeline_v2" },
		},
		{
			name:   "pipeline_invalid_chars",
			mutate: func(w *Work) { w.Pipeline = "bad/pipeline" },
			expErr: "lowercase letters, numbers & dashes",
		},
		{
			name:   "missing_site",
			mutate: func(w *Work) { w.Site = "" },
			expErr: "site is required",
		},
		{
			name:   "unknown_site",
			mutate: func(w *Work) { w.Site = "mars" },
			expErr: "site must be one of",
		},
		{
			name:   "missing_user",
			mutate: func(w *Work) { w.User = "" },
			expErr: "user is required",
		},
		{
			name: "function_and_command",
			mutate: func(w *Work) {
				w.Function = "workflow.examples.mean"
				w.Command = []string{"ls"}
			},
			expErr: "command and function cannot be set together",
		},
		{
			name:   "timeout_too_large",
			mutate: func(w *Work) { w.Timeout = MaxTimeout + 1 },
			expErr: "timeout must be within",
		},
		{
			name:   "timeout_zero",
			mutate: func(w *Work) { w.Timeout = 0 },
			expErr: "timeout must be within",
		},
		{
			name:   "retries_too_large",
			mutate: func(w *Work) { w.Retries = MaxRetries },
			expErr: "retries must be within",
		},
		{
			name:   "priority_out_of_range",
			mutate: func(w *Work) { w.Priority = 6 },
			expErr: "priority must be within",
		},
		{
			name:   "negative_attempt",
			mutate: func(w *Work) { w.Attempt = -1 },
			expErr: "attempt must be non-negative",
		},
		{
			name:   "bad_status",
			mutate: func(w *Work) { w.Status = "done" },
			expErr: "status must be one of",
		},
		{
			name: "creation_after_start",
			mutate: func(w *Work) {
				w.Creation = 200
				w.Start = 100
			},
			expErr: "is after start",
		},
		{
			name: "start_after_stop",
			mutate: func(w *Work) {
				w.Start = 200
				w.Stop = 100
			},
			expErr: "is after stop",
		},
		{
			name:   "bad_archive_method",
			mutate: func(w *Work) { w.Config.Archive.Products = "compress" },
			expErr: "archive method for products",
		},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			w := base()
			tc.mutate(w)
			err := w.Validate(ctx)
			if diff := testutil.DiffErrString(err, tc.expErr); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestValidate_NormalizesPipeline(t *testing.T) {
	t.Parallel()

	ctx := logging.WithLogger(context.Background(), logging.TestLogger(t))

	w := &Work{
		Pipeline: "My Pipeline_v2",
		Site:     "chime",
		User:     "tester",
		Timeout:  3600,
		Retries:  2,
		Priority: 3,
		Status:   StatusCreated,
		Config:   DefaultConfig(),
	}
	if err := w.Validate(ctx); err != nil {
		t.Fatal(err)
	}
	if got, want := w.Pipeline, "my-pipeline-v2"; got != want {
		t.Errorf("Pipeline = %q, want %q", got, want)
	}
}

func TestValidateSites_WorkspaceSet(t *testing.T) {
	t.Parallel()

	ctx := logging.WithLogger(context.Background(), logging.TestLogger(t))

	w := &Work{
		Pipeline: "test-pipeline",
		Site:     "observatory-x",
		User:     "tester",
		Timeout:  3600,
		Retries:  2,
		Priority: 3,
		Status:   StatusCreated,
		Config:   DefaultConfig(),
	}

	// The default closed set rejects the site, a workspace that declares
	// it accepts it.
	if err := w.Validate(ctx); err == nil {
		t.Error("expected the default site set to reject observatory-x")
	}
	if err := w.ValidateSites(ctx, []string{"observatory-x"}); err != nil {
		t.Errorf("workspace site set rejected its own site: %v", err)
	}
}

func TestValidate_DedupesTags(t *testing.T) {
	t.Parallel()

	ctx := logging.WithLogger(context.Background(), logging.TestLogger(t))

	w := &Work{
		Pipeline: "test-pipeline",
		Site:     "chime",
		User:     "tester",
		Tags:     []string{"a", "b", "a", "c", "b"},
		Timeout:  3600,
		Retries:  2,
		Priority: 3,
		Status:   StatusCreated,
		Config:   DefaultConfig(),
	}
	if err := w.Validate(ctx); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, w.Tags); diff != "" {
		t.Errorf("Tags diff (-want, +got):\n%s", diff)
	}
}

func TestMergeEnvTags(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		env  map[string]string
		tags []string
		exp  []string
	}{
		{
			name: "no_env",
			env:  map[string]string{},
			tags: []string{"a"},
			exp:  []string{"a"},
		},
		{
			name: "merged_and_deduped",
			env:  map[string]string{TagsEnvVar: "b, a ,c"},
			tags: []string{"a"},
			exp:  []string{"a", "b", "c"},
		},
		{
			name: "empty_entries_skipped",
			env:  map[string]string{TagsEnvVar: ",,x,"},
			exp:  []string{"x"},
		},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			w := &Work{Tags: tc.tags}
			w.MergeEnvTags(envconfig.MapLookuper(tc.env))
			if diff := cmp.Diff(tc.exp, w.Tags); diff != "" {
				t.Errorf("Tags diff (-want, +got):\n%s", diff)
			}
		})
	}
}

func TestFromJSON(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		data   string
		expErr string
	}{
		{
			name: "happy_path",
			data: `{"pipeline":"test-pipeline","site":"chime","user":"tester","timeout":3600,"retries":2,"priority":3,"status":"queued"}`,
		},
		{
			name:   "deprecated_archive_field",
			data:   `{"pipeline":"test-pipeline","archive":true}`,
			expErr: "flat archive field is deprecated",
		},
		{
			name:   "not_json",
			data:   `pipeline=test`,
			expErr: "failed to decode work",
		},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := FromJSON([]byte(tc.data))
			if diff := testutil.DiffErrString(err, tc.expErr); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestJSONRoundTrip(t *testing.T) {
	t.Parallel()

	w := &Work{
		Pipeline:   "test-pipeline",
		Site:       "chime",
		User:       "tester",
		Function:   "workflow.examples.mean",
		Parameters: map[string]any{"values": []any{1.0, 2.0, 3.0}},
		Event:      []int64{12345},
		Tags:       []string{"test"},
		Timeout:    3600,
		Retries:    2,
		Priority:   3,
		ID:         "abc123",
		Creation:   1700000000.5,
		Status:     StatusQueued,
		Config:     DefaultConfig(),
	}

	data, err := w.ToJSON()
	if err != nil {
		t.Fatal(err)
	}
	got, err := FromJSON(data)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(w, got); diff != "" {
		t.Errorf("round trip diff (-want, +got):\n%s", diff)
	}
}

func TestResultsSize(t *testing.T) {
	t.Parallel()

	w := &Work{}
	if got, want := w.ResultsSize(), 0; got != want {
		t.Errorf("ResultsSize = %d, want %d", got, want)
	}

	w.Results = map[string]any{"payload": strings.Repeat("x", 100)}
	if got := w.ResultsSize(); got < 100 {
		t.Errorf("ResultsSize = %d, want at least 100", got)
	}
}
