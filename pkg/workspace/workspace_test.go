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

package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/abcxyz/pkg/testutil"
	"github.com/chimefrb/workflow/pkg/work"
)

const testWorkspaceYAML = `
workspace: development

sites:
  - local
  - chime
  - canfar

http:
  baseurls:
    buckets: http://localhost:8004
    results: http://localhost:8005
    products: https://frb.chimenet.ca/products

archive:
  mounts:
    local: /tmp/workflow
    chime: /data/chime/baseband/processed
    canfar: /arc/projects/chime_frb

auth:
  type: token
  provider: github

config:
  archive:
    results: true
    products:
      methods:
        - copy
        - move
        - bypass
      storage: posix
    plots:
      methods:
        - copy
        - bypass
      storage: posix
`

func TestParse(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		data   string
		expErr string
	}{
		{
			name: "happy_path",
			data: testWorkspaceYAML,
		},
		{
			name:   "missing_name",
			data:   "sites:\n  - local\nhttp:\n  baseurls:\n    buckets: http://localhost:8004\n",
			expErr: "workspace name is required",
		},
		{
			name:   "missing_sites",
			data:   "workspace: dev\nhttp:\n  baseurls:\n    buckets: http://localhost:8004\n",
			expErr: "at least one site",
		},
		{
			name:   "missing_buckets",
			data:   "workspace: dev\nsites:\n  - local\n",
			expErr: "http.baseurls.buckets",
		},
		{
			name:   "invalid_yaml",
			data:   "workspace: [unclosed",
			expErr: "failed to parse workspace",
		},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse([]byte(tc.data))
			if diff := testutil.DiffErrString(err, tc.expErr); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "workspace.yaml")
	if err := os.WriteFile(path, []byte(testWorkspaceYAML), 0o600); err != nil {
		t.Fatal(err)
	}

	ws, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := ws.Workspace, "development"; got != want {
		t.Errorf("Workspace = %q, want %q", got, want)
	}
	if got, want := ws.HTTP.BaseURLs.Buckets, "http://localhost:8004"; got != want {
		t.Errorf("Buckets = %q, want %q", got, want)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestAccessors(t *testing.T) {
	t.Parallel()

	ws, err := Parse([]byte(testWorkspaceYAML))
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]string{"local", "chime", "canfar"}, ws.ValidSites()); diff != "" {
		t.Errorf("ValidSites diff (-want, +got):\n%s", diff)
	}

	if got, want := ws.Mount("canfar"), "/arc/projects/chime_frb"; got != want {
		t.Errorf("Mount(canfar) = %q, want %q", got, want)
	}
	if got := ws.Mount("unknown"); got != "" {
		t.Errorf("Mount(unknown) = %q, want empty", got)
	}

	products, ok := ws.Policy("products")
	if !ok {
		t.Fatal("expected a products policy")
	}
	if got, want := products.Storage, "posix"; got != want {
		t.Errorf("products storage = %q, want %q", got, want)
	}
	if !products.AllowsMethod("move") {
		t.Error("expected products to allow move")
	}

	plots, _ := ws.Policy("plots")
	if plots.AllowsMethod("move") {
		t.Error("expected plots to reject move")
	}

	if _, ok := ws.Policy("logs"); ok {
		t.Error("expected no policy for logs")
	}

	if !ws.TokenAuth() {
		t.Error("expected token auth to be enabled")
	}
}

func TestValidSites_Fallback(t *testing.T) {
	t.Parallel()

	var ws *Workspace
	if diff := cmp.Diff(work.Sites, ws.ValidSites()); diff != "" {
		t.Errorf("ValidSites diff (-want, +got):\n%s", diff)
	}
}
