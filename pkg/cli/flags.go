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

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/abcxyz/pkg/cli"
	"github.com/chimefrb/workflow/pkg/client"
	"github.com/chimefrb/workflow/pkg/workspace"
)

// workspaceFlags are the flags every command that talks to the backends
// shares: the workspace file plus overrides for token and timeout.
type workspaceFlags struct {
	workspacePath string
	bucketsURL    string
	resultsURL    string
	token         string
	timeout       time.Duration
}

func (wf *workspaceFlags) register(set *cli.FlagSet) {
	f := set.NewSection("WORKSPACE OPTIONS")

	f.StringVar(&cli.StringVar{
		Name:    "workspace",
		Target:  &wf.workspacePath,
		EnvVar:  "WORKFLOW_WORKSPACE",
		Usage:   "Path to the workspace YAML file naming the deployment backends.",
		Example: "/etc/workflow/workspace.yaml",
	})

	f.StringVar(&cli.StringVar{
		Name:    "buckets-baseurl",
		Target:  &wf.bucketsURL,
		EnvVar:  "WORKFLOW_BUCKETS_BASEURL",
		Usage:   "Override the Buckets base URL from the workspace.",
		Example: "https://frb.chimenet.ca/buckets",
	})

	f.StringVar(&cli.StringVar{
		Name:    "results-baseurl",
		Target:  &wf.resultsURL,
		EnvVar:  "WORKFLOW_RESULTS_BASEURL",
		Usage:   "Override the Results base URL from the workspace.",
		Example: "https://frb.chimenet.ca/results",
	})

	f.StringVar(&cli.StringVar{
		Name:   "token",
		Target: &wf.token,
		Usage:  "Access token for the backends; falls back to the token environment variables.",
	})

	f.DurationVar(&cli.DurationVar{
		Name:    "timeout",
		Target:  &wf.timeout,
		Default: client.DefaultTimeout,
		Usage:   "Per-request timeout for backend calls.",
	})
}

// workspace loads the workspace file and applies the base URL overrides.
func (wf *workspaceFlags) workspace() (*workspace.Workspace, error) {
	if wf.workspacePath == "" {
		return nil, fmt.Errorf("a workspace is required, set -workspace or WORKFLOW_WORKSPACE")
	}
	ws, err := workspace.Load(wf.workspacePath)
	if err != nil {
		return nil, err
	}
	if wf.bucketsURL != "" {
		ws.HTTP.BaseURLs.Buckets = wf.bucketsURL
	}
	if wf.resultsURL != "" {
		ws.HTTP.BaseURLs.Results = wf.resultsURL
	}
	return ws, nil
}

// clients builds the backend clients for the loaded workspace.
func (wf *workspaceFlags) clients(ctx context.Context, ws *workspace.Workspace) (*client.Context, error) {
	return client.NewContext(ctx, ws, &client.ContextOptions{
		Timeout: wf.timeout,
		Token:   wf.token,
	})
}
