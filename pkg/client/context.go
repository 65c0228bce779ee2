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

package client

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/abcxyz/pkg/logging"
	"github.com/chimefrb/workflow/pkg/workspace"
)

// Context bundles the clients for the backends a workspace declares. A
// client is only created for baseurls present in the workspace.
type Context struct {
	Buckets   *Buckets
	Results   *Results
	Pipelines *Pipelines
}

// ContextOptions configures client construction across all backends.
type ContextOptions struct {
	// Timeout is the per-request deadline for every client.
	Timeout time.Duration

	// Token overrides environment token sourcing when set.
	Token string

	// Lookuper sources the token environment; nil means the OS
	// environment.
	Lookuper envconfig.Lookuper
}

// NewContext creates the backend clients for a workspace.
func NewContext(ctx context.Context, ws *workspace.Workspace, opts *ContextOptions) (*Context, error) {
	if ws == nil {
		return nil, fmt.Errorf("workspace is required")
	}
	if opts == nil {
		opts = &ContextOptions{}
	}

	logger := logging.FromContext(ctx)
	token := Token(opts.Token, opts.Lookuper)
	tokenHeader := ws.TokenAuth()

	hc := &Context{}
	baseurls := ws.HTTP.BaseURLs

	if baseurls.Buckets != "" {
		buckets, err := NewBuckets(ctx, &Options{
			BaseURL:     baseurls.Buckets,
			Timeout:     opts.Timeout,
			Token:       token,
			TokenHeader: tokenHeader,
		})
		if err != nil {
			return nil, err
		}
		hc.Buckets = buckets
		logger.DebugContext(ctx, "created buckets client", "baseurl", baseurls.Buckets)
	}

	if baseurls.Results != "" {
		results, err := NewResults(ctx, &Options{
			BaseURL:     baseurls.Results,
			Timeout:     opts.Timeout,
			Token:       token,
			TokenHeader: tokenHeader,
		})
		if err != nil {
			return nil, err
		}
		hc.Results = results
		logger.DebugContext(ctx, "created results client", "baseurl", baseurls.Results)
	}

	if baseurls.Pipelines != "" {
		pipelines, err := NewPipelines(ctx, &Options{
			BaseURL:     baseurls.Pipelines,
			Timeout:     opts.Timeout,
			Token:       token,
			TokenHeader: tokenHeader,
		})
		if err != nil {
			return nil, err
		}
		hc.Pipelines = pipelines
		logger.DebugContext(ctx, "created pipelines client", "baseurl", baseurls.Pipelines)
	}

	return hc, nil
}
