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
	"net/http"
	"net/url"
)

// Pipelines is the client for the Pipelines backend. The backend itself
// is an external collaborator; only the CRUD surface the core consumes is
// exposed here.
type Pipelines struct {
	*Client
}

// NewPipelines creates a Pipelines client.
func NewPipelines(ctx context.Context, opts *Options) (*Pipelines, error) {
	c, err := New(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipelines client: %w", err)
	}
	return &Pipelines{Client: c}, nil
}

// Deploy registers a pipeline descriptor and returns the created ids.
func (p *Pipelines) Deploy(ctx context.Context, descriptor map[string]any) ([]string, error) {
	var ids []string
	if err := p.do(ctx, http.MethodPost, "/v1/pipelines", nil, descriptor, &ids); err != nil {
		return nil, fmt.Errorf("failed to deploy pipeline: %w", err)
	}
	return ids, nil
}

// List returns pipeline descriptors, optionally filtered by name.
func (p *Pipelines) List(ctx context.Context, name string) ([]map[string]any, error) {
	query := url.Values{}
	if name != "" {
		query.Set("name", name)
	}
	var descriptors []map[string]any
	if err := p.do(ctx, http.MethodGet, "/v1/pipelines", query, nil, &descriptors); err != nil {
		return nil, fmt.Errorf("failed to list pipelines: %w", err)
	}
	return descriptors, nil
}

// Remove deletes a pipeline descriptor by name.
func (p *Pipelines) Remove(ctx context.Context, name string) error {
	query := url.Values{"name": []string{name}}
	if err := p.do(ctx, http.MethodDelete, "/v1/pipelines", query, nil, nil); err != nil {
		return fmt.Errorf("failed to remove pipeline: %w", err)
	}
	return nil
}

// Count returns the number of registered pipeline descriptors.
func (p *Pipelines) Count(ctx context.Context) (map[string]any, error) {
	var counts map[string]any
	if err := p.do(ctx, http.MethodGet, "/v1/pipelines/count", nil, nil, &counts); err != nil {
		return nil, fmt.Errorf("failed to count pipelines: %w", err)
	}
	return counts, nil
}
