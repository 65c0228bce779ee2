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

// Package workspace loads the YAML workspace file that names the backend
// services, archive mounts and archival rules a deployment runs with. The
// workspace is read once per process and passed by value into the
// components that consume it.
package workspace

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/chimefrb/workflow/pkg/work"
)

// BaseURLs names the backend services of a deployment.
type BaseURLs struct {
	Buckets   string `yaml:"buckets" json:"buckets"`
	Results   string `yaml:"results" json:"results"`
	Pipelines string `yaml:"pipelines" json:"pipelines"`
	Loki      string `yaml:"loki,omitempty" json:"loki,omitempty"`
	Products  string `yaml:"products,omitempty" json:"products,omitempty"`
}

// HTTP groups the service endpoints.
type HTTP struct {
	BaseURLs BaseURLs `yaml:"baseurls" json:"baseurls"`
}

// Mounts maps a site name to the root path artifacts are archived under.
type Mounts struct {
	Mounts map[string]string `yaml:"mounts" json:"mounts"`
}

// KindPolicy is the workspace-side archival policy for one artifact kind:
// the methods a work is allowed to request and the storage backend that
// performs them.
type KindPolicy struct {
	Methods []string `yaml:"methods" json:"methods"`
	Storage string   `yaml:"storage" json:"storage"`
}

// ArchivePolicy holds the per-kind policies plus the results transfer
// switch consumed by the transfer daemon.
type ArchivePolicy struct {
	Products KindPolicy `yaml:"products" json:"products"`
	Plots    KindPolicy `yaml:"plots" json:"plots"`
	Results  bool       `yaml:"results" json:"results"`
}

// Loki carries static labels attached to log lines shipped to Loki.
type Loki struct {
	Tags map[string]string `yaml:"tags" json:"tags"`
}

// Logging groups logging sink configuration.
type Logging struct {
	Loki Loki `yaml:"loki" json:"loki"`
}

// Config groups workspace-scoped configuration.
type Config struct {
	Archive ArchivePolicy `yaml:"archive" json:"archive"`
	Logging *Logging      `yaml:"logging,omitempty" json:"logging,omitempty"`
}

// Auth declares how clients authenticate against the backends.
type Auth struct {
	Type     string `yaml:"type" json:"type"`
	Provider string `yaml:"provider" json:"provider"`
}

// Workspace is the parsed workspace file.
type Workspace struct {
	Workspace string   `yaml:"workspace" json:"workspace"`
	Sites     []string `yaml:"sites" json:"sites"`
	HTTP      HTTP     `yaml:"http" json:"http"`
	Archive   Mounts   `yaml:"archive" json:"archive"`
	Config    Config   `yaml:"config" json:"config"`
	Auth      *Auth    `yaml:"auth,omitempty" json:"auth,omitempty"`
	Logging   *Logging `yaml:"logging,omitempty" json:"logging,omitempty"`
}

// Load reads and validates the workspace file at path.
func Load(path string) (*Workspace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workspace file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates workspace YAML.
func Parse(data []byte) (*Workspace, error) {
	var ws Workspace
	if err := yaml.Unmarshal(data, &ws); err != nil {
		return nil, fmt.Errorf("failed to parse workspace: %w", err)
	}
	if err := ws.Validate(); err != nil {
		return nil, err
	}
	return &ws, nil
}

// Validate checks the minimum shape a usable workspace must have.
func (ws *Workspace) Validate() error {
	if ws.Workspace == "" {
		return fmt.Errorf("workspace name is required")
	}
	if len(ws.Sites) == 0 {
		return fmt.Errorf("workspace must declare at least one site")
	}
	if ws.HTTP.BaseURLs.Buckets == "" {
		return fmt.Errorf("workspace must declare http.baseurls.buckets")
	}
	return nil
}

// ValidSites returns the sites a work may declare under this workspace,
// falling back to the closed default set.
func (ws *Workspace) ValidSites() []string {
	if ws == nil || len(ws.Sites) == 0 {
		return work.Sites
	}
	return ws.Sites
}

// Mount returns the archive root for a site, empty when unconfigured.
func (ws *Workspace) Mount(site string) string {
	if ws == nil || ws.Archive.Mounts == nil {
		return ""
	}
	return ws.Archive.Mounts[site]
}

// Policy returns the archival policy for an artifact kind. Only the
// products and plots kinds carry workspace policies.
func (ws *Workspace) Policy(kind string) (KindPolicy, bool) {
	if ws == nil {
		return KindPolicy{}, false
	}
	switch kind {
	case "products":
		return ws.Config.Archive.Products, true
	case "plots":
		return ws.Config.Archive.Plots, true
	default:
		return KindPolicy{}, false
	}
}

// AllowsMethod reports whether the workspace permits method for kind.
func (kp KindPolicy) AllowsMethod(method string) bool {
	for _, m := range kp.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// TokenAuth reports whether the workspace wants the access token emitted
// as the x-access-token header.
func (ws *Workspace) TokenAuth() bool {
	return ws != nil && ws.Auth != nil && ws.Auth.Type == "token" && ws.Auth.Provider == "github"
}

// LokiTags returns the static labels for the Loki sink, checking both the
// top-level and config-scoped logging blocks.
func (ws *Workspace) LokiTags() map[string]string {
	if ws == nil {
		return nil
	}
	if ws.Logging != nil && len(ws.Logging.Loki.Tags) > 0 {
		return ws.Logging.Loki.Tags
	}
	if ws.Config.Logging != nil {
		return ws.Config.Logging.Loki.Tags
	}
	return nil
}
