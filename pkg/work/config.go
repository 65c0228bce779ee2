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

import "fmt"

// ArchiveMethod is the per-artifact-kind archival strategy applied by the
// archiver after a work finishes.
type ArchiveMethod string

const (
	ArchiveBypass ArchiveMethod = "bypass"
	ArchiveCopy   ArchiveMethod = "copy"
	ArchiveMove   ArchiveMethod = "move"
	ArchiveDelete ArchiveMethod = "delete"
	ArchiveUpload ArchiveMethod = "upload"
)

var archiveMethods = map[ArchiveMethod]struct{}{
	ArchiveBypass: {},
	ArchiveCopy:   {},
	ArchiveMove:   {},
	ArchiveDelete: {},
	ArchiveUpload: {},
}

// Archive holds the archival policy for each artifact kind produced by a
// work: whether results are transferred to long-term storage and which
// method moves products, plots and logs.
type Archive struct {
	Results  bool          `json:"results"`
	Products ArchiveMethod `json:"products"`
	Plots    ArchiveMethod `json:"plots"`
	Logs     ArchiveMethod `json:"logs"`
}

// DefaultArchive returns the archival policy applied when a work does not
// declare one.
func DefaultArchive() Archive {
	return Archive{
		Results:  true,
		Products: ArchiveCopy,
		Plots:    ArchiveCopy,
		Logs:     ArchiveMove,
	}
}

func (a *Archive) validate() error {
	for kind, method := range map[string]ArchiveMethod{
		"products": a.Products,
		"plots":    a.Plots,
		"logs":     a.Logs,
	} {
		if _, ok := archiveMethods[method]; !ok {
			return fmt.Errorf("archive method for %s must be one of bypass|copy|move|delete|upload, got %q", kind, method)
		}
	}
	return nil
}

// Config carries the non-execution configuration of a work: archival
// policy, parent pipeline linkage and ownership metadata.
type Config struct {
	Archive Archive  `json:"archive"`
	Metrics bool     `json:"metrics"`
	Parent  string   `json:"parent,omitempty"`
	Orgs    []string `json:"orgs,omitempty"`
	Teams   []string `json:"teams,omitempty"`
}

// DefaultConfig returns the work configuration applied when a work does
// not declare one.
func DefaultConfig() Config {
	return Config{
		Archive: DefaultArchive(),
		Orgs:    []string{"chimefrb"},
	}
}

// Slack holds the Slack notification target for a work.
type Slack struct {
	ChannelID string `json:"channel_id,omitempty"`
}

// Notify declares where completion notifications for a work are sent.
type Notify struct {
	Slack Slack `json:"slack"`
}

// Configured reports whether any notification channel is set.
func (n Notify) Configured() bool {
	return n.Slack.ChannelID != ""
}
