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

// Package archive materializes work artifacts to durable storage under a
// deterministic layout and rewrites the work's artifact paths to the
// archived locations. Driver failures are logged and never fail the work:
// a work that produced correct results is not marked failed because its
// artifacts could not be archived.
package archive

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/abcxyz/pkg/logging"
	"github.com/chimefrb/workflow/pkg/work"
	"github.com/chimefrb/workflow/pkg/workspace"
)

// ErrUnimplemented marks an archive method a storage driver does not
// support.
var ErrUnimplemented = errors.New("archive method not implemented")

// Driver is one storage backend. Mutating operations return the rewritten
// item list; entries point at the archived locations.
type Driver interface {
	Bypass(ctx context.Context, dest string, items []string) ([]string, error)
	Copy(ctx context.Context, dest string, items []string) ([]string, error)
	Move(ctx context.Context, dest string, items []string) ([]string, error)
	Delete(ctx context.Context, dest string, items []string) ([]string, error)
	Upload(ctx context.Context, dest string, items []string) ([]string, error)
	Permissions(ctx context.Context, dest, site string) error
}

// Archiver dispatches per-artifact-kind archival over the configured
// storage drivers.
type Archiver struct {
	drivers map[string]Driver
}

// New creates an archiver with the posix, s3 and http drivers. The s3
// driver is only registered when its endpoint is configured in the
// environment.
func New(ctx context.Context, lu envconfig.Lookuper) *Archiver {
	if lu == nil {
		lu = envconfig.OsLookuper()
	}
	drivers := map[string]Driver{
		"posix": &Posix{},
		"http":  &HTTP{},
	}
	s3, err := NewS3(ctx, lu)
	if err != nil {
		logging.FromContext(ctx).DebugContext(ctx, "s3 driver not configured", "error", err)
	} else {
		drivers["s3"] = s3
	}
	return &Archiver{drivers: drivers}
}

// Dest returns the archive destination for a work: the site mount joined
// with workflow/YYYYMMDD/<pipeline>/<id>, the date taken from the
// creation stamp in local time.
func Dest(w *work.Work, ws *workspace.Workspace) string {
	date := time.Unix(int64(w.Creation), 0).Format("20060102")
	return path.Join(ws.Mount(w.Site), "workflow", date, w.Pipeline, w.ID)
}

// Run archives the work's products and plots per its archive config and
// the workspace policy, rewriting the artifact lists in place. Per-kind
// failures are logged and skipped; Run itself never fails the work.
func (a *Archiver) Run(ctx context.Context, w *work.Work, ws *workspace.Workspace) {
	logger := logging.FromContext(ctx)
	dest := Dest(w, ws)
	changed := false

	kinds := []struct {
		name   string
		method work.ArchiveMethod
		items  *[]string
	}{
		{"products", w.Config.Archive.Products, &w.Products},
		{"plots", w.Config.Archive.Plots, &w.Plots},
	}

	for _, kind := range kinds {
		if len(*kind.items) == 0 {
			continue
		}
		policy, ok := ws.Policy(kind.name)
		if !ok || !policy.AllowsMethod(string(kind.method)) {
			logger.WarnContext(ctx, "archive method not allowed by workspace",
				"kind", kind.name,
				"method", kind.method)
			continue
		}
		if policy.Storage == "" {
			logger.WarnContext(ctx, "archive storage not configured in workspace",
				"kind", kind.name)
			continue
		}
		driver, ok := a.drivers[policy.Storage]
		if !ok {
			logger.WarnContext(ctx, "archive storage driver unavailable",
				"kind", kind.name,
				"storage", policy.Storage)
			continue
		}

		items, err := dispatch(ctx, driver, kind.method, dest, *kind.items)
		if err != nil {
			logger.ErrorContext(ctx, "failed to archive artifacts",
				"kind", kind.name,
				"method", kind.method,
				"storage", policy.Storage,
				"error", err)
			continue
		}
		*kind.items = items
		if policy.Storage == "posix" && kind.method != work.ArchiveBypass {
			changed = true
		}
	}

	// ACLs and group ownership only apply to filesystem mutations.
	if changed {
		if err := a.drivers["posix"].Permissions(ctx, dest, w.Site); err != nil {
			logger.WarnContext(ctx, "failed to set archive permissions",
				"dest", dest,
				"site", w.Site,
				"error", err)
		}
	}
}

func dispatch(ctx context.Context, driver Driver, method work.ArchiveMethod, dest string, items []string) ([]string, error) {
	switch method {
	case work.ArchiveBypass:
		return driver.Bypass(ctx, dest, items)
	case work.ArchiveCopy:
		return driver.Copy(ctx, dest, items)
	case work.ArchiveMove:
		return driver.Move(ctx, dest, items)
	case work.ArchiveDelete:
		return driver.Delete(ctx, dest, items)
	case work.ArchiveUpload:
		return driver.Upload(ctx, dest, items)
	default:
		return nil, fmt.Errorf("unknown archive method %q", method)
	}
}
