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

package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/abcxyz/pkg/logging"
)

// Posix archives artifacts on a mounted filesystem.
type Posix struct{}

// Bypass leaves the artifacts where they are.
func (p *Posix) Bypass(ctx context.Context, dest string, items []string) ([]string, error) {
	logging.FromContext(ctx).DebugContext(ctx, "bypassing archive", "dest", dest)
	return items, nil
}

// Copy copies each artifact into dest, rewriting entries to the archived
// absolute paths. Missing sources are logged and kept as-is.
func (p *Posix) Copy(ctx context.Context, dest string, items []string) ([]string, error) {
	logger := logging.FromContext(ctx)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive dir: %w", err)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		target := filepath.Join(dest, filepath.Base(item))
		if err := copyFile(item, target); err != nil {
			logger.WarnContext(ctx, "failed to copy artifact", "item", item, "error", err)
			out = append(out, item)
			continue
		}
		out = append(out, target)
	}
	return out, nil
}

// Move moves each artifact into dest, rewriting entries to the archived
// absolute paths.
func (p *Posix) Move(ctx context.Context, dest string, items []string) ([]string, error) {
	logger := logging.FromContext(ctx)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive dir: %w", err)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		target := filepath.Join(dest, filepath.Base(item))
		if err := os.Rename(item, target); err != nil {
			// Rename fails across filesystems, fall back to copy+remove.
			if cerr := copyFile(item, target); cerr != nil {
				logger.WarnContext(ctx, "failed to move artifact", "item", item, "error", err)
				out = append(out, item)
				continue
			}
			if rerr := os.Remove(item); rerr != nil {
				logger.WarnContext(ctx, "failed to remove moved artifact source", "item", item, "error", rerr)
			}
		}
		out = append(out, target)
	}
	return out, nil
}

// Delete removes each artifact and empties the list.
func (p *Posix) Delete(ctx context.Context, dest string, items []string) ([]string, error) {
	logger := logging.FromContext(ctx)
	for _, item := range items {
		if err := os.Remove(item); err != nil {
			logger.WarnContext(ctx, "failed to delete artifact", "item", item, "error", err)
		}
	}
	return []string{}, nil
}

// Upload is not supported on the posix driver.
func (p *Posix) Upload(ctx context.Context, dest string, items []string) ([]string, error) {
	return nil, fmt.Errorf("%w: posix upload", ErrUnimplemented)
}

// Permissions applies the site archive ACLs, falling back to group
// ownership when the acl tooling is unavailable. Failures are returned
// for logging, never fatal.
func (p *Posix) Permissions(ctx context.Context, dest, site string) error {
	if site != "canfar" {
		return nil
	}
	acls := [][]string{
		{"setfacl", "-R", "-m", "g:chime-frb-ro:r", dest},
		{"setfacl", "-R", "-m", "g:chime-frb-rw:rw", dest},
	}
	for _, argv := range acls {
		if err := exec.CommandContext(ctx, argv[0], argv[1:]...).Run(); err != nil {
			return p.groupPermissions(ctx, dest)
		}
	}
	return nil
}

func (p *Posix) groupPermissions(ctx context.Context, dest string) error {
	if err := exec.CommandContext(ctx, "chgrp", "-R", "chime-frb-rw", dest).Run(); err != nil {
		return fmt.Errorf("failed to set archive group: %w", err)
	}
	if err := exec.CommandContext(ctx, "chmod", "-R", "g+w", dest).Run(); err != nil {
		return fmt.Errorf("failed to set archive mode: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat source: %w", err)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy contents: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to flush destination: %w", err)
	}
	return nil
}
