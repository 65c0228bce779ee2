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

	"github.com/abcxyz/pkg/logging"
)

// HTTP is a placeholder driver for deployments that serve artifacts from
// where the pipeline wrote them. Only bypass is supported.
type HTTP struct{}

// Bypass leaves the artifacts where they are.
func (h *HTTP) Bypass(ctx context.Context, dest string, items []string) ([]string, error) {
	logging.FromContext(ctx).DebugContext(ctx, "bypassing archive", "dest", dest)
	return items, nil
}

// Copy is not supported on the http driver.
func (h *HTTP) Copy(ctx context.Context, dest string, items []string) ([]string, error) {
	return nil, fmt.Errorf("%w: http copy", ErrUnimplemented)
}

// Move is not supported on the http driver.
func (h *HTTP) Move(ctx context.Context, dest string, items []string) ([]string, error) {
	return nil, fmt.Errorf("%w: http move", ErrUnimplemented)
}

// Delete is not supported on the http driver.
func (h *HTTP) Delete(ctx context.Context, dest string, items []string) ([]string, error) {
	return nil, fmt.Errorf("%w: http delete", ErrUnimplemented)
}

// Upload is not supported on the http driver.
func (h *HTTP) Upload(ctx context.Context, dest string, items []string) ([]string, error) {
	return nil, fmt.Errorf("%w: http upload", ErrUnimplemented)
}

// Permissions is not supported on the http driver.
func (h *HTTP) Permissions(ctx context.Context, dest, site string) error {
	return fmt.Errorf("%w: http permissions", ErrUnimplemented)
}
