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
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/abcxyz/pkg/logging"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	return logging.WithLogger(context.Background(), logging.TestLogger(t))
}

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPosixCopy(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	src := t.TempDir()
	dest := filepath.Join(t.TempDir(), "archive")

	one := writeTestFile(t, src, "one.dat", "one")
	two := writeTestFile(t, src, "two.dat", "two")
	missing := filepath.Join(src, "missing.dat")

	p := &Posix{}
	got, err := p.Copy(ctx, dest, []string{one, two, missing})
	if err != nil {
		t.Fatal(err)
	}

	want := []string{
		filepath.Join(dest, "one.dat"),
		filepath.Join(dest, "two.dat"),
		missing, // kept as-is
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("rewritten paths diff (-want, +got):\n%s", diff)
	}

	data, err := os.ReadFile(filepath.Join(dest, "one.dat"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "one" {
		t.Errorf("copied content = %q, want %q", data, "one")
	}
	// Source survives a copy.
	if _, err := os.Stat(one); err != nil {
		t.Errorf("copy removed the source: %v", err)
	}
}

func TestPosixMove(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	src := t.TempDir()
	dest := filepath.Join(t.TempDir(), "archive")

	one := writeTestFile(t, src, "one.dat", "one")

	p := &Posix{}
	got, err := p.Move(ctx, dest, []string{one})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{filepath.Join(dest, "one.dat")}, got); diff != "" {
		t.Errorf("rewritten paths diff (-want, +got):\n%s", diff)
	}
	if _, err := os.Stat(one); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("move kept the source: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "one.dat")); err != nil {
		t.Errorf("moved file missing: %v", err)
	}
}

func TestPosixDelete(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	src := t.TempDir()

	one := writeTestFile(t, src, "one.dat", "one")

	p := &Posix{}
	got, err := p.Delete(ctx, "", []string{one})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("delete returned %v, want empty", got)
	}
	if _, err := os.Stat(one); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("delete kept the file: %v", err)
	}
}

func TestPosixBypass(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)

	p := &Posix{}
	items := []string{"/a/b.dat"}
	got, err := p.Bypass(ctx, "/dest", items)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(items, got); diff != "" {
		t.Errorf("bypass diff (-want, +got):\n%s", diff)
	}
}

func TestPosixUpload_Unimplemented(t *testing.T) {
	t.Parallel()

	p := &Posix{}
	if _, err := p.Upload(testContext(t), "/dest", nil); !errors.Is(err, ErrUnimplemented) {
		t.Errorf("err = %v, want %v", err, ErrUnimplemented)
	}
}

func TestPosixPermissions_OtherSitesNoop(t *testing.T) {
	t.Parallel()

	p := &Posix{}
	if err := p.Permissions(testContext(t), t.TempDir(), "chime"); err != nil {
		t.Errorf("permissions on non-canfar site: %v", err)
	}
}
