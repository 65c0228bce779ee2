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
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/abcxyz/pkg/logging"
	"github.com/abcxyz/pkg/testutil"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	return logging.WithLogger(context.Background(), logging.TestLogger(t))
}

func TestNew(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)

	cases := []struct {
		name       string
		opts       *Options
		expTimeout time.Duration
		expErr     string
	}{
		{
			name:       "defaults",
			opts:       &Options{BaseURL: "http://localhost:8004"},
			expTimeout: DefaultTimeout,
		},
		{
			name:       "timeout_clamped_low",
			opts:       &Options{BaseURL: "http://localhost:8004", Timeout: time.Millisecond},
			expTimeout: MinTimeout,
		},
		{
			name:       "timeout_clamped_high",
			opts:       &Options{BaseURL: "http://localhost:8004", Timeout: 5 * time.Minute},
			expTimeout: MaxTimeout,
		},
		{
			name:   "missing_baseurl",
			opts:   &Options{},
			expErr: "baseurl is required",
		},
		{
			name:   "nil_options",
			expErr: "baseurl is required",
		},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c, err := New(ctx, tc.opts)
			if diff := testutil.DiffErrString(err, tc.expErr); diff != "" {
				t.Fatal(diff)
			}
			if err != nil {
				return
			}
			if got, want := c.timeout, tc.expTimeout; got != want {
				t.Errorf("timeout = %v, want %v", got, want)
			}
		})
	}
}

func TestNew_TrimsBaseURL(t *testing.T) {
	t.Parallel()

	c, err := New(testContext(t), &Options{BaseURL: "http://localhost:8004/"})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := c.BaseURL(), "http://localhost:8004"; got != want {
		t.Errorf("BaseURL = %q, want %q", got, want)
	}
}

func TestDo_Headers(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)

	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		fmt.Fprint(w, `{"ok":true}`)
	}))
	t.Cleanup(srv.Close)

	c, err := New(ctx, &Options{
		BaseURL:     srv.URL,
		Token:       "test-token",
		TokenHeader: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	var out map[string]any
	if err := c.do(ctx, http.MethodGet, "/version", nil, nil, &out); err != nil {
		t.Fatal(err)
	}

	if got, want := gotHeaders.Get("User-Agent"), userAgent; got != want {
		t.Errorf("User-Agent = %q, want %q", got, want)
	}
	if got := gotHeaders.Get("X-Workflow-Core-Version"); got == "" {
		t.Error("X-Workflow-Core-Version header missing")
	}
	if got := gotHeaders.Get("X-Workflow-Client-OS"); got == "" {
		t.Error("X-Workflow-Client-OS header missing")
	}
	if got, want := gotHeaders.Get("x-access-token"), "test-token"; got != want {
		t.Errorf("x-access-token = %q, want %q", got, want)
	}
}

func TestDo_NoTokenHeaderWithoutAuth(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)

	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		fmt.Fprint(w, `{}`)
	}))
	t.Cleanup(srv.Close)

	c, err := New(ctx, &Options{BaseURL: srv.URL, Token: "test-token"})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.do(ctx, http.MethodGet, "/version", nil, nil, nil); err != nil {
		t.Fatal(err)
	}
	if got := gotHeaders.Get("x-access-token"); got != "" {
		t.Errorf("x-access-token = %q, want empty", got)
	}
}

func TestDo_ErrorMapping(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)

	cases := []struct {
		name   string
		status int
		expErr error
	}{
		{"bad_request", http.StatusBadRequest, ErrInvalidRequest},
		{"not_found", http.StatusNotFound, ErrInvalidRequest},
		{"server_error", http.StatusInternalServerError, ErrTransient},
		{"bad_gateway", http.StatusBadGateway, ErrTransient},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tc.status)
			}))
			t.Cleanup(srv.Close)

			c, err := New(ctx, &Options{BaseURL: srv.URL})
			if err != nil {
				t.Fatal(err)
			}

			err = c.do(ctx, http.MethodGet, "/version", nil, nil, nil)
			if !errors.Is(err, tc.expErr) {
				t.Errorf("err = %v, want %v", err, tc.expErr)
			}
		})
	}
}

func TestDo_NetworkError(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)

	// A server that is immediately closed yields a connection error.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c, err := New(ctx, &Options{BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	err = c.do(ctx, http.MethodGet, "/version", nil, nil, nil)
	if !errors.Is(err, ErrTransient) {
		t.Errorf("err = %v, want %v", err, ErrTransient)
	}
}

func TestWithRetry_NeverRetriesInvalidRequest(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)

	c, err := New(ctx, &Options{BaseURL: "http://localhost:8004"})
	if err != nil {
		t.Fatal(err)
	}

	calls := 0
	err = c.withRetry(ctx, func(ctx context.Context) error {
		calls++
		return fmt.Errorf("%w: no", ErrInvalidRequest)
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("err = %v, want %v", err, ErrInvalidRequest)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestWithRetry_RetriesTransient(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)

	c, err := New(ctx, &Options{BaseURL: "http://localhost:8004"})
	if err != nil {
		t.Fatal(err)
	}

	calls := 0
	if err := c.withRetry(ctx, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("%w: flaky", ErrTransient)
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestToken(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		explicit string
		env      map[string]string
		exp      string
	}{
		{
			name:     "explicit_wins",
			explicit: "explicit",
			env:      map[string]string{"WORKFLOW_HTTP_TOKEN": "from-env"},
			exp:      "explicit",
		},
		{
			name: "precedence_order",
			env: map[string]string{
				"GITHUB_TOKEN":        "github",
				"WORKFLOW_HTTP_TOKEN": "workflow-http",
			},
			exp: "workflow-http",
		},
		{
			name: "fallback",
			env:  map[string]string{"GITHUB_PAT": "pat"},
			exp:  "pat",
		},
		{
			name: "empty",
			env:  map[string]string{},
			exp:  "",
		},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := Token(tc.explicit, envconfig.MapLookuper(tc.env))
			if got != tc.exp {
				t.Errorf("Token = %q, want %q", got, tc.exp)
			}
		})
	}
}
