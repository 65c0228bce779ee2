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
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/abcxyz/pkg/cli"
	"github.com/abcxyz/pkg/logging"
	"github.com/chimefrb/workflow/pkg/archive"
	"github.com/chimefrb/workflow/pkg/client"
	"github.com/chimefrb/workflow/pkg/lifecycle"
	"github.com/chimefrb/workflow/pkg/version"
)

var _ cli.Command = (*RunCommand)(nil)

// RunCommand starts a worker: it withdraws work for the named pipelines
// and runs each through execute, archive, notify and report.
type RunCommand struct {
	cli.BaseCommand

	flags workspaceFlags

	pipelines []string
	site      string
	tags      []string
	parent    string
	events    []string
	function  string
	command   string
	lives     int
	sleep     time.Duration
	maxLoad   float64

	// testFlagSetOpts is only used for testing.
	testFlagSetOpts []cli.Option

	// testRegistry is only used for testing.
	testRegistry *lifecycle.Registry
}

func (c *RunCommand) Desc() string {
	return `Run a worker against the named pipelines`
}

func (c *RunCommand) Help() string {
	return `
Usage: {{ COMMAND }} [options] PIPELINE [PIPELINE...]

  Withdraw work for the named pipelines and run each to completion:
  execute the function or command, archive its artifacts, send any
  configured notifications and report the outcome back to the queue.
`
}

func (c *RunCommand) Flags() *cli.FlagSet {
	set := cli.NewFlagSet(c.testFlagSetOpts...)
	c.flags.register(set)

	f := set.NewSection("WORKER OPTIONS")

	f.StringVar(&cli.StringVar{
		Name:    "site",
		Target:  &c.site,
		EnvVar:  "WORKFLOW_SITE",
		Usage:   "Only withdraw work destined for this site.",
		Example: "chime",
	})

	f.StringSliceVar(&cli.StringSliceVar{
		Name:   "tag",
		Target: &c.tags,
		Usage:  "Only withdraw work carrying this tag. Repeatable.",
	})

	f.StringVar(&cli.StringVar{
		Name:   "parent",
		Target: &c.parent,
		Usage:  "Only withdraw work belonging to this parent pipeline.",
	})

	f.StringSliceVar(&cli.StringSliceVar{
		Name:   "event",
		Target: &c.events,
		Usage:  "Only withdraw work carrying this event number. Repeatable.",
	})

	f.StringVar(&cli.StringVar{
		Name:   "function",
		Target: &c.function,
		Usage:  "Run this registered function for every withdrawn work, ignoring the work's own entrypoint.",
	})

	f.StringVar(&cli.StringVar{
		Name:    "command",
		Target:  &c.command,
		Usage:   "Run this command for every withdrawn work, ignoring the work's own entrypoint. Split on spaces.",
		Example: "python process.py",
	})

	f.IntVar(&cli.IntVar{
		Name:    "lives",
		Target:  &c.lives,
		Default: -1,
		Usage:   "Stop after this many works; -1 runs forever.",
	})

	f.DurationVar(&cli.DurationVar{
		Name:    "sleep",
		Target:  &c.sleep,
		Default: lifecycle.DefaultSleep,
		Usage:   "Pause between attempts when the queue is empty. Bounded to [1s, 5m].",
	})

	f.Float64Var(&cli.Float64Var{
		Name:   "max-load",
		Target: &c.maxLoad,
		Usage:  "Hold off withdrawing while the 1-minute load average exceeds this; 0 disables.",
	})

	return set
}

func (c *RunCommand) Run(ctx context.Context, args []string) error {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}
	c.pipelines = f.Args()
	if len(c.pipelines) == 0 {
		return fmt.Errorf("at least one pipeline is required")
	}
	if c.function != "" && c.command != "" {
		return fmt.Errorf("function and command overloads cannot be set together")
	}

	events := make([]int64, 0, len(c.events))
	for _, raw := range c.events {
		event, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid event number %q: %w", raw, err)
		}
		events = append(events, event)
	}

	logger := logging.FromContext(ctx)
	logger.DebugContext(ctx, "starting worker",
		"name", version.Name,
		"version", version.Version,
		"commit", version.Commit,
		"pipelines", c.pipelines,
		"site", c.site)

	ws, err := c.flags.workspace()
	if err != nil {
		return err
	}
	clients, err := c.flags.clients(ctx, ws)
	if err != nil {
		return err
	}
	if clients.Buckets == nil {
		return fmt.Errorf("workspace does not declare a buckets backend")
	}

	registry := c.testRegistry
	if registry == nil {
		registry = lifecycle.NewRegistry()
	}

	worker := &lifecycle.Lifecycle{
		Buckets:   clients.Buckets,
		Workspace: ws,
		Archiver:  archive.New(ctx, envconfig.OsLookuper()),
		Registry:  registry,
		Notifier:  lifecycle.NewSlackNotifier(envconfig.OsLookuper(), ws.HTTP.BaseURLs.Products),
		Filter: client.WithdrawFilter{
			Pipelines: c.pipelines,
			Site:      c.site,
			Tags:      c.tags,
			Parent:    c.parent,
			Event:     events,
		},
		Function: c.function,
		Command:  strings.Fields(c.command),
		Lives:    c.lives,
		Sleep:    c.sleep,
		MaxLoad:  c.maxLoad,
	}

	attempted, err := worker.Run(ctx)
	if err != nil {
		return fmt.Errorf("worker failed: %w", err)
	}
	logger.InfoContext(ctx, "worker finished", "attempted", attempted)
	return nil
}
