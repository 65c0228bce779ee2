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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/abcxyz/pkg/cli"
	"github.com/abcxyz/pkg/logging"
	"github.com/chimefrb/workflow/pkg/client"
)

var _ cli.Command = (*BucketsStatusCommand)(nil)

// BucketsStatusCommand prints the queue status.
type BucketsStatusCommand struct {
	cli.BaseCommand

	flags workspaceFlags

	pipeline string

	// testFlagSetOpts is only used for testing.
	testFlagSetOpts []cli.Option
}

func (c *BucketsStatusCommand) Desc() string {
	return `Show the Buckets queue status`
}

func (c *BucketsStatusCommand) Help() string {
	return `
Usage: {{ COMMAND }} [options]

  Print the queue status as JSON, optionally scoped to one pipeline.
`
}

func (c *BucketsStatusCommand) Flags() *cli.FlagSet {
	set := cli.NewFlagSet(c.testFlagSetOpts...)
	c.flags.register(set)

	f := set.NewSection("STATUS OPTIONS")

	f.StringVar(&cli.StringVar{
		Name:   "pipeline",
		Target: &c.pipeline,
		Usage:  "Scope the status to one pipeline.",
	})

	return set
}

func (c *BucketsStatusCommand) Run(ctx context.Context, args []string) error {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}
	if args = f.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected arguments: %q", args)
	}

	buckets, err := c.buckets(ctx)
	if err != nil {
		return err
	}

	status, err := buckets.Status(ctx, c.pipeline)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}
	fmt.Fprintln(c.Stdout(), string(out))
	return nil
}

func (c *BucketsStatusCommand) buckets(ctx context.Context) (*client.Buckets, error) {
	ws, err := c.flags.workspace()
	if err != nil {
		return nil, err
	}
	clients, err := c.flags.clients(ctx, ws)
	if err != nil {
		return nil, err
	}
	if clients.Buckets == nil {
		return nil, fmt.Errorf("workspace does not declare a buckets backend")
	}
	return clients.Buckets, nil
}

var _ cli.Command = (*BucketsDeleteCommand)(nil)

// BucketsDeleteCommand removes the works of a pipeline from the queue.
// The deletion is two-phase: matching works are counted first and removed
// only after the operator confirms.
type BucketsDeleteCommand struct {
	cli.BaseCommand

	flags workspaceFlags

	pipeline string
	status   string
	events   []string
	force    bool

	// testFlagSetOpts is only used for testing.
	testFlagSetOpts []cli.Option
}

func (c *BucketsDeleteCommand) Desc() string {
	return `Delete the works of a pipeline from the queue`
}

func (c *BucketsDeleteCommand) Help() string {
	return `
Usage: {{ COMMAND }} [options] PIPELINE

  List the works of a pipeline matching the filters, then delete them
  after confirmation. Use -force to skip the prompt.
`
}

func (c *BucketsDeleteCommand) Flags() *cli.FlagSet {
	set := cli.NewFlagSet(c.testFlagSetOpts...)
	c.flags.register(set)

	f := set.NewSection("DELETE OPTIONS")

	f.StringVar(&cli.StringVar{
		Name:    "status",
		Target:  &c.status,
		Usage:   "Only delete works in this status.",
		Example: "failure",
	})

	f.StringSliceVar(&cli.StringSliceVar{
		Name:   "event",
		Target: &c.events,
		Usage:  "Only delete works carrying this event number. Repeatable.",
	})

	f.BoolVar(&cli.BoolVar{
		Name:   "force",
		Target: &c.force,
		Usage:  "Skip the confirmation prompt.",
	})

	return set
}

func (c *BucketsDeleteCommand) Run(ctx context.Context, args []string) error {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}
	args = f.Args()
	if len(args) != 1 {
		return fmt.Errorf("exactly one pipeline is required")
	}
	c.pipeline = args[0]

	events := make([]int64, 0, len(c.events))
	for _, raw := range c.events {
		event, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid event number %q: %w", raw, err)
		}
		events = append(events, event)
	}

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

	deleted, err := clients.Buckets.DeleteMany(ctx, c.pipeline, c.status, events, c.force, c.confirm)
	if err != nil {
		return err
	}

	logging.FromContext(ctx).InfoContext(ctx, "bucket deletion finished",
		"pipeline", c.pipeline,
		"deleted", deleted)
	fmt.Fprintf(c.Stdout(), "deleted %d works from %q\n", deleted, c.pipeline)
	return nil
}

// confirm asks the operator to approve the deletion on stdin.
func (c *BucketsDeleteCommand) confirm(ctx context.Context, summary string) (bool, error) {
	fmt.Fprintf(c.Stdout(), "%s [y/N]: ", summary)
	line, err := bufio.NewReader(c.Stdin()).ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
