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
	"time"

	"github.com/abcxyz/pkg/cli"
	"github.com/abcxyz/pkg/logging"
	"github.com/chimefrb/workflow/pkg/daemon"
)

var _ cli.Command = (*AuditCommand)(nil)

// AuditCommand runs the queue maintenance daemon.
type AuditCommand struct {
	cli.BaseCommand

	flags workspaceFlags

	interval time.Duration
	once     bool

	// testFlagSetOpts is only used for testing.
	testFlagSetOpts []cli.Option
}

func (c *AuditCommand) Desc() string {
	return `Run the Buckets audit daemon`
}

func (c *AuditCommand) Help() string {
	return `
Usage: {{ COMMAND }} [options]

  Periodically sweep the Buckets queue: requeue retryable failures,
  expire running work past its deadline and fail work older than seven
  days.
`
}

func (c *AuditCommand) Flags() *cli.FlagSet {
	set := cli.NewFlagSet(c.testFlagSetOpts...)
	c.flags.register(set)

	f := set.NewSection("AUDIT OPTIONS")

	f.DurationVar(&cli.DurationVar{
		Name:    "interval",
		Target:  &c.interval,
		Default: daemon.DefaultInterval,
		Usage:   "Pause between audit sweeps.",
	})

	f.BoolVar(&cli.BoolVar{
		Name:   "once",
		Target: &c.once,
		Usage:  "Run a single sweep and exit.",
	})

	return set
}

func (c *AuditCommand) Run(ctx context.Context, args []string) error {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}
	if args = f.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected arguments: %q", args)
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

	audit := &daemon.Audit{
		Buckets:  clients.Buckets,
		Interval: c.interval,
	}

	if c.once {
		counts, err := audit.Tick(ctx)
		if err != nil {
			return err
		}
		logging.FromContext(ctx).InfoContext(ctx, "audit complete",
			"failed", counts["failed"],
			"expired", counts["expired"],
			"stale", counts["stale"])
		return nil
	}
	return audit.Run(ctx)
}
