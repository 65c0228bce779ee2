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

var _ cli.Command = (*TransferCommand)(nil)

// TransferCommand runs the results transfer daemon.
type TransferCommand struct {
	cli.BaseCommand

	flags workspaceFlags

	interval time.Duration
	limit    int
	cutoff   time.Duration
	once     bool

	// testFlagSetOpts is only used for testing.
	testFlagSetOpts []cli.Option
}

func (c *TransferCommand) Desc() string {
	return `Run the Buckets to Results transfer daemon`
}

func (c *TransferCommand) Help() string {
	return `
Usage: {{ COMMAND }} [options]

  Periodically drain terminal work out of the Buckets queue. Work whose
  config asks for results archival is deposited into Results before
  deletion; everything else is deleted outright.
`
}

func (c *TransferCommand) Flags() *cli.FlagSet {
	set := cli.NewFlagSet(c.testFlagSetOpts...)
	c.flags.register(set)

	f := set.NewSection("TRANSFER OPTIONS")

	f.DurationVar(&cli.DurationVar{
		Name:    "interval",
		Target:  &c.interval,
		Default: daemon.DefaultInterval,
		Usage:   "Pause between transfer rounds.",
	})

	f.IntVar(&cli.IntVar{
		Name:   "limit",
		Target: &c.limit,
		Usage:  "Cap on the rows each query moves per round; 0 uses the default.",
	})

	f.DurationVar(&cli.DurationVar{
		Name:    "cutoff",
		Target:  &c.cutoff,
		Default: daemon.CutoffSeconds * time.Second,
		Usage:   "Age past which terminal work is deleted regardless of outcome.",
	})

	f.BoolVar(&cli.BoolVar{
		Name:   "once",
		Target: &c.once,
		Usage:  "Run a single round and exit.",
	})

	return set
}

func (c *TransferCommand) Run(ctx context.Context, args []string) error {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}
	if args = f.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected arguments: %q", args)
	}

	logger := logging.FromContext(ctx)

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
	if clients.Results == nil {
		logger.WarnContext(ctx, "workspace declares no results backend, terminal work will be deleted without transfer")
	}
	if !ws.Config.Archive.Results {
		logger.WarnContext(ctx, "workspace archival switch is off, terminal work will be deleted without transfer")
	}

	transfer := &daemon.Transfer{
		Buckets:  clients.Buckets,
		Results:  clients.Results,
		Archive:  ws.Config.Archive.Results,
		Interval: c.interval,
		Limit:    c.limit,
		Cutoff:   c.cutoff,
	}

	if c.once {
		counts, err := transfer.Tick(ctx)
		if err != nil {
			return err
		}
		logger.InfoContext(ctx, "transfer complete",
			"transfered", counts["transfered"],
			"deleted", counts["deleted"])
		return nil
	}
	return transfer.Run(ctx)
}
