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

package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/sethvargo/go-envconfig"
	"github.com/slack-go/slack"

	"github.com/chimefrb/workflow/pkg/work"
)

// SlackTokenEnvVar sources the bot token for completion notifications.
const SlackTokenEnvVar = "WORKFLOW_SLACK_TOKEN" //nolint:gosec

// Notifier posts a completion notification for a finished work.
type Notifier interface {
	Notify(ctx context.Context, w *work.Work) error
}

// SlackNotifier posts completion messages to the channel a work names in
// its notify block. Artifact paths are wrapped as markdown links against
// the products base URL when one is configured.
type SlackNotifier struct {
	client      *slack.Client
	productsURL string
}

// NewSlackNotifier creates a notifier from the environment token. Returns
// nil without error when no token is configured; notifications are then
// skipped.
func NewSlackNotifier(lu envconfig.Lookuper, productsURL string) *SlackNotifier {
	if lu == nil {
		lu = envconfig.OsLookuper()
	}
	token, _ := lu.Lookup(SlackTokenEnvVar)
	if token == "" {
		return nil
	}
	return &SlackNotifier{
		client:      slack.New(token),
		productsURL: productsURL,
	}
}

// Notify posts the completion message. A work without a notify target is
// a no-op.
func (n *SlackNotifier) Notify(ctx context.Context, w *work.Work) error {
	if n == nil || !w.Notify.Configured() {
		return nil
	}
	_, _, err := n.client.PostMessageContext(ctx, w.Notify.Slack.ChannelID,
		slack.MsgOptionText(n.message(w), false))
	if err != nil {
		return fmt.Errorf("failed to post slack notification: %w", err)
	}
	return nil
}

func (n *SlackNotifier) message(w *work.Work) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s* finished with status *%s*\n", w.Pipeline, w.Status)
	fmt.Fprintf(&b, "id: `%s` site: `%s` attempt: %d/%d\n", w.ID, w.Site, w.Attempt, w.Retries+1)
	if len(w.Products) > 0 {
		fmt.Fprintf(&b, "products: %s\n", strings.Join(n.links(w.Products), ", "))
	}
	if len(w.Plots) > 0 {
		fmt.Fprintf(&b, "plots: %s\n", strings.Join(n.links(w.Plots), ", "))
	}
	return b.String()
}

// links wraps archived paths in slack markdown pointing at the products
// server. Paths already carrying a scheme are left bare.
func (n *SlackNotifier) links(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if n.productsURL == "" || strings.Contains(p, "://") {
			out = append(out, p)
			continue
		}
		out = append(out, fmt.Sprintf("<%s%s|%s>", n.productsURL, p, p))
	}
	return out
}
