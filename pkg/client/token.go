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

import "github.com/sethvargo/go-envconfig"

// tokenEnvVars in precedence order, first hit wins.
var tokenEnvVars = []string{
	"WORKFLOW_HTTP_TOKEN",
	"WORKFLOW_TOKEN",
	"GITHUB_TOKEN",
	"GITHUB_PAT",
}

// Token resolves the access token: an explicit value wins, otherwise the
// environment is searched in precedence order.
func Token(explicit string, lu envconfig.Lookuper) string {
	if explicit != "" {
		return explicit
	}
	if lu == nil {
		lu = envconfig.OsLookuper()
	}
	for _, key := range tokenEnvVars {
		if v, ok := lu.Lookup(key); ok && v != "" {
			return v
		}
	}
	return ""
}
