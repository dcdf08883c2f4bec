// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command enginectl is a demo driver for the alignment engine: it wires
// every in-memory store, a selectable LLM/embedding provider, and the
// full pipeline.Pipeline, then runs an interactive chat session against
// a seeded demo agent.
//
// Usage:
//
//	enginectl chat --provider anthropic --model claude-3-5-sonnet-20241022
//	enginectl chat --provider ollama --model llama3.1 --base-url http://localhost:11434
//	enginectl version
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/latchframe/alignment-engine/internal/logging"
)

// loadEnvFiles loads provider API keys and DSNs from .env.local (if
// present) then .env, the way pkg/config/env.go's LoadEnvFiles does;
// missing files are not an error, only unreadable ones are.
func loadEnvFiles() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// CLI defines enginectl's command-line interface, grounded on the
// teacher's cmd/hector CLI struct (kong-tagged subcommand fields plus
// provider-selection flags shared by every subcommand).
type CLI struct {
	Chat    ChatCmd    `cmd:"" help:"Run an interactive chat session against a seeded demo agent."`
	Version VersionCmd `cmd:"" help:"Show version information."`

	Provider string `help:"LLM provider (anthropic, openai, gemini, ollama)." default:"ollama"`
	Model    string `help:"Chat model name." default:"llama3.1"`
	APIKey   string `name:"api-key" help:"API key (defaults to the provider's environment variable)."`
	BaseURL  string `name:"base-url" help:"Custom API base URL (used by openai, anthropic, ollama)."`

	EmbedProvider string `name:"embed-provider" help:"Embedding provider (gemini, ollama, openai); empty disables retrieval/enforcement grounding checks." default:"ollama"`
	EmbedModel    string `name:"embed-model" help:"Embedding model name." default:"nomic-embed-text"`
	EmbedDim      int    `name:"embed-dim" help:"Embedding vector dimension." default:"768"`

	TenantID string `name:"tenant" help:"Tenant id for the seeded demo agent." default:"demo-tenant"`
	AgentID  string `name:"agent" help:"Agent id for the seeded demo agent." default:"demo-agent"`

	Observe  bool   `help:"Enable stdout OpenTelemetry tracing and in-process metrics."`
	LogLevel string `name:"log-level" help:"Log level (debug, info, warn, error)." default:"info"`
}

// VersionCmd prints the build version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("enginectl %s\n", version)
	return nil
}

func main() {
	if err := loadEnvFiles(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("enginectl"),
		kong.Description("Alignment engine demo driver"),
		kong.UsageOnError(),
	)

	log := logging.New(logging.ParseLevel(cli.LogLevel), os.Stderr)

	err := ctx.Run(&cli, log)
	ctx.FatalIfErrorf(err)
}
