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

// Package logging provides the slog setup shared by every stage of the
// turn pipeline: a level parsed from configuration, a handler that
// drops records below that level, and context-scoped loggers
// carrying tenant/agent/session/turn identifiers.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

const enginePackagePrefix = "github.com/latchframe/alignment-engine"

type ctxKey struct{}

// ParseLevel converts a configured level string to slog.Level.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds the root logger for the process. When w is nil it defaults
// to stderr. Records below level are dropped; records are not filtered
// by the package that emitted them.
func New(level slog.Level, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	handler := &filteringHandler{
		handler:  slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}),
		minLevel: level,
	}
	return slog.New(handler)
}

type filteringHandler struct {
	handler  slog.Handler
	minLevel slog.Level
}

func (h *filteringHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.minLevel
}

func (h *filteringHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.handler.Handle(ctx, r)
}

func (h *filteringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &filteringHandler{handler: h.handler.WithAttrs(attrs), minLevel: h.minLevel}
}

func (h *filteringHandler) WithGroup(name string) slog.Handler {
	return &filteringHandler{handler: h.handler.WithGroup(name), minLevel: h.minLevel}
}

// WithTurn returns a context carrying a logger scoped to one turn's
// identifiers, and the scoped logger itself for immediate use.
func WithTurn(ctx context.Context, base *slog.Logger, tenantID, agentID, sessionID, turnID string) (context.Context, *slog.Logger) {
	scoped := base.With(
		slog.String("tenant_id", tenantID),
		slog.String("agent_id", agentID),
		slog.String("session_id", sessionID),
		slog.String("turn_id", turnID),
	)
	return context.WithValue(ctx, ctxKey{}, scoped), scoped
}

// FromContext returns the logger attached by WithTurn, or fallback if none
// was attached.
func FromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return fallback
}
