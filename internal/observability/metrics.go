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

package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the in-process OpenTelemetry instruments a turn
// records into. There is deliberately no Prometheus-style HTTP
// exposition here (spec §1 excludes an HTTP surface); a deployment
// that wants scraping attaches its own sdkmetric.Reader to the
// MeterProvider this package builds.
type Metrics struct {
	provider *sdkmetric.MeterProvider

	turnLatency *latencyRecorder
	tokensUsed  metric.Int64Counter
	stageErrors metric.Int64Counter
}

type latencyRecorder struct {
	hist metric.Float64Histogram
}

// NewMetrics builds the turn-latency histogram and tokens-used counter
// described by SPEC_FULL.md's ambient observability stack, or returns
// (nil, nil) when metrics are disabled so callers can treat the zero
// value as "off" the same way NewTracer does.
func NewMetrics(cfg *MetricsConfig, serviceName string) (*Metrics, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	provider := sdkmetric.NewMeterProvider()
	meter := provider.Meter(serviceName)

	turnLatency, err := meter.Float64Histogram(
		"alignment.turn.latency_ms",
		metric.WithDescription("End-to-end turn latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: creating turn latency histogram: %w", err)
	}

	tokensUsed, err := meter.Int64Counter(
		"alignment.turn.tokens_used",
		metric.WithDescription("Tokens consumed by response generation LLM calls"),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: creating tokens-used counter: %w", err)
	}

	stageErrors, err := meter.Int64Counter(
		"alignment.turn.stage_errors",
		metric.WithDescription("Errors returned by a named pipeline stage"),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: creating stage-errors counter: %w", err)
	}

	return &Metrics{
		provider:    provider,
		turnLatency: &latencyRecorder{hist: turnLatency},
		tokensUsed:  tokensUsed,
		stageErrors: stageErrors,
	}, nil
}

// RecordTurn records one completed turn's latency and token usage.
func (m *Metrics) RecordTurn(ctx context.Context, tenantID, agentID string, latency time.Duration, tokensUsed int) {
	if m == nil {
		return
	}
	attrs := attribute.NewSet(
		attribute.String(AttrTenantID, tenantID),
		attribute.String(AttrAgentID, agentID),
	)
	m.turnLatency.hist.Record(ctx, float64(latency.Milliseconds()), metric.WithAttributeSet(attrs))
	m.tokensUsed.Add(ctx, int64(tokensUsed), metric.WithAttributeSet(attrs))
}

// RecordStageError increments the stage-error counter for one stage.
func (m *Metrics) RecordStageError(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	m.stageErrors.Add(ctx, 1, metric.WithAttributeSet(attribute.NewSet(attribute.String(AttrStageName, stage))))
}

// Shutdown stops the underlying MeterProvider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
