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
	"fmt"
	"time"
)

// Config configures the observability system. Only tracing spans and
// in-process metric instruments are in scope; Prometheus-style HTTP
// exposition of those instruments is explicitly out of scope (spec §1
// excludes an HTTP surface), so Config carries no metrics endpoint.
type Config struct {
	Tracing TracingConfig `yaml:"tracing,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Enabled turns on distributed tracing.
	Enabled bool `yaml:"enabled,omitempty"`

	// Exporter selects the trace exporter. Values: "stdout" (dev
	// driver), "otlp" (production, gRPC).
	Exporter string `yaml:"exporter,omitempty"`

	// Endpoint is the OTLP collector address, e.g. "localhost:4317".
	// Ignored for the "stdout" exporter.
	Endpoint string `yaml:"endpoint,omitempty"`

	// SamplingRate is the fraction of traces sampled, 0.0 to 1.0.
	SamplingRate float64 `yaml:"sampling_rate,omitempty"`

	// ServiceName identifies this service in traces and metrics.
	ServiceName string `yaml:"service_name,omitempty"`

	// Insecure disables TLS for the OTLP exporter connection.
	Insecure *bool `yaml:"insecure,omitempty"`
}

// MetricsConfig configures the in-process OpenTelemetry metric
// instruments (turn latency histogram, tokens-used counter). There is
// no exposition path in this package; a caller who needs Prometheus
// scraping wires its own otel/exporters/prometheus reader externally.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`
}

// SetDefaults applies default values to Config.
func (c *Config) SetDefaults() {
	c.Tracing.SetDefaults()
}

// Validate checks the Config for errors.
func (c *Config) Validate() error {
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	return nil
}

// SetDefaults applies default values to TracingConfig.
func (c *TracingConfig) SetDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
	if c.SamplingRate == 0 {
		c.SamplingRate = 1.0
	}
	if c.Exporter == "" {
		c.Exporter = "stdout"
	}
	if c.Insecure == nil {
		insecure := true
		c.Insecure = &insecure
	}
}

// Validate checks TracingConfig for errors.
func (c *TracingConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("sampling_rate must be between 0 and 1, got %f", c.SamplingRate)
	}
	switch c.Exporter {
	case "stdout":
	case "otlp":
		if c.Endpoint == "" {
			return fmt.Errorf("endpoint is required for the otlp exporter")
		}
	default:
		return fmt.Errorf("invalid exporter %q (valid: stdout, otlp)", c.Exporter)
	}
	return nil
}

// IsInsecure returns whether the OTLP exporter should skip TLS.
func (c *TracingConfig) IsInsecure() bool {
	if c.Insecure == nil {
		return true
	}
	return *c.Insecure
}

// exporterTimeout bounds OTLP exporter setup/export calls.
const exporterTimeout = 10 * time.Second
