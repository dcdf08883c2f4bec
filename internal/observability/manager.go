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
	"log/slog"
)

// Manager owns the lifecycle of the Tracer and Metrics built from one
// Config, mirroring the teacher's observability.Manager split between
// tracing and metrics subsystems.
type Manager struct {
	config  *Config
	tracer  *Tracer
	metrics *Metrics
}

// NewManager builds a Manager from cfg. A nil cfg yields a Manager
// whose Tracer/Metrics are both nil, which is safe to use throughout
// (every Tracer/Metrics method tolerates a nil receiver).
func NewManager(ctx context.Context, cfg *Config, log *slog.Logger) (*Manager, error) {
	if cfg == nil {
		return &Manager{}, nil
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("observability: invalid config: %w", err)
	}

	m := &Manager{config: cfg}

	if cfg.Tracing.Enabled {
		tracer, err := NewTracer(ctx, &cfg.Tracing)
		if err != nil {
			return nil, fmt.Errorf("observability: initializing tracer: %w", err)
		}
		m.tracer = tracer
		if log != nil {
			log.Info("observability: tracing initialized", "exporter", cfg.Tracing.Exporter, "sampling_rate", cfg.Tracing.SamplingRate)
		}
	}

	if cfg.Metrics.Enabled {
		metrics, err := NewMetrics(&cfg.Metrics, cfg.Tracing.ServiceName)
		if err != nil {
			if m.tracer != nil {
				_ = m.tracer.Shutdown(ctx)
			}
			return nil, fmt.Errorf("observability: initializing metrics: %w", err)
		}
		m.metrics = metrics
		if log != nil {
			log.Info("observability: metrics initialized")
		}
	}

	return m, nil
}

// Tracer returns the tracer, or nil when tracing is disabled.
func (m *Manager) Tracer() *Tracer {
	if m == nil {
		return nil
	}
	return m.tracer
}

// Metrics returns the metrics instruments, or nil when disabled.
func (m *Manager) Metrics() *Metrics {
	if m == nil {
		return nil
	}
	return m.metrics
}

// Shutdown tears down every enabled subsystem, collecting errors
// rather than stopping at the first one so a failing tracer shutdown
// never skips metrics shutdown.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	var errs []error
	if err := m.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
	}
	if err := m.metrics.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("observability shutdown errors: %v", errs)
	}
	return nil
}
