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

package toolexec

import (
	"fmt"

	consulapi "github.com/hashicorp/consul/api"
)

// ConsulResolver resolves a ToolActivationPolicy.ConsulService name to a
// dialable "host:port" of one healthy instance. The teacher only uses
// hashicorp/consul/api for config-loading (pkg/config/koanf_loader.go,
// pkg/config/provider/provider.go); this repurposes the same client for
// tool service discovery, which the teacher does not do.
type ConsulResolver struct {
	client *consulapi.Client
}

func NewConsulResolver(cfg *consulapi.Config) (*ConsulResolver, error) {
	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create consul client: %w", err)
	}
	return &ConsulResolver{client: client}, nil
}

// Resolve returns the address of the first passing-health instance
// registered under serviceName.
func (r *ConsulResolver) Resolve(serviceName string) (string, error) {
	entries, _, err := r.client.Health().Service(serviceName, "", true, nil)
	if err != nil {
		return "", fmt.Errorf("consul health lookup %q: %w", serviceName, err)
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("no healthy instances for consul service %q", serviceName)
	}

	entry := entries[0]
	addr := entry.Service.Address
	if addr == "" {
		addr = entry.Node.Address
	}
	return fmt.Sprintf("%s:%d", addr, entry.Service.Port), nil
}
