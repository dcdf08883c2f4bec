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

const (
	AttrServiceName    = "service.name"
	AttrServiceVersion = "service.version"
	AttrTenantID       = "alignment.tenant_id"
	AttrAgentID        = "alignment.agent_id"
	AttrSessionID      = "alignment.session_id"
	AttrTurnID         = "alignment.turn_id"
	AttrStageName      = "alignment.stage"
	AttrRuleCount      = "alignment.matched_rule_count"
	AttrToolCount      = "alignment.tool_count"
	AttrTokensUsed     = "alignment.tokens_used"
	AttrErrorType      = "error.type"
	AttrErrorMessage   = "error.message"

	SpanTurn = "pipeline.turn"

	// Per-stage span names mirror the map keys Pipeline.Run populates in
	// AlignmentResult.PerStageTimings, so a trace and the returned
	// timing breakdown always agree on stage naming.
	SpanMigrationReconcile = "pipeline.migration_reconcile"
	SpanContextExtraction  = "pipeline.context_extraction"
	SpanRetrieval          = "pipeline.retrieval"
	SpanRerank             = "pipeline.rerank"
	SpanRuleFilter         = "pipeline.rule_filter"
	SpanScenarioNavigation = "pipeline.scenario_navigation"
	SpanToolExecution      = "pipeline.tool_execution"
	SpanGeneration         = "pipeline.generation"
	SpanEnforcement        = "pipeline.enforcement"

	DefaultServiceName = "alignment-engine"
)
