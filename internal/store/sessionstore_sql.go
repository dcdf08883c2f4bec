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

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	// Database drivers: dialect selects which one a given *sql.DB was
	// opened with. Only sqlite is exercised without a live server, so it
	// is the one wired into the default local/demo deployment; the
	// others are pulled in so the same store works unmodified against a
	// shared Postgres or MySQL cluster.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/latchframe/alignment-engine/internal/errs"
	"github.com/latchframe/alignment-engine/internal/model"
)

const (
	createSessionsTableSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    tenant_id VARCHAR(255) NOT NULL,
    session_id VARCHAR(255) NOT NULL,
    agent_id VARCHAR(255) NOT NULL,
    channel VARCHAR(100),
    user_channel_id VARCHAR(255),
    customer_profile_id VARCHAR(255),
    active_scenario_id VARCHAR(255),
    active_step_id VARCHAR(255),
    active_scenario_version INTEGER,
    turn_count INTEGER NOT NULL DEFAULT 0,
    payload TEXT NOT NULL,
    version BIGINT NOT NULL DEFAULT 0,
    last_activity_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, session_id)
);
CREATE INDEX IF NOT EXISTS idx_sessions_agent ON sessions(tenant_id, agent_id);
CREATE INDEX IF NOT EXISTS idx_sessions_channel ON sessions(tenant_id, channel, user_channel_id);
CREATE INDEX IF NOT EXISTS idx_sessions_customer ON sessions(tenant_id, customer_profile_id);
`
)

// sessionPayload is the part of model.Session too nested to give its own
// columns; it round-trips through a single JSON text column, mirroring
// how the teacher's SQL session service stores each message body as
// message_json rather than normalizing its internal shape.
type sessionPayload struct {
	Variables           map[string]model.Value `json:"variables"`
	RuleFires           map[string]int          `json:"rule_fires"`
	RuleLastFireTurn    map[string]int          `json:"rule_last_fire_turn"`
	StepHistory         []model.StepVisit       `json:"step_history"`
	RelocalizationCount int                     `json:"relocalization_count"`
	PendingMigration    *model.PendingMigration `json:"pending_migration,omitempty"`
}

// SQLSessionStore is the production SessionStore: any database/sql
// driver the process links in (sqlite for a single-node deployment,
// Postgres or MySQL for a shared cluster), selected by dialect.
type SQLSessionStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLSessionStore opens db (already sql.Open'd by the caller with the
// driver matching dialect — "sqlite", "postgres", or "mysql") and
// ensures the sessions table exists.
func NewSQLSessionStore(ctx context.Context, db *sql.DB, dialect string) (*SQLSessionStore, error) {
	switch dialect {
	case "sqlite", "postgres", "mysql":
	default:
		return nil, errs.New(errs.InvalidRequest, fmt.Sprintf("unsupported session store dialect: %s", dialect))
	}
	s := &SQLSessionStore{db: db, dialect: dialect}
	if _, err := db.ExecContext(ctx, createSessionsTableSQL); err != nil {
		return nil, errs.Wrap(errs.Internal, "create sessions table", err)
	}
	return s, nil
}

// placeholder returns the dialect's positional parameter marker for the
// nth (1-indexed) bind variable.
func (s *SQLSessionStore) placeholder(n int) string {
	if s.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQLSessionStore) scanSession(row interface {
	Scan(dest ...any) error
}) (*model.Session, error) {
	var (
		sess                                          model.Session
		channel, userChannelID, customerProfileID     sql.NullString
		activeScenarioID, activeStepID                sql.NullString
		activeScenarioVersion                         sql.NullInt64
		payloadJSON                                   string
		lastActivityAt                                time.Time
	)
	if err := row.Scan(
		&sess.TenantID, &sess.SessionID, &sess.AgentID,
		&channel, &userChannelID, &customerProfileID,
		&activeScenarioID, &activeStepID, &activeScenarioVersion,
		&sess.TurnCount, &payloadJSON, &sess.Version, &lastActivityAt,
	); err != nil {
		return nil, err
	}
	sess.Channel = channel.String
	sess.UserChannelID = userChannelID.String
	sess.CustomerProfileID = customerProfileID.String
	sess.ActiveScenarioID = activeScenarioID.String
	sess.ActiveStepID = activeStepID.String
	sess.ActiveScenarioVer = int(activeScenarioVersion.Int64)
	sess.LastActivityAt = lastActivityAt

	var payload sessionPayload
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return nil, errs.Wrap(errs.Internal, "unmarshal session payload", err)
	}
	sess.Variables = payload.Variables
	sess.RuleFires = payload.RuleFires
	sess.RuleLastFireTurn = payload.RuleLastFireTurn
	sess.StepHistory = payload.StepHistory
	sess.RelocalizationCount = payload.RelocalizationCount
	sess.PendingMigration = payload.PendingMigration
	return &sess, nil
}

func (s *SQLSessionStore) Get(ctx context.Context, tenantID, sessionID string) (*model.Session, error) {
	query := fmt.Sprintf(`SELECT tenant_id, session_id, agent_id, channel, user_channel_id, customer_profile_id,
active_scenario_id, active_step_id, active_scenario_version, turn_count, payload, version, last_activity_at
FROM sessions WHERE tenant_id = %s AND session_id = %s`, s.placeholder(1), s.placeholder(2))
	row := s.db.QueryRowContext(ctx, query, tenantID, sessionID)
	sess, err := s.scanSession(row)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "session not found")
	}
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "query session", err)
	}
	return sess, nil
}

func (s *SQLSessionStore) GetByChannel(ctx context.Context, tenantID, channel, userChannelID string) (*model.Session, error) {
	query := fmt.Sprintf(`SELECT tenant_id, session_id, agent_id, channel, user_channel_id, customer_profile_id,
active_scenario_id, active_step_id, active_scenario_version, turn_count, payload, version, last_activity_at
FROM sessions WHERE tenant_id = %s AND channel = %s AND user_channel_id = %s`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3))
	row := s.db.QueryRowContext(ctx, query, tenantID, channel, userChannelID)
	sess, err := s.scanSession(row)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "session not found for channel")
	}
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "query session by channel", err)
	}
	return sess, nil
}

// Save performs an upsert guarded by the same optimistic-concurrency
// check as InMemorySessionStore: a write whose Version trails the
// stored row is rejected rather than silently clobbering a newer write.
func (s *SQLSessionStore) Save(ctx context.Context, session *model.Session) error {
	existing, err := s.Get(ctx, session.TenantID, session.SessionID)
	if err != nil && !errs.Is(err, errs.NotFound) {
		return err
	}
	if existing != nil && existing.Version > session.Version {
		return errs.New(errs.Conflict, "stale session write: version behind stored session")
	}
	session.Version++

	payload, err := json.Marshal(sessionPayload{
		Variables:           session.Variables,
		RuleFires:           session.RuleFires,
		RuleLastFireTurn:    session.RuleLastFireTurn,
		StepHistory:         session.StepHistory,
		RelocalizationCount: session.RelocalizationCount,
		PendingMigration:    session.PendingMigration,
	})
	if err != nil {
		return errs.Wrap(errs.Internal, "marshal session payload", err)
	}

	var upsertSQL string
	switch s.dialect {
	case "postgres":
		upsertSQL = `
INSERT INTO sessions (tenant_id, session_id, agent_id, channel, user_channel_id, customer_profile_id,
active_scenario_id, active_step_id, active_scenario_version, turn_count, payload, version, last_activity_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (tenant_id, session_id) DO UPDATE SET
  agent_id = EXCLUDED.agent_id, channel = EXCLUDED.channel, user_channel_id = EXCLUDED.user_channel_id,
  customer_profile_id = EXCLUDED.customer_profile_id, active_scenario_id = EXCLUDED.active_scenario_id,
  active_step_id = EXCLUDED.active_step_id, active_scenario_version = EXCLUDED.active_scenario_version,
  turn_count = EXCLUDED.turn_count, payload = EXCLUDED.payload, version = EXCLUDED.version,
  last_activity_at = EXCLUDED.last_activity_at`
	case "mysql":
		upsertSQL = `
INSERT INTO sessions (tenant_id, session_id, agent_id, channel, user_channel_id, customer_profile_id,
active_scenario_id, active_step_id, active_scenario_version, turn_count, payload, version, last_activity_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE agent_id = VALUES(agent_id), channel = VALUES(channel),
  user_channel_id = VALUES(user_channel_id), customer_profile_id = VALUES(customer_profile_id),
  active_scenario_id = VALUES(active_scenario_id), active_step_id = VALUES(active_step_id),
  active_scenario_version = VALUES(active_scenario_version), turn_count = VALUES(turn_count),
  payload = VALUES(payload), version = VALUES(version), last_activity_at = VALUES(last_activity_at)`
	default: // sqlite
		upsertSQL = `
INSERT INTO sessions (tenant_id, session_id, agent_id, channel, user_channel_id, customer_profile_id,
active_scenario_id, active_step_id, active_scenario_version, turn_count, payload, version, last_activity_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (tenant_id, session_id) DO UPDATE SET
  agent_id = excluded.agent_id, channel = excluded.channel, user_channel_id = excluded.user_channel_id,
  customer_profile_id = excluded.customer_profile_id, active_scenario_id = excluded.active_scenario_id,
  active_step_id = excluded.active_step_id, active_scenario_version = excluded.active_scenario_version,
  turn_count = excluded.turn_count, payload = excluded.payload, version = excluded.version,
  last_activity_at = excluded.last_activity_at`
	}

	_, err = s.db.ExecContext(ctx, upsertSQL,
		session.TenantID, session.SessionID, session.AgentID, session.Channel, session.UserChannelID,
		session.CustomerProfileID, session.ActiveScenarioID, session.ActiveStepID, session.ActiveScenarioVer,
		session.TurnCount, string(payload), session.Version, session.LastActivityAt,
	)
	if err != nil {
		return errs.Wrap(errs.Internal, "upsert session", err)
	}
	return nil
}

func (s *SQLSessionStore) Delete(ctx context.Context, tenantID, sessionID string) error {
	query := fmt.Sprintf(`DELETE FROM sessions WHERE tenant_id = %s AND session_id = %s`, s.placeholder(1), s.placeholder(2))
	res, err := s.db.ExecContext(ctx, query, tenantID, sessionID)
	if err != nil {
		return errs.Wrap(errs.Internal, "delete session", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.New(errs.NotFound, "session not found")
	}
	return nil
}

func (s *SQLSessionStore) ListByAgent(ctx context.Context, tenantID, agentID string, limit, offset int) ([]*model.Session, error) {
	if limit <= 0 {
		limit = 1 << 30
	}
	if offset < 0 {
		offset = 0
	}
	query := fmt.Sprintf(`SELECT tenant_id, session_id, agent_id, channel, user_channel_id, customer_profile_id,
active_scenario_id, active_step_id, active_scenario_version, turn_count, payload, version, last_activity_at
FROM sessions WHERE tenant_id = %s AND agent_id = %s ORDER BY session_id LIMIT %s OFFSET %s`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4))
	rows, err := s.db.QueryContext(ctx, query, tenantID, agentID, limit, offset)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "list sessions by agent", err)
	}
	defer rows.Close()
	return s.scanSessions(rows)
}

func (s *SQLSessionStore) ListByCustomer(ctx context.Context, tenantID, customerProfileID string) ([]*model.Session, error) {
	query := fmt.Sprintf(`SELECT tenant_id, session_id, agent_id, channel, user_channel_id, customer_profile_id,
active_scenario_id, active_step_id, active_scenario_version, turn_count, payload, version, last_activity_at
FROM sessions WHERE tenant_id = %s AND customer_profile_id = %s ORDER BY session_id`, s.placeholder(1), s.placeholder(2))
	rows, err := s.db.QueryContext(ctx, query, tenantID, customerProfileID)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "list sessions by customer", err)
	}
	defer rows.Close()
	return s.scanSessions(rows)
}

func (s *SQLSessionStore) FindSessionsByStepHash(ctx context.Context, tenantID, scenarioID string, version int, anchorStepID string, scopeFilter string) ([]*model.Session, error) {
	query := fmt.Sprintf(`SELECT tenant_id, session_id, agent_id, channel, user_channel_id, customer_profile_id,
active_scenario_id, active_step_id, active_scenario_version, turn_count, payload, version, last_activity_at
FROM sessions WHERE tenant_id = %s AND active_scenario_id = %s AND active_scenario_version = %s AND active_step_id = %s`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4))
	args := []any{tenantID, scenarioID, version, anchorStepID}
	if scopeFilter != "" {
		query += fmt.Sprintf(" AND customer_profile_id = %s", s.placeholder(5))
		args = append(args, scopeFilter)
	}
	query += " ORDER BY session_id"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "find sessions by step hash", err)
	}
	defer rows.Close()
	return s.scanSessions(rows)
}

func (s *SQLSessionStore) scanSessions(rows *sql.Rows) ([]*model.Session, error) {
	var out []*model.Session
	for rows.Next() {
		sess, err := s.scanSession(rows)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, "scan session row", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.Internal, "iterate session rows", err)
	}
	return out, nil
}

var _ SessionStore = (*SQLSessionStore)(nil)
