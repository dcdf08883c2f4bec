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
	"time"

	_ "github.com/lib/pq"

	"github.com/latchframe/alignment-engine/internal/errs"
	"github.com/latchframe/alignment-engine/internal/model"
)

const (
	createTurnsTableSQL = `
CREATE TABLE IF NOT EXISTS turn_records (
    tenant_id VARCHAR(255) NOT NULL,
    session_id VARCHAR(255) NOT NULL,
    turn_id VARCHAR(255) NOT NULL,
    turn_number INTEGER NOT NULL,
    payload JSONB NOT NULL,
    occurred_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (tenant_id, session_id, turn_id)
);
CREATE INDEX IF NOT EXISTS idx_turns_session ON turn_records(tenant_id, session_id, turn_number);
CREATE INDEX IF NOT EXISTS idx_turns_tenant_time ON turn_records(tenant_id, occurred_at);
`
	createAuditEventsTableSQL = `
CREATE TABLE IF NOT EXISTS audit_events (
    id BIGSERIAL PRIMARY KEY,
    tenant_id VARCHAR(255) NOT NULL,
    agent_id VARCHAR(255) NOT NULL,
    kind VARCHAR(100) NOT NULL,
    payload JSONB,
    occurred_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_events_tenant ON audit_events(tenant_id, occurred_at);
`
)

// PostgresAuditStore is the production AuditStore: an append-only
// turn_records table plus a parallel audit_events table, following the
// teacher's pattern of storing the record body as a single JSON column
// (pkg/memory/session_service_sql.go's message_json) rather than
// normalizing every TurnRecord field.
type PostgresAuditStore struct {
	db *sql.DB
}

func NewPostgresAuditStore(ctx context.Context, db *sql.DB) (*PostgresAuditStore, error) {
	s := &PostgresAuditStore{db: db}
	if _, err := db.ExecContext(ctx, createTurnsTableSQL); err != nil {
		return nil, errs.Wrap(errs.Internal, "create turn_records table", err)
	}
	if _, err := db.ExecContext(ctx, createAuditEventsTableSQL); err != nil {
		return nil, errs.Wrap(errs.Internal, "create audit_events table", err)
	}
	return s, nil
}

func (s *PostgresAuditStore) SaveTurn(ctx context.Context, turn *model.TurnRecord) error {
	payload, err := json.Marshal(turn)
	if err != nil {
		return errs.Wrap(errs.Internal, "marshal turn record", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO turn_records (tenant_id, session_id, turn_id, turn_number, payload, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (tenant_id, session_id, turn_id) DO UPDATE SET
  turn_number = EXCLUDED.turn_number, payload = EXCLUDED.payload, occurred_at = EXCLUDED.occurred_at`,
		turn.TenantID, turn.SessionID, turn.TurnID, turn.TurnNumber, payload, turn.Timestamp)
	if err != nil {
		return errs.Wrap(errs.Internal, "insert turn record", err)
	}
	return nil
}

func (s *PostgresAuditStore) GetTurn(ctx context.Context, tenantID, sessionID, turnID string) (*model.TurnRecord, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM turn_records WHERE tenant_id = $1 AND session_id = $2 AND turn_id = $3`,
		tenantID, sessionID, turnID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "turn record not found")
	}
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "query turn record", err)
	}
	var turn model.TurnRecord
	if err := json.Unmarshal(payload, &turn); err != nil {
		return nil, errs.Wrap(errs.Internal, "unmarshal turn record", err)
	}
	return &turn, nil
}

func (s *PostgresAuditStore) ListTurnsBySession(ctx context.Context, tenantID, sessionID string, limit, offset int) ([]*model.TurnRecord, error) {
	if limit <= 0 {
		limit = 1 << 30
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT payload FROM turn_records WHERE tenant_id = $1 AND session_id = $2
ORDER BY turn_number LIMIT $3 OFFSET $4`, tenantID, sessionID, limit, offset)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "list turns by session", err)
	}
	defer rows.Close()
	return scanTurnRecords(rows)
}

func (s *PostgresAuditStore) ListTurnsByTenant(ctx context.Context, tenantID string, from, to time.Time) ([]*model.TurnRecord, error) {
	query := `SELECT payload FROM turn_records WHERE tenant_id = $1`
	args := []any{tenantID}
	if !from.IsZero() {
		args = append(args, from)
		query += " AND occurred_at >= $" + itoa(len(args))
	}
	if !to.IsZero() {
		args = append(args, to)
		query += " AND occurred_at <= $" + itoa(len(args))
	}
	query += " ORDER BY occurred_at"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "list turns by tenant", err)
	}
	defer rows.Close()
	return scanTurnRecords(rows)
}

func scanTurnRecords(rows *sql.Rows) ([]*model.TurnRecord, error) {
	var out []*model.TurnRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, errs.Wrap(errs.Internal, "scan turn record row", err)
		}
		var turn model.TurnRecord
		if err := json.Unmarshal(payload, &turn); err != nil {
			return nil, errs.Wrap(errs.Internal, "unmarshal turn record", err)
		}
		out = append(out, &turn)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.Internal, "iterate turn record rows", err)
	}
	return out, nil
}

func (s *PostgresAuditStore) SaveEvent(ctx context.Context, event AuditEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return errs.Wrap(errs.Internal, "marshal audit event payload", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO audit_events (tenant_id, agent_id, kind, payload, occurred_at) VALUES ($1, $2, $3, $4, $5)`,
		event.TenantID, event.AgentID, event.Kind, payload, event.Timestamp)
	if err != nil {
		return errs.Wrap(errs.Internal, "insert audit event", err)
	}
	return nil
}

var _ AuditStore = (*PostgresAuditStore)(nil)
