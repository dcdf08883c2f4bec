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

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/latchframe/alignment-engine/internal/errs"
	"github.com/latchframe/alignment-engine/internal/model"
)

const (
	createProfilesTableSQL = `
CREATE TABLE IF NOT EXISTS customer_profiles (
    tenant_id VARCHAR(255) NOT NULL,
    profile_id VARCHAR(255) NOT NULL,
    payload JSON NOT NULL,
    PRIMARY KEY (tenant_id, profile_id)
);
`
	createProfileChannelsTableSQL = `
CREATE TABLE IF NOT EXISTS customer_profile_channels (
    tenant_id VARCHAR(255) NOT NULL,
    channel VARCHAR(100) NOT NULL,
    user_channel_id VARCHAR(255) NOT NULL,
    profile_id VARCHAR(255) NOT NULL,
    PRIMARY KEY (tenant_id, channel, user_channel_id)
);
`
)

// MySQLProfileStore is the production ProfileStore. Like the teacher's
// SQL session service, the ledger body (fields, history, assets) is kept
// as one JSON column rather than normalized into per-field rows — a
// CustomerProfile's field set is agent-defined and open-ended, which
// maps onto a schemaless document far more naturally than a fixed table.
// A second table indexes channel identities for GetByChannel/GetOrCreate.
type MySQLProfileStore struct {
	db *sql.DB
}

func NewMySQLProfileStore(ctx context.Context, db *sql.DB) (*MySQLProfileStore, error) {
	s := &MySQLProfileStore{db: db}
	if _, err := db.ExecContext(ctx, createProfilesTableSQL); err != nil {
		return nil, errs.Wrap(errs.Internal, "create customer_profiles table", err)
	}
	if _, err := db.ExecContext(ctx, createProfileChannelsTableSQL); err != nil {
		return nil, errs.Wrap(errs.Internal, "create customer_profile_channels table", err)
	}
	return s, nil
}

func (s *MySQLProfileStore) getTx(ctx context.Context, q querier, tenantID, profileID string) (*model.CustomerProfile, error) {
	var payload []byte
	err := q.QueryRowContext(ctx,
		`SELECT payload FROM customer_profiles WHERE tenant_id = ? AND profile_id = ?`, tenantID, profileID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "customer profile not found")
	}
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "query customer profile", err)
	}
	var p model.CustomerProfile
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, errs.Wrap(errs.Internal, "unmarshal customer profile", err)
	}
	return &p, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx, letting getTx/putTx
// run either standalone (GetByID) or inside a transaction (Merge).
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func putTx(ctx context.Context, q querier, p *model.CustomerProfile) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return errs.Wrap(errs.Internal, "marshal customer profile", err)
	}
	_, err = q.ExecContext(ctx, `
INSERT INTO customer_profiles (tenant_id, profile_id, payload) VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE payload = VALUES(payload)`, p.TenantID, p.ID, payload)
	if err != nil {
		return errs.Wrap(errs.Internal, "upsert customer profile", err)
	}
	return nil
}

func linkChannelTx(ctx context.Context, q querier, tenantID, profileID string, identity model.ChannelIdentity) error {
	_, err := q.ExecContext(ctx, `
INSERT INTO customer_profile_channels (tenant_id, channel, user_channel_id, profile_id) VALUES (?, ?, ?, ?)
ON DUPLICATE KEY UPDATE profile_id = VALUES(profile_id)`,
		tenantID, identity.Channel, identity.UserChannelID, profileID)
	if err != nil {
		return errs.Wrap(errs.Internal, "link profile channel identity", err)
	}
	return nil
}

func (s *MySQLProfileStore) GetByID(ctx context.Context, tenantID, profileID string) (*model.CustomerProfile, error) {
	return s.getTx(ctx, s.db, tenantID, profileID)
}

func (s *MySQLProfileStore) GetByChannel(ctx context.Context, tenantID, channel, userChannelID string) (*model.CustomerProfile, error) {
	var profileID string
	err := s.db.QueryRowContext(ctx,
		`SELECT profile_id FROM customer_profile_channels WHERE tenant_id = ? AND channel = ? AND user_channel_id = ?`,
		tenantID, channel, userChannelID).Scan(&profileID)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "customer profile not found for channel")
	}
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "query profile channel identity", err)
	}
	return s.getTx(ctx, s.db, tenantID, profileID)
}

func (s *MySQLProfileStore) GetOrCreate(ctx context.Context, tenantID, channel, userChannelID string, schemaVersion int) (*model.CustomerProfile, error) {
	existing, err := s.GetByChannel(ctx, tenantID, channel, userChannelID)
	if err == nil {
		return existing, nil
	}
	if !errs.Is(err, errs.NotFound) {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "begin profile creation transaction", err)
	}
	defer tx.Rollback()

	p := model.NewCustomerProfile(tenantID, uuid.NewString(), schemaVersion)
	p.ChannelIdentities = append(p.ChannelIdentities, model.ChannelIdentity{Channel: channel, UserChannelID: userChannelID})
	if err := putTx(ctx, tx, p); err != nil {
		return nil, err
	}
	if err := linkChannelTx(ctx, tx, tenantID, p.ID, model.ChannelIdentity{Channel: channel, UserChannelID: userChannelID}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errs.Wrap(errs.Internal, "commit profile creation transaction", err)
	}
	return p, nil
}

func (s *MySQLProfileStore) UpdateField(ctx context.Context, tenantID, profileID, fieldName string, value model.Value, confidence float64, source model.FieldSource) error {
	p, err := s.getTx(ctx, s.db, tenantID, profileID)
	if err != nil {
		return err
	}
	field, ok := p.Fields[fieldName]
	if !ok {
		field = &model.ProfileField{}
		p.Fields[fieldName] = field
	}
	field.SetValue(value, confidence, source)
	return putTx(ctx, s.db, p)
}

func (s *MySQLProfileStore) AddAsset(ctx context.Context, tenantID, profileID string, asset model.ProfileAsset) error {
	p, err := s.getTx(ctx, s.db, tenantID, profileID)
	if err != nil {
		return err
	}
	if asset.ID == "" {
		asset.ID = uuid.NewString()
	}
	p.Assets = append(p.Assets, asset)
	return putTx(ctx, s.db, p)
}

func (s *MySQLProfileStore) LinkChannel(ctx context.Context, tenantID, profileID string, identity model.ChannelIdentity) error {
	p, err := s.getTx(ctx, s.db, tenantID, profileID)
	if err != nil {
		return err
	}
	p.ChannelIdentities = append(p.ChannelIdentities, identity)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.Internal, "begin link-channel transaction", err)
	}
	defer tx.Rollback()
	if err := putTx(ctx, tx, p); err != nil {
		return err
	}
	if err := linkChannelTx(ctx, tx, tenantID, profileID, identity); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.Internal, "commit link-channel transaction", err)
	}
	return nil
}

// Merge folds mergedID's fields, assets, and channel identities into
// survivingID, matching InMemoryProfileStore.Merge's semantics: existing
// survivor fields win over the merged profile's, and every channel
// pointer that referenced mergedID is repointed at survivingID.
func (s *MySQLProfileStore) Merge(ctx context.Context, tenantID, survivingID, mergedID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.Internal, "begin merge transaction", err)
	}
	defer tx.Rollback()

	survivor, err := s.getTx(ctx, tx, tenantID, survivingID)
	if err != nil {
		return errs.Wrap(errs.NotFound, "surviving customer profile not found", err)
	}
	merged, err := s.getTx(ctx, tx, tenantID, mergedID)
	if err != nil {
		return errs.Wrap(errs.NotFound, "merged customer profile not found", err)
	}

	for name, field := range merged.Fields {
		if _, exists := survivor.Fields[name]; !exists {
			survivor.Fields[name] = field
		}
	}
	survivor.Assets = append(survivor.Assets, merged.Assets...)
	survivor.ChannelIdentities = append(survivor.ChannelIdentities, merged.ChannelIdentities...)

	if err := putTx(ctx, tx, survivor); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE customer_profile_channels SET profile_id = ? WHERE tenant_id = ? AND profile_id = ?`,
		survivingID, tenantID, mergedID); err != nil {
		return errs.Wrap(errs.Internal, "repoint merged profile channels", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM customer_profiles WHERE tenant_id = ? AND profile_id = ?`, tenantID, mergedID); err != nil {
		return errs.Wrap(errs.Internal, "delete merged customer profile", err)
	}
	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.Internal, "commit merge transaction", err)
	}
	return nil
}

var _ ProfileStore = (*MySQLProfileStore)(nil)
