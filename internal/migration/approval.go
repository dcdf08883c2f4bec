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

package migration

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/latchframe/alignment-engine/internal/model"
)

// ApprovalSigner issues and verifies the JWS compact token attached to
// a MigrationPlan's ApprovalRecord when an operator approves it
// (SPEC_FULL §C "operator approval signing"). This is a novel use of
// the teacher's lestrrat-go/jwx/v2 dependency: pkg/auth.JWTValidator
// only *verifies* tokens issued by an external provider against a
// fetched JWKS; here the engine is the issuer, not a relying party, so
// ApprovalSigner both signs and verifies against its own keypair.
type ApprovalSigner struct {
	key    jwk.Key
	pubKey jwk.Key
	issuer string
}

// NewApprovalSigner derives a signer from an Ed25519 keypair. Key
// custody (generation, rotation, storage) is left to the deployment;
// this type only knows how to use a keypair once handed one.
func NewApprovalSigner(priv ed25519.PrivateKey, pub ed25519.PublicKey, issuer string) (*ApprovalSigner, error) {
	key, err := jwk.FromRaw(priv)
	if err != nil {
		return nil, fmt.Errorf("migration: building signing key: %w", err)
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.EdDSA); err != nil {
		return nil, fmt.Errorf("migration: setting signing key algorithm: %w", err)
	}

	pubJWK, err := jwk.FromRaw(pub)
	if err != nil {
		return nil, fmt.Errorf("migration: building verification key: %w", err)
	}
	if err := pubJWK.Set(jwk.AlgorithmKey, jwa.EdDSA); err != nil {
		return nil, fmt.Errorf("migration: setting verification key algorithm: %w", err)
	}

	return &ApprovalSigner{key: key, pubKey: pubJWK, issuer: issuer}, nil
}

// Approve signs an ApprovalRecord binding approvedBy to plan's
// identity and version range. It does not mutate plan; the caller
// attaches the record and transitions plan.Status to APPROVED.
func (s *ApprovalSigner) Approve(plan *model.MigrationPlan, approvedBy string, now time.Time) (*model.ApprovalRecord, error) {
	if plan.Status != model.PlanPending {
		return nil, fmt.Errorf("migration: plan %s is %s, not PENDING", plan.ID, plan.Status)
	}

	token, err := jwt.NewBuilder().
		Issuer(s.issuer).
		Subject(approvedBy).
		IssuedAt(now).
		Claim("plan_id", plan.ID).
		Claim("scenario_id", plan.ScenarioID).
		Claim("from_version", plan.Map.FromVersion).
		Claim("to_version", plan.Map.ToVersion).
		Build()
	if err != nil {
		return nil, fmt.Errorf("migration: building approval token: %w", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.EdDSA, s.key))
	if err != nil {
		return nil, fmt.Errorf("migration: signing approval token: %w", err)
	}

	return &model.ApprovalRecord{
		ApprovedBy: approvedBy,
		ApprovedAt: now,
		Token:      string(signed),
	}, nil
}

// Verify checks a plan's attached approval token against this
// signer's public key, the configured issuer, and the plan's own
// identity — guarding against a token minted for one plan being
// replayed onto another with the same anchors.
func (s *ApprovalSigner) Verify(plan *model.MigrationPlan) error {
	if plan.Approval == nil {
		return fmt.Errorf("migration: plan %s has no approval record", plan.ID)
	}

	keyset := jwk.NewSet()
	if err := keyset.AddKey(s.pubKey); err != nil {
		return fmt.Errorf("migration: building verification keyset: %w", err)
	}

	token, err := jwt.Parse(
		[]byte(plan.Approval.Token),
		jwt.WithKeySet(keyset),
		jwt.WithValidate(true),
		jwt.WithIssuer(s.issuer),
	)
	if err != nil {
		return fmt.Errorf("migration: invalid approval token: %w", err)
	}

	planID, ok := token.Get("plan_id")
	if !ok || planID != plan.ID {
		return fmt.Errorf("migration: approval token was not issued for plan %s", plan.ID)
	}
	return nil
}
