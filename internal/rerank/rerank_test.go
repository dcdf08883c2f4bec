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

package rerank

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/latchframe/alignment-engine/internal/provider"
)

type stubRerankProvider struct {
	results []provider.RerankResult
	err     error
}

func (s *stubRerankProvider) Name() string { return "stub" }

func (s *stubRerankProvider) Rerank(ctx context.Context, query string, candidates []provider.RerankCandidate) ([]provider.RerankResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

func (s *stubRerankProvider) Close() error { return nil }

func items(ids ...string) []Item {
	out := make([]Item, len(ids))
	for i, id := range ids {
		out[i] = Item{ID: id, Text: "text-" + id}
	}
	return out
}

func TestRerankDisabledBypassesButStillTruncates(t *testing.T) {
	r := New(&stubRerankProvider{}, Config{Enabled: false, TopK: 1})
	got := r.Rerank(context.Background(), "query", items("a", "b", "c"))
	assert.Equal(t, items("a"), got)
}

func TestRerankEmptyInputReturnsEmpty(t *testing.T) {
	r := New(&stubRerankProvider{}, Config{Enabled: true, TopK: 5})
	got := r.Rerank(context.Background(), "query", nil)
	assert.Empty(t, got)
}

func TestRerankNilProviderBypasses(t *testing.T) {
	r := New(nil, Config{Enabled: true, TopK: 10})
	got := r.Rerank(context.Background(), "query", items("a", "b"))
	assert.Equal(t, items("a", "b"), got)
}

func TestRerankReordersByProviderScoreAndTruncates(t *testing.T) {
	p := &stubRerankProvider{results: []provider.RerankResult{
		{ID: "b", Score: 0.9}, {ID: "a", Score: 0.5}, {ID: "c", Score: 0.1},
	}}
	r := New(p, Config{Enabled: true, TopK: 2})
	got := r.Rerank(context.Background(), "query", items("a", "b", "c"))
	assert.Equal(t, []string{"b", "a"}, []string{got[0].ID, got[1].ID})
	assert.Len(t, got, 2)
}

func TestRerankProviderErrorBypassesWithOriginalOrder(t *testing.T) {
	p := &stubRerankProvider{err: assert.AnError}
	r := New(p, Config{Enabled: true, TopK: 10})
	got := r.Rerank(context.Background(), "query", items("a", "b", "c"))
	assert.Equal(t, items("a", "b", "c"), got, "a provider failure must bypass, not abort")
}

func TestRerankUnknownResultIDsAreDropped(t *testing.T) {
	p := &stubRerankProvider{results: []provider.RerankResult{{ID: "ghost", Score: 1.0}, {ID: "a", Score: 0.5}}}
	r := New(p, Config{Enabled: true, TopK: 10})
	got := r.Rerank(context.Background(), "query", items("a", "b"))
	assert.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}

func TestRerankMaxCandidatesLimitsWhatIsSentToProvider(t *testing.T) {
	var sentCount int
	p := &stubRerankProvider{}
	r := New(p, Config{Enabled: true, TopK: 10, MaxCandidates: 2})

	// Wrap provider to observe the candidate count sent.
	observe := observingProvider{inner: p, onCall: func(n int) { sentCount = n }}
	r.provider = &observe

	r.Rerank(context.Background(), "query", items("a", "b", "c", "d"))
	assert.Equal(t, 2, sentCount)
}

type observingProvider struct {
	inner  provider.RerankProvider
	onCall func(n int)
}

func (o *observingProvider) Name() string { return o.inner.Name() }

func (o *observingProvider) Rerank(ctx context.Context, query string, candidates []provider.RerankCandidate) ([]provider.RerankResult, error) {
	o.onCall(len(candidates))
	return o.inner.Rerank(ctx, query, candidates)
}

func (o *observingProvider) Close() error { return o.inner.Close() }

func TestTruncateKeepsEverythingWhenTopKIsZeroOrExceedsLength(t *testing.T) {
	assert.Equal(t, items("a", "b"), truncate(items("a", "b"), 0))
	assert.Equal(t, items("a", "b"), truncate(items("a", "b"), 10))
	assert.Equal(t, items("a"), truncate(items("a", "b"), 1))
}
