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

package selection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(items []Scored) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestFixedKKeepsExactlyKOrFewer(t *testing.T) {
	items := []Scored{{ID: "a", Score: 0.9}, {ID: "b", Score: 0.8}, {ID: "c", Score: 0.7}}

	kept, cutoff := FixedK{K: 2}.Select(items)
	assert.Equal(t, []string{"a", "b"}, ids(kept))
	assert.Equal(t, 0.8, cutoff)

	kept, _ = FixedK{K: 10}.Select(items)
	assert.Len(t, kept, 3, "K beyond the input length keeps everything, not an error")
}

func TestFixedKAppliesMinScore(t *testing.T) {
	items := []Scored{{ID: "a", Score: 0.9}, {ID: "b", Score: 0.3}}
	kept, _ := FixedK{K: 5, MinScore: 0.5}.Select(items)
	assert.Equal(t, []string{"a"}, ids(kept))
}

func TestFixedKEmptyAfterFilterReturnsNil(t *testing.T) {
	items := []Scored{{ID: "a", Score: 0.1}}
	kept, _ := FixedK{K: 5, MinScore: 0.5}.Select(items)
	assert.Nil(t, kept)
}

func TestElbowCutsAtTheFirstLargeRelativeDrop(t *testing.T) {
	items := []Scored{
		{ID: "a", Score: 0.95}, {ID: "b", Score: 0.93}, {ID: "c", Score: 0.40}, {ID: "d", Score: 0.38},
	}
	kept, _ := Elbow{DropThreshold: 0.3, MinK: 1, MaxK: 10}.Select(items)
	assert.Equal(t, []string{"a", "b"}, ids(kept), "the drop from 0.93 to 0.40 exceeds the 0.3 relative threshold")
}

func TestElbowRespectsMinKAndMaxK(t *testing.T) {
	items := []Scored{
		{ID: "a", Score: 0.95}, {ID: "b", Score: 0.01}, {ID: "c", Score: 0.009}, {ID: "d", Score: 0.008},
	}
	kept, _ := Elbow{DropThreshold: 0.3, MinK: 3, MaxK: 10}.Select(items)
	assert.Len(t, kept, 3, "MinK forces at least 3 even though the elbow alone would cut at 1")
}

func TestElbowNoDropKeepsEverythingWithinMaxK(t *testing.T) {
	items := []Scored{{ID: "a", Score: 0.9}, {ID: "b", Score: 0.89}, {ID: "c", Score: 0.88}}
	kept, _ := Elbow{DropThreshold: 0.5, MinK: 1, MaxK: 10}.Select(items)
	assert.Len(t, kept, 3)
}

func TestAdaptiveKFallsBackToClampForShortInput(t *testing.T) {
	items := []Scored{{ID: "a", Score: 0.9}, {ID: "b", Score: 0.5}}
	kept, _ := AdaptiveK{Alpha: 0.1, MinK: 1, MaxK: 10}.Select(items)
	assert.Len(t, kept, 2, "fewer than 3 items can't compute curvature, so clamp(n) is used directly")
}

func TestAdaptiveKCutsAtMaximumCurvature(t *testing.T) {
	items := []Scored{
		{ID: "a", Score: 1.0}, {ID: "b", Score: 0.95}, {ID: "c", Score: 0.1}, {ID: "d", Score: 0.05}, {ID: "e", Score: 0.02},
	}
	kept, _ := AdaptiveK{Alpha: 0.05, MinK: 1, MaxK: 10}.Select(items)
	assert.Equal(t, []string{"a", "b", "c"}, ids(kept), "curvature peaks around index 2 (the 0.95->0.1 drop), cutting just past it")
}

func TestEntropyPicksLowKWhenScoresAreConcentrated(t *testing.T) {
	items := []Scored{
		{ID: "a", Score: 1.0}, {ID: "b", Score: 0.001}, {ID: "c", Score: 0.001}, {ID: "d", Score: 0.001},
	}
	kept, _ := Entropy{LowK: 1, HighK: 4, EntropyThreshold: 0.5}.Select(items)
	assert.Len(t, kept, 1, "one dominant score is low entropy, so LowK applies")
}

func TestEntropyPicksHighKWhenScoresAreSpread(t *testing.T) {
	items := []Scored{
		{ID: "a", Score: 1.0}, {ID: "b", Score: 0.9}, {ID: "c", Score: 0.8}, {ID: "d", Score: 0.7},
	}
	kept, _ := Entropy{LowK: 1, HighK: 4, EntropyThreshold: 0.5}.Select(items)
	assert.Len(t, kept, 4, "near-uniform scores are high entropy, so HighK applies")
}

func TestClusterDropsClustersSmallerThanMinSamplesAsNoise(t *testing.T) {
	items := []Scored{
		{ID: "a", Score: 0.90}, {ID: "b", Score: 0.89}, {ID: "c", Score: 0.88}, // dense cluster of 3
		{ID: "d", Score: 0.10}, // isolated singleton, below MinSamples
	}
	kept, _ := Cluster{Eps: 0.05, MinSamples: 2, TopPerCluster: 2}.Select(items)
	assert.Equal(t, []string{"a", "b"}, ids(kept), "the singleton cluster is dropped as noise; only top 2 of the dense cluster survive")
}

func TestClusterReturnsNilWhenEveryClusterIsNoise(t *testing.T) {
	items := []Scored{{ID: "a", Score: 0.9}, {ID: "b", Score: 0.1}, {ID: "c", Score: 0.05}}
	kept, _ := Cluster{Eps: 0.01, MinSamples: 2, TopPerCluster: 1}.Select(items)
	assert.Nil(t, kept)
}

func TestSortDescendingIsStableOnTies(t *testing.T) {
	items := []Scored{
		{ID: "first", Score: 0.5}, {ID: "second", Score: 0.9}, {ID: "third", Score: 0.5},
	}
	SortDescending(items)
	require.Equal(t, []string{"second", "first", "third"}, ids(items), "equal scores must keep their original relative order")
}

func TestAllStrategiesReportTheirName(t *testing.T) {
	assert.Equal(t, "fixed_k", FixedK{}.Name())
	assert.Equal(t, "elbow", Elbow{}.Name())
	assert.Equal(t, "adaptive_k", AdaptiveK{}.Name())
	assert.Equal(t, "entropy", Entropy{}.Name())
	assert.Equal(t, "cluster", Cluster{}.Name())
}
