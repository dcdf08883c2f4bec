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

// Package selection implements the dynamic k-selection strategies
// retrieval uses to decide how many ranked candidates to keep (spec
// §4.3 "Dynamic k-selection"). Every Strategy receives a descending-
// sorted slice of scores and returns a prefix-compatible cut index.
package selection

import (
	"math"
	"sort"
)

// Scored is anything retrieval ranks; Strategy only looks at Score.
type Scored struct {
	ID    string
	Score float64
}

// Strategy chooses how many leading items of a descending-sorted slice
// to keep. Implementations must honor: the result is a prefix of the
// input (same order), at least MinK items are kept when available,
// never more than MaxK, and every kept item's score is >= the returned
// cutoff.
type Strategy interface {
	Select(items []Scored) (kept []Scored, cutoff float64)
	Name() string
}

func clamp(n, lo, hi int) int {
	if hi > 0 && n > hi {
		n = hi
	}
	if n < lo {
		n = lo
	}
	return n
}

// FixedK always keeps exactly K items (or fewer if the input is
// shorter), filtered by MinScore.
type FixedK struct {
	K        int
	MinScore float64
}

func (s FixedK) Name() string { return "fixed_k" }

func (s FixedK) Select(items []Scored) ([]Scored, float64) {
	filtered := filterMinScore(items, s.MinScore)
	n := s.K
	if n > len(filtered) {
		n = len(filtered)
	}
	if n <= 0 {
		return nil, s.MinScore
	}
	kept := filtered[:n]
	return kept, kept[len(kept)-1].Score
}

// Elbow cuts where the relative drop between consecutive scores first
// exceeds DropThreshold.
type Elbow struct {
	DropThreshold float64
	MinK          int
	MaxK          int
	MinScore      float64
}

func (s Elbow) Name() string { return "elbow" }

func (s Elbow) Select(items []Scored) ([]Scored, float64) {
	filtered := filterMinScore(items, s.MinScore)
	if len(filtered) == 0 {
		return nil, s.MinScore
	}
	cut := len(filtered)
	for i := 1; i < len(filtered); i++ {
		prev, cur := filtered[i-1].Score, filtered[i].Score
		if prev <= 0 {
			continue
		}
		drop := (prev - cur) / prev
		if drop > s.DropThreshold {
			cut = i
			break
		}
	}
	cut = clamp(cut, s.MinK, s.MaxK)
	if cut > len(filtered) {
		cut = len(filtered)
	}
	if cut == 0 {
		return nil, s.MinScore
	}
	kept := filtered[:cut]
	return kept, kept[len(kept)-1].Score
}

// AdaptiveK cuts using the discrete second derivative (curvature) of
// the score sequence: the point of maximum curvature beyond Alpha is
// treated as the natural boundary.
type AdaptiveK struct {
	Alpha    float64
	MinK     int
	MaxK     int
	MinScore float64
}

func (s AdaptiveK) Name() string { return "adaptive_k" }

func (s AdaptiveK) Select(items []Scored) ([]Scored, float64) {
	filtered := filterMinScore(items, s.MinScore)
	n := len(filtered)
	if n == 0 {
		return nil, s.MinScore
	}
	if n < 3 {
		cut := clamp(n, s.MinK, s.MaxK)
		kept := filtered[:cut]
		return kept, kept[len(kept)-1].Score
	}
	cut := n
	best := -math.MaxFloat64
	for i := 1; i < n-1; i++ {
		curvature := filtered[i-1].Score - 2*filtered[i].Score + filtered[i+1].Score
		if curvature > s.Alpha && curvature > best {
			best = curvature
			cut = i + 1
		}
	}
	cut = clamp(cut, s.MinK, s.MaxK)
	if cut > n {
		cut = n
	}
	kept := filtered[:cut]
	return kept, kept[len(kept)-1].Score
}

// Entropy switches between a tight (LowK) and loose (HighK) cut based on
// the normalized Shannon entropy of the top HighK scores: low entropy
// (scores concentrated) keeps LowK, high entropy (scores spread out)
// keeps HighK.
type Entropy struct {
	LowK           int
	HighK          int
	EntropyThreshold float64
	MinScore       float64
}

func (s Entropy) Name() string { return "entropy" }

func (s Entropy) Select(items []Scored) ([]Scored, float64) {
	filtered := filterMinScore(items, s.MinScore)
	n := len(filtered)
	if n == 0 {
		return nil, s.MinScore
	}
	window := s.HighK
	if window > n {
		window = n
	}
	h := normalizedEntropy(filtered[:window])
	k := s.LowK
	if h >= s.EntropyThreshold {
		k = s.HighK
	}
	if k > n {
		k = n
	}
	if k <= 0 {
		return nil, s.MinScore
	}
	kept := filtered[:k]
	return kept, kept[len(kept)-1].Score
}

func normalizedEntropy(items []Scored) float64 {
	var sum float64
	for _, it := range items {
		if it.Score > 0 {
			sum += it.Score
		}
	}
	if sum <= 0 {
		return 0
	}
	var h float64
	for _, it := range items {
		if it.Score <= 0 {
			continue
		}
		p := it.Score / sum
		h -= p * math.Log2(p)
	}
	maxH := math.Log2(float64(len(items)))
	if maxH == 0 {
		return 0
	}
	return h / maxH
}

// Cluster performs 1-D density-based clustering over scores (a
// simplified DBSCAN: consecutive scores within Eps of each other form a
// cluster, clusters with fewer than MinSamples members are dropped as
// noise) and keeps the top TopPerCluster items from each surviving
// cluster, in original score order.
type Cluster struct {
	Eps          float64
	MinSamples   int
	TopPerCluster int
	MinScore     float64
}

func (s Cluster) Name() string { return "cluster" }

func (s Cluster) Select(items []Scored) ([]Scored, float64) {
	filtered := filterMinScore(items, s.MinScore)
	if len(filtered) == 0 {
		return nil, s.MinScore
	}

	type cluster struct {
		members []Scored
	}
	var clusters []cluster
	cur := cluster{members: []Scored{filtered[0]}}
	for i := 1; i < len(filtered); i++ {
		if filtered[i-1].Score-filtered[i].Score <= s.Eps {
			cur.members = append(cur.members, filtered[i])
			continue
		}
		clusters = append(clusters, cur)
		cur = cluster{members: []Scored{filtered[i]}}
	}
	clusters = append(clusters, cur)

	var kept []Scored
	for _, c := range clusters {
		if len(c.members) < s.MinSamples {
			continue
		}
		top := s.TopPerCluster
		if top > len(c.members) {
			top = len(c.members)
		}
		kept = append(kept, c.members[:top]...)
	}
	if len(kept) == 0 {
		return nil, s.MinScore
	}
	// kept is already in descending score order because clusters were
	// built from a descending-sorted input and appended in order.
	return kept, kept[len(kept)-1].Score
}

func filterMinScore(items []Scored, minScore float64) []Scored {
	if minScore <= 0 {
		return items
	}
	out := make([]Scored, 0, len(items))
	for _, it := range items {
		if it.Score >= minScore {
			out = append(out, it)
		}
	}
	return out
}

// SortDescending sorts items by Score descending, stable so ties keep
// their original (e.g. authoring or insertion) order.
func SortDescending(items []Scored) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })
}
