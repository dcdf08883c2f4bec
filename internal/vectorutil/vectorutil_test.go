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

package vectorutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineIdenticalVectorsIsOne(t *testing.T) {
	v := []float32{1, 2, 3}
	assert.InDelta(t, 1.0, Cosine(v, v), 1e-9)
}

func TestCosineOrthogonalVectorsIsZero(t *testing.T) {
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
}

func TestCosineMismatchedLengthIsZero(t *testing.T) {
	assert.Equal(t, 0.0, Cosine([]float32{1, 2}, []float32{1, 2, 3}))
}

func TestCosineZeroVectorIsZero(t *testing.T) {
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 1}))
}

func TestDotComputesSumOfProducts(t *testing.T) {
	assert.InDelta(t, 32.0, Dot([]float32{1, 2, 3}, []float32{4, 5, 6}), 1e-9)
}

func TestDotTruncatesToShorterVector(t *testing.T) {
	assert.InDelta(t, 4.0, Dot([]float32{1, 2, 3}, []float32{4}), 1e-9)
}

func TestNormComputesEuclideanLength(t *testing.T) {
	assert.InDelta(t, 5.0, Norm([]float32{3, 4}), 1e-9)
}

func TestMeanAveragesElementWise(t *testing.T) {
	mean := Mean([][]float32{{1, 2}, {3, 4}, {5, 6}})
	want := []float32{3, 4}
	for i := range want {
		assert.InDelta(t, want[i], mean[i], 1e-6)
	}
}

func TestMeanOfEmptySetIsNil(t *testing.T) {
	assert.Nil(t, Mean(nil))
}
