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

package provider

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/latchframe/alignment-engine/internal/errs"
)

// TokenCounter estimates prompt size ahead of a Chat call. No pipeline
// stage calls it; assembled prompts are not trimmed to a context window.
// Grounded on pkoukk/tiktoken-go, the only tokenizer in the example pack.
type TokenCounter struct {
	mu   sync.Mutex
	encs map[string]*tiktoken.Tiktoken
}

func NewTokenCounter() *TokenCounter {
	return &TokenCounter{encs: make(map[string]*tiktoken.Tiktoken)}
}

func (c *TokenCounter) encodingFor(model string) (*tiktoken.Tiktoken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.encs[model]; ok {
		return enc, nil
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, errs.Wrap(errs.Internal, "load fallback tiktoken encoding", err)
		}
	}
	c.encs[model] = enc
	return enc, nil
}

// Count returns the token length of text under model's tokenizer, or
// under cl100k_base if model isn't recognized.
func (c *TokenCounter) Count(model, text string) (int, error) {
	enc, err := c.encodingFor(model)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}
