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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/latchframe/alignment-engine/internal/errs"
	"github.com/latchframe/alignment-engine/pkg/httpclient"
)

// OpenAIEmbeddingProvider is an EmbeddingProvider against OpenAI's
// embeddings endpoint, grounded on pkg/embedders/openai.go rebuilt
// against this package's EmbeddingProvider interface.
type OpenAIEmbeddingProvider struct {
	model   string
	baseURL string
	apiKey  string
	dim     int
	http    *httpclient.Client
}

func NewOpenAIEmbeddingProvider(model, baseURL, apiKey string, dim int) *OpenAIEmbeddingProvider {
	return &OpenAIEmbeddingProvider{
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		dim:     dim,
		http: httpclient.New(
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
			httpclient.WithRetryStrategy(httpclient.DefaultStrategy),
		),
	}
}

func (p *OpenAIEmbeddingProvider) Name() string   { return "openai-embed:" + p.model }
func (p *OpenAIEmbeddingProvider) Dimension() int { return p.dim }

type openaiEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *OpenAIEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (p *OpenAIEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(openaiEmbedRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, errs.Wrap(errs.LLMUnavailable, "encode openai embed request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, errs.Wrap(errs.LLMUnavailable, "build openai embed request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return nil, errs.Wrap(errs.LLMUnavailable, "openai embed request failed", err)
	}
	defer resp.Body.Close()

	var parsed openaiEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errs.Wrap(errs.LLMUnavailable, "decode openai embed response", err)
	}
	if parsed.Error != nil {
		return nil, errs.New(errs.LLMUnavailable, "openai: "+parsed.Error.Message)
	}
	out := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

func (p *OpenAIEmbeddingProvider) Close() error { return nil }

var _ EmbeddingProvider = (*OpenAIEmbeddingProvider)(nil)
