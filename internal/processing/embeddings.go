package processing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/Divas-Gupta30/market-agent/internal/config"
	"github.com/Divas-Gupta30/market-agent/internal/llm"
)

// Embedder turns text into a vector of fixed dimension.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

var ErrEmptyText = errors.New("empty text")

// OllamaEmbedder calls Ollama's /api/embeddings endpoint.
type OllamaEmbedder struct {
	baseURL string
	model   string
	dim     int
	client  *http.Client
}

func NewOllamaEmbedder(baseURL, model string, dim int) *OllamaEmbedder {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	return &OllamaEmbedder{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		dim:     dim,
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float64 `json:"embedding"`
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	data, err := json.Marshal(ollamaRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama error: %s", strings.TrimSpace(string(bodyBytes)))
	}

	var oResp ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&oResp); err != nil {
		return nil, fmt.Errorf("failed decode response: %w", err)
	}
	return finish(oResp.Embedding, e.dim)
}

// GeminiEmbedder calls the Generative Language embedContent method.
type GeminiEmbedder struct {
	client   *llm.GeminiClient
	model    string
	dim      int
	taskType string
}

func NewGeminiEmbedder(client *llm.GeminiClient, model string, dim int, taskType string) *GeminiEmbedder {
	if model == "" {
		model = "text-embedding-004"
	}
	return &GeminiEmbedder{client: client, model: model, dim: dim, taskType: taskType}
}

type geminiEmbedRequest struct {
	Model                string            `json:"model"`
	Content              llm.GeminiContent `json:"content"`
	TaskType             string            `json:"taskType,omitempty"`
	OutputDimensionality int               `json:"outputDimensionality,omitempty"`
}

type geminiEmbedResponse struct {
	Embedding *struct {
		Values []float64 `json:"values"`
	} `json:"embedding"`
}

func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	var out geminiEmbedResponse
	err := e.client.Call(ctx, e.model, "embedContent", geminiEmbedRequest{
		Model:                llm.GeminiModelName(e.model),
		Content:              llm.GeminiContent{Parts: []llm.GeminiPart{{Text: text}}},
		TaskType:             e.taskType,
		OutputDimensionality: e.dim,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if out.Embedding == nil {
		return nil, errors.New("gemini embed: no embedding in response")
	}
	return finish(out.Embedding.Values, e.dim)
}

// NewEmbedder builds the configured embedder. taskType only matters for
// Gemini ("RETRIEVAL_QUERY" or "RETRIEVAL_DOCUMENT").
func NewEmbedder(ctx context.Context, ai config.AIConfig, dim int, taskType string) (Embedder, error) {
	switch ai.EmbeddingProvider {
	case "ollama":
		return NewOllamaEmbedder(ai.OllamaBaseURL, ai.EmbeddingModel, dim), nil
	case "gemini":
		client, err := llm.NewGeminiClient(ctx, ai.GoogleAPIKey)
		if err != nil {
			return nil, err
		}
		return NewGeminiEmbedder(client, ai.EmbeddingModel, dim, taskType), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", ai.EmbeddingProvider)
	}
}

// EmbedChunks embeds every chunk in order and stops at the first failure.
func EmbedChunks(ctx context.Context, e Embedder, chunks []string) ([][]float32, error) {
	if len(chunks) == 0 {
		return nil, errors.New("no chunks")
	}
	out := make([][]float32, len(chunks))
	for i, chunk := range chunks {
		emb, err := e.Embed(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("failed embedding chunk %d: %w", i, err)
		}
		out[i] = emb
	}
	return out, nil
}

func finish(values []float64, dim int) ([]float32, error) {
	if dim > 0 && len(values) != dim {
		return nil, fmt.Errorf("expected embedding dim %d, got %d", dim, len(values))
	}
	vec := make([]float32, len(values))
	for i, v := range values {
		vec[i] = float32(v)
	}
	return Normalize(vec), nil
}

// Normalize scales vec to unit length so cosine distance in pgvector behaves.
func Normalize(vec []float32) []float32 {
	var magnitude float64
	for _, v := range vec {
		magnitude += float64(v) * float64(v)
	}
	magnitude = math.Sqrt(magnitude)
	if magnitude == 0 {
		return vec
	}

	normalized := make([]float32, len(vec))
	for i, v := range vec {
		normalized[i] = float32(float64(v) / magnitude)
	}
	return normalized
}
