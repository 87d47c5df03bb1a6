package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	ollamaChatEndpoint     = "/api/chat"
	ollamaGenerateEndpoint = "/api/generate"
)

// OllamaProvider calls a local Ollama server.
type OllamaProvider struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		// model loading on the first request can take minutes; callers bound
		// each call through ctx instead
		client: &http.Client{Timeout: 10 * time.Minute},
	}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format,omitempty"`
	Options *ollamaOptions `json:"options,omitempty"`
}

// streamed lines look like {"response":"...","done":false}
type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func (o callOptions) ollama() (string, *ollamaOptions) {
	var format string
	if o.json {
		format = "json"
	}
	if o.temperature == nil && o.maxTokens == 0 {
		return format, nil
	}
	return format, &ollamaOptions{Temperature: o.temperature, NumPredict: o.maxTokens}
}

func (p *OllamaProvider) Generate(ctx context.Context, prompt string, opts ...Option) (string, error) {
	co := applyOptions(p.model, opts)
	format, options := co.ollama()

	body, err := json.Marshal(ollamaChatRequest{
		Model:    co.model,
		Messages: []ollamaMessage{{Role: "user", Content: prompt}},
		Stream:   false,
		Format:   format,
		Options:  options,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	resp, err := p.post(ctx, ollamaChatEndpoint, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding ollama response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama: %s", out.Error)
	}
	if strings.TrimSpace(out.Message.Content) == "" {
		return "", ErrEmptyCompletion
	}
	return out.Message.Content, nil
}

func (p *OllamaProvider) Stream(ctx context.Context, prompt string, opts ...Option) (<-chan Chunk, error) {
	co := applyOptions(p.model, opts)
	format, options := co.ollama()

	body, err := json.Marshal(ollamaGenerateRequest{
		Model:   co.model,
		Prompt:  prompt,
		Stream:  true,
		Format:  format,
		Options: options,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := p.post(ctx, ollamaGenerateEndpoint, body)
	if err != nil {
		return nil, err
	}

	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		send := func(c Chunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		decoder := json.NewDecoder(resp.Body)
		for {
			var line ollamaGenerateResponse
			if err := decoder.Decode(&line); errors.Is(err, io.EOF) {
				send(Chunk{Done: true})
				return
			} else if err != nil {
				if ctx.Err() != nil {
					return
				}
				send(Chunk{Err: fmt.Errorf("decoding ollama response: %w", err)})
				return
			}
			if line.Error != "" {
				send(Chunk{Err: fmt.Errorf("ollama: %s", line.Error)})
				return
			}
			if !send(Chunk{Text: line.Response, Done: line.Done}) || line.Done {
				return
			}
		}
	}()
	return ch, nil
}

func (p *OllamaProvider) post(ctx context.Context, endpoint string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling ollama: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}
