package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
)

const (
	GeminiBaseURL           = "https://generativelanguage.googleapis.com/v1beta"
	generativeLanguageScope = "https://www.googleapis.com/auth/generative-language"
)

// GeminiClient calls the Generative Language REST API. It authenticates with
// an API key header or, without a key, through an OAuth2 client backed by
// Application Default Credentials.
type GeminiClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewGeminiClient builds a client for the public endpoint.
func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	if apiKey != "" {
		return NewGeminiClientWith(GeminiBaseURL, apiKey, &http.Client{Timeout: 2 * time.Minute}), nil
	}
	hc, err := google.DefaultClient(ctx, generativeLanguageScope)
	if err != nil {
		return nil, fmt.Errorf("no GOOGLE_API_KEY and no default credentials: %w", err)
	}
	hc.Timeout = 2 * time.Minute
	return NewGeminiClientWith(GeminiBaseURL, "", hc), nil
}

// NewGeminiClientWith targets baseURL with the given HTTP client.
func NewGeminiClientWith(baseURL, apiKey string, hc *http.Client) *GeminiClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &GeminiClient{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, client: hc}
}

// GeminiModelName returns the resource name the API expects for model.
func GeminiModelName(model string) string {
	if strings.HasPrefix(model, "models/") {
		return model
	}
	return "models/" + model
}

type GeminiPart struct {
	Text string `json:"text"`
}

type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	MaxOutputTokens  int      `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string   `json:"responseMimeType,omitempty"`
}

type geminiGenerateRequest struct {
	Contents         []GeminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content GeminiContent `json:"content"`
	} `json:"candidates"`
}

func (r geminiGenerateResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, part := range r.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String()
}

// Call posts in to model:method and decodes the JSON reply into out.
func (c *GeminiClient) Call(ctx context.Context, model, method string, in, out any) error {
	resp, err := c.post(ctx, GeminiModelName(model)+":"+method, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding gemini response: %w", err)
	}
	return nil
}

func (c *GeminiClient) post(ctx context.Context, path string, in any) (*http.Response, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-goog-api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling gemini: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("gemini status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

// GeminiProvider produces completions with a Gemini model.
type GeminiProvider struct {
	client *GeminiClient
	model  string
}

func NewGeminiProvider(client *GeminiClient, model string) *GeminiProvider {
	return &GeminiProvider{client: client, model: model}
}

func (p *GeminiProvider) request(prompt string, co callOptions) geminiGenerateRequest {
	req := geminiGenerateRequest{
		Contents: []GeminiContent{{Role: "user", Parts: []GeminiPart{{Text: prompt}}}},
	}
	if co.temperature != nil || co.maxTokens > 0 || co.json {
		cfg := &geminiGenerationConfig{Temperature: co.temperature, MaxOutputTokens: co.maxTokens}
		if co.json {
			cfg.ResponseMimeType = "application/json"
		}
		req.GenerationConfig = cfg
	}
	return req
}

func (p *GeminiProvider) Generate(ctx context.Context, prompt string, opts ...Option) (string, error) {
	co := applyOptions(p.model, opts)

	var out geminiGenerateResponse
	if err := p.client.Call(ctx, co.model, "generateContent", p.request(prompt, co), &out); err != nil {
		return "", err
	}
	text := out.text()
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

// Stream reads the server-sent events of streamGenerateContent.
// Each event carries a partial generateContent response.
func (p *GeminiProvider) Stream(ctx context.Context, prompt string, opts ...Option) (<-chan Chunk, error) {
	co := applyOptions(p.model, opts)

	resp, err := p.client.post(ctx, GeminiModelName(co.model)+":streamGenerateContent?alt=sse", p.request(prompt, co))
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

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			data, ok := strings.CutPrefix(scanner.Text(), "data:")
			if !ok {
				continue
			}
			var event geminiGenerateResponse
			if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &event); err != nil {
				send(Chunk{Err: fmt.Errorf("decoding gemini event: %w", err)})
				return
			}
			if text := event.text(); text != "" && !send(Chunk{Text: text}) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			if ctx.Err() != nil {
				return
			}
			send(Chunk{Err: fmt.Errorf("reading gemini stream: %w", err)})
			return
		}
		send(Chunk{Done: true})
	}()
	return ch, nil
}
