package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaProvider_Generate(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, ollamaChatEndpoint, r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"message":{"role":"assistant","content":"stocks"},"done":true}`)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "llama3")
	out, err := p.Generate(context.Background(), "classify this", WithTemperature(0), WithJSON())
	require.NoError(t, err)

	assert.Equal(t, "stocks", out)
	assert.Equal(t, "llama3", got.Model)
	assert.False(t, got.Stream)
	assert.Equal(t, "json", got.Format)
	require.NotNil(t, got.Options)
	require.NotNil(t, got.Options.Temperature)
	assert.Equal(t, 0.0, *got.Options.Temperature)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "classify this", got.Messages[0].Content)
}

func TestOllamaProvider_GenerateModelOverride(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"message":{"content":"ok"},"done":true}`)
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL, "llama3").Generate(context.Background(), "hi", WithModel("mistral"))
	require.NoError(t, err)
	assert.Equal(t, "mistral", got.Model)
	assert.Nil(t, got.Options)
}

func TestOllamaProvider_GenerateErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, "model not loaded"},
		{"empty content", http.StatusOK, `{"message":{"content":"  "},"done":true}`},
		{"error field", http.StatusOK, `{"error":"out of memory"}`},
		{"bad json", http.StatusOK, `{not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewOllamaProvider(srv.URL, "llama3").Generate(context.Background(), "q")
			assert.Error(t, err)
		})
	}
}

func TestOllamaProvider_StreamOrdered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, ollamaGenerateEndpoint, r.URL.Path)
		for _, tok := range []string{"The ", "market ", "rose."} {
			fmt.Fprintf(w, `{"response":%q,"done":false}`+"\n", tok)
		}
		fmt.Fprint(w, `{"response":"","done":true}`+"\n")
	}))
	defer srv.Close()

	ch, err := NewOllamaProvider(srv.URL, "llama3").Stream(context.Background(), "summarise")
	require.NoError(t, err)

	var tokens []string
	text, err := Collect(context.Background(), ch, func(s string) { tokens = append(tokens, s) })
	require.NoError(t, err)
	assert.Equal(t, "The market rose.", text)
	assert.Equal(t, []string{"The ", "market ", "rose."}, tokens)
}

func TestOllamaProvider_StreamEOFWithoutDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"response":"partial","done":false}`)
	}))
	defer srv.Close()

	ch, err := NewOllamaProvider(srv.URL, "llama3").Stream(context.Background(), "q")
	require.NoError(t, err)
	text, err := Collect(context.Background(), ch, nil)
	require.NoError(t, err)
	assert.Equal(t, "partial", text)
}

func TestOllamaProvider_StreamErrorLine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"response":"a","done":false}`+"\n"+`{"error":"model crashed"}`+"\n")
	}))
	defer srv.Close()

	ch, err := NewOllamaProvider(srv.URL, "llama3").Stream(context.Background(), "q")
	require.NoError(t, err)
	_, err = Collect(context.Background(), ch, nil)
	assert.ErrorContains(t, err, "model crashed")
}

func TestOllamaProvider_StreamCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"response":"first","done":false}`+"\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := NewOllamaProvider(srv.URL, "llama3").Stream(ctx, "q")
	require.NoError(t, err)

	first := <-ch
	assert.Equal(t, "first", first.Text)
	cancel()

	select {
	case _, ok := <-ch:
		for ok {
			_, ok = <-ch
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream channel not closed after cancellation")
	}
}

func TestCollect_ContextCancelled(t *testing.T) {
	ch := make(chan Chunk)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Collect(ctx, ch, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
