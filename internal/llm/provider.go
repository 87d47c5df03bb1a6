// Package llm talks to text completion services. Providers are stateless and
// safe for concurrent use by many workflow runs.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyCompletion is returned when the service answered without any text.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// Provider produces text for a prompt.
type Provider interface {
	// Generate blocks until the full completion is available.
	Generate(ctx context.Context, prompt string, opts ...Option) (string, error)
	// Stream delivers the completion as ordered chunks. The channel is closed
	// after a chunk with Done or Err set, or when ctx is cancelled.
	Stream(ctx context.Context, prompt string, opts ...Option) (<-chan Chunk, error)
}

// Chunk is one piece of a streamed completion.
type Chunk struct {
	Text string
	Done bool
	Err  error
}

type callOptions struct {
	model       string
	temperature *float64
	maxTokens   int
	json        bool
}

// Option tweaks a single completion call.
type Option func(*callOptions)

// WithModel overrides the provider's default model for one call.
func WithModel(model string) Option {
	return func(o *callOptions) { o.model = model }
}

func WithTemperature(t float64) Option {
	return func(o *callOptions) { o.temperature = &t }
}

func WithMaxTokens(n int) Option {
	return func(o *callOptions) { o.maxTokens = n }
}

// WithJSON asks the service to answer with a JSON object when it supports it.
func WithJSON() Option {
	return func(o *callOptions) { o.json = true }
}

func applyOptions(defaultModel string, opts []Option) callOptions {
	o := callOptions{model: defaultModel}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Collect drains a stream into one string, forwarding every chunk to sink
// when sink is not nil.
func Collect(ctx context.Context, ch <-chan Chunk, sink func(string)) (string, error) {
	var out []byte
	for {
		select {
		case <-ctx.Done():
			return string(out), ctx.Err()
		case c, ok := <-ch:
			if !ok {
				if err := ctx.Err(); err != nil {
					return string(out), err
				}
				return string(out), nil
			}
			if c.Err != nil {
				return string(out), c.Err
			}
			if c.Text != "" {
				out = append(out, c.Text...)
				if sink != nil {
					sink(c.Text)
				}
			}
			if c.Done {
				return string(out), nil
			}
		}
	}
}
