package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/Divas-Gupta30/market-agent/internal/llm"
)

// TokenSink receives streamed answer text in order.
type TokenSink func(token string)

// Strategy writes the answer for one topic.
type Strategy interface {
	Generate(ctx context.Context, q Question, docs []Document, sink TokenSink) (string, error)
}

// PersonaStrategy prompts the completion service with fixed persona
// instructions followed by the retrieved context.
type PersonaStrategy struct {
	Persona     string
	LLM         llm.Provider
	Temperature float64
}

func (s *PersonaStrategy) Generate(ctx context.Context, q Question, docs []Document, sink TokenSink) (string, error) {
	if len(docs) == 0 {
		if sink != nil {
			sink(InsufficientInformationMessage)
		}
		return InsufficientInformationMessage, nil
	}

	prompt := answerPrompt(s.Persona, q, docs)
	opts := []llm.Option{llm.WithTemperature(s.Temperature)}

	if sink == nil {
		return s.LLM.Generate(ctx, prompt, opts...)
	}
	ch, err := s.LLM.Stream(ctx, prompt, opts...)
	if err != nil {
		return "", err
	}
	text, err := llm.Collect(ctx, ch, sink)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", llm.ErrEmptyCompletion
	}
	return text, nil
}

// Dispatcher routes generation to the strategy registered for a topic.
type Dispatcher struct {
	strategies map[Topic]Strategy
}

// NewDispatcher requires a strategy for every answer topic.
func NewDispatcher(strategies map[Topic]Strategy) (*Dispatcher, error) {
	for _, t := range AnswerTopics {
		if strategies[t] == nil {
			return nil, fmt.Errorf("no generation strategy for topic %q", t)
		}
	}
	return &Dispatcher{strategies: strategies}, nil
}

// NewPersonaDispatcher registers a PersonaStrategy per persona on p. Every
// answer topic needs a persona; DefaultPersonas covers them all.
func NewPersonaDispatcher(p llm.Provider, personas map[Topic]string) (*Dispatcher, error) {
	strategies := make(map[Topic]Strategy, len(personas))
	for topic, persona := range personas {
		if strings.TrimSpace(persona) == "" {
			continue
		}
		strategies[topic] = &PersonaStrategy{Persona: persona, LLM: p}
	}
	return NewDispatcher(strategies)
}

func (d *Dispatcher) Generate(ctx context.Context, topic Topic, q Question, docs []Document, sink TokenSink) (GenerationResult, error) {
	s, ok := d.strategies[topic]
	if !ok {
		return GenerationResult{}, fmt.Errorf("%w: no strategy for topic %q", ErrGenerationUnavailable, topic)
	}
	text, err := s.Generate(ctx, q, docs, sink)
	if err != nil {
		return GenerationResult{}, fmt.Errorf("%w: %w", ErrGenerationUnavailable, err)
	}
	return GenerationResult{Text: text, Topic: topic}, nil
}
