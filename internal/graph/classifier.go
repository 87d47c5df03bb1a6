package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/Divas-Gupta30/market-agent/internal/llm"
)

// TopicGate decides whether a question is inside the assistant's domain.
type TopicGate struct {
	llm llm.Provider
}

func NewTopicGate(p llm.Provider) *TopicGate {
	return &TopicGate{llm: p}
}

// ClassifyRelevance returns ErrClassificationFailure when the completion call
// fails or the label cannot be read.
func (g *TopicGate) ClassifyRelevance(ctx context.Context, q Question) (Relevance, error) {
	reply, err := g.llm.Generate(ctx, fmt.Sprintf(gatePrompt, q.Text), llm.WithTemperature(0), llm.WithJSON())
	if err != nil {
		return OffTopic, fmt.Errorf("%w: %w", ErrClassificationFailure, err)
	}
	rel, ok := parseRelevance(reply)
	if !ok {
		return OffTopic, fmt.Errorf("%w: unreadable gate label %q", ErrClassificationFailure, truncate(reply, 80))
	}
	return rel, nil
}

// TopicClassifier picks one of the four answer topics.
type TopicClassifier struct {
	llm llm.Provider
}

func NewTopicClassifier(p llm.Provider) *TopicClassifier {
	return &TopicClassifier{llm: p}
}

func (c *TopicClassifier) Classify(ctx context.Context, q Question) (Topic, error) {
	reply, err := c.llm.Generate(ctx, fmt.Sprintf(classifyPrompt, q.Text), llm.WithTemperature(0), llm.WithJSON())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrClassificationFailure, err)
	}
	topic, ok := parseTopic(reply)
	if !ok {
		return "", fmt.Errorf("%w: unknown topic %q", ErrClassificationFailure, truncate(reply, 80))
	}
	return topic, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
