package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/Divas-Gupta30/market-agent/internal/llm"
)

// AnswerGrader checks that an answer resolves the question. It judges topical
// resolution only, not factual accuracy.
type AnswerGrader struct {
	llm llm.Provider
}

func NewAnswerGrader(p llm.Provider) *AnswerGrader {
	return &AnswerGrader{llm: p}
}

func (g *AnswerGrader) Grade(ctx context.Context, q Question, answer string) (GradeDecision, error) {
	reply, err := g.llm.Generate(ctx, fmt.Sprintf(gradePrompt, q.Text, answer), llm.WithTemperature(0), llm.WithJSON())
	if err != nil {
		return Pass, fmt.Errorf("%w: %w", ErrGradeInconclusive, err)
	}
	yes, ok := parseYesNo(reply)
	if !ok {
		return Pass, fmt.Errorf("%w: unreadable verdict %q", ErrGradeInconclusive, truncate(reply, 80))
	}
	if yes {
		return Pass, nil
	}
	return Fail, nil
}

// QueryRewriter reformulates a question for better retrieval.
type QueryRewriter struct {
	llm llm.Provider
}

func NewQueryRewriter(p llm.Provider) *QueryRewriter {
	return &QueryRewriter{llm: p}
}

func (r *QueryRewriter) Rewrite(ctx context.Context, q Question) (Question, error) {
	reply, err := r.llm.Generate(ctx, fmt.Sprintf(rewritePrompt, q.Text), llm.WithTemperature(0))
	if err != nil {
		return q, err
	}
	text := cleanRewrite(reply)
	if text == "" {
		return q, llm.ErrEmptyCompletion
	}
	return Question{Text: text, Revision: q.Revision + 1}, nil
}

func cleanRewrite(reply string) string {
	text := strings.TrimSpace(reply)
	for _, prefix := range []string{"Rewritten question:", "Re-written question:", "Question:"} {
		if len(text) >= len(prefix) && strings.EqualFold(text[:len(prefix)], prefix) {
			text = strings.TrimSpace(text[len(prefix):])
		}
	}
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = strings.TrimSpace(text[:i])
	}
	return strings.Trim(text, "\"'` ")
}
