package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Divas-Gupta30/market-agent/internal/llm"
)

var errBackendDown = errors.New("backend down")

type fakeGate struct {
	rel   Relevance
	err   error
	calls int
}

func (f *fakeGate) ClassifyRelevance(_ context.Context, _ Question) (Relevance, error) {
	f.calls++
	return f.rel, f.err
}

type fakeClassifier struct {
	topic Topic
	err   error
	calls int
}

func (f *fakeClassifier) Classify(_ context.Context, _ Question) (Topic, error) {
	f.calls++
	return f.topic, f.err
}

type retrieveCall struct {
	question Question
	topic    Topic
	k        int
	minScore float64
}

type fakeRetriever struct {
	docs  []Document
	err   error
	calls []retrieveCall
}

func (f *fakeRetriever) Retrieve(_ context.Context, q Question, topic Topic, k int, minScore float64) ([]Document, error) {
	f.calls = append(f.calls, retrieveCall{q, topic, k, minScore})
	if f.err != nil {
		return nil, f.err
	}
	return append([]Document(nil), f.docs...), nil
}

// fakeGenerator answers "answer #n" on its n-th call (starting at 1).
type fakeGenerator struct {
	err    error
	calls  int
	tokens []string
}

func (f *fakeGenerator) Generate(_ context.Context, topic Topic, _ Question, _ []Document, sink TokenSink) (GenerationResult, error) {
	f.calls++
	if f.err != nil {
		return GenerationResult{}, f.err
	}
	text := fmt.Sprintf("answer #%d", f.calls)
	if sink != nil {
		for _, tok := range f.tokens {
			sink(tok)
		}
	}
	return GenerationResult{Text: text, Topic: topic}, nil
}

// scriptedGrader returns decisions in order and repeats the last one.
type scriptedGrader struct {
	decisions []GradeDecision
	err       error
	calls     int
	questions []Question
}

func (f *scriptedGrader) Grade(_ context.Context, q Question, _ string) (GradeDecision, error) {
	f.calls++
	f.questions = append(f.questions, q)
	if f.err != nil {
		return Fail, f.err
	}
	i := f.calls - 1
	if i >= len(f.decisions) {
		i = len(f.decisions) - 1
	}
	return f.decisions[i], nil
}

type fakeRewriter struct {
	err   error
	calls int
}

func (f *fakeRewriter) Rewrite(_ context.Context, q Question) (Question, error) {
	f.calls++
	if f.err != nil {
		return q, f.err
	}
	return Question{Text: fmt.Sprintf("%s (rewritten %d)", q.Text, f.calls), Revision: q.Revision + 1}, nil
}

type recordingObserver struct {
	mu          sync.Mutex
	transitions [][2]StateName
	finished    []*Result
}

func (o *recordingObserver) OnTransition(from, to StateName) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, [2]StateName{from, to})
}

func (o *recordingObserver) OnFinish(res *Result, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, res)
}

// fakeLLM replies with reply (or the next entry of replies) to Generate and
// streams chunks from Stream.
type fakeLLM struct {
	mu      sync.Mutex
	reply   string
	replies []string
	chunks  []string
	err     error
	prompts []string
	opts    [][]llm.Option
}

func (f *fakeLLM) Generate(_ context.Context, prompt string, opts ...llm.Option) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	f.opts = append(f.opts, opts)
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) > 0 {
		r := f.replies[0]
		f.replies = f.replies[1:]
		return r, nil
	}
	return f.reply, nil
}

func (f *fakeLLM) Stream(ctx context.Context, prompt string, _ ...llm.Option) (<-chan llm.Chunk, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	err := f.err
	chunks := append([]string(nil), f.chunks...)
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	ch := make(chan llm.Chunk, len(chunks)+1)
	for _, c := range chunks {
		ch <- llm.Chunk{Text: c}
	}
	ch <- llm.Chunk{Done: true}
	close(ch)
	return ch, nil
}

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0}, nil
}

type fakeSearcher struct {
	hits []Document
	err  error
	tags []string
	ks   []int
}

func (f *fakeSearcher) Search(_ context.Context, _ []float32, k int, sourceTag string) ([]Document, error) {
	f.tags = append(f.tags, sourceTag)
	f.ks = append(f.ks, k)
	if f.err != nil {
		return nil, f.err
	}
	return append([]Document(nil), f.hits...), nil
}
