package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type harness struct {
	gate       *fakeGate
	classifier *fakeClassifier
	retriever  *fakeRetriever
	generator  *fakeGenerator
	grader     *scriptedGrader
	rewriter   *fakeRewriter
	observer   *recordingObserver
}

func stockDocs() []Document {
	return []Document{
		{Content: "AB closed at 12.4 TND", SourceTag: "stock_data", SimilarityScore: 0.9},
		{Content: "AB volume 3,200", SourceTag: "stock_data", SimilarityScore: 0.7},
		{Content: "AB 52w high 13.1", SourceTag: "stock_data", SimilarityScore: 0.5},
	}
}

func newHarness() *harness {
	return &harness{
		gate:       &fakeGate{rel: InDomain},
		classifier: &fakeClassifier{topic: TopicStocks},
		retriever:  &fakeRetriever{docs: stockDocs()},
		generator:  &fakeGenerator{},
		grader:     &scriptedGrader{decisions: []GradeDecision{Pass}},
		rewriter:   &fakeRewriter{},
		observer:   &recordingObserver{},
	}
}

func (h *harness) engine(t *testing.T, mutate ...func(*Options)) *Engine {
	t.Helper()
	opts := DefaultOptions()
	for _, m := range mutate {
		m(&opts)
	}
	e, err := NewEngine(Components{
		Gate:       h.gate,
		Classifier: h.classifier,
		Retriever:  h.retriever,
		Generator:  h.generator,
		Grader:     h.grader,
		Rewriter:   h.rewriter,
	}, opts, zaptest.NewLogger(t), h.observer)
	require.NoError(t, err)
	return e
}

func TestScenarioA_OffTopic(t *testing.T) {
	h := newHarness()
	h.gate.rel = OffTopic

	res, err := h.engine(t).Invoke(context.Background(), "What's the weather today?")
	require.NoError(t, err)

	assert.Equal(t, StateOffTopic, res.FinalState)
	assert.Equal(t, OffTopicMessage, res.Generation)
	assert.Equal(t, TopicOffTopic, res.Topic)
	assert.Empty(t, res.Documents)
	assert.NoError(t, res.Err)

	assert.Zero(t, h.classifier.calls)
	assert.Empty(t, h.retriever.calls)
	assert.Zero(t, h.generator.calls)
	assert.Zero(t, h.grader.calls)
}

func TestScenarioB_ResolvedFirstAttempt(t *testing.T) {
	h := newHarness()

	res, err := h.engine(t).Invoke(context.Background(), "How is AB stock trending?")
	require.NoError(t, err)

	assert.Equal(t, StateResolved, res.FinalState)
	assert.Equal(t, 0, res.Attempts)
	assert.Equal(t, TopicStocks, res.Topic)
	assert.Equal(t, "answer #1", res.Generation)
	assert.False(t, res.LowConfidence)
	require.Len(t, res.Documents, 3)
	for _, d := range res.Documents {
		assert.Equal(t, "stock_data", d.SourceTag)
	}
	assert.Zero(t, h.rewriter.calls)

	assert.Equal(t, [][2]StateName{
		{StateStart, StateGateCheck},
		{StateGateCheck, StateClassify},
		{StateClassify, StateRetrieve},
		{StateRetrieve, StateGenerate},
		{StateGenerate, StateGrade},
		{StateGrade, StateResolved},
	}, h.observer.transitions)
}

func TestScenarioC_ResolvedAfterTwoRewrites(t *testing.T) {
	h := newHarness()
	h.grader.decisions = []GradeDecision{Fail, Fail, Pass}

	res, err := h.engine(t).Invoke(context.Background(), "How is AB stock trending?")
	require.NoError(t, err)

	assert.Equal(t, StateResolved, res.FinalState)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 2, h.rewriter.calls)
	assert.Equal(t, 3, h.generator.calls)
	assert.Equal(t, "answer #3", res.Generation)

	require.Len(t, h.retriever.calls, 3)
	assert.Equal(t, 0, h.retriever.calls[0].question.Revision)
	assert.Equal(t, 1, h.retriever.calls[1].question.Revision)
	assert.Equal(t, 2, h.retriever.calls[2].question.Revision)
	assert.Equal(t, 1, h.classifier.calls, "topic is kept across rewrites by default")
}

func TestScenarioD_Exhausted(t *testing.T) {
	h := newHarness()
	h.grader.decisions = []GradeDecision{Fail}

	res, err := h.engine(t, func(o *Options) { o.MaxRetries = 3 }).Invoke(context.Background(), "How is AB stock trending?")
	require.NoError(t, err)

	assert.Equal(t, StateExhausted, res.FinalState)
	assert.Equal(t, 3, h.rewriter.calls)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 4, h.generator.calls)
	assert.Equal(t, "answer #4", res.Generation, "the final attempt's answer is returned")
	assert.True(t, res.LowConfidence)
	assert.NoError(t, res.Err)
}

func TestScenarioE_RetrievalFailure(t *testing.T) {
	h := newHarness()
	h.retriever.err = errBackendDown

	res, err := h.engine(t).Invoke(context.Background(), "How is AB stock trending?")
	require.NoError(t, err)

	assert.Equal(t, StateFailed, res.FinalState)
	assert.Zero(t, h.generator.calls)
	assert.Zero(t, h.rewriter.calls)
	assert.Equal(t, ServiceUnavailableMessage, res.Generation)
	assert.ErrorIs(t, res.Err, ErrRetrievalUnavailable)
	assert.ErrorIs(t, res.Err, errBackendDown)
}

func TestGenerationFailureIsFatal(t *testing.T) {
	h := newHarness()
	h.generator.err = errBackendDown

	res, err := h.engine(t).Invoke(context.Background(), "How is AB stock trending?")
	require.NoError(t, err)

	assert.Equal(t, StateFailed, res.FinalState)
	assert.ErrorIs(t, res.Err, ErrGenerationUnavailable)
	assert.Zero(t, h.grader.calls)
	assert.Equal(t, ServiceUnavailableMessage, res.Generation)
}

func TestOffTopicShortCircuitsForAnyQuestion(t *testing.T) {
	questions := []string{"hello", "Who won the football match?", "Recipe for couscous", "   spaced   "}
	for _, q := range questions {
		h := newHarness()
		h.gate.rel = OffTopic
		res, err := h.engine(t).Invoke(context.Background(), q)
		require.NoError(t, err)
		assert.Equal(t, StateOffTopic, res.FinalState, q)
		assert.Empty(t, h.retriever.calls, q)
		assert.Zero(t, h.generator.calls, q)
	}
}

func TestGateFailureFailsSafeToOffTopic(t *testing.T) {
	h := newHarness()
	h.gate.err = ErrClassificationFailure

	res, err := h.engine(t).Invoke(context.Background(), "How is AB stock trending?")
	require.NoError(t, err)
	assert.Equal(t, StateOffTopic, res.FinalState)
	assert.Empty(t, h.retriever.calls)
}

func TestGreetingGetsGreetingReply(t *testing.T) {
	h := newHarness()
	h.gate.rel = OffTopic

	res, err := h.engine(t).Invoke(context.Background(), "Good morning!")
	require.NoError(t, err)
	assert.Equal(t, StateOffTopic, res.FinalState)
	assert.Equal(t, "Good morning! How can I help you with the Tunisian stock market today?", res.Generation)
}

func TestClassificationFailureUsesDefaultTopic(t *testing.T) {
	tests := []struct {
		name  string
		topic Topic
		err   error
	}{
		{"error", "", ErrClassificationFailure},
		{"out of enum", Topic("crypto"), nil},
		{"off topic label", TopicOffTopic, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.classifier.topic, h.classifier.err = tt.topic, tt.err

			res, err := h.engine(t).Invoke(context.Background(), "Tell me something about the BVMT")
			require.NoError(t, err)
			assert.Equal(t, StateResolved, res.FinalState)
			assert.Equal(t, TopicRecommendation, res.Topic)
			require.Len(t, h.retriever.calls, 1)
			assert.Equal(t, TopicRecommendation, h.retriever.calls[0].topic)
		})
	}
}

func TestGradeErrorDefaultsToPass(t *testing.T) {
	h := newHarness()
	h.grader.err = ErrGradeInconclusive

	res, err := h.engine(t).Invoke(context.Background(), "How is AB stock trending?")
	require.NoError(t, err)
	assert.Equal(t, StateResolved, res.FinalState)
	assert.Zero(t, h.rewriter.calls)
}

func TestGradingUsesOriginalQuestion(t *testing.T) {
	h := newHarness()
	h.grader.decisions = []GradeDecision{Fail, Pass}

	_, err := h.engine(t).Invoke(context.Background(), "How is AB stock trending?")
	require.NoError(t, err)
	require.Len(t, h.grader.questions, 2)
	for _, q := range h.grader.questions {
		assert.Equal(t, Question{Text: "How is AB stock trending?"}, q)
	}
}

func TestRewriteFailureStillCountsAttempt(t *testing.T) {
	h := newHarness()
	h.grader.decisions = []GradeDecision{Fail}
	h.rewriter.err = errBackendDown

	res, err := h.engine(t, func(o *Options) { o.MaxRetries = 2 }).Invoke(context.Background(), "How is AB stock trending?")
	require.NoError(t, err)

	assert.Equal(t, StateExhausted, res.FinalState)
	assert.Equal(t, 2, res.Attempts)
	require.Len(t, h.retriever.calls, 3)
	assert.Equal(t, "How is AB stock trending?", h.retriever.calls[2].question.Text)
	assert.Equal(t, 2, h.retriever.calls[2].question.Revision)
}

func TestRetryBound(t *testing.T) {
	for maxRetries := 0; maxRetries <= 5; maxRetries++ {
		h := newHarness()
		h.grader.decisions = []GradeDecision{Fail}

		res, err := h.engine(t, func(o *Options) { o.MaxRetries = maxRetries }).Invoke(context.Background(), "AB?")
		require.NoError(t, err)

		assert.Equal(t, StateExhausted, res.FinalState)
		assert.Equal(t, maxRetries, h.rewriter.calls)
		assert.Equal(t, maxRetries, res.Attempts)
		assert.Len(t, h.retriever.calls, maxRetries+1)
	}
}

func TestRetrievalUsesTunables(t *testing.T) {
	h := newHarness()
	_, err := h.engine(t, func(o *Options) {
		o.TopK = 7
		o.MinSimilarityScore = 0.55
	}).Invoke(context.Background(), "AB?")
	require.NoError(t, err)

	require.Len(t, h.retriever.calls, 1)
	assert.Equal(t, 7, h.retriever.calls[0].k)
	assert.Equal(t, 0.55, h.retriever.calls[0].minScore)
}

func TestReclassifyOnRewrite(t *testing.T) {
	h := newHarness()
	h.grader.decisions = []GradeDecision{Fail, Pass}

	res, err := h.engine(t, func(o *Options) { o.ReclassifyOnRewrite = true }).Invoke(context.Background(), "AB?")
	require.NoError(t, err)

	assert.Equal(t, StateResolved, res.FinalState)
	assert.Equal(t, 2, h.classifier.calls)
	assert.Contains(t, h.observer.transitions, [2]StateName{StateRewrite, StateClassify})
	assert.NotContains(t, h.observer.transitions, [2]StateName{StateRewrite, StateRetrieve})
}

func TestKeepTopicOnRewrite(t *testing.T) {
	h := newHarness()
	h.grader.decisions = []GradeDecision{Fail, Pass}

	_, err := h.engine(t).Invoke(context.Background(), "AB?")
	require.NoError(t, err)

	assert.Equal(t, 1, h.classifier.calls)
	assert.Contains(t, h.observer.transitions, [2]StateName{StateRewrite, StateRetrieve})
}

func TestIdempotence(t *testing.T) {
	run := func() *Result {
		h := newHarness()
		h.grader.decisions = []GradeDecision{Fail, Pass}
		res, err := h.engine(t).Invoke(context.Background(), "How is AB stock trending?")
		require.NoError(t, err)
		return res
	}
	first, second := run(), run()
	assert.Equal(t, first.FinalState, second.FinalState)
	assert.Equal(t, first.Generation, second.Generation)
	assert.Equal(t, first.Documents, second.Documents)
}

func TestEveryTransitionIsInTable(t *testing.T) {
	cases := []func(h *harness){
		func(h *harness) {},
		func(h *harness) { h.gate.rel = OffTopic },
		func(h *harness) { h.grader.decisions = []GradeDecision{Fail} },
		func(h *harness) { h.retriever.err = errBackendDown },
		func(h *harness) { h.generator.err = errBackendDown },
	}
	for _, mutate := range cases {
		h := newHarness()
		mutate(h)
		_, err := h.engine(t).Invoke(context.Background(), "AB?")
		require.NoError(t, err)
		for _, tr := range h.observer.transitions {
			assert.True(t, IsValidTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
		}
		last := h.observer.transitions[len(h.observer.transitions)-1]
		assert.True(t, last[1].Terminal())
	}
}

func TestCancelledContextFails(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.engine(t).Invoke(ctx, "AB?")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, res.FinalState)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Zero(t, h.gate.calls)
}

type cancellingGate struct{ cancel context.CancelFunc }

func (g *cancellingGate) ClassifyRelevance(ctx context.Context, _ Question) (Relevance, error) {
	g.cancel()
	return OffTopic, ctx.Err()
}

func TestCancellationDuringStepFails(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e, err := NewEngine(Components{
		Gate:       &cancellingGate{cancel: cancel},
		Classifier: h.classifier,
		Retriever:  h.retriever,
		Generator:  h.generator,
		Grader:     h.grader,
		Rewriter:   h.rewriter,
	}, DefaultOptions(), zaptest.NewLogger(t))
	require.NoError(t, err)

	res, err := e.Invoke(ctx, "AB?")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, res.FinalState, "cancellation wins over the off-topic fallback")
	assert.ErrorIs(t, res.Err, context.Canceled)
}

type slowRetriever struct{}

func (slowRetriever) Retrieve(ctx context.Context, _ Question, _ Topic, _ int, _ float64) ([]Document, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestTimeoutAbortsInFlightCall(t *testing.T) {
	h := newHarness()
	e, err := NewEngine(Components{
		Gate:       h.gate,
		Classifier: h.classifier,
		Retriever:  slowRetriever{},
		Generator:  h.generator,
		Grader:     h.grader,
		Rewriter:   h.rewriter,
	}, Options{MaxRetries: 3, TopK: 5, Timeout: 50 * time.Millisecond}, zaptest.NewLogger(t))
	require.NoError(t, err)

	res, err := e.Invoke(context.Background(), "AB?")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, res.FinalState)
	assert.True(t, errors.Is(res.Err, context.DeadlineExceeded))
	assert.Zero(t, h.generator.calls)
}

func TestInvokeEmptyQuestion(t *testing.T) {
	_, err := newHarness().engine(t).Invoke(context.Background(), "  \n")
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestNewEngineValidation(t *testing.T) {
	h := newHarness()
	full := Components{h.gate, h.classifier, h.retriever, h.generator, h.grader, h.rewriter}

	_, err := NewEngine(Components{Gate: h.gate}, DefaultOptions(), nil)
	assert.Error(t, err)

	_, err = NewEngine(full, Options{MaxRetries: -1, TopK: 1}, nil)
	assert.Error(t, err)

	_, err = NewEngine(full, Options{MaxRetries: 1, TopK: 0}, nil)
	assert.Error(t, err)

	e, err := NewEngine(full, Options{MaxRetries: 1, TopK: 1, DefaultTopic: "bogus"}, nil)
	require.NoError(t, err)
	assert.Equal(t, TopicRecommendation, e.opts.DefaultTopic)
}

func TestObserverOnFinish(t *testing.T) {
	h := newHarness()
	res, err := h.engine(t).Invoke(context.Background(), "AB?")
	require.NoError(t, err)
	require.Len(t, h.observer.finished, 1)
	assert.Same(t, res, h.observer.finished[0])
}

func TestConcurrentInvocations(t *testing.T) {
	e, err := NewEngine(Components{
		Gate:       staticGate{},
		Classifier: staticClassifier{topic: TopicNews},
		Retriever:  staticRetriever{docs: stockDocs()},
		Generator:  echoGenerator{},
		Grader:     passGrader{},
		Rewriter:   noopRewriter{},
	}, DefaultOptions(), zaptest.NewLogger(t))
	require.NoError(t, err)

	const n = 16
	results := make(chan *Result, n)
	for i := 0; i < n; i++ {
		go func() {
			res, _ := e.Invoke(context.Background(), "TUNINDEX news?")
			results <- res
		}()
	}
	for i := 0; i < n; i++ {
		res := <-results
		require.NotNil(t, res)
		assert.Equal(t, StateResolved, res.FinalState)
		assert.Equal(t, "TUNINDEX news?", res.Generation)
	}
}

// Stateless fakes, safe to share between goroutines.
type staticGate struct{}

func (staticGate) ClassifyRelevance(context.Context, Question) (Relevance, error) {
	return InDomain, nil
}

type staticClassifier struct{ topic Topic }

func (s staticClassifier) Classify(context.Context, Question) (Topic, error) { return s.topic, nil }

type noopRewriter struct{}

func (noopRewriter) Rewrite(_ context.Context, q Question) (Question, error) { return q, nil }

type staticRetriever struct{ docs []Document }

func (s staticRetriever) Retrieve(_ context.Context, _ Question, _ Topic, _ int, _ float64) ([]Document, error) {
	return append([]Document(nil), s.docs...), nil
}

type echoGenerator struct{}

func (echoGenerator) Generate(_ context.Context, topic Topic, q Question, _ []Document, _ TokenSink) (GenerationResult, error) {
	return GenerationResult{Text: q.Text, Topic: topic}, nil
}

type passGrader struct{}

func (passGrader) Grade(context.Context, Question, string) (GradeDecision, error) { return Pass, nil }
