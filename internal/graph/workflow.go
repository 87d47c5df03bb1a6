package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Component contracts consumed by the engine.
type (
	Gate interface {
		ClassifyRelevance(ctx context.Context, q Question) (Relevance, error)
	}
	Classifier interface {
		Classify(ctx context.Context, q Question) (Topic, error)
	}
	DocumentRetriever interface {
		Retrieve(ctx context.Context, q Question, topic Topic, k int, minScore float64) ([]Document, error)
	}
	Generator interface {
		Generate(ctx context.Context, topic Topic, q Question, docs []Document, sink TokenSink) (GenerationResult, error)
	}
	Grader interface {
		Grade(ctx context.Context, q Question, answer string) (GradeDecision, error)
	}
	Rewriter interface {
		Rewrite(ctx context.Context, q Question) (Question, error)
	}
)

// Observer is notified of every transition and of each finished run.
type Observer interface {
	OnTransition(from, to StateName)
	OnFinish(res *Result, elapsed time.Duration)
}

type Components struct {
	Gate       Gate
	Classifier Classifier
	Retriever  DocumentRetriever
	Generator  Generator
	Grader     Grader
	Rewriter   Rewriter
}

// Options are the workflow tunables.
type Options struct {
	MaxRetries          int
	TopK                int
	MinSimilarityScore  float64
	ReclassifyOnRewrite bool
	DefaultTopic        Topic
	// Timeout bounds a whole run when positive.
	Timeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxRetries:         3,
		TopK:               20,
		MinSimilarityScore: 0.4,
		DefaultTopic:       TopicRecommendation,
		Timeout:            2 * time.Minute,
	}
}

// Result is the outcome of one run.
type Result struct {
	Question      string
	Generation    string
	Topic         Topic
	Documents     []Document
	FinalState    StateName
	Attempts      int
	LowConfidence bool
	// Err is set when FinalState is failed.
	Err error
}

// Engine drives a question through the state machine. It holds no per-request
// data and is safe for concurrent use.
type Engine struct {
	c         Components
	opts      Options
	log       *zap.Logger
	tracer    trace.Tracer
	observers []Observer
}

func NewEngine(c Components, opts Options, log *zap.Logger, observers ...Observer) (*Engine, error) {
	switch {
	case c.Gate == nil, c.Classifier == nil, c.Retriever == nil,
		c.Generator == nil, c.Grader == nil, c.Rewriter == nil:
		return nil, errors.New("graph: all workflow components are required")
	case opts.MaxRetries < 0:
		return nil, fmt.Errorf("graph: negative max retries %d", opts.MaxRetries)
	case opts.TopK <= 0:
		return nil, fmt.Errorf("graph: top k must be positive, got %d", opts.TopK)
	}
	if _, ok := ParseTopic(string(opts.DefaultTopic)); !ok {
		opts.DefaultTopic = TopicRecommendation
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		c:         c,
		opts:      opts,
		log:       log.With(zap.String("module", "workflow")),
		tracer:    otel.Tracer("github.com/Divas-Gupta30/market-agent/internal/graph"),
		observers: observers,
	}, nil
}

// Invoke runs the workflow to a terminal state. The returned error is only
// set for an empty question; service failures end in StateFailed with
// Result.Err populated.
func (e *Engine) Invoke(ctx context.Context, question string) (*Result, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}
	return e.run(ctx, question, nil), nil
}

// run owns one State from start to a terminal state. emit, when not nil,
// receives node and token events in order.
func (e *Engine) run(ctx context.Context, question string, emit func(Event)) *Result {
	start := time.Now()
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	ctx, span := e.tracer.Start(ctx, "workflow.invoke")
	defer span.End()

	q := Question{Text: strings.TrimSpace(question)}
	st := &State{OriginalQuestion: q, CurrentQuestion: q}
	r := &runner{e: e, st: st, emit: emit}

	cur, next := StateStart, StateGateCheck
	for {
		if err := ctx.Err(); err != nil {
			next = StateFailed
			r.fail(fmt.Errorf("workflow cancelled in %s: %w", cur, err))
		}
		if !e.allowed(cur, next) {
			e.log.Error("illegal transition", zap.String("from", string(cur)), zap.String("to", string(next)))
			r.fail(fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, next))
			next = StateFailed
		}
		e.log.Debug("transition", zap.String("from", string(cur)), zap.String("to", string(next)),
			zap.Int("attempt", st.AttemptCount))
		for _, o := range e.observers {
			o.OnTransition(cur, next)
		}
		cur = next
		if cur.Terminal() {
			break
		}
		next = r.step(ctx, cur)
		if emit != nil {
			emit(Event{Kind: EventState, State: cur, Attempt: st.AttemptCount, Snapshot: st.Snapshot()})
		}
	}

	res := r.result(cur)
	span.SetAttributes(
		attribute.String("workflow.final_state", string(res.FinalState)),
		attribute.String("workflow.topic", string(res.Topic)),
		attribute.Int("workflow.attempts", res.Attempts),
	)
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	}

	elapsed := time.Since(start)
	e.log.Info("workflow finished",
		zap.String("final_state", string(res.FinalState)),
		zap.String("topic", string(res.Topic)),
		zap.Int("attempts", res.Attempts),
		zap.Int("documents", len(res.Documents)),
		zap.Duration("elapsed", elapsed),
	)
	for _, o := range e.observers {
		o.OnFinish(res, elapsed)
	}
	return res
}

func (e *Engine) allowed(from, to StateName) bool {
	if from == StateRewrite && to == StateClassify && !e.opts.ReclassifyOnRewrite {
		return false
	}
	return IsValidTransition(from, to)
}

// runner carries the mutable pieces of one run.
type runner struct {
	e    *Engine
	st   *State
	emit func(Event)
	err  error
}

func (r *runner) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// step executes the work of state s and returns the next state.
func (r *runner) step(ctx context.Context, s StateName) StateName {
	ctx, span := r.e.tracer.Start(ctx, "workflow."+string(s),
		trace.WithAttributes(attribute.Int("workflow.attempt", r.st.AttemptCount)))
	defer span.End()

	next := r.dispatch(ctx, s)
	if next == StateFailed && r.err != nil {
		span.RecordError(r.err)
		span.SetStatus(codes.Error, r.err.Error())
	}
	return next
}

func (r *runner) dispatch(ctx context.Context, s StateName) StateName {
	e, st := r.e, r.st
	log := e.log

	switch s {
	case StateGateCheck:
		rel, err := e.c.Gate.ClassifyRelevance(ctx, st.CurrentQuestion)
		if err != nil {
			log.Warn("topic gate failed, treating question as off topic", zap.Error(err))
			rel = OffTopic
		}
		if rel == OffTopic {
			st.Topic = TopicOffTopic
			return StateOffTopic
		}
		return StateClassify

	case StateClassify:
		topic, err := e.c.Classifier.Classify(ctx, st.CurrentQuestion)
		if err == nil {
			if _, ok := ParseTopic(string(topic)); !ok {
				err = fmt.Errorf("%w: topic %q outside the answer set", ErrClassificationFailure, topic)
			}
		}
		if err != nil {
			log.Warn("classification failed, using default topic",
				zap.String("default_topic", string(e.opts.DefaultTopic)), zap.Error(err))
			topic = e.opts.DefaultTopic
		}
		st.Topic = topic
		return StateRetrieve

	case StateRetrieve:
		docs, err := e.c.Retriever.Retrieve(ctx, st.CurrentQuestion, st.Topic, e.opts.TopK, e.opts.MinSimilarityScore)
		if err != nil {
			log.Error("retrieval failed", zap.Error(err))
			r.fail(wrapSentinel(err, ErrRetrievalUnavailable))
			return StateFailed
		}
		st.Documents = docs
		return StateGenerate

	case StateGenerate:
		var sink TokenSink
		if r.emit != nil {
			attempt := st.AttemptCount
			sink = func(tok string) {
				r.emit(Event{Kind: EventToken, State: StateGenerate, Attempt: attempt, Token: tok})
			}
		}
		gen, err := e.c.Generator.Generate(ctx, st.Topic, st.OriginalQuestion, st.Documents, sink)
		if err != nil {
			log.Error("generation failed", zap.Error(err))
			r.fail(wrapSentinel(err, ErrGenerationUnavailable))
			return StateFailed
		}
		gen.Topic = st.Topic
		st.Generation = &gen
		return StateGrade

	case StateGrade:
		decision, err := e.c.Grader.Grade(ctx, st.OriginalQuestion, st.Generation.Text)
		if err != nil {
			log.Warn("grading inconclusive, accepting answer", zap.Error(err))
			decision = Pass
		}
		log.Debug("graded answer", zap.Stringer("decision", decision), zap.Int("attempt", st.AttemptCount))
		switch {
		case decision == Pass:
			return StateResolved
		case st.AttemptCount < e.opts.MaxRetries:
			return StateRewrite
		default:
			st.Generation.LowConfidence = true
			return StateExhausted
		}

	case StateRewrite:
		nq, err := e.c.Rewriter.Rewrite(ctx, st.CurrentQuestion)
		if err != nil || strings.TrimSpace(nq.Text) == "" {
			log.Warn("rewrite failed, retrying with the current question", zap.Error(err))
			nq = Question{Text: st.CurrentQuestion.Text, Revision: st.CurrentQuestion.Revision + 1}
		}
		if nq.Revision <= st.CurrentQuestion.Revision {
			nq.Revision = st.CurrentQuestion.Revision + 1
		}
		st.CurrentQuestion = nq
		st.AttemptCount++
		if e.opts.ReclassifyOnRewrite {
			return StateClassify
		}
		return StateRetrieve
	}

	r.fail(fmt.Errorf("%w: no handler for state %s", ErrInvalidTransition, s))
	return StateFailed
}

func (r *runner) result(final StateName) *Result {
	st := r.st
	res := &Result{
		Question:   st.OriginalQuestion.Text,
		Topic:      st.Topic,
		Documents:  st.Documents,
		FinalState: final,
		Attempts:   st.AttemptCount,
	}
	switch final {
	case StateOffTopic:
		res.Topic = TopicOffTopic
		res.Documents = []Document{}
		res.Generation = OffTopicReply(st.OriginalQuestion.Text)
	case StateResolved, StateExhausted:
		res.Generation = st.Generation.Text
		res.LowConfidence = st.Generation.LowConfidence
	case StateFailed:
		res.Generation = ServiceUnavailableMessage
		res.Err = r.err
	}
	if res.Documents == nil {
		res.Documents = []Document{}
	}
	return res
}

func wrapSentinel(err, sentinel error) error {
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}
