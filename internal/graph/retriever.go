package graph

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/Divas-Gupta30/market-agent/internal/llm"
)

// Embedder turns text into a query vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher returns the topK nearest documents. An empty sourceTag means
// no filter.
type VectorSearcher interface {
	Search(ctx context.Context, embedding []float32, topK int, sourceTag string) ([]Document, error)
}

// DocumentGrader judges a single retrieved document against the question.
type DocumentGrader interface {
	Relevant(ctx context.Context, q Question, d Document) (bool, error)
}

// DefaultSourceFilters is the topic to source tag table. Topics without an
// entry search every source.
func DefaultSourceFilters() map[Topic]string {
	return map[Topic]string{
		TopicNews:   "news",
		TopicStocks: "stock_data",
	}
}

// SourceFiltersFrom converts a configuration table keyed by topic name.
func SourceFiltersFrom(table map[string]string) map[Topic]string {
	out := make(map[Topic]string, len(table))
	for name, tag := range table {
		if t, ok := ParseTopic(name); ok {
			out[t] = tag
		}
	}
	return out
}

type Retriever struct {
	embedder Embedder
	searcher VectorSearcher
	filters  map[Topic]string
	grader   DocumentGrader
	log      *zap.Logger
}

func NewRetriever(e Embedder, s VectorSearcher, filters map[Topic]string, log *zap.Logger) *Retriever {
	if filters == nil {
		filters = DefaultSourceFilters()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Retriever{embedder: e, searcher: s, filters: filters, log: log}
}

// WithDocumentGrader enables per-document relevance grading after search.
func (r *Retriever) WithDocumentGrader(g DocumentGrader) *Retriever {
	r.grader = g
	return r
}

// SourceFilter returns the source tag used for topic, or "" for none.
func (r *Retriever) SourceFilter(topic Topic) string {
	return r.filters[topic]
}

// Retrieve embeds the question, searches under the topic's filter and returns
// documents scoring at least minScore, best first.
func (r *Retriever) Retrieve(ctx context.Context, q Question, topic Topic, k int, minScore float64) ([]Document, error) {
	vec, err := r.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("%w: embed: %w", ErrRetrievalUnavailable, err)
	}

	hits, err := r.searcher.Search(ctx, vec, k, r.SourceFilter(topic))
	if err != nil {
		return nil, fmt.Errorf("%w: search: %w", ErrRetrievalUnavailable, err)
	}

	docs := make([]Document, 0, len(hits))
	for _, d := range hits {
		if d.SimilarityScore >= minScore {
			docs = append(docs, d)
		}
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].SimilarityScore > docs[j].SimilarityScore
	})

	if r.grader != nil {
		docs = r.gradeDocuments(ctx, q, docs)
	}
	return docs, nil
}

func (r *Retriever) gradeDocuments(ctx context.Context, q Question, docs []Document) []Document {
	kept := docs[:0]
	for _, d := range docs {
		ok, err := r.grader.Relevant(ctx, q, d)
		if err != nil {
			r.log.Warn("document grading failed, keeping document",
				zap.String("module", "retriever"), zap.Error(err))
			ok = true
		}
		if ok {
			kept = append(kept, d)
		}
	}
	return kept
}

// LLMDocumentGrader asks the completion service whether a document is
// relevant to the question.
type LLMDocumentGrader struct {
	llm llm.Provider
}

func NewLLMDocumentGrader(p llm.Provider) *LLMDocumentGrader {
	return &LLMDocumentGrader{llm: p}
}

func (g *LLMDocumentGrader) Relevant(ctx context.Context, q Question, d Document) (bool, error) {
	reply, err := g.llm.Generate(ctx, fmt.Sprintf(documentGradePrompt, d.Content, q.Text),
		llm.WithTemperature(0), llm.WithJSON())
	if err != nil {
		return true, err
	}
	yes, ok := parseYesNo(reply)
	if !ok {
		return true, fmt.Errorf("unreadable document grade %q", truncate(reply, 80))
	}
	return yes, nil
}
