package storage

import (
	"context"

	"github.com/Divas-Gupta30/market-agent/internal/graph"
)

// DocumentSearcher adapts VectorStore to the workflow's search contract.
type DocumentSearcher struct {
	Store *VectorStore
}

func (s DocumentSearcher) Search(ctx context.Context, embedding []float32, topK int, sourceTag string) ([]graph.Document, error) {
	matches, err := s.Store.Search(ctx, embedding, topK, sourceTag)
	if err != nil {
		return nil, err
	}
	return toDocuments(matches), nil
}

func toDocuments(matches []Match) []graph.Document {
	docs := make([]graph.Document, len(matches))
	for i, m := range matches {
		docs[i] = graph.Document{
			Content:         m.Content,
			SourceTag:       m.SourceTag,
			Link:            m.Link,
			SimilarityScore: m.Score,
		}
	}
	return docs
}
