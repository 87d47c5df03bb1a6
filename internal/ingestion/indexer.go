package ingestion

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Divas-Gupta30/market-agent/internal/processing"
	"github.com/Divas-Gupta30/market-agent/internal/storage"
)

// ChunkWriter persists embedded chunks.
type ChunkWriter interface {
	InsertBatch(ctx context.Context, chunks []storage.Chunk) error
}

// Indexer loads local files into the vector store.
type Indexer struct {
	Embedder     processing.Embedder
	Store        ChunkWriter
	Log          *zap.Logger
	ChunkSize    int
	ChunkOverlap int
	// SourceTag, when set, overrides the tag inferred from folder names.
	SourceTag string
	// Extract defaults to ExtractText.
	Extract func(path string) (string, error)
}

// Report summarises one indexing run.
type Report struct {
	Files   int
	Skipped int
	// NoText counts the skipped files that had no text, such as scanned PDFs.
	NoText int
	Chunks int
}

// IndexDir indexes every supported file under root. Files that cannot be read
// or embedded are skipped and logged; a store failure aborts the run.
func (ix *Indexer) IndexDir(ctx context.Context, root string) (Report, error) {
	var rep Report
	files, err := LoadLocalFiles(root)
	if err != nil {
		return rep, fmt.Errorf("load files: %w", err)
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		n, err := ix.IndexFile(ctx, f)
		if err != nil {
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			var se *storeError
			if errors.As(err, &se) {
				return rep, err
			}
			rep.Skipped++
			if errors.Is(err, ErrNoText) {
				rep.NoText++
				ix.Log.Warn("skip file without text", zap.String("module", "ingestion"), zap.String("path", f),
					zap.Bool("needs_ocr", errors.Is(err, ErrNoTextLayer)))
				continue
			}
			ix.Log.Warn("skip file", zap.String("module", "ingestion"), zap.String("path", f), zap.Error(err))
			continue
		}
		rep.Files++
		rep.Chunks += n
		ix.Log.Info("indexed file", zap.String("module", "ingestion"), zap.String("path", f), zap.Int("chunks", n))
	}
	return rep, nil
}

// IndexFile extracts, chunks, embeds and stores one file, returning the
// number of chunks written.
func (ix *Indexer) IndexFile(ctx context.Context, path string) (int, error) {
	extract := ix.Extract
	if extract == nil {
		extract = ExtractText
	}
	text, err := extract(path)
	if err != nil {
		return 0, err
	}
	chunks := processing.ChunkText(text, ix.ChunkSize, ix.ChunkOverlap)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("%s: %w", path, ErrNoText)
	}

	embs, err := processing.EmbedChunks(ctx, ix.Embedder, chunks)
	if err != nil {
		return 0, err
	}

	meta := processing.NewMetadata(path, ix.SourceTag)
	rows := make([]storage.Chunk, len(chunks))
	for i := range chunks {
		rows[i] = storage.Chunk{
			Content:    chunks[i],
			SourceTag:  meta.SourceTag,
			Link:       meta.Link,
			Title:      meta.Title,
			ImportedAt: meta.ImportedAt,
			Embedding:  embs[i],
		}
	}
	if err := ix.Store.InsertBatch(ctx, rows); err != nil {
		return 0, &storeError{err: err}
	}
	return len(rows), nil
}

type storeError struct{ err error }

func (e *storeError) Error() string { return "db insert error: " + e.err.Error() }
func (e *storeError) Unwrap() error { return e.err }
