package ingest

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DocumentCategory is the memory category document chunks are stored under.
const DocumentCategory = "ltm_doc"

// MemoryWriter is the slice of the memory store the injector needs.
type MemoryWriter interface {
	Store(ctx context.Context, category, text string, meta map[string]any) (int64, error)
}

// Injector extracts, chunks and stores documents.
type Injector struct {
	writer      MemoryWriter
	extractor   *Extractor
	logger      *zap.Logger
	chunkWords  int
	overlap     int
	concurrency int
}

// NewInjector returns an injector storing chunks through writer.
func NewInjector(writer MemoryWriter, logger *zap.Logger) *Injector {
	return &Injector{
		writer:      writer,
		extractor:   NewExtractor(),
		logger:      logger,
		chunkWords:  DefaultChunkWords,
		overlap:     DefaultOverlapWords,
		concurrency: 4,
	}
}

// InjectReport summarizes one document injection.
type InjectReport struct {
	DocID  string `json:"doc_id"`
	Source string `json:"source"`
	Chunks int    `json:"chunks"`
}

// InjectFile extracts text from the file at path, splits it and stores each
// chunk as an ltm_doc memory tagged with the source path, a fresh document id
// and the chunk index. Chunks are embedded concurrently; any failure aborts
// the rest.
func (inj *Injector) InjectFile(ctx context.Context, path string) (InjectReport, error) {
	text, err := inj.extractor.Extract(path)
	if err != nil {
		return InjectReport{}, fmt.Errorf("extract %s: %w", path, err)
	}

	chunks := SplitWords(text, inj.chunkWords, inj.overlap)
	docID := uuid.NewString()
	source := filepath.Clean(path)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(inj.concurrency)
	for _, chunk := range chunks {
		chunk := chunk
		g.Go(func() error {
			_, err := inj.writer.Store(gctx, DocumentCategory, chunk.Text, map[string]any{
				"source":      source,
				"doc_id":      docID,
				"chunk_index": chunk.Index,
			})
			if err != nil {
				return fmt.Errorf("store chunk %d: %w", chunk.Index, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return InjectReport{}, err
	}

	inj.logger.Info("document injected",
		zap.String("source", source),
		zap.String("doc_id", docID),
		zap.Int("chunks", len(chunks)))
	return InjectReport{DocID: docID, Source: source, Chunks: len(chunks)}, nil
}
