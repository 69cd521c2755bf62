package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/madoguchi-ai/madoguchi/internal/embedding"
	"github.com/madoguchi-ai/madoguchi/internal/index"
)

// embedBatchSize is how many chunks go into one embedding API call.
const embedBatchSize = 32

// Ingestor embeds document chunks and upserts them into the index.
type Ingestor struct {
	embedder embedding.Provider
	idx      *index.QdrantIndex
	cfg      ChunkerConfig
	logger   *slog.Logger

	// Concurrency is the number of embedding batches in flight.
	Concurrency int
}

// NewIngestor creates an Ingestor with the given chunker settings.
func NewIngestor(embedder embedding.Provider, idx *index.QdrantIndex, cfg ChunkerConfig, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		embedder:    embedder,
		idx:         idx,
		cfg:         cfg,
		logger:      logger,
		Concurrency: 4,
	}
}

// IngestDir walks dir recursively and ingests every markdown file.
// Returns the number of chunks written.
func (in *Ingestor) IngestDir(ctx context.Context, dir, version string) (int, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(strings.ToLower(path), ".md") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ingest: walk %s: %w", dir, err)
	}
	if len(files) == 0 {
		return 0, fmt.Errorf("ingest: no markdown files under %s", dir)
	}

	total := 0
	for _, path := range files {
		n, err := in.IngestFile(ctx, dir, path, version)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// IngestFile chunks, embeds and upserts one markdown file. Existing
// chunks for the same source are replaced, so re-ingesting a file never
// leaves stale sections behind.
func (in *Ingestor) IngestFile(ctx context.Context, root, path, version string) (int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("ingest: read %s: %w", path, err)
	}

	source, err := filepath.Rel(root, path)
	if err != nil {
		source = filepath.Base(path)
	}
	source = filepath.ToSlash(source)

	chunks, err := SplitMarkdown(source, version, string(content), in.cfg)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		in.logger.Warn("ingest: file produced no chunks", "source", source)
		return 0, nil
	}

	points, err := in.embedChunks(ctx, chunks)
	if err != nil {
		return 0, err
	}

	if err := in.idx.DeleteBySource(ctx, source); err != nil {
		return 0, fmt.Errorf("ingest: clear old chunks for %s: %w", source, err)
	}
	if err := in.idx.Upsert(ctx, points); err != nil {
		return 0, fmt.Errorf("ingest: upsert %s: %w", source, err)
	}

	in.logger.Info("ingest: file indexed", "source", source, "chunks", len(chunks))
	return len(chunks), nil
}

// embedChunks runs embedding batches concurrently, bounded by Concurrency.
func (in *Ingestor) embedChunks(ctx context.Context, chunks []Chunk) ([]index.Point, error) {
	points := make([]index.Point, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.Concurrency)

	for start := 0; start < len(chunks); start += embedBatchSize {
		end := min(start+embedBatchSize, len(chunks))
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, c := range chunks[start:end] {
				texts = append(texts, c.Text)
			}
			vecs, err := in.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return fmt.Errorf("ingest: embed batch at %d: %w", start, err)
			}
			for i, c := range chunks[start:end] {
				points[start+i] = index.Point{
					ID:         uuid.New(),
					SectionKey: c.SectionKey,
					Text:       c.Text,
					Title:      c.Title,
					Section:    c.Section,
					Source:     c.Source,
					Version:    c.Version,
					Embedding:  vecs[i],
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return points, nil
}
