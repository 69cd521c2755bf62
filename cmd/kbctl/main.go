// kbctl manages the knowledge-base index: ingest loads markdown docs,
// query runs the retrieval gate once and prints the verdict.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/madoguchi-ai/madoguchi/internal/config"
	"github.com/madoguchi-ai/madoguchi/internal/embedding"
	"github.com/madoguchi-ai/madoguchi/internal/gate"
	"github.com/madoguchi-ai/madoguchi/internal/index"
	"github.com/madoguchi-ai/madoguchi/internal/ingest"
)

const usage = `usage: kbctl <command> [args]

commands:
  ingest <dir>     chunk, embed and index every markdown file under dir
  query <text>     run the retrieval gate for a query and print the verdict

flags for ingest:
  -version <v>     document version tag carried into citations
`

func main() {
	os.Exit(run())
}

func run() int {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	_ = godotenv.Load()

	args := os.Args[1:]
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", "error", err)
		return 1
	}
	if cfg.QdrantURL == "" {
		logger.Error("QDRANT_URL is required for kbctl")
		return 1
	}
	if cfg.OpenAIAPIKey == "" {
		logger.Error("OPENAI_API_KEY is required for kbctl")
		return 1
	}

	embedder, err := embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
	if err != nil {
		logger.Error("embedding provider", "error", err)
		return 1
	}

	idx, err := index.NewQdrantIndex(index.QdrantConfig{
		URL:        cfg.QdrantURL,
		APIKey:     cfg.QdrantAPIKey,
		Collection: cfg.QdrantCollection,
		Dims:       uint64(cfg.EmbeddingDimensions),
	}, embedder, logger)
	if err != nil {
		logger.Error("qdrant", "error", err)
		return 1
	}
	defer func() { _ = idx.Close() }()

	switch args[0] {
	case "ingest":
		return runIngest(ctx, args[1:], cfg, embedder, idx, logger)
	case "query":
		return runQuery(ctx, args[1:], cfg, idx, logger)
	default:
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
}

func runIngest(ctx context.Context, args []string, cfg config.Config, embedder embedding.Provider, idx *index.QdrantIndex, logger *slog.Logger) int {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	docVersion := fs.String("version", "", "document version tag")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: kbctl ingest [-version v] <dir>")
		return 2
	}

	if err := idx.EnsureCollection(ctx); err != nil {
		logger.Error("ensure collection", "error", err)
		return 1
	}

	ing := ingest.NewIngestor(embedder, idx, ingest.ChunkerConfig{
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
	}, logger)

	n, err := ing.IngestDir(ctx, fs.Arg(0), *docVersion)
	if err != nil {
		logger.Error("ingest", "error", err)
		return 1
	}
	fmt.Printf("indexed %d chunks into %s\n", n, cfg.QdrantCollection)
	return 0
}

func runQuery(ctx context.Context, args []string, cfg config.Config, idx index.Index, logger *slog.Logger) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: kbctl query <text>")
		return 2
	}

	g := gate.New(idx, gate.Config{
		FetchK:          cfg.GateFetchK,
		TopK:            cfg.GateTopK,
		Lambda:          cfg.GateLambda,
		MinHits:         cfg.GateMinHits,
		ScoreThreshold:  cfg.GateScoreThreshold,
		RetrieveTimeout: cfg.RetrieveTimeout,
	}, logger)

	result := g.Retrieve(ctx, args[0])

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		logger.Error("encode result", "error", err)
		return 1
	}
	if !result.SufficientEvidence {
		return 1
	}
	return 0
}
