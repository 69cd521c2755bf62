package madoguchi

import "context"

// Classifier is the extension point for replacing the built-in message
// classification (OpenAI or keyword heuristic). Failures are absorbed:
// a returned error routes the turn toward clarification, never to the
// caller.
type Classifier interface {
	Classify(ctx context.Context, message string, recent []Turn) (ClassificationResult, error)
}

// EmbeddingProvider is the extension point for replacing the built-in
// embedding backend used by the similarity index.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}
