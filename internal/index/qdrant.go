package index

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"golang.org/x/sync/singleflight"

	"github.com/madoguchi-ai/madoguchi/internal/embedding"
	"github.com/madoguchi-ai/madoguchi/internal/model"
)

// QdrantConfig holds configuration for connecting to Qdrant.
type QdrantConfig struct {
	URL        string // e.g. "https://xyz.cloud.qdrant.io:6333" or "http://localhost:6333"
	APIKey     string
	Collection string
	Dims       uint64
}

// Point is the data needed to upsert a single knowledge-base chunk.
type Point struct {
	ID         uuid.UUID
	SectionKey string
	Text       string
	Title      string
	Section    string
	Source     string
	Version    string
	Embedding  []float32
}

// QdrantIndex implements Index backed by Qdrant. Queries are embedded with
// the configured provider so both search views share one query
// representation.
type QdrantIndex struct {
	client     *qdrant.Client
	embedder   embedding.Provider
	collection string
	dims       uint64
	logger     *slog.Logger

	healthGroup singleflight.Group
	healthErr   atomic.Value // stores *error (pointer-to-error, never nil pointer; inner error may be nil)
	healthAt    atomic.Int64 // unix nanos of last check
}

// parseQdrantURL extracts host, port, and TLS flag from a Qdrant URL.
// Accepts forms like "https://host:6333", "http://host:6333", or "host:6334".
func parseQdrantURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("index: invalid qdrant URL: %q", rawURL)
	}

	useTLS = u.Scheme == "https"
	host = u.Hostname()

	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("index: invalid port in qdrant URL: %q", portStr)
		}
		// If the user specified the REST port (6333), use the gRPC port (6334).
		if p == 6333 {
			port = 6334
		} else {
			port = p
		}
	} else {
		port = 6334
	}

	return host, port, useTLS, nil
}

// NewQdrantIndex creates a new QdrantIndex and connects to the Qdrant server via gRPC.
func NewQdrantIndex(cfg QdrantConfig, embedder embedding.Provider, logger *slog.Logger) (*QdrantIndex, error) {
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("index: connect to qdrant at %s:%d: %w", host, port, err)
	}

	return &QdrantIndex{
		client:     client,
		embedder:   embedder,
		collection: cfg.Collection,
		dims:       cfg.Dims,
		logger:     logger,
	}, nil
}

// EnsureCollection creates the collection if it doesn't already exist and
// ensures the section_key payload index is present. CreateFieldIndex is
// idempotent on Qdrant, so it is always attempted to backfill indexes added
// after the collection was first created.
func (q *QdrantIndex) EnsureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("index: check collection exists: %w", err)
	}

	if !exists {
		if err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     q.dims,
				Distance: qdrant.Distance_Cosine,
			}),
		}); err != nil {
			return fmt.Errorf("index: create collection %q: %w", q.collection, err)
		}
		q.logger.Info("qdrant: created collection", "collection", q.collection, "dims", q.dims)
	} else {
		q.logger.Info("qdrant: collection already exists", "collection", q.collection)
	}

	keywordType := qdrant.FieldType_FieldTypeKeyword
	for _, field := range []string{"section_key", "source"} {
		if _, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: q.collection,
			FieldName:      field,
			FieldType:      &keywordType,
		}); err != nil {
			return fmt.Errorf("index: ensure index on %q: %w", field, err)
		}
	}

	return nil
}

// DiverseSearch embeds the query, over-fetches fetchK*2 candidates with
// their vectors, and reorders them with a greedy MMR pass before cutting
// back to fetchK. The over-fetch gives the diversity pass material beyond
// the head of the relevance ranking.
func (q *QdrantIndex) DiverseSearch(ctx context.Context, query string, fetchK int, lambda float64) ([]model.RetrievalCandidate, error) {
	if fetchK <= 0 {
		return nil, nil
	}

	vec, err := q.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("index: embed query: %w", err)
	}

	fetchLimit := uint64(fetchK) * 2 //nolint:gosec // fetchK is a small config value
	scored, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &fetchLimit,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("index: qdrant diverse query: %w", err)
	}

	candidates := make([]model.RetrievalCandidate, 0, len(scored))
	vectors := make([]scoredVector, 0, len(scored))
	for _, sp := range scored {
		candidates = append(candidates, candidateFromPoint(sp))
		vectors = append(vectors, scoredVector{
			relevance: float64(sp.Score),
			vector:    sp.Vectors.GetVector().GetData(),
		})
	}

	picked := mmrSelect(vectors, lambda, fetchK)
	out := make([]model.RetrievalCandidate, 0, len(picked))
	for _, i := range picked {
		out = append(out, candidates[i])
	}
	return out, nil
}

// ScoredSearch embeds the query and returns the raw relevance ranking for
// the candidate pool, keyed by section. No payload beyond section_key is
// fetched; the caller only needs the score lookup.
func (q *QdrantIndex) ScoredSearch(ctx context.Context, query string, fetchK int) ([]SectionScore, error) {
	if fetchK <= 0 {
		return nil, nil
	}

	vec, err := q.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("index: embed query: %w", err)
	}

	fetchLimit := uint64(fetchK) * 2 //nolint:gosec // fetchK is a small config value
	scored, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &fetchLimit,
		WithPayload:    qdrant.NewWithPayloadInclude("section_key"),
	})
	if err != nil {
		return nil, fmt.Errorf("index: qdrant scored query: %w", err)
	}

	out := make([]SectionScore, 0, len(scored))
	for _, sp := range scored {
		key := payloadString(sp.Payload, "section_key")
		if key == "" {
			continue
		}
		out = append(out, SectionScore{SectionKey: key, Score: float64(sp.Score)})
	}
	return out, nil
}

// Upsert inserts or updates knowledge-base chunks.
func (q *QdrantIndex) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	qdrantPoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		payload := map[string]any{
			"section_key": p.SectionKey,
			"text":        p.Text,
		}
		if p.Title != "" {
			payload["title"] = p.Title
		}
		if p.Section != "" {
			payload["section"] = p.Section
		}
		if p.Source != "" {
			payload["source"] = p.Source
		}
		if p.Version != "" {
			payload["version"] = p.Version
		}
		qdrantPoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID.String()),
			Vectors: qdrant.NewVectorsDense(p.Embedding),
			Payload: qdrant.NewValueMap(payload),
		}
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrantPoints,
	})
	if err != nil {
		return fmt.Errorf("index: qdrant upsert %d points: %w", len(points), err)
	}
	return nil
}

// DeleteBySource removes all chunks ingested from one source document,
// used before re-ingesting an updated file.
func (q *QdrantIndex) DeleteBySource(ctx context.Context, source string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{
						qdrant.NewMatch("source", source),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("index: qdrant delete by source %q: %w", source, err)
	}
	return nil
}

// Healthy returns nil if Qdrant is reachable. Results are cached for 5
// seconds to avoid hammering the health endpoint on every retrieval.
// Concurrent calls after cache expiry are deduplicated via singleflight so
// only one gRPC call is made; all waiters share its result.
func (q *QdrantIndex) Healthy(ctx context.Context) error {
	// Fast path: return the cached result if fresh.
	if time.Since(time.Unix(0, q.healthAt.Load())) < 5*time.Second {
		return q.loadHealthErr()
	}

	// Deduplicate concurrent checks. Use context.Background() instead of the
	// caller's ctx because singleflight reuses the first caller's context —
	// if that caller cancels, all waiters would get a stale error.
	result, _, _ := q.healthGroup.Do("health", func() (any, error) {
		checkCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		_, err := q.client.HealthCheck(checkCtx)
		if err != nil {
			q.storeHealthErr(fmt.Errorf("index: qdrant unhealthy: %w", err))
		} else {
			q.storeHealthErr(nil)
		}
		q.healthAt.Store(time.Now().UnixNano())
		return q.loadHealthErr(), nil
	})
	if result == nil {
		return nil
	}
	return result.(error)
}

// storeHealthErr stores an error (or nil) in the atomic.Value.
// atomic.Value cannot store nil directly, so we wrap it in a pointer.
func (q *QdrantIndex) storeHealthErr(err error) {
	q.healthErr.Store(&err)
}

// loadHealthErr loads the cached health error.
func (q *QdrantIndex) loadHealthErr() error {
	v := q.healthErr.Load()
	if v == nil {
		return nil
	}
	return *v.(*error)
}

// Close shuts down the Qdrant gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

// candidateFromPoint maps a scored Qdrant point to a retrieval candidate.
// Missing payload fields come back empty; the gate decides what is fatal.
func candidateFromPoint(sp *qdrant.ScoredPoint) model.RetrievalCandidate {
	return model.RetrievalCandidate{
		ID:             sp.Id.GetUuid(),
		SectionKey:     payloadString(sp.Payload, "section_key"),
		RelevanceScore: float64(sp.Score),
		Text:           payloadString(sp.Payload, "text"),
		Metadata: model.ChunkMetadata{
			Title:   payloadString(sp.Payload, "title"),
			Section: payloadString(sp.Payload, "section"),
			Source:  payloadString(sp.Payload, "source"),
			Version: payloadString(sp.Payload, "version"),
		},
	}
}

func payloadString(payload map[string]*qdrant.Value, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	return v.GetStringValue()
}
