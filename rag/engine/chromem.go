package engine

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/finargo/corpusbank/rag/types"
	"github.com/philippgille/chromem-go"
)

// ChromemStore keeps chunk vectors in an embedded chromem-go
// collection, persisted under path or held in memory when path is
// empty. Embeddings always arrive precomputed; chromem is never asked
// to call an embedding model itself.
type ChromemStore struct {
	db   *chromem.DB
	name string

	mu         sync.Mutex
	collection *chromem.Collection
}

// NewChromemStore opens or creates the named collection.
func NewChromemStore(name, path string) (*ChromemStore, error) {
	var (
		db  *chromem.DB
		err error
	)
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, true)
		if err != nil {
			return nil, fmt.Errorf("failed to open chromem db: %w", err)
		}
	}

	collection, err := db.GetOrCreateCollection(name, nil, precomputedOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to create chromem collection: %w", err)
	}
	return &ChromemStore{db: db, name: name, collection: collection}, nil
}

// precomputedOnly refuses to embed. Reaching it means a caller upserted
// documents without vectors, which is a bug.
func precomputedOnly(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("no embedding function configured: vectors must be precomputed")
}

func (s *ChromemStore) col() *chromem.Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collection
}

func (s *ChromemStore) Upsert(ctx context.Context, chunks []types.Chunk, vectors [][]float32) error {
	if len(chunks) == 0 {
		return nil
	}
	documents := make([]chromem.Document, len(chunks))
	for i, chunk := range chunks {
		meta := map[string]string{"source": chunk.Source}
		if chunk.Section != "" {
			meta["section"] = chunk.Section
		}
		documents[i] = chromem.Document{
			ID:        chunk.ID,
			Metadata:  meta,
			Embedding: vectors[i],
			Content:   chunk.Content,
		}
	}
	if err := s.col().AddDocuments(ctx, documents, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents to chromem: %w", err)
	}
	return nil
}

func (s *ChromemStore) Query(ctx context.Context, vector []float32, k int) ([]types.ScoredCandidate, error) {
	collection := s.col()
	count := collection.Count()
	if count == 0 || k <= 0 {
		return nil, nil
	}
	// chromem rejects requests for more results than it holds.
	if k > count {
		k = count
	}

	results, err := collection.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query failed: %w", err)
	}
	candidates := make([]types.ScoredCandidate, 0, len(results))
	for _, r := range results {
		candidates = append(candidates, types.ScoredCandidate{
			ChunkID: r.ID,
			Score:   float64(r.Similarity),
			Method:  types.MethodDense,
		})
	}
	return candidates, nil
}

func (s *ChromemStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.col().Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("failed to delete from chromem: %w", err)
	}
	return nil
}

func (s *ChromemStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteCollection(s.name); err != nil {
		return fmt.Errorf("failed to delete chromem collection: %w", err)
	}
	collection, err := s.db.GetOrCreateCollection(s.name, nil, precomputedOnly)
	if err != nil {
		return fmt.Errorf("failed to recreate chromem collection: %w", err)
	}
	s.collection = collection
	return nil
}

func (s *ChromemStore) Count(ctx context.Context) (int, error) {
	return s.col().Count(), nil
}
