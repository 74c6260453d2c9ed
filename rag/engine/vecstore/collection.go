package vecstore

import (
	"context"

	"github.com/finargo/corpusbank/rag/types"
)

// Collection binds a client to one named collection and satisfies the
// dense VectorStore contract. Chunk provenance travels as item metadata
// so the remote store stays inspectable on its own.
type Collection struct {
	client *Client
	name   string
}

// Collection returns a handle for the named collection.
func (c *Client) Collection(name string) *Collection {
	return &Collection{client: c, name: name}
}

func (col *Collection) Upsert(ctx context.Context, chunks []types.Chunk, vectors [][]float32) error {
	items := make([]Item, len(chunks))
	for i, chunk := range chunks {
		meta := map[string]string{"source": chunk.Source}
		if chunk.Section != "" {
			meta["section"] = chunk.Section
		}
		items[i] = Item{ID: chunk.ID, Vector: vectors[i], Metadata: meta}
	}
	return col.client.Upsert(ctx, col.name, items)
}

func (col *Collection) Query(ctx context.Context, vector []float32, k int) ([]types.ScoredCandidate, error) {
	matches, err := col.client.Query(ctx, col.name, vector, k)
	if err != nil {
		return nil, err
	}
	candidates := make([]types.ScoredCandidate, 0, len(matches))
	for _, m := range matches {
		candidates = append(candidates, types.ScoredCandidate{
			ChunkID: m.ID,
			Score:   m.Score,
			Method:  types.MethodDense,
		})
	}
	return candidates, nil
}

func (col *Collection) Delete(ctx context.Context, ids []string) error {
	return col.client.Delete(ctx, col.name, ids)
}

func (col *Collection) Reset(ctx context.Context) error {
	return col.client.Reset(ctx, col.name)
}

func (col *Collection) Count(ctx context.Context) (int, error) {
	return col.client.Count(ctx, col.name)
}
