package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/finargo/corpusbank/rag/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mudler/xlog"
)

// PostgresStore persists chunk vectors in PostgreSQL using the pgvector
// extension. Each collection gets its own table; cosine similarity is
// computed server-side with the <=> operator, so Query returns raw
// similarities in [-1, 1] like every other VectorStore backend.
type PostgresStore struct {
	pool       *pgxpool.Pool
	collection string
	tableName  string
	dims       int
}

// NewPostgresStore connects to databaseURL and prepares the table and
// index backing the named collection. dims fixes the width of the vector
// column; reopening an existing collection with different dimensions
// fails with types.ErrDimensionMismatch.
func NewPostgresStore(collection, databaseURL string, dims int) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required for the postgres vector store")
	}
	if dims <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be positive, got %d", dims)
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	p := &PostgresStore{
		pool:       pool,
		collection: collection,
		tableName:  sanitizeTableName(collection),
		dims:       dims,
	}

	if err := p.setupDatabase(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to setup database: %w", err)
	}

	if err := p.checkCollectionConfig(); err != nil {
		pool.Close()
		return nil, err
	}

	return p, nil
}

func sanitizeTableName(name string) string {
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, ".", "_")
	name = strings.ReplaceAll(name, " ", "_")
	// Ensure it starts with a letter
	if len(name) > 0 && (name[0] < 'a' || name[0] > 'z') && (name[0] < 'A' || name[0] > 'Z') {
		name = "col_" + name
	}
	return "chunks_" + name
}

func (p *PostgresStore) setupDatabase() error {
	ctx := context.Background()

	_, err := p.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to enable vector extension: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS collection_config (
			collection_name TEXT PRIMARY KEY,
			embedding_dimensions INTEGER NOT NULL,
			created_at TIMESTAMP DEFAULT NOW(),
			updated_at TIMESTAMP DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create collection_config table: %w", err)
	}

	_, err = p.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			chunk_id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			source TEXT,
			section TEXT,
			metadata JSONB,
			token_count INTEGER,
			embedding VECTOR(%d) NOT NULL
		)
	`, p.tableName, p.dims))
	if err != nil {
		return fmt.Errorf("failed to create chunks table: %w", err)
	}

	// HNSW needs pgvector >= 0.5; older servers still answer queries
	// through a sequential scan.
	_, err = p.pool.Exec(ctx, fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%s_embedding ON %s
		USING hnsw(embedding vector_cosine_ops)
	`, p.tableName, p.tableName))
	if err != nil {
		xlog.Warn("Failed to create HNSW index", "table", p.tableName, "error", err)
	}

	return nil
}

func (p *PostgresStore) checkCollectionConfig() error {
	ctx := context.Background()

	var storedDims int
	err := p.pool.QueryRow(ctx, `
		SELECT embedding_dimensions
		FROM collection_config
		WHERE collection_name = $1
	`, p.collection).Scan(&storedDims)

	if err == pgx.ErrNoRows {
		_, err = p.pool.Exec(ctx, `
			INSERT INTO collection_config (collection_name, embedding_dimensions)
			VALUES ($1, $2)
		`, p.collection, p.dims)
		if err != nil {
			return fmt.Errorf("failed to insert collection config: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to query collection config: %w", err)
	}

	if storedDims != p.dims {
		return fmt.Errorf("collection %q holds %d-dimensional embeddings, configured for %d: %w",
			p.collection, storedDims, p.dims, types.ErrDimensionMismatch)
	}

	return nil
}

// formatVector renders a vector in the pgvector text format, e.g.
// "[0.100000,0.200000]".
func formatVector(vec []float32) string {
	parts := make([]string, len(vec))
	for i, v := range vec {
		parts[i] = fmt.Sprintf("%.6f", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// databaseErr marks a query failure as a retryable upstream error so the
// dense index retry loop treats the database like any remote backend.
func databaseErr(err error) error {
	return fmt.Errorf("%w: %v", types.ErrUpstreamUnavailable, err)
}

func (p *PostgresStore) Upsert(ctx context.Context, chunks []types.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunk and vector counts differ: %d vs %d", len(chunks), len(vectors))
	}

	for i, chunk := range chunks {
		metadataJSON, err := json.Marshal(chunk.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for chunk %s: %w", chunk.ID, err)
		}

		_, err = p.pool.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (chunk_id, content, source, section, metadata, token_count, embedding)
			VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7::vector)
			ON CONFLICT (chunk_id) DO UPDATE SET
				content = EXCLUDED.content,
				source = EXCLUDED.source,
				section = EXCLUDED.section,
				metadata = EXCLUDED.metadata,
				token_count = EXCLUDED.token_count,
				embedding = EXCLUDED.embedding
		`, p.tableName),
			chunk.ID, chunk.Content, chunk.Source, chunk.Section,
			string(metadataJSON), chunk.TokenCount, formatVector(vectors[i]))
		if err != nil {
			return fmt.Errorf("failed to upsert chunk %s: %w", chunk.ID, databaseErr(err))
		}
	}

	return nil
}

func (p *PostgresStore) Query(ctx context.Context, vector []float32, k int) ([]types.ScoredCandidate, error) {
	if k <= 0 {
		return nil, nil
	}

	rows, err := p.pool.Query(ctx, fmt.Sprintf(`
		SELECT chunk_id, 1 - (embedding <=> $1::vector) AS similarity
		FROM %s
		ORDER BY embedding <=> $1::vector
		LIMIT $2
	`, p.tableName), formatVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", databaseErr(err))
	}
	defer rows.Close()

	var candidates []types.ScoredCandidate
	for rows.Next() {
		var c types.ScoredCandidate
		if err := rows.Scan(&c.ChunkID, &c.Score); err != nil {
			return nil, fmt.Errorf("failed to scan search row: %w", err)
		}
		c.Method = types.MethodDense
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read search rows: %w", databaseErr(err))
	}

	return candidates, nil
}

func (p *PostgresStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	_, err := p.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE chunk_id = ANY($1)", p.tableName), ids)
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", databaseErr(err))
	}
	return nil
}

func (p *PostgresStore) Reset(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", p.tableName))
	if err != nil {
		return fmt.Errorf("failed to drop table: %w", databaseErr(err))
	}

	_, err = p.pool.Exec(ctx, "DELETE FROM collection_config WHERE collection_name = $1", p.collection)
	if err != nil {
		return fmt.Errorf("failed to delete collection config: %w", databaseErr(err))
	}

	if err := p.setupDatabase(); err != nil {
		return err
	}
	return p.checkCollectionConfig()
}

func (p *PostgresStore) Count(ctx context.Context) (int, error) {
	var count int
	err := p.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", p.tableName)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", databaseErr(err))
	}
	return count, nil
}

// Close releases the connection pool.
func (p *PostgresStore) Close() {
	p.pool.Close()
}
