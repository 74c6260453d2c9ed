package rag

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/finargo/corpusbank/pkg/chunk"
	"github.com/finargo/corpusbank/rag/engine"
	"github.com/finargo/corpusbank/rag/engine/vecstore"
	"github.com/finargo/corpusbank/rag/interfaces"
	"github.com/mudler/xlog"
)

const collectionPrefix = "collection-"

// CollectionOptions tunes chunking and retrieval for a collection. Zero
// values fall back to the package defaults.
type CollectionOptions struct {
	ChunkTokens   int
	OverlapTokens int
	RRFK          int
	Retrieval     engine.RetrievalOptions
}

// NewPersistentChromemCollection opens a collection backed by the
// embedded chromem-go store, persisted under dbPath. The reranker may be
// nil to retrieve on fusion order alone.
func NewPersistentChromemCollection(ctx context.Context, name, dbPath, assetDir string, embedder interfaces.Embedder, reranker interfaces.Reranker, opts CollectionOptions) (*PersistentKB, error) {
	store, err := engine.NewChromemStore(name, filepath.Join(dbPath, "chromem"))
	if err != nil {
		return nil, fmt.Errorf("failed to open chromem store: %w", err)
	}
	return assembleCollection(ctx, name, dbPath, assetDir, store, embedder, reranker, opts)
}

// NewPersistentVecstoreCollection opens a collection backed by a remote
// vector store service.
func NewPersistentVecstoreCollection(ctx context.Context, name, baseURL, apiKey, dbPath, assetDir string, embedder interfaces.Embedder, reranker interfaces.Reranker, opts CollectionOptions) (*PersistentKB, error) {
	client := vecstore.NewClient(baseURL, apiKey)
	return assembleCollection(ctx, name, dbPath, assetDir, client.Collection(name), embedder, reranker, opts)
}

// NewPersistentPostgresCollection opens a collection backed by PostgreSQL
// with pgvector.
func NewPersistentPostgresCollection(ctx context.Context, name, databaseURL, dbPath, assetDir string, embedder interfaces.Embedder, reranker interfaces.Reranker, opts CollectionOptions) (*PersistentKB, error) {
	store, err := engine.NewPostgresStore(name, databaseURL, embedder.Dimensions())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres store: %w", err)
	}
	return assembleCollection(ctx, name, dbPath, assetDir, store, embedder, reranker, opts)
}

// assembleCollection builds the retrieval stack over a vector store
// backend and opens the persistent collection on top of it.
func assembleCollection(ctx context.Context, name, dbPath, assetDir string, store interfaces.VectorStore, embedder interfaces.Embedder, reranker interfaces.Reranker, opts CollectionOptions) (*PersistentKB, error) {
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, err
	}

	sparse := engine.NewSparseIndex(0, 0)
	dense := engine.NewDenseIndex(store, embedder.Dimensions())
	fuser := engine.NewFuser(opts.RRFK, sparse)
	retriever := engine.NewHybridSearchEngine(sparse, dense, embedder, reranker, fuser, opts.Retrieval)

	var counter chunk.TokenCounter
	counter, err := chunk.NewTiktokenCounter("")
	if err != nil {
		xlog.Warn("Tiktoken encoding unavailable, counting words instead", "error", err)
		counter = chunk.WordCounter{}
	}

	return NewPersistentCollectionKB(ctx,
		filepath.Join(dbPath, fmt.Sprintf("%s%s.json", collectionPrefix, name)),
		assetDir,
		Components{
			Retriever: retriever,
			Sparse:    sparse,
			Dense:     dense,
			Embedder:  embedder,
			Chunker:   NewChunker(counter, opts.ChunkTokens, opts.OverlapTokens),
		})
}

// ListAllCollections lists the collections persisted under dbPath.
func ListAllCollections(dbPath string) []string {
	collections := []string{}
	files, err := os.ReadDir(dbPath)
	if err != nil {
		return nil
	}

	for _, f := range files {
		if strings.HasPrefix(f.Name(), collectionPrefix) && strings.HasSuffix(f.Name(), ".json") {
			collections = append(collections, strings.TrimPrefix(strings.TrimSuffix(f.Name(), ".json"), collectionPrefix))
		}
	}

	return collections
}
