package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/finargo/corpusbank/rag/engine"
	"github.com/finargo/corpusbank/rag/interfaces"
	"github.com/finargo/corpusbank/rag/types"
	"github.com/mudler/xlog"
)

// Components wires the retrieval stack backing a collection.
type Components struct {
	Retriever *engine.HybridSearchEngine
	Sparse    *engine.SparseIndex
	Dense     *engine.DenseIndex
	Embedder  interfaces.Embedder
	Chunker   *Chunker
}

// kbState is the on-disk shape of a collection: which documents it holds
// and which external sources feed it. Chunks are not persisted; they are
// rebuilt from the asset files on open.
type kbState struct {
	Files           []string                     `json:"files"`
	Metadata        map[string]map[string]string `json:"metadata,omitempty"`
	ExternalSources []ExternalSource             `json:"external_sources,omitempty"`
}

// PersistentKB is a persistent collection of documents. Stored files are
// copied into an asset directory and indexed twice, into the lexical
// sparse index and the dense vector index, under deterministic chunk
// IDs. Opening an existing collection re-chunks the asset files so the
// in-memory sparse index always matches the corpus.
type PersistentKB struct {
	mu       sync.Mutex
	state    kbState
	chunks   map[string][]types.Chunk
	path     string
	assetDir string

	retriever *engine.HybridSearchEngine
	sparse    *engine.SparseIndex
	dense     *engine.DenseIndex
	embedder  interfaces.Embedder
	chunker   *Chunker
}

func loadState(path string) (kbState, error) {
	var state kbState
	data, err := os.ReadFile(path)
	if err != nil {
		return state, err
	}
	err = json.Unmarshal(data, &state)
	return state, err
}

// NewPersistentCollectionKB opens the collection stored at stateFile,
// creating it when missing. Existing collections are repopulated: every
// asset file is re-chunked and re-indexed before the call returns.
func NewPersistentCollectionKB(ctx context.Context, stateFile, assetDir string, c Components) (*PersistentKB, error) {
	if c.Retriever == nil || c.Sparse == nil || c.Dense == nil || c.Embedder == nil || c.Chunker == nil {
		return nil, fmt.Errorf("incomplete collection components")
	}

	if err := os.MkdirAll(assetDir, 0755); err != nil {
		return nil, err
	}

	db := &PersistentKB{
		chunks:    map[string][]types.Chunk{},
		path:      stateFile,
		assetDir:  assetDir,
		retriever: c.Retriever,
		sparse:    c.Sparse,
		dense:     c.Dense,
		embedder:  c.Embedder,
		chunker:   c.Chunker,
	}

	if _, err := os.Stat(stateFile); err != nil {
		db.mu.Lock()
		defer db.mu.Unlock()
		return db, db.save()
	}

	state, err := loadState(stateFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load collection state: %w", err)
	}
	db.state = state

	if err := db.repopulate(ctx); err != nil {
		return nil, err
	}

	return db, nil
}

// Search runs a hybrid retrieval against the collection.
func (db *PersistentKB) Search(ctx context.Context, query string, opts engine.RetrievalOptions) ([]types.RerankedResult, error) {
	return db.retriever.Retrieve(ctx, query, opts)
}

// Store copies a file into the collection and indexes its chunks. The
// entry name is the file's base name and must not exist yet.
func (db *PersistentKB) Store(ctx context.Context, entry string, metadata map[string]string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	name := filepath.Base(entry)
	if _, ok := db.chunks[name]; ok {
		return fmt.Errorf("entry already exists: %s", name)
	}

	if _, err := os.Stat(entry); err != nil {
		return fmt.Errorf("file does not exist: %s", entry)
	}
	if err := copyFile(entry, db.assetDir); err != nil {
		return fmt.Errorf("failed to copy file: %w", err)
	}

	if err := db.index(ctx, name, metadata); err != nil {
		os.Remove(filepath.Join(db.assetDir, name))
		return err
	}

	db.state.Files = append(db.state.Files, name)
	if len(metadata) > 0 {
		if db.state.Metadata == nil {
			db.state.Metadata = map[string]map[string]string{}
		}
		db.state.Metadata[name] = metadata
	}
	db.rebuildSparse()
	return db.save()
}

// StoreOrReplace stores an entry, first removing any previous entry with
// the same name.
func (db *PersistentKB) StoreOrReplace(ctx context.Context, entry string, metadata map[string]string) error {
	name := filepath.Base(entry)
	if db.EntryExists(name) {
		if err := db.RemoveEntry(ctx, name); err != nil {
			return err
		}
	}
	return db.Store(ctx, entry, metadata)
}

// RemoveEntry removes a document and its chunks from the collection.
func (db *PersistentKB) RemoveEntry(ctx context.Context, entry string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	name := filepath.Base(entry)
	chunks, ok := db.chunks[name]
	if !ok {
		return fmt.Errorf("entry not found: %s", name)
	}

	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	if err := db.dense.Delete(ctx, ids); err != nil {
		return fmt.Errorf("failed to delete chunks from dense index: %w", err)
	}

	delete(db.chunks, name)
	delete(db.state.Metadata, name)
	for i, f := range db.state.Files {
		if f == name {
			db.state.Files = append(db.state.Files[:i], db.state.Files[i+1:]...)
			break
		}
	}
	os.Remove(filepath.Join(db.assetDir, name))

	db.rebuildSparse()
	return db.save()
}

// Reset drops every document from the collection. Registered external
// sources survive a reset and refill it on their next refresh.
func (db *PersistentKB) Reset(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, f := range db.state.Files {
		os.Remove(filepath.Join(db.assetDir, f))
	}
	db.state.Files = nil
	db.state.Metadata = nil
	db.chunks = map[string][]types.Chunk{}

	if err := db.dense.Reset(ctx); err != nil {
		return err
	}
	db.rebuildSparse()
	return db.save()
}

// ListDocuments returns the entry names stored in the collection.
func (db *PersistentKB) ListDocuments() []string {
	db.mu.Lock()
	defer db.mu.Unlock()

	return append([]string(nil), db.state.Files...)
}

// EntryExists reports whether the named entry is stored.
func (db *PersistentKB) EntryExists(entry string) bool {
	db.mu.Lock()
	defer db.mu.Unlock()

	name := filepath.Base(entry)
	_, ok := db.chunks[name]
	return ok
}

// GetEntryContent returns the indexed chunks of an entry in document
// order.
func (db *PersistentKB) GetEntryContent(entry string) ([]types.Chunk, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	chunks, ok := db.chunks[filepath.Base(entry)]
	if !ok {
		return nil, fmt.Errorf("entry not found: %s", entry)
	}
	return append([]types.Chunk(nil), chunks...), nil
}

// Count returns the number of indexed chunks.
func (db *PersistentKB) Count() int {
	return db.sparse.Count()
}

// Terms returns the vocabulary size of the sparse index.
func (db *PersistentKB) Terms() int {
	return db.sparse.Terms()
}

// GetExternalSources returns the external sources registered on the
// collection.
func (db *PersistentKB) GetExternalSources() []ExternalSource {
	db.mu.Lock()
	defer db.mu.Unlock()

	return append([]ExternalSource(nil), db.state.ExternalSources...)
}

// AddExternalSource registers an external source. The URL must not be
// registered yet.
func (db *PersistentKB) AddExternalSource(source ExternalSource) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, s := range db.state.ExternalSources {
		if s.URL == source.URL {
			return fmt.Errorf("source already registered: %s", source.URL)
		}
	}
	db.state.ExternalSources = append(db.state.ExternalSources, source)
	return db.save()
}

// RemoveExternalSource unregisters an external source by URL.
func (db *PersistentKB) RemoveExternalSource(url string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for i, s := range db.state.ExternalSources {
		if s.URL == url {
			db.state.ExternalSources = append(db.state.ExternalSources[:i], db.state.ExternalSources[i+1:]...)
			return db.save()
		}
	}
	return fmt.Errorf("source not registered: %s", url)
}

// index chunks one asset file, embeds its contents and upserts them into
// the dense index. Caller holds the lock.
func (db *PersistentKB) index(ctx context.Context, name string, metadata map[string]string) error {
	chunks, err := db.chunker.ChunkFile(filepath.Join(db.assetDir, name), metadata)
	if err != nil {
		return fmt.Errorf("failed to chunk %s: %w", name, err)
	}

	if len(chunks) > 0 {
		contents := make([]string, len(chunks))
		for i, c := range chunks {
			contents[i] = c.Content
		}
		vectors, err := db.embedder.Embed(ctx, contents)
		if err != nil {
			return fmt.Errorf("failed to embed %s: %w", name, err)
		}
		if err := db.dense.Upsert(ctx, chunks, vectors); err != nil {
			return fmt.Errorf("failed to upsert %s: %w", name, err)
		}
	}

	db.chunks[name] = chunks
	return nil
}

// repopulate re-chunks and re-indexes every asset file. Asset files that
// have gone missing are dropped from the state. Caller holds no lock.
func (db *PersistentKB) repopulate(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.dense.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset dense index: %w", err)
	}

	db.chunks = map[string][]types.Chunk{}
	kept := make([]string, 0, len(db.state.Files))
	for _, name := range db.state.Files {
		if _, err := os.Stat(filepath.Join(db.assetDir, name)); os.IsNotExist(err) {
			xlog.Warn("Asset file missing, dropping entry", "collection", db.path, "entry", name)
			delete(db.state.Metadata, name)
			continue
		}
		if err := db.index(ctx, name, db.state.Metadata[name]); err != nil {
			return err
		}
		kept = append(kept, name)
	}
	db.state.Files = kept

	db.rebuildSparse()
	return db.save()
}

// rebuildSparse rebuilds the lexical index from the current chunk set.
// Caller holds the lock.
func (db *PersistentKB) rebuildSparse() {
	var all []types.Chunk
	for _, name := range db.state.Files {
		all = append(all, db.chunks[name]...)
	}
	db.sparse.Build(all)
}

func (db *PersistentKB) save() error {
	data, err := json.Marshal(db.state)
	if err != nil {
		return err
	}
	return os.WriteFile(db.path, data, 0644)
}

func copyFile(src, dst string) error {
	in, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dst, filepath.Base(src)), in, 0644)
}
