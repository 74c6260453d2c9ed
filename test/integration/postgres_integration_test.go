package integration_test

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/finargo/corpusbank/rag"
	"github.com/finargo/corpusbank/rag/engine"
	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// hashEmbedder maps each term onto a dimension by hash, so texts that
// share words get similar vectors. It needs no embedding service,
// which keeps the suite runnable against just a postgres instance.
type hashEmbedder struct{ dims int }

func (h hashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = h.vector(text)
	}
	return out, nil
}

func (h hashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return h.vector(text), nil
}

func (h hashEmbedder) Dimensions() int { return h.dims }

func (h hashEmbedder) vector(text string) []float32 {
	v := make([]float32, h.dims)
	for _, term := range strings.Fields(strings.ToLower(text)) {
		hasher := fnv.New32a()
		hasher.Write([]byte(term))
		v[hasher.Sum32()%uint32(h.dims)]++
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

var _ = Describe("Postgres-backed collection", func() {
	var (
		ctx         context.Context
		databaseURL string
		tempDir     string
		name        string
		kb          *rag.PersistentKB
	)

	openCollection := func() *rag.PersistentKB {
		collection, err := rag.NewPersistentPostgresCollection(ctx, name, databaseURL,
			tempDir, filepath.Join(tempDir, "assets"), hashEmbedder{dims: 64}, nil, rag.CollectionOptions{})
		Expect(err).ToNot(HaveOccurred())
		return collection
	}

	writeDoc := func(fileName, content string) string {
		path := filepath.Join(tempDir, fileName)
		Expect(os.WriteFile(path, []byte(content), 0644)).To(Succeed())
		return path
	}

	BeforeEach(func() {
		databaseURL = os.Getenv("DATABASE_URL")
		if databaseURL == "" {
			Skip("DATABASE_URL is not set, skipping postgres integration tests")
		}

		ctx = context.Background()
		name = fmt.Sprintf("it_%d", time.Now().UnixNano())

		var err error
		tempDir, err = os.MkdirTemp("", "pg_integration_*")
		Expect(err).ToNot(HaveOccurred())

		kb = openCollection()
	})

	AfterEach(func() {
		if databaseURL == "" {
			return
		}

		pool, err := pgxpool.New(ctx, databaseURL)
		if err == nil {
			pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS chunks_%s", name))
			pool.Exec(ctx, "DELETE FROM collection_config WHERE collection_name = $1", name)
			pool.Close()
		}
		os.RemoveAll(tempDir)
	})

	It("should ingest and retrieve through the postgres backend", func() {
		Expect(kb.Store(ctx, writeDoc("hedging.txt", "Interest rate derivatives hedge the bank trading book."), nil)).To(Succeed())
		Expect(kb.Store(ctx, writeDoc("weather.txt", "Sunny skies expected across the region this weekend."), nil)).To(Succeed())

		results, err := kb.Search(ctx, "derivatives hedge trading", engine.RetrievalOptions{})
		Expect(err).ToNot(HaveOccurred())
		Expect(results).ToNot(BeEmpty())
		Expect(results[0].Chunk.Source).To(Equal("hedging.txt"))
		Expect(results[0].SparseRank + results[0].DenseRank).To(BeNumerically(">", 0))
	})

	It("should rebuild from assets when reopened", func() {
		Expect(kb.Store(ctx, writeDoc("filing.txt", "Goodwill impairment charges reduced quarterly earnings."), nil)).To(Succeed())
		count := kb.Count()

		reopened := openCollection()
		Expect(reopened.ListDocuments()).To(ContainElement("filing.txt"))
		Expect(reopened.Count()).To(Equal(count))

		results, err := reopened.Search(ctx, "goodwill impairment", engine.RetrievalOptions{})
		Expect(err).ToNot(HaveOccurred())
		Expect(results).ToNot(BeEmpty())
	})

	It("should remove entries from the table", func() {
		Expect(kb.Store(ctx, writeDoc("filing.txt", "Deferred tax assets rose in the period."), nil)).To(Succeed())
		Expect(kb.RemoveEntry(ctx, "filing.txt")).To(Succeed())

		Expect(kb.Count()).To(Equal(0))

		pool, err := pgxpool.New(ctx, databaseURL)
		Expect(err).ToNot(HaveOccurred())
		defer pool.Close()

		var rows int
		Expect(pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM chunks_%s", name)).Scan(&rows)).To(Succeed())
		Expect(rows).To(Equal(0))
	})
})
