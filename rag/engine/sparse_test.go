package engine_test

import (
	"context"
	"fmt"

	. "github.com/finargo/corpusbank/rag/engine"
	"github.com/finargo/corpusbank/rag/types"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func fixtureChunk(id, content string) types.Chunk {
	return types.Chunk{ID: id, Content: content, Source: "annual-report.pdf"}
}

var _ = Describe("SparseIndex", func() {
	var (
		ctx context.Context
		idx *SparseIndex
	)

	BeforeEach(func() {
		ctx = context.Background()
		idx = NewSparseIndex(0, 0)
	})

	Describe("Search", func() {
		It("should return an empty result on an empty index", func() {
			results, err := idx.Search(ctx, "basel iii capital", 10)
			Expect(err).ToNot(HaveOccurred())
			Expect(results).To(BeEmpty())
		})

		It("should return an empty result for an empty query", func() {
			idx.Build([]types.Chunk{fixtureChunk("r:p1:c0", "quarterly revenue grew")})

			results, err := idx.Search(ctx, "   ", 10)
			Expect(err).ToNot(HaveOccurred())
			Expect(results).To(BeEmpty())
		})

		It("should rank chunks with denser query-term matches first", func() {
			idx.Build([]types.Chunk{
				fixtureChunk("r:p1:c0", "Basel III capital requirements for banks. Basel III sets minimum capital ratios."),
				fixtureChunk("r:p2:c0", "The liquidity coverage ratio was introduced under Basel III."),
				fixtureChunk("r:p3:c0", "Quarterly revenue grew by twelve percent year over year."),
			})

			results, err := idx.Search(ctx, "Basel III capital", 10)
			Expect(err).ToNot(HaveOccurred())
			Expect(results).To(HaveLen(2))
			Expect(results[0].ChunkID).To(Equal("r:p1:c0"))
			Expect(results[1].ChunkID).To(Equal("r:p2:c0"))
			Expect(results[0].Score).To(BeNumerically(">", results[1].Score))
			Expect(results[0].Method).To(Equal(types.MethodSparse))
		})

		It("should weight rare terms above common ones", func() {
			idx.Build([]types.Chunk{
				fixtureChunk("a", "interest income interest expense interest margin"),
				fixtureChunk("b", "derivatives hedging against interest rate movements"),
			})

			results, err := idx.Search(ctx, "interest derivatives", 10)
			Expect(err).ToNot(HaveOccurred())
			Expect(results[0].ChunkID).To(Equal("b"))
		})

		It("should keep hyphenated filing names as single terms", func() {
			idx.Build([]types.Chunk{
				fixtureChunk("filing", "The Form 10-K annual report was filed in March."),
				fixtureChunk("other", "A form was filed with ten thousand entries."),
			})

			results, err := idx.Search(ctx, "10-K", 10)
			Expect(err).ToNot(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].ChunkID).To(Equal("filing"))
		})

		It("should ignore case and surrounding punctuation", func() {
			idx.Build([]types.Chunk{
				fixtureChunk("gaap", "Results are reported under U.S. GAAP."),
			})

			results, err := idx.Search(ctx, "u.s. gaap!", 10)
			Expect(err).ToNot(HaveOccurred())
			Expect(results).To(HaveLen(1))
		})

		It("should truncate to k results", func() {
			var chunks []types.Chunk
			for i := 0; i < 10; i++ {
				chunks = append(chunks, fixtureChunk(fmt.Sprintf("c%02d", i), "net income rose"))
			}
			idx.Build(chunks)

			results, err := idx.Search(ctx, "income", 3)
			Expect(err).ToNot(HaveOccurred())
			Expect(results).To(HaveLen(3))
		})

		It("should break score ties by ascending chunk ID", func() {
			idx.Build([]types.Chunk{
				fixtureChunk("z", "dividend payout ratio"),
				fixtureChunk("a", "dividend payout ratio"),
				fixtureChunk("m", "dividend payout ratio"),
			})

			results, err := idx.Search(ctx, "dividend", 10)
			Expect(err).ToNot(HaveOccurred())
			Expect(results).To(HaveLen(3))
			Expect(results[0].ChunkID).To(Equal("a"))
			Expect(results[1].ChunkID).To(Equal("m"))
			Expect(results[2].ChunkID).To(Equal("z"))
		})

		It("should return an error when the context is already cancelled", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()

			_, err := idx.Search(cancelled, "revenue", 10)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Build", func() {
		It("should yield identical results when rebuilt with the same corpus", func() {
			corpus := []types.Chunk{
				fixtureChunk("r:p1:c0", "operating expenses increased due to compliance costs"),
				fixtureChunk("r:p1:c1", "compliance with the new capital requirements"),
				fixtureChunk("r:p2:c0", "share buyback program announced"),
			}

			idx.Build(corpus)
			first, err := idx.Search(ctx, "compliance capital", 10)
			Expect(err).ToNot(HaveOccurred())

			idx.Build(corpus)
			second, err := idx.Search(ctx, "compliance capital", 10)
			Expect(err).ToNot(HaveOccurred())

			Expect(second).To(Equal(first))
		})

		It("should fully replace the previous corpus", func() {
			idx.Build([]types.Chunk{fixtureChunk("old", "goodwill impairment charge")})
			idx.Build([]types.Chunk{fixtureChunk("new", "deferred tax assets")})

			results, err := idx.Search(ctx, "goodwill", 10)
			Expect(err).ToNot(HaveOccurred())
			Expect(results).To(BeEmpty())

			results, err = idx.Search(ctx, "deferred tax", 10)
			Expect(err).ToNot(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(idx.Count()).To(Equal(1))
		})

		It("should let duplicate chunk IDs overwrite earlier ones", func() {
			idx.Build([]types.Chunk{
				fixtureChunk("dup", "original wording about leverage"),
				fixtureChunk("dup", "revised wording about liquidity"),
			})

			Expect(idx.Count()).To(Equal(1))

			results, err := idx.Search(ctx, "liquidity", 10)
			Expect(err).ToNot(HaveOccurred())
			Expect(results).To(HaveLen(1))

			results, err = idx.Search(ctx, "leverage", 10)
			Expect(err).ToNot(HaveOccurred())
			Expect(results).To(BeEmpty())
		})

		It("should never expose a partially built index to readers", func() {
			generationA := []types.Chunk{
				fixtureChunk("a1", "alpha exposure report"),
				fixtureChunk("a2", "alpha exposure summary"),
				fixtureChunk("a3", "alpha exposure details"),
			}
			generationB := []types.Chunk{
				fixtureChunk("b1", "alpha holdings report"),
				fixtureChunk("b2", "alpha holdings summary"),
				fixtureChunk("b3", "alpha holdings details"),
			}
			idx.Build(generationA)

			done := make(chan struct{})
			go func() {
				defer close(done)
				for i := 0; i < 200; i++ {
					if i%2 == 0 {
						idx.Build(generationB)
					} else {
						idx.Build(generationA)
					}
				}
			}()

			for running := true; running; {
				select {
				case <-done:
					running = false
				default:
				}

				results, err := idx.Search(ctx, "alpha", 10)
				Expect(err).ToNot(HaveOccurred())
				Expect(results).To(HaveLen(3))
				generation := results[0].ChunkID[:1]
				for _, r := range results {
					Expect(r.ChunkID[:1]).To(Equal(generation))
				}
			}
		})
	})

	Describe("Resolve", func() {
		It("should return indexed chunks by ID", func() {
			chunk := fixtureChunk("r:p4:c2", "minority interest in consolidated subsidiaries")
			idx.Build([]types.Chunk{chunk})

			got, ok := idx.Resolve("r:p4:c2")
			Expect(ok).To(BeTrue())
			Expect(got).To(Equal(chunk))

			_, ok = idx.Resolve("missing")
			Expect(ok).To(BeFalse())
		})
	})
})
