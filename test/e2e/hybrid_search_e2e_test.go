package e2e_test

import (
	"context"

	"github.com/finargo/corpusbank/pkg/client"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const (
	capitalRequirementsText = `Basel III capital requirements compel large banking institutions to hold
additional tier 1 capital. The framework raises minimum capital ratios,
introduces the capital conservation buffer and phases in stricter definitions
of regulatory capital for banks.`

	cafeteriaMenuText = `The cafeteria menu for spring lists seasonal soups, garden salads and
grilled sandwiches. Daily specials rotate through regional recipes chosen by
the kitchen staff.`

	liquidityRulesText = `Banks manage short term funding under the liquidity coverage ratio, which
requires a stock of high quality liquid assets sufficient to survive a thirty
day stress scenario.`
)

var _ = Describe("Hybrid search", func() {
	var (
		ctx        context.Context
		api        *client.Client
		collection string
	)

	BeforeEach(func() {
		skipUnlessE2E()

		ctx = context.Background()
		api = newServerClient(serverEndpoint)
		collection = uniqueCollection("hybrid")
		Expect(api.CreateCollection(ctx, collection)).To(Succeed())

		Expect(api.Store(ctx, collection, writeTestDocument("regulatory-capital.txt", capitalRequirementsText))).To(Succeed())
		Expect(api.Store(ctx, collection, writeTestDocument("cafeteria-menu.txt", cafeteriaMenuText))).To(Succeed())
		Expect(api.Store(ctx, collection, writeTestDocument("liquidity-rules.txt", liquidityRulesText))).To(Succeed())
	})

	It("should rank the document matching both lexically and semantically first", func() {
		results, err := api.Search(ctx, collection, "What are the Basel III capital requirements for banks?", 2)
		Expect(err).ToNot(HaveOccurred())
		Expect(results).ToNot(BeEmpty())
		Expect(len(results)).To(BeNumerically("<=", 2))

		Expect(results[0].Chunk.Source).To(Equal("regulatory-capital.txt"))
		for _, result := range results {
			Expect(result.Chunk.Source).ToNot(Equal("cafeteria-menu.txt"))
		}
	})

	It("should report pre-fusion ranks on fused results", func() {
		results, err := api.Search(ctx, collection, "Basel III capital requirements", 3)
		Expect(err).ToNot(HaveOccurred())
		Expect(results).ToNot(BeEmpty())

		top := results[0]
		Expect(top.SparseRank + top.DenseRank).To(BeNumerically(">", 0))
	})

	It("should return ranked positions without gaps", func() {
		results, err := api.Search(ctx, collection, "regulatory requirements for banks", 10)
		Expect(err).ToNot(HaveOccurred())

		for i, result := range results {
			Expect(result.Position).To(Equal(i + 1))
		}
	})
})
