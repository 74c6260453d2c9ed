package e2e_test

import (
	"context"

	"github.com/finargo/corpusbank/pkg/client"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// Runs the ingest-search-remove cycle against a deployment configured
// with VECTOR_BACKEND=postgres.
var _ = Describe("Postgres-backed deployment", func() {
	var (
		ctx        context.Context
		api        *client.Client
		collection string
	)

	BeforeEach(func() {
		skipUnlessE2E()
		if postgresEndpoint == "" {
			Skip("CORPUSBANK_POSTGRES_ENDPOINT is not set, skipping postgres e2e tests")
		}

		ctx = context.Background()
		api = newServerClient(postgresEndpoint)
		collection = uniqueCollection("pge2e")
		Expect(api.CreateCollection(ctx, collection)).To(Succeed())
	})

	It("should ingest, retrieve and remove documents", func() {
		path := writeTestDocument("annual-report.txt", annualReportText)
		Expect(api.Store(ctx, collection, path)).To(Succeed())

		Eventually(func() int {
			results, err := api.Search(ctx, collection, "dividend increase", 5)
			if err != nil {
				return 0
			}
			return len(results)
		}, testTimeout, pollingInterval).Should(BeNumerically(">", 0))

		Expect(api.RemoveEntry(ctx, collection, "annual-report.txt")).To(Succeed())

		results, err := api.Search(ctx, collection, "dividend increase", 5)
		Expect(err).ToNot(HaveOccurred())
		Expect(results).To(BeEmpty())
	})

	It("should keep collections isolated", func() {
		other := uniqueCollection("pge2eb")
		Expect(api.CreateCollection(ctx, other)).To(Succeed())

		path := writeTestDocument("annual-report.txt", annualReportText)
		Expect(api.Store(ctx, collection, path)).To(Succeed())

		results, err := api.Search(ctx, other, "dividend increase", 5)
		Expect(err).ToNot(HaveOccurred())
		Expect(results).To(BeEmpty())
	})
})
