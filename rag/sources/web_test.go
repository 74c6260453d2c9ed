package sources_test

import (
	"context"

	. "github.com/finargo/corpusbank/rag/sources"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Web Sources", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("GetWebPage", func() {
		It("should handle invalid URLs", func() {
			_, err := GetWebPage(ctx, "not-a-valid-url")
			Expect(err).To(HaveOccurred())
		})

		It("should handle unreachable URLs", func() {
			_, err := GetWebPage(ctx, "http://localhost:99999/nonexistent")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("GetWebSitemapContent", func() {
		It("should handle invalid sitemap URLs", func() {
			_, err := GetWebSitemapContent(ctx, "not-a-valid-url")
			Expect(err).To(HaveOccurred())
		})

		It("should handle unreachable sitemap URLs", func() {
			_, err := GetWebSitemapContent(ctx, "http://localhost:99999/sitemap.xml")
			Expect(err).To(HaveOccurred())
		})
	})
})
