package rag_test

import (
	"os"
	"path/filepath"

	. "github.com/finargo/corpusbank/rag"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Collection", func() {
	Describe("ListAllCollections", func() {
		var tempDir string

		BeforeEach(func() {
			var err error
			tempDir, err = os.MkdirTemp("", "collection_test_*")
			Expect(err).ToNot(HaveOccurred())
		})

		AfterEach(func() {
			if tempDir != "" {
				os.RemoveAll(tempDir)
			}
		})

		It("should return empty list when directory is empty", func() {
			collections := ListAllCollections(tempDir)
			Expect(collections).To(BeEmpty())
		})

		It("should list collections from state files", func() {
			collectionFile := filepath.Join(tempDir, "collection-filings.json")
			err := os.WriteFile(collectionFile, []byte(`{"files":[]}`), 0644)
			Expect(err).ToNot(HaveOccurred())

			collections := ListAllCollections(tempDir)
			Expect(collections).To(ContainElement("filings"))
		})

		It("should ignore unrelated files", func() {
			otherFile := filepath.Join(tempDir, "other.json")
			err := os.WriteFile(otherFile, []byte("{}"), 0644)
			Expect(err).ToNot(HaveOccurred())

			collections := ListAllCollections(tempDir)
			Expect(collections).To(BeEmpty())
		})

		It("should handle non-existent directory", func() {
			collections := ListAllCollections("/nonexistent/directory")
			Expect(collections).To(BeNil())
		})
	})
})
