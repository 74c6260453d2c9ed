package rag_test

import (
	"os"
	"path/filepath"

	"github.com/finargo/corpusbank/pkg/chunk"
	. "github.com/finargo/corpusbank/rag"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Chunker", func() {
	var chunker *Chunker

	BeforeEach(func() {
		chunker = NewChunker(chunk.WordCounter{}, 3, 0)
	})

	Describe("ChunkText", func() {
		It("should produce deterministic chunk IDs", func() {
			first := chunker.ChunkText("10-K.pdf", "One two three. Four five six.", nil)
			second := chunker.ChunkText("10-K.pdf", "One two three. Four five six.", nil)

			Expect(first).To(HaveLen(2))
			Expect(first[0].ID).To(Equal("10-K.pdf:p1:c0"))
			Expect(first[1].ID).To(Equal("10-K.pdf:p1:c1"))
			Expect(second).To(Equal(first))
		})

		It("should carry provenance and token counts", func() {
			chunks := chunker.ChunkText("10-K.pdf", "One two three.", map[string]string{"type": "filing"})

			Expect(chunks).To(HaveLen(1))
			Expect(chunks[0].Source).To(Equal("10-K.pdf"))
			Expect(chunks[0].Section).To(Equal("1"))
			Expect(chunks[0].TokenCount).To(Equal(3))
			Expect(chunks[0].Metadata).To(HaveKeyWithValue("type", "filing"))
		})

		It("should copy metadata instead of sharing it", func() {
			metadata := map[string]string{"type": "filing"}
			chunks := chunker.ChunkText("10-K.pdf", "One two three.", metadata)

			metadata["type"] = "changed"
			Expect(chunks[0].Metadata).To(HaveKeyWithValue("type", "filing"))
		})

		It("should leave metadata nil when none was given", func() {
			chunks := chunker.ChunkText("10-K.pdf", "One two three.", nil)
			Expect(chunks[0].Metadata).To(BeNil())
		})
	})

	Describe("ChunkFile", func() {
		var tempDir string

		BeforeEach(func() {
			var err error
			tempDir, err = os.MkdirTemp("", "chunker_test_*")
			Expect(err).ToNot(HaveOccurred())
		})

		AfterEach(func() {
			os.RemoveAll(tempDir)
		})

		It("should chunk a text file as a single page", func() {
			path := filepath.Join(tempDir, "notes.txt")
			Expect(os.WriteFile(path, []byte("Alpha beta gamma. Delta epsilon zeta."), 0644)).To(Succeed())

			chunks, err := chunker.ChunkFile(path, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(chunks).To(HaveLen(2))
			Expect(chunks[0].ID).To(Equal("notes.txt:p1:c0"))
			Expect(chunks[1].ID).To(Equal("notes.txt:p1:c1"))
			Expect(chunks[0].Section).To(Equal("1"))
		})

		It("should reject unsupported file types", func() {
			path := filepath.Join(tempDir, "report.docx")
			Expect(os.WriteFile(path, []byte("content"), 0644)).To(Succeed())

			_, err := chunker.ChunkFile(path, nil)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("unsupported file type"))
		})

		It("should fail for a missing file", func() {
			_, err := chunker.ChunkFile(filepath.Join(tempDir, "ghost.txt"), nil)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("does not exist"))
		})
	})
})
