package rag

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dslipak/pdf"
	"github.com/finargo/corpusbank/pkg/chunk"
	"github.com/finargo/corpusbank/rag/types"
	"github.com/mudler/xlog"
)

// documentPage is one page of extracted text. Plain-text formats load as
// a single page.
type documentPage struct {
	number int
	text   string
}

// Chunker turns document files into token-budgeted chunks with
// deterministic IDs: a file named report.pdf yields IDs like
// report.pdf:p3:c0. Re-ingesting the same file produces the same IDs, so
// indexes overwrite instead of accumulating duplicates.
type Chunker struct {
	splitter *chunk.Splitter
	counter  chunk.TokenCounter
}

// NewChunker builds a Chunker over the given token counter and budgets.
// Zero budgets fall back to the pkg/chunk defaults, a nil counter to
// WordCounter.
func NewChunker(counter chunk.TokenCounter, maxTokens, overlap int) *Chunker {
	if counter == nil {
		counter = chunk.WordCounter{}
	}
	return &Chunker{
		splitter: chunk.NewSplitter(counter, maxTokens, overlap),
		counter:  counter,
	}
}

// ChunkFile extracts text from a file and splits it into chunks. PDF
// chunks keep their page number as the section; .txt and .md files count
// as one page.
func (c *Chunker) ChunkFile(path string, metadata map[string]string) ([]types.Chunk, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("file does not exist: %s", path)
	}

	var pages []documentPage
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		p, err := pdfPages(path)
		if err != nil {
			return nil, err
		}
		pages = p
	case ".txt", ".md":
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read file: %w", err)
		}
		pages = []documentPage{{number: 1, text: string(content)}}
	default:
		return nil, fmt.Errorf("unsupported file type: %s", filepath.Ext(path))
	}

	return c.assemble(filepath.Base(path), pages, metadata), nil
}

// ChunkText splits already-extracted text under the given source name.
func (c *Chunker) ChunkText(source, text string, metadata map[string]string) []types.Chunk {
	return c.assemble(source, []documentPage{{number: 1, text: text}}, metadata)
}

func (c *Chunker) assemble(source string, pages []documentPage, metadata map[string]string) []types.Chunk {
	var chunks []types.Chunk
	for _, page := range pages {
		for i, text := range c.splitter.Split(page.text) {
			chunks = append(chunks, types.Chunk{
				ID:         fmt.Sprintf("%s:p%d:c%d", source, page.number, i),
				Content:    text,
				Source:     source,
				Section:    strconv.Itoa(page.number),
				TokenCount: c.counter.Count(text),
				Metadata:   cloneMetadata(metadata),
			})
		}
	}
	return chunks
}

func cloneMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func pdfPages(path string) ([]documentPage, error) {
	r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}

	var pages []documentPage
	for n := 1; n <= r.NumPage(); n++ {
		page := r.Page(n)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			xlog.Warn("Failed to extract text from pdf page", "path", path, "page", n, "error", err)
			continue
		}
		pages = append(pages, documentPage{number: n, text: text})
	}

	return pages, nil
}
