package rag

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/finargo/corpusbank/rag/types"
	"github.com/sashabaranov/go-openai"
)

// noContextAnswer is returned without calling the model when retrieval
// produced nothing to ground an answer on.
const noContextAnswer = "I could not find relevant information in the indexed documents to answer this question."

const answerSystemPrompt = `You are a financial research assistant. Answer the question using only the provided context excerpts. Cite every claim with the bracket format [Source: <file>, Page: <page>] copied from the excerpt it came from. If the context does not contain the information needed to answer, say so instead of guessing.`

var citationPattern = regexp.MustCompile(`\[Source: ([^,\]]+), Page: ([^\]]+)\]`)

// AnswerGenerator produces grounded answers from retrieval results using
// a chat completion model.
type AnswerGenerator struct {
	client *openai.Client
	model  string
}

func NewAnswerGenerator(client *openai.Client, model string) *AnswerGenerator {
	return &AnswerGenerator{client: client, model: model}
}

// Generate answers the query from the given retrieval results. With no
// results it returns a refusal answer without calling the model.
func (g *AnswerGenerator) Generate(ctx context.Context, query string, results []types.RerankedResult) (types.Answer, error) {
	if len(results) == 0 {
		return types.Answer{Text: noContextAnswer, Model: g.model}, nil
	}

	snippets := make([]types.ContextSnippet, len(results))
	var contextBlock strings.Builder
	for i, r := range results {
		snippets[i] = types.ContextSnippet{
			Source:    r.Chunk.Source,
			Section:   r.Chunk.Section,
			Content:   r.Chunk.Content,
			Relevance: r.Relevance,
		}
		fmt.Fprintf(&contextBlock, "[Source: %s, Page: %s]\n%s\n\n", r.Chunk.Source, r.Chunk.Section, r.Chunk.Content)
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: answerSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Context:\n\n%sQuestion: %s", contextBlock.String(), query)},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return types.Answer{}, fmt.Errorf("failed to generate answer: %w", err)
	}
	if len(resp.Choices) == 0 {
		return types.Answer{}, fmt.Errorf("no completion choices returned")
	}

	text := resp.Choices[0].Message.Content
	return types.Answer{
		Text:      text,
		Citations: extractCitations(text),
		Context:   snippets,
		Model:     g.model,
	}, nil
}

// extractCitations collects the bracket citations present in the answer
// text, deduplicated in order of first appearance.
func extractCitations(text string) []types.Citation {
	var citations []types.Citation
	seen := map[types.Citation]bool{}
	for _, m := range citationPattern.FindAllStringSubmatch(text, -1) {
		c := types.Citation{Source: strings.TrimSpace(m[1]), Section: strings.TrimSpace(m[2])}
		if seen[c] {
			continue
		}
		seen[c] = true
		citations = append(citations, c)
	}
	return citations
}
