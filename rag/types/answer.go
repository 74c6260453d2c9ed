package types

// Citation points at the corpus location an answer statement came from.
type Citation struct {
	Source  string `json:"source"`
	Section string `json:"section,omitempty"`
}

// ContextSnippet is one retrieved chunk as it was presented to the model.
type ContextSnippet struct {
	Source    string  `json:"source"`
	Section   string  `json:"section,omitempty"`
	Content   string  `json:"content"`
	Relevance float64 `json:"relevance"`
}

// Answer is a generated response grounded in retrieved context.
type Answer struct {
	Text      string           `json:"text"`
	Citations []Citation       `json:"citations,omitempty"`
	Context   []ContextSnippet `json:"context,omitempty"`
	Model     string           `json:"model,omitempty"`
}
