package models

// KBSkills is routing metadata attached to a knowledge base collection.
// The classifier uses it to pick retrieval targets.
type KBSkills struct {
	DisplayName  string   `json:"display_name" yaml:"display_name"`
	Description  string   `json:"description" yaml:"description"`
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	Keywords     []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Topics       []string `json:"topics,omitempty" yaml:"topics,omitempty"`
}

// KBCollection describes one vector knowledge base.
type KBCollection struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	DocCount    int      `json:"doc_count"`
	Skills      KBSkills `json:"skills"`
}

// KBDocument is a document to insert into a collection.
type KBDocument struct {
	ID       string            `json:"id,omitempty"`
	Title    string            `json:"title,omitempty"`
	Content  string            `json:"content"`
	Tags     []string          `json:"tags,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// KBResult is one ranked retrieval hit.
type KBResult struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Source is a retrieval citation attached to a final answer.
type Source struct {
	Title      string  `json:"title"`
	Collection string  `json:"collection,omitempty"`
	Snippet    string  `json:"snippet,omitempty"`
	Score      float64 `json:"score,omitempty"`
}
