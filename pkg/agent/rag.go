package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/helmsman-ai/helmsman/pkg/apperr"
	"github.com/helmsman-ai/helmsman/pkg/llm"
	"github.com/helmsman-ai/helmsman/pkg/models"
)

// Retriever is the slice of the vector store facade the RAG agent needs.
type Retriever interface {
	ListCollections() []models.KBCollection
	Query(ctx context.Context, collection, text string, topK int) ([]models.KBResult, error)
}

// ragTopK bounds retrieval per collection.
const ragTopK = 4

// RAGAgent retrieves from the vector knowledge bases and answers grounded
// in the retrieved snippets.
type RAGAgent struct {
	client    llm.Client
	retriever Retriever
}

// NewRAGAgent creates the retrieval specialist.
func NewRAGAgent(client llm.Client, retriever Retriever) *RAGAgent {
	return &RAGAgent{client: client, retriever: retriever}
}

func (a *RAGAgent) Name() string { return NameRAG }
func (a *RAGAgent) Role() string { return "retrieval-augmented answering" }
func (a *RAGAgent) Capabilities() []string {
	return []string{"retrieval", "grounded answering", "citation"}
}

// Handle queries the best-matching collections and synthesizes a grounded
// answer. Fewer hits than requested is still success; an answer with no
// sources falls back to plain generation.
func (a *RAGAgent) Handle(ctx context.Context, tc TaskContext) (Result, error) {
	query := tc.EffectiveInput()
	results, sources := a.retrieve(ctx, query)

	var prompt strings.Builder
	if tc.MemoryContext != "" {
		prompt.WriteString(tc.MemoryContext)
		prompt.WriteString("\n\n")
	}
	if len(results) > 0 {
		prompt.WriteString("Retrieved context:\n")
		for i, r := range results {
			fmt.Fprintf(&prompt, "[%d] %s\n", i+1, r.Content)
		}
		prompt.WriteString("\nAnswer the question using the retrieved context. " +
			"If the context does not cover the question, say what is missing.\n\n")
	}
	prompt.WriteString("Question: ")
	prompt.WriteString(query)

	content, usage, err := a.client.Generate(ctx, llm.Request{
		Prompt: prompt.String(),
		System: "You answer questions grounded in the provided context. " +
			"Do not fabricate facts that the context does not support.",
		Temperature: 0.2,
		SessionID:   tc.SessionID,
		TaskUID:     tc.TaskUID,
	})
	if err != nil {
		if code := apperr.CodeOf(err); code == apperr.CodeCancelled || code == apperr.CodeTimeout {
			return Result{}, err
		}
		return Result{}, apperr.Wrap(apperr.CodeLLMFailure, err, "rag agent failed")
	}
	return Result{
		Content:    strings.TrimSpace(content),
		Sources:    sources,
		TokensUsed: usage.TotalTokens,
	}, nil
}

// retrieve queries the two best-matching collections by skill overlap and
// merges hits by score. Retrieval errors degrade to an empty context rather
// than failing the task.
func (a *RAGAgent) retrieve(ctx context.Context, query string) ([]models.KBResult, []models.Source) {
	collections := a.rankCollections(query)
	var merged []models.KBResult
	var sources []models.Source

	for _, col := range collections {
		hits, err := a.retriever.Query(ctx, col.Name, query, ragTopK)
		if err != nil {
			continue
		}
		for _, hit := range hits {
			merged = append(merged, hit)
			sources = append(sources, models.Source{
				Title:      hit.Metadata["title"],
				Collection: col.Name,
				Snippet:    snippet(hit.Content),
				Score:      hit.Score,
			})
		}
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	sort.SliceStable(sources, func(i, j int) bool { return sources[i].Score > sources[j].Score })
	if len(merged) > ragTopK {
		merged = merged[:ragTopK]
		sources = sources[:ragTopK]
	}
	return merged, sources
}

// rankCollections orders collections by skill overlap with the query and
// keeps the top two. With no skills matching, every collection is a
// candidate.
func (a *RAGAgent) rankCollections(query string) []models.KBCollection {
	collections := a.retriever.ListCollections()
	if len(collections) <= 2 {
		return collections
	}

	lowered := strings.ToLower(query)
	type scored struct {
		col   models.KBCollection
		score int
	}
	ranked := make([]scored, 0, len(collections))
	for _, col := range collections {
		s := scored{col: col}
		for _, kw := range col.Skills.Keywords {
			if kw != "" && strings.Contains(lowered, strings.ToLower(kw)) {
				s.score += 2
			}
		}
		for _, topic := range col.Skills.Topics {
			if topic != "" && strings.Contains(lowered, strings.ToLower(topic)) {
				s.score++
			}
		}
		ranked = append(ranked, s)
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	out := make([]models.KBCollection, 0, 2)
	for _, s := range ranked[:2] {
		out = append(out, s.col)
	}
	return out
}

// snippet caps a source excerpt at 200 runes, never splitting a character.
func snippet(content string) string {
	const max = 200
	if len(content) <= max {
		return content
	}
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max]) + "…"
}

var _ Agent = (*RAGAgent)(nil)
