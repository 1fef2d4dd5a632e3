package kb

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/helmsman-ai/helmsman/pkg/apperr"
	"github.com/helmsman-ai/helmsman/pkg/models"
)

// fallbackCollection receives documents no skill set claims when
// auto-creation is allowed.
const fallbackCollection = "general"

// Suggestion is the result of smart routing a document to a collection.
type Suggestion struct {
	Database   string  `json:"database"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Suggest picks the best target collection for a document by scoring its
// text against every collection's skills (keywords, topics, capabilities)
// plus name and category. Deterministic: ties break alphabetically.
func (s *Store) Suggest(content, title string) (Suggestion, error) {
	collections := s.ListCollections()
	if len(collections) == 0 {
		return Suggestion{}, apperr.New(apperr.CodeNotFound, "no collections exist")
	}

	text := strings.ToLower(title + " " + content)

	type scored struct {
		name    string
		score   float64
		matched []string
	}
	ranked := make([]scored, 0, len(collections))
	for _, col := range collections {
		sc := scored{name: col.Name}
		for _, kw := range col.Skills.Keywords {
			if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
				sc.score += 3
				sc.matched = append(sc.matched, kw)
			}
		}
		for _, topic := range col.Skills.Topics {
			if topic != "" && strings.Contains(text, strings.ToLower(topic)) {
				sc.score += 2
				sc.matched = append(sc.matched, topic)
			}
		}
		for _, capability := range col.Skills.Capabilities {
			if capability != "" && strings.Contains(text, strings.ToLower(capability)) {
				sc.score += 1
				sc.matched = append(sc.matched, capability)
			}
		}
		if col.Category != "" && strings.Contains(text, strings.ToLower(col.Category)) {
			sc.score += 1
		}
		if strings.Contains(text, strings.ToLower(col.Name)) {
			sc.score += 1
		}
		ranked = append(ranked, sc)
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].name < ranked[j].name
	})

	best := ranked[0]
	if best.score == 0 {
		return Suggestion{
			Database:   best.name,
			Confidence: 0.1,
			Reason:     "no skill matched; defaulting to first collection",
		}, nil
	}

	// Confidence saturates as match weight grows.
	confidence := best.score / (best.score + 4)
	return Suggestion{
		Database:   best.name,
		Confidence: confidence,
		Reason:     fmt.Sprintf("matched skills: %s", strings.Join(best.matched, ", ")),
	}, nil
}

// SmartInsert routes a document via Suggest and inserts it. When no
// collection claims it and autoCreate is set, a fallback collection is
// created on the fly.
func (s *Store) SmartInsert(ctx context.Context, doc models.KBDocument, autoCreate bool) (database, insertedID string, err error) {
	suggestion, err := s.Suggest(doc.Content, doc.Title)
	switch {
	case err == nil && suggestion.Confidence >= 0.3:
		database = suggestion.Database
	case autoCreate:
		database = fallbackCollection
		if createErr := s.CreateCollection(database, "Auto-created catch-all collection", "general", models.KBSkills{
			DisplayName: "General",
			Description: "Documents that matched no specific knowledge base",
		}); createErr != nil {
			return "", "", createErr
		}
	case err != nil:
		return "", "", err
	default:
		return "", "", apperr.New(apperr.CodeInvalidRequest,
			"no collection matched (best: %s at %.2f) and auto_create is disabled",
			suggestion.Database, suggestion.Confidence)
	}

	id, err := s.Insert(ctx, database, doc)
	if err != nil {
		return "", "", err
	}
	return database, id, nil
}
