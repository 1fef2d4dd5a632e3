package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/helmsman-ai/helmsman/pkg/llm"
	"github.com/helmsman-ai/helmsman/pkg/models"
)

// EntityUpserter persists extracted entities. Implemented by EntityStore.
type EntityUpserter interface {
	Upsert(ctx context.Context, e models.Entity) (models.Entity, error)
}

const extractSystemPrompt = `You extract named entities from a conversation exchange.
Reply with a JSON object of the form
{"entities":[{"name":"...","type":"...","aliases":["..."],"attributes":{"...":"..."}}]}.
Allowed types: person, org, location, concept, tool, project, document, date.
Only include entities the exchange actually mentions. An empty list is a
valid answer.`

// maxExtractedEntities bounds how many entities one exchange may add.
const maxExtractedEntities = 10

// EntityExtractor pulls entities out of a finished query/answer exchange
// and persists them to the entity graph, keyed to the user.
type EntityExtractor struct {
	llm      llm.Client
	entities EntityUpserter
}

// NewEntityExtractor wires the extractor to the model and the entity store.
func NewEntityExtractor(client llm.Client, entities EntityUpserter) *EntityExtractor {
	return &EntityExtractor{llm: client, entities: entities}
}

type extractedEntity struct {
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Aliases    []string          `json:"aliases"`
	Attributes map[string]string `json:"attributes"`
}

// Extract asks the model for the entities in an exchange and upserts each
// one under the user. Entries without a name are skipped; unknown types
// degrade to custom.
func (x *EntityExtractor) Extract(ctx context.Context, userID, query, answer string) ([]models.Entity, error) {
	content, _, err := x.llm.Generate(ctx, llm.Request{
		Prompt:      fmt.Sprintf("User: %s\n\nAssistant: %s", query, answer),
		System:      extractSystemPrompt,
		Temperature: 0,
		JSONOnly:    true,
	})
	if err != nil {
		return nil, err
	}

	raw, err := llm.ExtractJSON(content)
	if err != nil {
		return nil, fmt.Errorf("entity extraction returned no JSON: %w", err)
	}
	var payload struct {
		Entities []extractedEntity `json:"entities"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("failed to decode extracted entities: %w", err)
	}
	if len(payload.Entities) > maxExtractedEntities {
		payload.Entities = payload.Entities[:maxExtractedEntities]
	}

	saved := []models.Entity{}
	for _, e := range payload.Entities {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			continue
		}
		entity, err := x.entities.Upsert(ctx, models.Entity{
			Name:       name,
			Type:       entityType(e.Type),
			Aliases:    e.Aliases,
			Attributes: e.Attributes,
			UserID:     userID,
		})
		if err != nil {
			return saved, err
		}
		saved = append(saved, entity)
	}
	return saved, nil
}

// entityType maps a model-reported type onto the known set.
func entityType(t string) models.EntityType {
	et := models.EntityType(strings.ToLower(strings.TrimSpace(t)))
	switch et {
	case models.EntityPerson, models.EntityOrg, models.EntityLocation,
		models.EntityConcept, models.EntityTool, models.EntityProject,
		models.EntityDocument, models.EntityDate:
		return et
	default:
		return models.EntityCustom
	}
}
