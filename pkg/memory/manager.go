package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/helmsman-ai/helmsman/pkg/models"
)

// TurnSource provides a session's conversation history. Implemented by the
// durable store.
type TurnSource interface {
	GetTurns(ctx context.Context, sessionID string) ([]models.Turn, error)
}

// ContextOptions controls what BuildContext injects.
type ContextOptions struct {
	IncludePrefs bool
	// IncludeCrossSessionEpisodes allows episode summaries from other
	// sessions of the same user. Off by default and user-controllable.
	IncludeCrossSessionEpisodes bool
}

// recentTurnWindow bounds how much in-session history is injected.
const recentTurnWindow = 10

// Manager composes the memory tiers and builds the prompt context for a
// task.
type Manager struct {
	Working  *WorkingMemory
	Episodes *EpisodicStore
	Entities *EntityStore
	Prefs    *PreferenceStore
	turns    TurnSource
}

// NewManager wires the memory tiers together.
func NewManager(working *WorkingMemory, episodes *EpisodicStore, entities *EntityStore, prefs *PreferenceStore, turns TurnSource) *Manager {
	return &Manager{
		Working:  working,
		Episodes: episodes,
		Entities: entities,
		Prefs:    prefs,
		turns:    turns,
	}
}

// BuildContext assembles the memory context string for a query: recent
// in-session turns, user preferences, working memory, and episode summaries
// for the same user and category. Episodes from other sessions are excluded
// unless opts explicitly allow them. Pure over its inputs: it only reads.
func (m *Manager) BuildContext(ctx context.Context, sessionID, userID, query, category string, opts ContextOptions) (string, error) {
	var sections []string

	if m.turns != nil {
		turns, err := m.turns.GetTurns(ctx, sessionID)
		if err != nil {
			return "", fmt.Errorf("failed to load history: %w", err)
		}
		if len(turns) > recentTurnWindow {
			turns = turns[len(turns)-recentTurnWindow:]
		}
		if len(turns) > 0 {
			var b strings.Builder
			b.WriteString("Recent conversation:\n")
			for _, t := range turns {
				fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
			}
			sections = append(sections, b.String())
		}
	}

	if opts.IncludePrefs && m.Prefs != nil {
		prefs, err := m.Prefs.All(ctx, userID)
		if err != nil {
			return "", err
		}
		if len(prefs) > 0 {
			var b strings.Builder
			b.WriteString("User preferences:\n")
			for _, p := range prefs {
				fmt.Fprintf(&b, "- %s: %s\n", p.Key, p.Value)
			}
			sections = append(sections, b.String())
		}
	}

	if m.Working != nil {
		if wm := m.Working.ToContextString(5); wm != "" {
			sections = append(sections, wm)
		}
	}

	if m.Episodes != nil && category != "" {
		episodes, err := m.Episodes.FindSimilar(ctx, userID, category, true, 3)
		if err != nil {
			return "", err
		}
		var b strings.Builder
		for _, ep := range episodes {
			if !opts.IncludeCrossSessionEpisodes && ep.SessionID != sessionID {
				continue
			}
			if ep.FinalSummary == "" {
				continue
			}
			if b.Len() == 0 {
				b.WriteString("Relevant past experience:\n")
			}
			fmt.Fprintf(&b, "- %s\n", ep.FinalSummary)
		}
		if b.Len() > 0 {
			sections = append(sections, b.String())
		}
	}

	return strings.Join(sections, "\n"), nil
}

// Dashboard summarizes a user's long-term memory for the dashboard
// endpoint.
type Dashboard struct {
	UserID         string              `json:"user_id"`
	EntityCount    int                 `json:"entity_count"`
	EpisodeCount   int                 `json:"episode_count"`
	Preferences    []models.Preference `json:"preferences"`
	RecentEpisodes []models.Episode    `json:"recent_episodes"`
	TopEntities    []models.Entity     `json:"top_entities"`
}

// BuildDashboard aggregates counts and recent activity for one user.
func (m *Manager) BuildDashboard(ctx context.Context, userID string) (Dashboard, error) {
	d := Dashboard{UserID: userID}

	var err error
	if d.EntityCount, err = m.Entities.CountByUser(ctx, userID); err != nil {
		return Dashboard{}, err
	}
	if d.EpisodeCount, err = m.Episodes.CountByUser(ctx, userID); err != nil {
		return Dashboard{}, err
	}
	if d.Preferences, err = m.Prefs.All(ctx, userID); err != nil {
		return Dashboard{}, err
	}
	if d.RecentEpisodes, err = m.Episodes.ListByUser(ctx, userID, 5); err != nil {
		return Dashboard{}, err
	}
	entities, err := m.Entities.ListByUser(ctx, userID)
	if err != nil {
		return Dashboard{}, err
	}
	if len(entities) > 10 {
		entities = entities[:10]
	}
	d.TopEntities = entities
	return d, nil
}
