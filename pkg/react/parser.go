// Package react implements the bounded think/act/observe/reflect loop that
// drives multi-step tasks through the agent pool.
package react

import (
	"regexp"
	"strings"
)

// Parsed is the structured form of one LLM turn in the loop.
type Parsed struct {
	Thought     string
	HasAction   bool
	Action      string
	ActionInput string

	IsFinalAnswer bool
	FinalAnswer   string

	IsMalformed bool
}

var (
	actionPattern      = regexp.MustCompile(`(?im)^\s*Action:\s*(.+)$`)
	actionInputPattern = regexp.MustCompile(`(?is)Action Input:\s*(.+?)(?:\n\s*(?:Thought|Action|Final Answer):|$)`)
	finalPattern       = regexp.MustCompile(`(?is)Final Answer:\s*(.+)$`)
	thoughtPattern     = regexp.MustCompile(`(?is)Thought:\s*(.+?)(?:\n\s*(?:Action|Final Answer):|$)`)
)

// Parse extracts thought, action, and final answer sections from a loop
// turn. The parser is forgiving: a missing Thought label is tolerated, and
// a turn with neither an action nor a final answer is marked malformed
// rather than failing the loop.
func Parse(text string) *Parsed {
	text = strings.TrimSpace(text)
	if text == "" {
		return &Parsed{IsMalformed: true}
	}

	p := &Parsed{}
	if m := thoughtPattern.FindStringSubmatch(text); m != nil {
		p.Thought = strings.TrimSpace(m[1])
	}

	if m := finalPattern.FindStringSubmatch(text); m != nil {
		p.IsFinalAnswer = true
		p.FinalAnswer = strings.TrimSpace(m[1])
	}

	if m := actionPattern.FindStringSubmatch(text); m != nil {
		p.HasAction = true
		p.Action = strings.ToLower(strings.TrimSpace(m[1]))
		if mi := actionInputPattern.FindStringSubmatch(text); mi != nil {
			p.ActionInput = strings.TrimSpace(mi[1])
		}
	}

	// An action trumps a final answer in the same turn: nothing should
	// follow a real final answer.
	if p.HasAction && p.IsFinalAnswer {
		p.IsFinalAnswer = false
		p.FinalAnswer = ""
	}

	if !p.HasAction && !p.IsFinalAnswer {
		if p.Thought == "" {
			// Treat a bare reply as an implicit final answer.
			p.IsFinalAnswer = true
			p.FinalAnswer = text
		} else {
			p.IsMalformed = true
		}
	}
	return p
}
