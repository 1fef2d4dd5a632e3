// Package memory implements the tiered memory subsystem: per-task working
// memory, the episodic store, the entity graph, and user preferences,
// composed through a Manager that builds prompt context.
package memory

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/helmsman-ai/helmsman/pkg/models"
)

// DefaultWorkingCapacity bounds the working memory item count.
const DefaultWorkingCapacity = 20

// WorkingMemory is the capacity-bounded scratch store for the current task.
// Items are evicted by 0.7*relevance + 0.3*recency and the whole store is
// cleared whenever the current task changes.
type WorkingMemory struct {
	mu          sync.Mutex
	items       map[string]*models.WorkingMemoryItem
	capacity    int
	currentTask string
	now         func() time.Time
}

// NewWorkingMemory creates a working memory with the given capacity.
// capacity <= 0 falls back to the default.
func NewWorkingMemory(capacity int) *WorkingMemory {
	if capacity <= 0 {
		capacity = DefaultWorkingCapacity
	}
	return &WorkingMemory{
		items:    make(map[string]*models.WorkingMemoryItem),
		capacity: capacity,
		now:      time.Now,
	}
}

// SetCurrentTask binds the store to a task. Switching tasks clears every
// item so nothing leaks across task boundaries.
func (w *WorkingMemory) SetCurrentTask(taskUID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentTask != taskUID {
		w.items = make(map[string]*models.WorkingMemoryItem)
		w.currentTask = taskUID
	}
}

// CurrentTask returns the task the store is bound to.
func (w *WorkingMemory) CurrentTask() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentTask
}

// Store inserts or replaces an item. At capacity the lowest-scoring item is
// evicted first.
func (w *WorkingMemory) Store(key, content string, relevance float64) {
	if relevance < 0 {
		relevance = 0
	}
	if relevance > 1 {
		relevance = 1
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if existing, ok := w.items[key]; ok {
		existing.Content = content
		existing.Relevance = relevance
		existing.LastAccessed = now
		return
	}

	if len(w.items) >= w.capacity {
		w.evictLocked(now)
	}
	w.items[key] = &models.WorkingMemoryItem{
		Key:          key,
		Content:      content,
		Relevance:    relevance,
		CreatedAt:    now,
		LastAccessed: now,
	}
}

// Get returns an item's content and bumps its access stats.
func (w *WorkingMemory) Get(key string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	item, ok := w.items[key]
	if !ok {
		return "", false
	}
	item.LastAccessed = w.now()
	item.AccessCount++
	return item.Content, true
}

// Len returns the current item count.
func (w *WorkingMemory) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.items)
}

// ToContextString renders the top-n items by score for prompt injection.
// Returns "" when empty.
func (w *WorkingMemory) ToContextString(n int) string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.items) == 0 {
		return ""
	}
	if n <= 0 || n > len(w.items) {
		n = len(w.items)
	}

	now := w.now()
	ranked := make([]*models.WorkingMemoryItem, 0, len(w.items))
	for _, item := range w.items {
		ranked = append(ranked, item)
	}
	sort.Slice(ranked, func(i, j int) bool {
		si, sj := score(ranked[i], now), score(ranked[j], now)
		if si != sj {
			return si > sj
		}
		return ranked[i].Key < ranked[j].Key
	})

	var b strings.Builder
	b.WriteString("Working memory:\n")
	for _, item := range ranked[:n] {
		fmt.Fprintf(&b, "- [%s] %s\n", item.Key, item.Content)
	}
	return b.String()
}

// evictLocked removes the lowest-scoring item. Caller holds the lock.
func (w *WorkingMemory) evictLocked(now time.Time) {
	var (
		victim   string
		minScore float64
		first    = true
	)
	for key, item := range w.items {
		s := score(item, now)
		if first || s < minScore || (s == minScore && key < victim) {
			victim, minScore, first = key, s, false
		}
	}
	if victim != "" {
		delete(w.items, victim)
	}
}

// score ranks an item by 0.7*relevance + 0.3*recency, where recency decays
// over a ten-minute horizon.
func score(item *models.WorkingMemoryItem, now time.Time) float64 {
	age := now.Sub(item.LastAccessed).Seconds()
	recency := 1.0 - age/600.0
	if recency < 0 {
		recency = 0
	}
	return 0.7*item.Relevance + 0.3*recency
}
