// Package trace provides the in-process debug trace ring buffer. Every
// agent call, LLM round-trip, routing decision, and memory injection is
// recorded here with a stable monotonic id, giving each step of a task an
// auditable identity without touching the database.
package trace

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/helmsman-ai/helmsman/pkg/models"
)

// maxContentBytes is the per-trace content ceiling. Larger payloads are
// truncated before storage so a single oversized LLM response cannot blow
// up the ring's memory footprint.
const maxContentBytes = 4096

// Ring is a thread-safe bounded FIFO of DebugTrace records. When full,
// appends drop the oldest record; order is never disturbed.
type Ring struct {
	mu     sync.Mutex
	buf    []models.DebugTrace
	head   int // index of oldest record
	count  int
	nextID int64
}

// NewRing creates a ring with the given capacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 2000
	}
	return &Ring{buf: make([]models.DebugTrace, capacity)}
}

// Record appends a trace, assigning its id and timestamp. Content beyond
// the per-trace ceiling is truncated with a marker.
func (r *Ring) Record(t models.DebugTrace) models.DebugTrace {
	if len(t.Content) > maxContentBytes {
		// Back the cut off to a rune boundary so truncation cannot leave a
		// split character behind.
		cut := maxContentBytes
		for cut > 0 && !utf8.RuneStart(t.Content[cut]) {
			cut--
		}
		t.Content = t.Content[:cut] + "…[truncated]"
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	t.ID = r.nextID
	if t.TS.IsZero() {
		t.TS = time.Now()
	}

	tail := (r.head + r.count) % len(r.buf)
	r.buf[tail] = t
	if r.count == len(r.buf) {
		r.head = (r.head + 1) % len(r.buf)
	} else {
		r.count++
	}
	return t
}

// Query filters retained traces. Zero-value filter fields match everything;
// limit <= 0 means no limit. Results are in publish order.
type Query struct {
	SessionID string
	TaskUID   string
	AgentName string
	TraceType models.TraceType
	Limit     int
}

// Query returns matching traces in publish order.
func (r *Ring) Query(q Query) []models.DebugTrace {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.DebugTrace, 0, r.count)
	for i := 0; i < r.count; i++ {
		t := r.buf[(r.head+i)%len(r.buf)]
		if q.SessionID != "" && t.SessionID != q.SessionID {
			continue
		}
		if q.TaskUID != "" && t.TaskUID != q.TaskUID {
			continue
		}
		if q.AgentName != "" && !strings.EqualFold(t.AgentName, q.AgentName) {
			continue
		}
		if q.TraceType != "" && t.TraceType != q.TraceType {
			continue
		}
		out = append(out, t)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out
}

// TaskFlow returns all retained traces for a task in publish order.
func (r *Ring) TaskFlow(taskUID string) []models.DebugTrace {
	return r.Query(Query{TaskUID: taskUID})
}

// SessionFlow returns all retained traces for a session in publish order.
func (r *Ring) SessionFlow(sessionID string) []models.DebugTrace {
	return r.Query(Query{SessionID: sessionID})
}

// Recent returns the newest limit traces in publish order.
func (r *Ring) Recent(limit int) []models.DebugTrace {
	return r.Query(Query{Limit: limit})
}

// Len returns the number of retained traces.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Clear discards all retained traces. The id counter keeps advancing so
// ids stay unique across clears.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = 0
	r.count = 0
}
