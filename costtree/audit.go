/*
audit.go - Collaborator interfaces fed after settlement

PURPOSE:
  The engine does not persist history or deliver notifications itself.
  After each successful Apply it hands before/after snapshots to an audit
  collaborator and the set of changed root Documents to a notification
  collaborator. Both are optional; durable history and user-facing change
  summaries are their responsibility.

PROVIDED IMPLEMENTATIONS:
  MemoryAuditSink: bounded in-memory ring, enough for a recent-changes
                   endpoint and for tests
  LogNotifier:     logs changed roots, a stand-in for real fan-out

SEE ALSO:
  - engine.go: Where the collaborators are invoked
*/
package costtree

import (
	"context"
	"log"
	"sync"
	"time"
)

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// AuditEntry is one node's before/after snapshot from one Apply.
type AuditEntry struct {
	Version  int64
	Mutation string // create, update, reorder, delete
	NodeID   NodeID
	Before   *CostNode // nil for creates
	After    *CostNode // nil for deletes
	At       time.Time
}

// AuditSink receives snapshots of every node touched by a successful
// Apply. Implementations own durable history.
type AuditSink interface {
	Record(ctx context.Context, entries []AuditEntry)
}

// Notifier is informed which root Documents had their total change, for
// downstream fan-out. The engine reports that a total changed, not to
// whom to deliver it.
type Notifier interface {
	TotalsChanged(ctx context.Context, roots []NodeID)
}

// =============================================================================
// MEMORY AUDIT SINK
// =============================================================================

// MemoryAuditSink keeps the most recent entries in a bounded ring.
type MemoryAuditSink struct {
	mu      sync.RWMutex
	entries []AuditEntry
	limit   int
}

func NewMemoryAuditSink(limit int) *MemoryAuditSink {
	if limit <= 0 {
		limit = 256
	}
	return &MemoryAuditSink{limit: limit}
}

func (m *MemoryAuditSink) Record(_ context.Context, entries []AuditEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entries...)
	if over := len(m.entries) - m.limit; over > 0 {
		m.entries = append([]AuditEntry(nil), m.entries[over:]...)
	}
}

// Recent returns up to n entries, newest last.
func (m *MemoryAuditSink) Recent(n int) []AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n <= 0 || n > len(m.entries) {
		n = len(m.entries)
	}
	out := make([]AuditEntry, n)
	copy(out, m.entries[len(m.entries)-n:])
	return out
}

// =============================================================================
// LOG NOTIFIER
// =============================================================================

// LogNotifier logs changed roots via the standard logger.
type LogNotifier struct{}

func (LogNotifier) TotalsChanged(_ context.Context, roots []NodeID) {
	log.Printf("document totals changed: %v", roots)
}
