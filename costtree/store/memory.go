// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/cost-engine/costtree"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu    sync.RWMutex
	nodes map[costtree.NodeID]*costtree.CostNode
	docs  map[costtree.NodeID]costtree.DocumentRecord
	seq   int64
}

func NewMemory() *Memory {
	return &Memory{
		nodes: make(map[costtree.NodeID]*costtree.CostNode),
		docs:  make(map[costtree.NodeID]costtree.DocumentRecord),
	}
}

// =============================================================================
// STORE INTERFACE
// =============================================================================

func (m *Memory) CreateNode(_ context.Context, node *costtree.CostNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(node)
}

func (m *Memory) createLocked(node *costtree.CostNode) error {
	if err := m.checkOrderLocked(node.ParentID, node.DisplayOrder, node.ID); err != nil {
		return err
	}
	m.seq++
	node.CreatedSeq = m.seq
	m.nodes[node.ID] = node.Clone()
	return nil
}

// checkOrderLocked mirrors the sqlite store's UNIQUE (parent_id,
// display_order) index. Roots have no sibling set, so their order is
// advisory on both stores.
func (m *Memory) checkOrderLocked(parent *costtree.NodeID, order int, self costtree.NodeID) error {
	if parent == nil {
		return nil
	}
	for _, n := range m.nodes {
		if n.ID == self || n.ParentID == nil || *n.ParentID != *parent {
			continue
		}
		if n.DisplayOrder == order {
			return costtree.ErrDuplicateDisplayOrder
		}
	}
	return nil
}

func (m *Memory) GetNode(_ context.Context, id costtree.NodeID) (*costtree.CostNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id), nil
}

func (m *Memory) getLocked(id costtree.NodeID) *costtree.CostNode {
	return m.nodes[id].Clone() // Clone handles nil
}

func (m *Memory) GetChildren(_ context.Context, id costtree.NodeID) ([]costtree.CostNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.childrenLocked(id), nil
}

func (m *Memory) childrenLocked(id costtree.NodeID) []costtree.CostNode {
	var children []costtree.CostNode
	for _, n := range m.nodes {
		if n.ParentID != nil && *n.ParentID == id {
			children = append(children, *n.Clone())
		}
	}
	sort.Slice(children, func(i, j int) bool {
		if children[i].DisplayOrder != children[j].DisplayOrder {
			return children[i].DisplayOrder < children[j].DisplayOrder
		}
		return children[i].CreatedSeq < children[j].CreatedSeq
	})
	return children
}

func (m *Memory) GetAncestors(_ context.Context, id costtree.NodeID) ([]costtree.CostNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ancestorsLocked(id), nil
}

func (m *Memory) ancestorsLocked(id costtree.NodeID) []costtree.CostNode {
	var ancestors []costtree.CostNode
	node := m.nodes[id]
	for node != nil && node.ParentID != nil {
		node = m.nodes[*node.ParentID]
		if node == nil {
			break
		}
		ancestors = append(ancestors, *node.Clone())
	}
	return ancestors
}

func (m *Memory) SetTotal(_ context.Context, id costtree.NodeID, total costtree.Amount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setTotalLocked(id, total)
}

func (m *Memory) setTotalLocked(id costtree.NodeID, total costtree.Amount) error {
	node, ok := m.nodes[id]
	if !ok {
		return costtree.ErrNodeNotFound
	}
	node.Total = total
	return nil
}

func (m *Memory) SetValuation(_ context.Context, id costtree.NodeID, v costtree.ItemValuation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setValuationLocked(id, v)
}

func (m *Memory) setValuationLocked(id costtree.NodeID, v costtree.ItemValuation) error {
	node, ok := m.nodes[id]
	if !ok {
		return costtree.ErrNodeNotFound
	}
	node.Valuation = &v
	return nil
}

func (m *Memory) SetDisplayOrder(_ context.Context, id costtree.NodeID, order int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setOrderLocked(id, order)
}

func (m *Memory) setOrderLocked(id costtree.NodeID, order int) error {
	node, ok := m.nodes[id]
	if !ok {
		return costtree.ErrNodeNotFound
	}
	if err := m.checkOrderLocked(node.ParentID, order, id); err != nil {
		return err
	}
	node.DisplayOrder = order
	return nil
}

func (m *Memory) DeleteSubtree(_ context.Context, id costtree.NodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(id)
}

func (m *Memory) deleteLocked(id costtree.NodeID) error {
	for _, victim := range m.subtreeLocked(id) {
		delete(m.nodes, victim)
		delete(m.docs, victim)
	}
	return nil
}

func (m *Memory) SubtreeIDs(_ context.Context, id costtree.NodeID) ([]costtree.NodeID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.subtreeLocked(id), nil
}

func (m *Memory) subtreeLocked(id costtree.NodeID) []costtree.NodeID {
	if m.nodes[id] == nil {
		return nil
	}
	ids := []costtree.NodeID{id}
	for i := 0; i < len(ids); i++ {
		for _, n := range m.nodes {
			if n.ParentID != nil && *n.ParentID == ids[i] {
				ids = append(ids, n.ID)
			}
		}
	}
	return ids
}

func (m *Memory) ReferencingItems(_ context.Context, target costtree.NodeID) ([]costtree.CostNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.referrersLocked(target), nil
}

func (m *Memory) referrersLocked(target costtree.NodeID) []costtree.CostNode {
	var items []costtree.CostNode
	for _, n := range m.nodes {
		if n.Valuation != nil &&
			n.Valuation.Kind == costtree.ValuationPercentageOf &&
			n.Valuation.ReferenceID == target {
			items = append(items, *n.Clone())
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedSeq < items[j].CreatedSeq })
	return items
}

func (m *Memory) ListRoots(_ context.Context) ([]costtree.CostNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var roots []costtree.CostNode
	for _, n := range m.nodes {
		if n.ParentID == nil {
			roots = append(roots, *n.Clone())
		}
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i].CreatedSeq < roots[j].CreatedSeq })
	return roots, nil
}

// =============================================================================
// DOCUMENT STORE INTERFACE
// =============================================================================

func (m *Memory) SaveDocument(_ context.Context, rec costtree.DocumentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[rec.NodeID] = rec
	return nil
}

func (m *Memory) GetDocument(_ context.Context, id costtree.NodeID) (*costtree.DocumentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.docs[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *Memory) ListDocuments(_ context.Context, kind string) ([]costtree.DocumentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var recs []costtree.DocumentRecord
	for _, rec := range m.docs {
		if kind == "" || rec.Kind == kind {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.Before(recs[j].CreatedAt) })
	return recs, nil
}

func (m *Memory) DeleteDocument(_ context.Context, id costtree.NodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For the memory store this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(_ context.Context, fn func(costtree.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	view := &txMemoryView{parent: tm.Memory}

	if err := fn(view); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	nodes map[costtree.NodeID]*costtree.CostNode
	docs  map[costtree.NodeID]costtree.DocumentRecord
	seq   int64
}

func (tm *TxMemory) snapshot() memorySnapshot {
	nodes := make(map[costtree.NodeID]*costtree.CostNode, len(tm.nodes))
	for id, n := range tm.nodes {
		nodes[id] = n.Clone()
	}
	docs := make(map[costtree.NodeID]costtree.DocumentRecord, len(tm.docs))
	for id, rec := range tm.docs {
		docs[id] = rec
	}
	return memorySnapshot{nodes: nodes, docs: docs, seq: tm.seq}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.nodes = s.nodes
	tm.docs = s.docs
	tm.seq = s.seq
}

// txMemoryView routes to the lock-free internals; the surrounding WithTx
// already holds the write lock.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) CreateNode(_ context.Context, node *costtree.CostNode) error {
	return tv.parent.createLocked(node)
}

func (tv *txMemoryView) GetNode(_ context.Context, id costtree.NodeID) (*costtree.CostNode, error) {
	return tv.parent.getLocked(id), nil
}

func (tv *txMemoryView) GetChildren(_ context.Context, id costtree.NodeID) ([]costtree.CostNode, error) {
	return tv.parent.childrenLocked(id), nil
}

func (tv *txMemoryView) GetAncestors(_ context.Context, id costtree.NodeID) ([]costtree.CostNode, error) {
	return tv.parent.ancestorsLocked(id), nil
}

func (tv *txMemoryView) SetTotal(_ context.Context, id costtree.NodeID, total costtree.Amount) error {
	return tv.parent.setTotalLocked(id, total)
}

func (tv *txMemoryView) SetValuation(_ context.Context, id costtree.NodeID, v costtree.ItemValuation) error {
	return tv.parent.setValuationLocked(id, v)
}

func (tv *txMemoryView) SetDisplayOrder(_ context.Context, id costtree.NodeID, order int) error {
	return tv.parent.setOrderLocked(id, order)
}

func (tv *txMemoryView) DeleteSubtree(_ context.Context, id costtree.NodeID) error {
	return tv.parent.deleteLocked(id)
}

func (tv *txMemoryView) SubtreeIDs(_ context.Context, id costtree.NodeID) ([]costtree.NodeID, error) {
	return tv.parent.subtreeLocked(id), nil
}

func (tv *txMemoryView) ReferencingItems(_ context.Context, target costtree.NodeID) ([]costtree.CostNode, error) {
	return tv.parent.referrersLocked(target), nil
}

func (tv *txMemoryView) ListRoots(_ context.Context) ([]costtree.CostNode, error) {
	var roots []costtree.CostNode
	for _, n := range tv.parent.nodes {
		if n.ParentID == nil {
			roots = append(roots, *n.Clone())
		}
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i].CreatedSeq < roots[j].CreatedSeq })
	return roots, nil
}
