// Package store provides ledger.Store implementations.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/warp/reimbursement-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu     sync.RWMutex
	events map[string]ledger.Event      // by id
	byKey  map[ledger.NaturalKey]string // natural key -> id
	runs   map[string]ledger.RunRecord
}

func NewMemory() *Memory {
	return &Memory{
		events: make(map[string]ledger.Event),
		byKey:  make(map[ledger.NaturalKey]string),
		runs:   make(map[string]ledger.RunRecord),
	}
}

func (m *Memory) FindByKey(_ context.Context, key ledger.NaturalKey) (ledger.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byKey[normalizeKey(key)]
	if !ok {
		return ledger.Event{}, ledger.ErrEventNotFound
	}
	return m.events[id], nil
}

func (m *Memory) Insert(_ context.Context, e ledger.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := normalizeKey(e.Key())
	if _, exists := m.byKey[key]; exists {
		return ledger.ErrDuplicateKey
	}
	e.EventDate = ledger.Day(e.EventDate)
	m.events[e.ID] = e
	m.byKey[key] = e.ID
	return nil
}

func (m *Memory) Update(_ context.Context, e ledger.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.events[e.ID]
	if !ok {
		return ledger.ErrEventNotFound
	}
	current.Quantity = e.Quantity
	current.ReconciledQuantity = e.ReconciledQuantity
	current.UnreconciledQuantity = e.UnreconciledQuantity
	current.Disposition = e.Disposition
	current.ProductTitle = e.ProductTitle
	current.Status = e.Status
	current.UpdatedAt = e.UpdatedAt
	m.events[e.ID] = current
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (ledger.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.events[id]
	if !ok {
		return ledger.Event{}, ledger.ErrEventNotFound
	}
	return e, nil
}

func (m *Memory) List(_ context.Context, filter ledger.Filter, page ledger.Page) ([]ledger.Event, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []ledger.Event
	for _, e := range m.events {
		if matches(e, filter) {
			matched = append(matched, e)
		}
	}
	sortNewestFirst(matched)

	total := len(matched)
	from := page.Offset()
	if from >= total {
		return []ledger.Event{}, total, nil
	}
	to := total
	if page.Size > 0 && from+page.Size < total {
		to = from + page.Size
	}
	return matched[from:to], total, nil
}

func (m *Memory) ListByStatus(_ context.Context, status ledger.Status, limit int) ([]ledger.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Event
	for _, e := range m.events {
		if e.Status == status {
			result = append(result, e)
		}
	}
	sortNewestFirst(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *Memory) PromoteWaiting(_ context.Context, cutoff, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	day := ledger.Day(cutoff)
	moved := 0
	for id, e := range m.events {
		if e.Status == ledger.StatusWaiting && !e.EventDate.After(day) && e.UnreconciledQuantity > 0 {
			e.Status = ledger.StatusClaimable
			e.UpdatedAt = now
			m.events[id] = e
			moved++
		}
	}
	return moved, nil
}

func (m *Memory) ResolveClaimable(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	moved := 0
	for id, e := range m.events {
		if e.Status == ledger.StatusClaimable && e.UnreconciledQuantity == 0 {
			e.Status = ledger.StatusResolved
			e.UpdatedAt = now
			m.events[id] = e
			moved++
		}
	}
	return moved, nil
}

func (m *Memory) TransitionStatus(_ context.Context, id string, from, to ledger.Status, now time.Time) (ledger.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.events[id]
	if !ok {
		return ledger.Event{}, ledger.ErrEventNotFound
	}
	if e.Status != from {
		return ledger.Event{}, &ledger.TransitionError{EventID: id, From: e.Status, To: to}
	}
	e.Status = to
	e.UpdatedAt = now
	m.events[id] = e
	return e, nil
}

func (m *Memory) CountByStatus(_ context.Context) (map[ledger.Status]ledger.StatusTotals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totals := make(map[ledger.Status]ledger.StatusTotals)
	for _, e := range m.events {
		t := totals[e.Status]
		t.Count++
		t.Units += e.UnreconciledQuantity
		totals[e.Status] = t
	}
	return totals, nil
}

func (m *Memory) DeleteResolvedBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for id, e := range m.events {
		if e.Status == ledger.StatusResolved && e.UpdatedAt.Before(cutoff) {
			delete(m.byKey, normalizeKey(e.Key()))
			delete(m.events, id)
			deleted++
		}
	}
	return deleted, nil
}

// =============================================================================
// RUN HISTORY
// =============================================================================

func (m *Memory) SaveRun(_ context.Context, run ledger.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	return nil
}

func (m *Memory) ListRuns(_ context.Context, limit int) ([]ledger.RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := make([]ledger.RunRecord, 0, len(m.runs))
	for _, r := range m.runs {
		runs = append(runs, r)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func normalizeKey(k ledger.NaturalKey) ledger.NaturalKey {
	k.EventDate = ledger.Day(k.EventDate)
	return k
}

func sortNewestFirst(events []ledger.Event) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].EventDate.Equal(events[j].EventDate) {
			return events[i].EventDate.After(events[j].EventDate)
		}
		return events[i].CreatedAt.After(events[j].CreatedAt)
	})
}

func matches(e ledger.Event, f ledger.Filter) bool {
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, e.Status) {
		return false
	}
	if len(f.EventTypes) > 0 && !containsString(f.EventTypes, e.EventType) {
		return false
	}
	if len(f.FulfillmentCenters) > 0 {
		if e.FulfillmentCenter == nil || !containsString(f.FulfillmentCenters, *e.FulfillmentCenter) {
			return false
		}
	}
	if f.DateFrom != nil && e.EventDate.Before(ledger.Day(*f.DateFrom)) {
		return false
	}
	if f.DateTo != nil && e.EventDate.After(ledger.Day(*f.DateTo)) {
		return false
	}
	return containsFold(e.FNSKU, f.FNSKU) &&
		containsFold(e.ASIN, f.ASIN) &&
		containsFold(e.SKU, f.SKU)
}

func containsStatus(list []ledger.Status, s ledger.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsFold(value, needle string) bool {
	return needle == "" || strings.Contains(strings.ToLower(value), strings.ToLower(needle))
}
