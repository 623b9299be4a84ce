package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps everything in process memory. Used by tests and by
// ephemeral deployments that rely on the evidence ledger for durability.
type MemoryStore struct {
	mu        sync.RWMutex
	decisions map[string]*Decision
	order     []string
	sequences map[int]int
	evidence  []*EvidenceMirror
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		decisions: make(map[string]*Decision),
		sequences: make(map[int]int),
	}
}

func (s *MemoryStore) NextDecisionID(_ context.Context, year int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequences[year]++
	return formatDecisionID(year, s.sequences[year]), nil
}

func (s *MemoryStore) InsertDecision(_ context.Context, d *Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.decisions[d.DecisionID]; ok {
		return ErrDuplicateID
	}
	cp := *d
	s.decisions[d.DecisionID] = &cp
	s.order = append(s.order, d.DecisionID)
	return nil
}

func (s *MemoryStore) GetDecision(_ context.Context, id string) (*Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.decisions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) MarkSuperseded(_ context.Context, id, byID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decisions[id]
	if !ok {
		return ErrNotFound
	}
	d.Status = StatusSuperseded
	d.SupersededBy = byID
	return nil
}

func (s *MemoryStore) ListDecisions(_ context.Context, f Filter) ([]*Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Decision
	for _, id := range s.order {
		d := s.decisions[id]
		if !matches(d, f) {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matches(d *Decision, f Filter) bool {
	if f.DecisionType != "" && string(d.DecisionType) != f.DecisionType {
		return false
	}
	if f.Status != "" && string(d.Status) != f.Status {
		return false
	}
	if f.SystemID != "" && d.SystemID != f.SystemID {
		return false
	}
	if f.ProjectID != "" && d.ProjectID != f.ProjectID {
		return false
	}
	return true
}

func (s *MemoryStore) PutEvidence(_ context.Context, e *EvidenceMirror) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.evidence = append(s.evidence, &cp)
	return nil
}

func (s *MemoryStore) ListEvidence(_ context.Context) ([]*EvidenceMirror, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*EvidenceMirror(nil), s.evidence...), nil
}

func (s *MemoryStore) Close() error { return nil }
