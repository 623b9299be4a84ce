// Package artifacts tracks the governed documents decisions reference.
//
// Lifecycle is strictly forward: Draft -> Proposed -> Executed. Content is
// frozen on Propose, when the canonical fingerprint is recorded; replay
// later reads that fingerprint, never the live content.
package artifacts

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/organiq/eve-core/pkg/canonical"
)

var (
	ErrNotFound      = errors.New("artifacts: artifact not found")
	ErrDuplicateRef  = errors.New("artifacts: reference already in use")
	ErrBadTransition = errors.New("artifacts: invalid lifecycle transition")
	ErrFrozen        = errors.New("artifacts: content is frozen after propose")
)

// Status is the lifecycle state. Transitions only move forward.
type Status string

const (
	StatusDraft    Status = "DRAFT"
	StatusProposed Status = "PROPOSED"
	StatusExecuted Status = "EXECUTED"
)

// Type classifies what an artifact holds.
type Type string

const (
	TypeKnowledge Type = "knowledge"
	TypeRule      Type = "rule"
	TypeTemplate  Type = "template"
	TypeWorkflow  Type = "workflow"
)

// Artifact is one governed document. Ref is the stable identifier decisions
// cite (for example CDOC-SCOPE-1).
type Artifact struct {
	ArtifactID  string                 `json:"artifact_id"`
	Ref         string                 `json:"ref"`
	Type        Type                   `json:"type"`
	Title       string                 `json:"title"`
	Author      string                 `json:"author"`
	Content     map[string]interface{} `json:"content"`
	Fingerprint string                 `json:"fingerprint,omitempty"`
	Status      Status                 `json:"status"`
	DecisionID  string                 `json:"decision_id,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	ProposedAt  time.Time              `json:"proposed_at,omitzero"`
	ExecutedAt  time.Time              `json:"executed_at,omitzero"`
}

// EventSink receives lifecycle events for evidence sealing.
type EventSink func(event string, content map[string]interface{})

// Store is the thread-safe artifact registry.
type Store struct {
	mu    sync.RWMutex
	byID  map[string]*Artifact
	byRef map[string]*Artifact
	clock func() time.Time
	sink  EventSink
}

func NewStore() *Store {
	return &Store{
		byID:  make(map[string]*Artifact),
		byRef: make(map[string]*Artifact),
		clock: time.Now,
	}
}

// WithClock overrides the clock for testing.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

// WithSink registers a lifecycle event sink.
func (s *Store) WithSink(sink EventSink) *Store {
	s.sink = sink
	return s
}

// Create registers a new draft. Ref must be unused.
func (s *Store) Create(ref string, t Type, title, author string, content map[string]interface{}) (*Artifact, error) {
	if ref == "" {
		return nil, fmt.Errorf("artifacts: ref is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byRef[ref]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRef, ref)
	}

	a := &Artifact{
		ArtifactID: uuid.New().String(),
		Ref:        ref,
		Type:       t,
		Title:      title,
		Author:     author,
		Content:    content,
		Status:     StatusDraft,
		CreatedAt:  s.clock().UTC(),
	}
	s.byID[a.ArtifactID] = a
	s.byRef[a.Ref] = a
	return s.copyLocked(a), nil
}

// UpdateContent replaces the content of a draft. Proposed and executed
// artifacts are immutable.
func (s *Store) UpdateContent(ref string, content map[string]interface{}) (*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byRef[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if a.Status != StatusDraft {
		return nil, fmt.Errorf("%w: %s is %s", ErrFrozen, ref, a.Status)
	}
	a.Content = content
	return s.copyLocked(a), nil
}

// Propose freezes a draft: the canonical content fingerprint is computed and
// recorded, and the artifact becomes immutable.
func (s *Store) Propose(ref string) (*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byRef[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if a.Status != StatusDraft {
		return nil, fmt.Errorf("%w: %s -> PROPOSED from %s", ErrBadTransition, ref, a.Status)
	}

	fp, err := canonical.Hash(a.Content)
	if err != nil {
		return nil, fmt.Errorf("artifacts: fingerprint failed: %w", err)
	}
	a.Fingerprint = fp
	a.Status = StatusProposed
	a.ProposedAt = s.clock().UTC()

	s.emitLocked("artifact_proposed", map[string]interface{}{
		"artifact_id": a.ArtifactID,
		"ref":         a.Ref,
		"fingerprint": a.Fingerprint,
	})
	return s.copyLocked(a), nil
}

// LinkDecision marks a proposed artifact as executed under the decision
// that cited it.
func (s *Store) LinkDecision(ref, decisionID string) (*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byRef[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if a.Status != StatusProposed {
		return nil, fmt.Errorf("%w: %s -> EXECUTED from %s", ErrBadTransition, ref, a.Status)
	}
	a.Status = StatusExecuted
	a.DecisionID = decisionID
	a.ExecutedAt = s.clock().UTC()

	s.emitLocked("artifact_executed", map[string]interface{}{
		"artifact_id": a.ArtifactID,
		"ref":         a.Ref,
		"fingerprint": a.Fingerprint,
		"decision_id": decisionID,
	})
	return s.copyLocked(a), nil
}

// Get returns the artifact with the given ref.
func (s *Store) Get(ref string) (*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byRef[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return s.copyLocked(a), nil
}

// Fingerprint returns the recorded fingerprint for a frozen artifact, or
// "" with ok=false if the ref is unknown or still a draft.
func (s *Store) Fingerprint(ref string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byRef[ref]
	if !ok || a.Fingerprint == "" {
		return "", false
	}
	return a.Fingerprint, true
}

// List returns all artifacts, newest first.
func (s *Store) List() []*Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Artifact, 0, len(s.byID))
	for _, a := range s.byID {
		out = append(out, s.copyLocked(a))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *Store) emitLocked(event string, content map[string]interface{}) {
	if s.sink != nil {
		s.sink(event, content)
	}
}

func (s *Store) copyLocked(a *Artifact) *Artifact {
	cp := *a
	return &cp
}
