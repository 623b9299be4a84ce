package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/organiq/eve-core/pkg/ecl"
	"github.com/organiq/eve-core/pkg/scope"
)

func sampleDecision(id string) *Decision {
	return &Decision{
		DecisionID:   id,
		DecisionType: ecl.TypeClassification,
		Verb:         ecl.VerbClassify,
		ProjectID:    "alpha",
		HashScheme:   scope.SchemeV2,
		SystemID:     "acme-sys",
		UseCase:      "scoring",
		Artifacts:    []string{"CDOC-SCOPE-1", "CDOC-CLASS-1"},
		ExecutedBy: []Approval{
			{Role: "Compliance Owner", ActorID: "joakim", ApprovalMethod: "explicit_signoff"},
		},
		Status:         StatusExecuted,
		RuleSetVersion: "eve-ruleset-v1.0.0-deadbeef",
		ContextHash:    "abc123",
		CreatedAt:      time.Now().UTC(),
	}
}

func TestMemoryNextDecisionID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id1, err := s.NextDecisionID(ctx, 2026)
	require.NoError(t, err)
	assert.Equal(t, "EVE-2026-000001", id1)

	id2, err := s.NextDecisionID(ctx, 2026)
	require.NoError(t, err)
	assert.Equal(t, "EVE-2026-000002", id2)

	// Counters are per year.
	id3, err := s.NextDecisionID(ctx, 2027)
	require.NoError(t, err)
	assert.Equal(t, "EVE-2027-000001", id3)
}

func TestMemoryInsertGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	d := sampleDecision("EVE-2026-000001")
	require.NoError(t, s.InsertDecision(ctx, d))

	got, err := s.GetDecision(ctx, d.DecisionID)
	require.NoError(t, err)
	assert.Equal(t, d.SystemID, got.SystemID)
	assert.Equal(t, d.Artifacts, got.Artifacts)
	assert.Equal(t, StatusExecuted, got.Status)

	assert.ErrorIs(t, s.InsertDecision(ctx, d), ErrDuplicateID)

	_, err = s.GetDecision(ctx, "EVE-2026-999999")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryMarkSuperseded(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	d := sampleDecision("EVE-2026-000001")
	require.NoError(t, s.InsertDecision(ctx, d))
	require.NoError(t, s.MarkSuperseded(ctx, d.DecisionID, "EVE-2026-000002"))

	got, err := s.GetDecision(ctx, d.DecisionID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuperseded, got.Status)
	assert.Equal(t, "EVE-2026-000002", got.SupersededBy)

	assert.ErrorIs(t, s.MarkSuperseded(ctx, "missing", "x"), ErrNotFound)
}

func TestMemoryListDecisions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"EVE-2026-000001", "EVE-2026-000002", "EVE-2026-000003"} {
		d := sampleDecision(id)
		d.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		if i == 2 {
			d.ProjectID = "beta"
			d.SystemID = "other-sys"
		}
		require.NoError(t, s.InsertDecision(ctx, d))
	}

	all, err := s.ListDecisions(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Newest first.
	assert.Equal(t, "EVE-2026-000003", all[0].DecisionID)

	alpha, err := s.ListDecisions(ctx, Filter{ProjectID: "alpha"})
	require.NoError(t, err)
	assert.Len(t, alpha, 2)

	bySystem, err := s.ListDecisions(ctx, Filter{SystemID: "other-sys"})
	require.NoError(t, err)
	require.Len(t, bySystem, 1)
	assert.Equal(t, "EVE-2026-000003", bySystem[0].DecisionID)

	limited, err := s.ListDecisions(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMemoryEvidenceMirror(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	e := &EvidenceMirror{
		EvidenceID:   "ev-1",
		EvidenceType: "decision",
		Timestamp:    time.Now().UTC(),
		ContentHash:  "abc",
		PreviousHash: "genesis",
		Payload:      []byte(`{"decision_id":"EVE-2026-000001"}`),
	}
	require.NoError(t, s.PutEvidence(ctx, e))

	list, err := s.ListEvidence(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "ev-1", list[0].EvidenceID)
}

func TestMemoryStoreIsolation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	d := sampleDecision("EVE-2026-000001")
	require.NoError(t, s.InsertDecision(ctx, d))

	got, err := s.GetDecision(ctx, d.DecisionID)
	require.NoError(t, err)
	got.Status = StatusSuperseded

	again, err := s.GetDecision(ctx, d.DecisionID)
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, again.Status, "callers must not mutate stored state")
}
