// Package store persists executed decisions and allocates decision ids.
// Three implementations share the Store interface: an in-memory store for
// tests and ephemeral runs, SQLite for single-node deployments and Postgres
// for shared ones.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/organiq/eve-core/pkg/ecl"
	"github.com/organiq/eve-core/pkg/scope"
)

var (
	ErrNotFound    = errors.New("store: decision not found")
	ErrDuplicateID = errors.New("store: decision id already exists")
)

// Status is the lifecycle state of a stored decision. Decisions are born
// EXECUTED and can only move one way, to SUPERSEDED.
type Status string

const (
	StatusExecuted   Status = "EXECUTED"
	StatusSuperseded Status = "SUPERSEDED"
)

// Approval records one signoff that authorized a decision.
type Approval struct {
	Role           string `json:"role"`
	ActorID        string `json:"actor_id"`
	ApprovalMethod string `json:"approval_method"`
}

// Decision is one executed governance decision.
type Decision struct {
	DecisionID     string           `json:"decision_id"`
	DecisionType   ecl.DecisionType `json:"decision_type"`
	Verb           ecl.Verb         `json:"verb"`
	ProjectID      string           `json:"project_id"`
	HashScheme     scope.HashScheme `json:"hash_scheme"`
	SystemID       string           `json:"system_id"`
	UseCase        string           `json:"use_case"`
	Artifacts      []string         `json:"artifacts"`
	RiskLinks      []string         `json:"risk_links"`
	ExecutedBy     []Approval       `json:"executed_by"`
	Status         Status           `json:"status"`
	RuleSetVersion string           `json:"rule_set_version"`
	ContextHash    string           `json:"context_hash"`
	EvidenceID     string           `json:"evidence_id"`
	Supersedes     string           `json:"supersedes,omitempty"`
	SupersededBy   string           `json:"superseded_by,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Filter narrows ListDecisions. Zero-value fields match everything.
type Filter struct {
	DecisionType string
	Status       string
	SystemID     string
	ProjectID    string
	Limit        int
}

// EvidenceMirror is a durable copy of one sealed ledger record, kept so the
// evidence chain survives restarts.
type EvidenceMirror struct {
	EvidenceID   string    `json:"evidence_id"`
	EvidenceType string    `json:"evidence_type"`
	Timestamp    time.Time `json:"timestamp"`
	ContentHash  string    `json:"content_hash"`
	PreviousHash string    `json:"previous_hash"`
	Payload      []byte    `json:"payload"`
}

// Store is the persistence boundary for decisions and evidence.
type Store interface {
	// NextDecisionID allocates the next id for the given year, formatted
	// EVE-<year>-<6-digit sequence>. Counters are per year and never reused.
	NextDecisionID(ctx context.Context, year int) (string, error)

	InsertDecision(ctx context.Context, d *Decision) error
	GetDecision(ctx context.Context, id string) (*Decision, error)

	// MarkSuperseded flips an EXECUTED decision to SUPERSEDED and records
	// which decision replaced it.
	MarkSuperseded(ctx context.Context, id, byID string) error

	// ListDecisions returns matching decisions, newest first.
	ListDecisions(ctx context.Context, f Filter) ([]*Decision, error)

	PutEvidence(ctx context.Context, e *EvidenceMirror) error
	ListEvidence(ctx context.Context) ([]*EvidenceMirror, error)

	Close() error
}

func formatDecisionID(year, seq int) string {
	return fmt.Sprintf("EVE-%04d-%06d", year, seq)
}
