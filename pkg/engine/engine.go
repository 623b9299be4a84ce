// Package engine orchestrates decision execution: rule validation, scope
// normalization, id allocation, persistence and evidence sealing, plus the
// read paths (query, replay, verify) and the one-way supersede transition.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/organiq/eve-core/pkg/artifacts"
	"github.com/organiq/eve-core/pkg/canonical"
	"github.com/organiq/eve-core/pkg/ecl"
	"github.com/organiq/eve-core/pkg/rules"
	"github.com/organiq/eve-core/pkg/scope"
	"github.com/organiq/eve-core/pkg/store"
	"github.com/organiq/eve-core/pkg/vault"
)

var (
	// ErrNotDecision is returned when a read verb reaches the write path.
	ErrNotDecision = errors.New("engine: instruction is not a decision")
	// ErrInvalidDecisionID rejects malformed ids before any ledger lookup.
	ErrInvalidDecisionID = errors.New("engine: invalid decision id format")
	// ErrDecisionNotFound is a state error: the referenced decision does not exist.
	ErrDecisionNotFound = errors.New("engine: decision not found")
	// ErrNotExecuted is a state error: only EXECUTED decisions can be superseded.
	ErrNotExecuted = errors.New("engine: cannot supersede a non-executed decision")
)

// ValidationError carries every violated rule, not just the first.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "engine: validation failed: " + strings.Join(e.Errors, "; ")
}

var decisionIDRe = regexp.MustCompile(`^EVE-\d{4}-\d{6}$`)

// ValidDecisionID reports whether id matches EVE-<year>-<6-digit sequence>.
func ValidDecisionID(id string) bool {
	return decisionIDRe.MatchString(id)
}

// Authorizer answers whether an actor may currently sign in a role. The
// engine treats this as a pure boolean lookup and stores no identity state.
type Authorizer interface {
	Authorized(actorID, role string) bool
}

// ArtifactLinker marks supporting references as linked to a decision and
// reports their recorded content fingerprints for replay.
type ArtifactLinker interface {
	LinkDecision(ref, decisionID string) (*artifacts.Artifact, error)
	Fingerprint(ref string) (string, bool)
}

// Engine is the single writer over the store and the evidence ledger. All
// mutating operations serialize behind one mutex: each write step depends on
// the previous one's output (sequence number, chain pointer, tree root), so
// finer-grained locking is unsafe.
type Engine struct {
	mu     sync.Mutex
	store  store.Store
	ledger *vault.Ledger
	arts   ArtifactLinker
	authz  Authorizer
	log    *slog.Logger
	clock  func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithArtifacts wires the artifact lifecycle collaborator.
func WithArtifacts(a ArtifactLinker) Option {
	return func(e *Engine) { e.arts = a }
}

// WithAuthorizer wires the approver registry collaborator. When set, every
// signoff entry must be an authorized (actor, role) pair.
func WithAuthorizer(a Authorizer) Option {
	return func(e *Engine) { e.authz = a }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithClock overrides the clock for testing.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

func New(st store.Store, ledger *vault.Ledger, opts ...Option) *Engine {
	e := &Engine{
		store:  st,
		ledger: ledger,
		log:    slog.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is the outcome of a successful write.
type Result struct {
	DecisionID  string           `json:"eve_decision_id"`
	ProjectID   string           `json:"project_id"`
	HashScheme  scope.HashScheme `json:"hash_scheme"`
	ContentHash string           `json:"context_hash"`
	EvidenceID  string           `json:"evidence_id"`
	MerkleRoot  string           `json:"merkle_root"`
	SealedAt    time.Time        `json:"sealed_at"`
	Superseded  string           `json:"superseded,omitempty"`
	Warnings    []string         `json:"warnings,omitempty"`
}

// Execute runs a decision instruction end to end. Instructions carrying a
// supersede target follow the supersede path; they still satisfy the
// decision type's ordinary rule requirements first.
func (e *Engine) Execute(ctx context.Context, inst *ecl.Instruction) (*Result, error) {
	if !inst.Verb.IsDecision() {
		return nil, ErrNotDecision
	}

	res := rules.Validate(inst)
	if !res.Valid {
		return nil, &ValidationError{Errors: res.Errors}
	}
	warnings := res.Warnings

	projectID, scheme, err := scope.Normalize(inst.ProjectID)
	if err != nil {
		return nil, &ValidationError{Errors: []string{err.Error()}}
	}

	if e.authz != nil {
		var denied []string
		for _, s := range inst.Signoff {
			if !e.authz.Authorized(s.ActorID, s.Role) {
				denied = append(denied, fmt.Sprintf("actor %q is not authorized to sign as %q", s.ActorID, s.Role))
			}
		}
		if len(denied) > 0 {
			return nil, &ValidationError{Errors: denied}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var target *store.Decision
	if inst.Supersedes != "" {
		if !ValidDecisionID(inst.Supersedes) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidDecisionID, inst.Supersedes)
		}
		target, err = e.store.GetDecision(ctx, inst.Supersedes)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrDecisionNotFound, inst.Supersedes)
			}
			return nil, err
		}
		if target.Status != store.StatusExecuted {
			return nil, fmt.Errorf("%w: %s is %s", ErrNotExecuted, target.DecisionID, target.Status)
		}
	}

	now := e.clock().UTC()
	decisionID, err := e.store.NextDecisionID(ctx, now.Year())
	if err != nil {
		return nil, err
	}

	decision, err := e.buildDecision(decisionID, inst, projectID, scheme, now)
	if err != nil {
		return nil, err
	}

	// The seal precedes the insert so the stored row carries the evidence
	// id. If the insert then fails, the sealed record remains as an orphan
	// and the allocated sequence number is consumed; the chain itself stays
	// intact and verifiable.
	rec, err := e.ledger.Seal(vault.EvidenceDecision, decisionContent(decision), map[string]string{
		"verb": string(inst.Verb),
	})
	if err != nil {
		return nil, err
	}
	decision.EvidenceID = rec.ID

	if err := e.store.InsertDecision(ctx, decision); err != nil {
		return nil, err
	}

	if target != nil {
		if err := e.store.MarkSuperseded(ctx, target.DecisionID, decisionID); err != nil {
			return nil, err
		}
		warnings = append([]string{"superseded: " + target.DecisionID}, warnings...)
	}

	e.linkArtifacts(inst.Artifacts, decisionID)

	e.log.InfoContext(ctx, "decision executed",
		"decision_id", decisionID,
		"decision_type", decision.DecisionType,
		"project_id", projectID,
		"system_id", decision.SystemID,
		"supersedes", decision.Supersedes,
	)

	return &Result{
		DecisionID:  decisionID,
		ProjectID:   projectID,
		HashScheme:  scheme,
		ContentHash: decision.ContextHash,
		EvidenceID:  rec.ID,
		MerkleRoot:  e.ledger.Root(),
		SealedAt:    rec.Timestamp,
		Superseded:  decision.Supersedes,
		Warnings:    warnings,
	}, nil
}

func (e *Engine) buildDecision(decisionID string, inst *ecl.Instruction, projectID string, scheme scope.HashScheme, now time.Time) (*store.Decision, error) {
	useCase := canonical.NormalizeText(inst.UseCase)

	contextHash, err := canonical.Hash(map[string]interface{}{
		"project_id": projectID,
		"system_id":  inst.SystemID,
		"use_case":   useCase,
		"artifacts":  inst.Artifacts,
		"risk_links": inst.RiskLinks,
		"signoff":    inst.Signoff,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: context hash failed: %w", err)
	}

	dt, _ := inst.Verb.DecisionType()
	executedBy := make([]store.Approval, 0, len(inst.Signoff))
	for _, s := range inst.Signoff {
		executedBy = append(executedBy, store.Approval{
			Role:           s.Role,
			ActorID:        s.ActorID,
			ApprovalMethod: "explicit_signoff",
		})
	}

	return &store.Decision{
		DecisionID:     decisionID,
		DecisionType:   dt,
		Verb:           inst.Verb,
		ProjectID:      projectID,
		HashScheme:     scheme,
		SystemID:       inst.SystemID,
		UseCase:        useCase,
		Artifacts:      inst.Artifacts,
		RiskLinks:      inst.RiskLinks,
		ExecutedBy:     executedBy,
		Status:         store.StatusExecuted,
		RuleSetVersion: rules.Version(),
		ContextHash:    contextHash,
		Supersedes:     inst.Supersedes,
		CreatedAt:      now,
	}, nil
}

func decisionContent(d *store.Decision) map[string]interface{} {
	content := map[string]interface{}{
		"decision_id":      d.DecisionID,
		"decision_type":    string(d.DecisionType),
		"project_id":       d.ProjectID,
		"hash_scheme":      string(d.HashScheme),
		"status":           string(d.Status),
		"created_at":       d.CreatedAt.Format(time.RFC3339Nano),
		"executed_by":      d.ExecutedBy,
		"scope":            map[string]interface{}{"system_id": d.SystemID, "use_case": d.UseCase},
		"source_artifacts": d.Artifacts,
		"risk_links":       d.RiskLinks,
		"rule_set_version": d.RuleSetVersion,
		"context_hash":     d.ContextHash,
	}
	if d.Supersedes != "" {
		content["supersedes"] = d.Supersedes
	}
	return content
}

func (e *Engine) linkArtifacts(refs []string, decisionID string) {
	if e.arts == nil {
		return
	}
	for _, ref := range refs {
		if _, err := e.arts.LinkDecision(ref, decisionID); err != nil {
			// References may point at documents managed outside the
			// artifact store; only tracked artifacts get linked.
			e.log.Debug("artifact not linked", "ref", ref, "decision_id", decisionID, "err", err)
		}
	}
}

// ValidateOnly runs rule validation and scope normalization without
// allocating an id or touching the ledger.
func (e *Engine) ValidateOnly(inst *ecl.Instruction) rules.Result {
	res := rules.Validate(inst)
	if _, _, err := scope.Normalize(inst.ProjectID); err != nil {
		res.Valid = false
		res.Errors = append(res.Errors, err.Error())
	}
	return res
}

// Query returns decisions matching the filters, newest first.
func (e *Engine) Query(ctx context.Context, f ecl.Filters) ([]*store.Decision, error) {
	return e.store.ListDecisions(ctx, store.Filter{
		DecisionType: f.DecisionType,
		Status:       f.Status,
		SystemID:     f.SystemID,
		ProjectID:    f.ProjectID,
	})
}

// ArtifactContext is one frozen supporting reference in a replay.
type ArtifactContext struct {
	Ref         string `json:"id"`
	Fingerprint string `json:"content_hash,omitempty"`
	Recorded    bool   `json:"recorded"`
}

// ApprovalContext is one accountability entry in a replay.
type ApprovalContext struct {
	Role              string    `json:"role"`
	ActorID           string    `json:"actor_id"`
	ApprovalTimestamp time.Time `json:"approval_timestamp"`
}

// ReplayResult is the full frozen context of a past decision, rebuilt from
// stored records only.
type ReplayResult struct {
	DecisionID     string            `json:"eve_decision_id"`
	DecisionType   ecl.DecisionType  `json:"decision_type"`
	ProjectID      string            `json:"project_id"`
	SystemID       string            `json:"system_id"`
	UseCase        string            `json:"use_case"`
	Status         store.Status      `json:"status"`
	Artifacts      []ArtifactContext `json:"frozen_artifacts"`
	Accountability []ApprovalContext `json:"accountability"`
	RuleSetVersion string            `json:"rule_set_version"`
	ContextHash    string            `json:"context_hash"`
	Sealed         bool              `json:"vault_sealed"`
	SealedAt       time.Time         `json:"sealed_at,omitzero"`
	EvidenceID     string            `json:"evidence_id,omitempty"`
}

// Replay reconstructs a decision's frozen context. It never re-executes
// business logic.
func (e *Engine) Replay(ctx context.Context, decisionID string) (*ReplayResult, error) {
	if !ValidDecisionID(decisionID) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDecisionID, decisionID)
	}
	d, err := e.store.GetDecision(ctx, decisionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrDecisionNotFound, decisionID)
		}
		return nil, err
	}

	arts := make([]ArtifactContext, 0, len(d.Artifacts))
	for _, ref := range d.Artifacts {
		ac := ArtifactContext{Ref: ref}
		if e.arts != nil {
			if fp, ok := e.arts.Fingerprint(ref); ok {
				ac.Fingerprint = fp
				ac.Recorded = true
			}
		}
		arts = append(arts, ac)
	}

	approvals := make([]ApprovalContext, 0, len(d.ExecutedBy))
	for _, a := range d.ExecutedBy {
		approvals = append(approvals, ApprovalContext{
			Role:              a.Role,
			ActorID:           a.ActorID,
			ApprovalTimestamp: d.CreatedAt,
		})
	}

	out := &ReplayResult{
		DecisionID:     d.DecisionID,
		DecisionType:   d.DecisionType,
		ProjectID:      d.ProjectID,
		SystemID:       d.SystemID,
		UseCase:        d.UseCase,
		Status:         d.Status,
		Artifacts:      arts,
		Accountability: approvals,
		RuleSetVersion: d.RuleSetVersion,
		ContextHash:    d.ContextHash,
	}
	if rec, ok := e.ledger.FindByContent("decision_id", decisionID); ok {
		out.Sealed = true
		out.SealedAt = rec.Timestamp
		out.EvidenceID = rec.ID
	}
	return out, nil
}

// VerifyResult reports the three independent checks for a decision id.
type VerifyResult struct {
	DecisionID     string `json:"eve_decision_id"`
	DecisionExists bool   `json:"decision_exists"`
	EvidenceSealed bool   `json:"vault_exists"`
	Status         string `json:"status"`
	OverallValid   bool   `json:"overall_valid"`
}

// Verify reports whether the decision exists, whether a matching evidence
// seal exists, and the decision's status. OverallValid is true only when
// every check passes.
func (e *Engine) Verify(ctx context.Context, decisionID string) (*VerifyResult, error) {
	if !ValidDecisionID(decisionID) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDecisionID, decisionID)
	}

	out := &VerifyResult{DecisionID: decisionID, Status: "NOT_FOUND"}
	d, err := e.store.GetDecision(ctx, decisionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if d != nil {
		out.DecisionExists = true
		out.Status = string(d.Status)
	}
	if _, ok := e.ledger.FindByContent("decision_id", decisionID); ok {
		out.EvidenceSealed = true
	}
	out.OverallValid = out.DecisionExists && out.EvidenceSealed
	return out, nil
}

// Get returns one decision by id.
func (e *Engine) Get(ctx context.Context, decisionID string) (*store.Decision, error) {
	if !ValidDecisionID(decisionID) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDecisionID, decisionID)
	}
	d, err := e.store.GetDecision(ctx, decisionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrDecisionNotFound, decisionID)
		}
		return nil, err
	}
	return d, nil
}
