// Package ecl implements the EVE Command Language: the closed set of decision
// and read verbs, the normalized instruction shape, and the deterministic
// parser for the line-oriented text form and the structured JSON form.
package ecl

// Verb is an ECL command verb. The set is closed: adding a verb requires
// updating the tables in this package and the rule table in pkg/rules.
type Verb string

const (
	VerbClassify          Verb = "CLASSIFY"
	VerbApproveGovernance Verb = "APPROVE_GOVERNANCE"
	VerbAcceptRisk        Verb = "ACCEPT_RISK"
	VerbApproveData       Verb = "APPROVE_DATA"
	VerbApproveChange     Verb = "APPROVE_CHANGE"
	VerbIncidentAction    Verb = "INCIDENT_ACTION"
	VerbDecommission      Verb = "DECOMMISSION"

	VerbQuery  Verb = "QUERY"
	VerbReplay Verb = "REPLAY"
	VerbVerify Verb = "VERIFY"
)

// DecisionType tags the persisted decision record produced by a decision verb.
type DecisionType string

const (
	TypeClassification     DecisionType = "CLASSIFICATION"
	TypeGovernanceApproval DecisionType = "GOVERNANCE_APPROVAL"
	TypeRiskAcceptance     DecisionType = "RISK_ACCEPTANCE"
	TypeDataApproval       DecisionType = "DATA_APPROVAL"
	TypeChangeApproval     DecisionType = "CHANGE_APPROVAL"
	TypeIncidentAction     DecisionType = "INCIDENT_ACTION"
	TypeDecommission       DecisionType = "DECOMMISSION"
)

var decisionTypes = map[Verb]DecisionType{
	VerbClassify:          TypeClassification,
	VerbApproveGovernance: TypeGovernanceApproval,
	VerbAcceptRisk:        TypeRiskAcceptance,
	VerbApproveData:       TypeDataApproval,
	VerbApproveChange:     TypeChangeApproval,
	VerbIncidentAction:    TypeIncidentAction,
	VerbDecommission:      TypeDecommission,
}

// DecisionVerbs returns the decision verbs in declaration order.
func DecisionVerbs() []Verb {
	return []Verb{
		VerbClassify, VerbApproveGovernance, VerbAcceptRisk, VerbApproveData,
		VerbApproveChange, VerbIncidentAction, VerbDecommission,
	}
}

// ReadVerbs returns the read-only verbs.
func ReadVerbs() []Verb {
	return []Verb{VerbQuery, VerbReplay, VerbVerify}
}

// IsDecision reports whether v is a decision (write) verb.
func (v Verb) IsDecision() bool {
	_, ok := decisionTypes[v]
	return ok
}

// IsRead reports whether v is a read-only verb.
func (v Verb) IsRead() bool {
	return v == VerbQuery || v == VerbReplay || v == VerbVerify
}

// DecisionType maps a decision verb to its persisted decision type.
// The second return is false for read verbs.
func (v Verb) DecisionType() (DecisionType, bool) {
	dt, ok := decisionTypes[v]
	return dt, ok
}

// Signoff is one (role, actor) accountability pair.
type Signoff struct {
	Role    string `json:"role"`
	ActorID string `json:"actor_id"`
}

// Filters narrows a QUERY. Empty fields match everything.
type Filters struct {
	DecisionType string `json:"decision_type,omitempty"`
	Status       string `json:"status,omitempty"`
	SystemID     string `json:"system_id,omitempty"`
	ProjectID    string `json:"project_id,omitempty"`
}

// Instruction is the normalized, transient form every parsed command
// converges on. Caller-supplied lists keep their order and duplicates.
type Instruction struct {
	Verb       Verb      `json:"verb"`
	SystemID   string    `json:"system_id,omitempty"`
	UseCase    string    `json:"use_case,omitempty"`
	Artifacts  []string  `json:"artifacts,omitempty"`
	RiskLinks  []string  `json:"risk_links,omitempty"`
	Signoff    []Signoff `json:"signoff,omitempty"`
	ProjectID  string    `json:"project_id,omitempty"`
	DecisionID string    `json:"decision_id,omitempty"`
	Supersedes string    `json:"supersedes,omitempty"`
	Filters    Filters   `json:"filters,omitempty"`
}

// ParseResult carries either a normalized instruction or the parse errors.
type ParseResult struct {
	Success     bool         `json:"success"`
	Instruction *Instruction `json:"instruction,omitempty"`
	Errors      []string     `json:"errors,omitempty"`
}
