// Package registry holds the founder-approved trust registry: who may
// verify decisions, and under which roles.
//
// Security model: the founder is the root of trust, the CanVerify flag is
// set only by the founder, nobody escalates themselves, and grant/revoke
// events append to a WORM audit log that is never pruned.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	ErrApproverNotFound = errors.New("registry: approver not found")
	ErrDuplicate        = errors.New("registry: approver already registered")
	ErrNotFounder       = errors.New("registry: only the founder can grant or revoke verification access")
)

// IdentityStrength grades how the approver's identity was established.
// Strength can be raised later without workflow changes; prior decisions
// stay valid.
type IdentityStrength string

const (
	IdentityFounderApproved IdentityStrength = "founder_approved"
	IdentityOrganizationIDP IdentityStrength = "organization_idp"
	IdentityBankIDSE        IdentityStrength = "bankid_se"
	IdentityEIDASHigh       IdentityStrength = "eidas_high"
)

// Role is an approver role. Holding a role is never sufficient on its own;
// verification additionally requires the CanVerify flag.
type Role string

const (
	// RoleFounder marks the root of trust. Founders may sign in any role.
	RoleFounder Role = "founder"

	// Signoff roles, spelled exactly as decision rules require them.
	RoleComplianceOwner       Role = "Compliance Owner"
	RoleLegalCounsel          Role = "Legal Counsel"
	RoleBoardMember           Role = "Board Member"
	RoleRiskOwner             Role = "Risk Owner"
	RoleDataProtectionOfficer Role = "Data Protection Officer"
	RoleSystemOwner           Role = "System Owner"
	RoleIncidentManager       Role = "Incident Manager"
)

// Approver is one registered person.
type Approver struct {
	ApproverID       string           `json:"approver_id"`
	Name             string           `json:"name"`
	Email            string           `json:"email"`
	Roles            []Role           `json:"roles"`
	IdentityStrength IdentityStrength `json:"identity_strength"`
	CanVerify        bool             `json:"can_verify"`
	GrantedBy        string           `json:"granted_by"`
	GrantedAt        time.Time        `json:"granted_at"`
	Active           bool             `json:"active"`
	Notes            string           `json:"notes,omitempty"`
}

// AuditEntry is one WORM log record.
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail"`
	Target    string    `json:"target"`
	Actor     string    `json:"actor"`
}

// FounderID is the bootstrap root of trust.
const FounderID = "key:founder"

// Registry is the thread-safe in-memory approver registry, bootstrapped
// with the founder on construction.
type Registry struct {
	mu        sync.RWMutex
	approvers map[string]*Approver
	auditLog  []AuditEntry
	clock     func() time.Time
}

// New bootstraps a registry with the founder as root of trust. This is the
// only self-approving operation in the system.
func New(founderName, founderEmail string) *Registry {
	r := &Registry{
		approvers: make(map[string]*Approver),
		clock:     time.Now,
	}
	founder := &Approver{
		ApproverID:       FounderID,
		Name:             founderName,
		Email:            founderEmail,
		Roles:            []Role{RoleFounder},
		IdentityStrength: IdentityFounderApproved,
		CanVerify:        true,
		GrantedBy:        "BOOTSTRAP",
		GrantedAt:        r.clock().UTC(),
		Active:           true,
		Notes:            "root of trust",
	}
	r.approvers[FounderID] = founder
	r.logAudit("BOOTSTRAP", "FOUNDER_CREATED", FounderID, "SYSTEM")
	return r
}

// WithClock overrides the clock for testing.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.clock = clock
	return r
}

func (r *Registry) logAudit(action, detail, target, actor string) {
	r.auditLog = append(r.auditLog, AuditEntry{
		Timestamp: r.clock().UTC(),
		Action:    action,
		Detail:    detail,
		Target:    target,
		Actor:     actor,
	})
}

func approverID(prefix, email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(email)))
	return prefix + ":" + hex.EncodeToString(sum[:])[:12]
}

// Grant registers a new approver with verification access. Only the founder
// (or an approver holding the founder role) can grant; denied attempts are
// still logged.
func (r *Registry) Grant(name, email string, roles []Role, grantedByID, notes string) (*Approver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isFounderLocked(grantedByID) {
		r.logAudit("DENIED", "VERIFY_ACCESS_ATTEMPT_BY_NON_FOUNDER", email, grantedByID)
		return nil, fmt.Errorf("%w: %s", ErrNotFounder, grantedByID)
	}

	id := approverID("key", email)
	if _, ok := r.approvers[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, email)
	}

	a := &Approver{
		ApproverID:       id,
		Name:             name,
		Email:            email,
		Roles:            roles,
		IdentityStrength: IdentityFounderApproved,
		CanVerify:        true,
		GrantedBy:        grantedByID,
		GrantedAt:        r.clock().UTC(),
		Active:           true,
		Notes:            notes,
	}
	r.approvers[id] = a
	r.logAudit("GRANT", "VERIFY_ACCESS", id, grantedByID)
	return a, nil
}

// AddUser registers a user without verification access. Anyone may be
// registered this way; verification stays blocked until the founder grants it.
func (r *Registry) AddUser(name, email string, roles []Role) (*Approver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := approverID("user", email)
	if _, ok := r.approvers[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, email)
	}

	a := &Approver{
		ApproverID:       id,
		Name:             name,
		Email:            email,
		Roles:            roles,
		IdentityStrength: IdentityFounderApproved,
		CanVerify:        false,
		GrantedBy:        "SELF_REGISTRATION",
		GrantedAt:        r.clock().UTC(),
		Active:           true,
	}
	r.approvers[id] = a
	r.logAudit("REGISTER", "USER", id, "SELF_REGISTRATION")
	return a, nil
}

// Revoke withdraws verification access. The approver stays in the registry
// (WORM) but can no longer verify. Only the founder can revoke.
func (r *Registry) Revoke(approverID, revokedByID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isFounderLocked(revokedByID) {
		r.logAudit("DENIED", "REVOKE_ATTEMPT_BY_NON_FOUNDER", approverID, revokedByID)
		return fmt.Errorf("%w: %s", ErrNotFounder, revokedByID)
	}
	a, ok := r.approvers[approverID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrApproverNotFound, approverID)
	}
	a.CanVerify = false
	r.logAudit("REVOKE", "VERIFY_ACCESS: "+reason, approverID, revokedByID)
	return nil
}

func (r *Registry) isFounderLocked(id string) bool {
	if id == FounderID {
		return true
	}
	a, ok := r.approvers[id]
	if !ok {
		return false
	}
	for _, role := range a.Roles {
		if role == RoleFounder {
			return true
		}
	}
	return false
}

// CanVerify reports whether the approver exists, is active and holds an
// explicit verification grant. Being registered is not enough.
func (r *Registry) CanVerify(approverID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.approvers[approverID]
	return ok && a.Active && a.CanVerify
}

// Authorized reports whether the approver both may verify and holds the
// given role. Both conditions are required. An approver holding the founder
// role is authorized for every role.
func (r *Registry) Authorized(approverID string, role Role) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.approvers[approverID]
	if !ok || !a.Active || !a.CanVerify {
		return false
	}
	for _, have := range a.Roles {
		if have == role || have == RoleFounder {
			return true
		}
	}
	return false
}

// Get returns the approver with the given id.
func (r *Registry) Get(approverID string) (*Approver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.approvers[approverID]
	if !ok {
		return nil, ErrApproverNotFound
	}
	cp := *a
	return &cp, nil
}

// Verifiers lists all active approvers with verification access.
func (r *Registry) Verifiers() []*Approver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Approver
	for _, a := range r.approvers {
		if a.Active && a.CanVerify {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out
}

// TrustChain walks granted_by links from the approver back to the bootstrap
// root.
func (r *Registry) TrustChain(approverID string) []*Approver {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var chain []*Approver
	current := approverID
	for current != "" && current != "BOOTSTRAP" && current != "SELF_REGISTRATION" {
		a, ok := r.approvers[current]
		if !ok {
			break
		}
		cp := *a
		chain = append(chain, &cp)
		current = a.GrantedBy
	}
	return chain
}

// AuditLog returns a copy of the append-only event log.
func (r *Registry) AuditLog() []AuditEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]AuditEntry(nil), r.auditLog...)
}
