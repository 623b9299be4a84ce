package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/organiq/eve-core/pkg/api/problem"
	"github.com/organiq/eve-core/pkg/artifacts"
	"github.com/organiq/eve-core/pkg/audit"
	"github.com/organiq/eve-core/pkg/auth"
	"github.com/organiq/eve-core/pkg/ecl"
	"github.com/organiq/eve-core/pkg/engine"
	"github.com/organiq/eve-core/pkg/projects"
	"github.com/organiq/eve-core/pkg/registry"
	"github.com/organiq/eve-core/pkg/rules"
	"github.com/organiq/eve-core/pkg/vault"
)

const maxBodyBytes = 1 << 20 // 1MB limit

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeEngineError maps engine sentinels onto problem responses.
func writeEngineError(w http.ResponseWriter, err error) {
	var verr *engine.ValidationError
	switch {
	case errors.As(err, &verr):
		problem.WriteValidation(w, verr.Errors)
	case errors.Is(err, engine.ErrInvalidDecisionID):
		problem.WriteBadRequest(w, err.Error())
	case errors.Is(err, engine.ErrDecisionNotFound):
		problem.WriteNotFound(w, err.Error())
	case errors.Is(err, engine.ErrNotExecuted):
		problem.WriteConflict(w, err.Error())
	case errors.Is(err, engine.ErrNotDecision):
		problem.WriteBadRequest(w, err.Error())
	default:
		problem.WriteInternal(w, err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		problem.WriteMethodNotAllowed(w)
		return
	}
	writeJSON(w, map[string]interface{}{
		"service":          "eve-core",
		"version":          Version,
		"rule_set_version": rules.Version(),
		"merkle_root":      s.ledger.Root(),
		"vault":            s.ledger.Stats(),
		"projects":         s.projects.Count(),
	})
}

// handleExecute accepts raw ECL input as the request body: either the
// line-oriented text form or the structured JSON form.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		problem.WriteMethodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		problem.WriteBadRequest(w, "failed to read request body")
		return
	}

	parsed := ecl.Parse(string(body))
	if !parsed.Success {
		problem.WriteFull(w, &problem.Detail{
			Title:  "Parse Failed",
			Status: http.StatusBadRequest,
			Detail: "the instruction could not be parsed",
			Errors: parsed.Errors,
		})
		return
	}

	result, err := s.engine.Execute(r.Context(), parsed.Instruction)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	_ = s.auditLog.Record(r.Context(), audit.EventMutation, "execute_ecl", "decision", map[string]interface{}{
		"decision_id": result.DecisionID,
		"verb":        string(parsed.Instruction.Verb),
	})
	if s.obs != nil {
		dt, _ := parsed.Instruction.Verb.DecisionType()
		s.obs.RecordDecision(r.Context(), string(parsed.Instruction.Verb), string(dt))
	}

	writeJSON(w, result)
}

// handleValidate runs parse and rule validation without executing.
// It always answers 200 with the validation outcome.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		problem.WriteMethodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		problem.WriteBadRequest(w, "failed to read request body")
		return
	}

	parsed := ecl.Parse(string(body))
	if !parsed.Success {
		writeJSON(w, rules.Result{Valid: false, Errors: parsed.Errors})
		return
	}

	writeJSON(w, s.engine.ValidateOnly(parsed.Instruction))
}

type decisionIDRequest struct {
	DecisionID string `json:"decision_id"`
}

func decodeDecisionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req decisionIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.WriteBadRequest(w, "Invalid request body")
		return "", false
	}
	if req.DecisionID == "" {
		problem.WriteBadRequest(w, "Missing required field: decision_id")
		return "", false
	}
	return req.DecisionID, true
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		problem.WriteMethodNotAllowed(w)
		return
	}
	id, ok := decodeDecisionID(w, r)
	if !ok {
		return
	}

	result, err := s.engine.Verify(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, result)
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		problem.WriteMethodNotAllowed(w)
		return
	}
	id, ok := decodeDecisionID(w, r)
	if !ok {
		return
	}

	result, err := s.engine.Replay(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, result)
}

type exportRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// handleExport streams a zip audit pack for the requested window.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		problem.WriteMethodNotAllowed(w)
		return
	}
	if s.exporter == nil {
		problem.Write(w, http.StatusServiceUnavailable, "Export Unavailable", "audit export is not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.Start.IsZero() || req.End.IsZero() {
		problem.WriteBadRequest(w, "Missing required fields: start, end")
		return
	}

	zipBytes, checksum, err := s.exporter.GeneratePack(req.Start, req.End)
	if err != nil {
		if errors.Is(err, vault.ErrInvalidWindow) || errors.Is(err, audit.ErrWindowTooLarge) {
			problem.WriteBadRequest(w, err.Error())
			return
		}
		problem.WriteInternal(w, err)
		return
	}

	_ = s.auditLog.Record(r.Context(), audit.EventAccess, "export", "audit_pack", map[string]interface{}{
		"checksum": checksum,
		"start":    req.Start.Format(time.RFC3339),
		"end":      req.End.Format(time.RFC3339),
	})

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="eve-audit-pack-%s.zip"`, time.Now().UTC().Format("20060102")))
	w.Header().Set("X-Content-Sha256", checksum)
	_, _ = w.Write(zipBytes)
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		problem.WriteMethodNotAllowed(w)
		return
	}

	q := r.URL.Query()
	decisions, err := s.engine.Query(r.Context(), ecl.Filters{
		DecisionType: q.Get("decision_type"),
		Status:       q.Get("status"),
		SystemID:     q.Get("system_id"),
		ProjectID:    q.Get("project_id"),
	})
	if err != nil {
		problem.WriteInternal(w, err)
		return
	}

	writeJSON(w, map[string]interface{}{
		"decisions": decisions,
		"count":     len(decisions),
	})
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		problem.WriteMethodNotAllowed(w)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/decision/")
	if id == "" {
		problem.WriteBadRequest(w, "Missing decision id")
		return
	}

	d, err := s.engine.Get(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, d)
}

func (s *Server) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		problem.WriteMethodNotAllowed(w)
		return
	}
	if s.arts == nil {
		writeJSON(w, map[string]interface{}{"artifacts": []interface{}{}, "count": 0})
		return
	}

	list := s.arts.List()
	writeJSON(w, map[string]interface{}{
		"artifacts": list,
		"count":     len(list),
	})
}

type artifactCreateRequest struct {
	Ref     string                 `json:"ref"`
	Type    artifacts.Type         `json:"type"`
	Title   string                 `json:"title"`
	Author  string                 `json:"author"`
	Content map[string]interface{} `json:"content"`
}

func (s *Server) handleArtifactCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		problem.WriteMethodNotAllowed(w)
		return
	}
	if s.arts == nil {
		problem.Write(w, http.StatusServiceUnavailable, "Artifacts Unavailable", "artifact store is not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req artifactCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.WriteBadRequest(w, "Invalid request body")
		return
	}

	a, err := s.arts.Create(req.Ref, req.Type, req.Title, req.Author, req.Content)
	if err != nil {
		if errors.Is(err, artifacts.ErrDuplicateRef) {
			problem.WriteConflict(w, err.Error())
			return
		}
		problem.WriteBadRequest(w, err.Error())
		return
	}

	_ = s.auditLog.Record(r.Context(), audit.EventMutation, "artifact_create", "artifact", map[string]interface{}{
		"ref": a.Ref,
	})

	writeJSON(w, a)
}

type artifactProposeRequest struct {
	Ref string `json:"ref"`
}

func (s *Server) handleArtifactPropose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		problem.WriteMethodNotAllowed(w)
		return
	}
	if s.arts == nil {
		problem.Write(w, http.StatusServiceUnavailable, "Artifacts Unavailable", "artifact store is not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req artifactProposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Ref == "" {
		problem.WriteBadRequest(w, "Missing required field: ref")
		return
	}

	a, err := s.arts.Propose(req.Ref)
	if err != nil {
		switch {
		case errors.Is(err, artifacts.ErrNotFound):
			problem.WriteNotFound(w, err.Error())
		case errors.Is(err, artifacts.ErrBadTransition):
			problem.WriteConflict(w, err.Error())
		default:
			problem.WriteBadRequest(w, err.Error())
		}
		return
	}

	_ = s.auditLog.Record(r.Context(), audit.EventMutation, "artifact_propose", "artifact", map[string]interface{}{
		"ref":         a.Ref,
		"fingerprint": a.Fingerprint,
	})

	writeJSON(w, a)
}

type grantRequest struct {
	Name  string          `json:"name"`
	Email string          `json:"email"`
	Roles []registry.Role `json:"roles"`
	Notes string          `json:"notes,omitempty"`
}

// handleApprovers lists active verifiers and, for the founder, grants new
// approvers. The acting identity is the authenticated principal.
func (s *Server) handleApprovers(w http.ResponseWriter, r *http.Request) {
	if s.trust == nil {
		problem.Write(w, http.StatusServiceUnavailable, "Registry Unavailable", "approver registry is not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		list := s.trust.Verifiers()
		writeJSON(w, map[string]interface{}{
			"approvers": list,
			"count":     len(list),
		})
	case http.MethodPost:
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req grantRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			problem.WriteBadRequest(w, "Invalid request body")
			return
		}
		if req.Name == "" || req.Email == "" || len(req.Roles) == 0 {
			problem.WriteBadRequest(w, "Missing required fields: name, email, roles")
			return
		}

		a, err := s.trust.Grant(req.Name, req.Email, req.Roles, auth.ActorID(r.Context()), req.Notes)
		if err != nil {
			switch {
			case errors.Is(err, registry.ErrNotFounder):
				problem.WriteForbidden(w, err.Error())
			case errors.Is(err, registry.ErrDuplicate):
				problem.WriteConflict(w, err.Error())
			default:
				problem.WriteBadRequest(w, err.Error())
			}
			return
		}

		_ = s.auditLog.Record(r.Context(), audit.EventMutation, "registry_grant", "approver", map[string]interface{}{
			"approver_id": a.ApproverID,
			"roles":       a.Roles,
		})
		writeJSON(w, a)
	default:
		problem.WriteMethodNotAllowed(w)
	}
}

type revokeRequest struct {
	ApproverID string `json:"approver_id"`
	Reason     string `json:"reason,omitempty"`
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		problem.WriteMethodNotAllowed(w)
		return
	}
	if s.trust == nil {
		problem.Write(w, http.StatusServiceUnavailable, "Registry Unavailable", "approver registry is not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ApproverID == "" {
		problem.WriteBadRequest(w, "Missing required field: approver_id")
		return
	}

	if err := s.trust.Revoke(req.ApproverID, auth.ActorID(r.Context()), req.Reason); err != nil {
		switch {
		case errors.Is(err, registry.ErrNotFounder):
			problem.WriteForbidden(w, err.Error())
		case errors.Is(err, registry.ErrApproverNotFound):
			problem.WriteNotFound(w, err.Error())
		default:
			problem.WriteBadRequest(w, err.Error())
		}
		return
	}

	_ = s.auditLog.Record(r.Context(), audit.EventMutation, "registry_revoke", "approver", map[string]interface{}{
		"approver_id": req.ApproverID,
		"reason":      req.Reason,
	})
	writeJSON(w, map[string]interface{}{
		"approver_id": req.ApproverID,
		"revoked":     true,
	})
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		problem.WriteMethodNotAllowed(w)
		return
	}
	list := s.projects.List()
	writeJSON(w, map[string]interface{}{
		"projects": list,
		"count":    len(list),
	})
}

func (s *Server) handleProject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		problem.WriteMethodNotAllowed(w)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/projects/")
	meta, err := s.projects.Get(id)
	if err != nil {
		if errors.Is(err, projects.ErrNotFound) {
			problem.WriteNotFound(w, err.Error())
			return
		}
		problem.WriteBadRequest(w, err.Error())
		return
	}
	writeJSON(w, meta)
}
