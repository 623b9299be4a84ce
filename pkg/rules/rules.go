// Package rules holds the static per-verb authorization rule table and the
// validator that checks a parsed instruction against it.
//
// The table is code, not configuration: changing a requirement changes the
// rule-set version recorded on every decision validated after the change.
package rules

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/organiq/eve-core/pkg/canonical"
	"github.com/organiq/eve-core/pkg/ecl"
)

// RiskLinkMode controls whether a verb demands risk links.
type RiskLinkMode string

const (
	RiskLinksNone        RiskLinkMode = "none"
	RiskLinksRequired    RiskLinkMode = "required"
	RiskLinksConditional RiskLinkMode = "conditional" // warn when absent
)

// ArtifactRequirement demands at least MinCount supporting references whose
// id starts with Prefix (case-insensitive).
type ArtifactRequirement struct {
	Prefix   string `json:"prefix"`
	MinCount int    `json:"min_count"`
}

// Rule is the requirement set for one decision verb.
type Rule struct {
	RequiredArtifacts []ArtifactRequirement `json:"required_artifacts"`
	RequiredRoles     []string              `json:"required_roles"`
	RiskLinks         RiskLinkMode          `json:"risk_links"`
}

// table is keyed by decision verb. Read verbs have no entry and are always valid.
var table = map[ecl.Verb]Rule{
	ecl.VerbClassify: {
		RequiredArtifacts: []ArtifactRequirement{{"CDOC-SCOPE", 1}, {"CDOC-CLASS", 1}},
		RequiredRoles:     []string{"Compliance Owner"},
		RiskLinks:         RiskLinksNone,
	},
	ecl.VerbApproveGovernance: {
		RequiredArtifacts: []ArtifactRequirement{{"CDOC-ROLES", 1}, {"CDOC-MANDATE", 1}},
		RequiredRoles:     []string{"Legal Counsel", "Board Member"},
		RiskLinks:         RiskLinksNone,
	},
	ecl.VerbAcceptRisk: {
		RequiredArtifacts: []ArtifactRequirement{{"CDOC-RISK", 1}, {"CDOC-MITIGATION", 1}},
		RequiredRoles:     []string{"Risk Owner", "Compliance Owner"},
		RiskLinks:         RiskLinksRequired,
	},
	ecl.VerbApproveData: {
		RequiredArtifacts: []ArtifactRequirement{{"CDOC-DATA", 1}, {"CDOC-QUALITY", 1}},
		RequiredRoles:     []string{"Data Protection Officer"},
		RiskLinks:         RiskLinksNone,
	},
	ecl.VerbApproveChange: {
		RequiredArtifacts: []ArtifactRequirement{{"CDOC-CHANGE", 1}, {"CDOC-IMPACT", 1}},
		RequiredRoles:     []string{"System Owner", "Compliance Owner"},
		RiskLinks:         RiskLinksConditional,
	},
	ecl.VerbIncidentAction: {
		RequiredArtifacts: []ArtifactRequirement{{"CDOC-INCIDENT", 1}, {"CDOC-ACTION", 1}},
		RequiredRoles:     []string{"Incident Manager"},
		RiskLinks:         RiskLinksRequired,
	},
	ecl.VerbDecommission: {
		RequiredArtifacts: []ArtifactRequirement{{"CDOC-DECOM", 1}, {"CDOC-ARCHIVE", 1}},
		RequiredRoles:     []string{"System Owner", "Legal Counsel"},
		RiskLinks:         RiskLinksNone,
	},
}

const baseVersion = "1.0"

// Version returns the rule-set version recorded on every decision:
// "eve-ruleset-v<semver>-<8 hex chars of the canonical table hash>".
// The hash part changes whenever any table entry changes.
func Version() string {
	v := semver.MustParse(baseVersion)
	hashable := make(map[string]Rule, len(table))
	for verb, rule := range table {
		hashable[string(verb)] = rule
	}
	h, err := canonical.Hash(hashable)
	if err != nil {
		// The table is static and always canonicalizable.
		panic(fmt.Sprintf("rules: table hash failed: %v", err))
	}
	return fmt.Sprintf("eve-ruleset-v%s-%s", v.String(), h[:8])
}

// Result is the outcome of validating one instruction. Errors block
// execution; warnings do not.
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Validate checks a parsed instruction against the rule table. Read
// instructions are always valid. Caller-supplied lists are never reordered
// or deduplicated; every violated rule is reported, not just the first.
func Validate(inst *ecl.Instruction) Result {
	if inst.Verb.IsRead() {
		return Result{Valid: true}
	}

	rule, ok := table[inst.Verb]
	if !ok {
		return Result{Valid: false, Errors: []string{fmt.Sprintf("unknown decision command: %s", inst.Verb)}}
	}

	var errs, warnings []string

	if inst.SystemID == "" {
		errs = append(errs, fmt.Sprintf("%s requires system_id", inst.Verb))
	}

	for _, req := range rule.RequiredArtifacts {
		count := 0
		for _, a := range inst.Artifacts {
			if strings.HasPrefix(strings.ToUpper(a), strings.ToUpper(req.Prefix)) {
				count++
			}
		}
		if count < req.MinCount {
			errs = append(errs, fmt.Sprintf("%s requires %d artifact(s) with prefix %q, found %d",
				inst.Verb, req.MinCount, req.Prefix, count))
		}
	}

	for _, role := range rule.RequiredRoles {
		found := false
		for _, s := range inst.Signoff {
			if s.Role == role {
				found = true
				break
			}
		}
		if !found {
			errs = append(errs, fmt.Sprintf("%s requires signoff from %q", inst.Verb, role))
		}
	}

	switch rule.RiskLinks {
	case RiskLinksRequired:
		if len(inst.RiskLinks) == 0 {
			errs = append(errs, fmt.Sprintf("%s requires at least one risk_link", inst.Verb))
		}
	case RiskLinksConditional:
		if len(inst.RiskLinks) == 0 {
			warnings = append(warnings, fmt.Sprintf("%s may require risk_links depending on impact", inst.Verb))
		}
	}

	if inst.UseCase == "" {
		warnings = append(warnings, fmt.Sprintf("%s should include use_case for traceability", inst.Verb))
	}

	return Result{Valid: len(errs) == 0, Errors: errs, Warnings: warnings}
}

// Lookup exposes the rule for a verb, for introspection endpoints.
func Lookup(verb ecl.Verb) (Rule, bool) {
	r, ok := table[verb]
	return r, ok
}
