package ecl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTextDecision(t *testing.T) {
	input := `EVE CLASSIFY SYSTEM acme-sys
USE_CASE "Customer onboarding scoring"
ARTIFACTS CDOC-SCOPE-1, CDOC-CLASS-1
RISK_LINKS RISK-9, RISK-12
SIGNOFF Compliance Owner:joakim, System Owner:maria
PROJECT alpha
`
	res := Parse(input)
	require.True(t, res.Success, "errors: %v", res.Errors)

	inst := res.Instruction
	assert.Equal(t, VerbClassify, inst.Verb)
	assert.Equal(t, "acme-sys", inst.SystemID)
	assert.Equal(t, "Customer onboarding scoring", inst.UseCase)
	assert.Equal(t, []string{"CDOC-SCOPE-1", "CDOC-CLASS-1"}, inst.Artifacts)
	assert.Equal(t, []string{"RISK-9", "RISK-12"}, inst.RiskLinks)
	assert.Equal(t, []Signoff{
		{Role: "Compliance Owner", ActorID: "joakim"},
		{Role: "System Owner", ActorID: "maria"},
	}, inst.Signoff)
	assert.Equal(t, "alpha", inst.ProjectID)
}

func TestParseTextUnquotedUseCase(t *testing.T) {
	res := Parse("EVE CLASSIFY SYSTEM s1\nUSE_CASE plain text here")
	require.True(t, res.Success)
	assert.Equal(t, "plain text here", res.Instruction.UseCase)
}

func TestParseTextSupersedes(t *testing.T) {
	res := Parse("EVE APPROVE_CHANGE SYSTEM s1\nSUPERSEDES EVE-2026-000001")
	require.True(t, res.Success)
	assert.Equal(t, "EVE-2026-000001", res.Instruction.Supersedes)
}

func TestParseTextReadVerbs(t *testing.T) {
	res := Parse("EVE REPLAY DECISION EVE-2026-000002")
	require.True(t, res.Success)
	assert.Equal(t, VerbReplay, res.Instruction.Verb)
	assert.Equal(t, "EVE-2026-000002", res.Instruction.DecisionID)

	// Read verbs need no system id.
	res = Parse("EVE QUERY")
	require.True(t, res.Success)
}

func TestParseTextMissingSystemID(t *testing.T) {
	res := Parse("EVE CLASSIFY\nUSE_CASE \"x\"")
	require.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "SYSTEM")
}

func TestParseTextUnknownVerb(t *testing.T) {
	res := Parse("EVE FROBNICATE SYSTEM s1")
	require.False(t, res.Success)
	assert.Contains(t, res.Errors[0], "unknown command")
}

func TestParseTextMissingKeyword(t *testing.T) {
	res := Parse("CLASSIFY SYSTEM s1")
	require.False(t, res.Success)

	res = Parse("")
	require.False(t, res.Success)
	assert.Contains(t, res.Errors[0], "empty")
}

func TestParseStructured(t *testing.T) {
	res := Parse(`{
		"command": "accept_risk",
		"system_id": "acme-sys",
		"artifacts": ["CDOC-RISK-1", "CDOC-MITIGATION-1"],
		"risk_links": ["RISK-4"],
		"signoff": [{"role": "Risk Owner", "actor_id": "sam"}],
		"project_id": "beta"
	}`)
	require.True(t, res.Success, "errors: %v", res.Errors)
	assert.Equal(t, VerbAcceptRisk, res.Instruction.Verb)
	assert.Equal(t, "beta", res.Instruction.ProjectID)
}

func TestParseStructuredQueryFilters(t *testing.T) {
	res := Parse(`{"command": "QUERY", "filters": {"status": "EXECUTED", "project_id": "alpha"}}`)
	require.True(t, res.Success)
	assert.Equal(t, "EXECUTED", res.Instruction.Filters.Status)
	assert.Equal(t, "alpha", res.Instruction.Filters.ProjectID)
}

func TestParseStructuredMissingSystemID(t *testing.T) {
	res := Parse(`{"command": "CLASSIFY"}`)
	require.False(t, res.Success)
	assert.Contains(t, res.Errors[0], "SYSTEM")
}

func TestVerbClosedSets(t *testing.T) {
	for _, v := range DecisionVerbs() {
		assert.True(t, v.IsDecision())
		assert.False(t, v.IsRead())
		_, ok := v.DecisionType()
		assert.True(t, ok)
	}
	for _, v := range ReadVerbs() {
		assert.True(t, v.IsRead())
		assert.False(t, v.IsDecision())
	}
}
