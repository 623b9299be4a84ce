package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/organiq/eve-core/pkg/api"
	"github.com/organiq/eve-core/pkg/artifacts"
	"github.com/organiq/eve-core/pkg/audit"
	"github.com/organiq/eve-core/pkg/auth"
	"github.com/organiq/eve-core/pkg/crypto"
	"github.com/organiq/eve-core/pkg/engine"
	"github.com/organiq/eve-core/pkg/registry"
	"github.com/organiq/eve-core/pkg/store"
	"github.com/organiq/eve-core/pkg/vault"
)

var testSecret = []byte("test-secret")

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	signer, err := crypto.NewEd25519Signer("test")
	require.NoError(t, err)
	ledger := vault.New(signer)

	arts := artifacts.NewStore()
	eng := engine.New(store.NewMemoryStore(), ledger, engine.WithArtifacts(arts))

	srv := api.NewServer(eng, ledger,
		api.WithArtifacts(arts),
		api.WithExporter(audit.NewExporter(ledger)),
		api.WithRegistry(registry.New("Founder", "founder@example.com")),
		api.WithValidator(auth.NewHMACValidator(testSecret)),
	)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func bearerToken(t *testing.T, sub string) string {
	t.Helper()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "eve-test",
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return token
}

func doAs(t *testing.T, ts *httptest.Server, sub, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+bearerToken(t, sub))
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func doAuthed(t *testing.T, ts *httptest.Server, method, path, body string) *http.Response {
	t.Helper()
	return doAs(t, ts, "user-1", method, path, body)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

const classifyCmd = `EVE CLASSIFY SYSTEM crm-scoring
USE_CASE "Lead scoring for B2B sales"
ARTIFACTS CDOC-SCOPE-001, CDOC-CLASS-001
SIGNOFF Compliance Owner:anna.svensson`

func TestHealthIsPublic(t *testing.T) {
	ts := newTestServer(t)
	resp, err := ts.Client().Get(ts.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestExecuteRequiresAuth(t *testing.T) {
	ts := newTestServer(t)
	resp, err := ts.Client().Post(ts.URL+"/execute_ecl", "text/plain", strings.NewReader(classifyCmd))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
}

func TestExecuteTextCommand(t *testing.T) {
	ts := newTestServer(t)

	resp := doAuthed(t, ts, http.MethodPost, "/execute_ecl", classifyCmd)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	id, _ := body["eve_decision_id"].(string)
	assert.Regexp(t, `^EVE-\d{4}-\d{6}$`, id)
	assert.NotEmpty(t, body["context_hash"])
	assert.NotEmpty(t, body["merkle_root"])
	assert.Equal(t, "legacy", body["project_id"])
}

func TestExecuteStructuredCommand(t *testing.T) {
	ts := newTestServer(t)

	cmd := map[string]interface{}{
		"command":    "ACCEPT_RISK",
		"system_id":  "fraud-model",
		"use_case":   "Fraud detection",
		"artifacts":  []string{"CDOC-RISK-001", "CDOC-MITIGATION-001"},
		"risk_links": []string{"RISK-042"},
		"signoff": []map[string]string{
			{"role": "Risk Owner", "actor_id": "erik"},
			{"role": "Compliance Owner", "actor_id": "anna"},
		},
		"project_id": "alpha",
	}
	raw, err := json.Marshal(cmd)
	require.NoError(t, err)

	resp := doAuthed(t, ts, http.MethodPost, "/execute_ecl", string(raw))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "alpha", body["project_id"])
	assert.Equal(t, "v2", body["hash_scheme"])
}

func TestExecuteParseFailure(t *testing.T) {
	ts := newTestServer(t)

	resp := doAuthed(t, ts, http.MethodPost, "/execute_ecl", "DO SOMETHING")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "Parse Failed", body["title"])
	assert.NotEmpty(t, body["errors"])
}

func TestExecuteValidationFailure(t *testing.T) {
	ts := newTestServer(t)

	// CLASSIFY without artifacts or signoff violates multiple rules.
	resp := doAuthed(t, ts, http.MethodPost, "/execute_ecl", "EVE CLASSIFY SYSTEM bare")
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	body := decodeBody(t, resp)
	errs, _ := body["errors"].([]interface{})
	assert.GreaterOrEqual(t, len(errs), 3)
}

func TestValidateEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := doAuthed(t, ts, http.MethodPost, "/validate_ecl", classifyCmd)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["valid"])

	resp = doAuthed(t, ts, http.MethodPost, "/validate_ecl", "EVE CLASSIFY SYSTEM bare")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody(t, resp)
	assert.Equal(t, false, body["valid"])
	assert.NotEmpty(t, body["errors"])
}

func executeDecision(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp := doAuthed(t, ts, http.MethodPost, "/execute_ecl", classifyCmd)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	id, _ := body["eve_decision_id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestVerifyEndpoint(t *testing.T) {
	ts := newTestServer(t)
	id := executeDecision(t, ts)

	resp := doAuthed(t, ts, http.MethodPost, "/verify", fmt.Sprintf(`{"decision_id":%q}`, id))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, true, body["decision_exists"])
	assert.Equal(t, true, body["vault_exists"])
	assert.Equal(t, true, body["overall_valid"])
	assert.Equal(t, "EXECUTED", body["status"])
}

func TestVerifyUnknownDecision(t *testing.T) {
	ts := newTestServer(t)

	resp := doAuthed(t, ts, http.MethodPost, "/verify", `{"decision_id":"EVE-2026-999999"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, false, body["overall_valid"])
	assert.Equal(t, "NOT_FOUND", body["status"])
}

func TestVerifyMalformedID(t *testing.T) {
	ts := newTestServer(t)
	resp := doAuthed(t, ts, http.MethodPost, "/verify", `{"decision_id":"nope"}`)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReplayEndpoint(t *testing.T) {
	ts := newTestServer(t)
	id := executeDecision(t, ts)

	resp := doAuthed(t, ts, http.MethodPost, "/replay", fmt.Sprintf(`{"decision_id":%q}`, id))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, id, body["eve_decision_id"])
	assert.Equal(t, true, body["vault_sealed"])
	arts, _ := body["frozen_artifacts"].([]interface{})
	assert.Len(t, arts, 2)
}

func TestReplayNotFound(t *testing.T) {
	ts := newTestServer(t)
	resp := doAuthed(t, ts, http.MethodPost, "/replay", `{"decision_id":"EVE-2026-999999"}`)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetDecisionAndList(t *testing.T) {
	ts := newTestServer(t)
	id := executeDecision(t, ts)

	resp := doAuthed(t, ts, http.MethodGet, "/decision/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "CLASSIFICATION", body["decision_type"])

	resp = doAuthed(t, ts, http.MethodGet, "/decisions?decision_type=CLASSIFICATION", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody(t, resp)
	assert.Equal(t, float64(1), body["count"])

	resp = doAuthed(t, ts, http.MethodGet, "/decisions?status=SUPERSEDED", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody(t, resp)
	assert.Equal(t, float64(0), body["count"])
}

func TestSupersedeFlow(t *testing.T) {
	ts := newTestServer(t)
	first := executeDecision(t, ts)

	cmd := classifyCmd + "\nSUPERSEDES " + first
	resp := doAuthed(t, ts, http.MethodPost, "/execute_ecl", cmd)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, first, body["superseded"])

	// Superseding a SUPERSEDED decision is a conflict.
	resp = doAuthed(t, ts, http.MethodPost, "/execute_ecl", cmd)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestExportEndpoint(t *testing.T) {
	ts := newTestServer(t)
	executeDecision(t, ts)

	req := fmt.Sprintf(`{"start":%q,"end":%q}`,
		time.Now().Add(-time.Hour).Format(time.RFC3339),
		time.Now().Add(time.Hour).Format(time.RFC3339))
	resp := doAuthed(t, ts, http.MethodPost, "/export", req)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))
	assert.Len(t, resp.Header.Get("X-Content-Sha256"), 64)

	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.NotZero(t, buf.Len())
}

func TestExportInvalidWindow(t *testing.T) {
	ts := newTestServer(t)

	req := fmt.Sprintf(`{"start":%q,"end":%q}`,
		time.Now().Format(time.RFC3339),
		time.Now().Add(-time.Hour).Format(time.RFC3339))
	resp := doAuthed(t, ts, http.MethodPost, "/export", req)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestArtifactLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	create := `{"ref":"CDOC-SCOPE-001","type":"knowledge","title":"Scope","author":"anna","content":{"text":"scope doc"}}`
	resp := doAuthed(t, ts, http.MethodPost, "/artifact/create", create)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "DRAFT", body["status"])

	// Duplicate ref conflicts.
	resp = doAuthed(t, ts, http.MethodPost, "/artifact/create", create)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	_ = resp.Body.Close()

	resp = doAuthed(t, ts, http.MethodPost, "/artifact/propose", `{"ref":"CDOC-SCOPE-001"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody(t, resp)
	assert.Equal(t, "PROPOSED", body["status"])
	assert.NotEmpty(t, body["fingerprint"])

	resp = doAuthed(t, ts, http.MethodGet, "/artifacts", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody(t, resp)
	assert.Equal(t, float64(1), body["count"])
}

func TestArtifactProposeNotFound(t *testing.T) {
	ts := newTestServer(t)
	resp := doAuthed(t, ts, http.MethodPost, "/artifact/propose", `{"ref":"missing"}`)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProjectsArePublic(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/api/projects")
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.Equal(t, float64(1), body["count"])

	resp, err = ts.Client().Get(ts.URL + "/api/projects/legacy")
	require.NoError(t, err)
	body = decodeBody(t, resp)
	assert.Equal(t, "legacy", body["project_id"])

	resp, err = ts.Client().Get(ts.URL + "/api/projects/unknown")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRegistryGrantFlow(t *testing.T) {
	ts := newTestServer(t)

	grant := `{"name":"Anna Svensson","email":"anna@example.com","roles":["Compliance Owner"]}`

	// Only the founder may grant.
	resp := doAs(t, ts, "user-1", http.MethodPost, "/registry/approvers", grant)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	_ = resp.Body.Close()

	resp = doAs(t, ts, registry.FounderID, http.MethodPost, "/registry/approvers", grant)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	id, _ := body["approver_id"].(string)
	assert.True(t, strings.HasPrefix(id, "key:"))

	// Duplicate grant conflicts.
	resp = doAs(t, ts, registry.FounderID, http.MethodPost, "/registry/approvers", grant)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	_ = resp.Body.Close()

	resp = doAuthed(t, ts, http.MethodGet, "/registry/approvers", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody(t, resp)
	assert.Equal(t, float64(2), body["count"])

	revoke := fmt.Sprintf(`{"approver_id":%q,"reason":"offboarded"}`, id)
	resp = doAs(t, ts, registry.FounderID, http.MethodPost, "/registry/revoke", revoke)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp = doAuthed(t, ts, http.MethodGet, "/registry/approvers", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody(t, resp)
	assert.Equal(t, float64(1), body["count"])
}

func TestRegistryRevokeUnknownApprover(t *testing.T) {
	ts := newTestServer(t)
	resp := doAs(t, ts, registry.FounderID, http.MethodPost, "/registry/revoke", `{"approver_id":"key:missing"}`)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

type trustAdapter struct {
	reg *registry.Registry
}

func (a *trustAdapter) Authorized(actorID, role string) bool {
	return a.reg.Authorized(actorID, registry.Role(role))
}

func TestExecuteEnforcesRegistrySignoff(t *testing.T) {
	signer, err := crypto.NewEd25519Signer("test")
	require.NoError(t, err)
	ledger := vault.New(signer)
	reg := registry.New("Founder", "founder@example.com")
	eng := engine.New(store.NewMemoryStore(), ledger, engine.WithAuthorizer(&trustAdapter{reg: reg}))

	srv := api.NewServer(eng, ledger,
		api.WithRegistry(reg),
		api.WithValidator(auth.NewHMACValidator(testSecret)),
	)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	// An unregistered signer is rejected.
	resp := doAuthed(t, ts, http.MethodPost, "/execute_ecl", classifyCmd)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	_ = resp.Body.Close()

	// After a founder grant, the returned approver id satisfies the
	// Compliance Owner signoff requirement.
	grant := `{"name":"Anna Svensson","email":"anna@example.com","roles":["Compliance Owner"]}`
	resp = doAs(t, ts, registry.FounderID, http.MethodPost, "/registry/approvers", grant)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	id, _ := body["approver_id"].(string)
	require.NotEmpty(t, id)

	cmd := strings.Replace(classifyCmd, "anna.svensson", id, 1)
	resp = doAuthed(t, ts, http.MethodPost, "/execute_ecl", cmd)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	// The founder satisfies any signoff role directly.
	cmd = strings.Replace(classifyCmd, "anna.svensson", registry.FounderID, 1)
	resp = doAuthed(t, ts, http.MethodPost, "/execute_ecl", cmd)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/status")
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.Equal(t, "eve-core", body["service"])
	assert.Contains(t, body["rule_set_version"], "eve-ruleset-v")
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)
	resp := doAuthed(t, ts, http.MethodGet, "/execute_ecl", "")
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
