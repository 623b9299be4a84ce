package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/organiq/eve-core/pkg/ecl"
	"github.com/organiq/eve-core/pkg/scope"

	_ "github.com/lib/pq"
)

// PostgresStore is the shared durable store.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects with the given DSN and migrates the schema.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewPostgresStore(db)
}

func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS decisions (
	decision_id TEXT PRIMARY KEY,
	decision_type TEXT NOT NULL,
	verb TEXT NOT NULL,
	project_id TEXT NOT NULL,
	hash_scheme TEXT NOT NULL,
	system_id TEXT NOT NULL,
	use_case TEXT,
	artifacts JSONB,
	risk_links JSONB,
	executed_by JSONB,
	status TEXT NOT NULL,
	rule_set_version TEXT,
	context_hash TEXT,
	evidence_id TEXT,
	supersedes TEXT,
	superseded_by TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS edi_sequence (
	year INTEGER PRIMARY KEY,
	value INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS evidence (
	evidence_id TEXT PRIMARY KEY,
	evidence_type TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	content_hash TEXT NOT NULL,
	previous_hash TEXT NOT NULL,
	payload JSONB
);

CREATE INDEX IF NOT EXISTS idx_decisions_system ON decisions(system_id);
CREATE INDEX IF NOT EXISTS idx_decisions_project ON decisions(project_id);`

func (s *PostgresStore) migrate() error {
	_, err := s.db.ExecContext(context.Background(), pgSchema)
	return err
}

func (s *PostgresStore) NextDecisionID(ctx context.Context, year int) (string, error) {
	query := `
		INSERT INTO edi_sequence (year, value) VALUES ($1, 1)
		ON CONFLICT (year) DO UPDATE SET value = edi_sequence.value + 1
		RETURNING value`
	var seq int
	if err := s.db.QueryRowContext(ctx, query, year).Scan(&seq); err != nil {
		return "", fmt.Errorf("allocate decision id: %w", err)
	}
	return formatDecisionID(year, seq), nil
}

func (s *PostgresStore) InsertDecision(ctx context.Context, d *Decision) error {
	query := `INSERT INTO decisions (
		decision_id, decision_type, verb, project_id, hash_scheme, system_id, use_case,
		artifacts, risk_links, executed_by, status, rule_set_version, context_hash,
		evidence_id, supersedes, superseded_by, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	artifacts, _ := json.Marshal(d.Artifacts)
	riskLinks, _ := json.Marshal(d.RiskLinks)
	executedBy, _ := json.Marshal(d.ExecutedBy)

	_, err := s.db.ExecContext(ctx, query,
		d.DecisionID, string(d.DecisionType), string(d.Verb), d.ProjectID, string(d.HashScheme),
		d.SystemID, d.UseCase, string(artifacts), string(riskLinks), string(executedBy),
		string(d.Status), d.RuleSetVersion, d.ContextHash, d.EvidenceID,
		d.Supersedes, d.SupersededBy, d.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDecision(ctx context.Context, id string) (*Decision, error) {
	query := `SELECT ` + decisionColumns + ` FROM decisions WHERE decision_id = $1`
	row := s.db.QueryRowContext(ctx, query, id)
	d, err := scanDecisionPG(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return d, nil
}

func (s *PostgresStore) MarkSuperseded(ctx context.Context, id, byID string) error {
	query := `UPDATE decisions SET status = $1, superseded_by = $2 WHERE decision_id = $3`
	res, err := s.db.ExecContext(ctx, query, string(StatusSuperseded), byID, id)
	if err != nil {
		return fmt.Errorf("mark superseded: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListDecisions(ctx context.Context, f Filter) ([]*Decision, error) {
	query := `SELECT ` + decisionColumns + ` FROM decisions WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.DecisionType != "" {
		query += ` AND decision_type = ` + arg(f.DecisionType)
	}
	if f.Status != "" {
		query += ` AND status = ` + arg(f.Status)
	}
	if f.SystemID != "" {
		query += ` AND system_id = ` + arg(f.SystemID)
	}
	if f.ProjectID != "" {
		query += ` AND project_id = ` + arg(f.ProjectID)
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ` + arg(f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var decisions []*Decision
	for rows.Next() {
		d, err := scanDecisionPG(rows)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return decisions, nil
}

func (s *PostgresStore) PutEvidence(ctx context.Context, e *EvidenceMirror) error {
	query := `INSERT INTO evidence (evidence_id, evidence_type, timestamp, content_hash, previous_hash, payload)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.db.ExecContext(ctx, query,
		e.EvidenceID, e.EvidenceType, e.Timestamp.UTC(), e.ContentHash, e.PreviousHash, string(e.Payload),
	)
	if err != nil {
		return fmt.Errorf("insert evidence: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListEvidence(ctx context.Context) ([]*EvidenceMirror, error) {
	query := `SELECT evidence_id, evidence_type, timestamp, content_hash, previous_hash, payload
		FROM evidence ORDER BY timestamp ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*EvidenceMirror
	for rows.Next() {
		var (
			e       EvidenceMirror
			payload sql.NullString
		)
		if err := rows.Scan(&e.EvidenceID, &e.EvidenceType, &e.Timestamp, &e.ContentHash, &e.PreviousHash, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			e.Payload = []byte(payload.String)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

// scanDecisionPG differs from the SQLite scanner only in timestamp handling:
// lib/pq returns time.Time for TIMESTAMPTZ columns directly.
func scanDecisionPG(row rowScanner) (*Decision, error) {
	var (
		d            Decision
		decisionType string
		verb         string
		hashScheme   string
		useCase      sql.NullString
		artifacts    sql.NullString
		riskLinks    sql.NullString
		executedBy   sql.NullString
		status       string
		ruleSet      sql.NullString
		contextHash  sql.NullString
		evidenceID   sql.NullString
		supersedes   sql.NullString
		supersededBy sql.NullString
		createdAt    time.Time
	)
	err := row.Scan(&d.DecisionID, &decisionType, &verb, &d.ProjectID, &hashScheme,
		&d.SystemID, &useCase, &artifacts, &riskLinks, &executedBy, &status,
		&ruleSet, &contextHash, &evidenceID, &supersedes, &supersededBy, &createdAt)
	if err != nil {
		return nil, err
	}

	d.DecisionType = ecl.DecisionType(decisionType)
	d.Verb = ecl.Verb(verb)
	d.HashScheme = scope.HashScheme(hashScheme)
	d.UseCase = useCase.String
	d.Status = Status(status)
	d.RuleSetVersion = ruleSet.String
	d.ContextHash = contextHash.String
	d.EvidenceID = evidenceID.String
	d.Supersedes = supersedes.String
	d.SupersededBy = supersededBy.String
	d.CreatedAt = createdAt

	if artifacts.Valid && artifacts.String != "" {
		_ = json.Unmarshal([]byte(artifacts.String), &d.Artifacts)
	}
	if riskLinks.Valid && riskLinks.String != "" {
		_ = json.Unmarshal([]byte(riskLinks.String), &d.RiskLinks)
	}
	if executedBy.Valid && executedBy.String != "" {
		_ = json.Unmarshal([]byte(executedBy.String), &d.ExecutedBy)
	}
	return &d, nil
}
