// Package vault implements the append-only evidence ledger: hash-chained,
// Merkle-verifiable records sealing arbitrary content, point-in-time
// snapshots, and signed export packages that verify fully offline.
//
// WORM principle: write once, read many. Seal is the only way data enters
// the ledger; nothing is ever edited or removed.
package vault

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/organiq/eve-core/pkg/canonical"
	"github.com/organiq/eve-core/pkg/crypto"
	"github.com/organiq/eve-core/pkg/merkle"
)

// GenesisHash is the previous_hash of the first record ever sealed.
const GenesisHash = "genesis"

var (
	ErrRecordNotFound = errors.New("vault: evidence record not found")
	ErrInvalidWindow  = errors.New("vault: export window start must not be after end")
	ErrNotEmpty       = errors.New("vault: restore requires an empty ledger")
)

// EvidenceType tags what a sealed record wraps.
type EvidenceType string

const (
	EvidenceDecision      EvidenceType = "decision"
	EvidenceAuthorization EvidenceType = "authorization_event"
	EvidencePublication   EvidenceType = "publication_event"
	EvidenceSystem        EvidenceType = "system_event"
	EvidenceExport        EvidenceType = "export_event"
)

// Record is one immutable, hash-chained evidence record.
type Record struct {
	ID           string                 `json:"evidence_id"`
	Type         EvidenceType           `json:"evidence_type"`
	Timestamp    time.Time              `json:"timestamp"`
	ContentHash  string                 `json:"content_hash"`
	Content      map[string]interface{} `json:"content"`
	LeafIndex    int                    `json:"leaf_index"`
	Proof        []merkle.ProofStep     `json:"merkle_proof"`
	PreviousHash string                 `json:"previous_hash"`
	Signature    string                 `json:"signature"`
	Metadata     map[string]string      `json:"metadata,omitempty"`
}

// Snapshot is a signed point-in-time summary of ledger state. Snapshots
// chain to each other through PreviousSnapshot.
type Snapshot struct {
	ID               string            `json:"snapshot_id"`
	Timestamp        time.Time         `json:"timestamp"`
	KnowledgeVersion string            `json:"knowledge_version"`
	RecordCount      int               `json:"record_count"`
	MerkleRoot       string            `json:"merkle_root"`
	RecordHashes     map[string]string `json:"record_hashes"`
	Signature        string            `json:"signature"`
	PreviousSnapshot string            `json:"previous_snapshot,omitempty"`
}

// Package is a signed export bundle for offline audit. Everything needed to
// verify it is embedded; no call back into the system is required.
type Package struct {
	ID           string      `json:"package_id"`
	CreatedAt    time.Time   `json:"created_at"`
	PeriodStart  time.Time   `json:"period_start"`
	PeriodEnd    time.Time   `json:"period_end"`
	Evidence     []*Record   `json:"evidence"`
	Snapshots    []*Snapshot `json:"snapshots"`
	MerkleRoot   string      `json:"merkle_root"`
	Instructions string      `json:"verification_instructions"`
	Signature    string      `json:"signature"`
	SignerKey    string      `json:"signer_public_key"`
}

// Sink is notified after each successful seal, outside no lock ordering
// guarantees other than seal order. Used to mirror records into a durable
// store.
type Sink func(*Record)

// Ledger is the in-memory evidence chain with its Merkle tree. All mutating
// operations are serialized behind one mutex; reads take the same lock in
// shared mode and see a consistent snapshot.
type Ledger struct {
	mu        sync.RWMutex
	signer    crypto.Signer
	clock     func() time.Time
	records   []*Record
	byID      map[string]*Record
	snapshots []*Snapshot
	tree      *merkle.Tree
	lastHash  string
	sinks     []Sink
}

// New creates an empty ledger signing with the given signer.
func New(signer crypto.Signer) *Ledger {
	return &Ledger{
		signer:   signer,
		clock:    time.Now,
		byID:     make(map[string]*Record),
		tree:     merkle.New(nil),
		lastHash: GenesisHash,
	}
}

// WithClock overrides the clock for testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// AddSink registers a post-seal handler.
func (l *Ledger) AddSink(s Sink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, s)
}

// Restore replays previously sealed records into an empty ledger, rebuilding
// the Merkle tree and the hash chain from a durable mirror. Records keep
// their original ids, timestamps and signatures; nothing is re-signed and
// sinks are not notified. Every record is checked against its content hash
// and its chain link before being accepted.
func (l *Ledger) Restore(recs []*Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.records) > 0 {
		return ErrNotEmpty
	}

	prev := GenesisHash
	for i, rec := range recs {
		computed, err := canonical.Hash(rec.Content)
		if err != nil || computed != rec.ContentHash {
			return fmt.Errorf("vault: restore rejected record %s (index %d): content hash mismatch", rec.ID, i)
		}
		if rec.PreviousHash != prev {
			return fmt.Errorf("vault: restore rejected record %s (index %d): chain broken", rec.ID, i)
		}
		l.tree.AddLeaf(rec.ContentHash)
		l.records = append(l.records, rec)
		l.byID[rec.ID] = rec
		prev = rec.ContentHash
	}
	l.lastHash = prev
	return nil
}

// Seal hashes content, appends it as a Merkle leaf, chains it to the prior
// record, signs it and appends the record to the ledger. This is the only
// write path.
func (l *Ledger) Seal(t EvidenceType, content map[string]interface{}, metadata map[string]string) (*Record, error) {
	contentHash, err := canonical.Hash(content)
	if err != nil {
		return nil, fmt.Errorf("vault: content not canonicalizable: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sealLocked(t, content, contentHash, metadata)
}

func (l *Ledger) sealLocked(t EvidenceType, content map[string]interface{}, contentHash string, metadata map[string]string) (*Record, error) {
	ts := l.clock().UTC()

	l.tree.AddLeaf(contentHash)
	leafIndex := l.tree.Len() - 1
	proof := l.tree.Proof(leafIndex)

	sig, err := l.signer.Sign(crypto.SealPayload(contentHash, ts))
	if err != nil {
		return nil, fmt.Errorf("vault: signing failed: %w", err)
	}

	rec := &Record{
		ID:           uuid.New().String(),
		Type:         t,
		Timestamp:    ts,
		ContentHash:  contentHash,
		Content:      content,
		LeafIndex:    leafIndex,
		Proof:        proof,
		PreviousHash: l.lastHash,
		Signature:    sig,
		Metadata:     metadata,
	}

	l.records = append(l.records, rec)
	l.byID[rec.ID] = rec
	l.lastHash = contentHash

	for _, sink := range l.sinks {
		sink(rec)
	}
	return rec, nil
}

// CreateSnapshot captures the current Merkle root and the full
// evidence-id -> content-hash mapping, signed and chained to the previous
// snapshot.
func (l *Ledger) CreateSnapshot(knowledgeVersion string) (*Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.clock().UTC()
	hashes := make(map[string]string, len(l.records))
	for _, r := range l.records {
		hashes[r.ID] = r.ContentHash
	}

	root := l.tree.Root()
	sig, err := l.signer.Sign(crypto.SealPayload(root, ts))
	if err != nil {
		return nil, fmt.Errorf("vault: snapshot signing failed: %w", err)
	}

	snap := &Snapshot{
		ID:               uuid.New().String(),
		Timestamp:        ts,
		KnowledgeVersion: knowledgeVersion,
		RecordCount:      len(l.records),
		MerkleRoot:       root,
		RecordHashes:     hashes,
		Signature:        sig,
	}
	if n := len(l.snapshots); n > 0 {
		snap.PreviousSnapshot = l.snapshots[n-1].ID
	}
	l.snapshots = append(l.snapshots, snap)
	return snap, nil
}

// ExportPackage bundles all evidence and snapshots inside [start, end] with
// the current Merkle root and self-contained verification instructions.
// Producing an export is itself a reportable action, so a new export_event
// record is sealed before returning.
func (l *Ledger) ExportPackage(start, end time.Time) (*Package, error) {
	if start.After(end) {
		return nil, ErrInvalidWindow
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var evidence []*Record
	for _, r := range l.records {
		if !r.Timestamp.Before(start) && !r.Timestamp.After(end) {
			evidence = append(evidence, r)
		}
	}
	var snaps []*Snapshot
	for _, s := range l.snapshots {
		if !s.Timestamp.Before(start) && !s.Timestamp.After(end) {
			snaps = append(snaps, s)
		}
	}

	ts := l.clock().UTC()
	root := l.tree.Root()
	sig, err := l.signer.Sign(crypto.SealPayload(root, ts))
	if err != nil {
		return nil, fmt.Errorf("vault: package signing failed: %w", err)
	}

	pkg := &Package{
		ID:           uuid.New().String(),
		CreatedAt:    ts,
		PeriodStart:  start,
		PeriodEnd:    end,
		Evidence:     evidence,
		Snapshots:    snaps,
		MerkleRoot:   root,
		Instructions: verificationInstructions,
		Signature:    sig,
		SignerKey:    l.signer.PublicKey(),
	}

	content := map[string]interface{}{
		"package_id":     pkg.ID,
		"period_start":   start.UTC().Format(time.RFC3339Nano),
		"period_end":     end.UTC().Format(time.RFC3339Nano),
		"evidence_count": len(evidence),
	}
	contentHash, err := canonical.Hash(content)
	if err != nil {
		return nil, fmt.Errorf("vault: export event not canonicalizable: %w", err)
	}
	if _, err := l.sealLocked(EvidenceExport, content, contentHash, nil); err != nil {
		return nil, err
	}

	return pkg, nil
}

// VerifyEvidence recomputes the record's content hash and replays its Merkle
// membership against the current root. It returns false on any mismatch.
func (l *Ledger) VerifyEvidence(rec *Record) bool {
	computed, err := canonical.Hash(rec.Content)
	if err != nil || computed != rec.ContentHash {
		return false
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if rec.LeafIndex < 0 || rec.LeafIndex >= l.tree.Len() {
		return false
	}
	// The stored proof is a seal-time artifact for offline use; membership in
	// the live tree is checked with a fresh proof for the record's leaf.
	return merkle.VerifyProof(rec.ContentHash, l.tree.Proof(rec.LeafIndex), l.tree.Root())
}

// ChainError describes one integrity violation found by VerifyChain.
type ChainError struct {
	EvidenceID string `json:"evidence_id"`
	Index      int    `json:"index"`
	Reason     string `json:"reason"`
}

func (e ChainError) Error() string {
	return fmt.Sprintf("evidence %s (index %d): %s", e.EvidenceID, e.Index, e.Reason)
}

// VerifyChain walks the full evidence log, checking every record's content
// hash and every previous_hash link. All violations are collected; it never
// stops at the first.
func (l *Ledger) VerifyChain() (bool, []ChainError) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var errs []ChainError
	prev := GenesisHash
	for i, rec := range l.records {
		computed, err := canonical.Hash(rec.Content)
		if err != nil || computed != rec.ContentHash {
			errs = append(errs, ChainError{rec.ID, i, "content hash mismatch"})
		}
		if rec.PreviousHash != prev {
			errs = append(errs, ChainError{rec.ID, i, fmt.Sprintf("chain broken: previous_hash %s, expected %s", rec.PreviousHash, prev)})
		}
		prev = rec.ContentHash
	}
	return len(errs) == 0, errs
}

// Get returns the record with the given evidence id.
func (l *Ledger) Get(id string) (*Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.byID[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return rec, nil
}

// FindByContent returns the most recent record whose content carries the
// given key/value pair. Used to locate the seal for a decision id.
func (l *Ledger) FindByContent(key, value string) (*Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.records) - 1; i >= 0; i-- {
		if v, ok := l.records[i].Content[key]; ok {
			if s, ok := v.(string); ok && s == value {
				return l.records[i], true
			}
		}
	}
	return nil, false
}

// Root returns the current Merkle root ("" while empty).
func (l *Ledger) Root() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tree.Root()
}

// LastHash returns the chain head (GenesisHash while empty).
func (l *Ledger) LastHash() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastHash
}

// Len returns the number of sealed records.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Records returns a copy of the in-order evidence log.
func (l *Ledger) Records() []*Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]*Record(nil), l.records...)
}

// Snapshots returns a copy of the snapshot chain.
func (l *Ledger) Snapshots() []*Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]*Snapshot(nil), l.snapshots...)
}

// Stats summarizes ledger state for status endpoints.
func (l *Ledger) Stats() map[string]interface{} {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return map[string]interface{}{
		"evidence_count": len(l.records),
		"snapshot_count": len(l.snapshots),
		"merkle_root":    l.tree.Root(),
		"last_hash":      l.lastHash,
	}
}

const verificationInstructions = `VERIFICATION INSTRUCTIONS
=========================

1. For each evidence record:
   - Compute SHA-256 of the content in RFC 8785 canonical JSON form
   - Compare with content_hash
   - Replay merkle_proof: combine the claimed leaf hash with each sibling
     in the recorded position (hash of the concatenated hex strings) and
     compare the result with merkle_root

2. For chain integrity:
   - Verify each previous_hash equals the prior record's content_hash
   - The first record's previous_hash is "genesis"

3. For snapshots:
   - Verify record_hashes match the evidence records
   - Verify the signature over (merkle_root, timestamp) with the embedded
     ed25519 public key

Tools: any SHA-256 and ed25519 implementation plus an RFC 8785 serializer.
No network access is required.
`
