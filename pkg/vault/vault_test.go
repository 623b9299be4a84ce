package vault

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/organiq/eve-core/pkg/crypto"
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	signer, err := crypto.NewEd25519Signer("test")
	require.NoError(t, err)
	return New(signer)
}

func TestSealChainsRecords(t *testing.T) {
	l := newLedger(t)

	r1, err := l.Seal(EvidenceDecision, map[string]interface{}{"decision_id": "EVE-2026-000001"}, nil)
	require.NoError(t, err)
	assert.Equal(t, GenesisHash, r1.PreviousHash)
	assert.Equal(t, r1.ContentHash, l.LastHash())

	r2, err := l.Seal(EvidenceSystem, map[string]interface{}{"event": "startup"}, map[string]string{"source": "test"})
	require.NoError(t, err)
	assert.Equal(t, r1.ContentHash, r2.PreviousHash)
	assert.Equal(t, 2, l.Len())
	assert.NotEqual(t, r1.ID, r2.ID)
}

func TestSealSignatureVerifies(t *testing.T) {
	signer, err := crypto.NewEd25519Signer("test")
	require.NoError(t, err)
	l := New(signer)

	rec, err := l.Seal(EvidenceDecision, map[string]interface{}{"k": "v"}, nil)
	require.NoError(t, err)

	ok, err := crypto.Verify(signer.PublicKey(), rec.Signature, crypto.SealPayload(rec.ContentHash, rec.Timestamp))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyEvidence(t *testing.T) {
	l := newLedger(t)

	rec, err := l.Seal(EvidenceDecision, map[string]interface{}{"decision_id": "EVE-2026-000001"}, nil)
	require.NoError(t, err)
	_, err = l.Seal(EvidenceSystem, map[string]interface{}{"event": "other"}, nil)
	require.NoError(t, err)

	assert.True(t, l.VerifyEvidence(rec), "untouched record should verify")

	rec.Content["decision_id"] = "EVE-2026-999999"
	assert.False(t, l.VerifyEvidence(rec), "tampered record must fail")
}

func TestVerifyChain(t *testing.T) {
	l := newLedger(t)
	for i := 0; i < 5; i++ {
		_, err := l.Seal(EvidenceSystem, map[string]interface{}{"n": i}, nil)
		require.NoError(t, err)
	}

	ok, errs := l.VerifyChain()
	assert.True(t, ok)
	assert.Empty(t, errs)

	// Tamper with one record's content.
	records := l.Records()
	records[2].Content["n"] = 99

	ok, errs = l.VerifyChain()
	assert.False(t, ok)
	require.Len(t, errs, 1)
	assert.Equal(t, records[2].ID, errs[0].EvidenceID)
	assert.Equal(t, 2, errs[0].Index)
	assert.Contains(t, errs[0].Reason, "content hash mismatch")
}

func TestVerifyChainDetectsBrokenLink(t *testing.T) {
	l := newLedger(t)
	for i := 0; i < 3; i++ {
		_, err := l.Seal(EvidenceSystem, map[string]interface{}{"n": i}, nil)
		require.NoError(t, err)
	}

	l.records[1].PreviousHash = "bogus"
	ok, errs := l.VerifyChain()
	assert.False(t, ok)
	require.Len(t, errs, 1)
	assert.Equal(t, 1, errs[0].Index)
	assert.Contains(t, errs[0].Reason, "chain")
}

func TestSnapshotChains(t *testing.T) {
	l := newLedger(t)
	_, err := l.Seal(EvidenceSystem, map[string]interface{}{"n": 1}, nil)
	require.NoError(t, err)

	s1, err := l.CreateSnapshot("2026-01")
	require.NoError(t, err)
	assert.Equal(t, 1, s1.RecordCount)
	assert.Equal(t, l.Root(), s1.MerkleRoot)
	assert.Empty(t, s1.PreviousSnapshot)
	assert.Len(t, s1.RecordHashes, 1)

	_, err = l.Seal(EvidenceSystem, map[string]interface{}{"n": 2}, nil)
	require.NoError(t, err)

	s2, err := l.CreateSnapshot("2026-02")
	require.NoError(t, err)
	assert.Equal(t, s1.ID, s2.PreviousSnapshot)
	assert.Equal(t, 2, s2.RecordCount)
}

func TestExportPackage(t *testing.T) {
	l := newLedger(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	now := base
	l.WithClock(func() time.Time {
		now = now.Add(time.Minute)
		return now
	})

	for i := 0; i < 3; i++ {
		_, err := l.Seal(EvidenceDecision, map[string]interface{}{"n": i}, nil)
		require.NoError(t, err)
	}
	_, err := l.CreateSnapshot("2026-03")
	require.NoError(t, err)

	before := l.Len()
	pkg, err := l.ExportPackage(base, base.Add(24*time.Hour))
	require.NoError(t, err)

	assert.Len(t, pkg.Evidence, 3)
	assert.Len(t, pkg.Snapshots, 1)
	assert.NotEmpty(t, pkg.MerkleRoot)
	assert.Contains(t, pkg.Instructions, "genesis")
	assert.NotEmpty(t, pkg.SignerKey)

	// The export itself is sealed as evidence.
	assert.Equal(t, before+1, l.Len())
	records := l.Records()
	assert.Equal(t, EvidenceExport, records[len(records)-1].Type)

	ok, errs := l.VerifyChain()
	assert.True(t, ok, "chain errors: %v", errs)
}

func TestExportPackageInvalidWindow(t *testing.T) {
	l := newLedger(t)
	_, err := l.ExportPackage(time.Now(), time.Now().Add(-time.Hour))
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestExportPackageWindowFilters(t *testing.T) {
	l := newLedger(t)
	times := []time.Time{
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	i := 0
	l.WithClock(func() time.Time {
		t := times[i%len(times)]
		i++
		return t
	})
	for n := 0; n < 3; n++ {
		_, err := l.Seal(EvidenceSystem, map[string]interface{}{"n": n}, nil)
		require.NoError(t, err)
	}

	pkg, err := l.ExportPackage(
		time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)
	require.Len(t, pkg.Evidence, 1)
	assert.Equal(t, times[1], pkg.Evidence[0].Timestamp)
}

func TestGetAndFindByContent(t *testing.T) {
	l := newLedger(t)
	rec, err := l.Seal(EvidenceDecision, map[string]interface{}{"decision_id": "EVE-2026-000007"}, nil)
	require.NoError(t, err)

	got, err := l.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ContentHash, got.ContentHash)

	_, err = l.Get("missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)

	found, ok := l.FindByContent("decision_id", "EVE-2026-000007")
	require.True(t, ok)
	assert.Equal(t, rec.ID, found.ID)

	_, ok = l.FindByContent("decision_id", "EVE-2026-000099")
	assert.False(t, ok)
}

func TestRestoreRebuildsChain(t *testing.T) {
	l := newLedger(t)
	for i := 0; i < 3; i++ {
		_, err := l.Seal(EvidenceSystem, map[string]interface{}{"n": i}, nil)
		require.NoError(t, err)
	}

	restored := newLedger(t)
	require.NoError(t, restored.Restore(l.Records()))

	assert.Equal(t, l.Len(), restored.Len())
	assert.Equal(t, l.LastHash(), restored.LastHash())
	assert.Equal(t, l.Root(), restored.Root())

	ok, errs := restored.VerifyChain()
	assert.True(t, ok, "chain errors: %v", errs)

	// Records keep their original ids and signatures.
	orig := l.Records()[1]
	got, err := restored.Get(orig.ID)
	require.NoError(t, err)
	assert.Equal(t, orig.Signature, got.Signature)
	assert.Equal(t, orig.Timestamp, got.Timestamp)

	// New seals chain onto the restored head.
	rec, err := restored.Seal(EvidenceSystem, map[string]interface{}{"n": 3}, nil)
	require.NoError(t, err)
	assert.Equal(t, l.LastHash(), rec.PreviousHash)
}

func TestRestoreRequiresEmptyLedger(t *testing.T) {
	l := newLedger(t)
	_, err := l.Seal(EvidenceSystem, map[string]interface{}{"n": 1}, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, l.Restore(l.Records()), ErrNotEmpty)
}

func TestRestoreRejectsTamperedMirror(t *testing.T) {
	l := newLedger(t)
	_, err := l.Seal(EvidenceSystem, map[string]interface{}{"n": 1}, nil)
	require.NoError(t, err)

	recs := l.Records()
	recs[0].Content["n"] = 99

	err = newLedger(t).Restore(recs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content hash mismatch")
}

func TestRestoreRejectsBrokenChain(t *testing.T) {
	l := newLedger(t)
	for i := 0; i < 3; i++ {
		_, err := l.Seal(EvidenceSystem, map[string]interface{}{"n": i}, nil)
		require.NoError(t, err)
	}

	recs := l.Records()
	// Dropping a middle record breaks the chain link of its successor.
	recs = append(recs[:1], recs[2:]...)

	err := newLedger(t).Restore(recs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chain broken")
}

func TestSinkNotified(t *testing.T) {
	l := newLedger(t)
	var seen []*Record
	l.AddSink(func(r *Record) { seen = append(seen, r) })

	_, err := l.Seal(EvidenceSystem, map[string]interface{}{"n": 1}, nil)
	require.NoError(t, err)
	require.Len(t, seen, 1)
}
