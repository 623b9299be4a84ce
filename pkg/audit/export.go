package audit

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/organiq/eve-core/pkg/vault"
)

var (
	// ErrLedgerNotConfigured is returned when export is invoked without a
	// backing ledger.
	ErrLedgerNotConfigured = errors.New("audit: ledger not configured (fail-closed)")
	// ErrWindowTooLarge is returned when the requested window exceeds the
	// governance profile's export limit.
	ErrWindowTooLarge = errors.New("audit: export window exceeds the configured maximum")
)

// Exporter packages signed audit export bundles as downloadable zip files.
type Exporter struct {
	ledger    *vault.Ledger
	maxWindow time.Duration
}

// ExporterOption configures an Exporter.
type ExporterOption func(*Exporter)

// WithMaxWindow caps the export window length. Zero means uncapped.
func WithMaxWindow(d time.Duration) ExporterOption {
	return func(e *Exporter) { e.maxWindow = d }
}

func NewExporter(l *vault.Ledger, opts ...ExporterOption) *Exporter {
	e := &Exporter{ledger: l}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GeneratePack exports the evidence window [start, end] as a zip holding
// the signed package, a manifest, and the offline verification
// instructions. Returns the zip bytes and their SHA-256 checksum.
func (e *Exporter) GeneratePack(start, end time.Time) ([]byte, string, error) {
	if e.ledger == nil {
		return nil, "", ErrLedgerNotConfigured
	}
	if e.maxWindow > 0 && end.Sub(start) > e.maxWindow {
		return nil, "", fmt.Errorf("%w: limit %s", ErrWindowTooLarge, e.maxWindow)
	}

	pkg, err := e.ledger.ExportPackage(start, end)
	if err != nil {
		return nil, "", err
	}

	pkgJSON, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return nil, "", err
	}

	manifest := map[string]interface{}{
		"package_id":     pkg.ID,
		"generated_at":   pkg.CreatedAt,
		"evidence_count": len(pkg.Evidence),
		"snapshot_count": len(pkg.Snapshots),
		"merkle_root":    pkg.MerkleRoot,
		"signer_key":     pkg.SignerKey,
		"period": map[string]interface{}{
			"start": pkg.PeriodStart,
			"end":   pkg.PeriodEnd,
		},
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("audit: failed to marshal manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)

	f, err := w.Create("package.json")
	if err != nil {
		return nil, "", err
	}
	_, _ = f.Write(pkgJSON)

	f, err = w.Create("manifest.json")
	if err != nil {
		return nil, "", err
	}
	_, _ = f.Write(manifestJSON)

	f, err = w.Create("VERIFICATION.txt")
	if err != nil {
		return nil, "", err
	}
	_, _ = fmt.Fprint(f, pkg.Instructions)

	if err := w.Close(); err != nil {
		return nil, "", err
	}

	zipBytes := buf.Bytes()
	hash := sha256.Sum256(zipBytes)
	return zipBytes, hex.EncodeToString(hash[:]), nil
}
