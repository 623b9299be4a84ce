package vault

import (
	"fmt"

	"github.com/organiq/eve-core/pkg/canonical"
	"github.com/organiq/eve-core/pkg/crypto"
)

// VerifyPackage checks an exported package entirely offline: every
// record's content hash and signature, the hash chain between the
// included records, every snapshot signature, and the package signature
// itself. No ledger or network access is needed; the signer's public
// key is embedded in the package.
func VerifyPackage(pkg *Package) (bool, []ChainError) {
	var errs []ChainError

	for i, rec := range pkg.Evidence {
		computed, err := canonical.Hash(rec.Content)
		if err != nil || computed != rec.ContentHash {
			errs = append(errs, ChainError{rec.ID, i, "content hash mismatch"})
		}

		ok, err := crypto.Verify(pkg.SignerKey, rec.Signature, crypto.SealPayload(rec.ContentHash, rec.Timestamp))
		if err != nil || !ok {
			errs = append(errs, ChainError{rec.ID, i, "invalid signature"})
		}

		// The window may start mid-chain, so only links between included
		// records are checked.
		if i > 0 && rec.PreviousHash != pkg.Evidence[i-1].ContentHash {
			errs = append(errs, ChainError{rec.ID, i, fmt.Sprintf("chain broken: previous_hash %s, expected %s",
				rec.PreviousHash, pkg.Evidence[i-1].ContentHash)})
		}
	}

	for i, snap := range pkg.Snapshots {
		ok, err := crypto.Verify(pkg.SignerKey, snap.Signature, crypto.SealPayload(snap.MerkleRoot, snap.Timestamp))
		if err != nil || !ok {
			errs = append(errs, ChainError{snap.ID, i, "invalid snapshot signature"})
		}
	}

	ok, err := crypto.Verify(pkg.SignerKey, pkg.Signature, crypto.SealPayload(pkg.MerkleRoot, pkg.CreatedAt))
	if err != nil || !ok {
		errs = append(errs, ChainError{pkg.ID, -1, "invalid package signature"})
	}

	return len(errs) == 0, errs
}
