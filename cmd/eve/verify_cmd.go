package main

import (
	"archive/zip"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/organiq/eve-core/pkg/vault"
)

// runVerifyCmd implements `eve verify`: offline verification of an
// exported audit pack zip. Content hashes, chain links and signatures
// are all checked against material embedded in the pack; no server or
// network access is needed.
//
// Exit codes:
//
//	0 = verification passed
//	1 = verification failed
//	2 = runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		packPath   string
		jsonOutput bool
	)

	cmd.StringVar(&packPath, "pack", "", "Path to audit pack zip (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if packPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --pack is required")
		cmd.Usage()
		return 2
	}

	pkg, err := readPackage(packPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	valid, errs := vault.VerifyPackage(pkg)

	if jsonOutput {
		result := map[string]interface{}{
			"pack":           packPath,
			"package_id":     pkg.ID,
			"valid":          valid,
			"evidence_count": len(pkg.Evidence),
			"snapshot_count": len(pkg.Snapshots),
			"merkle_root":    pkg.MerkleRoot,
			"errors":         errs,
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else if valid {
		_, _ = fmt.Fprintf(stdout, "Audit pack verification PASSED\n")
		_, _ = fmt.Fprintf(stdout, "  Package:  %s\n", pkg.ID)
		_, _ = fmt.Fprintf(stdout, "  Evidence: %d records\n", len(pkg.Evidence))
		_, _ = fmt.Fprintf(stdout, "  Root:     %s\n", pkg.MerkleRoot)
	} else {
		_, _ = fmt.Fprintf(stdout, "Audit pack verification FAILED\n")
		for _, e := range errs {
			_, _ = fmt.Fprintf(stdout, "  - %s\n", e.Error())
		}
	}

	if !valid {
		return 1
	}
	return 0
}

// readPackage extracts package.json from the zip produced by /export.
func readPackage(path string) (*vault.Package, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open pack: %w", err)
	}
	defer func() { _ = r.Close() }()

	for _, f := range r.File {
		if f.Name != "package.json" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open package.json: %w", err)
		}
		defer func() { _ = rc.Close() }()

		var pkg vault.Package
		if err := json.NewDecoder(rc).Decode(&pkg); err != nil {
			return nil, fmt.Errorf("parse package.json: %w", err)
		}
		return &pkg, nil
	}
	return nil, fmt.Errorf("pack has no package.json")
}
