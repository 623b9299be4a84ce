// Package scope resolves the optional caller-supplied project (partition)
// identifier into a canonical partition id and a hash-scheme version.
//
// Partitions are cryptographically isolated: the resolved id is baked into
// every decision content hash, so identical payloads filed under different
// partitions never collide. Only the engine decides the hash scheme; callers
// never choose it.
package scope

import (
	"fmt"
	"regexp"
)

// HashScheme versions the content-hash tuple layout.
type HashScheme string

const (
	// SchemeV1 is the legacy scheme used for records created before
	// partitioning existed. It applies only when no project id is supplied.
	SchemeV1 HashScheme = "v1"
	// SchemeV2 is the current scheme, used for every explicit project id.
	SchemeV2 HashScheme = "v2"
)

// FallbackProject is the reserved partition for calls without a project id.
// The name is not reserved from explicit use: a caller may request "legacy"
// explicitly, which then gets SchemeV2 — only absence of input is legacy.
const FallbackProject = "legacy"

var projectIDRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}[a-z0-9]$`)

// ValidProjectID reports whether id matches the project-id grammar
// (lowercase alphanumerics and internal hyphens, 2-64 characters).
func ValidProjectID(id string) bool {
	return projectIDRe.MatchString(id)
}

// Normalize resolves a caller-supplied project id.
//
//	""       -> ("legacy", SchemeV1, nil)
//	valid id -> (id, SchemeV2, nil)
//	invalid  -> ("", "", error)  — never coerced or truncated
func Normalize(projectID string) (string, HashScheme, error) {
	if projectID == "" {
		return FallbackProject, SchemeV1, nil
	}
	if !ValidProjectID(projectID) {
		return "", "", fmt.Errorf("invalid project_id %q: must match %s", projectID, projectIDRe.String())
	}
	return projectID, SchemeV2, nil
}
