// Package projects loads read-only project (partition) metadata from a
// projects.json file. Nothing here mutates; the registry is fixed at load.
package projects

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/organiq/eve-core/pkg/scope"
)

var (
	ErrNotFound     = errors.New("projects: project not found")
	ErrMissingFile  = errors.New("projects: projects file not found")
	ErrDuplicateID  = errors.New("projects: duplicate project_id")
	ErrNoLegacy     = errors.New("projects: required 'legacy' project is missing")
	ErrInvalidEntry = errors.New("projects: invalid project entry")
)

// Metadata describes one project partition.
type Metadata struct {
	ProjectID    string `json:"project_id"`
	Label        string `json:"label"`
	ProjectClass string `json:"project_class"` // system, legal, medical, energy, custom
	TrustTier    string `json:"trust_tier"`    // T0 (system) through T3 (production)
	Description  string `json:"description,omitempty"`
	Locked       bool   `json:"locked"`
}

// Registry is the loaded, immutable project list.
type Registry struct {
	projects []Metadata
	byID     map[string]Metadata
}

// LoadFile reads and validates a projects.json file.
func LoadFile(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrMissingFile, path)
		}
		return nil, fmt.Errorf("projects: read %s: %w", path, err)
	}
	return Load(raw)
}

// Load validates a JSON array of project metadata. Duplicate ids are
// rejected and the "legacy" project must be present.
func Load(raw []byte) (*Registry, error) {
	var list []Metadata
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("projects: parse: %w", err)
	}

	byID := make(map[string]Metadata, len(list))
	for _, p := range list {
		if p.ProjectID == "" {
			return nil, fmt.Errorf("%w: empty project_id", ErrInvalidEntry)
		}
		if _, ok := byID[p.ProjectID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, p.ProjectID)
		}
		byID[p.ProjectID] = p
	}
	if _, ok := byID[scope.FallbackProject]; !ok {
		return nil, ErrNoLegacy
	}
	return &Registry{projects: list, byID: byID}, nil
}

// Default returns a minimal registry with only the legacy project, for
// deployments without a projects file.
func Default() *Registry {
	legacy := Metadata{
		ProjectID:    scope.FallbackProject,
		Label:        "Legacy",
		ProjectClass: "system",
		TrustTier:    "T0",
		Description:  "Fallback partition for records without a project id",
		Locked:       true,
	}
	return &Registry{
		projects: []Metadata{legacy},
		byID:     map[string]Metadata{legacy.ProjectID: legacy},
	}
}

// Get returns the metadata for a project id.
func (r *Registry) Get(projectID string) (Metadata, error) {
	p, ok := r.byID[projectID]
	if !ok {
		return Metadata{}, fmt.Errorf("%w: %s", ErrNotFound, projectID)
	}
	return p, nil
}

// List returns all projects in file order.
func (r *Registry) List() []Metadata {
	return append([]Metadata(nil), r.projects...)
}

// Count returns the number of registered projects.
func (r *Registry) Count() int {
	return len(r.projects)
}
