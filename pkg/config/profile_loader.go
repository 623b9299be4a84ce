package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// GovernanceProfile represents a deployment-specific governance profile.
// Profiles tune retention, signing and export policy per jurisdiction
// without touching code.
type GovernanceProfile struct {
	Name          string             `yaml:"name" json:"name"`
	Code          string             `yaml:"code" json:"code"`
	DataResidency string             `yaml:"data_residency" json:"data_residency"`
	Compliance    []string           `yaml:"compliance" json:"compliance"`
	CryptoPolicy  CryptoPolicyConfig `yaml:"crypto_policy" json:"crypto_policy"`
	Retention     RetentionConfig    `yaml:"retention" json:"retention"`
	Export        ExportConfig       `yaml:"export" json:"export"`
}

// CryptoPolicyConfig defines allowed signing algorithms and rotation.
type CryptoPolicyConfig struct {
	AllowedAlgorithms []string `yaml:"allowed_algorithms" json:"allowed_algorithms"`
	KeyRotationDays   int      `yaml:"key_rotation_days" json:"key_rotation_days"`
	RequireHSM        bool     `yaml:"require_hsm,omitempty" json:"require_hsm,omitempty"`
}

// RetentionConfig defines evidence and audit retention policies.
type RetentionConfig struct {
	EvidenceDays     int `yaml:"evidence_days" json:"evidence_days"`
	AuditLogDays     int `yaml:"audit_log_days" json:"audit_log_days"`
	SnapshotInterval int `yaml:"snapshot_interval,omitempty" json:"snapshot_interval,omitempty"`
}

// ExportConfig controls audit pack export behavior.
type ExportConfig struct {
	MaxWindowDays       int  `yaml:"max_window_days" json:"max_window_days"`
	RequireVerification bool `yaml:"require_verification,omitempty" json:"require_verification,omitempty"`
}

// LoadProfile loads a governance profile YAML by jurisdiction code.
// It searches the profiles directory for profile_<code>.yaml.
func LoadProfile(profilesDir, code string) (*GovernanceProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	var profile GovernanceProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}

	if profile.Code == "" {
		profile.Code = code
	}

	return &profile, nil
}

// LoadAllProfiles loads all profile_*.yaml files from the profiles directory.
func LoadAllProfiles(profilesDir string) (map[string]*GovernanceProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*GovernanceProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile GovernanceProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if profile.Code == "" {
			// Extract code from filename: profile_eu.yaml -> eu
			base := filepath.Base(path)
			profile.Code = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}

		profiles[profile.Code] = &profile
	}

	return profiles, nil
}

// AllowsAlgorithm checks whether the crypto policy permits the given
// signing algorithm. An empty allowlist permits everything.
func (p *GovernanceProfile) AllowsAlgorithm(alg string) bool {
	if len(p.CryptoPolicy.AllowedAlgorithms) == 0 {
		return true
	}
	for _, a := range p.CryptoPolicy.AllowedAlgorithms {
		if strings.EqualFold(a, alg) {
			return true
		}
	}
	return false
}
