// Package config loads server configuration from the environment and
// optional governance profiles from YAML files.
package config

import (
	"os"
	"strconv"
)

// Config holds server configuration.
type Config struct {
	Port           string
	LogLevel       string
	DatabaseURL    string
	SQLitePath     string
	JWTSecret      string
	ProjectsFile   string
	ProfilesDir    string
	ProfileCode    string
	FounderName    string
	FounderEmail   string
	SignerKeyID    string
	SignerKeyFile  string
	OTLPEndpoint   string
	Environment    string
	AuditToLedger  bool
	RateLimitRPS   float64
	RateLimitBurst int
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	sqlitePath := os.Getenv("SQLITE_PATH")
	if sqlitePath == "" {
		sqlitePath = "eve.db"
	}

	signerKeyID := os.Getenv("SIGNER_KEY_ID")
	if signerKeyID == "" {
		signerKeyID = "eve-ledger-key"
	}

	signerKeyFile := os.Getenv("SIGNER_KEY_FILE")
	if signerKeyFile == "" {
		signerKeyFile = "eve.key"
	}

	auditToLedger := false
	if v := os.Getenv("AUDIT_TO_LEDGER"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			auditToLedger = parsed
		}
	}

	environment := os.Getenv("ENVIRONMENT")
	if environment == "" {
		environment = "development"
	}

	rps := 10.0
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed > 0 {
			rps = parsed
		}
	}

	burst := 20
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			burst = parsed
		}
	}

	return &Config{
		Port:           port,
		LogLevel:       logLevel,
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		SQLitePath:     sqlitePath,
		JWTSecret:      os.Getenv("JWT_SECRET"),
		ProjectsFile:   os.Getenv("PROJECTS_FILE"),
		ProfilesDir:    os.Getenv("PROFILES_DIR"),
		ProfileCode:    os.Getenv("PROFILE_CODE"),
		FounderName:    os.Getenv("FOUNDER_NAME"),
		FounderEmail:   os.Getenv("FOUNDER_EMAIL"),
		SignerKeyID:    signerKeyID,
		SignerKeyFile:  signerKeyFile,
		OTLPEndpoint:   os.Getenv("OTLP_ENDPOINT"),
		Environment:    environment,
		AuditToLedger:  auditToLedger,
		RateLimitRPS:   rps,
		RateLimitBurst: burst,
	}
}
