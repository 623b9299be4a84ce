package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/organiq/eve-core/pkg/api"
	"github.com/organiq/eve-core/pkg/artifacts"
	"github.com/organiq/eve-core/pkg/audit"
	"github.com/organiq/eve-core/pkg/auth"
	"github.com/organiq/eve-core/pkg/config"
	"github.com/organiq/eve-core/pkg/crypto"
	"github.com/organiq/eve-core/pkg/engine"
	"github.com/organiq/eve-core/pkg/observability"
	"github.com/organiq/eve-core/pkg/projects"
	"github.com/organiq/eve-core/pkg/registry"
	"github.com/organiq/eve-core/pkg/store"
	"github.com/organiq/eve-core/pkg/vault"
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests
var startServer = runServer

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return startServer(stderr)
	}

	switch args[1] {
	case "server", "serve":
		return startServer(stderr)
	case "parse":
		return runParseCmd(args[2:], stdout, stderr)
	case "export":
		return runExportCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1][0] == '-' {
			return startServer(stderr)
		}
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "EVE Decision & Evidence Ledger")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "USAGE:")
	_, _ = fmt.Fprintln(w, "  eve <command> [flags]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "COMMANDS:")
	_, _ = fmt.Fprintln(w, "  server   Run the EVE server (default)")
	_, _ = fmt.Fprintln(w, "  parse    Parse and validate an ECL command locally")
	_, _ = fmt.Fprintln(w, "  export   Download an audit pack from a running server")
	_, _ = fmt.Fprintln(w, "  verify   Verify an exported audit pack offline")
	_, _ = fmt.Fprintln(w, "  help     Show this help")
}

func logLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// registryAuthorizer adapts the founder trust registry to the engine's
// signoff check.
type registryAuthorizer struct {
	reg *registry.Registry
}

func (r *registryAuthorizer) Authorized(actorID, role string) bool {
	return r.reg.Authorized(actorID, registry.Role(role))
}

func runServer(stderr io.Writer) int {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	var profile *config.GovernanceProfile
	if cfg.ProfilesDir != "" && cfg.ProfileCode != "" {
		p, err := config.LoadProfile(cfg.ProfilesDir, cfg.ProfileCode)
		if err != nil {
			log.Fatalf("Failed to load governance profile: %v", err)
		}
		profile = p
		logger.Info("governance profile active",
			"code", profile.Code,
			"name", profile.Name,
			"data_residency", profile.DataResidency,
		)
	}

	var (
		st  store.Store
		err error
	)
	if cfg.DatabaseURL != "" {
		st, err = store.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
		logger.Info("store ready", "backend", "postgres")
	} else {
		st, err = store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("Failed to open SQLite store: %v", err)
		}
		logger.Info("store ready", "backend", "sqlite", "path", cfg.SQLitePath)
	}
	defer func() { _ = st.Close() }()

	// The key must survive restarts: sealed records only verify against the
	// key that signed them.
	signer, err := crypto.LoadOrCreateEd25519Signer(cfg.SignerKeyFile, cfg.SignerKeyID)
	if err != nil {
		log.Fatalf("Failed to init signer: %v", err)
	}
	if profile != nil && !profile.AllowsAlgorithm("ed25519") {
		log.Fatalf("Governance profile %s does not allow ed25519 signing", profile.Code)
	}
	logger.Info("trust root", "key_id", signer.KeyID(), "public_key", signer.PublicKey())

	ledger := vault.New(signer)

	// Rebuild the ledger from the mirror before registering sinks, so
	// pre-restart seals stay verifiable and are not mirrored twice.
	mirrors, err := st.ListEvidence(context.Background())
	if err != nil {
		log.Fatalf("Failed to read evidence mirror: %v", err)
	}
	if len(mirrors) > 0 {
		recs := make([]*vault.Record, 0, len(mirrors))
		for _, m := range mirrors {
			var rec vault.Record
			if err := json.Unmarshal(m.Payload, &rec); err != nil {
				log.Fatalf("Failed to decode mirrored evidence %s: %v", m.EvidenceID, err)
			}
			recs = append(recs, &rec)
		}
		if err := ledger.Restore(recs); err != nil {
			log.Fatalf("Failed to restore evidence ledger: %v", err)
		}
		logger.Info("evidence ledger restored", "records", len(recs), "last_hash", ledger.LastHash())
	}

	// Mirror every sealed record into the durable store.
	ledger.AddSink(func(rec *vault.Record) {
		payload, err := json.Marshal(rec)
		if err != nil {
			logger.Error("evidence mirror marshal failed", "evidence_id", rec.ID, "error", err)
			return
		}
		mirror := &store.EvidenceMirror{
			EvidenceID:   rec.ID,
			EvidenceType: string(rec.Type),
			Timestamp:    rec.Timestamp,
			ContentHash:  rec.ContentHash,
			PreviousHash: rec.PreviousHash,
			Payload:      payload,
		}
		if err := st.PutEvidence(context.Background(), mirror); err != nil {
			logger.Error("evidence mirror write failed", "evidence_id", rec.ID, "error", err)
		}
	})

	arts := artifacts.NewStore().WithSink(func(event string, content map[string]interface{}) {
		if _, err := ledger.Seal(vault.EvidencePublication, content, map[string]string{"event": event}); err != nil {
			logger.Error("artifact event seal failed", "event", event, "error", err)
		}
	})

	projectReg := projects.Default()
	if cfg.ProjectsFile != "" {
		projectReg, err = projects.LoadFile(cfg.ProjectsFile)
		if err != nil {
			log.Fatalf("Failed to load projects file: %v", err)
		}
		logger.Info("projects loaded", "count", projectReg.Count(), "path", cfg.ProjectsFile)
	}

	engineOpts := []engine.Option{
		engine.WithArtifacts(arts),
		engine.WithLogger(logger),
	}
	var trustReg *registry.Registry
	if cfg.FounderName != "" && cfg.FounderEmail != "" {
		trustReg = registry.New(cfg.FounderName, cfg.FounderEmail)
		engineOpts = append(engineOpts, engine.WithAuthorizer(&registryAuthorizer{reg: trustReg}))
		logger.Info("founder trust registry active", "founder", cfg.FounderName)
	}

	eng := engine.New(st, ledger, engineOpts...)

	obsCfg := observability.DefaultConfig()
	obsCfg.Environment = cfg.Environment
	obsCfg.Enabled = cfg.OTLPEndpoint != ""
	if cfg.OTLPEndpoint != "" {
		obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	}
	obs, err := observability.New(context.Background(), obsCfg)
	if err != nil {
		log.Fatalf("Failed to init observability: %v", err)
	}
	defer func() { _ = obs.Shutdown(context.Background()) }()

	ledger.AddSink(func(rec *vault.Record) {
		obs.RecordSeal(context.Background(), string(rec.Type))
	})

	validator := auth.NewHMACValidator([]byte(cfg.JWTSecret))
	if validator == nil {
		logger.Warn("JWT_SECRET is not set; only public endpoints are reachable")
	}

	var exporterOpts []audit.ExporterOption
	if profile != nil && profile.Export.MaxWindowDays > 0 {
		exporterOpts = append(exporterOpts, audit.WithMaxWindow(time.Duration(profile.Export.MaxWindowDays)*24*time.Hour))
	}

	var auditLog audit.Logger = audit.NewLogger()
	if cfg.AuditToLedger {
		auditLog = audit.NewLedgerLogger(ledger)
		logger.Info("audit events sealed into the evidence ledger")
	}

	serverOpts := []api.Option{
		api.WithArtifacts(arts),
		api.WithProjects(projectReg),
		api.WithExporter(audit.NewExporter(ledger, exporterOpts...)),
		api.WithAuditLog(auditLog),
		api.WithValidator(validator),
		api.WithLimiter(auth.NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)),
		api.WithObservability(obs),
		api.WithLogger(logger),
	}
	if trustReg != nil {
		serverOpts = append(serverOpts, api.WithRegistry(trustReg))
	}

	srv := api.NewServer(eng, ledger, serverOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx, ":"+cfg.Port); err != nil {
		_, _ = fmt.Fprintf(stderr, "Server error: %v\n", err)
		return 1
	}
	return 0
}
