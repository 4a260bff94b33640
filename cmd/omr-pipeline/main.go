// Command omr-pipeline wires every package in this module into one
// running process: load configuration, connect to Postgres and Redis,
// open the ledger, construct the four external-service adapters, start
// the orchestrator's worker pool, and serve the C7 HTTP API alongside a
// standalone Prometheus listener. Shutdown drains in the reverse order
// of startup on SIGINT/SIGTERM.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jordigilh/omr-ledger/internal/config"
	"github.com/jordigilh/omr-ledger/internal/database"
	"github.com/jordigilh/omr-ledger/internal/httpapi"
	"github.com/jordigilh/omr-ledger/pkg/adapters"
	"github.com/jordigilh/omr-ledger/pkg/images"
	"github.com/jordigilh/omr-ledger/pkg/intervention"
	"github.com/jordigilh/omr-ledger/pkg/ledger"
	"github.com/jordigilh/omr-ledger/pkg/metrics"
	"github.com/jordigilh/omr-ledger/pkg/orchestrator"
	"github.com/jordigilh/omr-ledger/pkg/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := buildLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	if err := run(cfg, log); err != nil {
		log.Fatal("omr-pipeline exited with error", zap.Error(err))
	}
}

// buildLogger constructs the process logger from cfg: "console" selects
// zap's human-readable development encoder, anything else (including
// the empty string) falls back to the production JSON encoder. No
// logger-construction helper survived this corpus's pruning, so this
// follows zap's own documented Config-then-Build idiom directly.
func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}

	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("invalid logging.level %q: %w", cfg.Level, err)
		}
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	return zcfg.Build()
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbCfg, err := toDatabaseConfig(cfg.Database)
	if err != nil {
		return fmt.Errorf("translate database config: %w", err)
	}
	db, err := database.Connect(dbCfg, log)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	defer redisClient.Close()

	baseStore := store.NewPostgresStore(db, log)
	cachedStore := store.NewCachedStore(baseStore, redisClient, cfg.SheetDeadline(), log)

	signerEntries, err := loadSignerRegistry(cfg.Signers.RegistryPath)
	if err != nil {
		return fmt.Errorf("load signer registry: %w", err)
	}
	registry, err := ledger.NewRegistry(signerEntries)
	if err != nil {
		return fmt.Errorf("build signer registry: %w", err)
	}

	chain, err := ledger.Open(ledger.Config{
		Path:               cfg.Ledger.Path,
		DifficultyHexZeros: cfg.Ledger.DifficultyHexZeros,
		MaxMiningAttempts:  cfg.Ledger.MaxMiningAttempts,
		Registry:           registry,
	})
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer chain.Close()

	journalDir := cfg.Ledger.Path + ".journal"
	journal, err := store.NewJournal(journalDir, log)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	logPendingJournalEntries(journal, log)

	imageStore, err := images.NewFSStore(cfg.Images.BaseDir)
	if err != nil {
		return fmt.Errorf("open image store: %w", err)
	}

	m := metrics.NewMetrics("omr")

	qualityAssessor := adapters.NewHTTPQualityAssessor(cfg.Adapter.BaseURLFor("assess_quality"), cfg.Adapter, log).WithMetrics(m)
	reconstructor := adapters.NewHTTPReconstructor(cfg.Adapter.BaseURLFor("reconstruct"), cfg.Adapter, log).WithMetrics(m)
	questionSolver := adapters.NewHTTPQuestionSolver(cfg.Adapter.BaseURLFor("solve_question"), cfg.Adapter, log).WithMetrics(m)
	keyVerifier := adapters.NewHTTPKeyVerifier(cfg.Adapter.BaseURLFor("verify_answer_key"), cfg.Adapter, log).WithMetrics(m)

	queue := intervention.New(cachedStore, chain, log)

	orch := orchestrator.New(orchestrator.Dependencies{
		Store:           cachedStore,
		Chain:           chain,
		Queue:           queue,
		Images:          imageStore,
		QualityAssessor: qualityAssessor,
		Reconstructor:   reconstructor,
		QuestionSolver:  questionSolver,
		Metrics:         m,
		Journal:         journal,
	}, cfg, log)
	orch.Start(ctx)
	defer orch.Stop()

	hctx := httpapi.NewContext(httpapi.Context{
		Store:        cachedStore,
		Chain:        chain,
		Orchestrator: orch,
		Queue:        queue,
		Images:       imageStore,
		KeyVerifier:  keyVerifier,
		Log:          log,
	})
	router := httpapi.NewRouter(hctx, cfg.Server.CORSAllowedOrigins)

	readTimeout, err := time.ParseDuration(cfg.Server.ReadTimeout)
	if err != nil {
		return fmt.Errorf("invalid server.read_timeout: %w", err)
	}
	writeTimeout, err := time.ParseDuration(cfg.Server.WriteTimeout)
	if err != nil {
		return fmt.Errorf("invalid server.write_timeout: %w", err)
	}

	apiServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	metricsServer := metrics.NewServer(cfg.Metrics.Port, log)
	metricsServer.StartAsync()

	serveErrs := make(chan error, 1)
	go func() {
		log.Info("serving API", zap.String("addr", apiServer.Addr))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrs <- err
			return
		}
		serveErrs <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErrs:
		if err != nil {
			return fmt.Errorf("API server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("API server did not shut down cleanly", zap.Error(err))
	}
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		log.Warn("metrics server did not shut down cleanly", zap.Error(err))
	}
	return nil
}

// toDatabaseConfig maps internal/config's YAML-friendly DatabaseConfig
// onto internal/database's Config, parsing ConnMaxLifetime and
// defaulting ConnMaxIdleTime to the same duration since no separate
// knob exists in the checked-in config file format.
func toDatabaseConfig(cfg config.DatabaseConfig) (*database.Config, error) {
	lifetime, err := time.ParseDuration(cfg.ConnMaxLifetime)
	if err != nil {
		return nil, fmt.Errorf("invalid database.conn_max_lifetime: %w", err)
	}
	return &database.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: lifetime,
		ConnMaxIdleTime: lifetime,
	}, nil
}

// loadSignerRegistry reads a JSON file mapping "signerKind:signerKeyHex"
// to a second copy of the hex-encoded key (the format ledger.NewRegistry
// expects) from path. Keeping this a plain JSON file, read once at
// startup by the entrypoint rather than a dedicated package, matches
// this module's pattern of small I/O glue living in main rather than
// growing its own package for a single map[string]string load.
func loadSignerRegistry(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signer registry %s: %w", path, err)
	}
	var entries map[string]string
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse signer registry %s: %w", path, err)
	}
	return entries, nil
}

// logPendingJournalEntries surfaces any journal entry a prior crash left
// behind at startup. pkg/orchestrator's stage transitions wrap every
// ledger-append-then-Store-mutate pair through the same Journal
// (Orchestrator.withJournal), so a non-empty result here means the
// process died mid-transition last time; an operator decides whether to
// retry the Store write for a PhaseLedgerAppended entry or just run
// Clear for a PhaseStoreMutated one. Nothing replays automatically.
func logPendingJournalEntries(j *store.Journal, log *zap.Logger) {
	pending, err := j.Pending()
	if err != nil {
		log.Warn("could not list pending journal entries", zap.Error(err))
		return
	}
	for _, entry := range pending {
		log.Warn("pending journal entry found at startup",
			zap.String("id", entry.ID),
			zap.String("kind", entry.Kind),
			zap.String("phase", string(entry.Phase)),
		)
	}
}
