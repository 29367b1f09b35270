// Package app wires configuration, storage, provider adapters, and the HTTP
// surface into a runnable server.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/uptrace/opentelemetry-go-extra/otelsql"
	"github.com/uptrace/opentelemetry-go-extra/otelsqlx"

	"github.com/arenalytics/matchsync/external/amateurleague"
	"github.com/arenalytics/matchsync/external/procircuit"
	"github.com/arenalytics/matchsync/external/secondarystats"
	"github.com/arenalytics/matchsync/internal/config"
	"github.com/arenalytics/matchsync/internal/domain/match"
	"github.com/arenalytics/matchsync/internal/domain/schedjob"
	"github.com/arenalytics/matchsync/internal/domain/syncrun"
	"github.com/arenalytics/matchsync/internal/infrastructure/repository/memory"
	"github.com/arenalytics/matchsync/internal/infrastructure/repository/postgres"
	"github.com/arenalytics/matchsync/internal/infrastructure/trigger"
	"github.com/arenalytics/matchsync/internal/interfaces/httpapi"
	"github.com/arenalytics/matchsync/internal/platform/cache"
	idgen "github.com/arenalytics/matchsync/internal/platform/id"
	"github.com/arenalytics/matchsync/internal/platform/logging"
	"github.com/arenalytics/matchsync/internal/platform/resilience"
	"github.com/arenalytics/matchsync/internal/usecase"
)

// App owns the wired server and the resources that need a shutdown call.
type App struct {
	Server *http.Server
	DB     *sqlx.DB
}

func NewApp(cfg config.Config, logger *logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.Default()
	}

	var (
		db        *sqlx.DB
		matches   match.Repository
		runs      syncrun.Repository
		jobs      schedjob.Repository
		readiness func(ctx context.Context) error
	)

	if cfg.DBURL != "" {
		var err error
		db, err = openDB(cfg)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		matches = postgres.NewMatchRepository(db)
		runs = postgres.NewSyncRunRepository(db)
		jobs = postgres.NewScheduledJobRepository(db)
		readiness = db.PingContext
		logger.Info("storage configured", "backend", "postgres", "db_name", dbNameFromURL(cfg.DBURL))
	} else {
		matches = memory.NewMatchRepository()
		runs = memory.NewSyncRunRepository()
		jobs = memory.NewScheduledJobRepository()
		logger.Warn("DB_URL is empty, using in-memory repositories; data will not survive a restart")
	}

	providers := buildProviders(cfg, logger)
	if len(providers) == 0 {
		logger.Warn("no provider adapters enabled; ingestion endpoints will reject requests")
	}

	jobTrigger, err := buildTrigger(cfg, logger)
	if err != nil {
		return nil, err
	}

	recorder := usecase.NewSyncRunRecorder(runs, idgen.NewRandomGenerator(), logger)

	ingestSvc := usecase.NewIngestService(providers, matches, recorder, usecase.IngestConfig{
		GamesBySource:  gamesBySource(cfg),
		MaxPages:       cfg.IngestMaxPages,
		FinalityWindow: cfg.IngestFinalityWindow,
	}, logger)

	schedulerSvc := usecase.NewSchedulerService(matches, jobs, jobTrigger, recorder, usecase.SchedulerConfig{
		Lookahead:        cfg.SchedulerLookahead,
		LiveSyncCadence:  cfg.SchedulerLiveSyncCadence,
		StaleLiveTimeout: cfg.SchedulerStaleLiveTimeout,
	}, logger)

	repairSvc := usecase.NewRepairService(matches, recorder, usecase.RepairConfig{
		Workers:   cfg.RepairWorkers,
		BatchSize: cfg.RepairBatchSize,
	}, logger)

	var store *cache.Store
	if cfg.CacheEnabled {
		store = cache.NewStore(cfg.CacheTTL)
	}
	querySvc := usecase.NewMatchQueryService(matches, runs, store)

	handler := httpapi.NewHandler(ingestSvc, schedulerSvc, repairSvc, querySvc, readiness, logger)
	router := httpapi.NewRouter(handler, logger, cfg.SwaggerEnabled, cfg.CORSAllowedOrigins, cfg.InternalJobToken)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	if server.Addr == "" {
		return nil, fmt.Errorf("http server addr cannot be empty")
	}

	return &App{Server: server, DB: db}, nil
}

func (a *App) Close() error {
	if a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

func openDB(cfg config.Config) (*sqlx.DB, error) {
	dsn := normalizeDBURL(cfg.DBURL, cfg.DBDisablePreparedBinary)
	return otelsqlx.Open("postgres", dsn,
		otelsql.WithDBSystem("postgresql"),
		otelsql.WithDBName(dbNameFromURL(cfg.DBURL)),
		otelsql.WithQueryFormatter(formatDBQueryForTrace),
	)
}

func buildProviders(cfg config.Config, logger *logging.Logger) map[match.Source]usecase.MatchProvider {
	providers := make(map[match.Source]usecase.MatchProvider)

	if cfg.AmateurLeague.Enabled {
		providers[match.SourceAmateurLeague] = amateurleague.NewClient(amateurleague.ClientConfig{
			BaseURL:        cfg.AmateurLeague.BaseURL,
			APIKey:         cfg.AmateurLeague.Token,
			Timeout:        cfg.AmateurLeague.Timeout,
			MaxRetries:     cfg.AmateurLeague.MaxRetries,
			PageSize:       cfg.AmateurLeague.PageSize,
			RequestDelay:   cfg.AmateurLeague.RequestDelay,
			Logger:         logger,
			CircuitBreaker: providerBreakerConfig(cfg.AmateurLeague),
		})
	}
	if cfg.ProCircuit.Enabled {
		providers[match.SourceProCircuit] = procircuit.NewClient(procircuit.ClientConfig{
			BaseURL:        cfg.ProCircuit.BaseURL,
			Token:          cfg.ProCircuit.Token,
			Timeout:        cfg.ProCircuit.Timeout,
			MaxRetries:     cfg.ProCircuit.MaxRetries,
			PerPage:        cfg.ProCircuit.PageSize,
			RequestDelay:   cfg.ProCircuit.RequestDelay,
			Logger:         logger,
			CircuitBreaker: providerBreakerConfig(cfg.ProCircuit),
		})
	}
	if cfg.SecondaryStats.Enabled {
		providers[match.SourceSecondaryStats] = secondarystats.NewClient(secondarystats.ClientConfig{
			BaseURL:        cfg.SecondaryStats.BaseURL,
			APIKey:         cfg.SecondaryStats.Token,
			Timeout:        cfg.SecondaryStats.Timeout,
			MaxRetries:     cfg.SecondaryStats.MaxRetries,
			RequestDelay:   cfg.SecondaryStats.RequestDelay,
			Logger:         logger,
			CircuitBreaker: providerBreakerConfig(cfg.SecondaryStats),
		})
	}

	return providers
}

func providerBreakerConfig(p config.Provider) resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		Enabled:          p.CircuitEnabled,
		FailureThreshold: p.CircuitFailureCount,
		OpenTimeout:      p.CircuitOpenTimeout,
		HalfOpenMaxReq:   p.CircuitHalfOpenMaxReq,
	}
}

func gamesBySource(cfg config.Config) map[match.Source][]string {
	games := make(map[match.Source][]string)
	if len(cfg.AmateurLeague.Games) > 0 {
		games[match.SourceAmateurLeague] = cfg.AmateurLeague.Games
	}
	if len(cfg.ProCircuit.Games) > 0 {
		games[match.SourceProCircuit] = cfg.ProCircuit.Games
	}
	if len(cfg.SecondaryStats.Games) > 0 {
		games[match.SourceSecondaryStats] = cfg.SecondaryStats.Games
	}
	return games
}

func buildTrigger(cfg config.Config, logger *logging.Logger) (usecase.JobTrigger, error) {
	if !cfg.QStashEnabled {
		logger.Info("qstash disabled, live-sync jobs are tracked without an external trigger")
		return usecase.NoopTrigger{}, nil
	}

	qt, err := trigger.NewQStashTrigger(trigger.QStashTriggerConfig{
		BaseURL:          cfg.QStashBaseURL,
		Token:            cfg.QStashToken,
		TargetBaseURL:    cfg.QStashTargetBaseURL,
		InternalJobToken: cfg.InternalJobToken,
		Retries:          cfg.QStashRetries,
		CircuitBreaker: resilience.CircuitBreakerConfig{
			Enabled:          cfg.QStashCircuitEnabled,
			FailureThreshold: cfg.QStashCircuitFailureCount,
			OpenTimeout:      cfg.QStashCircuitOpenTimeout,
			HalfOpenMaxReq:   cfg.QStashCircuitHalfOpenMaxReq,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("build qstash trigger: %w", err)
	}
	return qt, nil
}
