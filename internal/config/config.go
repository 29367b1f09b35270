package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/arenalytics/matchsync/internal/platform/logging"
)

// Config stores runtime configuration for the service.
type Config struct {
	AppEnv                  string
	ServiceName             string
	ServiceVersion          string
	HTTPAddr                string
	DBURL                   string
	DBDisablePreparedBinary bool
	CacheEnabled            bool
	CacheTTL                time.Duration
	CORSAllowedOrigins      []string
	ReadTimeout             time.Duration
	WriteTimeout            time.Duration
	PprofEnabled            bool
	PprofAddr               string
	SwaggerEnabled          bool

	UptraceEnabled     bool
	UptraceDSN         string
	UptraceLogsEnabled bool

	PyroscopeEnabled           bool
	PyroscopeServerAddress     string
	PyroscopeAppName           string
	PyroscopeAuthToken         string
	PyroscopeBasicAuthUser     string
	PyroscopeBasicAuthPassword string
	PyroscopeUploadRate        time.Duration

	AmateurLeague  Provider
	ProCircuit     Provider
	SecondaryStats Provider

	IngestMaxPages       int
	IngestFinalityWindow time.Duration

	SchedulerLookahead        time.Duration
	SchedulerLiveSyncCadence  time.Duration
	SchedulerStaleLiveTimeout time.Duration
	RepairWorkers             int
	RepairBatchSize           int

	InternalJobToken            string
	QStashEnabled               bool
	QStashBaseURL               string
	QStashToken                 string
	QStashTargetBaseURL         string
	QStashRetries               int
	QStashCircuitEnabled        bool
	QStashCircuitFailureCount   int
	QStashCircuitOpenTimeout    time.Duration
	QStashCircuitHalfOpenMaxReq int

	LogLevel logging.Level
}

// Provider holds the per-source adapter settings. Every source shares the
// same shape; the env prefix selects the block (e.g. AMATEUR_LEAGUE_TOKEN).
type Provider struct {
	Enabled               bool
	BaseURL               string
	Token                 string
	Timeout               time.Duration
	MaxRetries            int
	PageSize              int
	RequestDelay          time.Duration
	Games                 []string
	CircuitEnabled        bool
	CircuitFailureCount   int
	CircuitOpenTimeout    time.Duration
	CircuitHalfOpenMaxReq int
}

func Load() (Config, error) {
	appEnv, err := parseAppEnv(getEnv("APP_ENV", EnvDev))
	if err != nil {
		return Config{}, err
	}

	swaggerDefault := "true"
	if appEnv == EnvProd {
		swaggerDefault = "false"
	}
	swaggerEnabled, err := strconv.ParseBool(getEnv("SWAGGER_ENABLED", swaggerDefault))
	if err != nil {
		return Config{}, fmt.Errorf("parse SWAGGER_ENABLED: %w", err)
	}

	uptraceEnabled, err := strconv.ParseBool(getEnv("UPTRACE_ENABLED", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("parse UPTRACE_ENABLED: %w", err)
	}
	uptraceDSN := strings.TrimSpace(getEnv("UPTRACE_DSN", ""))
	if uptraceDSN == "" {
		uptraceDSN = parseUptraceDSNFromOTLPHeaders(getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""))
	}
	if uptraceEnabled && uptraceDSN == "" {
		return Config{}, fmt.Errorf("UPTRACE_DSN is required when UPTRACE_ENABLED=true")
	}
	uptraceLogsEnabled, err := strconv.ParseBool(getEnv("UPTRACE_LOGS_ENABLED", "true"))
	if err != nil {
		return Config{}, fmt.Errorf("parse UPTRACE_LOGS_ENABLED: %w", err)
	}

	pprofEnabled, err := strconv.ParseBool(getEnv("PPROF_ENABLED", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("parse PPROF_ENABLED: %w", err)
	}
	pprofAddr := strings.TrimSpace(getEnv("PPROF_ADDR", ":6060"))
	if pprofEnabled && pprofAddr == "" {
		return Config{}, fmt.Errorf("PPROF_ADDR is required when PPROF_ENABLED=true")
	}

	pyroscopeEnabled, err := strconv.ParseBool(getEnv("PYROSCOPE_ENABLED", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("parse PYROSCOPE_ENABLED: %w", err)
	}
	pyroscopeServerAddress := strings.TrimSpace(getEnv("PYROSCOPE_SERVER_ADDRESS", ""))
	if pyroscopeEnabled && pyroscopeServerAddress == "" {
		return Config{}, fmt.Errorf("PYROSCOPE_SERVER_ADDRESS is required when PYROSCOPE_ENABLED=true")
	}
	pyroscopeUploadRate, err := time.ParseDuration(getEnv("PYROSCOPE_UPLOAD_RATE", "15s"))
	if err != nil {
		return Config{}, fmt.Errorf("parse PYROSCOPE_UPLOAD_RATE: %w", err)
	}
	if pyroscopeUploadRate <= 0 {
		return Config{}, fmt.Errorf("PYROSCOPE_UPLOAD_RATE must be > 0")
	}

	amateurLeague, err := loadProvider("AMATEUR_LEAGUE", "https://api.amateur-league.gg")
	if err != nil {
		return Config{}, err
	}
	proCircuit, err := loadProvider("PRO_CIRCUIT", "https://api.pro-circuit.io")
	if err != nil {
		return Config{}, err
	}
	secondaryStats, err := loadProvider("SECONDARY_STATS", "https://feeds.secondary-stats.net")
	if err != nil {
		return Config{}, err
	}

	ingestMaxPages, err := getEnvAsInt("INGEST_MAX_PAGES", 20)
	if err != nil {
		return Config{}, fmt.Errorf("parse INGEST_MAX_PAGES: %w", err)
	}
	if ingestMaxPages < 1 {
		return Config{}, fmt.Errorf("INGEST_MAX_PAGES must be >= 1")
	}
	ingestFinalityWindow, err := time.ParseDuration(getEnv("INGEST_FINALITY_WINDOW", "24h"))
	if err != nil {
		return Config{}, fmt.Errorf("parse INGEST_FINALITY_WINDOW: %w", err)
	}
	if ingestFinalityWindow <= 0 {
		return Config{}, fmt.Errorf("INGEST_FINALITY_WINDOW must be > 0")
	}

	schedulerLookahead, err := time.ParseDuration(getEnv("SCHEDULER_LOOKAHEAD", "30m"))
	if err != nil {
		return Config{}, fmt.Errorf("parse SCHEDULER_LOOKAHEAD: %w", err)
	}
	if schedulerLookahead <= 0 {
		return Config{}, fmt.Errorf("SCHEDULER_LOOKAHEAD must be > 0")
	}
	schedulerCadence, err := time.ParseDuration(getEnv("SCHEDULER_LIVE_SYNC_CADENCE", "1m"))
	if err != nil {
		return Config{}, fmt.Errorf("parse SCHEDULER_LIVE_SYNC_CADENCE: %w", err)
	}
	if schedulerCadence <= 0 {
		return Config{}, fmt.Errorf("SCHEDULER_LIVE_SYNC_CADENCE must be > 0")
	}
	schedulerStaleLiveTimeout, err := time.ParseDuration(getEnv("SCHEDULER_STALE_LIVE_TIMEOUT", "6h"))
	if err != nil {
		return Config{}, fmt.Errorf("parse SCHEDULER_STALE_LIVE_TIMEOUT: %w", err)
	}
	if schedulerStaleLiveTimeout <= 0 {
		return Config{}, fmt.Errorf("SCHEDULER_STALE_LIVE_TIMEOUT must be > 0")
	}

	repairWorkers, err := getEnvAsInt("REPAIR_WORKERS", 8)
	if err != nil {
		return Config{}, fmt.Errorf("parse REPAIR_WORKERS: %w", err)
	}
	if repairWorkers < 1 {
		return Config{}, fmt.Errorf("REPAIR_WORKERS must be >= 1")
	}
	repairBatchSize, err := getEnvAsInt("REPAIR_BATCH_SIZE", 500)
	if err != nil {
		return Config{}, fmt.Errorf("parse REPAIR_BATCH_SIZE: %w", err)
	}
	if repairBatchSize < 1 {
		return Config{}, fmt.Errorf("REPAIR_BATCH_SIZE must be >= 1")
	}

	qstashEnabled, err := strconv.ParseBool(getEnv("QSTASH_ENABLED", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("parse QSTASH_ENABLED: %w", err)
	}
	qstashRetries, err := getEnvAsInt("QSTASH_RETRIES", 3)
	if err != nil {
		return Config{}, fmt.Errorf("parse QSTASH_RETRIES: %w", err)
	}
	if qstashRetries < 0 {
		return Config{}, fmt.Errorf("QSTASH_RETRIES must be >= 0")
	}
	qstashCircuitEnabled, err := strconv.ParseBool(getEnv("QSTASH_CIRCUIT_ENABLED", "true"))
	if err != nil {
		return Config{}, fmt.Errorf("parse QSTASH_CIRCUIT_ENABLED: %w", err)
	}
	qstashCircuitFailureCount, err := getEnvAsInt("QSTASH_CIRCUIT_FAILURE_COUNT", 5)
	if err != nil {
		return Config{}, fmt.Errorf("parse QSTASH_CIRCUIT_FAILURE_COUNT: %w", err)
	}
	if qstashCircuitFailureCount < 1 {
		return Config{}, fmt.Errorf("QSTASH_CIRCUIT_FAILURE_COUNT must be >= 1")
	}
	qstashCircuitOpenTimeout, err := time.ParseDuration(getEnv("QSTASH_CIRCUIT_OPEN_TIMEOUT", "15s"))
	if err != nil {
		return Config{}, fmt.Errorf("parse QSTASH_CIRCUIT_OPEN_TIMEOUT: %w", err)
	}
	if qstashCircuitOpenTimeout <= 0 {
		return Config{}, fmt.Errorf("QSTASH_CIRCUIT_OPEN_TIMEOUT must be > 0")
	}
	qstashCircuitHalfOpenMaxReq, err := getEnvAsInt("QSTASH_CIRCUIT_HALF_OPEN_MAX_REQ", 2)
	if err != nil {
		return Config{}, fmt.Errorf("parse QSTASH_CIRCUIT_HALF_OPEN_MAX_REQ: %w", err)
	}
	if qstashCircuitHalfOpenMaxReq < 1 {
		return Config{}, fmt.Errorf("QSTASH_CIRCUIT_HALF_OPEN_MAX_REQ must be >= 1")
	}
	qstashBaseURL := strings.TrimSpace(getEnv("QSTASH_BASE_URL", "https://qstash.upstash.io"))
	qstashToken := strings.TrimSpace(getEnv("QSTASH_TOKEN", ""))
	qstashTargetBaseURL := strings.TrimSpace(getEnv("QSTASH_TARGET_BASE_URL", ""))
	internalJobToken := strings.TrimSpace(getEnv("INTERNAL_JOB_TOKEN", ""))
	if qstashEnabled {
		if qstashToken == "" {
			return Config{}, fmt.Errorf("QSTASH_TOKEN is required when QSTASH_ENABLED=true")
		}
		if qstashTargetBaseURL == "" {
			return Config{}, fmt.Errorf("QSTASH_TARGET_BASE_URL is required when QSTASH_ENABLED=true")
		}
		if internalJobToken == "" {
			return Config{}, fmt.Errorf("INTERNAL_JOB_TOKEN is required when QSTASH_ENABLED=true")
		}
	}

	cfg := Config{
		AppEnv:                      appEnv,
		ServiceName:                 getEnv("APP_SERVICE_NAME", "matchsync-api"),
		ServiceVersion:              getEnv("APP_SERVICE_VERSION", "dev"),
		HTTPAddr:                    getEnv("APP_HTTP_ADDR", ":8080"),
		DBURL:                       strings.TrimSpace(getEnv("DB_URL", "")),
		CORSAllowedOrigins:          splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		PprofEnabled:                pprofEnabled,
		PprofAddr:                   pprofAddr,
		SwaggerEnabled:              swaggerEnabled,
		UptraceEnabled:              uptraceEnabled,
		UptraceDSN:                  uptraceDSN,
		UptraceLogsEnabled:          uptraceLogsEnabled,
		PyroscopeEnabled:            pyroscopeEnabled,
		PyroscopeServerAddress:      pyroscopeServerAddress,
		PyroscopeAuthToken:          strings.TrimSpace(getEnv("PYROSCOPE_AUTH_TOKEN", "")),
		PyroscopeBasicAuthUser:      strings.TrimSpace(getEnv("PYROSCOPE_BASIC_AUTH_USER", "")),
		PyroscopeBasicAuthPassword:  strings.TrimSpace(getEnv("PYROSCOPE_BASIC_AUTH_PASSWORD", "")),
		PyroscopeUploadRate:         pyroscopeUploadRate,
		AmateurLeague:               amateurLeague,
		ProCircuit:                  proCircuit,
		SecondaryStats:              secondaryStats,
		IngestMaxPages:              ingestMaxPages,
		IngestFinalityWindow:        ingestFinalityWindow,
		SchedulerLookahead:          schedulerLookahead,
		SchedulerLiveSyncCadence:    schedulerCadence,
		SchedulerStaleLiveTimeout:   schedulerStaleLiveTimeout,
		RepairWorkers:               repairWorkers,
		RepairBatchSize:             repairBatchSize,
		InternalJobToken:            internalJobToken,
		QStashEnabled:               qstashEnabled,
		QStashBaseURL:               qstashBaseURL,
		QStashToken:                 qstashToken,
		QStashTargetBaseURL:         qstashTargetBaseURL,
		QStashRetries:               qstashRetries,
		QStashCircuitEnabled:        qstashCircuitEnabled,
		QStashCircuitFailureCount:   qstashCircuitFailureCount,
		QStashCircuitOpenTimeout:    qstashCircuitOpenTimeout,
		QStashCircuitHalfOpenMaxReq: qstashCircuitHalfOpenMaxReq,
	}
	cfg.PyroscopeAppName = strings.TrimSpace(getEnv("PYROSCOPE_APP_NAME", cfg.ServiceName))
	if cfg.PyroscopeEnabled && cfg.PyroscopeAppName == "" {
		return Config{}, fmt.Errorf("PYROSCOPE_APP_NAME cannot be empty when PYROSCOPE_ENABLED=true")
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		return Config{}, fmt.Errorf("CORS_ALLOWED_ORIGINS cannot be empty")
	}
	dbDisablePreparedBinary, err := strconv.ParseBool(getEnv("DB_DISABLE_PREPARED_BINARY_RESULT", "true"))
	if err != nil {
		return Config{}, fmt.Errorf("parse DB_DISABLE_PREPARED_BINARY_RESULT: %w", err)
	}
	cfg.DBDisablePreparedBinary = dbDisablePreparedBinary

	cacheEnabled, err := strconv.ParseBool(getEnv("CACHE_ENABLED", "true"))
	if err != nil {
		return Config{}, fmt.Errorf("parse CACHE_ENABLED: %w", err)
	}
	cacheTTL, err := time.ParseDuration(getEnv("CACHE_TTL", "30s"))
	if err != nil {
		return Config{}, fmt.Errorf("parse CACHE_TTL: %w", err)
	}
	if cacheTTL <= 0 {
		return Config{}, fmt.Errorf("CACHE_TTL must be > 0")
	}
	cfg.CacheEnabled = cacheEnabled
	cfg.CacheTTL = cacheTTL

	readTimeout, err := time.ParseDuration(getEnv("APP_READ_TIMEOUT", "10s"))
	if err != nil {
		return Config{}, fmt.Errorf("parse APP_READ_TIMEOUT: %w", err)
	}
	writeTimeout, err := time.ParseDuration(getEnv("APP_WRITE_TIMEOUT", "30s"))
	if err != nil {
		return Config{}, fmt.Errorf("parse APP_WRITE_TIMEOUT: %w", err)
	}
	cfg.ReadTimeout = readTimeout
	cfg.WriteTimeout = writeTimeout

	cfg.LogLevel = parseLogLevel(getEnv("APP_LOG_LEVEL", "info"))

	return cfg, nil
}

func loadProvider(prefix, defaultBaseURL string) (Provider, error) {
	enabled, err := strconv.ParseBool(getEnv(prefix+"_ENABLED", "false"))
	if err != nil {
		return Provider{}, fmt.Errorf("parse %s_ENABLED: %w", prefix, err)
	}

	timeout, err := time.ParseDuration(getEnv(prefix+"_TIMEOUT", "15s"))
	if err != nil {
		return Provider{}, fmt.Errorf("parse %s_TIMEOUT: %w", prefix, err)
	}
	if timeout <= 0 {
		return Provider{}, fmt.Errorf("%s_TIMEOUT must be > 0", prefix)
	}

	maxRetries, err := getEnvAsInt(prefix+"_MAX_RETRIES", 2)
	if err != nil {
		return Provider{}, fmt.Errorf("parse %s_MAX_RETRIES: %w", prefix, err)
	}
	if maxRetries < 0 {
		return Provider{}, fmt.Errorf("%s_MAX_RETRIES must be >= 0", prefix)
	}

	pageSize, err := getEnvAsInt(prefix+"_PAGE_SIZE", 50)
	if err != nil {
		return Provider{}, fmt.Errorf("parse %s_PAGE_SIZE: %w", prefix, err)
	}
	if pageSize < 1 {
		return Provider{}, fmt.Errorf("%s_PAGE_SIZE must be >= 1", prefix)
	}

	requestDelay, err := time.ParseDuration(getEnv(prefix+"_REQUEST_DELAY", "300ms"))
	if err != nil {
		return Provider{}, fmt.Errorf("parse %s_REQUEST_DELAY: %w", prefix, err)
	}
	if requestDelay < 0 {
		return Provider{}, fmt.Errorf("%s_REQUEST_DELAY must be >= 0", prefix)
	}

	circuitEnabled, err := strconv.ParseBool(getEnv(prefix+"_CIRCUIT_ENABLED", "true"))
	if err != nil {
		return Provider{}, fmt.Errorf("parse %s_CIRCUIT_ENABLED: %w", prefix, err)
	}
	circuitFailureCount, err := getEnvAsInt(prefix+"_CIRCUIT_FAILURE_COUNT", 5)
	if err != nil {
		return Provider{}, fmt.Errorf("parse %s_CIRCUIT_FAILURE_COUNT: %w", prefix, err)
	}
	if circuitFailureCount < 1 {
		return Provider{}, fmt.Errorf("%s_CIRCUIT_FAILURE_COUNT must be >= 1", prefix)
	}
	circuitOpenTimeout, err := time.ParseDuration(getEnv(prefix+"_CIRCUIT_OPEN_TIMEOUT", "15s"))
	if err != nil {
		return Provider{}, fmt.Errorf("parse %s_CIRCUIT_OPEN_TIMEOUT: %w", prefix, err)
	}
	if circuitOpenTimeout <= 0 {
		return Provider{}, fmt.Errorf("%s_CIRCUIT_OPEN_TIMEOUT must be > 0", prefix)
	}
	circuitHalfOpenMaxReq, err := getEnvAsInt(prefix+"_CIRCUIT_HALF_OPEN_MAX_REQ", 2)
	if err != nil {
		return Provider{}, fmt.Errorf("parse %s_CIRCUIT_HALF_OPEN_MAX_REQ: %w", prefix, err)
	}
	if circuitHalfOpenMaxReq < 1 {
		return Provider{}, fmt.Errorf("%s_CIRCUIT_HALF_OPEN_MAX_REQ must be >= 1", prefix)
	}

	provider := Provider{
		Enabled:               enabled,
		BaseURL:               strings.TrimSpace(getEnv(prefix+"_BASE_URL", defaultBaseURL)),
		Token:                 strings.TrimSpace(getEnv(prefix+"_TOKEN", "")),
		Timeout:               timeout,
		MaxRetries:            maxRetries,
		PageSize:              pageSize,
		RequestDelay:          requestDelay,
		Games:                 splitCSV(getEnv(prefix+"_GAMES", "")),
		CircuitEnabled:        circuitEnabled,
		CircuitFailureCount:   circuitFailureCount,
		CircuitOpenTimeout:    circuitOpenTimeout,
		CircuitHalfOpenMaxReq: circuitHalfOpenMaxReq,
	}
	if provider.Enabled {
		if provider.Token == "" {
			return Provider{}, fmt.Errorf("%s_TOKEN is required when %s_ENABLED=true", prefix, prefix)
		}
		if len(provider.Games) == 0 {
			return Provider{}, fmt.Errorf("%s_GAMES is required when %s_ENABLED=true", prefix, prefix)
		}
	}
	return provider, nil
}

func parseLogLevel(v string) logging.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "debug":
		return logging.LevelDebug
	case "warn", "warning":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return fallback
	}

	return value
}

func getEnvAsInt(key string, fallback int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}

	out, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}

	return out, nil
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		item := strings.TrimSpace(part)
		if item == "" {
			continue
		}
		out = append(out, item)
	}

	return out
}

func parseUptraceDSNFromOTLPHeaders(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}

	items := strings.Split(raw, ",")
	for _, item := range items {
		parts := strings.SplitN(strings.TrimSpace(item), "=", 2)
		if len(parts) != 2 {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(parts[0]), "uptrace-dsn") {
			value := strings.TrimSpace(parts[1])
			return strings.Trim(value, "\"'")
		}
	}

	return ""
}

const (
	EnvDev   = "dev"
	EnvStage = "stage"
	EnvProd  = "prod"
)

func parseAppEnv(v string) (string, error) {
	value := strings.ToLower(strings.TrimSpace(v))
	switch value {
	case EnvDev, EnvStage, EnvProd:
		return value, nil
	default:
		return "", fmt.Errorf("invalid APP_ENV %q: valid values are %s, %s, %s", v, EnvDev, EnvStage, EnvProd)
	}
}
