// Package main provides the SIPSA ingestion service entrypoint: it wires
// WindowPolicy, the SOAP source, the method registry, storage, the
// scheduler, and the HTTP API into one running binary.
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/sipsa-ingest/ingestor/internal/api"
	"github.com/sipsa-ingest/ingestor/internal/api/middleware"
	"github.com/sipsa-ingest/ingestor/internal/audit"
	sipsaconfig "github.com/sipsa-ingest/ingestor/internal/config"
	"github.com/sipsa-ingest/ingestor/internal/curated"
	"github.com/sipsa-ingest/ingestor/internal/orchestrator"
	"github.com/sipsa-ingest/ingestor/internal/scheduler"
	"github.com/sipsa-ingest/ingestor/internal/soap"
	"github.com/sipsa-ingest/ingestor/internal/storage"
	"github.com/sipsa-ingest/ingestor/internal/window"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "ingester"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("starting SIPSA ingestion service",
		slog.String("service", name),
		slog.String("version", version),
	)

	dbConfig := storage.LoadConfig()
	if err := dbConfig.Validate(); err != nil {
		logger.Error("invalid database configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	conn, err := storage.NewConnection(dbConfig)
	if err != nil {
		logger.Error("failed to connect to database",
			slog.String("error", err.Error()),
			slog.String("database_url", dbConfig.MaskDatabaseURL()),
		)
		os.Exit(1)
	}

	controlStore, err := storage.NewControlStore(conn)
	if err != nil {
		logger.Error("failed to build control store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	upsertStore, err := storage.NewUpsertStore(conn)
	if err != nil {
		logger.Error("failed to build upsert store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	apiKeyStore, err := storage.NewOperatorKeyStore(conn)
	if err != nil {
		logger.Error("failed to build operator key store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	policy, err := window.NewPolicy(loadWindowConfig())
	if err != nil {
		logger.Error("failed to build window policy", slog.String("error", err.Error()))
		os.Exit(1)
	}

	soapSource := soap.NewHTTPSource(loadSoapConfig())

	publisher := loadAuditPublisher(logger)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("audit publisher close failed", slog.String("error", err.Error()))
		}
	}()

	job := orchestrator.New(
		policy,
		soapSource,
		controlStore,
		upsertStore,
		publisher,
		orchestrator.LoadConfig(),
		logger,
	)

	sched, err := scheduler.New(job, scheduler.DefaultConfig(), logger)
	if err != nil {
		logger.Error("failed to build scheduler", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sched.Start()
	defer func() {
		if err := sched.Close(); err != nil {
			logger.Error("scheduler shutdown failed", slog.String("error", err.Error()))
		}
	}()

	curatedStore := curated.NewStore(conn.DB)

	rateLimiter := middleware.NewInMemoryRateLimiter(middleware.LoadConfig())
	defer rateLimiter.Close()

	server := api.NewServer(&serverConfig, apiKeyStore, rateLimiter, job, controlStore, curatedStore)

	if err := server.Start(); err != nil {
		logger.Error("server failed to start", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("SIPSA ingestion service stopped")
}

// loadWindowConfig reads the scheduling-window bounds from the environment,
// falling back to the §6.4 defaults (06:00-20:00 daily, monthly methods
// released on the 1st-5th, America/Bogota).
func loadWindowConfig() window.Config {
	base := window.Config{
		DailyStart:     sipsaconfig.GetEnvStr("SIPSA_WINDOW_DAILY_START", "06:00"),
		DailyEnd:       sipsaconfig.GetEnvStr("SIPSA_WINDOW_DAILY_END", "20:00"),
		MonthlyStart:   sipsaconfig.GetEnvStr("SIPSA_WINDOW_MONTHLY_START", "06:00"),
		MonthlyRunDays: []int{1, 2, 3, 4, 5},
		TimeZone:       sipsaconfig.GetEnvStr("SIPSA_WINDOW_TIMEZONE", "America/Bogota"),
	}

	return window.ApplyFileFromEnv(base)
}

// loadAuditPublisher wires KafkaPublisher when SIPSA_KAFKA_BROKERS is set,
// otherwise falls back to NoopPublisher (§11.1 - audit fan-out is always
// optional and never blocks ingestion).
func loadAuditPublisher(logger *slog.Logger) audit.EventPublisher {
	kafkaCfg := audit.LoadKafkaConfig()
	if len(kafkaCfg.Brokers) == 0 {
		return audit.NoopPublisher{}
	}

	logger.Info("enabling Kafka audit fan-out",
		slog.Any("brokers", kafkaCfg.Brokers),
		slog.String("topic", kafkaCfg.Topic),
	)

	return audit.NewKafkaPublisher(kafkaCfg, logger)
}

// loadSoapConfig reads the upstream SIPSA SOAP endpoint from the
// environment on top of soap.DefaultConfig's timeout/retry defaults.
func loadSoapConfig() soap.Config {
	cfg := soap.DefaultConfig()
	cfg.Endpoint = sipsaconfig.GetEnvStr("SIPSA_SOAP_ENDPOINT", "https://service.dane.gov.co/SIPSAWebService/wsSipsaCore.asmx")
	cfg.Namespace = sipsaconfig.GetEnvStr("SIPSA_SOAP_NAMESPACE", "http://tempuri.org/")

	return cfg
}
