// Package app wires configuration, infrastructure, services and transport into a running
// dispatch process.
package app

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/sage/config"
	"github.com/Ramsey-B/sage/internal/handlers"
	auditrepo "github.com/Ramsey-B/sage/internal/repositories/audit"
	"github.com/Ramsey-B/sage/internal/repositories/customer"
	"github.com/Ramsey-B/sage/internal/repositories/huntplan"
	"github.com/Ramsey-B/sage/internal/repositories/invoice"
	"github.com/Ramsey-B/sage/internal/repositories/load"
	"github.com/Ramsey-B/sage/internal/repositories/match"
	"github.com/Ramsey-B/sage/internal/repositories/posting"
	"github.com/Ramsey-B/sage/internal/repositories/sequence"
	"github.com/Ramsey-B/sage/internal/repositories/tenant"
	"github.com/Ramsey-B/sage/internal/repositories/vehicle"
	"github.com/Ramsey-B/sage/pkg/audit"
	"github.com/Ramsey-B/sage/pkg/booking"
	"github.com/Ramsey-B/sage/pkg/database"
	"github.com/Ramsey-B/sage/pkg/events"
	"github.com/Ramsey-B/sage/pkg/health"
	huntplans "github.com/Ramsey-B/sage/pkg/huntplan"
	"github.com/Ramsey-B/sage/pkg/ingestion"
	"github.com/Ramsey-B/sage/pkg/invoicing"
	"github.com/Ramsey-B/sage/pkg/kafka"
	"github.com/Ramsey-B/sage/pkg/matching"
	"github.com/Ramsey-B/sage/pkg/middleware"
	"github.com/Ramsey-B/sage/pkg/projection"
	"github.com/Ramsey-B/sage/pkg/redis"
	"github.com/Ramsey-B/sage/pkg/scheduler"
	"github.com/Ramsey-B/sage/pkg/startup"
	"github.com/Ramsey-B/sage/pkg/tenancy"
)

const (
	DependencyDatabase   = "database"
	DependencyMigrations = "migrations"
	DependencyRedis      = "redis"
	DependencyProducer   = "kafka-producer"
	DependencyServices   = "services"
	DependencyConsumer   = "kafka-consumer"
	DependencyScheduler  = "scheduler"
	DependencyHTTP       = "http"
)

// Services is the domain layer built on top of the infrastructure.
type Services struct {
	Resolver  *tenancy.Resolver
	Ingestion *ingestion.Service
	HuntPlans *huntplans.Service
	Engine    *matching.Engine
	Booking   *booking.Saga
	Invoices  *invoicing.Guard
	Projector *projection.Projector
}

type App struct {
	cfg    config.Config
	logger ectologger.Logger

	db        database.DB
	redis     *redis.Client
	locker    redis.Locker
	producer  *kafka.Producer
	consumer  *kafka.Consumer
	scheduler *scheduler.Scheduler
	server    *http.Server
	health    *health.Checker
	startup   *startup.Startup

	Services *Services
}

func New(cfg config.Config, logger ectologger.Logger, version string) *App {
	return &App{
		cfg:     cfg,
		logger:  logger,
		health:  health.NewChecker(version),
		startup: startup.New(logger, cfg.StartupMaxAttempts),
	}
}

// Serve starts every component, blocks until ctx is cancelled, then shuts down in reverse.
func (a *App) Serve(ctx context.Context) error {
	a.startup.Add(
		startup.Component{Name: DependencyDatabase, OnStart: a.connectDatabase, OnStop: a.closeDatabase},
		startup.Component{Name: DependencyMigrations, Requires: []string{DependencyDatabase}, OnStart: a.migrateOnStart},
		startup.Component{Name: DependencyRedis, OnStart: a.connectRedis, OnStop: a.closeRedis},
		startup.Component{Name: DependencyProducer, OnStart: a.startProducer, OnStop: a.closeProducer},
		startup.Component{
			Name:     DependencyServices,
			Requires: []string{DependencyMigrations, DependencyRedis, DependencyProducer},
			OnStart:  a.buildServices,
		},
		startup.Component{Name: DependencyConsumer, Requires: []string{DependencyServices}, OnStart: a.startConsumer, OnStop: a.stopConsumer},
		startup.Component{Name: DependencyScheduler, Requires: []string{DependencyServices}, OnStart: a.startScheduler, OnStop: a.stopScheduler},
		startup.Component{Name: DependencyHTTP, Requires: []string{DependencyServices}, OnStart: a.startHTTP, OnStop: a.stopHTTP},
	)

	if err := a.startup.Start(ctx); err != nil {
		a.shutdown()
		return err
	}
	a.health.SetReady(true)
	a.logger.WithContext(ctx).Infof("%s is ready on port %d", a.cfg.AppName, a.cfg.Port)

	<-ctx.Done()
	a.health.SetReady(false)
	return a.shutdown()
}

func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return a.startup.Stop(ctx)
}

// Migrate applies pending migrations and exits.
func (a *App) Migrate(ctx context.Context) error {
	if err := a.connectDatabase(ctx); err != nil {
		return err
	}
	defer a.closeDatabase(ctx)
	return a.migrate()
}

// Sweep runs one expiry sweep and one projection refresh outside the scheduler.
func (a *App) Sweep(ctx context.Context) (int, error) {
	a.startup.Add(
		startup.Component{Name: DependencyDatabase, OnStart: a.connectDatabase, OnStop: a.closeDatabase},
		startup.Component{Name: DependencyRedis, OnStart: a.connectRedis, OnStop: a.closeRedis},
		startup.Component{Name: DependencyServices, Requires: []string{DependencyDatabase, DependencyRedis}, OnStart: a.buildServices},
	)
	if err := a.startup.Start(ctx); err != nil {
		a.shutdown()
		return 0, err
	}
	defer a.shutdown()

	expired, err := a.Services.Engine.SweepExpired(ctx, time.Now())
	if err != nil {
		return expired, err
	}
	return expired, a.Services.Projector.Refresh(ctx)
}

func (a *App) connectDatabase(ctx context.Context) error {
	db, err := database.Connect(ctx, a.cfg.DatabaseDriver, a.cfg.DSN(), a.logger)
	if err != nil {
		return err
	}
	db.SetMaxOpenConns(a.cfg.DatabaseMaxOpenConns)
	db.SetMaxIdleConns(a.cfg.DatabaseMaxIdleConns)
	db.SetConnMaxLifetime(a.cfg.DatabaseConnMaxLifetime)

	a.db = db
	a.health.Register(DependencyDatabase, db, true)
	return nil
}

func (a *App) closeDatabase(context.Context) error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *App) migrateOnStart(context.Context) error {
	if !a.cfg.DatabaseMigrateOnStart {
		a.logger.Info("Skipping migrations on start")
		return nil
	}
	return a.migrate()
}

func (a *App) migrate() error {
	service := database.NewMigrationService(a.logger, database.MigrationConfig{
		MigrationFolderPath: a.cfg.DatabaseMigrationFolderPath,
		Version:             uint(a.cfg.DatabaseMigrationVersion),
		Force:               a.cfg.DatabaseMigrationForce,
		AutoRollback:        a.cfg.DatabaseMigrationAutoRollback,
	})
	return service.MigratePostgres(a.db.Raw(), a.cfg.DatabaseName)
}

func (a *App) connectRedis(ctx context.Context) error {
	client, err := redis.NewClient(ctx, redis.Config{
		Host:     a.cfg.RedisHost,
		Port:     a.cfg.RedisPort,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	}, a.logger)
	if err != nil {
		return err
	}

	a.redis = client
	a.locker = redis.NewLocker(client, "")
	// a redis outage after startup degrades health; postgres stays authoritative
	a.health.Register(DependencyRedis, health.PingFunc(client.Ping), false)
	return nil
}

func (a *App) closeRedis(context.Context) error {
	if a.redis == nil {
		return nil
	}
	return a.redis.Close()
}

func (a *App) startProducer(context.Context) error {
	a.producer = kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      a.cfg.KafkaBrokers,
		Topic:        a.cfg.KafkaEventsTopic,
		BatchSize:    a.cfg.KafkaBatchSize,
		BatchTimeout: time.Duration(a.cfg.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: a.cfg.KafkaRequiredAcks,
		Compression:  a.cfg.KafkaCompression,
	}, a.logger)
	return nil
}

func (a *App) closeProducer(context.Context) error {
	if a.producer == nil {
		return nil
	}
	return a.producer.Close()
}

// buildServices wires repositories into the domain services.
func (a *App) buildServices(context.Context) error {
	equipment, err := matching.LoadEquipmentMatrix(a.cfg.EquipmentMatrixPath)
	if err != nil {
		return err
	}
	location, err := time.LoadLocation(a.cfg.LoadNumberTimezone)
	if err != nil {
		return err
	}
	fieldMappings, err := ingestion.ParseFieldMappings(a.cfg.PostingFieldMappings)
	if err != nil {
		return err
	}

	var (
		tenants   = tenant.NewRepository(a.db, a.logger)
		postings  = posting.NewRepository(a.db, a.logger)
		vehicles  = vehicle.NewRepository(a.db, a.logger)
		plans     = huntplan.NewRepository(a.db, a.logger)
		matches   = match.NewRepository(a.db, a.logger)
		loads     = load.NewRepository(a.db, a.logger)
		sequences = sequence.NewRepository(a.db, a.logger)
		customers = customer.NewRepository(a.db, a.logger)
		invoices  = invoice.NewRepository(a.db, a.logger)
		auditLog  = auditrepo.NewRepository(a.db, a.logger)
	)

	// a nil producer publishes nothing
	var emitter *events.Emitter
	if a.producer != nil {
		emitter = events.NewEmitter(a.producer, a.logger)
	}
	recorder := audit.NewRecorder(auditLog, a.logger)
	projector := projection.NewProjector(a.redis, matches, a.logger)

	matchCfg := matching.DefaultConfig()
	matchCfg.SweepBatchSize = a.cfg.SweepBatchSize
	engine := matching.NewEngine(
		matches,
		vehicles,
		matching.NewEligibility(equipment, nil),
		recorder,
		projector,
		emitter,
		a.logger,
		matchCfg,
	)

	ingest, err := ingestion.NewService(postings, plans, engine, emitter, a.logger, ingestion.Config{
		UpdateLookback: a.cfg.PostingUpdateLookback,
		FieldMappings:  fieldMappings,
	})
	if err != nil {
		return err
	}

	saga := booking.NewSaga(booking.Dependencies{
		Engine:     engine,
		Matches:    matches,
		Postings:   postings,
		Vehicles:   vehicles,
		Loads:      loads,
		Sequences:  sequences,
		Customers:  customers,
		Audit:      recorder,
		Events:     emitter,
		Transactor: a.db,
		Locker:     a.locker,
	}, a.logger, booking.Config{
		LockTTL:            a.cfg.BookingLockTTL,
		MaxSequenceRetries: a.cfg.BookingSequenceMaxRetries,
		Location:           location,
		Statuses: booking.StatusPolicy{
			AutoApproved:  a.cfg.BookingAutoApprovedStatus,
			NeedsApproval: a.cfg.BookingNeedsApprovalStatus,
		},
	})

	guard := invoicing.NewGuard(invoices, loads, a.db, recorder, emitter, invoicing.ReversalPolicy{
		RestoreLoadStatus:  a.cfg.InvoiceReversalRestoreLoadStatus,
		RestoredLoadStatus: a.cfg.InvoiceReversalRestoredLoadStatus,
	}, a.logger)

	a.Services = &Services{
		Resolver:  tenancy.NewResolver(tenants, a.logger),
		Ingestion: ingest,
		HuntPlans: huntplans.NewService(plans, vehicles, recorder, a.logger),
		Engine:    engine,
		Booking:   saga,
		Invoices:  guard,
		Projector: projector,
	}
	return nil
}

func (a *App) startConsumer(ctx context.Context) error {
	if !a.cfg.KafkaConsumerEnabled {
		a.logger.Info("Posting consumer disabled")
		return nil
	}
	a.consumer = kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:       a.cfg.KafkaBrokers,
		Topic:         a.cfg.KafkaPostingsTopic,
		ConsumerGroup: a.cfg.KafkaConsumerGroup,
	}, a.logger, ingestion.MessageHandler(a.Services.Ingestion, a.logger))
	a.health.Register(DependencyConsumer, health.PingFunc(func(context.Context) error {
		if !a.consumer.Health() {
			return errors.New("posting consumer is not running")
		}
		return nil
	}), false)
	// the consumer outlives the startup context
	return a.consumer.Start(context.WithoutCancel(ctx))
}

func (a *App) stopConsumer(context.Context) error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Stop()
}

func (a *App) startScheduler(ctx context.Context) error {
	if !a.cfg.SchedulerEnabled {
		a.logger.Info("Scheduler disabled")
		return nil
	}
	a.scheduler = scheduler.New(a.locker, a.logger, a.Jobs()...)
	return a.scheduler.Start(context.WithoutCancel(ctx))
}

// Jobs are the periodic maintenance tasks.
func (a *App) Jobs() []scheduler.Job {
	return []scheduler.Job{
		{
			Name:     "match-expiry-sweep",
			Interval: a.cfg.SweepInterval,
			Run: func(ctx context.Context) error {
				_, err := a.Services.Engine.SweepExpired(ctx, time.Now())
				return err
			},
		},
		{
			Name:     "match-count-refresh",
			Interval: a.cfg.ProjectionRefreshInterval,
			Run:      a.Services.Projector.Refresh,
		},
	}
}

func (a *App) stopScheduler(ctx context.Context) error {
	if a.scheduler == nil {
		return nil
	}
	return a.scheduler.Stop(ctx)
}

func (a *App) startHTTP(ctx context.Context) error {
	e, err := a.Router(ctx)
	if err != nil {
		return err
	}

	a.server = &http.Server{
		Addr:              ":" + strconv.Itoa(a.cfg.Port),
		Handler:           e,
		ReadTimeout:       time.Duration(a.cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(a.cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(a.cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(a.cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}

	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.WithError(err).Error("HTTP server stopped unexpectedly")
		}
	}()
	return nil
}

func (a *App) stopHTTP(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}

// Router builds the echo instance: health and metrics at the root, the dispatch API under
// /api/v1 behind authentication and tenancy.
func (a *App) Router(ctx context.Context) (*echo.Echo, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(a.logger)

	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: a.cfg.AllowOrigins,
		AllowMethods: a.cfg.AllowMethods,
	}))
	e.Use(otelecho.Middleware(a.cfg.AppName))
	e.Use(middleware.Context(!a.cfg.AuthEnabled))
	e.Use(middleware.Logger(a.logger))

	a.health.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	if a.cfg.AuthEnabled {
		verifier, err := middleware.NewOIDCVerifier(ctx, a.cfg.AuthIssuerURL, a.cfg.AuthClientID)
		if err != nil {
			return nil, err
		}
		api.Use(middleware.Authentication(a.logger, verifier))
	}
	api.Use(middleware.Tenancy(a.Services.Resolver))

	handlers.NewPostingHandler(a.Services.Ingestion, a.logger).Register(api.Group("/postings"))
	handlers.NewHuntPlanHandler(a.Services.HuntPlans, a.logger).Register(api.Group("/hunt-plans"))
	handlers.NewMatchHandler(a.Services.Engine, a.Services.Booking, a.Services.Projector, a.logger).Register(api.Group("/matches"))
	handlers.NewInvoiceHandler(a.Services.Invoices, a.logger).Register(api.Group("/invoices"))

	return e, nil
}
