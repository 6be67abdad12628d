package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/transflow/api/internal/agent"
	"github.com/transflow/api/internal/auth"
	"github.com/transflow/api/internal/batch"
	"github.com/transflow/api/internal/client"
	"github.com/transflow/api/internal/config"
	"github.com/transflow/api/internal/docstate"
	"github.com/transflow/api/internal/handler"
	"github.com/transflow/api/internal/jobcancel"
	"github.com/transflow/api/internal/logger"
	"github.com/transflow/api/internal/middleware"
	"github.com/transflow/api/internal/model"
	"github.com/transflow/api/internal/progress"
	"github.com/transflow/api/internal/repository"
	"github.com/transflow/api/internal/server"
	"github.com/transflow/api/internal/service"
	ws "github.com/transflow/api/internal/websocket"
	"github.com/transflow/api/internal/worker"
)

// @title          Transflow API
// @version        1.0
// @description    Backend API for document translation: parsing, segmentation and agent pipelines.
// @BasePath       /
// @schemes        http https
// @securityDefinitions.apikey BearerAuth
// @in             header
// @name           Authorization
// @description    Enter your bearer token in the format **Bearer &lt;token&gt;**
func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Default().Fatalf("Failed to load config: %v", err)
	}

	log := logger.New(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "transflow-api",
		File:        cfg.Log.File,
		FileOnly:    cfg.Log.FileOnly,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAgeDays:  cfg.Log.MaxAgeDays,
		Compress:    cfg.Log.Compress,
	})
	logger.SetDefault(log)
	defer logger.Sync()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Unit store
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Redis backs batch progress, rate limits and the task queue
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warnf("Redis not available: %v", err)
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	validate := validator.New()

	hub := ws.NewHub()
	go hub.Run(ctx)

	jobs := jobcancel.New()
	go jobs.RunPurger(ctx, cfg.Batch.PurgeInterval, cfg.Batch.CancelHorizon)

	// Repositories
	documentRepo := repository.NewDocumentRepository(db)
	unitRepo := repository.NewUnitRepository(db)
	recordRepo := repository.NewStageRecordRepository(db)
	dictionaryRepo := repository.NewDictionaryRepository(db)
	store := progress.NewStore(redisClient, cfg.Batch.KeyTTL)
	machine := docstate.NewMachine(documentRepo)

	// External clients
	llmClient := client.NewLLMClient(&cfg.LLM)
	embeddingClient := client.NewEmbeddingClient(&cfg.Embedding)

	// Translation memory is optional; without qdrant the discourse lookup
	// returns no hits and persisted translations are not indexed.
	var (
		memoryService *service.MemoryService
		memory        agent.TranslationMemory
		remember      batch.Memory
	)
	if cfg.Qdrant.Host != "" && embeddingClient.IsConfigured() {
		memoryRepo, err := repository.NewMemoryRepository(&repository.MemoryConnectionConfig{
			Host:            cfg.Qdrant.Host,
			Port:            cfg.Qdrant.Port,
			Collection:      cfg.Qdrant.Collection,
			APIKey:          cfg.Qdrant.APIKey,
			UseTLS:          cfg.Qdrant.UseTLS,
			VectorDimension: cfg.Embedding.Dimensions,
		})
		if err != nil {
			log.Warnf("Translation memory not initialized: %v", err)
		} else {
			defer memoryRepo.Close()
			ensureCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := memoryRepo.EnsureCollection(ensureCtx); err != nil {
				log.Warnf("Translation memory collection check failed: %v", err)
			}
			cancel()
			memoryService = service.NewMemoryService(embeddingClient, memoryRepo)
			memory = memoryService
			remember = memoryService
		}
	} else {
		log.Info("Translation memory not configured")
	}

	// Object storage is optional; parse and uploads fail without it
	var storage client.StorageClient
	if cfg.Storage.AccessKeyID != "" && cfg.Storage.SecretAccessKey != "" {
		s3Client, err := client.NewS3Client(&cfg.Storage)
		if err != nil {
			log.Warnf("Object storage not initialized: %v", err)
		} else {
			storage = s3Client
		}
	} else {
		log.Info("Object storage not configured")
	}

	// Token verification: Zitadel JWKS first, legacy HMAC as fallback
	var verifiers auth.Chain
	var jwksVerifier *auth.JWKSVerifier
	if cfg.Zitadel.Issuer != "" {
		jwksVerifier, err = auth.NewJWKSVerifier(&cfg.Zitadel)
		if err != nil {
			log.Warnf("JWKS verifier not initialized: %v", err)
		} else {
			verifiers = append(verifiers, jwksVerifier)
		}
	}
	if cfg.JWT.Secret != "" {
		verifiers = append(verifiers, auth.NewHMACVerifier(cfg.JWT.Secret))
	}
	defer verifiers.Close()

	// Pipeline
	runner := agent.NewRunner(llmClient, dictionaryRepo, memory)
	documentTerms := agent.NewDocumentTerms(llmClient)

	// Services
	orchestrator := batch.NewOrchestrator(store, asynqClient, unitRepo, recordRepo, machine, remember, batch.Config{
		MaxRetry:  cfg.Queue.MaxRetry,
		Retention: cfg.Queue.Retention,
	})
	documentService := service.NewDocumentService(
		documentRepo, unitRepo, dictionaryRepo, machine, store, storage, asynqClient, documentTerms, jobs,
		service.DocumentConfig{MaxRetry: cfg.Queue.MaxRetry, Retention: cfg.Queue.Retention},
	)
	unitService := service.NewUnitService(unitRepo, recordRepo)
	agentService := service.NewAgentService(runner, cfg.Batch.UnitTimeout)
	uploadService := service.NewUploadService(storage, cfg.Storage.URLExpiry)

	// Middleware
	var apiAuth fiber.Handler
	if cfg.Gateway.Enabled {
		// Behind the gateway: ForwardAuth verified the token, read X-User-* headers
		log.Info("Gateway mode enabled, using header-based auth")
		apiAuth = middleware.GatewayAuthMiddleware()
	} else {
		apiAuth = middleware.NewAuthMiddleware(verifiers).Authenticate()
	}

	app := server.New(server.Handlers{
		Health: handler.NewHealthHandler(db, redisClient, fiber.Map{
			"llm":       llmClient.IsConfigured(),
			"embedding": embeddingClient.IsConfigured(),
			"memory":    memoryService != nil,
			"storage":   storage != nil,
			"auth":      len(verifiers) > 0,
		}),
		Auth:     handler.NewAuthHandler(verifiers),
		Batch:    handler.NewBatchHandler(orchestrator, validate),
		Document: handler.NewDocumentHandler(documentService, validate),
		Unit:     handler.NewUnitHandler(unitService, validate),
		Agent:    handler.NewAgentHandler(agentService, validate),
		Upload:   handler.NewUploadHandler(uploadService, validate),
		Job:      handler.NewJobHandler(jobs),
	}, server.Options{
		BodyLimitMB:      cfg.Server.BodyLimit,
		Auth:             apiAuth,
		RateLimiter:      middleware.NewRateLimiter(redisClient),
		BatchStartPerMin: cfg.RateLimit.BatchStartPerMin,
		AgentPerMin:      cfg.RateLimit.AgentPerMin,
		Hub:              hub,
	})

	// Workers
	mux := asynq.NewServeMux()
	worker.NewUnitWorker(runner, store, hub, cfg.Batch.UnitTimeout).Register(mux)
	worker.NewDocumentWorker(documentTerms, unitRepo, machine, store, cfg.Batch.MaxTerms).Register(mux)

	srv := newWorkerServer(cfg, redisOpt, log)
	go func() {
		if err := srv.Run(mux); err != nil {
			log.Errorf("Asynq worker error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("Shutting down server...")
		srv.Shutdown()
		stop()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Errorf("Server shutdown error: %v", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	log.Infof("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func newWorkerServer(cfg *config.Config, redisOpt asynq.RedisClientOpt, log *logger.Logger) *asynq.Server {
	asynqLogLevel := asynq.InfoLevel
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		asynqLogLevel = asynq.DebugLevel
	case "warn":
		asynqLogLevel = asynq.WarnLevel
	case "error":
		asynqLogLevel = asynq.ErrorLevel
	}

	queues := map[string]int{batch.QueueDocuments: 2}
	for _, phase := range model.ValidPhases {
		queues[batch.Queue(phase)] = 3
	}

	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Queue.Concurrency,
		Queues:      queues,
		Logger:      logger.NewAsynqAdapter(log.WithField(logger.FieldComponent, "asynq")),
		LogLevel:    asynqLogLevel,
	})
}
