package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awstextract "github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/gin-gonic/gin"

	"cim-backend/internal/documents"
	"cim-backend/internal/extract"
	"cim-backend/internal/extractions"
	"cim-backend/internal/payload"
	"cim-backend/internal/providers"
	"cim-backend/internal/providers/anthropic"
	"cim-backend/internal/providers/grok"
	"cim-backend/internal/providers/openai"
	textractprov "cim-backend/internal/providers/textract"
	"cim-backend/internal/queue"
	"cim-backend/internal/resilience"
	"cim-backend/internal/shared/config"
	"cim-backend/internal/shared/server"
	"cim-backend/internal/shared/storage/db"
	"cim-backend/internal/shared/storage/object"
	localstore "cim-backend/internal/shared/storage/object/local"
	s3store "cim-backend/internal/shared/storage/object/s3"
)

// extractionPrompt instructs providers to return the canonical financial
// payload as a bare JSON object. The detailed field list lives in the schema;
// the prompt only has to pin the output contract.
const extractionPrompt = `You are analyzing a Confidential Information Memorandum (CIM). ` +
	`Extract the business name, business type, purchase price, and all financial series ` +
	`(revenue, EBITDA, adjusted EBITDA, SDE, cash flow, gross profit) by fiscal year, ` +
	`plus any key ratios. Respond with a single JSON object and no surrounding prose. ` +
	`Use null for values the document does not state; never invent numbers.`

// App holds shared dependencies built once at process start.
type App struct {
	Config config.Config
	Router *gin.Engine
	DB     *sql.DB
	Store  object.ObjectStore
	Queue  queue.Client

	Breakers *resilience.Registry

	DocumentsRepo   documents.Repo
	ExtractionsRepo extractions.Repo

	DocumentsService   *documents.Service
	ExtractionsService *extractions.Service

	DocumentsHandler   *documents.Handler
	ExtractionsHandler *extractions.Handler
}

// Build prepares shared dependencies and wires the router.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	queueClient, err := buildQueue(ctx, cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		DB:     sqlDB,
		Store:  store,
		Queue:  queueClient,
	}

	if err := buildServices(ctx, app); err != nil {
		return nil, err
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:      app.Config,
		Documents:   app.DocumentsHandler,
		Extractions: app.ExtractionsHandler,
		Breakers:    app.Breakers,
	})

	return app, nil
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repositories")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	opts := db.OptionsFromEnv(db.DefaultServerOptions())
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory repositories: %v", err)
			return nil, nil
		}
		return nil, err
	}

	if err := db.RunMigrations(ctx, sqlDB); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildQueue(ctx context.Context, cfg config.Config) (queue.Client, error) {
	if strings.TrimSpace(cfg.SQSQueueURL) == "" {
		return nil, nil
	}
	return queue.NewSQSClient(ctx)
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}

func buildServices(ctx context.Context, app *App) error {
	cfg := app.Config

	var docRepo documents.Repo
	var extractionRepo extractions.Repo
	if app.DB != nil {
		docRepo = &documents.PGRepo{DB: app.DB}
		extractionRepo = &extractions.PGRepo{DB: app.DB}
	} else {
		docRepo = documents.NewMemoryRepo()
		extractionRepo = extractions.NewMemoryRepo()
	}

	breakerConfigs := make(map[string]resilience.BreakerConfig, len(cfg.ProviderBreakers))
	for name, settings := range cfg.ProviderBreakers {
		breakerConfigs[name] = resilience.BreakerConfig{
			FailureThreshold: settings.FailureThreshold,
			Timeout:          settings.Timeout,
			RetryTimeout:     settings.RetryTimeout,
		}
	}
	app.Breakers = resilience.NewRegistry(breakerConfigs)

	adapters, err := buildAdapters(ctx, cfg)
	if err != nil {
		return err
	}

	optimizer := payload.NewOptimizer(payload.Config{
		TargetSizeBytes:  int64(cfg.PayloadTargetMB) * 1024 * 1024,
		WarningSizeBytes: int64(cfg.PayloadWarningMB) * 1024 * 1024,
		HardLimitBytes:   int64(cfg.PayloadHardLimitMB) * 1024 * 1024,
		MaxPages:         cfg.PayloadMaxPages,
	}, nil)

	orchestrator := &extractions.Orchestrator{
		Planner: &extractions.Planner{
			VisionThresholdBytes: optimizer.Config().TargetSizeBytes,
			OCRAvailable:         adapters[extractions.MethodOCR] != nil,
		},
		Breakers:  app.Breakers,
		Adapters:  adapters,
		Retry:     resilience.RetryPolicy{MaxRetries: cfg.RetryMaxRetries, BaseDelay: cfg.RetryBaseDelay, MaxDelay: cfg.RetryMaxDelay, Factor: 2},
		Optimizer: optimizer,
		Score:     extractions.DefaultScorer,
		Prompt:    extractionPrompt,
		ExtractText: func(ctx context.Context, fileBytes []byte, fileName string) (string, error) {
			return extract.FromBytes(ctx, fileBytes, "", fileName)
		},
	}

	docSvc := &documents.Service{Store: app.Store, Repo: docRepo}
	extractionSvc := &extractions.Service{
		Repo:         extractionRepo,
		DocRepo:      docRepo,
		Store:        app.Store,
		Orchestrator: orchestrator,
		Queue:        app.Queue,
	}

	app.DocumentsRepo = docRepo
	app.ExtractionsRepo = extractionRepo
	app.DocumentsService = docSvc
	app.ExtractionsService = extractionSvc
	app.DocumentsHandler = documents.NewHandler(docSvc)
	app.ExtractionsHandler = extractions.NewHandler(extractionSvc)
	return nil
}

// buildAdapters maps extraction methods to provider adapters. Providers with
// no credentials are simply left out; the orchestrator records a failed
// attempt for methods without an adapter instead of crashing at startup.
func buildAdapters(ctx context.Context, cfg config.Config) (map[string]providers.Adapter, error) {
	adapters := map[string]providers.Adapter{}

	var vision providers.Adapter
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		client, err := openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel)
		if err != nil {
			return nil, err
		}
		vision = client
		adapters[extractions.MethodVision] = client
	}

	var text providers.Adapter
	switch {
	case strings.TrimSpace(cfg.AnthropicAPIKey) != "":
		client, err := anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
		if err != nil {
			return nil, err
		}
		text = client
	case strings.TrimSpace(cfg.GrokAPIKey) != "":
		client, err := grok.NewClient(cfg.GrokAPIKey, cfg.GrokModel)
		if err != nil {
			return nil, err
		}
		text = client
	default:
		text = vision
	}
	if text != nil {
		adapters[extractions.MethodText] = text
	}

	if cfg.TextractEnabled && text != nil {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("load aws config for textract: %w", err)
		}
		ocr, err := textractprov.NewClient(awstextract.NewFromConfig(awsCfg), text)
		if err != nil {
			return nil, err
		}
		adapters[extractions.MethodOCR] = ocr
	}

	return adapters, nil
}
