package app

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/lexfind/lexfind-backend/internal/clients/gcs"
	"github.com/lexfind/lexfind-backend/internal/clients/gemini"
	"github.com/lexfind/lexfind-backend/internal/clients/pinecone"
	"github.com/lexfind/lexfind-backend/internal/db"
	"github.com/lexfind/lexfind-backend/internal/embedding"
	"github.com/lexfind/lexfind-backend/internal/handlers"
	"github.com/lexfind/lexfind-backend/internal/ingestion/pipeline"
	"github.com/lexfind/lexfind-backend/internal/middleware"
	"github.com/lexfind/lexfind-backend/internal/platform/limiter"
	"github.com/lexfind/lexfind-backend/internal/platform/logger"
	"github.com/lexfind/lexfind-backend/internal/repos"
	"github.com/lexfind/lexfind-backend/internal/retrieval"
	"github.com/lexfind/lexfind-backend/internal/server"
	"github.com/lexfind/lexfind-backend/internal/services"
)

type App struct {
	Log    *logger.Logger
	DB     *gorm.DB
	Router *gin.Engine
	Cfg    Config

	gemini *gemini.Client
}

func New(ctx context.Context) (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg := LoadConfig()

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	// Repos
	userRepo := repos.NewUserRepo(theDB, log)
	docRepo := repos.NewDocumentRepo(theDB, log)
	chunkRepo := repos.NewChunkRepo(theDB, log)

	// External clients
	blobs, err := gcs.NewBlobStore(ctx, log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init blob store: %w", err)
	}
	pcClient, err := pinecone.New(log, pinecone.Config{APIKey: cfg.PineconeAPIKey})
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init pinecone client: %w", err)
	}
	vectors, err := pinecone.NewVectorStore(log, pcClient, pinecone.VectorStoreConfig{
		IndexName: cfg.IndexName,
		Dimension: cfg.IndexDimension,
		Cloud:     cfg.IndexCloud,
		Region:    cfg.IndexRegion,
	})
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init vector store: %w", err)
	}
	gem, err := gemini.New(ctx, log, gemini.Config{APIKey: cfg.GeminiAPIKey})
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init gemini client: %w", err)
	}

	// Domain services
	embedder, err := embedding.NewGenerator(log, gem, embedding.Config{Dimension: cfg.IndexDimension})
	if err != nil {
		log.Sync()
		return nil, err
	}
	ingest, err := pipeline.New(log, blobs, gem, embedder, vectors, docRepo, pipeline.Config{
		MaxFileSize:  cfg.MaxFileSize,
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
	})
	if err != nil {
		log.Sync()
		return nil, err
	}
	search, err := retrieval.NewService(log, embedder, vectors, docRepo, gem)
	if err != nil {
		log.Sync()
		return nil, err
	}
	auth, err := services.NewAuthService(log, userRepo, services.AuthConfig{
		JWTSecret: cfg.JWTSecretKey,
		TokenTTL:  cfg.TokenTTL,
	})
	if err != nil {
		log.Sync()
		return nil, err
	}

	// HTTP surface
	authMW := middleware.NewAuthMiddleware(log, auth)
	rateMW := middleware.NewRateLimitMiddleware(log, limiter.New(cfg.RateLimit, cfg.RateLimitWindow))
	router := server.NewRouter(server.RouterConfig{
		AuthHandler:         handlers.NewAuthHandler(auth),
		DocumentHandler:     handlers.NewDocumentHandler(log, ingest, search, docRepo, chunkRepo),
		ChatHandler:         handlers.NewChatHandler(log, search),
		HealthHandler:       handlers.NewHealthHandler(),
		AuthMiddleware:      authMW,
		RateLimitMiddleware: rateMW,
		AllowOrigins:        cfg.AllowOrigins,
	})

	// Index creation can take minutes on first boot, so it runs here rather
	// than on the first upload.
	if err := vectors.EnsureIndex(ctx); err != nil {
		log.Warn("vector index not ready at startup, will retry on first use", "error", err)
	}

	return &App{
		Log:    log,
		DB:     theDB,
		Router: router,
		Cfg:    cfg,
		gemini: gem,
	}, nil
}

func (a *App) Run(addr string) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.gemini != nil {
		if err := a.gemini.Close(); err != nil {
			a.Log.Warn("close gemini client", "error", err)
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
