package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/easysql-ai/easysql-engine/pkg/agent"
	"github.com/easysql-ai/easysql-engine/pkg/config"
	"github.com/easysql-ai/easysql-engine/pkg/conversation"
	"github.com/easysql-ai/easysql-engine/pkg/database"
	"github.com/easysql-ai/easysql-engine/pkg/embeddings"
	"github.com/easysql-ai/easysql-engine/pkg/graphstore"
	"github.com/easysql-ai/easysql-engine/pkg/handlers"
	"github.com/easysql-ai/easysql-engine/pkg/llm"
	"github.com/easysql-ai/easysql-engine/pkg/logging"
	"github.com/easysql-ai/easysql-engine/pkg/retrieval"
	"github.com/easysql-ai/easysql-engine/pkg/services"
	"github.com/easysql-ai/easysql-engine/pkg/session"
	"github.com/easysql-ai/easysql-engine/pkg/sqlexec"
	"github.com/easysql-ai/easysql-engine/pkg/vectorstore"
	"github.com/easysql-ai/easysql-engine/pkg/viz"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("engine exited with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting easysql-engine",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("database", logging.SanitizeDSN(cfg.Database.ConnectionString())))

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := runMigrations(cfg, logger); err != nil {
		return err
	}

	redisClient, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	embedder := embeddings.NewClient(&cfg.Embeddings)
	vectors, err := vectorstore.NewQdrantStore(ctx, &cfg.Qdrant, embedder, logger)
	if err != nil {
		return err
	}

	generator, err := llm.New(&cfg.LLM, llm.PurposeGeneration, logger)
	if err != nil {
		return err
	}
	planner, err := llm.New(&cfg.LLM, llm.PurposePlanning, logger)
	if err != nil {
		return err
	}

	executor, err := sqlexec.New(&cfg.Executor, logger)
	if err != nil {
		return err
	}
	defer func() { _ = executor.Close() }()

	reader := graphstore.NewPostgresReader(db, logger)
	pipeline := retrieval.NewPipeline(vectors, reader, planner, &cfg.Retrieval, logger)
	convo := conversation.NewManager(planner, &cfg.Conversation, logger)

	graph, err := agent.NewGraph(&agent.Deps{
		Generator:    generator,
		Planner:      planner,
		Retriever:    pipeline,
		Vectors:      vectors,
		Executor:     executor,
		Conversation: convo,
		Retrieval:    &cfg.Retrieval,
		Agent:        &cfg.Agent,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	checkpoints := agent.NewCachedCheckpointer(agent.NewPostgresCheckpointer(db), redisClient, logger)
	runner := agent.NewRunner(graph, checkpoints, logger)

	var sessions session.Store
	switch cfg.Session.Backend {
	case "postgres":
		sessions = session.NewPostgresStore(db, logger)
	default:
		sessions = session.NewMemoryStore(cfg.Session.MaxSessions, logger)
	}

	vizPlanner := viz.NewPlanner(planner, logger)
	svc := services.NewQueryService(sessions, runner, executor, vectors, vizPlanner, logger)

	mux := http.NewServeMux()
	handlers.NewQueryHandler(svc, logger).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// runMigrations applies the embedded schema migrations over a short-lived
// stdlib connection; pgxpool handles the rest of the engine's traffic.
func runMigrations(cfg *config.Config, logger *zap.Logger) error {
	migrationDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer func() { _ = migrationDB.Close() }()
	return database.RunMigrations(migrationDB, logger)
}
