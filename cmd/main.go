package main

import (
	"context"
	"fmt"
	"os"

	"github.com/akarpov/llmbot-backend/internal/db"
	"github.com/akarpov/llmbot-backend/internal/handlers"
	"github.com/akarpov/llmbot-backend/internal/jobs"
	"github.com/akarpov/llmbot-backend/internal/platform/logger"
	"github.com/akarpov/llmbot-backend/internal/platform/openai"
	"github.com/akarpov/llmbot-backend/internal/platform/qdrant"
	"github.com/akarpov/llmbot-backend/internal/repos"
	"github.com/akarpov/llmbot-backend/internal/server"
	"github.com/akarpov/llmbot-backend/internal/services"
	"github.com/akarpov/llmbot-backend/internal/utils"
)

const defaultSystemPrompt = "You are a helpful assistant. " +
	"Answer concisely and politely. If you are not sure, say that you are not sure."

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Config
	log.Info("Loading configuration from environment...")
	chatCfg := services.ChatConfig{
		SystemPrompt:     utils.GetEnv("SYSTEM_PROMPT", defaultSystemPrompt, log),
		RecentLimit:      utils.GetEnvAsInt("SHORT_HISTORY_LIMIT", 8, log),
		SummaryThreshold: utils.GetEnvAsInt("SUMMARY_THRESHOLD", 8, log),
		RAGEnabled:       utils.GetEnvAsBool("RAG_ENABLED", false, log),
		RAGTopK:          utils.GetEnvAsInt("RAG_TOP_K", 5, log),
	}
	summaryNewMessagesLimit := utils.GetEnvAsInt("SUMMARY_NEW_MESSAGES_LIMIT", 200, log)
	useWorkerForSummary := utils.GetEnvAsBool("USE_WORKER_FOR_SUMMARY", true, log)
	workerConcurrency := utils.GetEnvAsInt("SUMMARY_WORKER_CONCURRENCY", 2, log)

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err := postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up repos...")
	sessionRepo := repos.NewSessionRepo(thePG, log)
	messageRepo := repos.NewMessageRepo(thePG, log, sessionRepo)
	summaryRepo := repos.NewSummaryRepo(thePG, log)
	embeddingRepo := repos.NewEmbeddingRecordRepo(thePG, log)

	// Collaborator clients
	log.Info("Setting up collaborator clients...")
	llmClient, err := openai.NewClient(log)
	if err != nil {
		log.Error("Could not init OpenAI client", "error", err)
		os.Exit(1)
	}

	var semantic services.SemanticMemoryService
	if chatCfg.RAGEnabled {
		vectorIndex, err := qdrant.NewIndex(log, qdrant.ConfigFromEnv(log))
		if err != nil {
			log.Error("Could not init Qdrant index", "error", err)
			os.Exit(1)
		}
		semantic = services.NewSemanticMemoryService(log, llmClient, vectorIndex)
	}

	// Services
	log.Info("Setting up services...")
	summarizer := services.NewSummarizerService(thePG, log, messageRepo, summaryRepo, llmClient, summaryNewMessagesLimit)

	var dispatch services.SummarizeDispatcher
	if useWorkerForSummary {
		queue, err := jobs.NewRedisQueue(log)
		if err != nil {
			log.Error("Could not init summarize queue", "error", err)
			os.Exit(1)
		}
		defer queue.Close()

		worker := jobs.NewWorker(log, queue, sessionRepo, summarizer, workerConcurrency)
		worker.Start(context.Background())
		dispatch = queue
	}

	chatService := services.NewChatService(
		thePG,
		log,
		chatCfg,
		sessionRepo,
		messageRepo,
		summaryRepo,
		embeddingRepo,
		llmClient,
		semantic,
		summarizer,
		dispatch,
	)

	// Handlers + router
	log.Info("Setting up router...")
	chatHandler := handlers.NewChatHandler(log, chatService)
	router := server.NewRouter(server.RouterConfig{
		ChatHandler: chatHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	log.Info("Server listening", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Server failed", "error", err)
	}
}
