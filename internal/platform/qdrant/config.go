package qdrant

import (
	"fmt"
	"strings"
	"time"

	"github.com/akarpov/llmbot-backend/internal/platform/logger"
	"github.com/akarpov/llmbot-backend/internal/utils"
)

type Config struct {
	URL        string
	Collection string
	Timeout    time.Duration
}

func ConfigFromEnv(log *logger.Logger) Config {
	timeoutSec := utils.GetEnvAsInt("QDRANT_TIMEOUT_SECONDS", 10, log)
	return Config{
		URL:        utils.GetEnv("QDRANT_URL", "http://localhost:6333", log),
		Collection: utils.GetEnv("QDRANT_COLLECTION", "chat_embeddings", log),
		Timeout:    time.Duration(timeoutSec) * time.Second,
	}
}

func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.URL) == "" {
		return fmt.Errorf("qdrant url is required")
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		return fmt.Errorf("qdrant collection is required")
	}
	return nil
}
