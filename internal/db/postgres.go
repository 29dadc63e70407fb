package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/akarpov/llmbot-backend/internal/platform/logger"
	"github.com/akarpov/llmbot-backend/internal/types"
	"github.com/akarpov/llmbot-backend/internal/utils"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	postgresHost := utils.GetEnv("POSTGRES_HOST", "localhost", log)
	postgresPort := utils.GetEnv("POSTGRES_PORT", "5432", log)
	postgresUser := utils.GetEnv("POSTGRES_USER", "postgres", log)
	postgresPassword := utils.GetEnv("POSTGRES_PASSWORD", "", log)
	postgresName := utils.GetEnv("POSTGRES_NAME", "llmbot", log)

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		postgresUser, postgresPassword, postgresHost, postgresPort, postgresName)

	serviceLog.Info("Connecting to Postgres...")
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		serviceLog.Error("Failed to connect to Postgres", "error", err)
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return &PostgresService{db: gdb, log: serviceLog}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	if err := Migrate(s.db); err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	return nil
}

func (s *PostgresService) DB() *gorm.DB {
	return s.db
}

// Migrate creates the schema plus the partial unique index that makes
// resolve-or-create race-safe: two concurrent first-turns for the same
// (user_key, chat_key) pair cannot both insert an active session.
func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(
		&types.ChatSession{},
		&types.Message{},
		&types.ConversationSummary{},
		&types.EmbeddingRecord{},
	); err != nil {
		return err
	}
	return gdb.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_chat_session_active_pair
		ON chat_session (user_key, chat_key)
		WHERE is_active
	`).Error
}
