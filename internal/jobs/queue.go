package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/akarpov/llmbot-backend/internal/platform/logger"
	"github.com/akarpov/llmbot-backend/internal/utils"
)

// ErrQueueEmpty is returned by Dequeue when no work arrived within the poll
// interval.
var ErrQueueEmpty = errors.New("summarize queue empty")

// Queue is the at-least-once summarize work queue. Enqueue is the producer
// side used by the turn handler; Dequeue is consumed by the worker.
type Queue interface {
	Enqueue(ctx context.Context, sessionID uuid.UUID) error
	Dequeue(ctx context.Context) (uuid.UUID, error)
	Close() error
}

type redisQueue struct {
	log  *logger.Logger
	rdb  *goredis.Client
	key  string
	poll time.Duration
}

func NewRedisQueue(log *logger.Logger) (Queue, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(utils.GetEnv("REDIS_ADDR", "", log))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	key := utils.GetEnv("SUMMARIZE_QUEUE_KEY", "summarize:sessions", log)

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisQueue{
		log:  log.With("service", "RedisSummarizeQueue"),
		rdb:  rdb,
		key:  key,
		poll: 5 * time.Second,
	}, nil
}

func (q *redisQueue) Enqueue(ctx context.Context, sessionID uuid.UUID) error {
	if q == nil || q.rdb == nil {
		return fmt.Errorf("summarize queue not initialized")
	}
	return q.rdb.LPush(ctx, q.key, sessionID.String()).Err()
}

func (q *redisQueue) Dequeue(ctx context.Context) (uuid.UUID, error) {
	if q == nil || q.rdb == nil {
		return uuid.Nil, fmt.Errorf("summarize queue not initialized")
	}

	vals, err := q.rdb.BRPop(ctx, q.poll, q.key).Result()
	if errors.Is(err, goredis.Nil) {
		return uuid.Nil, ErrQueueEmpty
	}
	if err != nil {
		return uuid.Nil, err
	}
	// BRPOP returns [key, value].
	if len(vals) != 2 {
		return uuid.Nil, fmt.Errorf("unexpected BRPOP reply length: %d", len(vals))
	}
	id, err := uuid.Parse(vals[1])
	if err != nil {
		return uuid.Nil, fmt.Errorf("bad session id on queue: %w", err)
	}
	return id, nil
}

func (q *redisQueue) Close() error {
	if q == nil || q.rdb == nil {
		return nil
	}
	return q.rdb.Close()
}
