package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/akarpov/llmbot-backend/internal/platform/logger"
	"github.com/akarpov/llmbot-backend/internal/repos"
	"github.com/akarpov/llmbot-backend/internal/services"
)

// Worker drains the summarize queue and runs recomputes out of band. Delivery
// is at-least-once: a duplicate or delayed entry is harmless because
// summarization no-ops when no new messages arrived.
type Worker struct {
	log         *logger.Logger
	queue       Queue
	sessions    repos.SessionRepo
	summarizer  services.SummarizerService
	concurrency int
	jobTimeout  time.Duration
}

func NewWorker(
	baseLog *logger.Logger,
	queue Queue,
	sessionRepo repos.SessionRepo,
	summarizer services.SummarizerService,
	concurrency int,
) *Worker {
	if concurrency <= 0 {
		concurrency = 2
	}
	return &Worker{
		log:         baseLog.With("component", "SummarizeWorker"),
		queue:       queue,
		sessions:    sessionRepo,
		summarizer:  summarizer,
		concurrency: concurrency,
		jobTimeout:  2 * time.Minute,
	}
}

func (w *Worker) Start(ctx context.Context) {
	go func() {
		g, groupCtx := errgroup.WithContext(ctx)
		for i := 0; i < w.concurrency; i++ {
			g.Go(func() error {
				w.loop(groupCtx)
				return nil
			})
		}
		_ = g.Wait()
	}()
}

func (w *Worker) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		sessionID, err := w.queue.Dequeue(ctx)
		if errors.Is(err, ErrQueueEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Warn("Dequeue failed", "error", err)
			time.Sleep(time.Second)
			continue
		}

		w.runOne(ctx, sessionID)
	}
}

func (w *Worker) runOne(ctx context.Context, sessionID uuid.UUID) {
	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	session, err := w.sessions.GetByID(jobCtx, nil, sessionID)
	if err != nil {
		w.log.Warn("Session lookup failed, dropping job", "session_id", sessionID, "error", err)
		return
	}
	if session == nil {
		w.log.Warn("Session not found, dropping job", "session_id", sessionID)
		return
	}

	if _, err := w.summarizer.Summarize(jobCtx, sessionID); err != nil {
		// The message log is untouched; the next threshold crossing retries.
		w.log.Error("Background summarization failed", "session_id", sessionID, "error", err)
		return
	}
	w.log.Info("Background summarization done", "session_id", sessionID)
}
