package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/eldercare/companion-go/pkg/metrics"
)

// Background task names, used in logs and metrics.
const (
	TaskChatLog   = "chat_log"
	TaskActivity  = "activity"
	TaskMemories  = "memories"
	TaskSummary   = "summary"
	statusOK      = "ok"
	statusError   = "error"
	statusDropped = "dropped"
	statusPanic   = "panic"
)

// taskRunner executes post-turn work in goroutines without blocking the reply.
//
// Failures are logged and counted, never returned. Each task gets its own timeout and
// survives the cancellation of the request that scheduled it. Tasks that call the LLM
// first take a token from a shared limiter; when none is available before the timeout
// the task is dropped.
type taskRunner struct {
	wg      sync.WaitGroup
	limiter *rate.Limiter
	timeout time.Duration
	log     zerolog.Logger
	metrics *metrics.Manager
}

func newTaskRunner(timeout time.Duration, perMinute, burst int, log zerolog.Logger, m *metrics.Manager) *taskRunner {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(float64(perMinute) / 60)
	}
	if burst <= 0 {
		burst = 1
	}
	return &taskRunner{
		limiter: rate.NewLimiter(limit, burst),
		timeout: timeout,
		log:     log,
		metrics: m,
	}
}

// Go schedules fn. parent only contributes its values (turn id, span); its cancellation
// does not stop the task.
func (r *taskRunner) Go(parent context.Context, name string, usesLLM bool, fn func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.timeout)
		defer cancel()

		log := zerolog.Ctx(ctx)
		if log.GetLevel() == zerolog.Disabled {
			log = &r.log
		}

		defer func() {
			if p := recover(); p != nil {
				log.Error().Str("task", name).Str("panic", fmt.Sprint(p)).Msg("background task panicked")
				r.metrics.RecordBackgroundTask(name, statusPanic)
			}
		}()

		if usesLLM {
			if err := r.limiter.Wait(ctx); err != nil {
				log.Warn().Str("task", name).Err(err).Msg("background task dropped")
				r.metrics.RecordBackgroundTask(name, statusDropped)
				return
			}
		}

		start := time.Now()
		if err := fn(ctx); err != nil {
			log.Warn().Str("task", name).Err(err).Dur("elapsed", time.Since(start)).Msg("background task failed")
			r.metrics.RecordBackgroundTask(name, statusError)
			return
		}
		log.Debug().Str("task", name).Dur("elapsed", time.Since(start)).Msg("background task done")
		r.metrics.RecordBackgroundTask(name, statusOK)
	}()
}

// Wait blocks until every scheduled task has finished.
func (r *taskRunner) Wait() {
	r.wg.Wait()
}
