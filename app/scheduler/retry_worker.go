// Package scheduler
package scheduler

import (
	"context"
	"io"
	"log"
	"os"
	"time"

	businessflow "github.com/lettable/deposync/business_flow"
	"github.com/lettable/deposync/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// RetryWorker periodically drives the pending-job queue: it sweeps stale state
// and retries jobs whose backoff window has elapsed.
type RetryWorker struct {
	tickFlow businessflow.TickFlow
	logger   *log.Logger
	interval time.Duration
	cfg      *config.SchedulerConfig

	logSink io.Closer
}

func NewRetryWorker(
	tickFlow businessflow.TickFlow,
	schedulerCfg config.SchedulerConfig,
	loggingCfg config.LoggingConfig,
) *RetryWorker {
	interval := schedulerCfg.TickInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	w := &RetryWorker{
		tickFlow: tickFlow,
		interval: interval,
		cfg:      &schedulerCfg,
	}
	w.initWorkerLogger(loggingCfg)

	return w
}

// initWorkerLogger configures a logger that writes to stdout and, when file output
// is enabled, to a rotating log file alongside the main application log.
func (w *RetryWorker) initWorkerLogger(cfg config.LoggingConfig) {
	writers := []io.Writer{os.Stdout}

	if cfg.Output == "file" || cfg.Output == "both" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		w.logSink = rotating
		writers = append(writers, rotating)
	}

	// log.Logger is goroutine-safe; include timestamps with microseconds and UTC
	w.logger = log.New(io.MultiWriter(writers...), "retry-worker ", log.LstdFlags|log.Lmicroseconds|log.LUTC)
}

// Start launches the worker loop in a background goroutine and returns a stop function
func (w *RetryWorker) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		w.runOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.runOnce(ctx)
			}
		}
	}()

	return func() {
		cancel()
		if w.logSink != nil {
			_ = w.logSink.Close()
		}
	}
}

func (w *RetryWorker) runOnce(ctx context.Context) {
	started := time.Now()

	summary, err := w.tickFlow.RunTick(ctx)
	if err != nil {
		w.logger.Printf("retry-worker: tick failed: %v", err)
		return
	}

	if summary.Processed == 0 && summary.Swept == 0 {
		return
	}
	w.logger.Printf("retry-worker: tick done in %s: processed=%d completed=%d failed=%d still_pending=%d swept=%d",
		time.Since(started).Round(time.Millisecond),
		summary.Processed, summary.Completed, summary.Failed, summary.StillPending, summary.Swept)
}
