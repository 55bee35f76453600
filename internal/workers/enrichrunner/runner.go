package enrichrunner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"b2brecon/internal/domain"
	"b2brecon/internal/metrics"
	"b2brecon/internal/ports"
)

// Processor extracts one domain. Failures are reported inside the result.
type Processor interface {
	Process(ctx context.Context, domainName string) domain.EnrichmentResult
}

// Run starts worker goroutines that claim jobs and process them. It returns
// immediately; workers stop when ctx is cancelled.
func Run(ctx context.Context, queue ports.JobQueue, processor Processor, concurrency int, pollInterval time.Duration, log *zap.Logger) {
	if concurrency < 1 {
		return
	}
	if log == nil {
		log = zap.NewNop()
	}
	tasks := make(chan ports.EnrichmentTask, concurrency)

	// dispatcher loop
	go func() {
		defer close(tasks)
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for {
					task, found, err := queue.ClaimNext(ctx)
					if err != nil {
						if ctx.Err() == nil {
							log.Warn("job claim error", zap.Error(err))
						}
						break
					}
					if !found {
						break
					}
					select {
					case tasks <- task:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	for i := 0; i < concurrency; i++ {
		go func(idx int) {
			wlog := log.With(zap.Int("worker", idx))
			for task := range tasks {
				if err := ProcessInline(ctx, queue, processor, task, wlog); err != nil {
					wlog.Warn("job not completed", zap.String("job_id", task.JobID), zap.Error(err))
				}
			}
		}(i)
	}
}

// ProcessInline works through a claimed task synchronously, recording each
// result as it lands, then completes or fails the job. A cancelled context
// leaves the job running so a later RequeueStale can hand it out again.
func ProcessInline(ctx context.Context, queue ports.JobQueue, processor Processor, task ports.EnrichmentTask, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("job_id", task.JobID), zap.String("run_id", task.RunID))
	start := time.Now()
	err := process(ctx, queue, processor, task, log)
	switch {
	case err == nil:
		if err := queue.MarkCompleted(ctx, task.JobID); err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
		log.Info("job completed", zap.Int("domains", len(task.Domains)), zap.Duration("took", time.Since(start)))
		return nil
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		if merr := queue.MarkFailed(context.WithoutCancel(ctx), task.JobID, err.Error()); merr != nil {
			log.Error("mark failed", zap.Error(merr))
		}
		return err
	}
}

func process(ctx context.Context, queue ports.JobQueue, processor Processor, task ports.EnrichmentTask, log *zap.Logger) error {
	for _, name := range task.Domains {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := queue.SetCurrentDomain(ctx, task.JobID, name); err != nil {
			log.Debug("set current domain", zap.Error(err))
		}
		res := processor.Process(ctx, name)
		// Keyed by the requested name so results line up with the selection.
		res.Domain = name
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := queue.RecordResult(ctx, task.JobID, res); err != nil {
			return fmt.Errorf("record %s: %w", name, err)
		}
		metrics.DomainsExtracted.WithLabelValues(outcome(res)).Inc()
		log.Debug("domain processed",
			zap.String("domain", name),
			zap.Bool("tax_id", res.TaxID != ""),
			zap.Int("emails", len(res.Emails)),
			zap.String("error", res.Error))
	}
	return nil
}

func outcome(r domain.EnrichmentResult) string {
	switch {
	case r.Error != "":
		return "error"
	case r.IsPromotable():
		return "promotable"
	case r.TaxID != "" || len(r.Emails) > 0:
		return "partial"
	default:
		return "empty"
	}
}
