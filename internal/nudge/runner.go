package nudge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sapliy/loyalty-platform/internal/nudge/infrastructure"
)

// Runner orchestrates evaluator -> cooldown filter -> dispatcher for one
// scheduled run. Re-running after a partial failure is safe: the cooldown
// check filters out members dispatched by the earlier attempt.
type Runner struct {
	configs    ConfigStore
	evaluators map[Type]Evaluator
	guard      *CooldownGuard
	dispatcher *Dispatcher
	logger     *slog.Logger

	// Workers bounds tenant-level concurrency inside ProcessAll.
	Workers int
}

func NewRunner(configs ConfigStore, evaluators []Evaluator, guard *CooldownGuard, dispatcher *Dispatcher, logger *slog.Logger) *Runner {
	byType := make(map[Type]Evaluator, len(evaluators))
	for _, e := range evaluators {
		byType[e.Type()] = e
	}
	return &Runner{
		configs:    configs,
		evaluators: byType,
		guard:      guard,
		dispatcher: dispatcher,
		logger:     logger,
		Workers:    4,
	}
}

// Process runs one (tenant, type) batch bounded by maxSends. A non-positive
// maxSends means unbounded. The cap is checked between members, never
// mid-send.
func (r *Runner) Process(ctx context.Context, tenantID string, t Type, maxSends int) (BatchResult, error) {
	result := BatchResult{TenantID: tenantID, Type: t}
	timer := prometheus.NewTimer(infrastructure.BatchDuration)
	defer timer.ObserveDuration()
	defer func() {
		infrastructure.BatchSends.Observe(float64(result.Sent))
	}()

	cfg, err := r.configs.Get(ctx, tenantID, t)
	if err != nil {
		return result, fmt.Errorf("resolve config: %w", err)
	}
	if !cfg.Enabled {
		r.logger.Debug("nudge type disabled, skipping run", "tenant_id", tenantID, "type", t)
		return result, nil
	}

	evaluator, ok := r.evaluators[t]
	if !ok {
		return result, fmt.Errorf("no evaluator for nudge type %q", t)
	}
	candidates, err := evaluator.Evaluate(ctx, tenantID, cfg)
	if err != nil {
		return result, fmt.Errorf("evaluate candidates: %w", err)
	}

	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if maxSends > 0 && result.Sent >= maxSends {
			break
		}

		recent, err := r.guard.WasRecentlySent(ctx, tenantID, cand.Member.ID, t, cfg.CooldownDays)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: cooldown check: %v", cand.Member.ID, err))
			continue
		}
		if recent {
			result.Skipped++
			continue
		}

		reserved, err := r.guard.Reserve(ctx, tenantID, cand.Member.ID, t, cfg.CooldownDays)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: reserve: %v", cand.Member.ID, err))
			continue
		}
		if !reserved {
			result.Skipped++
			continue
		}

		// Recheck immediately before the side-effecting transport call.
		// Another worker may have dispatched between selection and here.
		recent, err = r.guard.WasRecentlySent(ctx, tenantID, cand.Member.ID, t, cfg.CooldownDays)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: cooldown recheck: %v", cand.Member.ID, err))
			continue
		}
		if recent {
			result.Skipped++
			continue
		}

		_, err = r.dispatcher.Send(ctx, cand.Member, cfg, cand.Context)
		switch {
		case err == nil:
			result.Sent++
		case errors.Is(err, ErrDuplicateDispatch):
			result.Skipped++
		case errors.Is(err, ErrTransport):
			// Free the reservation so the next scheduled run can retry.
			r.guard.Release(ctx, tenantID, cand.Member.ID, t)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", cand.Member.ID, err))
		default:
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", cand.Member.ID, err))
		}
	}

	r.logger.Info("batch run complete",
		"tenant_id", tenantID, "type", t,
		"sent", result.Sent, "skipped", result.Skipped, "errors", len(result.Errors))
	return result, nil
}

// ProcessAll sweeps every enabled (tenant, type) pair, processing up to
// Workers pairs concurrently. Each pair gets its own send budget.
func (r *Runner) ProcessAll(ctx context.Context, maxSendsPerPair int) ([]BatchResult, error) {
	configs, err := r.configs.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("list enabled configs: %w", err)
	}

	workers := r.Workers
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	results := make([]BatchResult, 0, len(configs))

	for _, cfg := range configs {
		wg.Add(1)
		sem <- struct{}{}
		go func(cfg Config) {
			defer wg.Done()
			defer func() { <-sem }()
			res, err := r.Process(ctx, cfg.TenantID, cfg.Type, maxSendsPerPair)
			if err != nil {
				r.logger.Error("batch run failed", "tenant_id", cfg.TenantID, "type", cfg.Type, "error", err)
				res.Errors = append(res.Errors, err.Error())
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}(cfg)
	}
	wg.Wait()
	return results, nil
}
