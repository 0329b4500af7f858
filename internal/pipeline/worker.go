package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/ledger-cli/internal/model"
)

// activeStates are the states a worker picks documents up from.
var activeStates = []model.State{
	model.StateUploaded,
	model.StateClassified,
	model.StateExtracted,
	model.StateValidated,
	model.StateMapped,
	model.StateJournalBuilt,
}

// BatchResult is the outcome of advancing one document in a batch.
type BatchResult struct {
	DocumentID string               `json:"document_id"`
	State      *model.PipelineState `json:"state,omitempty"`
	Err        error                `json:"-"`
}

// ProcessBatch advances the given documents concurrently. Individual failures
// are reported in the results and do not stop the batch.
func (o *Orchestrator) ProcessBatch(ctx context.Context, documentIDs []string) ([]BatchResult, error) {
	results := make([]BatchResult, len(documentIDs))
	if len(documentIDs) == 0 {
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(o.cfg.Concurrency, 1))

	var succeeded, failed atomic.Int64
	for i, id := range documentIDs {
		g.Go(func() error {
			st, err := o.Advance(gctx, id)
			results[i] = BatchResult{DocumentID: id, State: st, Err: err}
			if err != nil {
				failed.Add(1)
				zap.L().Error("pipeline: advance failed", zap.String("document_id", id), zap.Error(err))
				return nil
			}
			succeeded.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, eris.Wrap(err, "pipeline: process batch")
	}

	zap.L().Info("pipeline: batch complete",
		zap.Int("documents", len(documentIDs)),
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return results, ctx.Err()
}

// Pending lists documents waiting on automatic processing, oldest first.
func (o *Orchestrator) Pending(ctx context.Context, companyID string, limit int) ([]string, error) {
	states, err := o.store.ListStates(ctx, model.StateFilter{
		CompanyID: companyID,
		States:    activeStates,
		Limit:     limit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: list pending")
	}
	ids := make([]string, 0, len(states))
	for _, st := range states {
		ids = append(ids, st.DocumentID)
	}
	return ids, nil
}

// Run polls for pending documents and advances them with a pool of
// cfg.Concurrency goroutines until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	log := zap.L().With(zap.String("worker", o.cfg.WorkerID))
	log.Info("pipeline: worker started",
		zap.Int("concurrency", o.cfg.Concurrency),
		zap.Duration("poll_interval", o.cfg.PollInterval),
	)

	jobs := make(chan string)
	var (
		mu       sync.Mutex
		inFlight = make(map[string]struct{})
	)
	done := func(id string) {
		mu.Lock()
		delete(inFlight, id)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	for range max(o.cfg.Concurrency, 1) {
		g.Go(func() error {
			for id := range jobs {
				o.work(gctx, id)
				done(id)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(jobs)
		ticker := time.NewTicker(o.cfg.PollInterval)
		defer ticker.Stop()
		for {
			ids, err := o.Pending(gctx, "", o.cfg.BatchSize)
			if err != nil {
				log.Warn("pipeline: poll failed", zap.Error(err))
			}
			for _, id := range ids {
				mu.Lock()
				_, busy := inFlight[id]
				if !busy {
					inFlight[id] = struct{}{}
				}
				mu.Unlock()
				if busy {
					continue
				}
				select {
				case jobs <- id:
				case <-gctx.Done():
					return nil
				}
			}
			select {
			case <-ticker.C:
			case <-gctx.Done():
				return nil
			}
		}
	})

	err := g.Wait()
	log.Info("pipeline: worker stopped")
	return err
}

// work advances one document and logs the outcome.
func (o *Orchestrator) work(ctx context.Context, id string) {
	log := zap.L().With(zap.String("document_id", id))
	st, err := o.Advance(ctx, id)
	switch {
	case errors.Is(err, ErrBusy):
		log.Debug("pipeline: document busy, skipping")
	case errors.Is(err, context.Canceled):
	case err != nil:
		log.Error("pipeline: advance failed", zap.Error(err))
	default:
		log.Info("pipeline: document settled", zap.String("state", string(st.State)))
	}
}
