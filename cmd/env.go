package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ledger-cli/internal/classify"
	"github.com/sells-group/ledger-cli/internal/docai"
	"github.com/sells-group/ledger-cli/internal/docstore"
	"github.com/sells-group/ledger-cli/internal/erp"
	"github.com/sells-group/ledger-cli/internal/extract"
	"github.com/sells-group/ledger-cli/internal/lease"
	"github.com/sells-group/ledger-cli/internal/notify"
	"github.com/sells-group/ledger-cli/internal/pipeline"
	"github.com/sells-group/ledger-cli/internal/store"
	"github.com/sells-group/ledger-cli/internal/validate"
	anthropicpkg "github.com/sells-group/ledger-cli/pkg/anthropic"
)

// pipelineEnv holds the store, the clients and the orchestrator needed by
// the processing commands.
type pipelineEnv struct {
	Store        store.Store
	Orchestrator *pipeline.Orchestrator

	closers []func() error
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	for i := len(pe.closers) - 1; i >= 0; i-- {
		if err := pe.closers[i](); err != nil {
			zap.L().Warn("close pipeline resource", zap.Error(err))
		}
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline sets up the store, document storage, the lease backend, the
// notification publisher, the Claude and Odoo clients and builds the
// Orchestrator. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	if err := cfg.Validate("pipeline"); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &pipelineEnv{Store: st}

	ok := false
	defer func() {
		if !ok {
			env.Close()
		}
	}()

	pcfg := pipeline.ConfigFrom(cfg)

	docs, err := docstore.New(ctx, cfg.DocStore)
	if err != nil {
		return nil, eris.Wrap(err, "init docstore")
	}
	env.closers = append(env.closers, docs.Close)

	locker, closeLocker, err := lease.New(ctx, cfg.Redis, st, pcfg.WorkerID)
	if err != nil {
		return nil, eris.Wrap(err, "init lease")
	}
	env.closers = append(env.closers, closeLocker)

	publisher, err := notify.New(ctx, cfg.Notify)
	if err != nil {
		return nil, eris.Wrap(err, "init notify")
	}
	env.closers = append(env.closers, publisher.Close)

	poster, err := erp.FromConfig(cfg, st)
	if err != nil {
		return nil, eris.Wrap(err, "init erp")
	}

	client := anthropicpkg.NewClient(cfg.Anthropic.Key, time.Duration(cfg.Anthropic.TimeoutSecs)*time.Second)
	caller, err := docai.FromConfig(client, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "init document caller")
	}

	vcfg, err := validate.FromConfig(cfg.Pipeline)
	if err != nil {
		return nil, eris.Wrap(err, "init validator")
	}

	companies, err := pipeline.Companies(cfg)
	if err != nil {
		return nil, err
	}
	if len(companies) == 0 {
		return nil, eris.New("no companies configured (companies.<id> in config.yaml)")
	}

	env.Orchestrator = pipeline.New(pcfg, pipeline.Deps{
		Store:      st,
		Docs:       docs,
		Locker:     locker,
		Classifier: classify.New(caller, cfg.Anthropic.ClassifyModel),
		Extractor:  extract.New(caller, cfg.Anthropic.ExtractModel),
		Validator:  validate.New(vcfg),
		Poster:     poster,
		Publisher:  publisher,
		Companies:  companies,
	})

	zap.L().Info("pipeline initialized",
		zap.String("worker_id", pcfg.WorkerID),
		zap.Int("companies", len(companies)),
		zap.String("store", cfg.Store.Driver),
		zap.String("docstore", cfg.DocStore.Driver),
		zap.Bool("redis_lease", cfg.Redis.Addr != ""),
	)

	ok = true
	return env, nil
}

// initControl builds an Orchestrator for operator commands (status,
// reenter, cancel) that never call Claude or Odoo.
func initControl(ctx context.Context) (*pipelineEnv, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &pipelineEnv{Store: st}

	ok := false
	defer func() {
		if !ok {
			env.Close()
		}
	}()

	pcfg := pipeline.ConfigFrom(cfg)

	locker, closeLocker, err := lease.New(ctx, cfg.Redis, st, pcfg.WorkerID)
	if err != nil {
		return nil, eris.Wrap(err, "init lease")
	}
	env.closers = append(env.closers, closeLocker)

	publisher, err := notify.New(ctx, cfg.Notify)
	if err != nil {
		return nil, eris.Wrap(err, "init notify")
	}
	env.closers = append(env.closers, publisher.Close)

	companies, err := pipeline.Companies(cfg)
	if err != nil {
		return nil, err
	}

	env.Orchestrator = pipeline.New(pcfg, pipeline.Deps{
		Store:     st,
		Locker:    locker,
		Publisher: publisher,
		Companies: companies,
	})

	ok = true
	return env, nil
}
