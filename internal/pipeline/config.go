package pipeline

import (
	"os"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ledger-cli/internal/accounts"
	"github.com/sells-group/ledger-cli/internal/config"
	"github.com/sells-group/ledger-cli/internal/model"
	"github.com/sells-group/ledger-cli/internal/resilience"
)

// Config holds the orchestrator's tunables.
type Config struct {
	ConfidenceThreshold float64
	LeaseTTL            time.Duration
	SplitByGroup        bool
	ClassifyRetry       resilience.RetryConfig
	ExtractRetry        resilience.RetryConfig
	WorkerID            string
	Concurrency         int
	PollInterval        time.Duration
	BatchSize           int
}

// DefaultConfig returns the defaults used when no configuration is loaded.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.6,
		LeaseTTL:            5 * time.Minute,
		ClassifyRetry:       resilience.DefaultRetryConfig(),
		ExtractRetry:        resilience.DefaultRetryConfig(),
		WorkerID:            defaultWorkerID(),
		Concurrency:         4,
		PollInterval:        10 * time.Second,
		BatchSize:           50,
	}
}

// ConfigFrom builds a Config from the loaded configuration.
func ConfigFrom(cfg *config.Config) Config {
	c := DefaultConfig()
	if cfg.Pipeline.ConfidenceThreshold > 0 {
		c.ConfidenceThreshold = cfg.Pipeline.ConfidenceThreshold
	}
	if cfg.Pipeline.LeaseTTLSecs > 0 {
		c.LeaseTTL = time.Duration(cfg.Pipeline.LeaseTTLSecs) * time.Second
	}
	c.SplitByGroup = cfg.Pipeline.SplitByGroup
	c.ClassifyRetry = resilience.FromConfig(cfg.Pipeline.ClassifyRetry)
	c.ExtractRetry = c.ClassifyRetry
	if cfg.Worker.ID != "" {
		c.WorkerID = cfg.Worker.ID
	}
	if cfg.Worker.Concurrency > 0 {
		c.Concurrency = cfg.Worker.Concurrency
	}
	if cfg.Worker.PollSecs > 0 {
		c.PollInterval = time.Duration(cfg.Worker.PollSecs) * time.Second
	}
	if cfg.Worker.BatchSize > 0 {
		c.BatchSize = cfg.Worker.BatchSize
	}
	return c
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + time.Now().UTC().Format("150405")
}

// Companies builds the company contexts from configuration. Rule files named
// by a company, or by pipeline.rules_path, become that company's rule set;
// rules imported into the store take precedence at run time.
func Companies(cfg *config.Config) (map[string]model.CompanyContext, error) {
	var shared []model.Rule
	if cfg.Pipeline.RulesPath != "" {
		rules, err := accounts.LoadRules(cfg.Pipeline.RulesPath)
		if err != nil {
			return nil, err
		}
		shared = rules
	}

	out := make(map[string]model.CompanyContext, len(cfg.Companies))
	for id, cc := range cfg.Companies {
		name := cc.Name
		if name == "" {
			name = id
		}
		co := model.CompanyContext{
			ID:           id,
			Name:         name,
			BaseCurrency: cc.BaseCurrency,
			Flags:        cc.Flags,
			Rules:        shared,
			Controls:     model.DefaultControlAccounts().WithOverrides(cc.Controls),
		}
		if cc.RulesPath != "" {
			rules, err := accounts.LoadRules(cc.RulesPath)
			if err != nil {
				return nil, eris.Wrapf(err, "pipeline: rules for company %s", id)
			}
			co.Rules = rules
		}
		out[id] = co
	}
	return out, nil
}
