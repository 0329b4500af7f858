package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ledger-cli/internal/config"
	"github.com/sells-group/ledger-cli/internal/model"
)

func TestConfigFrom(t *testing.T) {
	cfg := &config.Config{
		Pipeline: config.PipelineConfig{
			ConfidenceThreshold: 0.75,
			LeaseTTLSecs:        90,
			SplitByGroup:        true,
			ClassifyRetry:       config.RetryConfig{MaxAttempts: 5, InitialBackoffMs: 200},
		},
		Worker: config.WorkerConfig{ID: "w-1", Concurrency: 8, PollSecs: 3, BatchSize: 25},
	}

	c := ConfigFrom(cfg)
	assert.InDelta(t, 0.75, c.ConfidenceThreshold, 1e-9)
	assert.Equal(t, 90*time.Second, c.LeaseTTL)
	assert.True(t, c.SplitByGroup)
	assert.Equal(t, 5, c.ClassifyRetry.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, c.ClassifyRetry.InitialBackoff)
	assert.Equal(t, 5, c.ExtractRetry.MaxAttempts)
	assert.Equal(t, "w-1", c.WorkerID)
	assert.Equal(t, 8, c.Concurrency)
	assert.Equal(t, 3*time.Second, c.PollInterval)
	assert.Equal(t, 25, c.BatchSize)
}

func TestConfigFrom_Defaults(t *testing.T) {
	c := ConfigFrom(&config.Config{})
	def := DefaultConfig()
	assert.InDelta(t, def.ConfidenceThreshold, c.ConfidenceThreshold, 1e-9)
	assert.Equal(t, def.LeaseTTL, c.LeaseTTL)
	assert.Equal(t, def.Concurrency, c.Concurrency)
	assert.NotEmpty(t, c.WorkerID)
}

func TestCompanies(t *testing.T) {
	dir := t.TempDir()
	rulesPath := filepath.Join(dir, "beta.yaml")
	require.NoError(t, os.WriteFile(rulesPath, []byte(`rules:
  - id: beta-everything
    tier: common
    priority: 1
    account: "6000"
    match:
      document_types: [bill]
`), 0o600))

	cfg := &config.Config{
		Companies: map[string]config.CompanyConfig{
			"acme": {BaseCurrency: "EUR", Flags: []string{model.FlagVATRegistered}, Controls: map[string]string{"payable": "2101"}},
			"beta": {Name: "Beta Holdings", BaseCurrency: "USD", RulesPath: rulesPath},
		},
	}

	companies, err := Companies(cfg)
	require.NoError(t, err)
	require.Len(t, companies, 2)

	acme := companies["acme"]
	assert.Equal(t, "acme", acme.Name)
	assert.True(t, acme.HasFlag(model.FlagVATRegistered))
	assert.Equal(t, "2101", acme.Controls.Payable)
	assert.Equal(t, model.DefaultControlAccounts().Receivable, acme.Controls.Receivable)
	assert.Empty(t, acme.Rules)

	beta := companies["beta"]
	assert.Equal(t, "Beta Holdings", beta.Name)
	require.Len(t, beta.Rules, 1)
	assert.Equal(t, "6000", beta.Rules[0].AccountCode)
}

func TestCompanies_BadRulesFile(t *testing.T) {
	cfg := &config.Config{
		Companies: map[string]config.CompanyConfig{
			"acme": {RulesPath: filepath.Join(t.TempDir(), "missing.yaml")},
		},
	}
	_, err := Companies(cfg)
	assert.Error(t, err)
}
