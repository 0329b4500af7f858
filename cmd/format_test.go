package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ledger-cli/internal/accounts"
	"github.com/sells-group/ledger-cli/internal/model"
	"github.com/sells-group/ledger-cli/internal/pipeline"
)

func TestFormatBatchResults(t *testing.T) {
	results := []pipeline.BatchResult{
		{DocumentID: "doc-1", State: &model.PipelineState{State: model.StatePosted}},
		{
			DocumentID: "doc-2",
			State: &model.PipelineState{
				State:     model.StateValidationFailed,
				ErrorCode: model.ErrCodeValidationFailed,
				Reason:    "total does not match line items",
			},
		},
		{DocumentID: "doc-3", Err: errors.New("pipeline: document is being processed by another worker")},
	}

	var buf bytes.Buffer
	formatBatchResults(&buf, results)

	output := buf.String()
	assert.Contains(t, output, "DOCUMENT")
	assert.Contains(t, output, "posted")
	assert.Contains(t, output, "validation_failed")
	assert.Contains(t, output, "total does not match")
	assert.Contains(t, output, "doc-3")
	assert.Contains(t, output, "another worker")
}

func TestFormatStateList(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	states := []model.PipelineState{
		{DocumentID: "doc-1", CompanyID: "acme", State: model.StatePosted, Version: 7, UpdatedAt: now},
		{DocumentID: "doc-2", CompanyID: "acme", State: model.StateUnmappedLineItem, Version: 5, ErrorCode: model.ErrCodeUnmappedLineItem, UpdatedAt: now},
	}

	var buf bytes.Buffer
	formatStateList(&buf, states)

	output := buf.String()
	assert.Contains(t, output, "COMPANY")
	assert.Contains(t, output, "unmapped_line_item")
	assert.Contains(t, output, "2026-03-02 09:15:00")
}

func TestFormatRules(t *testing.T) {
	var buf bytes.Buffer
	formatRules(&buf, accounts.SortRules(accounts.DefaultRules()))

	output := buf.String()
	assert.Contains(t, output, "ACCOUNT")
	assert.Contains(t, output, "7602")
	assert.Contains(t, output, "consult")
}

func TestReadCorrection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fix.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "classification": {"type": "bill", "perspective": "inbound"},
  "account_overrides": {"0": "7602", "2": "8200"}
}`), 0o600))

	c, err := readCorrection(path)
	require.NoError(t, err)
	require.NotNil(t, c.Classification)
	assert.Equal(t, model.DocumentTypeBill, c.Classification.Type)
	assert.Equal(t, map[int]string{0: "7602", 2: "8200"}, c.AccountOverrides)
	assert.Nil(t, c.Fields)
}

func TestReadCorrection_Empty(t *testing.T) {
	c, err := readCorrection("")
	require.NoError(t, err)
	assert.Nil(t, c.Classification)
}

func TestReadCorrection_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))

	_, err := readCorrection(path)
	assert.Error(t, err)
}

func TestDetectMime(t *testing.T) {
	ingestMime = ""
	assert.Equal(t, "application/pdf", detectMime("bill.pdf", nil))
	assert.Equal(t, "image/png", detectMime("scan", []byte("\x89PNG\r\n\x1a\n0000")))

	ingestMime = "image/jpeg"
	defer func() { ingestMime = "" }()
	assert.Equal(t, "image/jpeg", detectMime("bill.pdf", nil))
}
