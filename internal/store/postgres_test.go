package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ledger-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS documents`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateDocument(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO documents`).
		WithArgs("doc-1", "acme", "gs://bucket/acme/h1", "application/pdf", "bill.pdf", "h1", "uploaded", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO pipeline_states`).
		WithArgs("doc-1", "acme", "uploaded", int64(1), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	doc := &model.Document{
		ID:          "doc-1",
		CompanyID:   "acme",
		StorageRef:  "gs://bucket/acme/h1",
		MimeType:    "application/pdf",
		Filename:    "bill.pdf",
		ContentHash: "h1",
	}
	require.NoError(t, s.CreateDocument(context.Background(), doc))
	assert.Equal(t, model.StateUploaded, doc.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateDocument_Duplicate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO documents`).WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectRollback()

	err := s.CreateDocument(context.Background(), &model.Document{ID: "doc-1", CompanyID: "acme", ContentHash: "h1"})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetState_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT state, version, cancel_requested, lease_owner, lease_expires_at, updated_at, data\s+FROM pipeline_states WHERE document_id = \$1`).
		WithArgs("nonexistent").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetState(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetState_DecodesColumns(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	owner := "worker-1"
	rows := pgxmock.NewRows([]string{"state", "version", "cancel_requested", "lease_owner", "lease_expires_at", "updated_at", "data"}).
		AddRow("mapped", int64(5), true, &owner, &now, now,
			[]byte(`{"document_id":"doc-1","company_id":"acme","state":"validated","version":4,"mapping":[{"index":0,"account_code":"6000","rule_id":"r1"}]}`))
	mock.ExpectQuery(`FROM pipeline_states WHERE document_id`).WithArgs("doc-1").WillReturnRows(rows)

	st, err := s.GetState(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.StateMapped, st.State, "column wins over snapshot")
	assert.Equal(t, int64(5), st.Version)
	assert.True(t, st.CancelRequested)
	assert.Equal(t, "worker-1", st.LeaseOwner)
	require.Len(t, st.Mapping, 1)
	assert.Equal(t, "6000", st.Mapping[0].AccountCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveState_Conflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE pipeline_states SET state = \$1, version = version \+ 1`).
		WithArgs("classified", "", "", pgxmock.AnyArg(), pgxmock.AnyArg(), "doc-1", "uploaded", int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	st := &model.PipelineState{DocumentID: "doc-1", State: model.StateClassified, Version: 1}
	err := s.SaveState(context.Background(), st, model.StateUploaded, 1)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, int64(1), st.Version, "version unchanged on conflict")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveState_Success(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE pipeline_states SET state`).
		WithArgs("posted", "", "", pgxmock.AnyArg(), pgxmock.AnyArg(), "doc-1", "journal_built", int64(6)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE documents SET status = $1 WHERE id = $2`)).
		WithArgs("posted", "doc-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	st := &model.PipelineState{DocumentID: "doc-1", State: model.StatePosted, Version: 6}
	require.NoError(t, s.SaveState(context.Background(), st, model.StateJournalBuilt, 6))
	assert.Equal(t, int64(7), st.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListStates_BuildsFilter(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`AND company_id = \$1 AND state = ANY\(\$2\) ORDER BY updated_at ASC LIMIT \$3`).
		WithArgs("acme", []string{"posting_failed"}, 100).
		WillReturnRows(pgxmock.NewRows([]string{"state", "version", "cancel_requested", "lease_owner", "lease_expires_at", "updated_at", "data"}))

	states, err := s.ListStates(context.Background(), model.StateFilter{
		CompanyID: "acme",
		States:    []model.State{model.StatePostingFailed},
	})
	require.NoError(t, err)
	assert.Empty(t, states)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AcquireLease(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE pipeline_states SET lease_owner = \$1`).
		WithArgs("worker-1", pgxmock.AnyArg(), "doc-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE pipeline_states SET lease_owner = \$1`).
		WithArgs("worker-2", pgxmock.AnyArg(), "doc-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := s.AcquireLease(context.Background(), "doc-1", "worker-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AcquireLease(context.Background(), "doc-1", "worker-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetPosting_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM posting_records WHERE idempotency_key = \$1`).
		WithArgs("k1").
		WillReturnError(pgx.ErrNoRows)

	rec, err := s.GetPosting(context.Background(), "k1")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SavePosting_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT \(idempotency_key\) DO UPDATE`).
		WithArgs("k1", "e1", "doc-1", "acme", "77", 3, "", "posted", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rec := &model.PostingRecord{
		IdempotencyKey: "k1",
		JournalEntryID: "e1",
		DocumentID:     "doc-1",
		CompanyID:      "acme",
		ERPReferenceID: "77",
		AttemptCount:   3,
		Status:         model.PostingStatusPosted,
	}
	require.NoError(t, s.SavePosting(context.Background(), rec))
	assert.False(t, rec.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceRules_UsesBulkUpsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "account_rules" WHERE company_id = \$1`).
		WithArgs("acme").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_account_rules"}, ruleColumns).WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "account_rules"`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := s.ReplaceRules(context.Background(), "acme", []model.Rule{
		{ID: "office", Tier: model.TierCommon, Priority: 10, AccountCode: "6100"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteStageRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE stage_runs SET status`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteStageRun(context.Background(), &model.StageRun{ID: "run-1", Status: model.StageStatusFailed})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RequestCancel_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SET cancel_requested = true`).
		WithArgs("doc-1").
		WillReturnError(errors.New("connection lost"))

	err := s.RequestCancel(context.Background(), "doc-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request cancel")
	assert.NoError(t, mock.ExpectationsWereMet())
}
