package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/ledger-cli/internal/db"
	"github.com/sells-group/ledger-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	sqlGetState = `SELECT state, version, cancel_requested, lease_owner, lease_expires_at, updated_at, data
		FROM pipeline_states WHERE document_id = $1`
	sqlSaveState = `UPDATE pipeline_states SET state = $1, version = version + 1, reason = $2, error_code = $3, data = $4,
		cancel_requested = CASE WHEN $1 = 'cancelled' THEN false ELSE cancel_requested END, updated_at = $5
		WHERE document_id = $6 AND state = $7 AND version = $8`
	sqlGetPosting = `SELECT idempotency_key, journal_entry_id, document_id, company_id, erp_reference_id, attempt_count,
		last_error, status, created_at, updated_at FROM posting_records WHERE idempotency_key = $1`
	sqlSavePosting = `INSERT INTO posting_records (idempotency_key, journal_entry_id, document_id, company_id, erp_reference_id,
		attempt_count, last_error, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (idempotency_key) DO UPDATE SET erp_reference_id = $5, attempt_count = $6, last_error = $7,
		status = $8, updated_at = $10`
	sqlAcquireLease = `UPDATE pipeline_states SET lease_owner = $1, lease_expires_at = $2
		WHERE document_id = $3 AND (lease_owner IS NULL OR lease_owner = $1 OR lease_expires_at < $4)`
)

// preparedStatements lists queries to prepare on each new connection; these
// run once or more per stage of every document.
var preparedStatements = map[string]string{
	"get_state":     sqlGetState,
	"save_state":    sqlSaveState,
	"get_posting":   sqlGetPosting,
	"save_posting":  sqlSavePosting,
	"acquire_lease": sqlAcquireLease,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id           TEXT PRIMARY KEY,
	company_id   TEXT NOT NULL,
	storage_ref  TEXT NOT NULL,
	mime_type    TEXT NOT NULL,
	filename     TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'uploaded',
	uploaded_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (company_id, content_hash)
);

CREATE TABLE IF NOT EXISTS pipeline_states (
	document_id      TEXT PRIMARY KEY REFERENCES documents(id),
	company_id       TEXT NOT NULL,
	state            TEXT NOT NULL,
	version          BIGINT NOT NULL DEFAULT 1,
	reason           TEXT NOT NULL DEFAULT '',
	error_code       TEXT NOT NULL DEFAULT '',
	data             JSONB NOT NULL DEFAULT '{}',
	cancel_requested BOOLEAN NOT NULL DEFAULT false,
	lease_owner      TEXT,
	lease_expires_at TIMESTAMPTZ,
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS posting_records (
	idempotency_key  TEXT PRIMARY KEY,
	journal_entry_id TEXT NOT NULL,
	document_id      TEXT NOT NULL REFERENCES documents(id),
	company_id       TEXT NOT NULL,
	erp_reference_id TEXT NOT NULL DEFAULT '',
	attempt_count    INTEGER NOT NULL DEFAULT 0,
	last_error       TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'pending',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS stage_runs (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id),
	stage       TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	duration_ms BIGINT NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	metadata    JSONB,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS account_rules (
	company_id   TEXT NOT NULL,
	rule_id      TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	tier         TEXT NOT NULL,
	priority     INTEGER NOT NULL DEFAULT 0,
	match        JSONB NOT NULL DEFAULT '{}',
	account_code TEXT NOT NULL,
	PRIMARY KEY (company_id, rule_id)
);

CREATE INDEX IF NOT EXISTS idx_documents_company ON documents(company_id);
CREATE INDEX IF NOT EXISTS idx_pipeline_states_state ON pipeline_states(state, updated_at);
CREATE INDEX IF NOT EXISTS idx_pipeline_states_company ON pipeline_states(company_id);
CREATE INDEX IF NOT EXISTS idx_posting_records_document ON posting_records(document_id);
CREATE INDEX IF NOT EXISTS idx_stage_runs_document ON stage_runs(document_id);
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateDocument(ctx context.Context, doc *model.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now().UTC()
	}
	doc.Status = model.StateUploaded

	st := initialState(doc)
	data, err := encodeState(st)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin create document")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`INSERT INTO documents (id, company_id, storage_ref, mime_type, filename, content_hash, status, uploaded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT (company_id, content_hash) DO NOTHING`,
		doc.ID, doc.CompanyID, doc.StorageRef, doc.MimeType, doc.Filename, doc.ContentHash, string(doc.Status), doc.UploadedAt,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: insert document")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrDuplicate, "postgres: document %s for company %s", doc.ContentHash, doc.CompanyID)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO pipeline_states (document_id, company_id, state, version, data, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		doc.ID, doc.CompanyID, string(st.State), st.Version, data, doc.UploadedAt,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: insert pipeline state")
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit create document")
}

const documentColumns = `id, company_id, storage_ref, mime_type, filename, content_hash, status, uploaded_at`

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: document %s", id)
	}
	return doc, eris.Wrapf(err, "postgres: get document %s", id)
}

func (s *PostgresStore) FindDocumentByHash(ctx context.Context, companyID, contentHash string) (*model.Document, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE company_id = $1 AND content_hash = $2`,
		companyID, contentHash,
	)
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return doc, eris.Wrap(err, "postgres: find document by hash")
}

func (s *PostgresStore) GetState(ctx context.Context, documentID string) (*model.PipelineState, error) {
	var cols stateColumns
	var data []byte
	err := s.pool.QueryRow(ctx, sqlGetState, documentID).Scan(
		&cols.state, &cols.version, &cols.cancelRequested, &cols.leaseOwner, &cols.leaseExpiresAt, &cols.updatedAt, &data,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: state %s", documentID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get state %s", documentID)
	}
	return decodeState(data, cols)
}

func (s *PostgresStore) SaveState(ctx context.Context, st *model.PipelineState, expected model.State, expectedVersion int64) error {
	now := time.Now().UTC()
	next := *st
	next.UpdatedAt = now
	data, err := encodeState(&next)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save state")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, sqlSaveState,
		string(st.State), st.Reason, string(st.ErrorCode), data, now,
		st.DocumentID, string(expected), expectedVersion,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save state %s", st.DocumentID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrConflict, "postgres: state %s expected %s@%d", st.DocumentID, expected, expectedVersion)
	}

	if _, err := tx.Exec(ctx, `UPDATE documents SET status = $1 WHERE id = $2`, string(st.State), st.DocumentID); err != nil {
		return eris.Wrapf(err, "postgres: update document status %s", st.DocumentID)
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit save state")
	}

	st.Version = expectedVersion + 1
	st.UpdatedAt = now
	return nil
}

func (s *PostgresStore) ListStates(ctx context.Context, filter model.StateFilter) ([]model.PipelineState, error) {
	query := `SELECT state, version, cancel_requested, lease_owner, lease_expires_at, updated_at, data FROM pipeline_states WHERE true`
	args := []any{}
	argIdx := 1

	if filter.CompanyID != "" {
		query += fmt.Sprintf(` AND company_id = $%d`, argIdx)
		args = append(args, filter.CompanyID)
		argIdx++
	}
	if len(filter.States) > 0 {
		query += fmt.Sprintf(` AND state = ANY($%d)`, argIdx)
		args = append(args, stateStrings(filter.States))
		argIdx++
	}
	if !filter.UpdatedBefore.IsZero() {
		query += fmt.Sprintf(` AND updated_at < $%d`, argIdx)
		args = append(args, filter.UpdatedBefore)
		argIdx++
	}
	query += ` ORDER BY updated_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list states")
	}
	defer rows.Close()

	var out []model.PipelineState
	for rows.Next() {
		var cols stateColumns
		var data []byte
		if err := rows.Scan(&cols.state, &cols.version, &cols.cancelRequested, &cols.leaseOwner, &cols.leaseExpiresAt, &cols.updatedAt, &data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan state")
		}
		st, err := decodeState(data, cols)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list states iterate")
}

func (s *PostgresStore) RequestCancel(ctx context.Context, documentID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pipeline_states SET cancel_requested = true WHERE document_id = $1`, documentID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: request cancel %s", documentID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: state %s", documentID)
	}
	return nil
}

func (s *PostgresStore) AcquireLease(ctx context.Context, documentID, owner string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, sqlAcquireLease, owner, now.Add(ttl), documentID, now)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: acquire lease %s", documentID)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ReleaseLease(ctx context.Context, documentID, owner string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE pipeline_states SET lease_owner = NULL, lease_expires_at = NULL WHERE document_id = $1 AND lease_owner = $2`,
		documentID, owner,
	)
	return eris.Wrapf(err, "postgres: release lease %s", documentID)
}

func (s *PostgresStore) GetPosting(ctx context.Context, idempotencyKey string) (*model.PostingRecord, error) {
	rec, err := scanPosting(s.pool.QueryRow(ctx, sqlGetPosting, idempotencyKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, eris.Wrap(err, "postgres: get posting")
}

func (s *PostgresStore) SavePosting(ctx context.Context, rec *model.PostingRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	_, err := s.pool.Exec(ctx, sqlSavePosting,
		rec.IdempotencyKey, rec.JournalEntryID, rec.DocumentID, rec.CompanyID, rec.ERPReferenceID,
		rec.AttemptCount, rec.LastError, string(rec.Status), rec.CreatedAt, rec.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: save posting %s", rec.IdempotencyKey)
}

func (s *PostgresStore) ListPostings(ctx context.Context, documentID string) ([]model.PostingRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT idempotency_key, journal_entry_id, document_id, company_id, erp_reference_id, attempt_count,
		 last_error, status, created_at, updated_at FROM posting_records WHERE document_id = $1 ORDER BY created_at`,
		documentID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list postings")
	}
	defer rows.Close()

	var out []model.PostingRecord
	for rows.Next() {
		rec, err := scanPosting(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan posting")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list postings iterate")
}

func (s *PostgresStore) CreateStageRun(ctx context.Context, documentID string, stage model.Stage) (*model.StageRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO stage_runs (id, document_id, stage, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		id, documentID, string(stage), string(model.StageStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert stage run for %s", documentID)
	}

	return &model.StageRun{
		ID:         id,
		DocumentID: documentID,
		Stage:      stage,
		Status:     model.StageStatusRunning,
		StartedAt:  now,
	}, nil
}

func (s *PostgresStore) CompleteStageRun(ctx context.Context, run *model.StageRun) error {
	metaJSON, err := json.Marshal(run.Metadata)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal stage metadata")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE stage_runs SET status = $1, duration_ms = $2, error = $3, metadata = $4 WHERE id = $5`,
		string(run.Status), run.DurationMs, run.Error, metaJSON, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete stage run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: stage run %s", run.ID)
	}
	return nil
}

func (s *PostgresStore) ListStageRuns(ctx context.Context, documentID string) ([]model.StageRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, document_id, stage, status, duration_ms, error, metadata, started_at
		 FROM stage_runs WHERE document_id = $1 ORDER BY started_at`,
		documentID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list stage runs")
	}
	defer rows.Close()

	var out []model.StageRun
	for rows.Next() {
		var r model.StageRun
		var meta []byte
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.Stage, &r.Status, &r.DurationMs, &r.Error, &meta, &r.StartedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stage run")
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &r.Metadata); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal stage metadata")
			}
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list stage runs iterate")
}

var ruleColumns = []string{"company_id", "rule_id", "description", "tier", "priority", "match", "account_code"}

// ReplaceRules swaps a company's rule set in one transaction using the
// temp-table COPY upsert.
func (s *PostgresStore) ReplaceRules(ctx context.Context, companyID string, rules []model.Rule) (int64, error) {
	rows := make([][]any, 0, len(rules))
	for _, r := range rules {
		match, err := json.Marshal(r.Match)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: marshal rule %s", r.ID)
		}
		rows = append(rows, []any{companyID, r.ID, r.Description, string(r.Tier), r.Priority, string(match), r.AccountCode})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "account_rules",
		Columns:      ruleColumns,
		ConflictKeys: []string{"company_id", "rule_id"},
		DeleteWhere:  "company_id = $1",
		DeleteArgs:   []any{companyID},
	}, rows)
	return n, eris.Wrapf(err, "postgres: replace rules for %s", companyID)
}

func (s *PostgresStore) ListRules(ctx context.Context, companyID string) ([]model.Rule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT rule_id, description, tier, priority, match, account_code FROM account_rules
		 WHERE company_id = $1 ORDER BY tier DESC, priority, rule_id`,
		companyID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list rules")
	}
	defer rows.Close()

	var out []model.Rule
	for rows.Next() {
		var r model.Rule
		var match []byte
		if err := rows.Scan(&r.ID, &r.Description, &r.Tier, &r.Priority, &match, &r.AccountCode); err != nil {
			return nil, eris.Wrap(err, "postgres: scan rule")
		}
		if err := json.Unmarshal(match, &r.Match); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal rule %s", r.ID)
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list rules iterate")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanDocument(row scannable) (*model.Document, error) {
	var d model.Document
	err := row.Scan(&d.ID, &d.CompanyID, &d.StorageRef, &d.MimeType, &d.Filename, &d.ContentHash, &d.Status, &d.UploadedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func scanPosting(row scannable) (*model.PostingRecord, error) {
	var r model.PostingRecord
	err := row.Scan(&r.IdempotencyKey, &r.JournalEntryID, &r.DocumentID, &r.CompanyID, &r.ERPReferenceID,
		&r.AttemptCount, &r.LastError, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
