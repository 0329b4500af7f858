package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/ledger-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Lease expiry is stored as unix nanoseconds so comparisons are numeric.
const sqliteMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id           TEXT PRIMARY KEY,
	company_id   TEXT NOT NULL,
	storage_ref  TEXT NOT NULL,
	mime_type    TEXT NOT NULL,
	filename     TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'uploaded',
	uploaded_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (company_id, content_hash)
);

CREATE TABLE IF NOT EXISTS pipeline_states (
	document_id      TEXT PRIMARY KEY REFERENCES documents(id),
	company_id       TEXT NOT NULL,
	state            TEXT NOT NULL,
	version          INTEGER NOT NULL DEFAULT 1,
	reason           TEXT NOT NULL DEFAULT '',
	error_code       TEXT NOT NULL DEFAULT '',
	data             TEXT NOT NULL DEFAULT '{}',
	cancel_requested INTEGER NOT NULL DEFAULT 0,
	lease_owner      TEXT,
	lease_expires_at INTEGER,
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
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
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS stage_runs (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id),
	stage       TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	metadata    TEXT,
	started_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS account_rules (
	company_id   TEXT NOT NULL,
	rule_id      TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	tier         TEXT NOT NULL,
	priority     INTEGER NOT NULL DEFAULT 0,
	match        TEXT NOT NULL DEFAULT '{}',
	account_code TEXT NOT NULL,
	PRIMARY KEY (company_id, rule_id)
);

CREATE INDEX IF NOT EXISTS idx_documents_company ON documents(company_id);
CREATE INDEX IF NOT EXISTS idx_pipeline_states_state ON pipeline_states(state, updated_at);
CREATE INDEX IF NOT EXISTS idx_pipeline_states_company ON pipeline_states(company_id);
CREATE INDEX IF NOT EXISTS idx_posting_records_document ON posting_records(document_id);
CREATE INDEX IF NOT EXISTS idx_stage_runs_document ON stage_runs(document_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *model.Document) error {
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin create document")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`INSERT INTO documents (id, company_id, storage_ref, mime_type, filename, content_hash, status, uploaded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (company_id, content_hash) DO NOTHING`,
		doc.ID, doc.CompanyID, doc.StorageRef, doc.MimeType, doc.Filename, doc.ContentHash, string(doc.Status), doc.UploadedAt,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert document")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Wrapf(ErrDuplicate, "sqlite: document %s for company %s", doc.ContentHash, doc.CompanyID)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO pipeline_states (document_id, company_id, state, version, data, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.CompanyID, string(st.State), st.Version, string(data), doc.UploadedAt,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert pipeline state")
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit create document")
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: document %s", id)
	}
	return doc, eris.Wrapf(err, "sqlite: get document %s", id)
}

func (s *SQLiteStore) FindDocumentByHash(ctx context.Context, companyID, contentHash string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE company_id = ? AND content_hash = ?`,
		companyID, contentHash,
	)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return doc, eris.Wrap(err, "sqlite: find document by hash")
}

const sqliteStateSelect = `SELECT state, version, cancel_requested, lease_owner, lease_expires_at, updated_at, data FROM pipeline_states`

func scanSQLiteState(row scannable) (*model.PipelineState, error) {
	var cols stateColumns
	var leaseNanos sql.NullInt64
	var data string
	if err := row.Scan(&cols.state, &cols.version, &cols.cancelRequested, &cols.leaseOwner, &leaseNanos, &cols.updatedAt, &data); err != nil {
		return nil, err
	}
	if leaseNanos.Valid {
		t := time.Unix(0, leaseNanos.Int64).UTC()
		cols.leaseExpiresAt = &t
	}
	return decodeState([]byte(data), cols)
}

func (s *SQLiteStore) GetState(ctx context.Context, documentID string) (*model.PipelineState, error) {
	st, err := scanSQLiteState(s.db.QueryRowContext(ctx, sqliteStateSelect+` WHERE document_id = ?`, documentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: state %s", documentID)
	}
	return st, eris.Wrapf(err, "sqlite: get state %s", documentID)
}

func (s *SQLiteStore) SaveState(ctx context.Context, st *model.PipelineState, expected model.State, expectedVersion int64) error {
	now := time.Now().UTC()
	next := *st
	next.UpdatedAt = now
	data, err := encodeState(&next)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save state")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE pipeline_states SET state = ?1, version = version + 1, reason = ?2, error_code = ?3, data = ?4,
		 cancel_requested = CASE WHEN ?1 = 'cancelled' THEN 0 ELSE cancel_requested END, updated_at = ?5
		 WHERE document_id = ?6 AND state = ?7 AND version = ?8`,
		string(st.State), st.Reason, string(st.ErrorCode), string(data), now,
		st.DocumentID, string(expected), expectedVersion,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save state %s", st.DocumentID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Wrapf(ErrConflict, "sqlite: state %s expected %s@%d", st.DocumentID, expected, expectedVersion)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE documents SET status = ? WHERE id = ?`, string(st.State), st.DocumentID); err != nil {
		return eris.Wrapf(err, "sqlite: update document status %s", st.DocumentID)
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit save state")
	}

	st.Version = expectedVersion + 1
	st.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) ListStates(ctx context.Context, filter model.StateFilter) ([]model.PipelineState, error) {
	query := sqliteStateSelect + ` WHERE 1=1`
	var args []any

	if filter.CompanyID != "" {
		query += ` AND company_id = ?`
		args = append(args, filter.CompanyID)
	}
	if len(filter.States) > 0 {
		query += ` AND state IN (?` + strings.Repeat(`, ?`, len(filter.States)-1) + `)`
		for _, st := range filter.States {
			args = append(args, string(st))
		}
	}
	if !filter.UpdatedBefore.IsZero() {
		query += ` AND updated_at < ?`
		args = append(args, filter.UpdatedBefore.UTC())
	}
	query += ` ORDER BY updated_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list states")
	}
	defer rows.Close()

	var out []model.PipelineState
	for rows.Next() {
		st, err := scanSQLiteState(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan state")
		}
		out = append(out, *st)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list states iterate")
}

func (s *SQLiteStore) RequestCancel(ctx context.Context, documentID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE pipeline_states SET cancel_requested = 1 WHERE document_id = ?`, documentID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: request cancel %s", documentID)
	}
	return checkRowsAffected(res, "state", documentID)
}

func (s *SQLiteStore) AcquireLease(ctx context.Context, documentID, owner string, ttl time.Duration) (bool, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_states SET lease_owner = ?1, lease_expires_at = ?2
		 WHERE document_id = ?3 AND (lease_owner IS NULL OR lease_owner = ?1 OR lease_expires_at < ?4)`,
		owner, now.Add(ttl).UnixNano(), documentID, now.UnixNano(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: acquire lease %s", documentID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) ReleaseLease(ctx context.Context, documentID, owner string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_states SET lease_owner = NULL, lease_expires_at = NULL WHERE document_id = ? AND lease_owner = ?`,
		documentID, owner,
	)
	return eris.Wrapf(err, "sqlite: release lease %s", documentID)
}

const postingColumns = `idempotency_key, journal_entry_id, document_id, company_id, erp_reference_id, attempt_count,
	last_error, status, created_at, updated_at`

func (s *SQLiteStore) GetPosting(ctx context.Context, idempotencyKey string) (*model.PostingRecord, error) {
	rec, err := scanPosting(s.db.QueryRowContext(ctx,
		`SELECT `+postingColumns+` FROM posting_records WHERE idempotency_key = ?`, idempotencyKey,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, eris.Wrap(err, "sqlite: get posting")
}

func (s *SQLiteStore) SavePosting(ctx context.Context, rec *model.PostingRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO posting_records (`+postingColumns+`) VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9, ?10)
		 ON CONFLICT (idempotency_key) DO UPDATE SET erp_reference_id = ?5, attempt_count = ?6, last_error = ?7,
		 status = ?8, updated_at = ?10`,
		rec.IdempotencyKey, rec.JournalEntryID, rec.DocumentID, rec.CompanyID, rec.ERPReferenceID,
		rec.AttemptCount, rec.LastError, string(rec.Status), rec.CreatedAt, rec.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: save posting %s", rec.IdempotencyKey)
}

func (s *SQLiteStore) ListPostings(ctx context.Context, documentID string) ([]model.PostingRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+postingColumns+` FROM posting_records WHERE document_id = ? ORDER BY created_at`, documentID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list postings")
	}
	defer rows.Close()

	var out []model.PostingRecord
	for rows.Next() {
		rec, err := scanPosting(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan posting")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list postings iterate")
}

func (s *SQLiteStore) CreateStageRun(ctx context.Context, documentID string, stage model.Stage) (*model.StageRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stage_runs (id, document_id, stage, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, documentID, string(stage), string(model.StageStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert stage run for %s", documentID)
	}

	return &model.StageRun{
		ID:         id,
		DocumentID: documentID,
		Stage:      stage,
		Status:     model.StageStatusRunning,
		StartedAt:  now,
	}, nil
}

func (s *SQLiteStore) CompleteStageRun(ctx context.Context, run *model.StageRun) error {
	metaJSON, err := json.Marshal(run.Metadata)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal stage metadata")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE stage_runs SET status = ?, duration_ms = ?, error = ?, metadata = ? WHERE id = ?`,
		string(run.Status), run.DurationMs, run.Error, string(metaJSON), run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete stage run %s", run.ID)
	}
	return checkRowsAffected(res, "stage run", run.ID)
}

func (s *SQLiteStore) ListStageRuns(ctx context.Context, documentID string) ([]model.StageRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, stage, status, duration_ms, error, metadata, started_at
		 FROM stage_runs WHERE document_id = ? ORDER BY started_at`,
		documentID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list stage runs")
	}
	defer rows.Close()

	var out []model.StageRun
	for rows.Next() {
		var r model.StageRun
		var meta sql.NullString
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.Stage, &r.Status, &r.DurationMs, &r.Error, &meta, &r.StartedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stage run")
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &r.Metadata); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal stage metadata")
			}
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list stage runs iterate")
}

func (s *SQLiteStore) ReplaceRules(ctx context.Context, companyID string, rules []model.Rule) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin replace rules")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM account_rules WHERE company_id = ?`, companyID); err != nil {
		return 0, eris.Wrapf(err, "sqlite: clear rules for %s", companyID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO account_rules (company_id, rule_id, description, tier, priority, match, account_code)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (company_id, rule_id) DO UPDATE SET description = excluded.description, tier = excluded.tier,
		 priority = excluded.priority, match = excluded.match, account_code = excluded.account_code`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare rule insert")
	}
	defer stmt.Close() //nolint:errcheck

	var n int64
	for _, r := range rules {
		match, err := json.Marshal(r.Match)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: marshal rule %s", r.ID)
		}
		res, err := stmt.ExecContext(ctx, companyID, r.ID, r.Description, string(r.Tier), r.Priority, string(match), r.AccountCode)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert rule %s", r.ID)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit replace rules")
	}
	return n, nil
}

func (s *SQLiteStore) ListRules(ctx context.Context, companyID string) ([]model.Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT rule_id, description, tier, priority, match, account_code FROM account_rules
		 WHERE company_id = ? ORDER BY tier DESC, priority, rule_id`,
		companyID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list rules")
	}
	defer rows.Close()

	var out []model.Rule
	for rows.Next() {
		var r model.Rule
		var match string
		if err := rows.Scan(&r.ID, &r.Description, &r.Tier, &r.Priority, &match, &r.AccountCode); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan rule")
		}
		if err := json.Unmarshal([]byte(match), &r.Match); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal rule %s", r.ID)
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list rules iterate")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: %s %s", entity, id)
	}
	return nil
}
