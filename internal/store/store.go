// Package store persists documents, pipeline states, posting records, stage
// runs and account rules.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ledger-cli/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrConflict is returned when a conditional write finds the record in a
	// different state or version than expected.
	ErrConflict = eris.New("store: conditional write conflict")
	// ErrDuplicate is returned when a document with the same content already
	// exists for the company.
	ErrDuplicate = eris.New("store: duplicate document")
)

// Store defines the persistence interface for the posting pipeline. Every
// record is scoped by company id.
type Store interface {
	// Documents. CreateDocument also creates the pipeline state in Uploaded.
	CreateDocument(ctx context.Context, doc *model.Document) error
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	FindDocumentByHash(ctx context.Context, companyID, contentHash string) (*model.Document, error)

	// Pipeline state. SaveState writes st only if the stored state and
	// version still equal expected and expectedVersion, then bumps st.Version.
	GetState(ctx context.Context, documentID string) (*model.PipelineState, error)
	SaveState(ctx context.Context, st *model.PipelineState, expected model.State, expectedVersion int64) error
	ListStates(ctx context.Context, filter model.StateFilter) ([]model.PipelineState, error)
	RequestCancel(ctx context.Context, documentID string) error

	// Leases
	AcquireLease(ctx context.Context, documentID, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, documentID, owner string) error

	// Postings
	GetPosting(ctx context.Context, idempotencyKey string) (*model.PostingRecord, error)
	SavePosting(ctx context.Context, rec *model.PostingRecord) error
	ListPostings(ctx context.Context, documentID string) ([]model.PostingRecord, error)

	// Stage runs
	CreateStageRun(ctx context.Context, documentID string, stage model.Stage) (*model.StageRun, error)
	CompleteStageRun(ctx context.Context, run *model.StageRun) error
	ListStageRuns(ctx context.Context, documentID string) ([]model.StageRun, error)

	// Account rules
	ReplaceRules(ctx context.Context, companyID string, rules []model.Rule) (int64, error)
	ListRules(ctx context.Context, companyID string) ([]model.Rule, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// stateColumns are the values of a pipeline state kept in dedicated columns;
// everything else travels in the JSON data column.
type stateColumns struct {
	state           string
	version         int64
	cancelRequested bool
	leaseOwner      *string
	leaseExpiresAt  *time.Time
	updatedAt       time.Time
}

func encodeState(st *model.PipelineState) ([]byte, error) {
	snapshot := *st
	snapshot.LeaseOwner = ""
	snapshot.LeaseExpiresAt = nil
	snapshot.CancelRequested = false
	data, err := json.Marshal(snapshot)
	return data, eris.Wrap(err, "store: marshal state")
}

func decodeState(data []byte, cols stateColumns) (*model.PipelineState, error) {
	var st model.PipelineState
	if len(data) > 0 {
		if err := json.Unmarshal(data, &st); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal state")
		}
	}
	st.State = model.State(cols.state)
	st.Version = cols.version
	st.CancelRequested = cols.cancelRequested
	if cols.leaseOwner != nil {
		st.LeaseOwner = *cols.leaseOwner
	}
	st.LeaseExpiresAt = cols.leaseExpiresAt
	st.UpdatedAt = cols.updatedAt
	return &st, nil
}

func initialState(doc *model.Document) *model.PipelineState {
	return &model.PipelineState{
		DocumentID: doc.ID,
		CompanyID:  doc.CompanyID,
		State:      model.StateUploaded,
		Version:    1,
		UpdatedAt:  doc.UploadedAt,
	}
}

func stateStrings(states []model.State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
