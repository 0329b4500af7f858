// Package pipeline drives documents through classification, extraction,
// validation, account mapping, journal building and ERP posting. Progress is
// a persisted state machine: every stage ends in one conditional write that
// carries the stage output and the next state.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ledger-cli/internal/docstore"
	"github.com/sells-group/ledger-cli/internal/lease"
	"github.com/sells-group/ledger-cli/internal/model"
	"github.com/sells-group/ledger-cli/internal/notify"
	"github.com/sells-group/ledger-cli/internal/store"
	"github.com/sells-group/ledger-cli/internal/validate"
)

var (
	// ErrBusy is returned when another worker holds the document's lease.
	ErrBusy = eris.New("pipeline: document is held by another worker")
	// ErrUnknownCompany is returned for a company with no configuration.
	ErrUnknownCompany = eris.New("pipeline: unknown company")
)

// maxConflicts bounds how often Advance reloads after losing a conditional write.
const maxConflicts = 3

// Classifier scores a document's type and perspective.
type Classifier interface {
	Classify(ctx context.Context, company model.CompanyContext, documentID string, content []byte, mimeType string) (*model.ClassificationResult, error)
}

// Extractor produces the type-specific fields of a document.
type Extractor interface {
	Extract(ctx context.Context, company model.CompanyContext, documentID string, content []byte, mimeType string, dt model.DocumentType, perspective model.Perspective) (*model.ExtractedFields, error)
}

// Validator checks extracted fields.
type Validator interface {
	Validate(fields *model.ExtractedFields) validate.Result
}

// Poster submits one journal entry to the ERP under an idempotency key.
type Poster interface {
	Post(ctx context.Context, entry *model.JournalEntry, key string) (*model.PostingRecord, error)
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Store      store.Store
	Docs       docstore.Store
	Locker     lease.Locker
	Classifier Classifier
	Extractor  Extractor
	Validator  Validator
	Poster     Poster
	Publisher  notify.Publisher
	Companies  map[string]model.CompanyContext
}

// Orchestrator advances documents through the pipeline.
type Orchestrator struct {
	cfg        Config
	store      store.Store
	docs       docstore.Store
	locker     lease.Locker
	classifier Classifier
	extractor  Extractor
	validator  Validator
	poster     Poster
	publisher  notify.Publisher
	companies  map[string]model.CompanyContext
	now        func() time.Time
}

// New creates an Orchestrator. A nil Publisher logs terminal events.
func New(cfg Config, deps Deps) *Orchestrator {
	pub := deps.Publisher
	if pub == nil {
		pub = notify.LogPublisher{}
	}
	return &Orchestrator{
		cfg:        cfg,
		store:      deps.Store,
		docs:       deps.Docs,
		locker:     deps.Locker,
		classifier: deps.Classifier,
		extractor:  deps.Extractor,
		validator:  deps.Validator,
		poster:     deps.Poster,
		publisher:  pub,
		companies:  deps.Companies,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Company returns the context of a configured company.
func (o *Orchestrator) Company(id string) (model.CompanyContext, error) {
	c, ok := o.companies[id]
	if !ok {
		return model.CompanyContext{}, eris.Wrapf(ErrUnknownCompany, "pipeline: company %q", id)
	}
	return c, nil
}

// Advance runs stages until the document reaches a terminal state. A document
// that is already terminal is returned unchanged, so replaying a posted
// document returns its posting records without touching the ERP.
func (o *Orchestrator) Advance(ctx context.Context, documentID string) (*model.PipelineState, error) {
	conflicts := 0
	for {
		st, err := o.advanceOnce(ctx, documentID)
		switch {
		case errors.Is(err, store.ErrConflict) && conflicts < maxConflicts:
			conflicts++
			zap.L().Debug("pipeline: state changed underneath, reloading",
				zap.String("document_id", documentID),
				zap.Int("conflicts", conflicts),
			)
			continue
		case err != nil:
			return st, err
		case st.State.IsTerminal():
			return st, nil
		}
		conflicts = 0
	}
}

// advanceOnce runs a single stage, or the pending cancellation, under the
// document's lease.
func (o *Orchestrator) advanceOnce(ctx context.Context, documentID string) (*model.PipelineState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	st, err := o.store.GetState(ctx, documentID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load state %s", documentID)
	}
	if st.State.IsTerminal() {
		return st, nil
	}

	release, err := o.acquire(ctx, documentID)
	if err != nil {
		return st, err
	}
	defer release()

	// Reload under the lease; the previous holder may have moved it on.
	st, err = o.store.GetState(ctx, documentID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: reload state %s", documentID)
	}
	if st.State.IsTerminal() {
		return st, nil
	}
	if st.CancelRequested {
		return o.cancelNow(ctx, st)
	}
	return o.runStage(ctx, st)
}

// acquire takes the document lease and returns its release function.
func (o *Orchestrator) acquire(ctx context.Context, documentID string) (func(), error) {
	l, err := o.locker.Acquire(ctx, documentID, o.cfg.LeaseTTL)
	if errors.Is(err, lease.ErrNotObtained) {
		return nil, eris.Wrapf(ErrBusy, "pipeline: document %s", documentID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: acquire lease %s", documentID)
	}
	return func() {
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			zap.L().Warn("pipeline: release lease failed",
				zap.String("document_id", documentID),
				zap.Error(err),
			)
		}
	}, nil
}

// commit persists next if st is still the stored state and announces
// terminal states.
func (o *Orchestrator) commit(ctx context.Context, st, next *model.PipelineState) error {
	if err := o.store.SaveState(ctx, next, st.State, st.Version); err != nil {
		return err
	}
	if next.State.IsTerminal() {
		o.publish(ctx, next)
	}
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, st *model.PipelineState) {
	ev := notify.EventFor(st)
	if err := o.publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		zap.L().Warn("pipeline: publish terminal event failed",
			zap.String("document_id", st.DocumentID),
			zap.String("state", string(st.State)),
			zap.Error(err),
		)
	}
}

// cancelNow moves st to Cancelled, remembering where it stopped.
func (o *Orchestrator) cancelNow(ctx context.Context, st *model.PipelineState) (*model.PipelineState, error) {
	next := *st
	next.State = model.StateCancelled
	next.CancelledAt = st.State
	next.CancelRequested = false
	next.ClearFailure()
	next.Reason = "cancelled at " + string(st.State)
	if err := o.commit(ctx, st, &next); err != nil {
		return st, eris.Wrapf(err, "pipeline: cancel %s", st.DocumentID)
	}
	zap.L().Info("pipeline: document cancelled",
		zap.String("document_id", st.DocumentID),
		zap.String("at", string(st.State)),
	)
	return &next, nil
}

// Cancel marks a document cancelled. A document mid-stage finishes the stage
// first and is cancelled at the next boundary; an idle one is cancelled
// immediately.
func (o *Orchestrator) Cancel(ctx context.Context, documentID string) (*model.PipelineState, error) {
	st, err := o.store.GetState(ctx, documentID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load state %s", documentID)
	}
	if !cancellable(st.State) {
		return st, eris.Wrapf(ErrNotCancellable, "pipeline: document %s is %s", documentID, st.State)
	}
	if err := o.store.RequestCancel(ctx, documentID); err != nil {
		return st, eris.Wrapf(err, "pipeline: request cancel %s", documentID)
	}

	release, err := o.acquire(ctx, documentID)
	if errors.Is(err, ErrBusy) {
		st.CancelRequested = true
		zap.L().Info("pipeline: cancel requested, document in flight", zap.String("document_id", documentID))
		return st, nil
	}
	if err != nil {
		return st, err
	}
	defer release()

	st, err = o.store.GetState(ctx, documentID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: reload state %s", documentID)
	}
	if !cancellable(st.State) {
		return st, eris.Wrapf(ErrNotCancellable, "pipeline: document %s is %s", documentID, st.State)
	}
	return o.cancelNow(ctx, st)
}

// ErrNotCancellable is returned when cancelling a posted, skipped or already
// cancelled document.
var ErrNotCancellable = eris.New("pipeline: document cannot be cancelled")

func cancellable(s model.State) bool {
	switch s {
	case model.StatePosted, model.StateSkipped, model.StateCancelled:
		return false
	}
	return true
}

// Report is the full status of one document.
type Report struct {
	Document *model.Document       `json:"document"`
	State    *model.PipelineState  `json:"state"`
	Runs     []model.StageRun      `json:"stage_runs"`
	Postings []model.PostingRecord `json:"postings"`
}

// Status loads the document, its state, its stage history and its postings.
func (o *Orchestrator) Status(ctx context.Context, documentID string) (*Report, error) {
	doc, err := o.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load document %s", documentID)
	}
	st, err := o.store.GetState(ctx, documentID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load state %s", documentID)
	}
	runs, err := o.store.ListStageRuns(ctx, documentID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: list stage runs %s", documentID)
	}
	postings, err := o.store.ListPostings(ctx, documentID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: list postings %s", documentID)
	}
	return &Report{Document: doc, State: st, Runs: runs, Postings: postings}, nil
}
