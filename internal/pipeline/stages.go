package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ledger-cli/internal/accounts"
	"github.com/sells-group/ledger-cli/internal/docai"
	"github.com/sells-group/ledger-cli/internal/extract"
	"github.com/sells-group/ledger-cli/internal/journal"
	"github.com/sells-group/ledger-cli/internal/model"
	"github.com/sells-group/ledger-cli/internal/resilience"
)

// stageFunc computes the next state from st. A nil next with a nil error
// means there is nothing to commit.
type stageFunc func(ctx context.Context, st *model.PipelineState, company model.CompanyContext) (next *model.PipelineState, meta map[string]any, err error)

// stageFor returns the stage that moves a document out of s.
func (o *Orchestrator) stageFor(s model.State) (model.Stage, stageFunc, bool) {
	switch s {
	case model.StateUploaded:
		return model.StageClassify, o.classifyStage, true
	case model.StateClassified:
		return model.StageExtract, o.extractStage, true
	case model.StateExtracted:
		return model.StageValidate, o.validateStage, true
	case model.StateValidated:
		return model.StageMap, o.mapStage, true
	case model.StateMapped:
		return model.StageBuild, o.buildStage, true
	case model.StateJournalBuilt:
		return model.StagePost, o.postStage, true
	}
	return "", nil, false
}

// runStage executes the stage for st's state, records a StageRun and commits
// the transition.
func (o *Orchestrator) runStage(ctx context.Context, st *model.PipelineState) (*model.PipelineState, error) {
	stage, fn, ok := o.stageFor(st.State)
	if !ok {
		return st, eris.Errorf("pipeline: no stage leaves state %s", st.State)
	}
	company, err := o.Company(st.CompanyID)
	if err != nil {
		return st, err
	}

	log := zap.L().With(
		zap.String("document_id", st.DocumentID),
		zap.String("company_id", st.CompanyID),
		zap.String("stage", string(stage)),
	)

	run, runErr := o.store.CreateStageRun(ctx, st.DocumentID, stage)
	if runErr != nil {
		log.Warn("pipeline: failed to create stage run", zap.Error(runErr))
	}

	start := time.Now()
	next, meta, err := fn(ctx, st, company)
	if err == nil && next != nil {
		// Stage output is persisted even if the worker is shutting down.
		err = o.commit(context.WithoutCancel(ctx), st, next)
	}
	duration := time.Since(start).Milliseconds()

	status := model.StageStatusComplete
	var errText string
	switch {
	case err != nil:
		status = model.StageStatusFailed
		errText = err.Error()
		log.Error("pipeline: stage failed",
			zap.Int64("duration_ms", duration),
			zap.String("kind", resilience.Classify(err, nil).String()),
			zap.Error(err),
		)
	case next.State == model.StateSkipped:
		status = model.StageStatusSkipped
		log.Info("pipeline: stage skipped", zap.Int64("duration_ms", duration), zap.String("reason", next.Reason))
	case next.State.NeedsAttention():
		status = model.StageStatusFailed
		errText = next.Reason
		log.Warn("pipeline: document needs attention",
			zap.Int64("duration_ms", duration),
			zap.String("state", string(next.State)),
			zap.String("error_code", string(next.ErrorCode)),
			zap.String("reason", next.Reason),
		)
	default:
		log.Info("pipeline: stage complete",
			zap.Int64("duration_ms", duration),
			zap.String("state", string(next.State)),
		)
	}

	if run != nil {
		run.Status = status
		run.DurationMs = duration
		run.Error = errText
		run.Metadata = meta
		if cErr := o.store.CompleteStageRun(context.WithoutCancel(ctx), run); cErr != nil {
			log.Warn("pipeline: failed to complete stage run", zap.Error(cErr))
		}
	}

	if err != nil {
		return st, err
	}
	return next, nil
}

// fail moves st into a side branch, recording the code, reason and context
// of err.
func fail(st *model.PipelineState, to model.State, err error, violations []model.Violation) *model.PipelineState {
	next := *st
	next.State = to
	next.ErrorCode = model.CodeOf(err)
	next.Reason = err.Error()
	next.Violations = violations
	return &next
}

// advanceTo moves st forward with no failure context.
func advanceTo(st *model.PipelineState, to model.State) *model.PipelineState {
	next := *st
	next.State = to
	next.ClearFailure()
	return &next
}

// content loads the stored bytes of a document.
func (o *Orchestrator) content(ctx context.Context, documentID string) (*model.Document, []byte, error) {
	doc, err := o.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "pipeline: load document %s", documentID)
	}
	data, err := o.docs.Get(ctx, doc.StorageRef)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "pipeline: load content %s", doc.StorageRef)
	}
	return doc, data, nil
}

// lowConfidenceError reports a classification the pipeline will not act on.
type lowConfidenceError struct {
	result    *model.ClassificationResult
	threshold float64
}

func (e *lowConfidenceError) Error() string {
	if e.result.Type == model.DocumentTypeUnknown {
		return "pipeline: document type could not be determined"
	}
	return fmt.Sprintf("pipeline: classified as %s with confidence %.2f, below threshold %.2f",
		e.result.Type, e.result.Confidence, e.threshold)
}

func (e *lowConfidenceError) ErrorCode() model.ErrorCode { return model.ErrCodeLowConfidence }

func (o *Orchestrator) classifyStage(ctx context.Context, st *model.PipelineState, company model.CompanyContext) (*model.PipelineState, map[string]any, error) {
	doc, data, err := o.content(ctx, st.DocumentID)
	if err != nil {
		return nil, nil, err
	}

	cfg := o.cfg.ClassifyRetry
	cfg.OnRetry = resilience.RetryLogger("pipeline", "classify", zap.String("document_id", st.DocumentID))
	attempts := 0
	result, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*model.ClassificationResult, error) {
		attempts++
		return o.classifier.Classify(ctx, company, doc.ID, data, doc.MimeType)
	})
	meta := map[string]any{"attempts": attempts}

	if err != nil {
		var next *model.PipelineState
		switch {
		case ctx.Err() != nil:
			return nil, meta, err
		case resilience.IsTransient(err):
			// Retry budget spent.
			next = fail(st, model.StateNeedsManualClassification, err, nil)
			next.ErrorCode = model.ErrCodeClassificationUnavailable
		case model.CodeOf(err) != model.ErrCodeInternal:
			next = fail(st, model.StateNeedsManualClassification, err, nil)
		default:
			return nil, meta, err
		}
		next.ClassifyAttempts += attempts
		return next, meta, nil
	}

	meta["type"] = string(result.Type)
	meta["confidence"] = result.Confidence

	if result.Type == model.DocumentTypeUnknown || result.Confidence < o.cfg.ConfidenceThreshold {
		next := fail(st, model.StateNeedsManualClassification, &lowConfidenceError{result: result, threshold: o.cfg.ConfidenceThreshold}, nil)
		next.Classification = result
		next.ClassifyAttempts += attempts
		return next, meta, nil
	}

	next := advanceTo(st, model.StateClassified)
	next.Classification = result
	next.ClassifyAttempts += attempts
	return next, meta, nil
}

// unsupportedError wraps an extraction refused for the classified type.
type unsupportedError struct{ cause error }

func (e *unsupportedError) Error() string              { return e.cause.Error() }
func (e *unsupportedError) Unwrap() error              { return e.cause }
func (e *unsupportedError) ErrorCode() model.ErrorCode { return model.ErrCodeUnsupportedType }

// malformedError marks model output that could not be read as fields.
type malformedError struct{ cause error }

func (e *malformedError) Error() string              { return e.cause.Error() }
func (e *malformedError) Unwrap() error              { return e.cause }
func (e *malformedError) ErrorCode() model.ErrorCode { return model.ErrCodeExtractionIncomplete }

func (o *Orchestrator) extractStage(ctx context.Context, st *model.PipelineState, company model.CompanyContext) (*model.PipelineState, map[string]any, error) {
	cls := st.Classification
	if cls == nil {
		return nil, nil, eris.Errorf("pipeline: document %s classified without a result", st.DocumentID)
	}
	meta := map[string]any{"type": string(cls.Type)}

	if cls.Type == model.DocumentTypeOnboarding {
		next := advanceTo(st, model.StateSkipped)
		next.Reason = "onboarding documents carry no ledger event"
		return next, meta, nil
	}

	doc, data, err := o.content(ctx, st.DocumentID)
	if err != nil {
		return nil, meta, err
	}

	cfg := o.cfg.ExtractRetry
	cfg.OnRetry = resilience.RetryLogger("pipeline", "extract", zap.String("document_id", st.DocumentID))
	var partial *model.ExtractedFields
	fields, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*model.ExtractedFields, error) {
		f, err := o.extractor.Extract(ctx, company, doc.ID, data, doc.MimeType, cls.Type, cls.Perspective)
		var ie *extract.IncompleteError
		if errors.As(err, &ie) {
			partial = f
			return nil, resilience.NewPermanentError(err)
		}
		return f, err
	})

	var ie *extract.IncompleteError
	switch {
	case err == nil:
		meta["line_items"] = len(fields.LineItems)
		next := advanceTo(st, model.StateExtracted)
		next.Fields = fields
		return next, meta, nil
	case errors.As(err, &ie):
		next := fail(st, model.StateNeedsManualInput, ie, ie.Violations())
		next.Fields = partial
		meta["missing"] = ie.Missing
		return next, meta, nil
	case errors.Is(err, extract.ErrUnsupportedType):
		return fail(st, model.StateNeedsManualClassification, &unsupportedError{cause: err}, nil), meta, nil
	case errors.Is(err, docai.ErrMalformed):
		return fail(st, model.StateNeedsManualInput, &malformedError{cause: err}, nil), meta, nil
	default:
		// Transient failures and internal errors leave the state untouched so
		// the next pass retries the stage.
		return nil, meta, err
	}
}

func (o *Orchestrator) validateStage(_ context.Context, st *model.PipelineState, _ model.CompanyContext) (*model.PipelineState, map[string]any, error) {
	if st.Fields == nil {
		return nil, nil, eris.Errorf("pipeline: document %s extracted without fields", st.DocumentID)
	}
	res := o.validator.Validate(st.Fields)
	meta := map[string]any{"violations": len(res.Violations)}
	if !res.OK {
		return fail(st, model.StateValidationFailed, res.Err(), res.Violations), meta, nil
	}
	return advanceTo(st, model.StateValidated), meta, nil
}

func (o *Orchestrator) mapStage(ctx context.Context, st *model.PipelineState, company model.CompanyContext) (*model.PipelineState, map[string]any, error) {
	rules, source, err := o.rules(ctx, company)
	if err != nil {
		return nil, nil, err
	}
	meta := map[string]any{"rules": len(rules), "rule_source": source, "overrides": len(st.AccountOverrides)}

	mapped, err := accounts.Map(st.Fields, rules, company, st.AccountOverrides)
	var ue *accounts.UnmappedError
	switch {
	case errors.As(err, &ue):
		return fail(st, model.StateUnmappedLineItem, ue, ue.Violations(st.Fields)), meta, nil
	case err != nil:
		return nil, meta, err
	}

	next := advanceTo(st, model.StateMapped)
	next.Mapping = mapped
	return next, meta, nil
}

// rules returns the company's rule set: imported rules first, then rules
// from configuration, then the built-in defaults.
func (o *Orchestrator) rules(ctx context.Context, company model.CompanyContext) ([]model.Rule, string, error) {
	stored, err := o.store.ListRules(ctx, company.ID)
	if err != nil {
		return nil, "", eris.Wrapf(err, "pipeline: list rules %s", company.ID)
	}
	switch {
	case len(stored) > 0:
		return stored, "store", nil
	case len(company.Rules) > 0:
		return company.Rules, "config", nil
	}
	return accounts.DefaultRules(), "default", nil
}

func (o *Orchestrator) buildStage(_ context.Context, st *model.PipelineState, company model.CompanyContext) (*model.PipelineState, map[string]any, error) {
	entries, err := journal.Build(st.Fields, st.Mapping, company, journal.Options{SplitByGroup: o.cfg.SplitByGroup})
	var (
		ue *journal.UnbalancedError
		ie *journal.InputError
	)
	switch {
	case errors.As(err, &ue):
		return fail(st, model.StateUnbalancedEntry, ue, nil), nil, nil
	case errors.As(err, &ie):
		return fail(st, model.StateValidationFailed, ie, []model.Violation{ie.Violation()}), nil, nil
	case errors.Is(err, journal.ErrUnsupportedType):
		return fail(st, model.StateNeedsManualClassification, &unsupportedError{cause: err}, nil), nil, nil
	case err != nil:
		return nil, nil, err
	}

	next := advanceTo(st, model.StateJournalBuilt)
	next.Entries = entries
	return next, map[string]any{"entries": len(entries)}, nil
}

// postStage submits every entry. Posting runs detached from ctx so a
// cancelled worker never abandons a submission halfway.
func (o *Orchestrator) postStage(ctx context.Context, st *model.PipelineState, _ model.CompanyContext) (*model.PipelineState, map[string]any, error) {
	postCtx := context.WithoutCancel(ctx)
	postings := make([]model.PostingRecord, 0, len(st.Entries))

	var postErr error
	for i := range st.Entries {
		entry := &st.Entries[i]
		key := journal.IdempotencyKey(st.DocumentID, entry)
		rec, err := o.poster.Post(postCtx, entry, key)
		if rec != nil {
			postings = append(postings, *rec)
		}
		if err != nil {
			postErr = err
			break
		}
	}
	meta := map[string]any{"entries": len(st.Entries), "posted": countPosted(postings)}

	if postErr != nil {
		next := fail(st, model.StatePostingFailed, postErr, nil)
		next.Postings = postings
		return next, meta, nil
	}
	next := advanceTo(st, model.StatePosted)
	next.Postings = postings
	return next, meta, nil
}

func countPosted(recs []model.PostingRecord) int {
	n := 0
	for _, r := range recs {
		if r.Status == model.PostingStatusPosted {
			n++
		}
	}
	return n
}
