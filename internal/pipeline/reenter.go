package pipeline

import (
	"context"
	"maps"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ledger-cli/internal/model"
)

// ErrInvalidReentry is returned when a correction does not fit the
// document's current state.
var ErrInvalidReentry = eris.New("pipeline: invalid re-entry")

// Correction is the operator input that releases a document from a side
// branch. Only the part relevant to the current state is read.
type Correction struct {
	Classification   *model.ClassificationResult `json:"classification,omitempty"`
	Fields           *model.ExtractedFields      `json:"fields,omitempty"`
	AccountOverrides map[int]string              `json:"account_overrides,omitempty"`
}

// Reenter applies c and moves the document back to the stage the correction
// feeds. Later stages then run again; earlier ones are never repeated.
func (o *Orchestrator) Reenter(ctx context.Context, documentID string, c Correction) (*model.PipelineState, error) {
	release, err := o.acquire(ctx, documentID)
	if err != nil {
		return nil, err
	}
	defer release()

	st, err := o.store.GetState(ctx, documentID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load state %s", documentID)
	}

	next, err := o.reentry(st, c)
	if err != nil {
		return st, err
	}
	next.ClearFailure()

	if err := o.store.SaveState(ctx, next, st.State, st.Version); err != nil {
		return st, eris.Wrapf(err, "pipeline: re-enter %s", documentID)
	}
	zap.L().Info("pipeline: document re-entered",
		zap.String("document_id", documentID),
		zap.String("from", string(st.State)),
		zap.String("to", string(next.State)),
	)
	return next, nil
}

// reentry computes the corrected state without persisting it.
func (o *Orchestrator) reentry(st *model.PipelineState, c Correction) (*model.PipelineState, error) {
	next := *st

	switch st.State {
	case model.StateNeedsManualClassification:
		if c.Classification == nil {
			return nil, eris.Wrap(ErrInvalidReentry, "pipeline: a classification is required")
		}
		cls := *c.Classification
		if cls.Type == "" || cls.Type == model.DocumentTypeUnknown {
			return nil, eris.Wrap(ErrInvalidReentry, "pipeline: classification needs a known type")
		}
		cls.DocumentID = st.DocumentID
		cls.Manual = true
		if cls.Confidence == 0 {
			cls.Confidence = 1
		}
		if cls.Perspective == "" {
			cls.Perspective = model.PerspectiveNeutral
		}
		cls.ClassifiedAt = o.now()
		next.Classification = &cls
		next.Fields, next.Mapping, next.Entries = nil, nil, nil
		next.State = model.StateClassified

	case model.StateNeedsManualInput, model.StateValidationFailed:
		if c.Fields == nil {
			return nil, eris.Wrap(ErrInvalidReentry, "pipeline: corrected fields are required")
		}
		fields := *c.Fields
		fields.DocumentID = st.DocumentID
		if fields.Type == "" && st.Classification != nil {
			fields.Type = st.Classification.Type
			fields.Perspective = st.Classification.Perspective
		}
		fields.Presence = model.FieldPresence{Present: presentFields(st)}
		next.Fields = &fields
		next.Mapping, next.Entries = nil, nil
		next.State = model.StateExtracted

	case model.StateUnmappedLineItem:
		if len(c.AccountOverrides) == 0 {
			return nil, eris.Wrap(ErrInvalidReentry, "pipeline: account overrides are required")
		}
		next.AccountOverrides = mergeOverrides(st.AccountOverrides, c.AccountOverrides)
		next.Mapping, next.Entries = nil, nil
		next.State = model.StateValidated

	case model.StateUnbalancedEntry:
		next.AccountOverrides = mergeOverrides(st.AccountOverrides, c.AccountOverrides)
		next.Mapping, next.Entries = nil, nil
		next.State = model.StateValidated

	case model.StatePostingFailed:
		next.State = model.StateJournalBuilt

	case model.StateCancelled:
		if st.CancelledAt == "" {
			return nil, eris.Wrap(ErrInvalidReentry, "pipeline: cancelled state is unknown")
		}
		next.State = st.CancelledAt
		next.CancelledAt = ""

	default:
		return nil, eris.Wrapf(ErrInvalidReentry, "pipeline: document is %s", st.State)
	}
	return &next, nil
}

func mergeOverrides(base, extra map[int]string) map[int]string {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	out := make(map[int]string, len(base)+len(extra))
	maps.Copy(out, base)
	maps.Copy(out, extra)
	return out
}

// presentFields lists the fields the operator has now supplied.
func presentFields(st *model.PipelineState) []string {
	if st.Fields == nil {
		return nil
	}
	p := st.Fields.Presence
	return append(append([]string(nil), p.Present...), p.Missing...)
}
