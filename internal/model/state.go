package model

import "time"

// State is a document's position in the pipeline.
type State string

const (
	StateUploaded     State = "uploaded"
	StateClassified   State = "classified"
	StateExtracted    State = "extracted"
	StateValidated    State = "validated"
	StateMapped       State = "mapped"
	StateJournalBuilt State = "journal_built"
	StatePosted       State = "posted"

	StateNeedsManualClassification State = "needs_manual_classification"
	StateNeedsManualInput          State = "needs_manual_input"
	StateValidationFailed          State = "validation_failed"
	StateUnmappedLineItem          State = "unmapped_line_item"
	StateUnbalancedEntry           State = "unbalanced_entry"
	StatePostingFailed             State = "posting_failed"
	StateCancelled                 State = "cancelled"
	StateSkipped                   State = "skipped"
)

// States lists every state in pipeline order followed by the side branches.
var States = []State{
	StateUploaded,
	StateClassified,
	StateExtracted,
	StateValidated,
	StateMapped,
	StateJournalBuilt,
	StatePosted,
	StateNeedsManualClassification,
	StateNeedsManualInput,
	StateValidationFailed,
	StateUnmappedLineItem,
	StateUnbalancedEntry,
	StatePostingFailed,
	StateCancelled,
	StateSkipped,
}

// IsTerminal reports whether automatic processing stops in this state.
func (s State) IsTerminal() bool {
	switch s {
	case StatePosted, StateSkipped, StateCancelled,
		StateNeedsManualClassification, StateNeedsManualInput,
		StateValidationFailed, StateUnmappedLineItem,
		StateUnbalancedEntry, StatePostingFailed:
		return true
	}
	return false
}

// NeedsAttention reports whether the state waits on an operator.
func (s State) NeedsAttention() bool {
	return s.IsTerminal() && s != StatePosted && s != StateSkipped && s != StateCancelled
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	for _, v := range States {
		if v == s {
			return true
		}
	}
	return false
}

// Violation describes one failed validation or mapping check.
type Violation struct {
	Field     string `json:"field"`
	Rule      string `json:"rule"`
	LineIndex *int   `json:"line_index,omitempty"`
	Message   string `json:"message"`
}

// PipelineState is the persisted snapshot of a document's progress. Every
// stage writes its output here in the same conditional write that moves State.
type PipelineState struct {
	DocumentID       string                `json:"document_id"`
	CompanyID        string                `json:"company_id"`
	State            State                 `json:"state"`
	Version          int64                 `json:"version"`
	Reason           string                `json:"reason,omitempty"`
	ErrorCode        ErrorCode             `json:"error_code,omitempty"`
	Violations       []Violation           `json:"violations,omitempty"`
	Classification   *ClassificationResult `json:"classification,omitempty"`
	Fields           *ExtractedFields      `json:"fields,omitempty"`
	Mapping          []MappedLine          `json:"mapping,omitempty"`
	AccountOverrides map[int]string        `json:"account_overrides,omitempty"`
	Entries          []JournalEntry        `json:"entries,omitempty"`
	Postings         []PostingRecord       `json:"postings,omitempty"`
	ClassifyAttempts int                   `json:"classify_attempts,omitempty"`
	CancelRequested  bool                  `json:"cancel_requested,omitempty"`
	CancelledAt      State                 `json:"cancelled_at,omitempty"`
	LeaseOwner       string                `json:"lease_owner,omitempty"`
	LeaseExpiresAt   *time.Time            `json:"lease_expires_at,omitempty"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

// ClearFailure drops the failure context of a previous side branch.
func (p *PipelineState) ClearFailure() {
	p.Reason = ""
	p.ErrorCode = ""
	p.Violations = nil
}

// StateFilter narrows state listings.
type StateFilter struct {
	CompanyID     string
	States        []State
	UpdatedBefore time.Time
	Limit         int
	Offset        int
}
