// Package monitoring watches pipeline states for documents that stopped
// moving or need an operator, and raises alerts.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ledger-cli/internal/model"
)

// listLimit bounds one state listing.
const listLimit = 10000

// MetricsSnapshot holds a point-in-time view of the pipeline.
type MetricsSnapshot struct {
	ByState        map[model.State]int `json:"by_state"`
	InFlight       int                 `json:"in_flight"`
	NeedsAttention int                 `json:"needs_attention"`
	PostingFailed  int                 `json:"posting_failed"`
	Stalled        []StalledDocument   `json:"stalled,omitempty"`

	StalledAfter time.Duration `json:"stalled_after"`
	CollectedAt  time.Time     `json:"collected_at"`
}

// StalledDocument is a non-terminal document that has not changed state
// within the stall window.
type StalledDocument struct {
	DocumentID string      `json:"document_id"`
	CompanyID  string      `json:"company_id"`
	State      model.State `json:"state"`
	UpdatedAt  time.Time   `json:"updated_at"`
	LeaseOwner string      `json:"lease_owner,omitempty"`
}

// StateLister is the store method the collector needs.
type StateLister interface {
	ListStates(ctx context.Context, filter model.StateFilter) ([]model.PipelineState, error)
}

// Collector gathers pipeline metrics from the store.
type Collector struct {
	store StateLister
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st StateLister) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect counts documents per state and lists the stalled ones.
func (c *Collector) Collect(ctx context.Context, stalledAfter time.Duration) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		ByState:      make(map[model.State]int),
		StalledAfter: stalledAfter,
		CollectedAt:  now,
	}

	states, err := c.store.ListStates(ctx, model.StateFilter{Limit: listLimit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list states")
	}

	cutoff := now.Add(-stalledAfter)
	for _, st := range states {
		snap.ByState[st.State]++
		switch {
		case st.State == model.StatePostingFailed:
			snap.PostingFailed++
			snap.NeedsAttention++
		case st.State.NeedsAttention():
			snap.NeedsAttention++
		case !st.State.IsTerminal():
			snap.InFlight++
			if st.UpdatedAt.Before(cutoff) {
				snap.Stalled = append(snap.Stalled, StalledDocument{
					DocumentID: st.DocumentID,
					CompanyID:  st.CompanyID,
					State:      st.State,
					UpdatedAt:  st.UpdatedAt,
					LeaseOwner: st.LeaseOwner,
				})
			}
		}
	}
	return snap, nil
}
