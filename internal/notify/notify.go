// Package notify announces documents that reached a terminal state.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/ledger-cli/internal/config"
	"github.com/sells-group/ledger-cli/internal/model"
)

// Event is published once per terminal transition.
type Event struct {
	DocumentID string                `json:"document_id"`
	CompanyID  string                `json:"company_id"`
	State      model.State           `json:"state"`
	ErrorCode  model.ErrorCode       `json:"error_code,omitempty"`
	Reason     string                `json:"reason,omitempty"`
	Violations []model.Violation     `json:"violations,omitempty"`
	Postings   []model.PostingRecord `json:"postings,omitempty"`
	OccurredAt time.Time             `json:"occurred_at"`
}

// EventFor builds the event of a pipeline state.
func EventFor(st *model.PipelineState) Event {
	return Event{
		DocumentID: st.DocumentID,
		CompanyID:  st.CompanyID,
		State:      st.State,
		ErrorCode:  st.ErrorCode,
		Reason:     st.Reason,
		Violations: st.Violations,
		Postings:   st.Postings,
		OccurredAt: st.UpdatedAt,
	}
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// New returns a Pub/Sub publisher when a topic is configured and a log
// publisher otherwise.
func New(ctx context.Context, cfg config.NotifyConfig) (Publisher, error) {
	if cfg.Topic == "" {
		return LogPublisher{}, nil
	}
	return NewPubSub(ctx, cfg.ProjectID, cfg.Topic, cfg.CredentialsJSON)
}

// LogPublisher writes events to the structured log.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, ev Event) error {
	fields := []zap.Field{
		zap.String("document_id", ev.DocumentID),
		zap.String("company_id", ev.CompanyID),
		zap.String("state", string(ev.State)),
	}
	if ev.ErrorCode != "" {
		fields = append(fields, zap.String("error_code", string(ev.ErrorCode)), zap.String("reason", ev.Reason))
	}
	if len(ev.Postings) > 0 {
		refs := make([]string, 0, len(ev.Postings))
		for _, p := range ev.Postings {
			refs = append(refs, p.ERPReferenceID)
		}
		fields = append(fields, zap.Strings("erp_reference_ids", refs))
	}
	zap.L().Info("notify: document reached terminal state", fields...)
	return nil
}

func (LogPublisher) Close() error { return nil }
