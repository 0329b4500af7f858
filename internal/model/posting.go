package model

import "time"

// PostingStatus is the lifecycle of a single ERP submission.
type PostingStatus string

const (
	PostingStatusPending PostingStatus = "pending"
	PostingStatusPosted  PostingStatus = "posted"
	PostingStatusFailed  PostingStatus = "failed"
)

// PostingRecord tracks the submission of one journal entry to the ERP. At most
// one posted record exists per IdempotencyKey.
type PostingRecord struct {
	JournalEntryID string        `json:"journal_entry_id"`
	DocumentID     string        `json:"document_id"`
	CompanyID      string        `json:"company_id"`
	ERPReferenceID string        `json:"erp_reference_id,omitempty"`
	IdempotencyKey string        `json:"idempotency_key"`
	AttemptCount   int           `json:"attempt_count"`
	LastError      string        `json:"last_error,omitempty"`
	Status         PostingStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}
