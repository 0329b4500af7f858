package model

import "time"

// Document is an ingested source file. Content is immutable once stored;
// Status mirrors the pipeline state.
type Document struct {
	ID          string    `json:"id"`
	CompanyID   string    `json:"company_id"`
	StorageRef  string    `json:"storage_ref"`
	MimeType    string    `json:"mime_type"`
	Filename    string    `json:"filename,omitempty"`
	ContentHash string    `json:"content_hash"`
	UploadedAt  time.Time `json:"uploaded_at"`
	Status      State     `json:"status"`
}

// DocumentType is the closed set of document kinds the pipeline recognizes.
type DocumentType string

const (
	DocumentTypeBill             DocumentType = "bill"
	DocumentTypeInvoice          DocumentType = "invoice"
	DocumentTypePayroll          DocumentType = "payroll"
	DocumentTypeBankStatement    DocumentType = "bank_statement"
	DocumentTypeShareTransaction DocumentType = "share_transaction"
	DocumentTypeOnboarding       DocumentType = "onboarding"
	DocumentTypeUnknown          DocumentType = "unknown"
)

// DocumentTypes lists every known type except unknown, in a stable order.
var DocumentTypes = []DocumentType{
	DocumentTypeBill,
	DocumentTypeInvoice,
	DocumentTypePayroll,
	DocumentTypeBankStatement,
	DocumentTypeShareTransaction,
	DocumentTypeOnboarding,
}

// ParseDocumentType maps a loosely formatted label onto a DocumentType.
// Unrecognized labels return DocumentTypeUnknown.
func ParseDocumentType(s string) DocumentType {
	switch s {
	case "bill", "vendor_bill", "purchase_invoice":
		return DocumentTypeBill
	case "invoice", "sales_invoice", "customer_invoice":
		return DocumentTypeInvoice
	case "payroll", "payslip", "payroll_report":
		return DocumentTypePayroll
	case "bank_statement", "bank":
		return DocumentTypeBankStatement
	case "share_transaction", "share_document", "share", "equity":
		return DocumentTypeShareTransaction
	case "onboarding", "onboarding_document", "company_registration":
		return DocumentTypeOnboarding
	default:
		return DocumentTypeUnknown
	}
}

// Perspective records whether a document was issued by or to the operating company.
type Perspective string

const (
	// PerspectiveInbound documents were issued to the company (money owed by it).
	PerspectiveInbound Perspective = "inbound"
	// PerspectiveOutbound documents were issued by the company (money owed to it).
	PerspectiveOutbound Perspective = "outbound"
	PerspectiveNeutral  Perspective = "neutral"
)

// ClassificationResult is produced once per document and superseded only by
// a manual re-classification.
type ClassificationResult struct {
	DocumentID       string       `json:"document_id"`
	Type             DocumentType `json:"type"`
	Perspective      Perspective  `json:"perspective"`
	Confidence       float64      `json:"confidence"`
	CounterpartyName string       `json:"counterparty_name,omitempty"`
	Reason           string       `json:"reason,omitempty"`
	Manual           bool         `json:"manual,omitempty"`
	ClassifiedAt     time.Time    `json:"classified_at"`
}
