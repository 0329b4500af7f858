package model

import "errors"

// ErrorCode identifies a failure class recorded on a pipeline state.
type ErrorCode string

const (
	ErrCodeClassificationUnavailable ErrorCode = "classification_unavailable"
	ErrCodeLowConfidence             ErrorCode = "low_confidence"
	ErrCodeExtractionIncomplete      ErrorCode = "extraction_incomplete"
	ErrCodeValidationFailed          ErrorCode = "validation_failed"
	ErrCodeUnmappedLineItem          ErrorCode = "unmapped_line_item"
	ErrCodeUnbalancedEntry           ErrorCode = "unbalanced_entry"
	ErrCodePostingTransientFailure   ErrorCode = "posting_transient_failure"
	ErrCodePostingFailed             ErrorCode = "posting_failed"
	ErrCodeUnsupportedType           ErrorCode = "unsupported_type"
	ErrCodeInternal                  ErrorCode = "internal"
)

// Coded is implemented by errors that belong to the taxonomy.
type Coded interface {
	error
	ErrorCode() ErrorCode
}

// CodeOf returns the code of the first Coded error in err's chain, or
// ErrCodeInternal when there is none.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var c Coded
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return ErrCodeInternal
}
