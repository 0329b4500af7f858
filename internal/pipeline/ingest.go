package pipeline

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ledger-cli/internal/docstore"
	"github.com/sells-group/ledger-cli/internal/model"
	"github.com/sells-group/ledger-cli/internal/store"
)

// IngestRequest is one uploaded file.
type IngestRequest struct {
	CompanyID string
	Filename  string
	MimeType  string
	Content   []byte
}

// Ingest stores the content and registers the document in Uploaded. The same
// bytes uploaded twice for a company return the existing document with
// created false.
func (o *Orchestrator) Ingest(ctx context.Context, req IngestRequest) (doc *model.Document, created bool, err error) {
	if _, err := o.Company(req.CompanyID); err != nil {
		return nil, false, err
	}
	if len(req.Content) == 0 {
		return nil, false, eris.New("pipeline: empty document")
	}

	hash := docstore.ContentHash(req.Content)
	existing, err := o.store.FindDocumentByHash(ctx, req.CompanyID, hash)
	if err != nil {
		return nil, false, eris.Wrap(err, "pipeline: find document by hash")
	}
	if existing != nil {
		zap.L().Info("pipeline: document already ingested",
			zap.String("document_id", existing.ID),
			zap.String("company_id", req.CompanyID),
		)
		return existing, false, nil
	}

	ref, err := o.docs.Put(ctx, req.CompanyID, req.Content, req.MimeType)
	if err != nil {
		return nil, false, eris.Wrap(err, "pipeline: store content")
	}

	doc = &model.Document{
		CompanyID:   req.CompanyID,
		StorageRef:  ref,
		MimeType:    req.MimeType,
		Filename:    req.Filename,
		ContentHash: hash,
	}
	err = o.store.CreateDocument(ctx, doc)
	if errors.Is(err, store.ErrDuplicate) {
		// Lost a race with a concurrent upload of the same bytes.
		existing, ferr := o.store.FindDocumentByHash(ctx, req.CompanyID, hash)
		if ferr != nil || existing == nil {
			return nil, false, eris.Wrap(err, "pipeline: reload duplicate document")
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "pipeline: create document")
	}

	zap.L().Info("pipeline: document ingested",
		zap.String("document_id", doc.ID),
		zap.String("company_id", doc.CompanyID),
		zap.String("storage_ref", ref),
	)
	return doc, true, nil
}
