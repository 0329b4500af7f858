package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/ledger-cli/internal/model"
	"github.com/sells-group/ledger-cli/internal/notify"
)

// --- Classifier Mock ---

type mockClassifier struct {
	mock.Mock
}

func (m *mockClassifier) Classify(ctx context.Context, company model.CompanyContext, documentID string, content []byte, mimeType string) (*model.ClassificationResult, error) {
	args := m.Called(ctx, company, documentID, content, mimeType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ClassificationResult), args.Error(1)
}

// --- Extractor Mock ---

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) Extract(ctx context.Context, company model.CompanyContext, documentID string, content []byte, mimeType string, dt model.DocumentType, perspective model.Perspective) (*model.ExtractedFields, error) {
	args := m.Called(ctx, company, documentID, content, mimeType, dt, perspective)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ExtractedFields), args.Error(1)
}

// --- Poster Mock ---

type mockPoster struct {
	mock.Mock
}

func (m *mockPoster) Post(ctx context.Context, entry *model.JournalEntry, key string) (*model.PostingRecord, error) {
	args := m.Called(ctx, entry, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PostingRecord), args.Error(1)
}

// --- Publisher Mock ---

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, ev notify.Event) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func (m *mockPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}
