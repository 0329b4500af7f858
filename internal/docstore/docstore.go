// Package docstore keeps raw document bytes, content-addressed by SHA-256 and
// partitioned by company. Stored content is never overwritten.
package docstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ledger-cli/internal/config"
)

// Store is durable blob storage for document bytes.
type Store interface {
	Put(ctx context.Context, companyID string, data []byte, mimeType string) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Close() error
}

// ErrNotFound is returned by Get for an unknown ref.
var ErrNotFound = eris.New("docstore: not found")

// ContentHash returns the hex SHA-256 of data.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// objectKey is the company-scoped object name for data.
func objectKey(companyID string, data []byte) (string, error) {
	if companyID == "" || strings.ContainsAny(companyID, "/\\") || companyID == "." || companyID == ".." {
		return "", eris.Errorf("docstore: invalid company id %q", companyID)
	}
	return companyID + "/" + ContentHash(data), nil
}

// New builds the Store selected by cfg.Driver.
func New(ctx context.Context, cfg config.DocStoreConfig) (Store, error) {
	switch cfg.Driver {
	case "gcs":
		return NewGCS(ctx, cfg.Bucket, cfg.CredentialsJSON)
	case "local", "":
		return NewLocal(cfg.LocalDir)
	default:
		return nil, eris.Errorf("docstore: unknown driver %q", cfg.Driver)
	}
}
