package docstore

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GCS stores documents in a Google Cloud Storage bucket as
// gs://<bucket>/<company>/<sha256>.
type GCS struct {
	client *storage.Client
	bucket string
}

// NewGCS opens a client using credentialsJSON when set, otherwise
// Application Default Credentials.
func NewGCS(ctx context.Context, bucket, credentialsJSON string, opts ...option.ClientOption) (*GCS, error) {
	if bucket == "" {
		return nil, eris.New("docstore: gcs bucket is required")
	}
	if strings.TrimSpace(credentialsJSON) != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "docstore: gcs client")
	}
	return &GCS{client: client, bucket: bucket}, nil
}

// Put uploads data unless an object with the same content already exists.
func (g *GCS) Put(ctx context.Context, companyID string, data []byte, mimeType string) (string, error) {
	key, err := objectKey(companyID, data)
	if err != nil {
		return "", err
	}
	ref := "gs://" + g.bucket + "/" + key

	obj := g.client.Bucket(g.bucket).Object(key).If(storage.Conditions{DoesNotExist: true})
	w := obj.NewWriter(ctx)
	w.ContentType = mimeType
	w.Metadata = map[string]string{"company_id": companyID}

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", eris.Wrapf(err, "docstore: gcs write %s", key)
	}
	if err := w.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			zap.L().Debug("docstore: object already stored", zap.String("ref", ref))
			return ref, nil
		}
		return "", eris.Wrapf(err, "docstore: gcs close %s", key)
	}
	return ref, nil
}

// Get downloads the object behind a gs:// ref.
func (g *GCS) Get(ctx context.Context, ref string) ([]byte, error) {
	bucket, key, err := parseGCSRef(ref)
	if err != nil {
		return nil, err
	}
	r, err := g.client.Bucket(bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, eris.Wrapf(ErrNotFound, "docstore: %s", ref)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "docstore: gcs read %s", ref)
	}
	defer r.Close() //nolint:errcheck

	data, err := io.ReadAll(r)
	return data, eris.Wrapf(err, "docstore: gcs read %s", ref)
}

// Close releases the client.
func (g *GCS) Close() error {
	return g.client.Close()
}

func parseGCSRef(ref string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(ref, "gs://")
	if !ok {
		return "", "", eris.Errorf("docstore: not a gcs ref: %q", ref)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", eris.Errorf("docstore: malformed gcs ref: %q", ref)
	}
	return bucket, key, nil
}
