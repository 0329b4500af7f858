package docstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ledger-cli/internal/config"
)

func TestContentHash(t *testing.T) {
	// sha256("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", ContentHash([]byte("abc")))
}

func TestLocal_PutGet(t *testing.T) {
	ctx := context.Background()
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	ref, err := l.Put(ctx, "acme", []byte("%PDF-1.7 bill"), "application/pdf")
	require.NoError(t, err)
	assert.Contains(t, ref, "file://")
	assert.Contains(t, ref, "/acme/"+ContentHash([]byte("%PDF-1.7 bill")))

	data, err := l.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7 bill", string(data))
}

func TestLocal_PutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	l, err := NewLocal(dir)
	require.NoError(t, err)

	ref1, err := l.Put(ctx, "acme", []byte("same"), "text/plain")
	require.NoError(t, err)
	ref2, err := l.Put(ctx, "acme", []byte("same"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, ref1, ref2)

	entries, err := os.ReadDir(filepath.Join(dir, "acme"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestLocal_CompanyPartitioning(t *testing.T) {
	ctx := context.Background()
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	a, err := l.Put(ctx, "acme", []byte("doc"), "text/plain")
	require.NoError(t, err)
	b, err := l.Put(ctx, "globex", []byte("doc"), "text/plain")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestLocal_RejectsBadInput(t *testing.T) {
	ctx := context.Background()
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	_, err = l.Put(ctx, "../escape", []byte("x"), "text/plain")
	assert.Error(t, err)
	_, err = l.Put(ctx, "", []byte("x"), "text/plain")
	assert.Error(t, err)

	_, err = l.Get(ctx, "file:///etc/passwd")
	assert.Error(t, err)
	_, err = l.Get(ctx, "gs://bucket/acme/abc")
	assert.Error(t, err)
}

func TestLocal_GetMissing(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLocal(dir)
	require.NoError(t, err)

	_, err = l.Get(context.Background(), "file://"+filepath.ToSlash(filepath.Join(dir, "acme", "nope")))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestParseGCSRef(t *testing.T) {
	tests := []struct {
		ref    string
		bucket string
		key    string
		ok     bool
	}{
		{"gs://ledger-docs/acme/abc123", "ledger-docs", "acme/abc123", true},
		{"gs://ledger-docs/", "", "", false},
		{"gs://", "", "", false},
		{"file:///tmp/x", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			bucket, key, err := parseGCSRef(tt.ref)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.key, key)
		})
	}
}

func TestNew_Drivers(t *testing.T) {
	ctx := context.Background()

	st, err := New(ctx, config.DocStoreConfig{Driver: "local", LocalDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &Local{}, st)

	_, err = New(ctx, config.DocStoreConfig{Driver: "s3"})
	assert.Error(t, err)

	_, err = New(ctx, config.DocStoreConfig{Driver: "gcs"})
	assert.Error(t, err, "gcs requires a bucket")
}
