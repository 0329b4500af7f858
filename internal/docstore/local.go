package docstore

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Local stores documents under a directory as file://<root>/<company>/<sha256>.
type Local struct {
	root string
}

// NewLocal creates root if needed.
func NewLocal(root string) (*Local, error) {
	if root == "" {
		root = "documents"
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, eris.Wrap(err, "docstore: resolve local dir")
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, eris.Wrapf(err, "docstore: create %s", abs)
	}
	return &Local{root: abs}, nil
}

// Put writes data once; an existing file with the same hash is left alone.
func (l *Local) Put(_ context.Context, companyID string, data []byte, _ string) (string, error) {
	key, err := objectKey(companyID, data)
	if err != nil {
		return "", err
	}
	path := filepath.Join(l.root, filepath.FromSlash(key))
	ref := "file://" + filepath.ToSlash(path)

	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", eris.Wrapf(err, "docstore: create company dir %s", companyID)
	}

	// Write to a temp file and rename so readers never see partial content.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return "", eris.Wrap(err, "docstore: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return "", eris.Wrap(err, "docstore: write temp file")
	}
	if err := tmp.Close(); err != nil {
		return "", eris.Wrap(err, "docstore: close temp file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", eris.Wrapf(err, "docstore: store %s", key)
	}
	return ref, nil
}

// Get reads a file:// ref. Refs outside the root are rejected.
func (l *Local) Get(_ context.Context, ref string) ([]byte, error) {
	p, ok := strings.CutPrefix(ref, "file://")
	if !ok {
		return nil, eris.Errorf("docstore: not a local ref: %q", ref)
	}
	path := filepath.Clean(filepath.FromSlash(p))
	if !strings.HasPrefix(path, l.root+string(filepath.Separator)) {
		return nil, eris.Errorf("docstore: ref outside store root: %q", ref)
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrapf(ErrNotFound, "docstore: %s", ref)
	}
	return data, eris.Wrapf(err, "docstore: read %s", ref)
}

// Close is a no-op.
func (l *Local) Close() error { return nil }
