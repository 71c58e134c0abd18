package artifacts

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// FSStore caches artifacts on the local filesystem, one directory per job.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create artifact root %s", root)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) dir(jobID uuid.UUID) string {
	return filepath.Join(s.root, jobID.String())
}

// Put writes the blob atomically via a rename.
func (s *FSStore) Put(ctx context.Context, jobID uuid.UUID, key string, data []byte) error {
	dir := s.dir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create artifact dir for job %s", jobID)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errors.Wrap(err, "create temp blob")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "write blob %s", key)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "close blob %s", key)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, key)); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "publish blob %s", key)
	}
	return nil
}

// Get reads a cached blob.
func (s *FSStore) Get(ctx context.Context, jobID uuid.UUID, key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir(jobID), key))
	if os.IsNotExist(err) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read blob %s", key)
	}
	return data, nil
}

// DeleteAll removes the job's whole artifact directory.
func (s *FSStore) DeleteAll(ctx context.Context, jobID uuid.UUID) error {
	if err := os.RemoveAll(s.dir(jobID)); err != nil {
		return errors.Wrapf(err, "remove artifacts for job %s", jobID)
	}
	return nil
}
