// Package artifacts renders and serves the visual outputs of a job: overlay
// frames, comparison frames and exported clips. Rendered bytes are cached in
// a blob store keyed by job so repeated requests never re-render.
package artifacts

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrBlobNotFound marks a cache miss.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore is the artifact cache. Keys are scoped per job; DeleteAll drops
// every key a job ever wrote.
type BlobStore interface {
	Put(ctx context.Context, jobID uuid.UUID, key string, data []byte) error
	Get(ctx context.Context, jobID uuid.UUID, key string) ([]byte, error)
	DeleteAll(ctx context.Context, jobID uuid.UUID) error
}
