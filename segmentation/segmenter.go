package segmentation

import (
	"context"
	"image"

	"github.com/nvr-ai/go-maskstab/masks"
)

// Segmenter produces a probability map for one target class on one frame.
//
// Implementations may be called once per frame in a tight loop; they own
// their batching and device placement. A returned error fails the whole
// segmentation stage of the calling job.
type Segmenter interface {
	Segment(ctx context.Context, frame image.Image, target Class) (masks.ProbabilityMap, error)
}
