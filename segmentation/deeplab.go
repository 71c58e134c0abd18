package segmentation

import (
	"context"
	"image"
	"os"
	"sync"

	"github.com/chewxy/math32"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/nvr-ai/go-maskstab/masks"
)

// DeepLabConfig configures the DeepLabv3 ONNX session.
type DeepLabConfig struct {
	// ModelPath points at the exported deeplabv3_resnet101 ONNX file.
	ModelPath string
	// LibraryPath points at the ONNX Runtime shared library.
	LibraryPath string
	// InputSize is the square network input resolution. Defaults to 520.
	InputSize int
	// NumClasses is the number of output channels. Defaults to 21 (VOC).
	NumClasses int
	// InputName/OutputName are the graph tensor names. Default "input"/"out".
	InputName  string
	OutputName string
}

func (c *DeepLabConfig) applyDefaults() {
	if c.InputSize == 0 {
		c.InputSize = 520
	}
	if c.NumClasses == 0 {
		c.NumClasses = 21
	}
	if c.InputName == "" {
		c.InputName = "input"
	}
	if c.OutputName == "" {
		c.OutputName = "out"
	}
}

// DeepLab runs semantic segmentation through a pretrained DeepLabv3 head.
// One session with preallocated input/output tensors; inference is
// serialized behind the mutex.
type DeepLab struct {
	cfg     DeepLabConfig
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// ImageNet normalization applied by the torchvision preprocessing the model
// was trained with.
var (
	imagenetMean = [3]float32{0.485, 0.456, 0.406}
	imagenetStd  = [3]float32{0.229, 0.224, 0.225}
)

// NewDeepLab loads the model and prepares the runtime session.
func NewDeepLab(cfg DeepLabConfig) (*DeepLab, error) {
	cfg.applyDefaults()

	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, errors.Wrapf(err, "model file %s", cfg.ModelPath)
	}

	if !ort.IsInitialized() {
		if cfg.LibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.LibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, errors.Wrap(err, "initialize onnxruntime")
		}
	}

	s := cfg.InputSize
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(s), int64(s)))
	if err != nil {
		return nil, errors.Wrap(err, "create input tensor")
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(cfg.NumClasses), int64(s), int64(s)))
	if err != nil {
		input.Destroy()
		return nil, errors.Wrap(err, "create output tensor")
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.Value{input},
		[]ort.Value{output},
		nil,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrap(err, "create session")
	}

	return &DeepLab{cfg: cfg, session: session, input: input, output: output}, nil
}

// Close releases the session and its tensors.
func (d *DeepLab) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session != nil {
		d.session.Destroy()
		d.session = nil
	}
	if d.input != nil {
		d.input.Destroy()
		d.input = nil
	}
	if d.output != nil {
		d.output.Destroy()
		d.output = nil
	}
	return nil
}

// Segment runs one frame through the network and returns the probability map
// for the target class at the frame's resolution.
func (d *DeepLab) Segment(ctx context.Context, frame image.Image, target Class) (masks.ProbabilityMap, error) {
	if err := ctx.Err(); err != nil {
		return masks.ProbabilityMap{}, err
	}
	if !target.IsAll() && target.Channel >= d.cfg.NumClasses {
		return masks.ProbabilityMap{}, errors.Errorf(
			"class %q channel %d outside model's %d channels", target.Name, target.Channel, d.cfg.NumClasses)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == nil {
		return masks.ProbabilityMap{}, errors.New("segmenter is closed")
	}

	prepareInput(frame, d.input.GetData(), d.cfg.InputSize)

	if err := d.session.Run(); err != nil {
		return masks.ProbabilityMap{}, errors.Wrap(err, "run inference")
	}

	prob := d.extractProbability(d.output.GetData(), target)

	bounds := frame.Bounds()
	return masks.ResizeBilinear(prob, bounds.Dx(), bounds.Dy()), nil
}

// prepareInput resizes the frame to the network resolution, splits it into
// CHW channel planes and applies ImageNet normalization.
func prepareInput(img image.Image, dst []float32, size int) {
	resized := resize.Resize(uint(size), uint(size), img, resize.Lanczos3)

	plane := size * size
	red := dst[0:plane]
	green := dst[plane : 2*plane]
	blue := dst[2*plane : 3*plane]

	i := 0
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			red[i] = (float32(r>>8)/255.0 - imagenetMean[0]) / imagenetStd[0]
			green[i] = (float32(g>>8)/255.0 - imagenetMean[1]) / imagenetStd[1]
			blue[i] = (float32(b>>8)/255.0 - imagenetMean[2]) / imagenetStd[2]
			i++
		}
	}
}

// extractProbability turns the raw [1, C, S, S] logits into a per-pixel
// probability map at network resolution. For a concrete class this is its
// softmax channel; for the all-objects wildcard it is the maximum softmax
// probability over every foreground channel.
func (d *DeepLab) extractProbability(logits []float32, target Class) masks.ProbabilityMap {
	s := d.cfg.InputSize
	c := d.cfg.NumClasses
	plane := s * s
	out := masks.NewProbabilityMap(s, s)

	for p := 0; p < plane; p++ {
		// Softmax over channels, shifted by the max logit for stability.
		maxLogit := logits[p]
		for ch := 1; ch < c; ch++ {
			if v := logits[ch*plane+p]; v > maxLogit {
				maxLogit = v
			}
		}
		var sum float32
		var targetExp float32
		var bestForeground float32
		for ch := 0; ch < c; ch++ {
			e := math32.Exp(logits[ch*plane+p] - maxLogit)
			sum += e
			if ch == target.Channel {
				targetExp = e
			}
			if ch > 0 && e > bestForeground {
				bestForeground = e
			}
		}
		if target.IsAll() {
			out.Data[p] = bestForeground / sum
		} else {
			out.Data[p] = targetExp / sum
		}
	}
	return out
}
