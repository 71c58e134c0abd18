// Package segmentation defines the per-frame segmentation contract and the
// fixed catalog of target classes, plus a DeepLabv3 ONNX implementation.
//
// The segmenter is an external, opaque capability: anything that can produce
// a per-class probability map for a frame can stand in, which is what the
// tests do.
package segmentation

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrUnknownClass marks a target class name outside the fixed catalog.
var ErrUnknownClass = errors.New("unknown class")

// Class is one selectable segmentation target. Channel is the model output
// channel carrying the class probability.
type Class struct {
	Name    string `json:"name"`
	Channel int    `json:"channel"`
}

// ClassAll is the background/all-objects wildcard. It selects the union of
// every foreground class: the probability map carries, per pixel, the
// maximum probability over all non-background channels, so any confidently
// detected object survives the binarization threshold.
var ClassAll = Class{Name: "background", Channel: 0}

// classTable holds the Pascal-VOC channel assignments the pretrained
// DeepLabv3 head exposes for our target classes.
var classTable = []Class{
	ClassAll,
	{Name: "person", Channel: 15},
	{Name: "car", Channel: 7},
	{Name: "bus", Channel: 6},
	{Name: "truck", Channel: 8},
	{Name: "boat", Channel: 9},
	{Name: "cat", Channel: 17},
	{Name: "dog", Channel: 18},
	{Name: "horse", Channel: 19},
	{Name: "sheep", Channel: 20},
	{Name: "cow", Channel: 21},
}

// Classes returns the full catalog, wildcard first.
func Classes() []Class {
	out := make([]Class, len(classTable))
	copy(out, classTable)
	return out
}

// Lookup resolves a class by name, case-insensitively.
func Lookup(name string) (Class, error) {
	for _, c := range classTable {
		if strings.EqualFold(c.Name, name) {
			return c, nil
		}
	}
	return Class{}, errors.Wrapf(ErrUnknownClass, "%q", name)
}

// IsAll reports whether c is the all-objects wildcard.
func (c Class) IsAll() bool {
	return c.Channel == ClassAll.Channel
}
