package detection

import (
	"context"
	"fmt"
	"image"
	"strings"
)

// Backend names a face detection implementation.
type Backend string

const (
	BackendHaar Backend = "haar"
	BackendDNN  Backend = "dnn"
	BackendPigo Backend = "pigo"
)

// Backends lists every backend in display order.
func Backends() []Backend {
	return []Backend{BackendHaar, BackendDNN, BackendPigo}
}

// ParseBackend parses a backend name, case-insensitively.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case BackendHaar, BackendDNN, BackendPigo:
		return b, nil
	default:
		return "", fmt.Errorf("unknown backend %q: must be haar, dnn or pigo", s)
	}
}

// InputFormat is the pixel format a detector consumes.
type InputFormat int

const (
	// InputGray is an equalized single-channel *image.Gray.
	InputGray InputFormat = iota
	// InputRGB is an opaque color image.
	InputRGB
)

func (f InputFormat) String() string {
	if f == InputRGB {
		return "rgb"
	}
	return "gray"
}

// Box is an axis-aligned face rectangle.
type Box struct {
	X1 int `json:"x1"` // Left edge (inclusive)
	Y1 int `json:"y1"` // Top edge (inclusive)
	X2 int `json:"x2"` // Right edge (exclusive)
	Y2 int `json:"y2"` // Bottom edge (exclusive)
}

// Rect converts the box to an image.Rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// Width returns X2 - X1.
func (b Box) Width() int { return b.X2 - b.X1 }

// Height returns Y2 - Y1.
func (b Box) Height() int { return b.Y2 - b.Y1 }

// Face is one detection.
type Face struct {
	Box Box `json:"box"`

	// Confidence is the network score in (0,1]. Cascade backends do not
	// produce one and leave it nil.
	Confidence *float64 `json:"confidence,omitempty"`
}

// Result holds every face found in one image.
type Result struct {
	Backend Backend `json:"backend"`
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	Faces   []Face  `json:"faces"`
}

// Empty reports whether no face was found. An empty result is a valid
// outcome, not an error.
func (r *Result) Empty() bool {
	return r == nil || len(r.Faces) == 0
}

// Rects returns the face boxes as rectangles.
func (r *Result) Rects() []image.Rectangle {
	if r == nil {
		return nil
	}
	out := make([]image.Rectangle, len(r.Faces))
	for i, f := range r.Faces {
		out[i] = f.Box.Rect()
	}
	return out
}

// Detector finds faces in an image.
//
// Implementations must not modify img and must return an error wrapping
// ErrInputFormat if img is not in the format Input reports. A Detector is not
// required to support concurrent Detect calls; the session serializes them.
type Detector interface {
	Detect(ctx context.Context, img image.Image) (*Result, error)
	Input() InputFormat
	Backend() Backend
	Close() error
}

func newResult(b Backend, img image.Image) *Result {
	bounds := img.Bounds()
	return &Result{
		Backend: b,
		Width:   bounds.Dx(),
		Height:  bounds.Dy(),
		Faces:   []Face{},
	}
}

// clampBox shifts r into image space, clamps it to [0,w]x[0,h] and reports
// whether anything non-degenerate is left.
func clampBox(r, bounds image.Rectangle) (Box, bool) {
	r = r.Sub(bounds.Min).Intersect(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	if r.Empty() {
		return Box{}, false
	}
	return Box{X1: r.Min.X, Y1: r.Min.Y, X2: r.Max.X, Y2: r.Max.Y}, true
}
