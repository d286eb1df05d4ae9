package detection

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	pigo "github.com/esimov/pigo/core"

	"github.com/ironsheep/face-overlay-mcp/internal/imaging"
)

// PigoDetector runs the pigo pixel intensity comparison cascade.
type PigoDetector struct {
	cfg PigoConfig

	mu         sync.Mutex
	classifier *pigo.Pigo
}

// LoadPigo reads a pigo cascade file (such as "facefinder") and builds a detector.
func LoadPigo(path string, cfg PigoConfig) (Detector, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ModelLoadError{Backend: BackendPigo, Path: path, Err: err}
	}
	d, err := NewPigoDetector(data, cfg)
	if err != nil {
		var lerr *ModelLoadError
		if errors.As(err, &lerr) {
			lerr.Path = path
		}
		return nil, err
	}
	return d, nil
}

// NewPigoDetector unpacks cascade and returns a detector using it.
func NewPigoDetector(cascade []byte, cfg PigoConfig) (d *PigoDetector, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, &ModelLoadError{Backend: BackendPigo, Err: err}
	}
	if len(cascade) < 16 {
		return nil, &ModelLoadError{Backend: BackendPigo, Err: fmt.Errorf("cascade too short: %d bytes", len(cascade))}
	}

	// Unpack indexes the packet without bounds checks.
	defer func() {
		if r := recover(); r != nil {
			d = nil
			err = &ModelLoadError{Backend: BackendPigo, Err: fmt.Errorf("corrupt cascade: %v", r)}
		}
	}()

	classifier, err := pigo.NewPigo().Unpack(cascade)
	if err != nil {
		return nil, &ModelLoadError{Backend: BackendPigo, Err: err}
	}
	return &PigoDetector{cfg: cfg, classifier: classifier}, nil
}

func (d *PigoDetector) Input() InputFormat { return InputGray }

func (d *PigoDetector) Backend() Backend { return BackendPigo }

func (d *PigoDetector) Close() error { return nil }

// Detect scans gray for faces. Each clustered detection becomes a square box
// centered on it, clamped to the image.
func (d *PigoDetector) Detect(ctx context.Context, img image.Image) (*Result, error) {
	gray, ok := img.(*image.Gray)
	if !ok {
		return nil, fmt.Errorf("pigo: %w: want *image.Gray, got %T", ErrInputFormat, img)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := newResult(BackendPigo, gray)
	w, h := res.Width, res.Height

	maxSize := d.cfg.MaxSize
	if maxSize == 0 {
		maxSize = max(w, h)
	}
	params := pigo.CascadeParams{
		MinSize:     d.cfg.MinSize,
		MaxSize:     maxSize,
		ShiftFactor: d.cfg.ShiftFactor,
		ScaleFactor: d.cfg.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: imaging.GrayPixels(gray),
			Rows:   h,
			Cols:   w,
			Dim:    w,
		},
	}

	d.mu.Lock()
	dets := d.classifier.RunCascade(params, d.cfg.Angle)
	dets = d.classifier.ClusterDetections(dets, d.cfg.IoUThreshold)
	d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	frame := image.Rect(0, 0, w, h)
	for _, det := range dets {
		if det.Q <= d.cfg.QualityThreshold {
			continue
		}
		half := det.Scale / 2
		r := image.Rect(det.Col-half, det.Row-half, det.Col-half+det.Scale, det.Row-half+det.Scale)
		if box, ok := clampBox(r, frame); ok {
			res.Faces = append(res.Faces, Face{Box: box})
		}
	}
	return res, nil
}
