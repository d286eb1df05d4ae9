//go:build gocv

package detection

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// HaarCascadeDetector runs an OpenCV Haar cascade classifier.
type HaarCascadeDetector struct {
	cfg CascadeConfig

	mu         sync.Mutex // CascadeClassifier is not safe for concurrent use
	classifier gocv.CascadeClassifier
}

// LoadHaarCascade parses the cascade XML at path.
func LoadHaarCascade(path string, cfg CascadeConfig) (Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &ModelLoadError{Backend: BackendHaar, Path: path, Err: err}
	}
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(path) {
		classifier.Close()
		return nil, &ModelLoadError{Backend: BackendHaar, Path: path, Err: errors.New("classifier is empty after load")}
	}
	return &HaarCascadeDetector{cfg: cfg, classifier: classifier}, nil
}

func (d *HaarCascadeDetector) Input() InputFormat { return InputGray }

func (d *HaarCascadeDetector) Backend() Backend { return BackendHaar }

func (d *HaarCascadeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.classifier.Close()
}

// Detect runs multi-scale detection on an equalized grayscale image.
func (d *HaarCascadeDetector) Detect(ctx context.Context, img image.Image) (*Result, error) {
	gray, ok := img.(*image.Gray)
	if !ok {
		return nil, fmt.Errorf("haar: %w: want *image.Gray, got %T", ErrInputFormat, img)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat, err := gocv.ImageGrayToMatGray(gray)
	if err != nil {
		return nil, fmt.Errorf("haar: convert input: %w", err)
	}
	defer mat.Close()

	maxSize := image.Point{}
	if d.cfg.MaxSize > 0 {
		maxSize = image.Pt(d.cfg.MaxSize, d.cfg.MaxSize)
	}

	d.mu.Lock()
	rects := d.classifier.DetectMultiScaleWithParams(mat, d.cfg.ScaleFactor, d.cfg.MinNeighbors, 0,
		image.Pt(d.cfg.MinSize, d.cfg.MinSize), maxSize)
	d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := newResult(BackendHaar, gray)
	frame := image.Rect(0, 0, res.Width, res.Height)
	for _, r := range rects {
		if box, ok := clampBox(r, frame); ok {
			res.Faces = append(res.Faces, Face{Box: box})
		}
	}
	return res, nil
}

// OpenCVAvailable reports whether the haar and dnn backends are compiled in.
func OpenCVAvailable() bool { return true }
