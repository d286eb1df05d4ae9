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

// DNNDetector runs the OpenCV Caffe SSD face network.
type DNNDetector struct {
	cfg DNNConfig

	mu  sync.Mutex
	net gocv.Net
}

// LoadDNN parses the network description and weights.
func LoadDNN(prototxt, caffemodel string, cfg DNNConfig) (Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &ModelLoadError{Backend: BackendDNN, Path: caffemodel, Err: err}
	}
	net := gocv.ReadNetFromCaffe(prototxt, caffemodel)
	if net.Empty() {
		net.Close()
		return nil, &ModelLoadError{Backend: BackendDNN, Path: caffemodel, Err: errors.New("network is empty after load")}
	}
	return &DNNDetector{cfg: cfg, net: net}, nil
}

func (d *DNNDetector) Input() InputFormat { return InputRGB }

func (d *DNNDetector) Backend() Backend { return BackendDNN }

func (d *DNNDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

// Detect runs one forward pass. Box coordinates are scaled back to the size of
// img, not the blob size.
func (d *DNNDetector) Detect(ctx context.Context, img image.Image) (*Result, error) {
	if _, ok := img.(*image.Gray); ok {
		return nil, fmt.Errorf("dnn: %w: want a color image, got %T", ErrInputFormat, img)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("dnn: convert input: %w", err)
	}
	defer mat.Close()

	size := image.Pt(d.cfg.InputSize, d.cfg.InputSize)
	mean := gocv.NewScalar(d.cfg.Mean[0], d.cfg.Mean[1], d.cfg.Mean[2], 0)
	blob := gocv.BlobFromImage(mat, d.cfg.Scale, size, mean, d.cfg.SwapRB, d.cfg.Crop)
	defer blob.Close()

	d.mu.Lock()
	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	d.mu.Unlock()
	defer out.Close()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("dnn: read output: %w", err)
	}

	res := newResult(BackendDNN, img)
	res.Faces = ParseSSD(data, res.Width, res.Height, d.cfg.ConfidenceThreshold)
	return res, nil
}
