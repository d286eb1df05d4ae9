package detection

import (
	"fmt"

	"go.uber.org/multierr"
)

// CascadeConfig parameterizes the Haar cascade detector.
type CascadeConfig struct {
	// ScaleFactor is how much the search window grows between scales.
	ScaleFactor float64 `json:"scale_factor"`

	// MinNeighbors is how many overlapping candidates a face needs to be kept.
	MinNeighbors int `json:"min_neighbors"`

	// MinSize is the smallest face edge in pixels.
	MinSize int `json:"min_size"`

	// MaxSize is the largest face edge in pixels; 0 means unbounded.
	MaxSize int `json:"max_size"`
}

// DefaultCascadeConfig returns the stock frontal face parameters.
func DefaultCascadeConfig() CascadeConfig {
	return CascadeConfig{
		ScaleFactor:  1.1,
		MinNeighbors: 5,
		MinSize:      100,
		MaxSize:      0,
	}
}

// Validate reports every invalid field.
func (c CascadeConfig) Validate() error {
	var err error
	if c.ScaleFactor <= 1 {
		err = multierr.Append(err, fmt.Errorf("cascade scale factor must be > 1, got %v", c.ScaleFactor))
	}
	if c.MinNeighbors < 0 {
		err = multierr.Append(err, fmt.Errorf("cascade min neighbors must be >= 0, got %d", c.MinNeighbors))
	}
	if c.MinSize < 1 {
		err = multierr.Append(err, fmt.Errorf("cascade min size must be >= 1, got %d", c.MinSize))
	}
	if c.MaxSize != 0 && c.MaxSize < c.MinSize {
		err = multierr.Append(err, fmt.Errorf("cascade max size %d is below min size %d", c.MaxSize, c.MinSize))
	}
	return err
}

// DNNConfig parameterizes the Caffe SSD detector.
type DNNConfig struct {
	// InputSize is the square blob edge the network was trained on.
	InputSize int `json:"input_size"`

	// Mean is subtracted per channel in blob channel order.
	Mean [3]float64 `json:"mean"`

	// Scale multiplies pixel values after mean subtraction.
	Scale float64 `json:"scale"`

	SwapRB bool `json:"swap_rb"`
	Crop   bool `json:"crop"`

	// ConfidenceThreshold is exclusive: a row is kept only when its score is
	// strictly greater.
	ConfidenceThreshold float64 `json:"confidence_threshold"`
}

// DefaultDNNConfig returns the parameters of the res10 300x300 SSD model.
func DefaultDNNConfig() DNNConfig {
	return DNNConfig{
		InputSize:           300,
		Mean:                [3]float64{104, 177, 123},
		Scale:               1.0,
		SwapRB:              false,
		Crop:                false,
		ConfidenceThreshold: 0.5,
	}
}

// Validate reports every invalid field.
func (c DNNConfig) Validate() error {
	var err error
	if c.InputSize < 1 {
		err = multierr.Append(err, fmt.Errorf("dnn input size must be >= 1, got %d", c.InputSize))
	}
	if c.Scale <= 0 {
		err = multierr.Append(err, fmt.Errorf("dnn scale must be > 0, got %v", c.Scale))
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold >= 1 {
		err = multierr.Append(err, fmt.Errorf("dnn confidence threshold must be in [0,1), got %v", c.ConfidenceThreshold))
	}
	return err
}

// PigoConfig parameterizes the pure-Go cascade detector.
type PigoConfig struct {
	MinSize     int     `json:"min_size"`
	MaxSize     int     `json:"max_size"` // 0 means the larger image edge
	ShiftFactor float64 `json:"shift_factor"`
	ScaleFactor float64 `json:"scale_factor"`

	// Angle is the rotation of the search window as a fraction of a full turn.
	Angle float64 `json:"angle"`

	// IoUThreshold merges overlapping detections into one cluster.
	IoUThreshold float64 `json:"iou_threshold"`

	// QualityThreshold drops clusters whose summed score is not above it.
	QualityThreshold float32 `json:"quality_threshold"`
}

// DefaultPigoConfig returns parameters comparable to the cascade defaults.
func DefaultPigoConfig() PigoConfig {
	return PigoConfig{
		MinSize:          100,
		MaxSize:          0,
		ShiftFactor:      0.1,
		ScaleFactor:      1.1,
		Angle:            0,
		IoUThreshold:     0.2,
		QualityThreshold: 5,
	}
}

// Validate reports every invalid field.
func (c PigoConfig) Validate() error {
	var err error
	// Smaller windows stop growing under int truncation of MinSize*ScaleFactor.
	if c.MinSize < 10 {
		err = multierr.Append(err, fmt.Errorf("pigo min size must be >= 10, got %d", c.MinSize))
	}
	if c.MaxSize != 0 && c.MaxSize < c.MinSize {
		err = multierr.Append(err, fmt.Errorf("pigo max size %d is below min size %d", c.MaxSize, c.MinSize))
	}
	if c.ShiftFactor <= 0 || c.ShiftFactor > 1 {
		err = multierr.Append(err, fmt.Errorf("pigo shift factor must be in (0,1], got %v", c.ShiftFactor))
	}
	if c.ScaleFactor <= 1 {
		err = multierr.Append(err, fmt.Errorf("pigo scale factor must be > 1, got %v", c.ScaleFactor))
	}
	if c.Angle < 0 || c.Angle > 1 {
		err = multierr.Append(err, fmt.Errorf("pigo angle must be in [0,1], got %v", c.Angle))
	}
	if c.IoUThreshold <= 0 || c.IoUThreshold > 1 {
		err = multierr.Append(err, fmt.Errorf("pigo IoU threshold must be in (0,1], got %v", c.IoUThreshold))
	}
	return err
}

// Config groups the parameters of every backend.
type Config struct {
	Cascade CascadeConfig `json:"cascade"`
	DNN     DNNConfig     `json:"dnn"`
	Pigo    PigoConfig    `json:"pigo"`
}

// DefaultConfig returns the defaults of every backend.
func DefaultConfig() Config {
	return Config{
		Cascade: DefaultCascadeConfig(),
		DNN:     DefaultDNNConfig(),
		Pigo:    DefaultPigoConfig(),
	}
}

// Validate reports every invalid field of every backend.
func (c Config) Validate() error {
	return multierr.Combine(c.Cascade.Validate(), c.DNN.Validate(), c.Pigo.Validate())
}
