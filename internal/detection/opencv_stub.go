//go:build !gocv

package detection

import "errors"

var errNoOpenCV = errors.New("built without OpenCV support (rebuild with -tags gocv)")

// OpenCVAvailable reports whether the haar and dnn backends are compiled in.
func OpenCVAvailable() bool { return false }

// LoadHaarCascade always fails: the Haar backend needs OpenCV.
func LoadHaarCascade(path string, cfg CascadeConfig) (Detector, error) {
	return nil, &ModelLoadError{Backend: BackendHaar, Path: path, Err: errNoOpenCV}
}

// LoadDNN always fails: the DNN backend needs OpenCV.
func LoadDNN(prototxt, caffemodel string, cfg DNNConfig) (Detector, error) {
	return nil, &ModelLoadError{Backend: BackendDNN, Path: caffemodel, Err: errNoOpenCV}
}
