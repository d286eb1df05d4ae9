// Package detection finds faces in prepared images.
//
// Three backends implement the Detector interface:
//
//   - haar: OpenCV's Haar cascade classifier (haarcascade_frontalface_default.xml).
//   - dnn: OpenCV's Caffe SSD face network (opencv_face_detector.prototxt +
//     opencv_face_detector.caffemodel).
//   - pigo: a pure-Go pixel intensity comparison cascade (facefinder).
//
// The OpenCV backends are compiled only with the "gocv" build tag. Without it
// their loaders return a *ModelLoadError and the corresponding slots end up
// Failed, while the pigo backend keeps working.
//
// # Input Formats
//
// Cascade backends expect an equalized *image.Gray; the dnn backend expects an
// opaque color image. Detector.Input reports which one, and the caller
// (normally the session) derives it from an imaging.Frame. Detectors never
// modify the image they are given.
//
// # Coordinate System
//
// Boxes are in the coordinate space of the image passed to Detect:
//   - Origin (0, 0) at top-left corner
//   - X increases rightward
//   - Y increases downward
//   - (X1, Y1) inclusive, (X2, Y2) exclusive, always 0 <= X1 < X2 <= width
//
// # Slots
//
// A Slot owns one backend's lifecycle: Uninitialized, Staging (model files are
// being copied and parsed), Ready, or Failed. A detector is only handed out
// from a Ready slot; asking a Staging or Failed slot returns an error
// matching ErrNotReady instead of a nil detector.
package detection
