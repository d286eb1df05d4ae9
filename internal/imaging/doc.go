// Package imaging adapts user images to and from the representations the face
// detectors and the annotator work with.
//
// All operations work with standard Go image.Image types and use a coordinate
// system where (0,0) is at the top-left corner, X increases rightward, and Y
// increases downward. Regions use an inclusive top-left (x1,y1) and an exclusive
// bottom-right (x2,y2).
//
// # Pixel Formats
//
// The concrete image type carries the pixel format:
//   - *image.NRGBA: color (RGBA). ToRGB returns an NRGBA with alpha forced to
//     255, which is the 3-channel input of the DNN detector.
//   - *image.Gray: single channel, the input of the cascade detectors.
//
// # No Aliasing
//
// Every conversion returns a new image and never writes to its input. A Frame
// keeps the decoded source untouched and a separate color working copy that is
// used for annotation; detector inputs are derived from the working copy on
// demand, so drawing never sees grayscale or equalized pixels.
//
// # Downscaling
//
// Inputs wider than the configured maximum (1000px by default) are resized to
// exactly that width before detection, preserving the aspect ratio. Detection
// coordinates are therefore in working-image space.
//
// # Thread Safety
//
// The ImageCache type is safe for concurrent use. Individual image operations
// are stateless and can be called concurrently.
package imaging
