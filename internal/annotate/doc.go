// Package annotate draws detection results over a copy of the color image.
//
// Each face becomes an axis-aligned rectangle outline of a fixed stroke width
// and opaque color (4px #00FF00 by default). With labels enabled, faces that
// carry a confidence get it printed ("0.97") just above the box, or just inside
// it when the box touches the top edge.
//
// The input image is never modified.
package annotate
