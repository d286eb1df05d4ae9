package detection

import (
	"math"
)

// ssdRowLen is the width of one SSD DetectionOutput row:
// [batchID, classID, confidence, left, top, right, bottom].
const ssdRowLen = 7

// ParseSSD converts the flat output tensor of an SSD network into faces for an
// image of width w and height h.
//
// Rows whose confidence is not strictly greater than threshold are skipped.
// Coordinates are normalized to [0,1] by the network; they are scaled by w and
// h, clamped to the image and rounded, and rows that end up with zero width or
// height are dropped. A trailing partial row is ignored.
func ParseSSD(data []float32, w, h int, threshold float64) []Face {
	faces := []Face{}
	if w <= 0 || h <= 0 {
		return faces
	}

	for i := 0; i+ssdRowLen <= len(data); i += ssdRowLen {
		row := data[i : i+ssdRowLen]

		conf := float64(row[2])
		if !(conf > threshold) {
			continue
		}

		x1, ok1 := scaleCoord(row[3], w)
		y1, ok2 := scaleCoord(row[4], h)
		x2, ok3 := scaleCoord(row[5], w)
		y2, ok4 := scaleCoord(row[6], h)
		if !ok1 || !ok2 || !ok3 || !ok4 {
			continue
		}
		if x1 >= x2 || y1 >= y2 {
			continue
		}

		c := conf
		faces = append(faces, Face{
			Box:        Box{X1: x1, Y1: y1, X2: x2, Y2: y2},
			Confidence: &c,
		})
	}
	return faces
}

// scaleCoord maps a normalized coordinate onto [0,size]. NaN is rejected.
func scaleCoord(v float32, size int) (int, bool) {
	f := float64(v)
	if math.IsNaN(f) {
		return 0, false
	}
	f = math.Round(f * float64(size))
	if f < 0 {
		f = 0
	}
	if f > float64(size) {
		f = float64(size)
	}
	return int(f), true
}
