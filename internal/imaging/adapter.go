package imaging

import (
	"image"
	"math"

	"github.com/anthonynsimon/bild/effect"
	"github.com/anthonynsimon/bild/histogram"
	"github.com/disintegration/imaging"
)

// DefaultMaxWidth is the widest image detection runs on.
const DefaultMaxWidth = 1000

// ITU-R BT.601 luma weights, the same OpenCV uses for RGBA->GRAY.
const (
	lumaR = 0.299
	lumaG = 0.587
	lumaB = 0.114
)

// Frame holds one selected image and the color working copy derived from it.
type Frame struct {
	// Source is the decoded image as selected. It is never modified.
	Source image.Image

	// Working is a color copy of Source, downscaled when Source is wider than
	// the maximum width. Detection coordinates refer to this image and
	// annotation draws on a copy of it.
	Working *image.NRGBA

	// SourceWidth and SourceHeight are the dimensions of Source.
	SourceWidth  int
	SourceHeight int

	// Downscaled reports whether Working is smaller than Source.
	Downscaled bool
}

// Prepare builds a Frame for src. maxWidth <= 0 disables downscaling.
func Prepare(src image.Image, maxWidth int) *Frame {
	b := src.Bounds()
	working := Downscale(src, maxWidth)
	return &Frame{
		Source:       src,
		Working:      working,
		SourceWidth:  b.Dx(),
		SourceHeight: b.Dy(),
		Downscaled:   working.Bounds().Dx() != b.Dx(),
	}
}

// Width returns the working image width.
func (f *Frame) Width() int { return f.Working.Bounds().Dx() }

// Height returns the working image height.
func (f *Frame) Height() int { return f.Working.Bounds().Dy() }

// Scale returns the ratio of working to source width (1 when not downscaled).
func (f *Frame) Scale() float64 {
	if f.SourceWidth == 0 {
		return 1
	}
	return float64(f.Width()) / float64(f.SourceWidth)
}

// Gray returns a new equalized grayscale copy of the working image, the input
// the cascade detectors expect.
func (f *Frame) Gray() *image.Gray {
	return EqualizeHist(Grayscale(f.Working))
}

// RGB returns a new opaque 3-channel copy of the working image, the input the
// DNN detector expects.
func (f *Frame) RGB() *image.NRGBA {
	return ToRGB(f.Working)
}

// Downscale returns a copy of img no wider than maxWidth. Wider images are
// resized to exactly maxWidth with the height chosen to keep the aspect ratio.
// The result always has its origin at (0,0).
func Downscale(img image.Image, maxWidth int) *image.NRGBA {
	if maxWidth > 0 && img.Bounds().Dx() > maxWidth {
		return imaging.Resize(img, maxWidth, 0, imaging.Lanczos)
	}
	return imaging.Clone(img)
}

// Grayscale converts img to a single-channel image using BT.601 weights.
func Grayscale(img image.Image) *image.Gray {
	src := effect.GrayscaleWithWeights(img, lumaR, lumaG, lumaB)
	b := src.Bounds()
	dst := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Pix[dst.PixOffset(x, y)] = src.Pix[src.PixOffset(x, y)]
		}
	}
	return dst
}

// EqualizeHist spreads the intensity histogram of gray over the full 0-255
// range, normalizing lighting before cascade detection. The lookup table
// matches OpenCV's equalizeHist; an image with a single intensity is returned
// as an unchanged copy.
func EqualizeHist(gray *image.Gray) *image.Gray {
	b := gray.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	total := b.Dx() * b.Dy()
	if total == 0 {
		return dst
	}

	hist := histogram.NewRGBAHistogram(gray)
	bins := hist.R.Bins
	cdf := hist.R.Cumulative().Bins

	first := 0
	for first < len(bins) && bins[first] == 0 {
		first++
	}

	var lut [256]uint8
	if first < len(bins) && bins[first] == total {
		for i := range lut {
			lut[i] = uint8(i)
		}
	} else {
		scale := 255.0 / float64(total-bins[first])
		for i := first + 1; i < 256; i++ {
			v := math.Round(float64(cdf[i]-cdf[first]) * scale)
			if v > 255 {
				v = 255
			}
			lut[i] = uint8(v)
		}
	}

	for y := 0; y < b.Dy(); y++ {
		si := gray.PixOffset(b.Min.X, b.Min.Y+y)
		di := dst.PixOffset(0, y)
		for x := 0; x < b.Dx(); x++ {
			dst.Pix[di+x] = lut[gray.Pix[si+x]]
		}
	}
	return dst
}

// ToRGB drops the alpha channel of img, returning an opaque copy.
func ToRGB(img image.Image) *image.NRGBA {
	dst := imaging.Clone(img)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}

// GrayPixels returns the row-major intensity values of gray with no stride
// padding, the layout pixel-array based detectors consume.
func GrayPixels(gray *image.Gray) []uint8 {
	b := gray.Bounds()
	w, h := b.Dx(), b.Dy()
	if gray.Stride == w && b.Min == (image.Point{}) {
		out := make([]uint8, len(gray.Pix[:w*h]))
		copy(out, gray.Pix)
		return out
	}
	out := make([]uint8, 0, w*h)
	for y := 0; y < h; y++ {
		i := gray.PixOffset(b.Min.X, b.Min.Y+y)
		out = append(out, gray.Pix[i:i+w]...)
	}
	return out
}
