package annotate

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/ironsheep/face-overlay-mcp/internal/detection"
)

const (
	DefaultStrokeWidth = 4.0
	DefaultColor       = "#00FF00"
	DefaultLabelSize   = 16.0

	labelMargin = 4
)

var labelFont *truetype.Font

func init() {
	var err error
	labelFont, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Options controls how boxes are drawn.
type Options struct {
	StrokeWidth float64
	Color       color.Color
	Labels      bool
	LabelSize   float64
}

// DefaultOptions returns 4px green boxes without labels.
func DefaultOptions() Options {
	c, _ := ParseColor(DefaultColor)
	return Options{
		StrokeWidth: DefaultStrokeWidth,
		Color:       c,
		LabelSize:   DefaultLabelSize,
	}
}

// ParseColor parses a "#RRGGBB" hex color into an opaque color.
func ParseColor(hex string) (color.Color, error) {
	c, err := colorful.Hex(hex)
	if err != nil {
		return nil, fmt.Errorf("invalid color %q: %w", hex, err)
	}
	r, g, b := c.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 0xff}, nil
}

// Annotator draws results with fixed options.
type Annotator struct {
	opts Options
}

// New returns an Annotator. Zero fields of opts take their defaults.
func New(opts Options) *Annotator {
	def := DefaultOptions()
	if opts.StrokeWidth <= 0 {
		opts.StrokeWidth = def.StrokeWidth
	}
	if opts.Color == nil {
		opts.Color = def.Color
	}
	if opts.LabelSize <= 0 {
		opts.LabelSize = def.LabelSize
	}
	return &Annotator{opts: opts}
}

// Annotate draws res with the default options.
func Annotate(img image.Image, res *detection.Result) *image.RGBA {
	return New(DefaultOptions()).Annotate(img, res)
}

// Annotate returns a copy of img with one rectangle per face in res. Box
// coordinates are relative to the top-left corner of img.
func (a *Annotator) Annotate(img image.Image, res *detection.Result) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)

	if res.Empty() {
		return out
	}

	dc := gg.NewContextForRGBA(out)
	dc.SetLineJoin(gg.LineJoinRound)
	for _, f := range res.Faces {
		drawRectangleEmpty(dc, f.Box.Rect(), a.opts.Color, a.opts.StrokeWidth)
	}

	if a.opts.Labels {
		dc.SetFontFace(truetype.NewFace(labelFont, &truetype.Options{Size: a.opts.LabelSize}))
		for _, f := range res.Faces {
			if f.Confidence == nil {
				continue
			}
			a.drawLabel(dc, f.Box, fmt.Sprintf("%.2f", *f.Confidence))
		}
	}
	return out
}

// drawRectangleEmpty strokes the outline of r centered on its edges.
func drawRectangleEmpty(dc *gg.Context, r image.Rectangle, c color.Color, width float64) {
	dc.SetColor(c)
	dc.SetLineWidth(width)
	dc.DrawRectangle(float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy()))
	dc.Stroke()
}

func (a *Annotator) drawLabel(dc *gg.Context, box detection.Box, text string) {
	half := a.opts.StrokeWidth / 2
	x := float64(box.X1) - half
	y := float64(box.Y1) - half - labelMargin
	if y < a.opts.LabelSize {
		// No room above; put the baseline inside the box.
		y = float64(box.Y1) + half + a.opts.LabelSize
	}
	if x < 0 {
		x = 0
	}
	dc.SetColor(a.opts.Color)
	dc.DrawString(text, x, y)
}
