package imaging

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// CropResult contains one cropped face region.
type CropResult struct {
	Index       int    `json:"index"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ImageBase64 string `json:"image_base64"`
	MimeType    string `json:"mime_type"`
}

// Crop extracts a rectangular region from an image
func Crop(img image.Image, r image.Rectangle, scale float64) (*image.NRGBA, error) {
	bounds := img.Bounds()

	if !r.In(bounds) {
		return nil, fmt.Errorf("crop region (%d,%d)-(%d,%d) outside image bounds (%d,%d)-(%d,%d)",
			r.Min.X, r.Min.Y, r.Max.X, r.Max.Y, bounds.Min.X, bounds.Min.Y, bounds.Max.X, bounds.Max.Y)
	}
	if r.Dx() <= 0 || r.Dy() <= 0 {
		return nil, fmt.Errorf("invalid crop region: x1 must be < x2, y1 must be < y2")
	}

	cropped := imaging.Crop(img, r)

	if scale != 1.0 && scale > 0 {
		newWidth := max(1, int(float64(cropped.Bounds().Dx())*scale))
		newHeight := max(1, int(float64(cropped.Bounds().Dy())*scale))
		cropped = imaging.Resize(cropped, newWidth, newHeight, imaging.Lanczos)
	}
	return cropped, nil
}

// CropFaces crops every region out of img, optionally expanded by padding
// pixels on each side (clamped to the image) and rescaled, and returns the
// crops as base64 PNGs in region order.
func CropFaces(img image.Image, regions []image.Rectangle, padding int, scale float64) ([]CropResult, error) {
	bounds := img.Bounds()
	out := make([]CropResult, 0, len(regions))
	for i, r := range regions {
		if padding > 0 {
			r = r.Inset(-padding).Intersect(bounds)
		}
		cropped, err := Crop(img, r, scale)
		if err != nil {
			return nil, fmt.Errorf("face %d: %w", i, err)
		}
		encoded, err := EncodeBase64PNG(cropped)
		if err != nil {
			return nil, fmt.Errorf("face %d: %w", i, err)
		}
		out = append(out, CropResult{
			Index:       i,
			Width:       cropped.Bounds().Dx(),
			Height:      cropped.Bounds().Dy(),
			ImageBase64: encoded,
			MimeType:    MimeType(PNG),
		})
	}
	return out, nil
}
