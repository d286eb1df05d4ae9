package imaging

import (
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"io"
	"os"
	"sync"

	_ "golang.org/x/image/bmp"  // Register BMP format decoder
	_ "golang.org/x/image/tiff" // Register TIFF format decoder
	_ "golang.org/x/image/webp" // Register WebP format decoder
)

// ImageCache provides thread-safe caching of decoded images to avoid redundant
// disk reads when the same photo is selected more than once.
//
// Cached images are treated as read-only by every caller: conversions always
// produce new images, so a cached entry is never modified.
type ImageCache struct {
	mu     sync.RWMutex
	images map[string]cachedImage
}

type cachedImage struct {
	img    image.Image
	format string
}

// NewImageCache creates and initializes a new empty image cache.
func NewImageCache() *ImageCache {
	return &ImageCache{
		images: make(map[string]cachedImage),
	}
}

// Load retrieves an image from the cache or decodes it from disk if not cached.
// It also returns the name of the detected format ("png", "jpeg", ...).
func (c *ImageCache) Load(path string) (image.Image, string, error) {
	c.mu.RLock()
	if e, ok := c.images[path]; ok {
		c.mu.RUnlock()
		return e.img, e.format, nil
	}
	c.mu.RUnlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, format, err := Decode(f)
	if err != nil {
		return nil, "", err
	}

	c.mu.Lock()
	c.images[path] = cachedImage{img: img, format: format}
	c.mu.Unlock()

	return img, format, nil
}

// Evict removes a specific image from the cache by its path.
func (c *ImageCache) Evict(path string) {
	c.mu.Lock()
	delete(c.images, path)
	c.mu.Unlock()
}

// Clear removes all images from the cache.
func (c *ImageCache) Clear() {
	c.mu.Lock()
	c.images = make(map[string]cachedImage)
	c.mu.Unlock()
}

// Len returns the number of cached images.
func (c *ImageCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.images)
}

// Decode decodes an encoded image of any registered format.
func Decode(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, "", fmt.Errorf("failed to decode image: empty %dx%d raster", b.Dx(), b.Dy())
	}
	return img, format, nil
}

// ImageInfo contains metadata about a loaded image.
type ImageInfo struct {
	// Path is the file the image was loaded from.
	Path string `json:"path"`

	// Format is the decoded format: "png", "jpeg", "gif", "bmp", "tiff" or "webp".
	Format string `json:"format"`

	// Width and Height are the decoded dimensions.
	Width  int `json:"width"`
	Height int `json:"height"`

	// WorkingWidth and WorkingHeight are the dimensions detection runs on and
	// the annotated output has.
	WorkingWidth  int `json:"working_width"`
	WorkingHeight int `json:"working_height"`

	// Downscaled reports whether the working image was reduced from the source.
	Downscaled bool `json:"downscaled"`

	// HasAlpha indicates whether the source has an alpha channel.
	HasAlpha bool `json:"has_alpha"`
}

// Describe summarizes a prepared frame.
func Describe(path, format string, f *Frame) *ImageInfo {
	hasAlpha := false
	switch f.Source.(type) {
	case *image.RGBA, *image.NRGBA, *image.RGBA64, *image.NRGBA64, *image.Paletted:
		hasAlpha = true
	}

	return &ImageInfo{
		Path:          path,
		Format:        format,
		Width:         f.SourceWidth,
		Height:        f.SourceHeight,
		WorkingWidth:  f.Width(),
		WorkingHeight: f.Height(),
		Downscaled:    f.Downscaled,
		HasAlpha:      hasAlpha,
	}
}
