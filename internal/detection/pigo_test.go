package detection

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
)

// fakeCascade builds a pigo cascade of depth-1 trees whose every node compares
// a pixel with itself, so each tree always lands on its second leaf. With
// trees == 0 the cascade rejects every window.
func fakeCascade(trees int, leaf, threshold float32) []byte {
	var buf bytes.Buffer
	buf.Write(make([]byte, 8))
	binary.Write(&buf, binary.LittleEndian, uint32(1)) // depth
	binary.Write(&buf, binary.LittleEndian, uint32(trees))
	for i := 0; i < trees; i++ {
		buf.Write(make([]byte, 4)) // node offsets, all zero
		binary.Write(&buf, binary.LittleEndian, float32(0))
		binary.Write(&buf, binary.LittleEndian, leaf)
		binary.Write(&buf, binary.LittleEndian, threshold)
	}
	return buf.Bytes()
}

func grayImage(width, height int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func TestPigo_BlankInputHasNoFaces(t *testing.T) {
	d, err := NewPigoDetector(fakeCascade(0, 0, 0), DefaultPigoConfig())
	if err != nil {
		t.Fatalf("NewPigoDetector failed: %v", err)
	}

	res, err := d.Detect(context.Background(), grayImage(400, 300, 0))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if !res.Empty() {
		t.Errorf("expected no faces on a blank image, got %d", len(res.Faces))
	}
	if res.Backend != BackendPigo || res.Width != 400 || res.Height != 300 {
		t.Errorf("unexpected result header: %+v", res)
	}
	if res.Faces == nil {
		t.Error("Faces should be an empty slice, not nil")
	}
}

func TestPigo_BoxesStayInBounds(t *testing.T) {
	d, err := NewPigoDetector(fakeCascade(1, 10, 1), DefaultPigoConfig())
	if err != nil {
		t.Fatalf("NewPigoDetector failed: %v", err)
	}

	img := grayImage(320, 240, 128)
	before := append([]uint8(nil), img.Pix...)

	res, err := d.Detect(context.Background(), img)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if res.Empty() {
		t.Fatal("an always-firing cascade should report faces")
	}
	for i, f := range res.Faces {
		b := f.Box
		if b.X1 < 0 || b.Y1 < 0 || b.X2 > 320 || b.Y2 > 240 || b.X1 >= b.X2 || b.Y1 >= b.Y2 {
			t.Errorf("face %d out of bounds: %+v", i, b)
		}
		if f.Confidence != nil {
			t.Errorf("face %d: cascade backends report no confidence", i)
		}
	}
	if !bytes.Equal(img.Pix, before) {
		t.Error("Detect modified its input")
	}
}

func TestPigo_QualityThreshold(t *testing.T) {
	cfg := DefaultPigoConfig()
	cfg.QualityThreshold = 1e12

	d, err := NewPigoDetector(fakeCascade(1, 10, 1), cfg)
	if err != nil {
		t.Fatal(err)
	}
	res, err := d.Detect(context.Background(), grayImage(320, 240, 128))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Empty() {
		t.Errorf("low-quality clusters should be dropped, got %d", len(res.Faces))
	}
}

func TestPigo_ImageSmallerThanMinSize(t *testing.T) {
	d, err := NewPigoDetector(fakeCascade(1, 10, 1), DefaultPigoConfig())
	if err != nil {
		t.Fatal(err)
	}
	res, err := d.Detect(context.Background(), grayImage(60, 60, 128))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Empty() {
		t.Errorf("no window fits a 60px image, got %d faces", len(res.Faces))
	}
}

func TestPigo_RejectsColorInput(t *testing.T) {
	d, err := NewPigoDetector(fakeCascade(0, 0, 0), DefaultPigoConfig())
	if err != nil {
		t.Fatal(err)
	}

	img := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	img.Set(0, 0, color.White)
	if _, err := d.Detect(context.Background(), img); !errors.Is(err, ErrInputFormat) {
		t.Errorf("got %v, want ErrInputFormat", err)
	}
	if d.Input() != InputGray {
		t.Errorf("Input: got %s, want gray", d.Input())
	}
}

func TestPigo_CancelledContext(t *testing.T) {
	d, err := NewPigoDetector(fakeCascade(0, 0, 0), DefaultPigoConfig())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Detect(ctx, grayImage(200, 200, 0)); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestNewPigoDetector_Invalid(t *testing.T) {
	badCfg := DefaultPigoConfig()
	badCfg.ScaleFactor = 1

	tests := []struct {
		name    string
		cascade []byte
		cfg     PigoConfig
	}{
		{"empty", nil, DefaultPigoConfig()},
		{"too short", make([]byte, 10), DefaultPigoConfig()},
		{"truncated trees", fakeCascade(3, 1, 0)[:30], DefaultPigoConfig()},
		{"bad config", fakeCascade(0, 0, 0), badCfg},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewPigoDetector(tt.cascade, tt.cfg)
			var mle *ModelLoadError
			if !errors.As(err, &mle) {
				t.Fatalf("got %v, want *ModelLoadError", err)
			}
			if d != nil {
				t.Error("detector should be nil on error")
			}
		})
	}
}

func TestLoadPigo(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "facefinder")
	if err := os.WriteFile(path, fakeCascade(0, 0, 0), 0o644); err != nil {
		t.Fatal(err)
	}

	d, err := LoadPigo(path, DefaultPigoConfig())
	if err != nil {
		t.Fatalf("LoadPigo failed: %v", err)
	}
	if d.Backend() != BackendPigo {
		t.Errorf("Backend: got %s", d.Backend())
	}

	_, err = LoadPigo(filepath.Join(dir, "missing"), DefaultPigoConfig())
	var mle *ModelLoadError
	if !errors.As(err, &mle) || mle.Path == "" {
		t.Errorf("missing file: got %v, want *ModelLoadError with a path", err)
	}

	short := filepath.Join(dir, "short")
	os.WriteFile(short, []byte("xx"), 0o644)
	_, err = LoadPigo(short, DefaultPigoConfig())
	if !errors.As(err, &mle) || mle.Path != short {
		t.Errorf("corrupt file: got %v, want *ModelLoadError for %s", err, short)
	}
}
