package session

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/ironsheep/face-overlay-mcp/internal/detection"
)

// stubDetector reports fixed boxes and records the images it was given.
type stubDetector struct {
	backend detection.Backend
	input   detection.InputFormat
	boxes   []detection.Box
	conf    *float64

	// block makes Detect wait for ctx; entered is signalled on each call.
	block   bool
	entered chan struct{}

	// gate, when set, holds Input until it is closed; inputCalled is
	// signalled first.
	gate        chan struct{}
	inputCalled chan struct{}

	mu        sync.Mutex
	seen      []image.Image
	closed    atomic.Bool
	usedAfter atomic.Bool // Detect ran after Close
}

func (d *stubDetector) Detect(ctx context.Context, img image.Image) (*detection.Result, error) {
	if d.closed.Load() {
		d.usedAfter.Store(true)
	}
	d.mu.Lock()
	d.seen = append(d.seen, img)
	d.mu.Unlock()

	if d.entered != nil {
		d.entered <- struct{}{}
	}
	if d.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	b := img.Bounds()
	res := &detection.Result{Backend: d.backend, Width: b.Dx(), Height: b.Dy(), Faces: []detection.Face{}}
	for _, box := range d.boxes {
		res.Faces = append(res.Faces, detection.Face{Box: box, Confidence: d.conf})
	}
	return res, nil
}

func (d *stubDetector) Input() detection.InputFormat {
	if d.gate != nil {
		d.inputCalled <- struct{}{}
		<-d.gate
	}
	return d.input
}

func (d *stubDetector) Backend() detection.Backend { return d.backend }
func (d *stubDetector) Close() error {
	d.closed.Store(true)
	return nil
}

func (d *stubDetector) lastInput() image.Image {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.seen) == 0 {
		return nil
	}
	return d.seen[len(d.seen)-1]
}

func loadsDetector(d detection.Detector) detection.LoadFunc {
	return func(ctx context.Context) (detection.Detector, error) { return d, nil }
}

func newTestSession(t *testing.T, loads map[detection.Backend]detection.LoadFunc) *Session {
	t.Helper()
	logger := zaptest.NewLogger(t)
	slots := detection.Slots{}
	for b, load := range loads {
		slots[b] = detection.NewSlot(b, load, logger)
	}
	s := New(slots, Options{}, logger)
	t.Cleanup(func() { s.Close() })
	return s
}

func createInMemoryImage(width, height int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func waitOutcome(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for outcome")
		return Outcome{}
	}
}

func TestDetect_NoImage(t *testing.T) {
	s := newTestSession(t, map[detection.Backend]detection.LoadFunc{
		detection.BackendPigo: loadsDetector(&stubDetector{backend: detection.BackendPigo}),
	})

	o := s.Detect(context.Background(), detection.BackendPigo)
	if !errors.Is(o.Err, ErrNoImage) {
		t.Fatalf("got %v, want ErrNoImage", o.Err)
	}
	if o.Message() != MsgNoImage {
		t.Errorf("message: got %q", o.Message())
	}
}

func TestDetect_UnknownBackend(t *testing.T) {
	s := newTestSession(t, nil)
	if o := s.Detect(context.Background(), "nope"); o.Err == nil {
		t.Error("unknown backend should fail")
	}
}

func TestDetect_FindsFaces(t *testing.T) {
	det := &stubDetector{
		backend: detection.BackendPigo,
		boxes:   []detection.Box{{X1: 50, Y1: 50, X2: 150, Y2: 180}},
	}
	s := newTestSession(t, map[detection.Backend]detection.LoadFunc{
		detection.BackendPigo: loadsDetector(det),
	})

	src := createInMemoryImage(300, 250, color.RGBA{30, 30, 30, 255})
	if _, err := s.SetImage("test", src); err != nil {
		t.Fatal(err)
	}

	o := s.Detect(context.Background(), detection.BackendPigo)
	if o.Err != nil {
		t.Fatalf("Detect failed: %v", o.Err)
	}
	if len(o.Result.Faces) != 1 {
		t.Fatalf("got %d faces, want 1", len(o.Result.Faces))
	}
	if o.Message() != "1 face detected" {
		t.Errorf("message: got %q", o.Message())
	}
	if o.Annotated == nil || o.Annotated.Bounds() != src.Bounds() {
		t.Fatalf("annotated image has wrong bounds")
	}
	if c := o.Annotated.RGBAAt(50, 50); c.G < 250 || c.R > 5 {
		t.Errorf("box corner not drawn: %v", c)
	}
	if src.RGBAAt(50, 50) != (color.RGBA{30, 30, 30, 255}) {
		t.Error("source image was modified")
	}

	if _, ok := det.lastInput().(*image.Gray); !ok {
		t.Errorf("gray detector got %T", det.lastInput())
	}

	last, ok := s.Last()
	if !ok || last.Result != o.Result {
		t.Error("Last should return the finished outcome")
	}
}

func TestDetect_RGBInputAndDownscale(t *testing.T) {
	det := &stubDetector{backend: detection.BackendDNN, input: detection.InputRGB}
	s := newTestSession(t, map[detection.Backend]detection.LoadFunc{
		detection.BackendDNN: loadsDetector(det),
	})

	info, err := s.SetImage("big", createInMemoryImage(2000, 1500, color.RGBA{200, 10, 10, 255}))
	if err != nil {
		t.Fatal(err)
	}
	if info.WorkingWidth != 1000 || !info.Downscaled {
		t.Errorf("info: %+v", info)
	}

	o := s.Detect(context.Background(), detection.BackendDNN)
	if o.Err != nil {
		t.Fatal(o.Err)
	}

	in, ok := det.lastInput().(*image.NRGBA)
	if !ok {
		t.Fatalf("rgb detector got %T", det.lastInput())
	}
	if in.Bounds().Dx() != 1000 {
		t.Errorf("detector input width: got %d, want 1000", in.Bounds().Dx())
	}
	if in.Pix[3] != 0xff {
		t.Error("rgb input should be opaque")
	}
	if o.Annotated.Bounds().Dx() != 1000 {
		t.Errorf("annotated width: got %d, want 1000", o.Annotated.Bounds().Dx())
	}
}

func TestDetect_NoFacesDiffersFromFailure(t *testing.T) {
	s := newTestSession(t, map[detection.Backend]detection.LoadFunc{
		detection.BackendPigo: loadsDetector(&stubDetector{backend: detection.BackendPigo}),
		detection.BackendHaar: func(ctx context.Context) (detection.Detector, error) {
			return nil, &detection.ModelLoadError{Backend: detection.BackendHaar, Err: errors.New("empty classifier")}
		},
	})
	s.SetImage("blank", createInMemoryImage(200, 200, color.Black))

	empty := s.Detect(context.Background(), detection.BackendPigo)
	if empty.Err != nil {
		t.Fatalf("empty detection should succeed: %v", empty.Err)
	}
	if !empty.Result.Empty() || empty.Message() != MsgNoFaces {
		t.Errorf("empty: %+v, %q", empty.Result, empty.Message())
	}

	failed := s.Detect(context.Background(), detection.BackendHaar)
	if !errors.Is(failed.Err, detection.ErrNotReady) {
		t.Fatalf("got %v, want ErrNotReady", failed.Err)
	}
	if !strings.HasPrefix(failed.Message(), "face detector could not be loaded: ") {
		t.Errorf("failure message: %q", failed.Message())
	}
	if failed.Message() == empty.Message() {
		t.Error("no faces and failure must produce different messages")
	}

	// Failed slots fail fast on later requests too.
	again := s.Detect(context.Background(), detection.BackendHaar)
	if again.Message() != failed.Message() {
		t.Errorf("second failure message: %q", again.Message())
	}
}

func TestLoad_CancelsInFlight(t *testing.T) {
	det := &stubDetector{backend: detection.BackendPigo, block: true, entered: make(chan struct{}, 1)}
	s := newTestSession(t, map[detection.Backend]detection.LoadFunc{
		detection.BackendPigo: loadsDetector(det),
	})
	s.SetImage("first", createInMemoryImage(100, 100, color.White))

	ch := s.Start(context.Background(), detection.BackendPigo)
	<-det.entered

	s.SetImage("second", createInMemoryImage(120, 80, color.White))

	o := waitOutcome(t, ch)
	if !errors.Is(o.Err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", o.Err)
	}
	if o.Message() != MsgCancelled {
		t.Errorf("message: %q", o.Message())
	}
	if _, ok := s.Last(); ok {
		t.Error("a cancelled detection must not become the last result")
	}
	if info, _ := s.Image(); info.Path != "second" {
		t.Errorf("current image: %s", info.Path)
	}
}

func TestStart_CancelsPrevious(t *testing.T) {
	det := &stubDetector{backend: detection.BackendPigo, block: true, entered: make(chan struct{}, 2)}
	s := newTestSession(t, map[detection.Backend]detection.LoadFunc{
		detection.BackendPigo: loadsDetector(det),
	})
	s.SetImage("img", createInMemoryImage(50, 50, color.White))

	first := s.Start(context.Background(), detection.BackendPigo)
	<-det.entered
	second := s.Start(context.Background(), detection.BackendPigo)

	if o := waitOutcome(t, first); !errors.Is(o.Err, context.Canceled) {
		t.Errorf("first: got %v, want context.Canceled", o.Err)
	}

	<-det.entered
	if !s.Cancel() {
		t.Error("Cancel should report the running task")
	}
	if o := waitOutcome(t, second); !errors.Is(o.Err, context.Canceled) {
		t.Errorf("second: got %v, want context.Canceled", o.Err)
	}
	if s.Cancel() {
		t.Error("Cancel with nothing running should report false")
	}
}

func TestStart_ChannelClosedAfterOutcome(t *testing.T) {
	s := newTestSession(t, map[detection.Backend]detection.LoadFunc{
		detection.BackendPigo: loadsDetector(&stubDetector{backend: detection.BackendPigo}),
	})
	s.SetImage("img", createInMemoryImage(20, 20, color.White))

	ch := s.Start(context.Background(), detection.BackendPigo)
	waitOutcome(t, ch)
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after the outcome")
	}
}

func TestDetect_StillStaging(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	det := &stubDetector{backend: detection.BackendPigo}
	s := newTestSession(t, map[detection.Backend]detection.LoadFunc{
		detection.BackendPigo: func(ctx context.Context) (detection.Detector, error) {
			close(started)
			select {
			case <-release:
				return det, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})
	s.SetImage("img", createInMemoryImage(20, 20, color.White))

	ctx, cancel := context.WithCancel(context.Background())
	first := s.Start(ctx, detection.BackendPigo)
	<-started
	cancel()
	if o := waitOutcome(t, first); !errors.Is(o.Err, context.Canceled) {
		t.Fatalf("first: got %v, want context.Canceled", o.Err)
	}

	// The load keeps going after the first request gave up.
	o := s.Detect(context.Background(), detection.BackendPigo)
	if !errors.Is(o.Err, detection.ErrNotReady) {
		t.Fatalf("got %v, want ErrNotReady", o.Err)
	}
	if o.Message() != MsgStillLoading {
		t.Errorf("message: %q", o.Message())
	}

	close(release)
	deadline := time.Now().Add(5 * time.Second)
	for s.slots[detection.BackendPigo].State() != detection.StateReady {
		if time.Now().After(deadline) {
			t.Fatal("slot never became ready")
		}
		time.Sleep(time.Millisecond)
	}

	if o := s.Detect(context.Background(), detection.BackendPigo); o.Err != nil {
		t.Errorf("after staging: %v", o.Err)
	}
}

func TestReload_RetriesFailedBackend(t *testing.T) {
	var calls atomic.Int32
	s := newTestSession(t, map[detection.Backend]detection.LoadFunc{
		detection.BackendHaar: func(ctx context.Context) (detection.Detector, error) {
			if calls.Add(1) == 1 {
				return nil, errors.New("disk full")
			}
			return &stubDetector{backend: detection.BackendHaar}, nil
		},
	})
	s.SetImage("img", createInMemoryImage(20, 20, color.White))

	if o := s.Detect(context.Background(), detection.BackendHaar); o.Err == nil {
		t.Fatal("first detection should fail")
	}
	if st := s.Status(); len(st) != 1 || st[0].State != "failed" {
		t.Errorf("status: %+v", st)
	}

	ok, err := s.Reload(detection.BackendHaar)
	if !ok || err != nil {
		t.Fatalf("Reload: %v, %v", ok, err)
	}
	if o := s.Detect(context.Background(), detection.BackendHaar); o.Err != nil {
		t.Errorf("after reload: %v", o.Err)
	}
	if _, err := s.Reload("nope"); err == nil {
		t.Error("Reload of an unknown backend should fail")
	}
}

func TestReload_WaitsForRunningDetect(t *testing.T) {
	det := &stubDetector{backend: detection.BackendHaar, block: true, entered: make(chan struct{}, 1)}
	s := newTestSession(t, map[detection.Backend]detection.LoadFunc{
		detection.BackendHaar: loadsDetector(det),
	})
	s.SetImage("img", createInMemoryImage(40, 40, color.White))

	ch := s.Start(context.Background(), detection.BackendHaar)
	<-det.entered

	reloaded := make(chan bool, 1)
	go func() {
		ok, _ := s.Reload(detection.BackendHaar)
		reloaded <- ok
	}()

	select {
	case <-reloaded:
		t.Fatal("Reload returned while Detect was running")
	case <-time.After(50 * time.Millisecond):
	}
	if det.closed.Load() {
		t.Fatal("detector closed while Detect was running")
	}

	s.Cancel()
	if o := waitOutcome(t, ch); !errors.Is(o.Err, context.Canceled) {
		t.Errorf("in-flight: got %v, want context.Canceled", o.Err)
	}
	select {
	case ok := <-reloaded:
		if !ok {
			t.Error("Reload should reset a ready backend")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Reload did not return after Detect finished")
	}
	if !det.closed.Load() {
		t.Error("Reload should release the old detector")
	}
}

func TestReload_BeforeDetectStarts(t *testing.T) {
	det := &stubDetector{
		backend:     detection.BackendHaar,
		gate:        make(chan struct{}),
		inputCalled: make(chan struct{}, 1),
	}
	s := newTestSession(t, map[detection.Backend]detection.LoadFunc{
		detection.BackendHaar: loadsDetector(det),
	})
	s.SetImage("img", createInMemoryImage(40, 40, color.White))

	ch := s.Start(context.Background(), detection.BackendHaar)
	<-det.inputCalled

	if ok, err := s.Reload(detection.BackendHaar); !ok || err != nil {
		t.Fatalf("Reload: %v, %v", ok, err)
	}
	close(det.gate)

	o := waitOutcome(t, ch)
	if !errors.Is(o.Err, detection.ErrNotReady) {
		t.Errorf("got %v, want ErrNotReady", o.Err)
	}
	if det.usedAfter.Load() || det.lastInput() != nil {
		t.Error("Detect ran on a released detector")
	}
}

func TestOutcome_SourceScale(t *testing.T) {
	s := newTestSession(t, map[detection.Backend]detection.LoadFunc{
		detection.BackendPigo: loadsDetector(&stubDetector{backend: detection.BackendPigo}),
	})
	s.SetImage("wide", createInMemoryImage(2000, 1000, color.White))

	o := s.Detect(context.Background(), detection.BackendPigo)
	if o.Err != nil {
		t.Fatal(o.Err)
	}
	s.SetImage("small", createInMemoryImage(100, 100, color.White))

	if got := o.SourceScale(); got != 2 {
		t.Errorf("SourceScale: got %v, want 2", got)
	}
	if got := (Outcome{}).SourceScale(); got != 1 {
		t.Errorf("empty outcome: got %v, want 1", got)
	}
}

func TestCropFaces(t *testing.T) {
	s := newTestSession(t, map[detection.Backend]detection.LoadFunc{
		detection.BackendPigo: loadsDetector(&stubDetector{
			backend: detection.BackendPigo,
			boxes:   []detection.Box{{X1: 10, Y1: 10, X2: 40, Y2: 50}, {X1: 60, Y1: 20, X2: 90, Y2: 60}},
		}),
	})

	if _, err := s.CropFaces(0, 1); !errors.Is(err, ErrNoImage) {
		t.Errorf("before load: got %v, want ErrNoImage", err)
	}
	s.SetImage("img", createInMemoryImage(100, 100, color.White))
	if _, err := s.CropFaces(0, 1); !errors.Is(err, ErrNoResult) {
		t.Errorf("before detect: got %v, want ErrNoResult", err)
	}

	if o := s.Detect(context.Background(), detection.BackendPigo); o.Err != nil {
		t.Fatal(o.Err)
	}
	crops, err := s.CropFaces(0, 1)
	if err != nil {
		t.Fatalf("CropFaces failed: %v", err)
	}
	if len(crops) != 2 || crops[0].Width != 30 || crops[0].Height != 40 {
		t.Errorf("crops: %+v", crops)
	}
}

func TestLoad_FromFile(t *testing.T) {
	s := newTestSession(t, nil)

	path := filepath.Join(t.TempDir(), "photo.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	png.Encode(f, createInMemoryImage(64, 48, color.White))
	f.Close()

	info, err := s.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if info.Format != "png" || info.Width != 64 || info.Height != 48 || info.Downscaled {
		t.Errorf("info: %+v", info)
	}

	if _, err := s.Load(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Error("Load should fail for a missing file")
	}
	if got, _ := s.Image(); got.Path != path {
		t.Error("a failed Load must keep the previous image")
	}
}

func TestClose(t *testing.T) {
	det := &stubDetector{backend: detection.BackendPigo, block: true, entered: make(chan struct{}, 1)}
	s := newTestSession(t, map[detection.Backend]detection.LoadFunc{
		detection.BackendPigo: loadsDetector(det),
	})
	s.SetImage("img", createInMemoryImage(20, 20, color.White))

	ch := s.Start(context.Background(), detection.BackendPigo)
	<-det.entered

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if o := waitOutcome(t, ch); !errors.Is(o.Err, context.Canceled) {
		t.Errorf("in-flight: got %v, want context.Canceled", o.Err)
	}
	if !det.closed.Load() {
		t.Error("Close should release detectors")
	}

	if o := s.Detect(context.Background(), detection.BackendPigo); !errors.Is(o.Err, ErrClosed) {
		t.Errorf("after Close: got %v, want ErrClosed", o.Err)
	}
	if _, err := s.SetImage("x", createInMemoryImage(2, 2, color.White)); !errors.Is(err, ErrClosed) {
		t.Errorf("SetImage after Close: got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
