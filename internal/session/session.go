package session

import (
	"context"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ironsheep/face-overlay-mcp/internal/annotate"
	"github.com/ironsheep/face-overlay-mcp/internal/detection"
	"github.com/ironsheep/face-overlay-mcp/internal/imaging"
)

// Outcome is the result of one detection task.
type Outcome struct {
	Backend detection.Backend
	Result  *detection.Result

	// Annotated is a copy of the working image with the faces drawn on it.
	// It is nil when Err is set.
	Annotated *image.RGBA

	Err     error
	Elapsed time.Duration

	frame *imaging.Frame
}

// Message returns the user-facing text for the outcome.
func (o Outcome) Message() string {
	return UserMessage(o.Result, o.Err)
}

// SourceScale maps the outcome's working coordinates back to the image it was
// run on.
func (o Outcome) SourceScale() float64 {
	if o.frame == nil || o.frame.SourceWidth == 0 || o.frame.Width() == 0 {
		return 1
	}
	return float64(o.frame.SourceWidth) / float64(o.frame.Width())
}

// Options configures a Session.
type Options struct {
	// MaxWidth is the widest working image; wider images are downscaled.
	MaxWidth int

	// Annotator draws the boxes. Nil uses the default options.
	Annotator *annotate.Annotator
}

// Session owns the selected image, the detector slots and the in-flight task.
//
// All methods are safe for concurrent use.
type Session struct {
	slots     detection.Slots
	cache     *imaging.ImageCache
	annotator *annotate.Annotator
	maxWidth  int
	logger    *zap.Logger

	// ctx bounds model loading; it ends on Close.
	ctx      context.Context
	shutdown context.CancelFunc

	detectMu sync.Mutex // detectors do not support concurrent Detect

	mu     sync.Mutex
	frame  *imaging.Frame
	info   *imaging.ImageInfo
	last   *Outcome
	cancel context.CancelFunc
	taskID uint64
	closed bool
}

// New returns a Session using slots.
func New(slots detection.Slots, opts Options, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxWidth == 0 {
		opts.MaxWidth = imaging.DefaultMaxWidth
	}
	if opts.Annotator == nil {
		opts.Annotator = annotate.New(annotate.DefaultOptions())
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		slots:     slots,
		cache:     imaging.NewImageCache(),
		annotator: opts.Annotator,
		maxWidth:  opts.MaxWidth,
		logger:    logger,
		ctx:       ctx,
		shutdown:  cancel,
	}
}

// Load decodes the image at path and makes it the current image. Any running
// detection is cancelled, even if decoding fails.
func (s *Session) Load(path string) (*imaging.ImageInfo, error) {
	if err := s.beginLoad(); err != nil {
		return nil, err
	}

	img, format, err := s.cache.Load(path)
	if err != nil {
		s.logger.Warn("failed to load image", zap.String("path", path), zap.Error(err))
		return nil, err
	}
	return s.setImage(path, format, img), nil
}

// SetImage makes an already decoded image current, as Load does.
func (s *Session) SetImage(name string, img image.Image) (*imaging.ImageInfo, error) {
	if err := s.beginLoad(); err != nil {
		return nil, err
	}
	return s.setImage(name, "memory", img), nil
}

func (s *Session) beginLoad() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.cancelLocked()
	return nil
}

func (s *Session) setImage(path, format string, img image.Image) *imaging.ImageInfo {
	frame := imaging.Prepare(img, s.maxWidth)
	info := imaging.Describe(path, format, frame)

	s.mu.Lock()
	// A detection started between beginLoad and here belongs to the old image.
	s.cancelLocked()
	s.frame = frame
	s.info = info
	s.last = nil
	s.mu.Unlock()

	s.logger.Info("image loaded",
		zap.String("path", path),
		zap.Int("width", info.Width),
		zap.Int("height", info.Height),
		zap.Bool("downscaled", info.Downscaled))
	return info
}

// Image returns the current image description.
func (s *Session) Image() (*imaging.ImageInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info, s.info != nil
}

// Start runs detection with backend b on the current image in the background.
// Exactly one Outcome is sent on the returned channel, which is then closed.
// A detection already running is cancelled.
func (s *Session) Start(ctx context.Context, b detection.Backend) <-chan Outcome {
	out := make(chan Outcome, 1)
	fail := func(err error) <-chan Outcome {
		out <- Outcome{Backend: b, Err: err}
		close(out)
		return out
	}

	slot, err := s.slots.Get(b)
	if err != nil {
		return fail(err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fail(ErrClosed)
	}
	frame := s.frame
	if frame == nil {
		s.mu.Unlock()
		return fail(ErrNoImage)
	}
	s.cancelLocked()
	taskCtx, cancel := context.WithCancel(ctx)
	s.taskID++
	id := s.taskID
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		defer close(out)
		o := s.run(taskCtx, slot, frame)
		s.finish(id, o)
		cancel()
		out <- o
	}()
	return out
}

// Detect runs detection and waits for its outcome or for ctx to end.
func (s *Session) Detect(ctx context.Context, b detection.Backend) Outcome {
	ch := s.Start(ctx, b)
	select {
	case o := <-ch:
		return o
	case <-ctx.Done():
		return Outcome{Backend: b, Err: ctx.Err()}
	}
}

func (s *Session) run(ctx context.Context, slot *detection.Slot, frame *imaging.Frame) (o Outcome) {
	start := time.Now()
	o = Outcome{Backend: slot.Backend(), frame: frame}
	defer func() { o.Elapsed = time.Since(start) }()

	det, err := s.detector(ctx, slot)
	if err != nil {
		o.Err = err
		return o
	}

	var input image.Image
	switch det.Input() {
	case detection.InputRGB:
		input = frame.RGB()
	default:
		input = frame.Gray()
	}
	if err := ctx.Err(); err != nil {
		o.Err = err
		return o
	}

	// Reload may have released det while the input was prepared.
	s.detectMu.Lock()
	var res *detection.Result
	if det, err = slot.Detector(); err == nil {
		res, err = det.Detect(ctx, input)
	}
	s.detectMu.Unlock()
	if err != nil {
		o.Err = err
		return o
	}
	if err := ctx.Err(); err != nil {
		o.Err = err
		return o
	}

	o.Result = res
	o.Annotated = s.annotator.Annotate(frame.Working, res)
	return o
}

// detector returns the slot's detector, starting the load if nobody has yet.
// The load itself runs under the session context so cancelling ctx only stops
// the wait.
func (s *Session) detector(ctx context.Context, slot *detection.Slot) (detection.Detector, error) {
	if slot.State() != detection.StateUninitialized {
		return slot.Detector()
	}

	type loaded struct {
		det detection.Detector
		err error
	}
	ch := make(chan loaded, 1)
	go func() {
		d, err := slot.Ensure(s.ctx)
		ch <- loaded{d, err}
	}()

	select {
	case l := <-ch:
		return l.det, l.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Session) finish(id uint64, o Outcome) {
	fields := []zap.Field{
		zap.String("backend", string(o.Backend)),
		zap.Duration("elapsed", o.Elapsed),
	}

	s.mu.Lock()
	if s.taskID == id {
		s.cancel = nil
	}
	if o.Err == nil && o.frame == s.frame {
		s.last = &o
	}
	s.mu.Unlock()

	if o.Err != nil {
		s.logger.Info("detection failed", append(fields, zap.Error(o.Err))...)
		return
	}
	s.logger.Info("detection finished", append(fields, zap.Int("faces", len(o.Result.Faces)))...)
}

// Cancel cancels the running detection and reports whether there was one.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked()
}

func (s *Session) cancelLocked() bool {
	if s.cancel == nil {
		return false
	}
	s.cancel()
	s.cancel = nil
	return true
}

// Last returns the most recent successful outcome for the current image.
func (s *Session) Last() (Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Outcome{}, false
	}
	return *s.last, true
}

// CropFaces crops every face of the last outcome out of the working image.
func (s *Session) CropFaces(padding int, scale float64) ([]imaging.CropResult, error) {
	o, ok := s.Last()
	if !ok {
		s.mu.Lock()
		noImage := s.frame == nil
		s.mu.Unlock()
		if noImage {
			return nil, ErrNoImage
		}
		return nil, ErrNoResult
	}
	return imaging.CropFaces(o.frame.Working, o.Result.Rects(), padding, scale)
}

// Status returns the state of every detector slot.
func (s *Session) Status() []detection.Status {
	return s.slots.Status()
}

// Reload resets backend b so the next detection loads it again. A Detect call
// running on the old detector finishes before it is released.
func (s *Session) Reload(b detection.Backend) (bool, error) {
	slot, err := s.slots.Get(b)
	if err != nil {
		return false, err
	}
	s.detectMu.Lock()
	ok, err := slot.Reset()
	s.detectMu.Unlock()
	if ok {
		s.logger.Info("detector reset", zap.String("backend", string(b)))
	}
	return ok, err
}

// Close cancels the running detection and any model load and releases the
// detectors. The session cannot be used afterwards.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancelLocked()
	s.frame = nil
	s.last = nil
	s.mu.Unlock()

	s.shutdown()
	s.cache.Clear()

	s.detectMu.Lock()
	defer s.detectMu.Unlock()
	return s.slots.Close()
}
