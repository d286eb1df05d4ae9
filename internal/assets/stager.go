package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Bundled asset names. These must match the files shipped with the models.
const (
	HaarCascadeXML = "haarcascade_frontalface_default.xml"
	DNNPrototxt    = "opencv_face_detector.prototxt"
	DNNCaffeModel  = "opencv_face_detector.caffemodel"
	PigoFaceFinder = "facefinder"
)

const (
	copyChunkSize   = 4096
	stagedDirPerm   = 0o755
	stagedFilePerm  = 0o644
	tempFilePattern = ".staging-*"
)

// AssetIOError reports a failure to stage a bundled asset.
type AssetIOError struct {
	Asset string
	Op    string
	Err   error
}

func (e *AssetIOError) Error() string {
	return fmt.Sprintf("stage asset %s: %s: %v", e.Asset, e.Op, e.Err)
}

func (e *AssetIOError) Unwrap() error { return e.Err }

// IsAssetIOError reports whether err is, or wraps, an *AssetIOError.
func IsAssetIOError(err error) bool {
	var aerr *AssetIOError
	return errors.As(err, &aerr)
}

// Stager copies assets from a bundled read-only fs.FS into a writable directory.
//
// The zero value is not usable; create one with NewStager.
type Stager struct {
	src    fs.FS
	dir    string
	logger *zap.Logger

	mu    sync.Mutex // serializes writes into dir
	group singleflight.Group
}

// NewStager returns a Stager reading from src and writing into dir.
// The directory is created lazily on the first Stage call.
func NewStager(src fs.FS, dir string, logger *zap.Logger) *Stager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stager{
		src:    src,
		dir:    dir,
		logger: logger,
	}
}

// Dir returns the destination directory.
func (s *Stager) Dir() string {
	return s.dir
}

// Stage copies the named asset to the destination directory if needed and
// returns its absolute path.
func (s *Stager) Stage(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if name == "" || name != filepath.Base(name) {
		return "", &AssetIOError{Asset: name, Op: "validate", Err: fs.ErrInvalid}
	}

	// The copy is shared, so one caller giving up must not fail the others.
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(name, func() (interface{}, error) {
		return s.stage(shared, name)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// StageAll stages every named asset and returns their paths in the same order.
func (s *Stager) StageAll(ctx context.Context, names ...string) ([]string, error) {
	paths := make([]string, 0, len(names))
	for _, name := range names {
		p, err := s.Stage(ctx, name)
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func (s *Stager) stage(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, err := s.src.Open(name)
	if err != nil {
		return "", &AssetIOError{Asset: name, Op: "open bundled", Err: err}
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return "", &AssetIOError{Asset: name, Op: "stat bundled", Err: err}
	}

	dir, err := filepath.Abs(s.dir)
	if err != nil {
		return "", &AssetIOError{Asset: name, Op: "resolve dir", Err: err}
	}
	dst := filepath.Join(dir, name)

	// Skip if already staged with the correct size.
	if st, err := os.Stat(dst); err == nil && st.Mode().IsRegular() && st.Size() == info.Size() {
		s.logger.Debug("reusing staged asset", zap.String("asset", name), zap.String("path", dst))
		return dst, nil
	}

	if err := os.MkdirAll(dir, stagedDirPerm); err != nil {
		return "", &AssetIOError{Asset: name, Op: "mkdir", Err: err}
	}

	tmp, err := os.CreateTemp(dir, name+tempFilePattern)
	if err != nil {
		return "", &AssetIOError{Asset: name, Op: "create", Err: err}
	}
	tmpPath := tmp.Name()

	n, copyErr := copyChunks(ctx, tmp, in)
	closeErr := tmp.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		os.Remove(tmpPath)
		if errors.Is(copyErr, context.Canceled) || errors.Is(copyErr, context.DeadlineExceeded) {
			return "", copyErr
		}
		return "", &AssetIOError{Asset: name, Op: "copy", Err: copyErr}
	}

	if err := os.Chmod(tmpPath, stagedFilePerm); err != nil {
		os.Remove(tmpPath)
		return "", &AssetIOError{Asset: name, Op: "chmod", Err: err}
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return "", &AssetIOError{Asset: name, Op: "rename", Err: err}
	}

	s.logger.Info("staged asset", zap.String("asset", name), zap.String("path", dst), zap.Int64("bytes", n))
	return dst, nil
}

// copyChunks copies src to dst in fixed-size chunks until EOF, checking ctx
// between chunks.
func copyChunks(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, copyChunkSize)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			total += int64(w)
			if werr != nil {
				return total, werr
			}
			if w != n {
				return total, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			return total, rerr
		}
	}
}

// DefaultCacheDir returns the directory staged models are written to when no
// explicit directory is configured.
func DefaultCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil || base == "" {
		base = os.TempDir()
	}
	return filepath.Join(base, "face-overlay-mcp", "models")
}
