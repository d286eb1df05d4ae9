package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/ironsheep/face-overlay-mcp/internal/assets"
	"github.com/ironsheep/face-overlay-mcp/internal/detection"
)

// User-facing messages.
const (
	MsgNoFaces       = "no faces detected"
	MsgNoImage       = "load an image first"
	MsgStillLoading  = "detector is still loading, wait and try again"
	MsgCancelled     = "detection cancelled"
	MsgTimedOut      = "detection timed out"
	MsgSessionClosed = "session closed"

	msgLoadFailed      = "face detector could not be loaded"
	msgDetectionFailed = "face detection failed"
)

var (
	// ErrNoImage is returned when detection is requested before an image is loaded.
	ErrNoImage = errors.New("no image loaded")

	// ErrNoResult is returned when crops are requested before a detection finished.
	ErrNoResult = errors.New("no detection result")

	// ErrClosed is returned by a closed session.
	ErrClosed = errors.New("session closed")
)

// UserMessage returns the text to show for a detection that produced res and err.
func UserMessage(res *detection.Result, err error) string {
	if err == nil {
		switch n := len(res.Rects()); n {
		case 0:
			return MsgNoFaces
		case 1:
			return "1 face detected"
		default:
			return fmt.Sprintf("%d faces detected", n)
		}
	}

	var nre *detection.NotReadyError
	var mle *detection.ModelLoadError
	switch {
	case errors.Is(err, ErrNoImage):
		return MsgNoImage
	case errors.Is(err, ErrClosed):
		return MsgSessionClosed
	case errors.As(err, &nre) && nre.State != detection.StateFailed:
		return MsgStillLoading
	case errors.As(err, &nre), errors.As(err, &mle), assets.IsAssetIOError(err):
		return fmt.Sprintf("%s: %v", msgLoadFailed, loadCause(err))
	case errors.Is(err, context.Canceled):
		return MsgCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return MsgTimedOut
	default:
		return fmt.Sprintf("%s: %v", msgDetectionFailed, err)
	}
}

// loadCause strips the NotReadyError wrapper so the message names the failure.
func loadCause(err error) error {
	var nre *detection.NotReadyError
	if errors.As(err, &nre) && nre.Cause != nil {
		return nre.Cause
	}
	return err
}
