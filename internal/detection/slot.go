package detection

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the lifecycle stage of a Slot.
type State int

const (
	StateUninitialized State = iota
	StateStaging
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateStaging:
		return "staging"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// LoadFunc stages a backend's model files and builds its detector.
type LoadFunc func(ctx context.Context) (Detector, error)

// Status is a snapshot of a slot.
type Status struct {
	Backend Backend `json:"backend"`
	State   string  `json:"state"`
	Error   string  `json:"error,omitempty"`
}

// Slot holds the detector of one backend and the state of loading it.
//
// The zero value is not usable; create one with NewSlot.
type Slot struct {
	backend Backend
	load    LoadFunc
	logger  *zap.Logger

	mu    sync.Mutex
	state State
	det   Detector
	err   error
	done  chan struct{} // closed when the running load finishes
}

// NewSlot returns an Uninitialized slot that builds its detector with load.
func NewSlot(b Backend, load LoadFunc, logger *zap.Logger) *Slot {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Slot{
		backend: b,
		load:    load,
		logger:  logger.With(zap.String("backend", string(b))),
	}
}

// Backend returns the backend this slot loads.
func (s *Slot) Backend() Backend { return s.backend }

// State returns the current state.
func (s *Slot) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot of the slot.
func (s *Slot) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Backend: s.backend, State: s.state.String()}
	if s.err != nil {
		st.Error = s.err.Error()
	}
	return st
}

// Detector returns the detector if the slot is Ready. It never blocks: in any
// other state it returns a *NotReadyError.
func (s *Slot) Detector() (Detector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detectorLocked()
}

func (s *Slot) detectorLocked() (Detector, error) {
	if s.state == StateReady {
		return s.det, nil
	}
	return nil, &NotReadyError{Backend: s.backend, State: s.state, Cause: s.err}
}

// Ensure loads the detector on first use and returns it.
//
// Concurrent callers share one load. If the load fails the slot becomes
// Failed and stays so until Reset; every later call returns a *NotReadyError
// carrying the cause. A load interrupted by ctx leaves the slot Uninitialized
// so the next caller starts over.
func (s *Slot) Ensure(ctx context.Context) (Detector, error) {
	for {
		s.mu.Lock()
		switch s.state {
		case StateReady, StateFailed:
			d, err := s.detectorLocked()
			s.mu.Unlock()
			return d, err

		case StateStaging:
			done := s.done
			s.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		s.state = StateStaging
		s.err = nil
		done := make(chan struct{})
		s.done = done
		s.mu.Unlock()

		if err := s.runLoad(ctx, done); isContextErr(err) {
			return nil, err
		}
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (s *Slot) runLoad(ctx context.Context, done chan struct{}) error {
	start := time.Now()
	s.logger.Info("loading detector")

	det, err := s.load(ctx)
	if err == nil && det == nil {
		err = &ModelLoadError{Backend: s.backend, Err: errors.New("loader returned no detector")}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	defer close(done)

	switch {
	case err == nil:
		s.state = StateReady
		s.det = det
		s.logger.Info("detector ready", zap.Duration("elapsed", time.Since(start)))
	case isContextErr(err):
		s.state = StateUninitialized
		s.logger.Debug("detector load interrupted", zap.Error(err))
	default:
		s.state = StateFailed
		s.err = err
		s.logger.Error("detector load failed", zap.Error(err))
	}
	return err
}

// Reset returns a Failed or Ready slot to Uninitialized so the next Ensure
// loads again, closing any loaded detector. It reports false and does nothing
// while a load is running.
func (s *Slot) Reset() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateStaging {
		return false, nil
	}
	err := s.closeLocked()
	s.state = StateUninitialized
	s.err = nil
	return true, err
}

// Close releases the detector. The slot can be loaded again afterwards.
func (s *Slot) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.closeLocked()
	if s.state == StateReady {
		s.state = StateUninitialized
	}
	return err
}

func (s *Slot) closeLocked() error {
	if s.det == nil {
		return nil
	}
	err := s.det.Close()
	s.det = nil
	return err
}
