package detection

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ironsheep/face-overlay-mcp/internal/assets"
)

// Stager copies a bundled model file somewhere readable and returns its path.
type Stager interface {
	Stage(ctx context.Context, name string) (string, error)
}

// AssetNames returns the bundled files backend b needs, in load order.
func AssetNames(b Backend) []string {
	switch b {
	case BackendHaar:
		return []string{assets.HaarCascadeXML}
	case BackendDNN:
		return []string{assets.DNNPrototxt, assets.DNNCaffeModel}
	case BackendPigo:
		return []string{assets.PigoFaceFinder}
	default:
		return nil
	}
}

// NewLoadFunc returns a LoadFunc that stages b's model files through st and
// builds the detector with cfg.
func NewLoadFunc(b Backend, st Stager, cfg Config) LoadFunc {
	return func(ctx context.Context) (Detector, error) {
		names := AssetNames(b)
		if names == nil {
			return nil, fmt.Errorf("unknown backend %q", b)
		}

		paths := make([]string, 0, len(names))
		for _, name := range names {
			p, err := st.Stage(ctx, name)
			if err != nil {
				return nil, err
			}
			paths = append(paths, p)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		switch b {
		case BackendHaar:
			return LoadHaarCascade(paths[0], cfg.Cascade)
		case BackendDNN:
			return LoadDNN(paths[0], paths[1], cfg.DNN)
		default:
			return LoadPigo(paths[0], cfg.Pigo)
		}
	}
}

// Slots holds one Slot per backend.
type Slots map[Backend]*Slot

// NewSlots creates an Uninitialized slot for every backend.
func NewSlots(st Stager, cfg Config, logger *zap.Logger) Slots {
	slots := make(Slots, len(Backends()))
	for _, b := range Backends() {
		slots[b] = NewSlot(b, NewLoadFunc(b, st, cfg), logger)
	}
	return slots
}

// Get returns the slot for b.
func (s Slots) Get(b Backend) (*Slot, error) {
	slot, ok := s[b]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q", b)
	}
	return slot, nil
}

// Status returns a snapshot of every slot in display order.
func (s Slots) Status() []Status {
	out := make([]Status, 0, len(s))
	for _, b := range Backends() {
		if slot, ok := s[b]; ok {
			out = append(out, slot.Status())
		}
	}
	return out
}

// Close releases every loaded detector.
func (s Slots) Close() error {
	var err error
	for _, b := range Backends() {
		if slot, ok := s[b]; ok {
			err = multierr.Append(err, slot.Close())
		}
	}
	return err
}
