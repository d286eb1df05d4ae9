// Package config holds the server configuration and builds the logger.
package config

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ironsheep/face-overlay-mcp/internal/annotate"
	"github.com/ironsheep/face-overlay-mcp/internal/assets"
	"github.com/ironsheep/face-overlay-mcp/internal/detection"
	"github.com/ironsheep/face-overlay-mcp/internal/imaging"
)

// DefaultAssetsDir is where bundled models are read from when not configured.
const DefaultAssetsDir = "models"

// Config is the complete server configuration.
type Config struct {
	// AssetsDir holds the bundled model files. It is only read.
	AssetsDir string

	// CacheDir receives staged copies of the models.
	CacheDir string

	// MaxWidth is the widest image detection runs on.
	MaxWidth int

	LogLevel string

	// Labels draws the confidence above boxes that have one.
	Labels      bool
	StrokeWidth float64
	BoxColor    string

	Detection detection.Config
}

// Default returns the configuration used when no flags are given.
func Default() Config {
	return Config{
		AssetsDir:   DefaultAssetsDir,
		CacheDir:    assets.DefaultCacheDir(),
		MaxWidth:    imaging.DefaultMaxWidth,
		LogLevel:    "info",
		StrokeWidth: annotate.DefaultStrokeWidth,
		BoxColor:    annotate.DefaultColor,
		Detection:   detection.DefaultConfig(),
	}
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var err error
	if c.AssetsDir == "" {
		err = multierr.Append(err, errors.New("assets dir must be set"))
	}
	if c.CacheDir == "" {
		err = multierr.Append(err, errors.New("cache dir must be set"))
	}
	if c.MaxWidth < 1 {
		err = multierr.Append(err, fmt.Errorf("max width must be >= 1, got %d", c.MaxWidth))
	}
	if _, lerr := ParseLevel(c.LogLevel); lerr != nil {
		err = multierr.Append(err, lerr)
	}
	if c.StrokeWidth <= 0 {
		err = multierr.Append(err, fmt.Errorf("stroke width must be > 0, got %v", c.StrokeWidth))
	}
	if _, cerr := annotate.ParseColor(c.BoxColor); cerr != nil {
		err = multierr.Append(err, cerr)
	}
	return multierr.Append(err, c.Detection.Validate())
}

// AnnotateOptions converts the drawing settings.
func (c Config) AnnotateOptions() (annotate.Options, error) {
	col, err := annotate.ParseColor(c.BoxColor)
	if err != nil {
		return annotate.Options{}, err
	}
	return annotate.Options{
		StrokeWidth: c.StrokeWidth,
		Color:       col,
		Labels:      c.Labels,
		LabelSize:   annotate.DefaultLabelSize,
	}, nil
}

// ParseLevel parses a zap level name ("debug", "info", "warn", "error").
func ParseLevel(s string) (zapcore.Level, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return lvl, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return lvl, nil
}

// NewLoggerConfig returns a console logger configuration writing to stderr.
// Stdout carries the MCP protocol and must never receive log output.
func NewLoggerConfig(level zapcore.Level) zap.Config {
	return zap.Config{
		Level:    zap.NewAtomicLevelAt(level),
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		DisableStacktrace: true,
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
	}
}

// NewLogger builds the stderr logger for level.
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return NewLoggerConfig(lvl).Build()
}
