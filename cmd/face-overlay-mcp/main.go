package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ironsheep/face-overlay-mcp/internal/annotate"
	"github.com/ironsheep/face-overlay-mcp/internal/assets"
	"github.com/ironsheep/face-overlay-mcp/internal/config"
	"github.com/ironsheep/face-overlay-mcp/internal/detection"
	"github.com/ironsheep/face-overlay-mcp/internal/server"
	"github.com/ironsheep/face-overlay-mcp/internal/session"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const (
	flagAssetsDir    = "assets-dir"
	flagCacheDir     = "cache-dir"
	flagMaxWidth     = "max-width"
	flagLogLevel     = "log-level"
	flagLabels       = "labels"
	flagStrokeWidth  = "stroke-width"
	flagColor        = "color"
	flagMinNeighbors = "min-neighbors"
	flagDNNThreshold = "dnn-threshold"
)

func main() {
	def := config.Default()

	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Fprintf(c.App.Writer, "face-overlay-mcp %s\n", Version)
		fmt.Fprintf(c.App.Writer, "  Build time: %s\n", BuildTime)
		fmt.Fprintf(c.App.Writer, "  Git commit: %s\n", GitCommit)
	}

	app := &cli.App{
		Name:    "face-overlay-mcp",
		Usage:   "MCP server that detects faces and draws boxes around them",
		Version: Version,
		Description: "This server communicates via MCP protocol over stdin/stdout.\n" +
			"Configure it in your MCP client; logs go to stderr.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagAssetsDir,
				Value:   def.AssetsDir,
				Usage:   "directory holding the bundled model files",
				EnvVars: []string{"FACE_MCP_ASSETS_DIR"},
			},
			&cli.StringFlag{
				Name:    flagCacheDir,
				Value:   def.CacheDir,
				Usage:   "writable directory the models are staged into",
				EnvVars: []string{"FACE_MCP_CACHE_DIR"},
			},
			&cli.IntFlag{
				Name:    flagMaxWidth,
				Value:   def.MaxWidth,
				Usage:   "downscale wider images to this width before detection",
				EnvVars: []string{"FACE_MCP_MAX_WIDTH"},
			},
			&cli.StringFlag{
				Name:    flagLogLevel,
				Value:   def.LogLevel,
				Usage:   "log level: debug, info, warn or error",
				EnvVars: []string{"FACE_MCP_LOG_LEVEL"},
			},
			&cli.BoolFlag{
				Name:    flagLabels,
				Usage:   "draw the confidence above boxes that have one",
				EnvVars: []string{"FACE_MCP_LABELS"},
			},
			&cli.Float64Flag{
				Name:    flagStrokeWidth,
				Value:   def.StrokeWidth,
				Usage:   "box outline width in pixels",
				EnvVars: []string{"FACE_MCP_STROKE_WIDTH"},
			},
			&cli.StringFlag{
				Name:    flagColor,
				Value:   def.BoxColor,
				Usage:   "box color as #RRGGBB",
				EnvVars: []string{"FACE_MCP_COLOR"},
			},
			&cli.IntFlag{
				Name:    flagMinNeighbors,
				Value:   def.Detection.Cascade.MinNeighbors,
				Usage:   "overlapping candidates a haar face needs to be kept",
				EnvVars: []string{"FACE_MCP_MIN_NEIGHBORS"},
			},
			&cli.Float64Flag{
				Name:    flagDNNThreshold,
				Value:   def.Detection.DNN.ConfidenceThreshold,
				Usage:   "dnn faces must score strictly above this",
				EnvVars: []string{"FACE_MCP_DNN_THRESHOLD"},
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "face-overlay-mcp: %v\n", err)
		os.Exit(1)
	}
}

func configFromFlags(c *cli.Context) config.Config {
	cfg := config.Default()
	cfg.AssetsDir = c.String(flagAssetsDir)
	cfg.CacheDir = c.String(flagCacheDir)
	cfg.MaxWidth = c.Int(flagMaxWidth)
	cfg.LogLevel = c.String(flagLogLevel)
	cfg.Labels = c.Bool(flagLabels)
	cfg.StrokeWidth = c.Float64(flagStrokeWidth)
	cfg.BoxColor = c.String(flagColor)
	cfg.Detection.Cascade.MinNeighbors = c.Int(flagMinNeighbors)
	cfg.Detection.DNN.ConfidenceThreshold = c.Float64(flagDNNThreshold)
	return cfg
}

func run(c *cli.Context) (err error) {
	cfg := configFromFlags(c)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() {
		// Sync on stderr returns EINVAL on some platforms.
		_ = logger.Sync()
	}()

	logger.Info("starting face-overlay-mcp",
		zap.String("version", Version),
		zap.String("built", BuildTime),
		zap.String("commit", GitCommit),
		zap.String("assets", cfg.AssetsDir),
		zap.String("cache", cfg.CacheDir),
		zap.Bool("opencv", detection.OpenCVAvailable()))

	opts, err := cfg.AnnotateOptions()
	if err != nil {
		return err
	}

	stager := assets.NewStager(os.DirFS(cfg.AssetsDir), cfg.CacheDir, logger.Named("stager"))
	slots := detection.NewSlots(stager, cfg.Detection, logger.Named("detector"))
	sess := session.New(slots, session.Options{
		MaxWidth:  cfg.MaxWidth,
		Annotator: annotate.New(opts),
	}, logger.Named("session"))
	defer func() {
		err = multierr.Append(err, sess.Close())
	}()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(sess, logger.Named("server"), Version)
	if err := srv.Run(ctx, os.Stdin, os.Stdout); err != nil {
		logger.Error("server error", zap.Error(err))
		return err
	}
	logger.Info("shutting down")
	return nil
}
