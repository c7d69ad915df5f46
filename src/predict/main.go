package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Yating05/contact-graspnet/src/assets"
	"github.com/Yating05/contact-graspnet/src/commons"
	"github.com/Yating05/contact-graspnet/src/grasp"
	"github.com/Yating05/contact-graspnet/src/inputdata"
	"github.com/Yating05/contact-graspnet/src/pipeline"
	"github.com/Yating05/contact-graspnet/src/results"
	"github.com/Yating05/contact-graspnet/src/visualize"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
)

const (
	flagCkptDir       = "ckpt_dir"
	flagForwardPasses = "forward_passes"
	flagArgConfigs    = "arg_configs"
	flagAssetsDir     = "assets_dir"
	flagNumPoints     = "num_points"
	flagSeed          = "seed"
	flagLogLevel      = "log-level"
	flagSentryDSN     = "sentry-dsn"
	flagRedisAddress  = "redis-address"
	flagRedisMaxConns = "redis-max-connections"
)

// Flags shared by infer and serve.
var modelFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  flagCkptDir,
		Value: "checkpoints/scene_test_2048_bs3_hor_sigma_001",
		Usage: "checkpoint directory with config.yaml and the exported model",
	},
	&cli.IntFlag{
		Name:  flagForwardPasses,
		Value: 1,
		Usage: "run multiple parallel forward passes to find more potential contact points",
	},
	&cli.StringSliceFlag{
		Name:  flagArgConfigs,
		Usage: "overwrite config parameters, e.g. TEST.first_thres:0.3 (trailing arguments are used as well)",
	},
	&cli.StringFlag{
		Name:  flagAssetsDir,
		Value: "assets",
		Usage: "asset library, one directory with model.urdf and collision.obj per object",
	},
	&cli.IntFlag{
		Name:  flagNumPoints,
		Value: pipeline.DefaultNumPoints,
		Usage: "number of points sampled from each object mesh",
	},
	&cli.Int64Flag{
		Name:  flagSeed,
		Value: 0,
		Usage: "seed for point sampling and regularization",
	},
	&cli.StringFlag{
		Name:  flagLogLevel,
		Value: "info",
		Usage: "log level (debug, info, warn, error)",
	},
	&cli.StringFlag{
		Name:  flagSentryDSN,
		Usage: "report errors to this Sentry DSN",
	},
}

func main() {
	app := &cli.App{
		Name:      "predict",
		Usage:     "predict 6-DoF grasps for object meshes, point clouds and depth images",
		ArgsUsage: "[KEY.path:value ...]",
		Flags:     append(append([]cli.Flag{}, modelFlags...), inferFlags...),
		Action:    infer,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "process grasp requests from the Redis queue",
				Flags:  append(append([]cli.Flag{}, modelFlags...), serveFlags...),
				Action: serve,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Error("[Main] ", err.Error())
		os.Exit(1)
	}
}

var inferFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "np_path",
		Value: "test_data/0.npy",
		Usage: "input glob: npz/npy files with a depth map and camera matrix K or a point cloud, optionally a 2D segmap",
	},
	&cli.StringFlag{
		Name:  "png_path",
		Usage: "input glob: depth map png in millimetres, takes precedence over --np_path",
	},
	&cli.StringFlag{
		Name:  "K",
		Usage: `flat camera matrix, pass as "[fx, 0, cx, 0, fy, cy, 0, 0, 1]"`,
	},
	&cli.StringFlag{
		Name:  "z_range",
		Value: "[0.2,1.8]",
		Usage: "z value threshold to crop the input point cloud",
	},
	&cli.BoolFlag{
		Name:  "local_regions",
		Usage: "crop 3D local regions around given segments",
	},
	&cli.BoolFlag{
		Name:  "filter_grasps",
		Usage: "filter grasp contacts according to segmap",
	},
	&cli.BoolFlag{
		Name:  "skip_border_objects",
		Usage: "when extracting local regions, ignore segments at the depth map boundary",
	},
	&cli.IntFlag{
		Name:  "segmap_id",
		Value: 0,
		Usage: "only return grasps of the given object id",
	},
	&cli.BoolFlag{
		Name:  "scene",
		Usage: "predict on the input scenes instead of the asset library meshes",
	},
	&cli.StringSliceFlag{
		Name:  "objects",
		Usage: "restrict the asset library to these object names",
	},
	&cli.StringFlag{
		Name:  "results_npz",
		Usage: "store the best pose per object in this npz file",
	},
	&cli.StringFlag{
		Name:  "sqlite",
		Usage: "append results to this SQLite database",
	},
	&cli.StringFlag{
		Name:  flagRedisAddress,
		Usage: "store results in Redis at this address",
	},
	&cli.IntFlag{
		Name:  "result-ttl",
		Value: commons.ResultTTL,
		Usage: "seconds results are kept in Redis",
	},
	&cli.StringFlag{
		Name:  "visualize-dir",
		Value: "results",
		Usage: "write a PNG per object to this directory, empty disables visualization",
	},
	&cli.BoolFlag{
		Name:  "plot_opencv_cam",
		Value: true,
		Usage: "draw the camera axes",
	},
}

// loadConfig prints the config and pid the way every run starts.
func loadConfig(c *cli.Context) (*grasp.Config, error) {
	if err := commons.SetupLogging(c.String(flagLogLevel), c.String(flagSentryDSN)); err != nil {
		return nil, err
	}
	argConfigs := append(c.StringSlice(flagArgConfigs), c.Args().Slice()...)
	cfg, err := grasp.LoadConfig(c.String(flagCkptDir), c.Int(flagForwardPasses), argConfigs)
	if err != nil {
		return nil, err
	}
	fmt.Fprintln(c.App.Writer, cfg.String())
	fmt.Fprintf(c.App.Writer, "pid: %d\n", os.Getpid())
	return cfg, nil
}

func loadLibrary(c *cli.Context) (*assets.Library, error) {
	lib, err := assets.LoadLibrary(c.String(flagAssetsDir))
	if err != nil {
		return nil, err
	}
	if !c.IsSet("objects") {
		return lib, nil
	}
	return lib.Filter(c.StringSlice("objects"))
}

// infer runs the pipeline once over the input glob.
func infer(c *cli.Context) (err error) {
	ctx, stop := signalContext()
	defer stop()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	opts, err := pipelineOptions(c)
	if err != nil {
		return err
	}

	var library *assets.Library
	if !opts.Scene {
		if library, err = loadLibrary(c); err != nil {
			return err
		}
	}

	estimator, err := grasp.Load(c.String(flagCkptDir), cfg, c.Int64(flagSeed))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, estimator.Close())
	}()

	sink, err := openSinks(c)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, sink.Close())
	}()

	var vis pipeline.Visualizer
	if dir := c.String("visualize-dir"); dir != "" {
		vis = visualize.NewRenderer(visualize.Options{
			Dir:        dir,
			PlotCamera: c.Bool("plot_opencv_cam"),
			MaxPoints:  20000,
		})
	}

	p, err := pipeline.New(estimator, library, sink, vis, opts)
	if err != nil {
		return err
	}

	runID, err := uuid.NewV4()
	if err != nil {
		return err
	}
	input := c.String("np_path")
	if c.String("png_path") != "" {
		input = c.String("png_path")
	}
	log.Info("[Main] Run ", runID.String(), " on ", input)
	_, err = p.Run(ctx, runID.String(), input)
	return err
}

func pipelineOptions(c *cli.Context) (pipeline.Options, error) {
	opts := pipeline.Options{
		Scene:     c.Bool("scene"),
		NumPoints: c.Int(flagNumPoints),
		Seed:      c.Int64(flagSeed),
		Grasps: grasp.SceneOptions{
			LocalRegions:  c.Bool("local_regions"),
			FilterGrasps:  c.Bool("filter_grasps"),
			ForwardPasses: c.Int(flagForwardPasses),
		},
		Extract: inputdata.ExtractOptions{
			SegmapID:          c.Int("segmap_id"),
			SkipBorderObjects: c.Bool("skip_border_objects"),
		},
	}
	zRange, err := inputdata.ParseRange(c.String("z_range"))
	if err != nil {
		return opts, err
	}
	opts.Extract.ZRange = zRange

	if k := c.String("K"); k != "" {
		if opts.K, err = inputdata.ParseIntrinsics(k); err != nil {
			return opts, err
		}
	}
	return opts, nil
}

func openSinks(c *cli.Context) (results.Multi, error) {
	var sinks results.Multi
	if path := c.String("results_npz"); path != "" {
		sinks = append(sinks, results.NewNpzSink(path))
	}
	if path := c.String("sqlite"); path != "" {
		s, err := results.NewSqliteSink(path)
		if err != nil {
			return nil, errors.Wrapf(err, "open %s", path)
		}
		sinks = append(sinks, s)
	}
	if addr := c.String(flagRedisAddress); addr != "" {
		pool := commons.NewRedisPool(addr, 2)
		sinks = append(sinks, &pooledRedisSink{RedisSink: results.NewRedisSink(pool, c.Int("result-ttl")), pool: pool})
	}
	return sinks, nil
}

// pooledRedisSink owns its pool and closes it with the sink.
type pooledRedisSink struct {
	*results.RedisSink
	pool interface{ Close() error }
}

func (s *pooledRedisSink) Close() error {
	return multierr.Combine(s.RedisSink.Close(), s.pool.Close())
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
