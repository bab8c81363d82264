// Package main is the fmriglm command line tool.
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"fmriglm/pkg/config"
	"fmriglm/pkg/glm"
	"fmriglm/pkg/visualization"
	"fmriglm/pkg/volume"
)

const (
	// Flags.
	flagConfig = "config"
	flagDebug  = "debug"
	flagImage  = "image"
	flagOut    = "out"
	flagFrame  = "frame"
	flagAxis   = "axis"
	flagWindow = "window"
)

func main() {
	var (
		logger *zap.SugaredLogger
		debug  bool
	)

	app := &cli.App{
		Name:  "fmriglm",
		Usage: "fit voxel-wise general linear models to functional images",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			debug = c.Bool(flagDebug)
			var err error
			logger, err = newLogger(debug)
			return err
		},
		After: func(c *cli.Context) error {
			if logger != nil {
				_ = logger.Sync()
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "run a GLM pass described by a configuration file",
				UsageText: "fmriglm run --config FILE",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     flagConfig,
						Aliases:  []string{"c"},
						Required: true,
						Usage:    "load configuration from `FILE`",
					},
				},
				Action: func(c *cli.Context) error {
					cfg, err := config.LoadConfig(c.String(flagConfig))
					if err != nil {
						return err
					}
					if cfg.Output.Verbose && !debug {
						if logger, err = newLogger(true); err != nil {
							return err
						}
					}
					return runGLM(c, cfg, logger)
				},
			},
			{
				Name:      "init-config",
				Usage:     "write a template configuration file",
				UsageText: "fmriglm init-config FILE",
				Action: func(c *cli.Context) error {
					path := c.Args().First()
					if path == "" {
						return errors.New("init-config requires a file name")
					}
					if _, err := os.Stat(path); err == nil {
						return errors.Errorf("%s already exists", path)
					}
					if err := config.CreateDefaultConfigFile(path); err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "Wrote template configuration to %s\n", path)
					return nil
				},
			},
			{
				Name:      "preview",
				Usage:     "save JPEG slices of one frame of an image",
				UsageText: "fmriglm preview --image FILE --out DIR [--frame N]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     flagImage,
						Required: true,
						Usage:    "image to preview (.nii, .img or .hdr)",
					},
					&cli.StringFlag{
						Name:     flagOut,
						Required: true,
						Usage:    "output `DIR`",
					},
					&cli.IntFlag{
						Name:  flagFrame,
						Usage: "frame of a 4-D image",
					},
					&cli.StringSliceFlag{
						Name:  flagAxis,
						Value: cli.NewStringSlice("x", "y", "z"),
						Usage: "axes to slice along",
					},
					&cli.Float64Flag{
						Name:  flagWindow,
						Usage: "display window [-W, W]; the data range when unset",
					},
				},
				Action: func(c *cli.Context) error {
					return preview(c, logger)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// newLogger returns a development logger when verbose, otherwise a production logger
func newLogger(verbose bool) (*zap.SugaredLogger, error) {
	var (
		l   *zap.Logger
		err error
	)
	if verbose {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return nil, errors.Wrap(err, "unable to create logger")
	}
	return l.Sugar(), nil
}

func runGLM(c *cli.Context, cfg *config.Config, logger *zap.SugaredLogger) error {
	params, err := glm.ParamsFromConfig(cfg, logger)
	if err != nil {
		return err
	}

	runner := glm.NewRunner(params)
	if err := runner.Process(); err != nil {
		return errors.Wrap(err, "GLM pass failed")
	}

	summary := runner.Summary()
	w := c.App.Writer
	fmt.Fprintf(w, "\nGLM pass completed in %.2f seconds\n", summary.Elapsed.Seconds())
	fmt.Fprintf(w, "Voxels: %d (fitted %d, masked %d)\n", summary.Voxels, summary.Fitted, summary.Masked)
	for _, cc := range cfg.Contrasts {
		cs := summary.Contrasts[cc.Name]
		fmt.Fprintf(w, "- %s (%s): mean %.3f, min %.3f, max %.3f\n", cc.Name, cs.Kind, cs.Mean, cs.Min, cs.Max)
	}
	fmt.Fprintf(w, "Outputs saved to: %s\n", filepath.Join(cfg.Output.Path, cfg.Output.Subpath))
	return nil
}

func preview(c *cli.Context, logger *zap.SugaredLogger) error {
	img, err := volume.Read(c.String(flagImage))
	if err != nil {
		return err
	}
	frame, err := img.Frame(c.Int(flagFrame))
	if err != nil {
		return err
	}

	viewer := visualization.NewViewer(frame)
	if win := c.Float64(flagWindow); win > 0 {
		viewer.SetWindow(-win, win)
	}
	lo, hi := viewer.Window()
	logger.Infow("Previewing image", "image", c.String(flagImage), "grid", img.Grid().String(), "lo", lo, "hi", hi)

	for _, axis := range c.StringSlice(flagAxis) {
		dir := filepath.Join(c.String(flagOut), axis)
		files, err := viewer.SaveSliceSequence(axis, dir)
		if err != nil {
			return errors.Wrapf(err, "%s-axis slices", axis)
		}
		fmt.Fprintf(c.App.Writer, "Saved %d %s-axis slices to: %s\n", len(files), axis, dir)
	}
	return nil
}
