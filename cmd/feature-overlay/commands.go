package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"feature-overlay/internal/metrics"
	"feature-overlay/internal/pattern"
	"feature-overlay/internal/pipeline"
	"feature-overlay/internal/shared"
)

func newFlagSet(app *Application, name string) *flag.FlagSet {
	fs := flag.NewFlagSet(AppName+" "+name, flag.ContinueOnError)
	fs.SetOutput(app.stdout)
	return fs
}

func flagWasSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func runProcess(ctx context.Context, app *Application, args []string) error {
	fs := newFlagSet(app, "process")
	in := fs.String("in", "", "input image")
	out := fs.String("out", "", "output image (.png, .jpg, .bmp, .tiff)")
	features := fs.Int("features", 0, "target keypoint count")
	slider := fs.Float64("slider", 0, "slider value; the target becomes int(slider*200)")
	rotate := fs.Int("rotate", app.cfg.Output.Rotate, "rotate the output by 0, 90, 180 or 270 degrees")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || *out == "" {
		fs.Usage()
		return errUsage
	}

	ps, err := app.Processing()
	if err != nil {
		return err
	}
	switch {
	case flagWasSet(fs, "slider"):
		ps.SetFeatureCount(*slider)
	case flagWasSet(fs, "features"):
		ps.SetTarget(*features)
	}

	saver, err := pipeline.NewSaver(*rotate, app.cfg.Output.JPEGQuality, app.logger)
	if err != nil {
		return err
	}
	if _, err := pipeline.FormatFor(*out); err != nil {
		return err
	}

	timing := app.debug.Timing()

	loadCtx := timing.StartTiming(ctx, "load")
	src, err := pipeline.NewImageSource(*in)
	if err != nil {
		return err
	}
	defer src.Close()
	img, err := src.Frame(0)
	if err != nil {
		return err
	}
	height, width := ps.Dimensions()
	buf := pipeline.NewLoader().ToBuffer(img, height, width)
	timing.EndTiming(loadCtx)

	result, err := ps.ProcessImage(ctx, buf)
	if err != nil {
		return err
	}

	saveCtx := timing.StartTiming(ctx, "save")
	if err := saver.Save(*out, result, height, width); err != nil {
		return err
	}
	timing.EndTiming(saveCtx)

	stats := ps.Stats()
	app.printf("%s -> %s (%dx%d, %d features, %s)\n", *in, *out, width, height, ps.FeatureCount(), stats.Last)
	return nil
}

func runBatch(ctx context.Context, app *Application, args []string) error {
	fs := newFlagSet(app, "batch")
	in := fs.String("in", "", "input directory of images or a PDF file")
	out := fs.String("out", "", "output directory")
	ext := fs.String("ext", ".png", "output file type")
	workers := fs.Int("workers", app.cfg.Batch.Workers, "concurrent frames")
	dpi := fs.Int("dpi", app.cfg.Batch.DPI, "PDF render resolution")
	features := fs.Int("features", 0, "target keypoint count")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || *out == "" {
		fs.Usage()
		return errUsage
	}

	ps, err := app.Processing()
	if err != nil {
		return err
	}
	if flagWasSet(fs, "features") {
		ps.SetTarget(*features)
	}

	src, err := pipeline.OpenSource(*in, *dpi)
	if err != nil {
		return err
	}
	defer src.Close()

	saver, err := pipeline.NewSaver(app.cfg.Output.Rotate, app.cfg.Output.JPEGQuality, app.logger)
	if err != nil {
		return err
	}
	batch, err := pipeline.NewBatch(ps, pipeline.NewLoader(), saver,
		pipeline.WithWorkers(*workers),
		pipeline.WithExtension(*ext),
		pipeline.WithLogger(app.logger),
	)
	if err != nil {
		return err
	}

	report, err := batch.Run(ctx, src, *out)
	if report != nil {
		printReport(app, report, ps.Stats())
	}
	if err != nil {
		return err
	}

	if sys, err := metrics.SystemSnapshot(); err == nil {
		app.logger.Debug("Batch", "resource usage", sys.Fields())
	}

	if report.Failed > 0 {
		return fmt.Errorf("%d of %d frames failed", report.Failed, report.Frames)
	}
	return nil
}

func printReport(app *Application, report *pipeline.BatchReport, stats metrics.FrameStats) {
	app.printf("frames: %d  ok: %d  failed: %d  elapsed: %s\n",
		report.Frames, report.Succeeded, report.Failed, report.Duration.Round(time.Millisecond))
	app.printf("frame time: avg %s  min %s  max %s  (%.1f fps over last %d)\n",
		stats.Average, stats.Min, stats.Max, stats.FPS(), stats.Samples)
	for _, f := range report.Failures {
		app.printf("  %s: %v\n", f.Name, f.Err)
	}
}

func runPattern(ctx context.Context, app *Application, args []string) error {
	fs := newFlagSet(app, "pattern")
	kind := fs.String("kind", string(pattern.KindCheckerboard), "checkerboard, blocks, qr or blank")
	out := fs.String("out", "", "output image")
	overlay := fs.Bool("overlay", false, "run the feature overlay on the pattern before saving")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" {
		fs.Usage()
		return errUsage
	}

	height, width := app.cfg.Frame.Height, app.cfg.Frame.Width
	buf, err := pattern.Generate(pattern.Kind(*kind), height, width)
	if err != nil {
		return err
	}

	if *overlay {
		ps, err := app.Processing()
		if err != nil {
			return err
		}
		if buf, err = ps.ProcessImage(ctx, buf); err != nil {
			return err
		}
	}

	saver, err := pipeline.NewSaver(0, app.cfg.Output.JPEGQuality, app.logger)
	if err != nil {
		return err
	}
	if err := saver.Save(*out, buf, height, width); err != nil {
		return err
	}
	app.printf("wrote %s pattern to %s\n", *kind, *out)
	return nil
}

func openShared(app *Application) (*shared.Folder, error) {
	return shared.EnsureFolder(app.cfg.Shared.Dir)
}

func runList(ctx context.Context, app *Application, args []string) error {
	fs := newFlagSet(app, "ls")
	long := fs.Bool("l", false, "show size and modification time")
	if err := fs.Parse(args); err != nil {
		return err
	}

	folder, err := openShared(app)
	if err != nil {
		return err
	}
	entries, err := folder.List()
	if err != nil {
		return err
	}

	if !*long {
		for _, e := range entries {
			app.printf("%s\n", e.Name)
		}
		return nil
	}

	tw := tabwriter.NewWriter(app.stdout, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		name := e.Name
		if e.IsDir {
			name += "/"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", e.Size, e.ModTime.Format("2006-01-02 15:04"), name)
	}
	return tw.Flush()
}

func runAdd(ctx context.Context, app *Application, args []string) error {
	fs := newFlagSet(app, "add")
	file := fs.String("file", "", "file to copy into the shared folder")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		fs.Usage()
		return errUsage
	}

	folder, err := openShared(app)
	if err != nil {
		return err
	}
	name, n, err := folder.AddFile(*file)
	if err != nil {
		return err
	}
	app.printf("added %s (%d bytes)\n", name, n)
	return nil
}

func runRemove(ctx context.Context, app *Application, args []string) error {
	fs := newFlagSet(app, "rm")
	name := fs.String("name", "", "file name inside the shared folder")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		fs.Usage()
		return errUsage
	}

	folder, err := openShared(app)
	if err != nil {
		return err
	}
	if err := folder.Remove(*name); err != nil {
		return err
	}
	app.printf("removed %s\n", *name)
	return nil
}

func runExec(ctx context.Context, app *Application, args []string) error {
	fs := newFlagSet(app, "exec")
	name := fs.String("name", "", "script inside the shared folder")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		fs.Usage()
		return errUsage
	}

	folder, err := openShared(app)
	if err != nil {
		return err
	}

	execCfg := app.cfg.Shared.Exec
	executor := shared.NewExecutor(folder, shared.ExecOptions{
		Enabled:      execCfg.Enabled,
		Timeout:      execCfg.Timeout,
		MaxOutput:    execCfg.MaxOutput,
		Interpreters: execCfg.Interpreters,
	}, app.logger)

	res, err := executor.Run(ctx, *name)
	if res.Stdout != "" {
		app.printf("%s", res.Stdout)
		if !strings.HasSuffix(res.Stdout, "\n") {
			app.printf("\n")
		}
	}
	app.printf("%s\n", res.Message())
	return err
}
