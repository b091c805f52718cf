package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"s2batch/internal/config"
	"s2batch/internal/geo"
	"s2batch/internal/ledger"
	"s2batch/internal/logging"
	"s2batch/internal/pipeline"
)

type stepSet int

const (
	stepsFull stepSet = iota
	stepsQuery
	stepsFetch
	stepsComposite
)

func (s stepSet) steps() pipeline.Steps {
	switch s {
	case stepsQuery:
		return pipeline.StepsQueryOnly
	case stepsFetch:
		return pipeline.StepsFetch
	case stepsComposite:
		return pipeline.StepsComposite
	default:
		return pipeline.StepsFull
	}
}

func addAcquireFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("begin", "", "first acquisition date, YYYYMMDD")
	f.String("end", "NOW", "last acquisition date, YYYYMMDD or NOW")
	f.String("cloud-min", "0", "minimum cloud cover percent")
	f.String("cloud-max", "100", "maximum cloud cover percent")
	f.String("aoi", "", "area of interest: GeoJSON file or WKT polygon")
	f.String("tiles", "", "semicolon-delimited tile ids, e.g. 11SQS;11SPS")
	f.String("tile", "", "single tile id, used with --orbit")
	f.String("orbit", "", "relative orbit number, used with --tile")
	f.Int("workers", config.DefaultWorkers, "parallel downloads")
	f.Bool("continue-on-error", false, "keep downloading after a transport error")
	f.Bool("trigger-retrieval", false, "request offline products from the long term archive")
	f.Bool("legacy-tile-order", false, "keep the largest product per date and tile")
	f.String("hub-url", "", "hub base URL")
	f.Duration("call-timeout", 0, "timeout for each hub query or status call")
}

func addCompositeFlags(cmd *cobra.Command, defaultBands string) {
	f := cmd.Flags()
	f.String("bands", defaultBands, "semicolon-delimited band tokens, e.g. 02;03;04;08")
	f.String("channel-order", string(config.ChannelOrderSelection), "selection or legacy")
	f.String("raster-ext", config.DefaultRasterExt, "band raster extension")
	f.String("composite-ext", config.DefaultCompositeExt, "composite extension (.img writes HFA, otherwise GeoTIFF)")
	f.Int("composite-workers", config.DefaultWorkers, "parallel composites")
	f.Bool("verify-archives", false, "re-hash archives before trusting an expansion marker")
}

func (a *app) pipelineCommand(use, short string, mode config.Mode, set stepSet) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runPipeline(cmd, mode, set.steps())
		},
	}
	if mode == config.ModeAcquire {
		addAcquireFlags(cmd)
	}
	switch set {
	case stepsFull:
		addCompositeFlags(cmd, "")
	case stepsComposite:
		addCompositeFlags(cmd, "02;03;04;08")
	}
	return cmd
}

func (a *app) runPipeline(cmd *cobra.Command, mode config.Mode, steps pipeline.Steps) error {
	in, err := a.loadInput(cmd)
	if err != nil {
		return err
	}
	if mode == config.ModeAcquire {
		if in.Credentials, err = a.resolveCredentials(); err != nil {
			return err
		}
	}
	cfg, err := config.Build(in, mode, geo.LoadAOI, a.now())
	if err != nil {
		var verrs config.ValidationErrors
		if errors.As(err, &verrs) {
			printValidationErrors(a.stderr, verrs)
		}
		return &ExitCodeError{Code: pipeline.ExitValidation, Err: err}
	}

	obs, err := a.setupObservability()
	if err != nil {
		return err
	}
	defer obs.shutdown()

	store, err := ledger.Open(ledger.DefaultPath(cfg.OutputDir))
	if err != nil {
		return err
	}
	defer store.Close()

	opts := []pipeline.SessionOption{
		pipeline.WithLedger(store),
		pipeline.WithLogger(logging.NewComponentLogger("pipeline")),
		pipeline.WithObservability(obs.metrics, obs.tracer),
	}
	if steps.Query || steps.Fetch {
		cat, err := a.newCatalog(cfg, obs)
		if err != nil {
			return err
		}
		opts = append(opts, pipeline.WithCatalog(cat))
	}
	if steps.Composite && len(cfg.Bands) > 0 {
		opts = append(opts, pipeline.WithStacker(a.newStacker()))
	}
	sess := pipeline.NewSession(cfg, opts...)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, runErr := pipeline.Run(ctx, sess, steps)
	if steps == pipeline.StepsQueryOnly {
		printProducts(a.stdout, report.Kept)
	}
	code := pipeline.ExitCode(report, runErr)
	printSummary(a.stdout, report, code)

	switch {
	case runErr != nil:
		return &ExitCodeError{Code: code, Err: runErr}
	case code != pipeline.ExitOK:
		return &ExitCodeError{Code: code, Err: fmt.Errorf("%d items need another run; see s2batch pending", report.ItemProblems())}
	}
	return nil
}

func (a *app) pendingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List products recorded offline or failed in the output directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.bindFlags(cmd.Flags()); err != nil {
				return err
			}
			out := a.v.GetString("output")
			if out == "" {
				return &ExitCodeError{Code: pipeline.ExitValidation, Err: fmt.Errorf("output directory is required")}
			}
			path := ledger.DefaultPath(out)
			if _, err := os.Stat(path); err != nil {
				fmt.Fprintln(a.stdout, gray("No runs recorded in "+out))
				return nil
			}
			store, err := ledger.Open(path)
			if err != nil {
				return err
			}
			defer store.Close()

			total := 0
			for _, state := range []ledger.State{ledger.StateOffline, ledger.StateFailed} {
				entries, err := store.ListByState(context.Background(), state)
				if err != nil {
					return err
				}
				for _, e := range entries {
					fmt.Fprintf(a.stdout, "%-8s %s  %s  %s\n", state, e.UpdatedAt.Local().Format("2006-01-02 15:04"), e.Name, gray(e.Message))
				}
				total += len(entries)
			}
			if total == 0 {
				fmt.Fprintln(a.stdout, green("Nothing pending."))
			}
			return nil
		},
	}
}
