package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"regtoh5/internal/driver"
	"regtoh5/internal/logger"
	"regtoh5/internal/models"
	"regtoh5/internal/tracing"
	"regtoh5/pkg/config"
)

const usageLine = "regtoh5 --input REG_FILE --output OUTPUT_FILE --fixed FIXED_FOR_UID [--moving MOVING_FOR_UID]"

// Execute runs the command line of the current process and exits with its
// status.
func Execute() {
	os.Exit(Run(os.Args[1:], os.Stdout, os.Stderr))
}

// Run executes the command line args and returns the process exit code.
func Run(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	if err == nil {
		return 0
	}

	fmt.Fprintf(stderr, "regtoh5: %v\n", err)
	switch models.KindOf(err) {
	case models.KindBadArguments, models.KindMissingFixedFoR:
		fmt.Fprint(stderr, cmd.UsageString())
	}
	return 1
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var a models.Arguments

	cmd := &cobra.Command{
		Use:   usageLine,
		Short: "Convert a DICOM spatial registration into an ITK composite transform",
		Long: `regtoh5 reads a DICOM Spatial Registration (REG) file and writes the
transform registered for one Frame of Reference, or the transform taking the
fixed frame to the moving frame, as an ITK composite transform archive.

With --fixed only, the fixed frame's composite is written unchanged.
With --fixed and --moving, the written transform maps a point p to M(F^-1(p)).`,
		SilenceErrors: true,
		SilenceUsage:  true,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) > 0 {
				return models.NewError("parse arguments", models.KindBadArguments,
					fmt.Errorf("unexpected argument %q", args[0]))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), a, stdout, stderr)
		},
	}
	cmd.SetOut(stderr)
	cmd.SetErr(stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return models.NewError("parse arguments", models.KindBadArguments, err)
	})

	f := cmd.Flags()
	f.StringVarP(&a.Input, "input", "i", "", "DICOM REG file to read")
	f.StringVarP(&a.Output, "output", "o", "", "transform archive to write (.h5, .hdf5, .tfm, .txt)")
	f.StringVar(&a.Fixed, "fixed", "", "Frame of Reference UID of the fixed frame")
	f.StringVar(&a.Moving, "moving", "", "Frame of Reference UID of the moving frame")
	f.StringVarP(&a.ConfigPath, "config", "c", "", "YAML or TOML configuration file")
	f.BoolVar(&a.Invert, "invert", false, "write the inverse transform, F(M^-1(p))")
	f.BoolVar(&a.Summary, "summary", false, "print a JSON summary of the written transform on stdout")
	f.BoolVarP(&a.Verbose, "verbose", "v", false, "enable debug logging")
	cmd.Flags().SortFlags = false

	return cmd
}

func run(ctx context.Context, a models.Arguments, stdout, stderr io.Writer) error {
	cfg, err := loadConfig(a.ConfigPath)
	if err != nil {
		return err
	}

	log, err := logger.New(stderr, logger.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Verbose: a.Verbose,
	})
	if err != nil {
		return models.NewError("configure logging", models.KindConfigFailure, err)
	}

	tp, err := tracing.NewProvider(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		Exporter:     cfg.Tracing.Exporter,
		FilePath:     cfg.Tracing.FilePath,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		ServiceName:  cfg.Tracing.ServiceName,
	})
	if err != nil {
		return models.NewError("configure tracing", models.KindConfigFailure, err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Warn("failed to flush traces", "error", err)
		}
	}()

	if tp.Enabled() {
		log.Debug("tracing enabled", "exporter", cfg.Tracing.Exporter)
	}

	return driver.New(cfg, log, stdout, driver.WithTracer(tp.Tracer())).Run(ctx, a)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = fmt.Errorf("config file %s does not exist", path)
		}
		return nil, &models.Error{Op: "load config", Kind: models.KindConfigFailure, Path: path, Err: err}
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, &models.Error{Op: "load config", Kind: models.KindConfigFailure, Path: path, Err: err}
	}
	return cfg, nil
}
