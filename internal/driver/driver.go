// Package driver runs one conversion: validate arguments, compose the
// requested transform, write it and optionally summarise it.
package driver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"regtoh5/internal/logger"
	"regtoh5/internal/models"
	"regtoh5/pkg/config"
	"regtoh5/pkg/dicomreg"
	"regtoh5/pkg/registration"
	"regtoh5/pkg/transform"
	"regtoh5/pkg/transformio"
)

// State is a step of a conversion run.
type State int

const (
	StateInit State = iota
	StateArgsParsed
	StateComposed
	StateWritten
	StateErrorReported
	StateExited
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateArgsParsed:
		return "args_parsed"
	case StateComposed:
		return "composed"
	case StateWritten:
		return "written"
	case StateErrorReported:
		return "error_reported"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// identityTolerance decides the summary's identity flag.
const identityTolerance = 1e-9

// Summary describes an emitted transform.
type Summary struct {
	RunID      string        `json:"runId"`
	Mode       string        `json:"mode"`
	Fixed      string        `json:"fixed"`
	Moving     string        `json:"moving,omitempty"`
	Inverted   bool          `json:"inverted"`
	Output     string        `json:"output"`
	Transforms int           `json:"transforms"`
	Matrix     [4][4]float64 `json:"matrix"`
	Identity   bool          `json:"identity"`
}

// Driver carries the collaborators of a run.
type Driver struct {
	cfg     *config.Config
	logger  *slog.Logger
	stdout  io.Writer
	tracer  trace.Tracer
	history []State
}

// Option configures a Driver.
type Option func(*Driver)

// WithTracer records the run's spans, and the engine's, on t.
func WithTracer(t trace.Tracer) Option {
	return func(d *Driver) {
		if t != nil {
			d.tracer = t
		}
	}
}

// New returns a driver. A nil cfg uses defaults, a nil logger discards
// output and a nil stdout suppresses the summary.
func New(cfg *config.Config, log *slog.Logger, stdout io.Writer, opts ...Option) *Driver {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if log == nil {
		log = logger.Discard()
	}
	if stdout == nil {
		stdout = io.Discard
	}
	d := &Driver{
		cfg:     cfg,
		logger:  log,
		stdout:  stdout,
		tracer:  otel.Tracer("regtoh5/driver"),
		history: []State{StateInit},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// State returns the current state.
func (d *Driver) State() State {
	return d.history[len(d.history)-1]
}

// History returns every state the driver has passed through.
func (d *Driver) History() []State {
	return append([]State(nil), d.history...)
}

func (d *Driver) enter(s State) {
	d.history = append(d.history, s)
}

// Run performs one conversion. It returns a *models.Error on failure, in
// which case no file exists at args.Output unless one did before.
func (d *Driver) Run(ctx context.Context, args models.Arguments) (err error) {
	runID := uuid.NewString()
	ctx, span := d.tracer.Start(ctx, "driver.Run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("reg.input", args.Input),
		attribute.String("reg.output", args.Output),
	))
	log := d.logger.With("run", runID)

	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			d.enter(StateErrorReported)
		}
		d.enter(StateExited)
		span.End()
	}()

	mode, err := args.Validate()
	if err != nil {
		return err
	}
	d.enter(StateArgsParsed)
	log.Debug("arguments parsed", "mode", mode, "input", args.Input, "output", args.Output)

	source := d.newSource(log)
	engine := registration.NewEngine(source, log, registration.WithTracer(d.tracer))

	var c *transform.Composite
	switch mode {
	case models.ModePair:
		c, err = engine.ComposeFixedToMoving(ctx, args.Input, args.Fixed, args.Moving)
	default:
		c, err = engine.ExtractSingle(ctx, args.Input, args.Fixed)
	}
	if err != nil {
		return err
	}
	if args.Invert {
		log.Info("inverting composed transform")
		c, err = engine.Invert(c)
		if err != nil {
			return err
		}
	}
	d.enter(StateComposed)

	if err := d.write(ctx, args.Output, c); err != nil {
		return err
	}
	d.enter(StateWritten)
	log.Debug("wrote transform",
		"output", args.Output,
		"transforms", c.Len(),
		"parses", source.ParseCalls(),
	)

	if args.Summary {
		s, err := summarise(runID, mode, args, c)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(d.stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(s); err != nil {
			return &models.Error{Op: "write summary", Kind: models.KindWriteFailure, Err: err}
		}
	}
	return nil
}

func (d *Driver) newSource(log *slog.Logger) *dicomreg.TransformIO {
	opts := []dicomreg.Option{
		dicomreg.WithLogger(log),
		dicomreg.SkipDeformationGrids(d.cfg.Registration.IgnoreDeformableGrid),
	}
	if !d.cfg.Registration.CacheParsed {
		opts = append(opts, dicomreg.WithoutCache())
	}
	return dicomreg.NewTransformIO(opts...)
}

func (d *Driver) write(ctx context.Context, path string, c *transform.Composite) error {
	_, span := d.tracer.Start(ctx, "driver.Write", trace.WithAttributes(
		attribute.String("output.path", path),
		attribute.String("output.format", d.cfg.Output.Format),
	))
	defer span.End()

	if err := transformio.WriteFileFormat(d.cfg.Output.Format, path, c); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &models.Error{Op: "write transform", Kind: models.KindWriteFailure, Path: path, Err: err}
	}
	return nil
}

func summarise(runID string, mode models.Mode, args models.Arguments, c *transform.Composite) (*Summary, error) {
	m, err := c.Collapse()
	if err != nil {
		return nil, models.NewError("summarise transform", models.KindUnexpectedTransformShape, err)
	}
	return &Summary{
		RunID:      runID,
		Mode:       mode.String(),
		Fixed:      args.Fixed,
		Moving:     args.Moving,
		Inverted:   args.Invert,
		Output:     args.Output,
		Transforms: c.Len(),
		Matrix:     m,
		Identity:   m.IsIdentity(identityTolerance),
	}, nil
}
