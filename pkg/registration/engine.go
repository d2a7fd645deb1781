// Package registration turns the per-frame transforms of a DICOM spatial
// registration into a single composite transform between two Frames of
// Reference.
//
// Each frame's composite in a REG file maps that frame into the
// registration's reference frame. ComposeFixedToMoving emits the composite
// whose action on a point p is M(F^-1(p)), the transform resamplers consume
// when the fixed frame is the output grid and the moving frame is the image
// being sampled.
package registration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"regtoh5/internal/models"
	"regtoh5/pkg/transform"
)

const tracerName = "regtoh5/registration"

// TransformSource yields the transform list a registration file carries for
// one Frame of Reference. An empty list means the frame is not registered.
type TransformSource interface {
	ReadTransforms(path, frameOfReferenceUID string) ([]transform.Node, error)
}

// Engine reads frames from a TransformSource and composes them.
type Engine struct {
	source TransformSource
	logger *slog.Logger
	tracer trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithTracer makes the engine record spans on t instead of the global
// tracer provider.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// NewEngine returns an engine reading from source. A nil logger discards
// output.
func NewEngine(source TransformSource, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	e := &Engine{
		source: source,
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ReadFrame returns the flattened composite registered for
// frameOfReferenceUID in the file at path.
//
// Errors are *models.Error of kind ParseFailure, FrameNotFound or
// UnexpectedTransformShape.
func (e *Engine) ReadFrame(ctx context.Context, path, frameOfReferenceUID string) (*transform.Composite, error) {
	_, span := e.tracer.Start(ctx, "registration.ReadFrame",
		trace.WithAttributes(
			attribute.String("reg.path", path),
			attribute.String("reg.frame", frameOfReferenceUID),
		))
	defer span.End()

	c, err := e.readFrame(path, frameOfReferenceUID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("reg.transforms", c.Len()))
	return c, nil
}

func (e *Engine) readFrame(path, uid string) (*transform.Composite, error) {
	fail := func(kind models.ErrorKind, err error) error {
		return &models.Error{Op: "read frame", Kind: kind, FoR: uid, Path: path, Err: err}
	}

	nodes, err := e.source.ReadTransforms(path, uid)
	if err != nil {
		return nil, fail(models.KindParseFailure, err)
	}
	if len(nodes) == 0 {
		return nil, fail(models.KindFrameNotFound,
			fmt.Errorf("no transforms found for frame of reference %s", uid))
	}

	c, ok := nodes[0].Composite()
	if !ok {
		return nil, fail(models.KindUnexpectedTransformShape,
			fmt.Errorf("expected composite transform for frame %s, got %s", uid, nodes[0].Name()))
	}
	c.Flatten()

	ms, err := c.Matrices()
	if err != nil {
		return nil, fail(models.KindUnexpectedTransformShape, err)
	}
	if len(ms) == 0 {
		return nil, fail(models.KindFrameNotFound,
			fmt.Errorf("frame of reference %s has an empty transform", uid))
	}
	for i, m := range ms {
		if !m.IsAffine() {
			return nil, fail(models.KindUnexpectedTransformShape,
				fmt.Errorf("node %d: %w", i, transform.ErrNotAffine))
		}
	}

	e.logger.Debug("read frame", "path", path, "frame", uid, "transforms", len(ms))
	return c, nil
}

// ExtractSingle returns the composite of a single frame, flattened and
// non-empty, to be emitted verbatim.
func (e *Engine) ExtractSingle(ctx context.Context, path, frameOfReferenceUID string) (*transform.Composite, error) {
	ctx, span := e.tracer.Start(ctx, "registration.ExtractSingle")
	defer span.End()

	frame, err := e.ReadFrame(ctx, path, frameOfReferenceUID)
	if err != nil {
		return nil, err
	}

	out := transform.NewComposite()
	out.AppendComposite(frame)
	out.Flatten()
	if out.Len() == 0 {
		return nil, &models.Error{
			Op: "extract frame", Kind: models.KindFrameNotFound,
			FoR: frameOfReferenceUID, Path: path, Err: transform.ErrEmpty,
		}
	}
	return out, nil
}

// ComposeFixedToMoving returns the flattened composite mapping a point p to
// M(F^-1(p)), where F and M are the composites registered for the fixed and
// moving frames. Both frames are read before the fixed composite is
// inverted. Equal UIDs are accepted.
//
// A singular element in F yields a *models.Error of kind NotInvertible.
func (e *Engine) ComposeFixedToMoving(ctx context.Context, path, fixedUID, movingUID string) (*transform.Composite, error) {
	ctx, span := e.tracer.Start(ctx, "registration.ComposeFixedToMoving",
		trace.WithAttributes(
			attribute.String("reg.fixed", fixedUID),
			attribute.String("reg.moving", movingUID),
		))
	defer span.End()

	if fixedUID == movingUID {
		e.logger.Warn("fixed and moving frames are identical; result is F∘F⁻¹", "frame", fixedUID)
	}

	fixed, err := e.ReadFrame(ctx, path, fixedUID)
	if err != nil {
		return nil, err
	}
	moving, err := e.ReadFrame(ctx, path, movingUID)
	if err != nil {
		return nil, err
	}

	fixedInverse, err := fixed.Inverse()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &models.Error{
			Op: "invert fixed frame", Kind: models.KindNotInvertible,
			FoR: fixedUID, Path: path,
			Err: fmt.Errorf("fixed transform is not invertible: %w", err),
		}
	}

	// fixedInverse runs first, then moving.
	out := transform.NewComposite()
	out.AppendComposite(fixedInverse)
	out.AppendComposite(moving)
	out.Flatten()

	e.logger.Debug("composed frames",
		"fixed", fixedUID,
		"moving", movingUID,
		"transforms", out.Len(),
	)
	span.SetAttributes(attribute.Int("reg.transforms", out.Len()))
	return out, nil
}

// Invert returns the inverse of a flat composite. The driver uses it only
// when explicitly asked to emit the opposite direction.
func (e *Engine) Invert(c *transform.Composite) (*transform.Composite, error) {
	inv, err := c.Inverse()
	if err != nil {
		kind := models.KindNotInvertible
		if !errors.Is(err, transform.ErrSingular) {
			kind = models.KindUnexpectedTransformShape
		}
		return nil, models.NewError("invert composite", kind, err)
	}
	return inv, nil
}
