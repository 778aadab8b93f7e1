package stages

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"archivist/internal/catalog"
	"archivist/internal/config"
	"archivist/internal/logging"
	"archivist/internal/provider"
	"archivist/internal/services"
	"archivist/internal/services/llm"
)

// Invoker is the provider surface used by stages.
type Invoker interface {
	Invoke(ctx context.Context, call provider.Call) provider.Result
}

// Input is the context a stage receives for one item.
type Input struct {
	Item catalog.Item
	// Record holds every prior stage output for the item.
	Record catalog.Record
	// Root is the input directory that item image paths are relative to.
	Root string
}

// Outcome is the result of one stage execution.
type Outcome struct {
	Stage catalog.Stage
	// Value is the typed stage output, nil when the stage produced nothing.
	Value any
	Meta  catalog.StageMeta
	// Err is the failure cause. A successful outcome with null fields carries
	// an ErrMissingEvidence marker instead.
	Err       error
	Cancelled bool

	apply func(*catalog.Record)
}

// OK reports whether the stage produced a value.
func (o Outcome) OK() bool {
	return o.Value != nil && o.Meta.Status == catalog.MetaOK
}

// ApplyTo records the outcome metadata on rec and merges the value, if any.
func (o Outcome) ApplyTo(rec *catalog.Record) {
	if o.apply != nil && o.Value != nil {
		o.apply(rec)
	}
	rec.SetMeta(o.Stage, o.Meta)
}

// Stage is one item-level analysis step.
type Stage interface {
	Name() catalog.Stage
	Execute(ctx context.Context, in Input) Outcome
}

type base struct {
	name    catalog.Stage
	route   config.Route
	invoker Invoker
	logger  *slog.Logger
	now     func() time.Time
}

func newBase(name catalog.Stage, cfg *config.Config, invoker Invoker, logger *slog.Logger) base {
	return base{
		name:    name,
		route:   cfg.StageRoute(string(name)),
		invoker: invoker,
		logger:  logging.NewComponentLogger(logger, "stage"),
		now:     time.Now,
	}
}

// Name returns the stage identifier.
func (b base) Name() catalog.Stage { return b.name }

// invoke loads item images and sends one call. Image loading failures are
// reported as a failed result without contacting the model.
func (b base) invoke(ctx context.Context, in Input, system, prompt string) provider.Result {
	images := make([]llm.Image, 0, len(in.Item.Images))
	for _, rel := range in.Item.Images {
		img, err := llm.LoadImage(filepath.Join(in.Root, filepath.FromSlash(rel)))
		if err != nil {
			return b.failed(services.Wrap(services.ErrValidation, string(b.name), "load image", rel, err))
		}
		images = append(images, img)
	}
	return b.invoker.Invoke(ctx, provider.Call{
		Stage:  b.name,
		ItemID: in.Item.ID,
		System: system,
		Prompt: prompt,
		Images: images,
		Route:  b.route,
	})
}

func (b base) failed(err error) provider.Result {
	return provider.Result{
		Meta: catalog.StageMeta{
			Status:    catalog.MetaError,
			Timestamp: b.now().UTC(),
			Model:     b.route.Primary.Model,
			Provider:  b.route.Primary.Provider,
			Error:     catalog.Some(err.Error()),
		},
		Err: err,
	}
}

// outcome converts a provider result into an Outcome. decode is only called
// for successful results; a decode error marks the outcome malformed.
func (b base) outcome(ctx context.Context, res provider.Result, decode func() (any, func(*catalog.Record), error)) Outcome {
	out := Outcome{Stage: b.name, Meta: res.Meta, Err: res.Err, Cancelled: res.Cancelled()}
	if !res.OK() {
		return out
	}
	value, apply, err := decode()
	if err != nil {
		wrapped := services.Wrap(services.ErrMalformedOutput, string(b.name), "decode", "output does not match schema", err)
		out.Meta.Status = catalog.MetaError
		out.Meta.Error = catalog.Some(wrapped.Error())
		out.Err = wrapped
		logging.WarnWithContext(logging.WithContext(ctx, b.logger), "stage output rejected",
			"stage_schema_mismatch",
			logging.String(logging.FieldStage, string(b.name)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stage result recorded as null"),
			logging.String(logging.FieldErrorHint, "inspect the model output; the schema may need a stricter prompt"),
		)
		return out
	}
	out.Value = value
	out.apply = apply
	return out
}
