// Package pipeline runs a finished recording through the remote processing
// stages: transcribe, translate, analyze.
//
// The stages run strictly in order, each consuming the previous stage's
// record. The first failing stage ends the run with a [*StageError]; later
// stages are never attempted and nothing is retried here.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/meetrec/internal/api"
	"github.com/MrWong99/meetrec/internal/observe"
	"github.com/MrWong99/meetrec/internal/recorder"
)

// Stage names one processing step.
type Stage string

// The processing stages in execution order.
const (
	StageTranscribe Stage = "transcribe"
	StageTranslate  Stage = "translate"
	StageAnalyze    Stage = "analyze"
)

// Backend is the remote service the stages call. [*api.Client] implements it.
type Backend interface {
	Transcribe(ctx context.Context, creds *api.Credentials, fileName, mimeType string, data []byte, title string) (*api.Transcription, error)
	Translate(ctx context.Context, creds *api.Credentials, in api.TranslationRequest) (*api.Translation, error)
	Analyze(ctx context.Context, creds *api.Credentials, in api.AnalysisRequest) (*api.Analysis, error)
}

var _ Backend = (*api.Client)(nil)

// StageError reports the stage a run failed in.
type StageError struct {
	Stage Stage

	// Detail is the backend's message, or the local error text.
	Detail string

	Err error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline: %s failed: %s", e.Stage, e.Detail)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error { return e.Err }

func stageError(stage Stage, err error) *StageError {
	detail := err.Error()
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		detail = apiErr.Detail
	}
	return &StageError{Stage: stage, Detail: detail, Err: err}
}

// Result holds the records produced by a successful run.
type Result struct {
	Transcription *api.Transcription
	Translation   *api.Translation
	Analysis      *api.Analysis
}

// TranscriptionID returns the ID of the transcription record.
func (r *Result) TranscriptionID() uuid.UUID { return r.Transcription.ID }

// TranslationID returns the ID of the translation record.
func (r *Result) TranslationID() uuid.UUID { return r.Translation.ID }

// AnalysisID returns the ID of the analysis record.
func (r *Result) AnalysisID() uuid.UUID { return r.Analysis.ID }

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithGenerateMarkdown sets whether the analysis stage asks for markdown notes.
func WithGenerateMarkdown(v bool) Option {
	return func(p *Pipeline) { p.markdown.Store(v) }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithNow replaces the clock used to timestamp upload file names.
func WithNow(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// Pipeline runs recordings through a [Backend]. It is safe for concurrent use.
type Pipeline struct {
	backend  Backend
	metrics  *observe.Metrics
	now      func() time.Time
	markdown atomic.Bool
}

// New creates a pipeline. Markdown notes are requested by default.
func New(backend Backend, opts ...Option) *Pipeline {
	p := &Pipeline{backend: backend, now: time.Now}
	p.markdown.Store(true)
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// SetGenerateMarkdown changes the markdown flag for subsequent runs.
func (p *Pipeline) SetGenerateMarkdown(v bool) { p.markdown.Store(v) }

// Run uploads artifact under title and runs all three stages.
func (p *Pipeline) Run(ctx context.Context, creds *api.Credentials, artifact *recorder.Artifact, title string) (*Result, error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("encoding", artifact.MIMEType()),
		attribute.Int("artifact.size", artifact.Size()),
	)

	res := &Result{}
	fileName := artifact.FileName(title, p.now())

	err := p.stage(ctx, StageTranscribe, func(ctx context.Context) (err error) {
		res.Transcription, err = p.backend.Transcribe(ctx, creds, fileName, artifact.MIMEType(), artifact.Bytes(), title)
		return err
	})
	if err == nil {
		err = p.stage(ctx, StageTranslate, func(ctx context.Context) (err error) {
			res.Translation, err = p.backend.Translate(ctx, creds, api.TranslationRequest{
				AudioTranscriptionID: res.Transcription.ID,
				SourceText:           res.Transcription.Text(),
			})
			return err
		})
	}
	if err == nil {
		err = p.stage(ctx, StageAnalyze, func(ctx context.Context) (err error) {
			res.Analysis, err = p.backend.Analyze(ctx, creds, api.AnalysisRequest{
				AudioTranslationID: res.Translation.ID,
				GenerateMarkdown:   p.markdown.Load(),
			})
			return err
		})
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	observe.Logger(ctx).Info("pipeline: run complete",
		"transcription_id", res.TranscriptionID(),
		"translation_id", res.TranslationID(),
		"analysis_id", res.AnalysisID(),
	)
	return res, nil
}

// stage runs fn inside its own span and records its latency.
func (p *Pipeline) stage(ctx context.Context, stage Stage, fn func(context.Context) error) error {
	ctx, span := observe.StartSpan(ctx, "pipeline."+string(stage))
	defer span.End()

	log := observe.Logger(ctx).With("stage", string(stage))
	log.Info("pipeline: stage started")

	start := time.Now()
	err := fn(ctx)
	p.metrics.RecordStage(ctx, string(stage), time.Since(start).Seconds(), err)

	if err != nil {
		se := stageError(stage, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, se.Detail)
		log.Warn("pipeline: stage failed", "detail", se.Detail, "err", err)
		return se
	}
	log.Info("pipeline: stage finished", "duration", time.Since(start))
	return nil
}
