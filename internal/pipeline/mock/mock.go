// Package mock provides a call-recording implementation of
// [pipeline.Backend] for use in unit tests.
//
// Each stage returns its configured Result/Error pair. When a *Func field is
// set it takes precedence, which lets tests block a stage or fail only the
// first attempt.
package mock

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/MrWong99/meetrec/internal/api"
	"github.com/MrWong99/meetrec/internal/pipeline"
)

var _ pipeline.Backend = (*Backend)(nil)

// TranscribeCall records the arguments of one Transcribe call.
type TranscribeCall struct {
	Token    string
	FileName string
	MIMEType string
	Data     []byte
	Title    string
}

// Backend is a mock [pipeline.Backend].
type Backend struct {
	mu sync.Mutex

	TranscribeResult *api.Transcription
	TranscribeError  error
	TranscribeFunc   func(ctx context.Context) (*api.Transcription, error)

	TranslateResult *api.Translation
	TranslateError  error
	TranslateFunc   func(ctx context.Context, in api.TranslationRequest) (*api.Translation, error)

	AnalyzeResult *api.Analysis
	AnalyzeError  error
	AnalyzeFunc   func(ctx context.Context, in api.AnalysisRequest) (*api.Analysis, error)

	// Calls lists stage names in call order.
	Calls []string

	TranscribeCalls []TranscribeCall
	TranslateCalls  []api.TranslationRequest
	AnalyzeCalls    []api.AnalysisRequest
}

// NewSucceeding returns a backend whose stages all succeed with linked
// records.
func NewSucceeding() *Backend {
	text := "meeting transcript"
	tr := &api.Transcription{ID: uuid.New(), TranscriptionText: &text}
	tl := &api.Translation{ID: uuid.New(), AudioTranscriptionID: tr.ID, SourceText: text, TranslatedText: "meeting translation"}
	return &Backend{
		TranscribeResult: tr,
		TranslateResult:  tl,
		AnalyzeResult:    &api.Analysis{ID: uuid.New(), AudioTranslationID: tl.ID, Summary: "summary"},
	}
}

// Transcribe implements [pipeline.Backend].
func (b *Backend) Transcribe(ctx context.Context, creds *api.Credentials, fileName, mimeType string, data []byte, title string) (*api.Transcription, error) {
	b.mu.Lock()
	b.Calls = append(b.Calls, string(pipeline.StageTranscribe))
	b.TranscribeCalls = append(b.TranscribeCalls, TranscribeCall{
		Token:    creds.AccessToken(),
		FileName: fileName,
		MIMEType: mimeType,
		Data:     data,
		Title:    title,
	})
	fn, res, err := b.TranscribeFunc, b.TranscribeResult, b.TranscribeError
	b.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	return res, err
}

// Translate implements [pipeline.Backend].
func (b *Backend) Translate(ctx context.Context, _ *api.Credentials, in api.TranslationRequest) (*api.Translation, error) {
	b.mu.Lock()
	b.Calls = append(b.Calls, string(pipeline.StageTranslate))
	b.TranslateCalls = append(b.TranslateCalls, in)
	fn, res, err := b.TranslateFunc, b.TranslateResult, b.TranslateError
	b.mu.Unlock()
	if fn != nil {
		return fn(ctx, in)
	}
	return res, err
}

// Analyze implements [pipeline.Backend].
func (b *Backend) Analyze(ctx context.Context, _ *api.Credentials, in api.AnalysisRequest) (*api.Analysis, error) {
	b.mu.Lock()
	b.Calls = append(b.Calls, string(pipeline.StageAnalyze))
	b.AnalyzeCalls = append(b.AnalyzeCalls, in)
	fn, res, err := b.AnalyzeFunc, b.AnalyzeResult, b.AnalyzeError
	b.mu.Unlock()
	if fn != nil {
		return fn(ctx, in)
	}
	return res, err
}

// StageCalls returns a copy of Calls under the lock.
func (b *Backend) StageCalls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.Calls...)
}

// SetTranslate replaces the translate outcome under the lock.
func (b *Backend) SetTranslate(res *api.Translation, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.TranslateResult, b.TranslateError = res, err
}
