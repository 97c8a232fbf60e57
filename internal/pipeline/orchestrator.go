// Package pipeline drives a document from upload to dataset records: chunking, domain tree,
// questions, labels, answers and chain-of-thought refinement.
package pipeline

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hyperjump/dataforge/internal/extract"
	"github.com/hyperjump/dataforge/internal/keyword"
	"github.com/hyperjump/dataforge/internal/llm"
	"github.com/hyperjump/dataforge/internal/models"
	"github.com/hyperjump/dataforge/internal/storage"
	"github.com/hyperjump/dataforge/internal/tasks"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Orchestrator runs pipeline stages against a store.
type Orchestrator struct {
	store     storage.Storage
	index     keyword.Index // optional
	models    llm.Factory
	extractor *extract.Extractor
	refiner   *Refiner
	logger    *zap.Logger

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets a logger for stage events.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithKeywordIndex keeps a search index in sync with ingested chunks.
func WithKeywordIndex(idx keyword.Index) Option {
	return func(o *Orchestrator) { o.index = idx }
}

// WithModelFactory sets how model clients are built from a call's settings.
func WithModelFactory(f llm.Factory) Option {
	return func(o *Orchestrator) { o.models = f }
}

// WithExtractor sets the text extractor used by file ingestion.
func WithExtractor(e *extract.Extractor) Option {
	return func(o *Orchestrator) { o.extractor = e }
}

// New creates an orchestrator over store.
func New(store storage.Storage, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:   store,
		logger:  zap.NewNop(),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.extractor == nil {
		o.extractor = extract.NewExtractor()
	}
	if o.models == nil {
		o.models = llm.CachedFactory(llm.New)
	}
	o.refiner = newRefiner(store, o.models, o.logger)
	return o
}

// Refiner returns the background chain-of-thought refiner.
func (o *Orchestrator) Refiner() *Refiner { return o.refiner }

// Close cancels background refinements and waits for them to stop.
func (o *Orchestrator) Close() {
	o.refiner.Close()
}

func (o *Orchestrator) model(s Settings) (llm.Model, error) {
	m, err := o.models(s.Model)
	if err != nil {
		return nil, fmt.Errorf("model %q: %w", s.Model.Name, err)
	}
	return m, nil
}

func (o *Orchestrator) newRecordID() string {
	o.idMu.Lock()
	defer o.idMu.Unlock()
	return ulid.MustNew(ulid.Now(), o.entropy).String()
}

func requireID(name, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidInput, name)
	}
	return nil
}

// advance moves a document's stage forward; it never moves backwards.
func (o *Orchestrator) advance(ctx context.Context, documentID string, stage models.Stage) {
	doc, err := o.store.GetDocument(ctx, documentID)
	if err != nil {
		o.logger.Warn("stage update skipped", zap.String("document_id", documentID), zap.Error(err))
		return
	}
	next := doc.Stage.Advance(stage)
	if next == doc.Stage {
		return
	}
	if err := o.store.UpdateDocumentStage(ctx, documentID, next); err != nil {
		o.logger.Warn("stage update failed", zap.String("document_id", documentID), zap.Error(err))
		return
	}
	o.logger.Debug("document stage advanced",
		zap.String("document_id", documentID),
		zap.String("from", string(doc.Stage)),
		zap.String("to", string(next)))
}

// advanceChunks advances the documents owning chunkIDs.
func (o *Orchestrator) advanceChunks(ctx context.Context, chunkIDs []string, stage models.Stage) {
	seen := make(map[string]bool)
	for _, id := range chunkIDs {
		c, err := o.store.GetChunk(ctx, id)
		if err != nil || seen[c.DocumentID] {
			continue
		}
		seen[c.DocumentID] = true
		o.advance(ctx, c.DocumentID, stage)
	}
}

// ItemOutcome names an item that failed within a stage.
type ItemOutcome struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

// StageReport is the outcome of one fan-out stage. Item failures never fail the stage.
type StageReport struct {
	Stage    string         `json:"stage"`
	Summary  tasks.Summary  `json:"summary"`
	Progress tasks.Progress `json:"progress"`
	Failed   []ItemOutcome  `json:"failed,omitempty"`
	Created  int            `json:"created"`
	Duration time.Duration  `json:"duration_ns"`
}

func newReport[R any](stage string, keys []string, batch *tasks.Batch, results []tasks.Result[R], started time.Time) *StageReport {
	rep := &StageReport{
		Stage:    stage,
		Summary:  batch.Summary(),
		Progress: batch.Progress(),
		Duration: time.Since(started),
	}
	for i, r := range results {
		if r.Err != nil {
			rep.Failed = append(rep.Failed, ItemOutcome{Key: keys[i], Error: r.Err.Error()})
		}
	}
	return rep
}
