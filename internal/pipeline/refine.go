package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hyperjump/dataforge/internal/llm"
	"github.com/hyperjump/dataforge/internal/models"
	"github.com/hyperjump/dataforge/internal/prompts"
	"github.com/hyperjump/dataforge/internal/storage"
	"go.uber.org/zap"
)

// ErrRefinerClosed is returned by Submit after Close.
var ErrRefinerClosed = errors.New("refiner closed")

// Refiner rewrites the chain of thought of dataset records in the background. Jobs are keyed
// by record id and detached from the caller's context. A job writes only if the record's cot
// version is still the one seen at submission.
type Refiner struct {
	store  storage.Storage
	models llm.Factory
	logger *zap.Logger

	mu     sync.Mutex
	jobs   map[string]*refineJob
	closed bool
	wg     sync.WaitGroup
}

type refineJob struct {
	cancel context.CancelFunc
}

func newRefiner(store storage.Storage, models llm.Factory, logger *zap.Logger) *Refiner {
	return &Refiner{
		store:  store,
		models: models,
		logger: logger,
		jobs:   make(map[string]*refineJob),
	}
}

// Submit starts refining rec and returns immediately. A pending job for the same record is
// cancelled first.
func (r *Refiner) Submit(s Settings, rec models.DatasetRecord) error {
	if err := requireID("record id", rec.ID); err != nil {
		return err
	}
	s = s.WithDefaults()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRefinerClosed
	}
	if prev, ok := r.jobs[rec.ID]; ok {
		prev.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	job := &refineJob{cancel: cancel}
	r.jobs[rec.ID] = job
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer r.finish(rec.ID, job)
		r.run(ctx, s, rec)
	}()
	return nil
}

func (r *Refiner) finish(id string, job *refineJob) {
	job.cancel()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.jobs[id] == job {
		delete(r.jobs, id)
	}
}

func (r *Refiner) run(ctx context.Context, s Settings, rec models.DatasetRecord) {
	log := r.logger.With(zap.String("record_id", rec.ID), zap.Int64("cot_version", rec.CotVersion))
	refined, err := r.refine(ctx, s, rec)
	if err != nil {
		if ctx.Err() != nil {
			log.Debug("cot refinement cancelled")
			return
		}
		log.Warn("cot refinement failed", zap.Error(err))
		return
	}
	if ctx.Err() != nil {
		log.Debug("cot refinement cancelled")
		return
	}
	version, err := r.store.UpdateRecordCot(context.Background(), rec.ID, refined, rec.CotVersion)
	switch {
	case errors.Is(err, storage.ErrStaleWrite), errors.Is(err, storage.ErrNotFound):
		log.Debug("cot refinement discarded", zap.Error(err))
		return
	case err != nil:
		log.Warn("cot refinement write failed", zap.Error(err))
		return
	}
	log.Debug("cot refined", zap.Int64("new_version", version))
	r.advance(rec.ChunkID)
}

func (r *Refiner) refine(ctx context.Context, s Settings, rec models.DatasetRecord) (string, error) {
	msgs, err := prompts.RefineCot(s.Language, rec.Question, rec.Answer, rec.Cot)
	if err != nil {
		return "", err
	}
	model, err := r.models(s.Model)
	if err != nil {
		return "", err
	}
	resp, err := model.Generate(ctx, msgs, s.Model.DefaultOptions())
	if err != nil {
		return "", fmt.Errorf("model call: %w", err)
	}
	_, refined := llm.SplitThink(resp)
	if refined == "" {
		return "", ErrEmptyGeneration
	}
	return refined, nil
}

func (r *Refiner) advance(chunkID string) {
	ctx := context.Background()
	c, err := r.store.GetChunk(ctx, chunkID)
	if err != nil {
		return
	}
	doc, err := r.store.GetDocument(ctx, c.DocumentID)
	if err != nil {
		return
	}
	if next := doc.Stage.Advance(models.StageCotRefined); next != doc.Stage {
		if err := r.store.UpdateDocumentStage(ctx, doc.ID, next); err != nil {
			r.logger.Warn("failed to advance document stage",
				zap.String("document_id", doc.ID), zap.String("stage", string(next)), zap.Error(err))
		}
	}
}

// Cancel stops the pending job for a record. It reports whether one was pending.
func (r *Refiner) Cancel(recordID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[recordID]
	if ok {
		job.cancel()
		delete(r.jobs, recordID)
	}
	return ok
}

// Pending returns the number of jobs not yet finished.
func (r *Refiner) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Wait blocks until every submitted job has finished.
func (r *Refiner) Wait() {
	r.wg.Wait()
}

// Close cancels all jobs, waits for them and rejects further submissions.
func (r *Refiner) Close() {
	r.mu.Lock()
	r.closed = true
	for id, job := range r.jobs {
		job.cancel()
		delete(r.jobs, id)
	}
	r.mu.Unlock()
	r.wg.Wait()
}
