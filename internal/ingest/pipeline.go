// Package ingest normalizes multimodal source material (videos, news
// articles, social posts, PDFs) into evidence documents. Work is tracked in
// a task arena, retried with bounded exponential backoff when the failure
// is transient, and parked on the operator queue when it is not.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/idxquant/idxpulse/internal/capability"
	"github.com/idxquant/idxpulse/internal/config"
	"github.com/idxquant/idxpulse/internal/domain"
	"github.com/idxquant/idxpulse/internal/metrics"
	"github.com/idxquant/idxpulse/internal/store"
)

// SourceDescriptor identifies one piece of source material to ingest.
// Either Content or URL must be set; URL-only sources are fetched first.
type SourceDescriptor struct {
	SourceID   string           `json:"source_id"`
	Kind       domain.MediaKind `json:"kind"`
	Title      string           `json:"title"`
	URL        string           `json:"url,omitempty"`
	Content    []byte           `json:"content,omitempty"`
	Tickers    []string         `json:"tickers"`
	CapturedAt time.Time        `json:"captured_at"`
}

type job struct {
	taskID  string
	desc    SourceDescriptor
	attempt int
}

// Pipeline runs the ingestion worker pool.
type Pipeline struct {
	caps    capability.Client
	store   store.EvidenceStore
	fetcher *Fetcher
	arena   *Arena
	reg     *metrics.Registry
	cfg     config.IngestConfig

	queue chan job
	wg    sync.WaitGroup
}

// NewPipeline creates an ingestion pipeline. reg may be nil in tests.
func NewPipeline(caps capability.Client, st store.EvidenceStore, reg *metrics.Registry, cfg config.IngestConfig) *Pipeline {
	return &Pipeline{
		caps:    caps,
		store:   st,
		fetcher: NewFetcher(cfg.CallTimeout),
		arena:   NewArena(),
		reg:     reg,
		cfg:     cfg,
		queue:   make(chan job, 256),
	}
}

// Arena exposes the task table for the monitoring surface.
func (p *Pipeline) Arena() *Arena { return p.arena }

// OperatorQueue returns tasks that exhausted retries or failed permanently
// and now need a human decision.
func (p *Pipeline) OperatorQueue() []Task {
	var failed []Task
	for _, task := range p.arena.Snapshot() {
		if task.Status == TaskFailed {
			failed = append(failed, task)
		}
	}
	return failed
}

// Submit registers a source for asynchronous ingestion and returns the
// task id for progress polling.
func (p *Pipeline) Submit(desc SourceDescriptor) string {
	taskID := p.arena.Create(desc.SourceID, desc.Kind)
	p.queue <- job{taskID: taskID, desc: desc, attempt: 1}
	return taskID
}

// Run starts the worker pool and blocks until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	workers := p.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	log.Info().Int("workers", workers).Msg("Starting ingestion workers")

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}

	gaugeTicker := time.NewTicker(5 * time.Second)
	defer gaugeTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			log.Info().Msg("Ingestion workers stopped")
			return
		case <-gaugeTicker.C:
			p.publishGauges()
		}
	}
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-p.queue:
			p.process(ctx, j)
		}
	}
}

func (p *Pipeline) process(ctx context.Context, j job) {
	p.arena.Start(j.taskID)
	docs, err := p.ingestOne(ctx, j.taskID, j.desc)
	if err == nil {
		p.arena.Complete(j.taskID, fmt.Sprintf("indexed %d chunks", len(docs)))
		log.Info().
			Str("source", j.desc.SourceID).
			Str("kind", string(j.desc.Kind)).
			Int("chunks", len(docs)).
			Msg("Source ingested")
		return
	}

	if domain.IsRetryable(err) && j.attempt < p.cfg.MaxAttempts {
		delay := p.backoff(j.attempt)
		p.arena.Retrying(j.taskID, err.Error())
		if p.reg != nil {
			p.reg.IngestFailures.WithLabelValues("retryable").Inc()
		}
		log.Warn().
			Str("source", j.desc.SourceID).
			Int("attempt", j.attempt).
			Dur("backoff", delay).
			Err(err).
			Msg("Ingestion attempt failed, retrying")
		// The retry timer is tracked by the pool's WaitGroup so shutdown
		// waits for it instead of stranding the task in pending.
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			select {
			case <-ctx.Done():
				p.arena.Fail(j.taskID, "shut down before retry")
				return
			case <-time.After(delay):
			}
			select {
			case <-ctx.Done():
				p.arena.Fail(j.taskID, "shut down before retry")
			case p.queue <- job{taskID: j.taskID, desc: j.desc, attempt: j.attempt + 1}:
			}
		}()
		return
	}

	p.arena.Fail(j.taskID, err.Error())
	if p.reg != nil {
		p.reg.IngestFailures.WithLabelValues("permanent").Inc()
	}
	log.Error().
		Str("source", j.desc.SourceID).
		Int("attempts", j.attempt).
		Err(err).
		Msg("Ingestion failed permanently, queued for operator review")
}

// backoff returns the delay before retry attempt+1: initial doubled per
// attempt, capped at the configured maximum.
func (p *Pipeline) backoff(attempt int) time.Duration {
	delay := p.cfg.InitialBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.cfg.MaxBackoff {
			return p.cfg.MaxBackoff
		}
	}
	if delay > p.cfg.MaxBackoff {
		return p.cfg.MaxBackoff
	}
	return delay
}

// Ingest processes one source synchronously. Callers that want retries and
// task tracking should use Submit instead.
func (p *Pipeline) Ingest(ctx context.Context, desc SourceDescriptor) ([]domain.EvidenceDocument, error) {
	taskID := p.arena.Create(desc.SourceID, desc.Kind)
	p.arena.Start(taskID)
	docs, err := p.ingestOne(ctx, taskID, desc)
	if err != nil {
		p.arena.Fail(taskID, err.Error())
		return nil, err
	}
	p.arena.Complete(taskID, fmt.Sprintf("indexed %d chunks", len(docs)))
	return docs, nil
}

type segment struct {
	text        string
	subLocation string
}

func (p *Pipeline) ingestOne(ctx context.Context, taskID string, desc SourceDescriptor) ([]domain.EvidenceDocument, error) {
	if desc.SourceID == "" {
		return nil, &domain.IngestionError{Source: desc.URL, Retryable: false, Err: fmt.Errorf("missing source id")}
	}
	if !desc.Kind.Valid() {
		return nil, &domain.IngestionError{Source: desc.SourceID, Retryable: false, Err: fmt.Errorf("unsupported media kind %q", desc.Kind)}
	}
	if len(desc.Content) == 0 && desc.URL == "" {
		return nil, &domain.IngestionError{Source: desc.SourceID, Retryable: false, Err: fmt.Errorf("descriptor has neither content nor url")}
	}
	p.arena.SetProgress(taskID, 10, "acquiring source")

	segments, title, err := p.acquire(ctx, desc)
	if err != nil {
		return nil, err
	}
	if title == "" {
		title = desc.Title
	}
	if len(segments) == 0 {
		return nil, &domain.IngestionError{Source: desc.SourceID, Retryable: false, Err: fmt.Errorf("source produced no text")}
	}
	p.arena.SetProgress(taskID, 30, fmt.Sprintf("classifying %d chunks", len(segments)))

	capturedAt := desc.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now().UTC()
	}

	docs := make([]domain.EvidenceDocument, 0, len(segments))
	for i, seg := range segments {
		sentiment, err := p.classify(ctx, desc.SourceID, seg.text)
		if err != nil {
			return nil, err
		}
		embedding, err := p.embed(ctx, desc.SourceID, seg.text)
		if err != nil {
			return nil, err
		}

		contentHash := hashText(seg.text)
		doc := domain.EvidenceDocument{
			ID:          docID(desc.SourceID, seg.subLocation, contentHash),
			Kind:        desc.Kind,
			Title:       title,
			CapturedAt:  capturedAt,
			Snippet:     seg.text,
			Sentiment:   sentiment,
			SubLocation: seg.subLocation,
			SourceID:    desc.SourceID,
			ContentHash: contentHash,
			Tickers:     desc.Tickers,
			Embedding:   embedding,
		}

		stored, created, err := p.store.UpsertEvidence(ctx, doc)
		if err != nil {
			return nil, &domain.IngestionError{Source: desc.SourceID, Retryable: true, Err: fmt.Errorf("failed to store evidence: %w", err)}
		}
		if created && p.reg != nil {
			p.reg.IngestedItems.WithLabelValues(string(desc.Kind)).Inc()
		}
		docs = append(docs, stored)
		p.arena.SetProgress(taskID, 30+60*(i+1)/len(segments), "")
	}
	return docs, nil
}

// acquire turns the raw source into text segments with sub-locations.
func (p *Pipeline) acquire(ctx context.Context, desc SourceDescriptor) ([]segment, string, error) {
	switch desc.Kind {
	case domain.MediaVideo:
		content := desc.Content
		if len(content) == 0 {
			fetched, err := p.fetcher.FetchBytes(ctx, desc.URL)
			if err != nil {
				return nil, "", err
			}
			content = fetched
		}
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
		transcript, err := p.caps.Transcribe(callCtx, content)
		cancel()
		if err != nil {
			return nil, "", p.classifyCallError(desc.SourceID, err)
		}
		segments := make([]segment, 0, len(transcript))
		for _, t := range transcript {
			if t.Text == "" {
				continue
			}
			segments = append(segments, segment{text: t.Text, subLocation: "t=" + t.Offset})
		}
		return segments, "", nil

	case domain.MediaPDF:
		content := desc.Content
		if len(content) == 0 {
			fetched, err := p.fetcher.FetchBytes(ctx, desc.URL)
			if err != nil {
				return nil, "", err
			}
			content = fetched
		}
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
		text, err := p.caps.ExtractText(callCtx, content)
		cancel()
		if err != nil {
			return nil, "", p.classifyCallError(desc.SourceID, err)
		}
		return chunkSegments(text, p.cfg.ChunkSize, p.cfg.ChunkOverlap), "", nil

	case domain.MediaNews:
		if len(desc.Content) > 0 {
			return chunkSegments(string(desc.Content), p.cfg.ChunkSize, p.cfg.ChunkOverlap), "", nil
		}
		title, text, err := p.fetcher.FetchArticle(ctx, desc.URL)
		if err != nil {
			return nil, "", err
		}
		return chunkSegments(text, p.cfg.ChunkSize, p.cfg.ChunkOverlap), title, nil

	case domain.MediaSocial:
		text := string(desc.Content)
		if text == "" {
			_, fetched, err := p.fetcher.FetchArticle(ctx, desc.URL)
			if err != nil {
				return nil, "", err
			}
			text = fetched
		}
		return chunkSegments(text, p.cfg.ChunkSize, p.cfg.ChunkOverlap), "", nil
	}
	return nil, "", &domain.IngestionError{Source: desc.SourceID, Retryable: false, Err: fmt.Errorf("unsupported media kind %q", desc.Kind)}
}

func chunkSegments(text string, size, overlap int) []segment {
	chunks := ChunkText(text, size, overlap)
	segments := make([]segment, 0, len(chunks))
	for i, chunk := range chunks {
		segments = append(segments, segment{text: chunk, subLocation: fmt.Sprintf("chunk-%d", i+1)})
	}
	return segments
}

func (p *Pipeline) classify(ctx context.Context, sourceID, text string) (domain.Sentiment, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()
	sentiment, err := p.caps.ClassifySentiment(callCtx, text)
	if err != nil {
		return "", p.classifyCallError(sourceID, err)
	}
	return sentiment, nil
}

func (p *Pipeline) embed(ctx context.Context, sourceID, text string) ([]float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()
	embedding, err := p.caps.Embed(callCtx, text)
	if err != nil {
		return nil, p.classifyCallError(sourceID, err)
	}
	return embedding, nil
}

// classifyCallError maps a capability failure onto the ingestion retry
// policy: transient calls and deadline hits are retryable, everything else
// is an operator problem.
func (p *Pipeline) classifyCallError(sourceID string, err error) error {
	retryable := capability.IsTransient(err) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
	return &domain.IngestionError{Source: sourceID, Retryable: retryable, Err: err}
}

func (p *Pipeline) publishGauges() {
	if p.reg == nil {
		return
	}
	counts := p.arena.CountByStatus()
	for _, status := range []TaskStatus{TaskPending, TaskProcessing, TaskCompleted, TaskFailed} {
		p.reg.TasksByState.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
	p.reg.IngestThroughput.Set(p.arena.Throughput())
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// docID derives a stable document id so re-ingesting the same content
// yields the same row.
func docID(sourceID, subLocation, contentHash string) string {
	sum := sha256.Sum256([]byte(sourceID + "\x00" + subLocation + "\x00" + contentHash))
	return "doc-" + hex.EncodeToString(sum[:])[:16]
}
