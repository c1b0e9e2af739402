package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hamedsk/corpusqa/config"
	"github.com/hamedsk/corpusqa/internal/cache"
	"github.com/hamedsk/corpusqa/internal/telemetry"
	"github.com/hamedsk/corpusqa/models"
	"github.com/hamedsk/corpusqa/provider"
)

// Searcher is the retrieval contract the orchestrator consumes.
type Searcher interface {
	Search(ctx context.Context, query string, topK int, useHybrid bool) ([]models.RankedResult, error)
}

// Generator is the slice of the provider contract the orchestrator consumes.
type Generator interface {
	StreamCompletion(ctx context.Context, prompt string) (provider.CompletionStream, error)
}

// Stream is a pull-based answer stream. Recv returns increments until io.EOF
// signals normal completion; any other error ends the stream as failed and
// increments already returned stay delivered. Answer returns the finished
// answer only after Recv has returned io.EOF.
type Stream interface {
	Recv() (string, error)
	Close() error
	Answer() *models.Answer
}

// Orchestrator drives a question through the full pipeline: response cache
// check, retrieval, prompt build, streamed generation, citation extraction and
// the final cache write. Only a normally completed answer is written back.
type Orchestrator struct {
	search  Searcher
	gen     Generator
	cache   *cache.Service
	cfg     config.SynthesisConfig
	respTTL time.Duration
	metrics *telemetry.Metrics
	logger  *log.Logger
}

// NewOrchestrator wires the synthesis collaborators. A nil logger gets a
// prefixed default; metrics may be nil.
func NewOrchestrator(search Searcher, gen Generator, cacheSvc *cache.Service, cfg config.SynthesisConfig, respTTL time.Duration, metrics *telemetry.Metrics, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(log.Writer(), "[SYNTHESIS] ", log.LstdFlags)
	}
	return &Orchestrator{
		search:  search,
		gen:     gen,
		cache:   cacheSvc,
		cfg:     cfg.Normalize(),
		respTTL: respTTL,
		metrics: metrics,
		logger:  logger,
	}
}

// cachedAnswer is the response cache wire format.
type cachedAnswer struct {
	Text      string            `json:"text"`
	Citations []models.Citation `json:"citations"`
}

// Ask answers a question end to end. On a response cache hit the returned
// stream yields the whole cached answer as one increment. On a miss it runs
// retrieval, starts generation and streams increments as they arrive; the
// answer is cached only when the stream terminates normally.
func (o *Orchestrator) Ask(ctx context.Context, question string, topK int, useHybrid bool) (Stream, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: question must not be empty", models.ErrInvalidArgument)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", models.ErrInvalidArgument, topK)
	}

	key := cache.ResponseKey(question, topK, useHybrid)
	if raw, ok := o.cache.Get(ctx, key); ok {
		var payload cachedAnswer
		if err := json.Unmarshal([]byte(raw), &payload); err == nil {
			o.metrics.ObserveCacheLookup("response", true)
			o.metrics.ObserveQuestion(telemetry.OutcomeCached)
			return newCachedStream(question, payload), nil
		}
		o.logger.Printf("discarding undecodable cached answer for %s", key)
	}
	o.metrics.ObserveCacheLookup("response", false)

	retrievalStart := time.Now()
	passages, err := o.search.Search(ctx, question, topK, useHybrid)
	if err != nil {
		o.metrics.ObserveQuestion(telemetry.OutcomeFailed)
		return nil, err
	}
	o.metrics.ObserveStage(models.StageRetrieval, time.Since(retrievalStart))
	o.metrics.ObservePassages(len(passages))

	return o.streamAnswer(ctx, question, passages, key)
}

// StreamAnswer generates an answer for a question over already-retrieved
// passages. No response cache write happens on this path; the request
// parameters the cache key depends on are not known here.
func (o *Orchestrator) StreamAnswer(ctx context.Context, question string, passages []models.RankedResult) (Stream, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: question must not be empty", models.ErrInvalidArgument)
	}
	return o.streamAnswer(ctx, question, passages, "")
}

func (o *Orchestrator) streamAnswer(ctx context.Context, question string, passages []models.RankedResult, cacheKey string) (Stream, error) {
	prompt := BuildPrompt(question, passages)
	upstream, err := o.gen.StreamCompletion(ctx, prompt)
	if err != nil {
		o.metrics.ObserveQuestion(telemetry.OutcomeFailed)
		return nil, models.NewStageError(models.StageGeneration, err)
	}
	return &generationStream{
		o:        o,
		ctx:      ctx,
		upstream: upstream,
		question: question,
		passages: passages,
		cacheKey: cacheKey,
		started:  time.Now(),
	}, nil
}

// generationStream adapts the provider stream, accumulating the full text for
// the final answer and cache write.
type generationStream struct {
	o        *Orchestrator
	ctx      context.Context
	upstream provider.CompletionStream
	question string
	passages []models.RankedResult
	cacheKey string
	started  time.Time
	buf      strings.Builder
	sawFirst bool
	done     bool
	answer   *models.Answer
}

func (s *generationStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	increment, err := s.upstream.Recv()
	if err == io.EOF {
		s.done = true
		s.finish()
		return "", io.EOF
	}
	if err != nil {
		s.done = true
		if s.ctx.Err() != nil {
			s.o.metrics.ObserveQuestion(telemetry.OutcomeCanceled)
		} else {
			s.o.metrics.ObserveQuestion(telemetry.OutcomeFailed)
		}
		return "", models.NewStageError(models.StageGeneration, err)
	}
	if !s.sawFirst {
		s.sawFirst = true
		s.o.metrics.ObserveFirstToken(time.Since(s.started))
	}
	s.buf.WriteString(increment)
	return increment, nil
}

// finish runs only on normal stream termination. A cancelled or failed stream
// never reaches it, so incomplete answers are never cached.
func (s *generationStream) finish() {
	s.o.metrics.ObserveStage("streaming", time.Since(s.started))
	s.o.metrics.ObserveQuestion(telemetry.OutcomeGenerated)

	s.answer = &models.Answer{
		ID:        uuid.NewString(),
		Question:  s.question,
		Text:      s.buf.String(),
		Citations: ExtractCitations(s.passages, s.o.cfg.MaxCitations, s.o.cfg.CitationURL),
		Cached:    false,
		CreatedAt: time.Now().UTC(),
	}
	if s.cacheKey == "" {
		return
	}
	encoded, err := json.Marshal(cachedAnswer{Text: s.answer.Text, Citations: s.answer.Citations})
	if err != nil {
		s.o.logger.Printf("encode answer for cache: %v", err)
		return
	}
	s.o.cache.Set(s.ctx, s.cacheKey, string(encoded), s.o.respTTL)
}

func (s *generationStream) Close() error { return s.upstream.Close() }

func (s *generationStream) Answer() *models.Answer { return s.answer }

// cachedStream replays a cached answer as a single increment.
type cachedStream struct {
	answer *models.Answer
	text   string
	sent   bool
}

func newCachedStream(question string, payload cachedAnswer) *cachedStream {
	return &cachedStream{
		text: payload.Text,
		answer: &models.Answer{
			ID:        uuid.NewString(),
			Question:  question,
			Text:      payload.Text,
			Citations: payload.Citations,
			Cached:    true,
			CreatedAt: time.Now().UTC(),
		},
	}
}

func (s *cachedStream) Recv() (string, error) {
	if s.sent {
		return "", io.EOF
	}
	s.sent = true
	return s.text, nil
}

func (s *cachedStream) Close() error { return nil }

func (s *cachedStream) Answer() *models.Answer { return s.answer }
