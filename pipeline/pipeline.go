// Package pipeline drives one user utterance through transcription,
// generation, and synthesis, emitting reply chunks as they become audible.
package pipeline

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vocalis-ai/vocalis/audio"
	"github.com/vocalis-ai/vocalis/config"
	"github.com/vocalis-ai/vocalis/detector"
	"github.com/vocalis-ai/vocalis/internal/metrics"
	"github.com/vocalis-ai/vocalis/provider"
	"github.com/vocalis-ai/vocalis/types"
)

// ReplyChunk is one sentence-sized unit of assistant reply with its audio.
// Audio may be empty when synthesis failed for a chunk that must still be
// delivered (farewell, apology).
type ReplyChunk struct {
	Index    int
	Text     string
	Audio    []byte
	Final    bool // no further chunks follow, when known at emit time
	Farewell bool // session closes after playback
}

// Pipeline runs turns for one session. Providers and configuration are fixed
// at construction.
type Pipeline struct {
	set      *provider.Set
	cfg      config.SessionConfig
	format   audio.Format
	deviceID string
	logger   *zap.Logger
}

// New builds a per-session pipeline.
func New(set *provider.Set, cfg config.SessionConfig, format audio.Format, deviceID string, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		set:      set,
		cfg:      cfg,
		format:   format,
		deviceID: deviceID,
		logger:   logger.With(zap.String("component", "pipeline")),
	}
}

// Execution is one in-flight turn. Chunks closes when the turn ends; Turn
// then reports the completed exchange, or nil when the turn produced nothing
// worth keeping.
type Execution struct {
	Chunks <-chan ReplyChunk

	// Transcript delivers the recognized user text once ASR finishes, then
	// closes. It stays empty for noise turns.
	Transcript <-chan string

	transcript chan string
	done       chan struct{}
	turn       *types.Turn
	err        error
}

// Turn blocks until the run finishes. A nil turn with nil error means the
// utterance was noise or the run was cancelled.
func (e *Execution) Turn() (*types.Turn, error) {
	<-e.done
	return e.turn, e.err
}

// Run starts the turn in its own goroutine. Cancel ctx to abandon it; no
// chunk is emitted after cancellation is observed.
func (p *Pipeline) Run(ctx context.Context, utt *detector.Utterance, history []provider.Message) *Execution {
	out := make(chan ReplyChunk)
	tch := make(chan string, 1)
	exec := &Execution{
		Chunks:     out,
		Transcript: tch,
		transcript: tch,
		done:       make(chan struct{}),
	}
	go func() {
		defer close(exec.done)
		defer close(out)
		defer close(tch)
		p.run(ctx, utt, history, out, exec)
	}()
	return exec
}

type emitter struct {
	ctx   context.Context
	out   chan<- ReplyChunk
	index int
	texts []string
	first time.Time
}

// send delivers one chunk unless ctx is already done. Reports false when the
// turn is cancelled.
func (em *emitter) send(chunk ReplyChunk) bool {
	chunk.Index = em.index
	select {
	case em.out <- chunk:
		if em.index == 0 {
			em.first = time.Now()
		}
		em.index++
		em.texts = append(em.texts, chunk.Text)
		return true
	case <-em.ctx.Done():
		return false
	}
}

func (p *Pipeline) run(ctx context.Context, utt *detector.Utterance, history []provider.Message, out chan<- ReplyChunk, exec *Execution) {
	started := time.Now()
	em := &emitter{ctx: ctx, out: out}

	text, ok := p.transcribe(ctx, utt, exec)
	if !ok {
		return
	}

	if p.isExitPhrase(text) {
		p.runFarewell(ctx, text, started, em, exec)
		return
	}

	if action := p.resolveIntent(ctx, text); action != nil && action.Response != "" {
		p.runDirect(ctx, text, action, started, em, exec)
		return
	}

	p.runGeneration(ctx, text, history, started, em, exec)
}

// transcribe runs ASR and applies the noise short-circuit.
func (p *Pipeline) transcribe(ctx context.Context, utt *detector.Utterance, exec *Execution) (string, bool) {
	if ctx.Err() != nil {
		metrics.TurnsTotal.WithLabelValues(metrics.OutcomeCancelled).Inc()
		return "", false
	}

	stage := time.Now()
	text, err := p.set.ASR.Transcribe(ctx, utt.Audio, p.format)
	metrics.StageDuration.WithLabelValues("asr").Observe(time.Since(stage).Seconds())
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("transcription failed, dropping turn", zap.Error(err))
			exec.err = err
			metrics.TurnsTotal.WithLabelValues(metrics.OutcomeError).Inc()
		} else {
			metrics.TurnsTotal.WithLabelValues(metrics.OutcomeCancelled).Inc()
		}
		return "", false
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		p.logger.Debug("empty transcript, treating as noise")
		metrics.TurnsTotal.WithLabelValues(metrics.OutcomeNoise).Inc()
		return "", false
	}
	p.logger.Info("utterance transcribed",
		zap.String("text", trimmed),
		zap.Duration("audio", utt.Duration()))
	exec.transcript <- trimmed
	return trimmed, true
}

func (p *Pipeline) isExitPhrase(text string) bool {
	normalized := stripPunctuation(text)
	if normalized == "" {
		return false
	}
	for _, phrase := range p.cfg.ExitPhrases {
		if normalized == stripPunctuation(phrase) {
			return true
		}
	}
	return false
}

// runFarewell emits the single farewell chunk. It is delivered even when
// synthesis fails so the session still closes cleanly.
func (p *Pipeline) runFarewell(ctx context.Context, userText string, started time.Time, em *emitter, exec *Execution) {
	data := p.synthesize(ctx, p.cfg.Farewell)
	if !em.send(ReplyChunk{Text: p.cfg.Farewell, Audio: data, Final: true, Farewell: true}) {
		metrics.TurnsTotal.WithLabelValues(metrics.OutcomeCancelled).Inc()
		return
	}
	metrics.TurnsTotal.WithLabelValues(metrics.OutcomeExit).Inc()
	p.complete(ctx, userText, started, em, exec)
}

// runDirect emits an intent resolver's canned response as the whole reply.
func (p *Pipeline) runDirect(ctx context.Context, userText string, action *provider.Action, started time.Time, em *emitter, exec *Execution) {
	p.logger.Info("intent short-circuit", zap.String("intent", action.Name))
	data := p.synthesize(ctx, action.Response)
	if !em.send(ReplyChunk{Text: action.Response, Audio: data, Final: true}) {
		metrics.TurnsTotal.WithLabelValues(metrics.OutcomeCancelled).Inc()
		return
	}
	metrics.TurnsTotal.WithLabelValues(metrics.OutcomeIntent).Inc()
	p.complete(ctx, userText, started, em, exec)
}

func (p *Pipeline) resolveIntent(ctx context.Context, text string) *provider.Action {
	if p.set.Intent == nil || ctx.Err() != nil {
		return nil
	}
	action, err := p.set.Intent.Resolve(ctx, text)
	if err != nil {
		p.logger.Warn("intent resolution failed, falling through", zap.Error(err))
		return nil
	}
	return action
}

// runGeneration streams the LLM reply, segmenting and synthesizing chunk by
// chunk.
func (p *Pipeline) runGeneration(ctx context.Context, userText string, history []provider.Message, started time.Time, em *emitter, exec *Execution) {
	if ctx.Err() != nil {
		metrics.TurnsTotal.WithLabelValues(metrics.OutcomeCancelled).Inc()
		return
	}

	stage := time.Now()
	stream, err := p.set.LLM.Generate(ctx, history, userText)
	if err != nil {
		p.logger.Warn("generation failed, sending apology", zap.Error(err))
		exec.err = err
		data := p.synthesize(ctx, p.cfg.Apology)
		if em.send(ReplyChunk{Text: p.cfg.Apology, Audio: data, Final: true}) {
			metrics.TurnsTotal.WithLabelValues(metrics.OutcomeError).Inc()
			p.complete(ctx, userText, started, em, exec)
		}
		return
	}

	seg := NewSegmenter(p.cfg.MaxChunkLen)
	firstFragment := true
	for fragment := range stream {
		if firstFragment {
			metrics.StageDuration.WithLabelValues("llm_first_fragment").Observe(time.Since(stage).Seconds())
			firstFragment = false
		}
		if ctx.Err() != nil {
			metrics.TurnsTotal.WithLabelValues(metrics.OutcomeCancelled).Inc()
			return
		}
		for _, chunk := range seg.Push(fragment) {
			if !p.emitSynthesized(ctx, chunk, false, em) {
				metrics.TurnsTotal.WithLabelValues(metrics.OutcomeCancelled).Inc()
				return
			}
		}
	}
	if ctx.Err() != nil {
		metrics.TurnsTotal.WithLabelValues(metrics.OutcomeCancelled).Inc()
		return
	}
	if rest := seg.Flush(); rest != "" {
		if !p.emitSynthesized(ctx, rest, true, em) {
			metrics.TurnsTotal.WithLabelValues(metrics.OutcomeCancelled).Inc()
			return
		}
	}

	if em.index == 0 {
		metrics.TurnsTotal.WithLabelValues(metrics.OutcomeNoise).Inc()
		return
	}
	metrics.TurnsTotal.WithLabelValues(metrics.OutcomeCompleted).Inc()
	p.complete(ctx, userText, started, em, exec)
}

// emitSynthesized synthesizes one chunk and sends it. A synthesis failure
// skips the chunk but keeps the turn going. Reports false on cancellation.
func (p *Pipeline) emitSynthesized(ctx context.Context, text string, final bool, em *emitter) bool {
	if ctx.Err() != nil {
		return false
	}
	stage := time.Now()
	data, err := p.set.TTS.Synthesize(ctx, text)
	metrics.StageDuration.WithLabelValues("tts").Observe(time.Since(stage).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Warn("synthesis failed, skipping chunk",
			zap.String("text", text), zap.Error(err))
		return true
	}
	return em.send(ReplyChunk{Text: text, Audio: data, Final: final})
}

// synthesize is the best-effort variant for chunks that are delivered even
// without audio.
func (p *Pipeline) synthesize(ctx context.Context, text string) []byte {
	if ctx.Err() != nil {
		return nil
	}
	stage := time.Now()
	data, err := p.set.TTS.Synthesize(ctx, text)
	metrics.StageDuration.WithLabelValues("tts").Observe(time.Since(stage).Seconds())
	if err != nil {
		p.logger.Warn("synthesis failed, delivering chunk without audio",
			zap.String("text", text), zap.Error(err))
		return nil
	}
	return data
}

// complete records the turn and updates memory. Memory is fire-and-forget
// and skipped on cancellation.
func (p *Pipeline) complete(ctx context.Context, userText string, started time.Time, em *emitter, exec *Execution) {
	assistantText := joinChunks(em.texts)
	now := time.Now()
	lag := em.first.Sub(started)
	metrics.FirstChunkLatency.Observe(lag.Seconds())

	exec.turn = &types.Turn{
		ID:            types.NewTurnID(),
		UserText:      userText,
		AssistantText: assistantText,
		StartedAt:     started,
		CompletedAt:   now,
		Chunks:        em.index,
		FirstChunkLag: lag,
	}

	if p.set.Memory == nil || ctx.Err() != nil || assistantText == "" {
		return
	}
	mem := p.set.Memory
	deviceID := p.deviceID
	logger := p.logger
	go func() {
		mctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mem.Remember(mctx, deviceID, userText, assistantText); err != nil {
			logger.Warn("memory update failed", zap.Error(err))
		}
	}()
}

func joinChunks(texts []string) string {
	switch len(texts) {
	case 0:
		return ""
	case 1:
		return texts[0]
	}
	total := 0
	for _, t := range texts {
		total += len(t) + 1
	}
	b := make([]byte, 0, total)
	for i, t := range texts {
		if i > 0 {
			b = append(b, ' ')
		}
		b = append(b, t...)
	}
	return string(b)
}
