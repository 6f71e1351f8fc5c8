// Package detector turns a per-frame voice activity score into utterance
// boundary events, buffering the audio between them.
package detector

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vocalis-ai/vocalis/config"
	"github.com/vocalis-ai/vocalis/provider"
)

// EventType identifies an utterance boundary.
type EventType int

const (
	// SpeechStart fires once when voice activity begins.
	SpeechStart EventType = iota
	// SpeechEnd fires when silence has persisted past the configured
	// threshold. Utterance is nil when the segment was too short to keep.
	SpeechEnd
)

// Event is one utterance boundary.
type Event struct {
	Type      EventType
	At        time.Time
	Utterance *Utterance
}

// Utterance is the buffered audio of one continuous speech segment.
type Utterance struct {
	Audio []byte
	Start time.Time
	End   time.Time
}

// Duration reports the buffered span.
func (u *Utterance) Duration() time.Duration {
	return u.End.Sub(u.Start)
}

// Detector endpoints the inbound frame stream. Not safe for concurrent use;
// the session loop is its sole caller.
type Detector struct {
	vad    provider.VAD
	cfg    config.VADConfig
	logger *zap.Logger

	preSpeech [][]byte // ring of recent frames preceding speech
	buf       []byte
	inSpeech  bool

	speechFrames int
	utterStart   time.Time
	lastSpeech   time.Time
	lastVoice    time.Time // newest voiced frame, anchors the idle clock
	anchored     bool
}

// New builds a detector over the given VAD. A nil logger is replaced with a
// no-op one.
func New(vad provider.VAD, cfg config.VADConfig, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		vad:    vad,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "detector")),
	}
}

// Feed scores one frame and returns any boundary events it produced. VAD
// errors are fail-open: the frame counts as silence.
func (d *Detector) Feed(ctx context.Context, frame []byte, now time.Time) []Event {
	if !d.anchored {
		d.lastVoice = now
		d.anchored = true
	}

	score, err := d.vad.Score(ctx, frame)
	if err != nil {
		d.logger.Warn("vad score failed, treating frame as silence", zap.Error(err))
		score = 0
	}
	speech := score >= d.cfg.Threshold

	if !d.inSpeech {
		if !speech {
			d.pushPreSpeech(frame)
			return nil
		}
		return d.begin(frame, now)
	}

	d.buf = append(d.buf, frame...)
	if speech {
		d.lastSpeech = now
		d.lastVoice = now
		d.speechFrames++
		return nil
	}
	if now.Sub(d.lastSpeech) >= d.cfg.MinSilence {
		return d.finish(now)
	}
	return nil
}

// begin opens an utterance, seeding the buffer with the pre-speech ring so
// the first syllable is not clipped.
func (d *Detector) begin(frame []byte, now time.Time) []Event {
	size := len(frame)
	for _, f := range d.preSpeech {
		size += len(f)
	}
	d.buf = make([]byte, 0, size)
	for _, f := range d.preSpeech {
		d.buf = append(d.buf, f...)
	}
	d.buf = append(d.buf, frame...)
	d.preSpeech = d.preSpeech[:0]

	d.inSpeech = true
	d.utterStart = now
	d.lastSpeech = now
	d.lastVoice = now
	d.speechFrames = 1
	return []Event{{Type: SpeechStart, At: now}}
}

// finish closes the utterance. Segments shorter than MinUtteranceFrames are
// dropped as noise; the SpeechEnd event then carries no utterance.
func (d *Detector) finish(now time.Time) []Event {
	ev := Event{Type: SpeechEnd, At: now}
	if d.speechFrames >= d.cfg.MinUtteranceFrames {
		ev.Utterance = &Utterance{Audio: d.buf, Start: d.utterStart, End: now}
	} else {
		d.logger.Debug("dropping short segment",
			zap.Int("speech_frames", d.speechFrames))
	}

	d.inSpeech = false
	d.buf = nil
	d.speechFrames = 0
	return []Event{ev}
}

func (d *Detector) pushPreSpeech(frame []byte) {
	if d.cfg.PreSpeechFrames <= 0 {
		return
	}
	f := make([]byte, len(frame))
	copy(f, frame)
	d.preSpeech = append(d.preSpeech, f)
	if len(d.preSpeech) > d.cfg.PreSpeechFrames {
		d.preSpeech = d.preSpeech[1:]
	}
}

// Idle reports how long it has been since the last voiced frame. Before
// any frame is seen it reports zero.
func (d *Detector) Idle(now time.Time) time.Duration {
	if !d.anchored {
		return 0
	}
	return now.Sub(d.lastVoice)
}
