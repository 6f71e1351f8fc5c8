// Package session owns the per-connection state machine: it feeds inbound
// audio to the utterance detector, dispatches turn pipelines, and enforces
// barge-in, idle timeout, and exit handling.
package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vocalis-ai/vocalis/audio"
	"github.com/vocalis-ai/vocalis/config"
	"github.com/vocalis-ai/vocalis/detector"
	"github.com/vocalis-ai/vocalis/internal/metrics"
	"github.com/vocalis-ai/vocalis/pipeline"
	"github.com/vocalis-ai/vocalis/provider"
	"github.com/vocalis-ai/vocalis/types"
)

// Sink is the outbound half of the device connection. Implementations are
// called from the session event loop only.
type Sink interface {
	// SendTranscript delivers the recognized user text.
	SendTranscript(text string) error
	// SendChunk delivers one reply chunk (state message plus audio).
	SendChunk(chunk pipeline.ReplyChunk) error
	// SendReplyEnd marks the end of reply playback. aborted is true when
	// the reply was cut short by barge-in.
	SendReplyEnd(aborted bool) error
	// Close tears the transport down with a reason for the log.
	Close(reason string) error
}

type controlKind int

const (
	controlAbort controlKind = iota
	controlListen
	controlClose
)

type controlMsg struct {
	kind   controlKind
	reason string
}

// Session is one device connection. All mutable state is owned by the event
// loop goroutine; external callers interact through channels.
type Session struct {
	ID       string
	DeviceID string

	cfg    config.SessionConfig
	format audio.Format
	set    *provider.Set
	sink   Sink
	det    *detector.Detector
	pipe   *pipeline.Pipeline
	logger *zap.Logger

	frames  chan []byte
	control chan controlMsg
	done    chan struct{}

	state    stateVar
	onClosed func()

	// loop-owned
	turns []types.Turn
}

func newSession(id, deviceID string, cfg *config.Config, format audio.Format, set *provider.Set, sink Sink, logger *zap.Logger) *Session {
	logger = logger.With(
		zap.String("component", "session"),
		zap.String("session_id", id),
		zap.String("device_id", deviceID),
	)
	buffer := cfg.Session.FrameBuffer
	if buffer <= 0 {
		buffer = 256
	}
	return &Session{
		ID:       id,
		DeviceID: deviceID,
		cfg:      cfg.Session,
		format:   format,
		set:      set,
		sink:     sink,
		det:      detector.New(set.VAD, cfg.VAD, logger),
		pipe:     pipeline.New(set, cfg.Session, format, deviceID, logger),
		logger:   logger,
		frames:   make(chan []byte, buffer),
		control:  make(chan controlMsg, 8),
		done:     make(chan struct{}),
	}
}

// State reports the current lifecycle phase.
func (s *Session) State() State { return s.state.get() }

// Done closes when the session has fully shut down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Format is the audio format negotiated for this connection.
func (s *Session) Format() audio.Format { return s.format }

// HandleFrame hands one inbound audio frame to the event loop. Frames are
// dropped, not blocked on, when the loop falls behind.
func (s *Session) HandleFrame(frame []byte) error {
	select {
	case <-s.done:
		return types.NewError(types.ErrSessionClosed, "session is closed")
	default:
	}
	metrics.FramesReceived.Inc()
	select {
	case s.frames <- frame:
		return nil
	default:
		s.logger.Warn("frame buffer full, dropping frame")
		return nil
	}
}

// Abort requests cancellation of the current reply, the client-driven
// barge-in path.
func (s *Session) Abort() {
	s.sendControl(controlMsg{kind: controlAbort})
}

// NotifyListening records client listen-state activity so manual
// push-to-talk keeps the idle timer alive.
func (s *Session) NotifyListening() {
	s.sendControl(controlMsg{kind: controlListen})
}

// RequestClose asks the event loop to shut the session down.
func (s *Session) RequestClose(reason string) {
	s.sendControl(controlMsg{kind: controlClose, reason: reason})
}

func (s *Session) sendControl(msg controlMsg) {
	select {
	case s.control <- msg:
	case <-s.done:
	}
}

// run is the event loop. It exits only through close.
func (s *Session) run(ctx context.Context) {
	s.state.set(StateIdle)
	s.seedHistory(ctx)

	var (
		exec       *pipeline.Execution
		chunks     <-chan pipeline.ReplyChunk
		transcript <-chan string
		cancelTurn context.CancelFunc
		draining   bool // cancelled turn still winding down
		closeAfter bool // farewell delivered, close once playback ends
		pending    *detector.Utterance
	)
	defer func() {
		if cancelTurn != nil {
			cancelTurn()
		}
	}()

	idle := time.NewTimer(s.cfg.NoVoiceTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			s.close("server shutdown")
			return

		case <-idle.C:
			// The timer can fire mid-utterance; wait out the remaining
			// quiet span instead of cutting the speaker off.
			if quiet := s.det.Idle(time.Now()); quiet > 0 && quiet < s.cfg.NoVoiceTimeout {
				idle.Reset(s.cfg.NoVoiceTimeout - quiet)
				continue
			}
			s.logger.Info("closing idle session",
				zap.Duration("timeout", s.cfg.NoVoiceTimeout))
			s.close("no voice activity")
			return

		case msg := <-s.control:
			switch msg.kind {
			case controlAbort:
				if chunks != nil && !draining {
					cancelTurn()
					draining = true
					metrics.BargeInsTotal.Inc()
					s.notifyReplyEnd(true)
					s.state.set(StateIdle)
				}
			case controlListen:
				resetTimer(idle, s.cfg.NoVoiceTimeout)
			case controlClose:
				s.close(msg.reason)
				return
			}

		case frame := <-s.frames:
			now := time.Now()
			for _, ev := range s.det.Feed(ctx, frame, now) {
				switch ev.Type {
				case detector.SpeechStart:
					resetTimer(idle, s.cfg.NoVoiceTimeout)
					if s.state.get() == StateResponding && !draining {
						cancelTurn()
						draining = true
						metrics.BargeInsTotal.Inc()
						s.notifyReplyEnd(true)
						s.logger.Debug("barge-in, reply cancelled")
					}
					s.state.set(StateListening)

				case detector.SpeechEnd:
					if ev.Utterance == nil {
						if chunks == nil {
							s.state.set(StateIdle)
						}
						continue
					}
					if chunks != nil {
						// At most one turn in flight; hold the newest
						// utterance until the old run drains.
						pending = ev.Utterance
						continue
					}
					exec, chunks, transcript, cancelTurn = s.startTurn(ctx, ev.Utterance)
					draining = false
				}
			}

		case text, ok := <-transcript:
			transcript = nil
			if ok && !draining {
				if err := s.sink.SendTranscript(text); err != nil {
					s.logger.Warn("failed to send transcript", zap.Error(err))
				}
			}

		case chunk, ok := <-chunks:
			if !ok {
				wasDraining := draining
				turn, err := exec.Turn()
				if err != nil {
					s.logger.Warn("turn ended with stage error", zap.Error(err))
				}
				if turn != nil && !wasDraining {
					s.turns = append(s.turns, *turn)
					s.logger.Info("turn completed",
						zap.String("turn_id", turn.ID),
						zap.Int("chunks", turn.Chunks),
						zap.Duration("first_chunk_lag", turn.FirstChunkLag))
				}
				cancelTurn()
				exec, chunks, transcript, cancelTurn = nil, nil, nil, nil
				draining = false
				if !wasDraining {
					s.notifyReplyEnd(false)
				}
				if closeAfter {
					s.close("exit command")
					return
				}
				if pending != nil {
					exec, chunks, transcript, cancelTurn = s.startTurn(ctx, pending)
					pending = nil
				} else if s.state.get() == StateResponding {
					s.state.set(StateIdle)
				}
				continue
			}
			if draining {
				continue
			}
			if chunk.Farewell {
				closeAfter = true
			}
			if err := s.sink.SendChunk(chunk); err != nil {
				s.logger.Warn("transport send failed", zap.Error(err))
				s.close("transport error")
				return
			}
		}
	}
}

// startTurn dispatches the pipeline for one completed utterance.
func (s *Session) startTurn(ctx context.Context, utt *detector.Utterance) (*pipeline.Execution, <-chan pipeline.ReplyChunk, <-chan string, context.CancelFunc) {
	s.state.set(StateResponding)
	tctx, cancel := context.WithCancel(ctx)
	exec := s.pipe.Run(tctx, utt, providerHistory(s.cfg.SystemPrompt, s.turns))
	return exec, exec.Chunks, exec.Transcript, cancel
}

func (s *Session) notifyReplyEnd(aborted bool) {
	if err := s.sink.SendReplyEnd(aborted); err != nil {
		s.logger.Warn("failed to send reply end", zap.Error(err))
	}
}

// close runs the teardown exactly once; the loop returns right after.
func (s *Session) close(reason string) {
	s.state.set(StateClosing)
	if err := s.sink.Close(reason); err != nil {
		s.logger.Debug("sink close failed", zap.Error(err))
	}
	s.state.set(StateClosed)
	s.logger.Info("session closed", zap.String("reason", reason))
	close(s.done)
	if s.onClosed != nil {
		s.onClosed()
	}
}

// seedHistory replays the device's stored exchanges so a reconnecting
// device resumes with context. Failures degrade to an empty history.
func (s *Session) seedHistory(ctx context.Context) {
	if s.set.Memory == nil {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	msgs, err := s.set.Memory.Recall(rctx, s.DeviceID)
	if err != nil {
		s.logger.Warn("failed to recall history", zap.Error(err))
		return
	}
	s.turns = recalledTurns(msgs)
	if len(s.turns) > 0 {
		s.logger.Info("seeded history from memory", zap.Int("turns", len(s.turns)))
	}
}

// recalledTurns pairs an oldest-first message list back into turns.
func recalledTurns(msgs []provider.Message) []types.Turn {
	var turns []types.Turn
	var open bool
	for _, m := range msgs {
		switch m.Role {
		case "user":
			turns = append(turns, types.Turn{UserText: m.Content})
			open = true
		case "assistant":
			if !open {
				turns = append(turns, types.Turn{})
			}
			turns[len(turns)-1].AssistantText = m.Content
			open = false
		}
	}
	return turns
}

// providerHistory flattens completed turns into the message list the LLM
// consumes.
func providerHistory(systemPrompt string, turns []types.Turn) []provider.Message {
	history := types.History(systemPrompt, turns)
	out := make([]provider.Message, len(history))
	for i, m := range history {
		out[i] = provider.Message{Role: string(m.Role), Content: m.Content}
	}
	return out
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
