package server

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vocalis-ai/vocalis/audio"
	"github.com/vocalis-ai/vocalis/pipeline"
)

// wsSink delivers session output over the WebSocket. Writes run on a
// dedicated goroutine so reply pacing never stalls the session event loop;
// a barged-in reply's queued audio is dropped by epoch.
type wsSink struct {
	conn    *websocket.Conn
	format  audio.Format
	limiter *rate.Limiter
	logger  *zap.Logger

	queue     chan queuedItem
	epoch     atomic.Int64
	ctx       context.Context
	cancel    context.CancelFunc
	closing   chan struct{}
	flushed   chan struct{}
	closeOnce sync.Once
}

// closeDrainTimeout bounds how long Close waits for queued output, the
// farewell of an exit command included, to reach the device.
const closeDrainTimeout = 10 * time.Second

type queuedItem struct {
	epoch int64
	msg   *serverMessage
	chunk *pipeline.ReplyChunk
}

func newWSSink(ctx context.Context, conn *websocket.Conn, format audio.Format, logger *zap.Logger) *wsSink {
	sctx, cancel := context.WithCancel(ctx)
	s := &wsSink{
		conn:    conn,
		format:  format,
		limiter: rate.NewLimiter(rate.Every(format.FrameDuration), 4),
		logger:  logger.With(zap.String("component", "ws_sink")),
		queue:   make(chan queuedItem, 64),
		ctx:     sctx,
		cancel:  cancel,
		closing: make(chan struct{}),
		flushed: make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

// SendTranscript implements session.Sink.
func (s *wsSink) SendTranscript(text string) error {
	return s.enqueue(queuedItem{
		epoch: s.epoch.Load(),
		msg:   &serverMessage{Type: msgSTT, Text: text},
	})
}

// SendChunk implements session.Sink.
func (s *wsSink) SendChunk(chunk pipeline.ReplyChunk) error {
	c := chunk
	return s.enqueue(queuedItem{epoch: s.epoch.Load(), chunk: &c})
}

// SendReplyEnd implements session.Sink. An aborted reply invalidates
// everything still queued for it.
func (s *wsSink) SendReplyEnd(aborted bool) error {
	epoch := s.epoch.Load()
	if aborted {
		epoch = s.epoch.Add(1)
	}
	return s.enqueue(queuedItem{
		epoch: epoch,
		msg:   &serverMessage{Type: msgTTS, State: ttsStop},
	})
}

// Close implements session.Sink. Output already queued for the current
// reply is flushed first so a farewell enqueued just before the session
// closes still reaches the device.
func (s *wsSink) Close(reason string) error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closing)
		select {
		case <-s.flushed:
		case <-time.After(closeDrainTimeout):
		}
		s.cancel()
		err = s.conn.Close(websocket.StatusNormalClosure, reason)
	})
	return err
}

func (s *wsSink) enqueue(item queuedItem) error {
	select {
	case s.queue <- item:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *wsSink) writeLoop() {
	defer close(s.flushed)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.closing:
			s.drain()
			return
		case item := <-s.queue:
			if item.epoch < s.epoch.Load() {
				continue // stale reply, barged in
			}
			if err := s.write(item); err != nil {
				if s.ctx.Err() == nil {
					s.logger.Warn("outbound write failed", zap.Error(err))
				}
				return
			}
		}
	}
}

// drain empties what is already queued before the transport goes away.
// Stale epochs are still skipped: a barged-in reply stays dropped.
func (s *wsSink) drain() {
	for {
		select {
		case item := <-s.queue:
			if item.epoch < s.epoch.Load() {
				continue
			}
			if err := s.write(item); err != nil {
				if s.ctx.Err() == nil {
					s.logger.Warn("outbound write failed during close", zap.Error(err))
				}
				return
			}
		default:
			return
		}
	}
}

func (s *wsSink) write(item queuedItem) error {
	if item.msg != nil {
		return s.writeJSON(*item.msg)
	}
	return s.writeChunk(*item.chunk)
}

// writeChunk sends the sentence state markers around the chunk's audio
// frames, paced to real time.
func (s *wsSink) writeChunk(chunk pipeline.ReplyChunk) error {
	if err := s.writeJSON(serverMessage{Type: msgTTS, State: ttsSentenceStart, Text: chunk.Text}); err != nil {
		return err
	}
	epoch := s.epoch.Load()
	for _, frame := range splitFrames(chunk.Audio, s.format.FrameBytes()) {
		if err := s.limiter.Wait(s.ctx); err != nil {
			return err
		}
		if s.epoch.Load() > epoch {
			// Barged in mid-chunk, stop streaming its audio.
			return nil
		}
		if err := s.conn.Write(s.ctx, websocket.MessageBinary, frame); err != nil {
			return err
		}
	}
	return s.writeJSON(serverMessage{Type: msgTTS, State: ttsSentenceEnd})
}

func (s *wsSink) writeJSON(msg serverMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()
	return s.conn.Write(wctx, websocket.MessageText, data)
}

// splitFrames cuts raw PCM into frame-sized writes. Compressed payloads
// (frameBytes 0) go out as a single message.
func splitFrames(data []byte, frameBytes int) [][]byte {
	if len(data) == 0 {
		return nil
	}
	if frameBytes <= 0 || len(data) <= frameBytes {
		return [][]byte{data}
	}
	frames := make([][]byte, 0, (len(data)+frameBytes-1)/frameBytes)
	for off := 0; off < len(data); off += frameBytes {
		end := off + frameBytes
		if end > len(data) {
			end = len(data)
		}
		frames = append(frames, data[off:end])
	}
	return frames
}
