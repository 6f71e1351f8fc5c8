package server_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vocalis-ai/vocalis/audio"
	"github.com/vocalis-ai/vocalis/config"
	"github.com/vocalis-ai/vocalis/provider"
	"github.com/vocalis-ai/vocalis/server"
	"github.com/vocalis-ai/vocalis/session"
)

type markerVAD struct{}

func (markerVAD) Score(_ context.Context, frame []byte) (float64, error) {
	if len(frame) > 0 && frame[0] == 1 {
		return 0.9, nil
	}
	return 0.1, nil
}
func (markerVAD) Name() string { return "marker" }

type stubASR struct{ text string }

func (s *stubASR) Transcribe(context.Context, []byte, audio.Format) (string, error) {
	return s.text, nil
}
func (s *stubASR) Name() string { return "stub" }

type stubLLM struct{ reply string }

func (s *stubLLM) Generate(ctx context.Context, _ []provider.Message, _ string) (<-chan string, error) {
	out := make(chan string, 1)
	out <- s.reply
	close(out)
	return out, nil
}
func (s *stubLLM) Name() string { return "stub" }

type stubTTS struct{}

func (stubTTS) Synthesize(_ context.Context, text string) ([]byte, error) {
	return []byte(text), nil
}
func (stubTTS) Name() string { return "stub" }

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Session.NoVoiceTimeout = 5 * time.Second
	cfg.VAD = config.VADConfig{
		Threshold:          0.5,
		MinSilence:         time.Millisecond,
		PreSpeechFrames:    2,
		MinUtteranceFrames: 2,
	}
	cfg.Providers = config.ProviderConfig{
		VAD: "marker", ASR: "stub", LLM: "stub", TTS: "stub",
		Memory: "none", Intent: "none",
	}
	return cfg
}

func startServer(t *testing.T, cfg *config.Config) *httptest.Server {
	return startServerASR(t, cfg, "hello")
}

// startServerASR wires a full server around stub providers, with the given
// fixed transcript standing in for recognition.
func startServerASR(t *testing.T, cfg *config.Config, transcript string) *httptest.Server {
	t.Helper()
	reg := provider.NewRegistry()
	reg.RegisterVAD("marker", func(*config.Config, *zap.Logger) (provider.VAD, error) {
		return markerVAD{}, nil
	})
	reg.RegisterASR("stub", func(*config.Config, *zap.Logger) (provider.ASR, error) {
		return &stubASR{text: transcript}, nil
	})
	reg.RegisterLLM("stub", func(*config.Config, *zap.Logger) (provider.LLM, error) {
		return &stubLLM{reply: "Hi there."}, nil
	})
	reg.RegisterTTS("stub", func(*config.Config, *zap.Logger) (provider.TTS, error) {
		return stubTTS{}, nil
	})

	manager := session.NewManager(cfg, reg, nil)
	srv := server.New(cfg, manager, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ts := httptest.NewServer(srv.Handler(ctx))
	t.Cleanup(ts.Close)
	return ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/voice"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

type wireMessage struct {
	Type        string          `json:"type"`
	SessionID   string          `json:"session_id"`
	Text        string          `json:"text"`
	State       string          `json:"state"`
	AudioParams json.RawMessage `json:"audio_params"`
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

// readUntil reads messages until pred accepts one, counting binary frames
// passed over along the way.
func readUntil(t *testing.T, conn *websocket.Conn, pred func(wireMessage) bool) (wireMessage, int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	binary := 0
	for {
		typ, data, err := conn.Read(ctx)
		require.NoError(t, err)
		if typ == websocket.MessageBinary {
			binary++
			continue
		}
		var msg wireMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		if pred(msg) {
			return msg, binary
		}
	}
}

func sendHello(t *testing.T, conn *websocket.Conn) wireMessage {
	t.Helper()
	writeJSON(t, conn, map[string]any{
		"type":      "hello",
		"device_id": "dev-1",
		"audio_params": map[string]any{
			"format":         "pcm16",
			"sample_rate":    16000,
			"channels":       1,
			"frame_duration": 20,
		},
	})
	msg, _ := readUntil(t, conn, func(m wireMessage) bool { return m.Type == "hello" })
	return msg
}

func speak(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	speech := make([]byte, 8)
	speech[0] = 1
	for i := 0; i < 5; i++ {
		require.NoError(t, conn.Write(ctx, websocket.MessageBinary, speech))
	}
	silence := make([]byte, 8)
	for i := 0; i < 3; i++ {
		time.Sleep(3 * time.Millisecond)
		require.NoError(t, conn.Write(ctx, websocket.MessageBinary, silence))
	}
}

func TestServer_Handshake(t *testing.T) {
	ts := startServer(t, testConfig())
	conn := dial(t, ts)

	welcome := sendHello(t, conn)
	assert.NotEmpty(t, welcome.SessionID)
	assert.NotNil(t, welcome.AudioParams)
}

func TestServer_RejectsNonHelloFirstMessage(t *testing.T) {
	ts := startServer(t, testConfig())
	conn := dial(t, ts)

	writeJSON(t, conn, map[string]any{"type": "abort"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
}

func TestServer_VoiceRoundTrip(t *testing.T) {
	ts := startServer(t, testConfig())
	conn := dial(t, ts)
	sendHello(t, conn)

	speak(t, conn)

	stt, _ := readUntil(t, conn, func(m wireMessage) bool { return m.Type == "stt" })
	assert.Equal(t, "hello", stt.Text)

	start, _ := readUntil(t, conn, func(m wireMessage) bool {
		return m.Type == "tts" && m.State == "sentence_start"
	})
	assert.Equal(t, "Hi there.", start.Text)

	_, frames := readUntil(t, conn, func(m wireMessage) bool {
		return m.Type == "tts" && m.State == "sentence_end"
	})
	assert.Greater(t, frames, 0)

	readUntil(t, conn, func(m wireMessage) bool {
		return m.Type == "tts" && m.State == "stop"
	})
}

func TestServer_ExitCommandDeliversFarewell(t *testing.T) {
	cfg := testConfig()
	cfg.Session.ExitPhrases = []string{"goodbye"}
	cfg.Session.Farewell = "Bye for now."
	ts := startServerASR(t, cfg, "goodbye")
	conn := dial(t, ts)
	sendHello(t, conn)

	speak(t, conn)

	// The farewell must reach the wire before the connection closes.
	start, _ := readUntil(t, conn, func(m wireMessage) bool {
		return m.Type == "tts" && m.State == "sentence_start"
	})
	assert.Equal(t, "Bye for now.", start.Text)

	readUntil(t, conn, func(m wireMessage) bool {
		return m.Type == "tts" && m.State == "stop"
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestServer_UnknownProviderRefusesConnection(t *testing.T) {
	cfg := testConfig()
	cfg.Providers.ASR = "missing"
	ts := startServer(t, cfg)
	conn := dial(t, ts)

	writeJSON(t, conn, map[string]any{"type": "hello", "device_id": "dev-1"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
}
