package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocalis-ai/vocalis/audio"
	"github.com/vocalis-ai/vocalis/config"
	"github.com/vocalis-ai/vocalis/detector"
	"github.com/vocalis-ai/vocalis/provider"
)

type stubASR struct {
	text string
	err  error
}

func (s *stubASR) Transcribe(context.Context, []byte, audio.Format) (string, error) {
	return s.text, s.err
}
func (s *stubASR) Name() string { return "stub" }

type stubLLM struct {
	fragments []string
	err       error
}

func (s *stubLLM) Generate(ctx context.Context, _ []provider.Message, _ string) (<-chan string, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make(chan string)
	go func() {
		defer close(out)
		for _, f := range s.fragments {
			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
func (s *stubLLM) Name() string { return "stub" }

type stubTTS struct {
	err    error
	failOn map[string]bool
	calls  []string
}

func (s *stubTTS) Synthesize(_ context.Context, text string) ([]byte, error) {
	s.calls = append(s.calls, text)
	if s.err != nil {
		return nil, s.err
	}
	if s.failOn[text] {
		return nil, errors.New("synthesis refused")
	}
	return []byte(text), nil
}
func (s *stubTTS) Name() string { return "stub" }

type stubIntent struct {
	action *provider.Action
	err    error
}

func (s *stubIntent) Resolve(context.Context, string) (*provider.Action, error) {
	return s.action, s.err
}
func (s *stubIntent) Name() string { return "stub" }

type recordingMemory struct {
	ch chan [2]string
}

func (m *recordingMemory) Remember(_ context.Context, _, user, assistant string) error {
	m.ch <- [2]string{user, assistant}
	return nil
}
func (m *recordingMemory) Recall(context.Context, string) ([]provider.Message, error) {
	return nil, nil
}
func (m *recordingMemory) Name() string { return "stub" }

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		ExitPhrases: []string{"goodbye", "再见"},
		Farewell:    "Bye for now.",
		Apology:     "Sorry, I could not think of a reply.",
		MaxChunkLen: 120,
	}
}

func testUtterance() *detector.Utterance {
	now := time.Now()
	return &detector.Utterance{
		Audio: make([]byte, 3200),
		Start: now.Add(-2 * time.Second),
		End:   now,
	}
}

func newPipeline(set *provider.Set) *Pipeline {
	return New(set, testSessionConfig(), audio.DefaultFormat(), "dev-1", nil)
}

func collect(t *testing.T, exec *Execution) []ReplyChunk {
	t.Helper()
	var chunks []ReplyChunk
	for c := range exec.Chunks {
		chunks = append(chunks, c)
	}
	return chunks
}

func TestRun_StreamedReply(t *testing.T) {
	set := &provider.Set{
		ASR: &stubASR{text: "tell me a joke"},
		LLM: &stubLLM{fragments: []string{"Why did the gopher ", "cross the road? ", "To garbage collect!"}},
		TTS: &stubTTS{},
	}
	exec := newPipeline(set).Run(context.Background(), testUtterance(), nil)
	chunks := collect(t, exec)

	require.Len(t, chunks, 3)
	assert.Equal(t, "Why did the gopher cross the road?", chunks[0].Text)
	assert.Equal(t, "To garbage collect!", chunks[2].Text)
	assert.True(t, chunks[2].Final)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, []byte(c.Text), c.Audio)
		assert.False(t, c.Farewell)
	}

	turn, err := exec.Turn()
	require.NoError(t, err)
	require.NotNil(t, turn)
	assert.Equal(t, "tell me a joke", turn.UserText)
	assert.Equal(t, "Why did the gopher cross the road? To garbage collect!", turn.AssistantText)
	assert.Equal(t, 3, turn.Chunks)
}

func TestRun_Deterministic(t *testing.T) {
	run := func() []ReplyChunk {
		set := &provider.Set{
			ASR: &stubASR{text: "hello"},
			LLM: &stubLLM{fragments: []string{"Hi there. ", "How can I help?"}},
			TTS: &stubTTS{},
		}
		return collect(t, newPipeline(set).Run(context.Background(), testUtterance(), nil))
	}

	first := run()
	second := run()
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Text, second[i].Text)
		assert.Equal(t, first[i].Audio, second[i].Audio)
	}
}

func TestRun_EmptyTranscriptIsNoise(t *testing.T) {
	set := &provider.Set{
		ASR: &stubASR{text: "   "},
		LLM: &stubLLM{fragments: []string{"should never run"}},
		TTS: &stubTTS{},
	}
	exec := newPipeline(set).Run(context.Background(), testUtterance(), nil)
	chunks := collect(t, exec)

	assert.Empty(t, chunks)
	turn, err := exec.Turn()
	require.NoError(t, err)
	assert.Nil(t, turn)
}

func TestRun_ASRFailureDropsTurn(t *testing.T) {
	set := &provider.Set{
		ASR: &stubASR{err: errors.New("no model")},
		LLM: &stubLLM{fragments: []string{"should never run"}},
		TTS: &stubTTS{},
	}
	exec := newPipeline(set).Run(context.Background(), testUtterance(), nil)
	chunks := collect(t, exec)

	assert.Empty(t, chunks)
	turn, err := exec.Turn()
	require.Error(t, err)
	assert.Nil(t, turn)
}

func TestRun_ExitPhrase(t *testing.T) {
	set := &provider.Set{
		ASR: &stubASR{text: "Goodbye!"},
		LLM: &stubLLM{err: errors.New("llm down")},
		TTS: &stubTTS{},
	}
	exec := newPipeline(set).Run(context.Background(), testUtterance(), nil)
	chunks := collect(t, exec)

	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].Farewell)
	assert.True(t, chunks[0].Final)
	assert.Equal(t, "Bye for now.", chunks[0].Text)
	assert.Equal(t, []byte("Bye for now."), chunks[0].Audio)
}

func TestRun_ExitPhraseSurvivesTTSFailure(t *testing.T) {
	set := &provider.Set{
		ASR: &stubASR{text: "goodbye"},
		LLM: &stubLLM{err: errors.New("llm down")},
		TTS: &stubTTS{err: errors.New("tts down")},
	}
	exec := newPipeline(set).Run(context.Background(), testUtterance(), nil)
	chunks := collect(t, exec)

	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].Farewell)
	assert.Empty(t, chunks[0].Audio)
}

func TestRun_LLMFailureSendsApology(t *testing.T) {
	set := &provider.Set{
		ASR: &stubASR{text: "hello"},
		LLM: &stubLLM{err: errors.New("llm down")},
		TTS: &stubTTS{},
	}
	exec := newPipeline(set).Run(context.Background(), testUtterance(), nil)
	chunks := collect(t, exec)

	require.Len(t, chunks, 1)
	assert.Equal(t, "Sorry, I could not think of a reply.", chunks[0].Text)
	assert.False(t, chunks[0].Farewell)

	turn, err := exec.Turn()
	require.Error(t, err)
	require.NotNil(t, turn)
	assert.Equal(t, 1, turn.Chunks)
}

func TestRun_TTSFailureSkipsChunk(t *testing.T) {
	set := &provider.Set{
		ASR: &stubASR{text: "hello"},
		LLM: &stubLLM{fragments: []string{"One. Two. Three."}},
		TTS: &stubTTS{failOn: map[string]bool{"Two.": true}},
	}
	exec := newPipeline(set).Run(context.Background(), testUtterance(), nil)
	chunks := collect(t, exec)

	require.Len(t, chunks, 2)
	assert.Equal(t, "One.", chunks[0].Text)
	assert.Equal(t, "Three.", chunks[1].Text)
	// Indexes stay contiguous on the wire.
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, 1, chunks[1].Index)
}

func TestRun_IntentShortCircuit(t *testing.T) {
	set := &provider.Set{
		ASR:    &stubASR{text: "turn on the lights"},
		LLM:    &stubLLM{fragments: []string{"should never run"}},
		TTS:    &stubTTS{},
		Intent: &stubIntent{action: &provider.Action{Name: "lights_on", Response: "Lights on."}},
	}
	exec := newPipeline(set).Run(context.Background(), testUtterance(), nil)
	chunks := collect(t, exec)

	require.Len(t, chunks, 1)
	assert.Equal(t, "Lights on.", chunks[0].Text)
	assert.False(t, chunks[0].Farewell)
}

func TestRun_IntentErrorFallsThrough(t *testing.T) {
	set := &provider.Set{
		ASR:    &stubASR{text: "hello"},
		LLM:    &stubLLM{fragments: []string{"Plain reply."}},
		TTS:    &stubTTS{},
		Intent: &stubIntent{err: errors.New("resolver down")},
	}
	exec := newPipeline(set).Run(context.Background(), testUtterance(), nil)
	chunks := collect(t, exec)

	require.Len(t, chunks, 1)
	assert.Equal(t, "Plain reply.", chunks[0].Text)
}

func TestRun_CancelAfterFirstChunk(t *testing.T) {
	tts := &stubTTS{}
	set := &provider.Set{
		ASR: &stubASR{text: "hello"},
		LLM: &stubLLM{fragments: []string{"One. ", "Two. ", "Three."}},
		TTS: tts,
	}
	ctx, cancel := context.WithCancel(context.Background())
	exec := newPipeline(set).Run(ctx, testUtterance(), nil)

	first, open := <-exec.Chunks
	require.True(t, open)
	assert.Equal(t, "One.", first.Text)
	cancel()

	// Turn blocks until the run goroutine has exited, so anything still in
	// the channel afterwards would be a post-cancellation emission.
	turn, err := exec.Turn()
	require.NoError(t, err)
	assert.Nil(t, turn)

	var rest []ReplyChunk
	for c := range exec.Chunks {
		rest = append(rest, c)
	}
	assert.Empty(t, rest)
}

func TestRun_MemoryUpdatedAfterCompletion(t *testing.T) {
	mem := &recordingMemory{ch: make(chan [2]string, 1)}
	set := &provider.Set{
		ASR:    &stubASR{text: "hello"},
		LLM:    &stubLLM{fragments: []string{"Hi."}},
		TTS:    &stubTTS{},
		Memory: mem,
	}
	exec := newPipeline(set).Run(context.Background(), testUtterance(), nil)
	collect(t, exec)

	select {
	case got := <-mem.ch:
		assert.Equal(t, "hello", got[0])
		assert.Equal(t, "Hi.", got[1])
	case <-time.After(2 * time.Second):
		t.Fatal("memory was not updated")
	}
}
