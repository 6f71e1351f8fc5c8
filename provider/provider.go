package provider

import (
	"context"

	"github.com/vocalis-ai/vocalis/audio"
)

// VAD scores a single audio frame for voice activity.
type VAD interface {
	// Score returns the speech probability in [0,1] for one frame.
	// Errors are fail-open: the caller treats them as silence.
	Score(ctx context.Context, frame []byte) (float64, error)
	Name() string
}

// ASR converts a finished utterance to text.
type ASR interface {
	Transcribe(ctx context.Context, pcm []byte, format audio.Format) (string, error)
	Name() string
}

// LLM streams reply text for the given conversation.
type LLM interface {
	// Generate returns a channel of incremental text fragments. The channel
	// is closed when generation finishes or ctx is cancelled.
	Generate(ctx context.Context, history []Message, userText string) (<-chan string, error)
	Name() string
}

// Message mirrors types.Message without importing it, keeping provider
// implementations dependency-light.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TTS synthesizes one text chunk into encoded audio.
type TTS interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
	Name() string
}

// Memory persists completed exchanges and replays them when a device
// reconnects. Best effort: errors are logged and swallowed by the caller,
// never failing the turn or the session.
type Memory interface {
	Remember(ctx context.Context, deviceID, userText, assistantText string) error
	// Recall returns the stored history as chat messages, oldest first.
	Recall(ctx context.Context, deviceID string) ([]Message, error)
	Name() string
}

// Action is a direct result produced by an intent resolver instead of a
// full LLM reply.
type Action struct {
	Name     string `json:"name"`
	Response string `json:"response,omitempty"`
}

// Intent maps a transcript to a direct action. A nil Action with nil error
// means no intent matched and the pipeline falls through to the LLM.
type Intent interface {
	Resolve(ctx context.Context, text string) (*Action, error)
	Name() string
}

// Set is the provider binding resolved once at session start.
type Set struct {
	VAD    VAD
	ASR    ASR
	LLM    LLM
	TTS    TTS
	Memory Memory // optional, may be nil
	Intent Intent // optional, may be nil
}
