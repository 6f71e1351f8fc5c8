// Package config loads and validates daemon configuration.
// Precedence: defaults, then YAML file, then environment overrides.
package config

import (
	"fmt"
	"time"

	"github.com/vocalis-ai/vocalis/audio"
)

// Config is the complete daemon configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Audio     audio.Format    `yaml:"audio" env:"-"`
	Session   SessionConfig   `yaml:"session" env:"SESSION"`
	VAD       VADConfig       `yaml:"vad" env:"VAD"`
	Providers ProviderConfig  `yaml:"providers" env:"PROVIDERS"`
	OpenAI    OpenAIConfig    `yaml:"openai" env:"OPENAI"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	Intents   []IntentRule    `yaml:"intents" env:"-"`
}

// ServerConfig configures the WebSocket listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	MetricsAddr     string        `yaml:"metrics_addr" env:"METRICS_ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"FORMAT"` // json, console
}

// SessionConfig governs the per-connection orchestrator.
type SessionConfig struct {
	SystemPrompt string `yaml:"system_prompt" env:"SYSTEM_PROMPT"`

	// NoVoiceTimeout closes the connection after this long without any
	// detected speech. The timer resets on every speech start.
	NoVoiceTimeout time.Duration `yaml:"close_connection_no_voice_time" env:"NO_VOICE_TIMEOUT"`

	// ExitPhrases close the session when the transcript matches exactly
	// (after punctuation stripping).
	ExitPhrases []string `yaml:"exit_phrases" env:"EXIT_PHRASES"`

	Farewell string `yaml:"farewell" env:"FAREWELL"`
	Apology  string `yaml:"apology" env:"APOLOGY"`

	// MaxChunkLen forces a reply segment break when no sentence-ending
	// punctuation has been seen for this many runes.
	MaxChunkLen int `yaml:"max_chunk_len" env:"MAX_CHUNK_LEN"`

	// FrameBuffer sizes the inbound frame channel of the session loop.
	FrameBuffer int `yaml:"frame_buffer" env:"FRAME_BUFFER"`
}

// VADConfig governs endpointing.
type VADConfig struct {
	Threshold float64 `yaml:"threshold" env:"THRESHOLD"`

	// MinSilence is how long silence must persist after speech before the
	// utterance is considered finished. Lower values interrupt faster but
	// cut slow speakers off.
	MinSilence time.Duration `yaml:"min_silence_duration_ms" env:"MIN_SILENCE"`

	// PreSpeechFrames of leading audio are kept and prepended to each
	// utterance so ASR does not lose the first syllable.
	PreSpeechFrames int `yaml:"pre_speech_frames" env:"PRE_SPEECH_FRAMES"`

	// MinUtteranceFrames discards blips shorter than this many frames.
	MinUtteranceFrames int `yaml:"min_utterance_frames" env:"MIN_UTTERANCE_FRAMES"`
}

// ProviderConfig selects one implementation per capability by name.
type ProviderConfig struct {
	VAD    string `yaml:"vad" env:"VAD"`
	ASR    string `yaml:"asr" env:"ASR"`
	LLM    string `yaml:"llm" env:"LLM"`
	TTS    string `yaml:"tts" env:"TTS"`
	Memory string `yaml:"memory" env:"MEMORY"`
	Intent string `yaml:"intent" env:"INTENT"`
}

// OpenAIConfig configures the OpenAI-compatible reference providers.
type OpenAIConfig struct {
	BaseURL   string        `yaml:"base_url" env:"BASE_URL"`
	APIKey    string        `yaml:"api_key" env:"API_KEY"`
	ChatModel string        `yaml:"chat_model" env:"CHAT_MODEL"`
	ASRModel  string        `yaml:"asr_model" env:"ASR_MODEL"`
	TTSModel  string        `yaml:"tts_model" env:"TTS_MODEL"`
	Voice     string        `yaml:"voice" env:"VOICE"`
	Timeout   time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// RedisConfig configures the Redis-backed memory provider.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	// MaxTurns caps the per-device history list.
	MaxTurns int `yaml:"max_turns" env:"MAX_TURNS"`
}

// IntentRule maps a keyword to a canned spoken response.
type IntentRule struct {
	Name     string `yaml:"name"`
	Keyword  string `yaml:"keyword"`
	Response string `yaml:"response"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8000",
			MetricsAddr:     ":9090",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Audio: audio.DefaultFormat(),
		Session: SessionConfig{
			SystemPrompt:   "You are a friendly voice assistant. Keep answers short and speakable.",
			NoVoiceTimeout: 120 * time.Second,
			ExitPhrases:    []string{"goodbye", "exit", "再见", "拜拜"},
			Farewell:       "Goodbye, talk to you soon.",
			Apology:        "Sorry, I ran into a problem answering that.",
			MaxChunkLen:    120,
			FrameBuffer:    256,
		},
		VAD: VADConfig{
			Threshold:          0.5,
			MinSilence:         700 * time.Millisecond,
			PreSpeechFrames:    5,
			MinUtteranceFrames: 10,
		},
		Providers: ProviderConfig{
			VAD:    "energy",
			ASR:    "openai",
			LLM:    "openai",
			TTS:    "openai",
			Memory: "none",
			Intent: "none",
		},
		OpenAI: OpenAIConfig{
			BaseURL:   "https://api.openai.com/v1",
			ChatModel: "gpt-4o-mini",
			ASRModel:  "whisper-1",
			TTSModel:  "tts-1",
			Voice:     "alloy",
			Timeout:   30 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			MaxTurns: 100,
		},
	}
}

// Validate rejects configurations the orchestrator cannot run with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if !c.Audio.Valid() {
		return fmt.Errorf("audio format invalid: %+v", c.Audio)
	}
	if c.Session.NoVoiceTimeout <= 0 {
		return fmt.Errorf("session.close_connection_no_voice_time must be positive")
	}
	if c.Session.MaxChunkLen <= 0 {
		return fmt.Errorf("session.max_chunk_len must be positive")
	}
	if c.VAD.Threshold < 0 || c.VAD.Threshold > 1 {
		return fmt.Errorf("vad.threshold must be in [0,1], got %v", c.VAD.Threshold)
	}
	if c.VAD.MinSilence <= 0 {
		return fmt.Errorf("vad.min_silence_duration_ms must be positive")
	}
	for _, sel := range []struct{ name, val string }{
		{"vad", c.Providers.VAD},
		{"asr", c.Providers.ASR},
		{"llm", c.Providers.LLM},
		{"tts", c.Providers.TTS},
	} {
		if sel.val == "" {
			return fmt.Errorf("providers.%s must be set", sel.name)
		}
	}
	return nil
}
