package server

import (
	"time"

	"github.com/vocalis-ai/vocalis/audio"
)

// Device protocol message types.
const (
	msgHello  = "hello"
	msgListen = "listen"
	msgAbort  = "abort"
	msgSTT    = "stt"
	msgTTS    = "tts"
)

// TTS playback states sent to the device.
const (
	ttsSentenceStart = "sentence_start"
	ttsSentenceEnd   = "sentence_end"
	ttsStop          = "stop"
)

// audioParams is the wire form of the negotiated audio format. Frame
// duration travels in milliseconds.
type audioParams struct {
	Format        string `json:"format"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	FrameDuration int    `json:"frame_duration"`
}

// clientMessage is any JSON control message from the device.
type clientMessage struct {
	Type        string       `json:"type"`
	DeviceID    string       `json:"device_id,omitempty"`
	AudioParams *audioParams `json:"audio_params,omitempty"`
	State       string       `json:"state,omitempty"`
	Mode        string       `json:"mode,omitempty"`
}

// serverMessage is any JSON control message to the device.
type serverMessage struct {
	Type        string       `json:"type"`
	SessionID   string       `json:"session_id,omitempty"`
	Transport   string       `json:"transport,omitempty"`
	AudioParams *audioParams `json:"audio_params,omitempty"`
	Text        string       `json:"text,omitempty"`
	State       string       `json:"state,omitempty"`
}

// formatFromParams merges the client's hello parameters over the server
// default, ignoring fields the client left empty.
func formatFromParams(p *audioParams, fallback audio.Format) audio.Format {
	f := fallback
	if p == nil {
		return f
	}
	if p.Format != "" {
		f.Codec = audio.Codec(p.Format)
	}
	if p.SampleRate > 0 {
		f.SampleRate = p.SampleRate
	}
	if p.Channels > 0 {
		f.Channels = p.Channels
	}
	if p.FrameDuration > 0 {
		f.FrameDuration = time.Duration(p.FrameDuration) * time.Millisecond
	}
	return f
}

func paramsFromFormat(f audio.Format) *audioParams {
	return &audioParams{
		Format:        string(f.Codec),
		SampleRate:    f.SampleRate,
		Channels:      f.Channels,
		FrameDuration: int(f.FrameDuration / time.Millisecond),
	}
}
