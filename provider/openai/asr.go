package openai

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/vocalis-ai/vocalis/audio"
	"github.com/vocalis-ai/vocalis/types"
)

// ASR transcribes utterance audio via /audio/transcriptions.
type ASR struct {
	client *Client
}

// Name implements provider.ASR.
func (a *ASR) Name() string { return ProviderName }

// Transcribe uploads the utterance as a WAV file and returns the transcript.
// PCM input is wrapped in a WAV header so the endpoint can identify the
// format without sniffing.
func (a *ASR) Transcribe(ctx context.Context, pcm []byte, format audio.Format) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(wavEncode(pcm, format)); err != nil {
		return "", fmt.Errorf("failed to write audio: %w", err)
	}
	_ = writer.WriteField("model", a.client.cfg.ASRModel)
	_ = writer.WriteField("response_format", "json")
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.client.endpoint("/audio/transcriptions"), &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	a.client.authorize(req)

	resp, err := a.client.http.Do(req)
	if err != nil {
		return "", types.NewError(types.ErrTranscription, "transcription request failed").
			WithProvider(ProviderName).WithRetryable(true).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", mapHTTPError(types.ErrTranscription, resp.StatusCode, resp.Body)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", types.NewError(types.ErrTranscription, "failed to decode transcription").
			WithProvider(ProviderName).WithCause(err)
	}
	return out.Text, nil
}

// wavEncode prefixes raw 16-bit PCM with a canonical 44-byte WAV header.
func wavEncode(pcm []byte, format audio.Format) []byte {
	const headerLen = 44
	sampleRate := uint32(format.SampleRate)
	channels := uint16(format.Channels)
	byteRate := sampleRate * uint32(channels) * 2

	out := make([]byte, headerLen+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], channels)
	binary.LittleEndian.PutUint32(out[24:28], sampleRate)
	binary.LittleEndian.PutUint32(out[28:32], byteRate)
	binary.LittleEndian.PutUint16(out[32:34], channels*2)
	binary.LittleEndian.PutUint16(out[34:36], 16)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[headerLen:], pcm)
	return out
}
