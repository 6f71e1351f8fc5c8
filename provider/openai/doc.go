// Package openai implements the ASR, LLM, and TTS capabilities against any
// OpenAI-compatible HTTP API: multipart /audio/transcriptions for speech to
// text, SSE-streamed /chat/completions for reply generation, and
// /audio/speech for synthesis. One Client is shared by all three so a
// session's providers reuse connections and credentials.
package openai
