// Package provider defines the capability contracts the session orchestrator
// consumes (VAD, ASR, LLM, TTS, Memory, Intent) and a name-keyed factory
// registry that binds one concrete implementation per capability at session
// start. The binding is fixed for the session lifetime; there is no hot swap
// mid conversation.
package provider
