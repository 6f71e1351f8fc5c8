package session

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vocalis-ai/vocalis/audio"
	"github.com/vocalis-ai/vocalis/config"
	"github.com/vocalis-ai/vocalis/provider"
	"github.com/vocalis-ai/vocalis/types"
)

// Manager is the host boundary between the transport and sessions. The
// transport calls it on connection open, per frame, and on close.
type Manager struct {
	cfg       *config.Config
	providers *provider.Registry
	registry  *Registry
	logger    *zap.Logger
}

// NewManager wires the provider registry and configuration used for every
// session binding.
func NewManager(cfg *config.Config, providers *provider.Registry, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:       cfg,
		providers: providers,
		registry:  NewRegistry(),
		logger:    logger,
	}
}

// Sessions exposes the live session table.
func (m *Manager) Sessions() *Registry { return m.registry }

// OnConnectionOpen binds providers and starts a session event loop. A
// binding failure refuses the connection.
func (m *Manager) OnConnectionOpen(ctx context.Context, deviceID string, format audio.Format, sink Sink) (*Session, error) {
	if !format.Valid() {
		format = m.cfg.Audio
	}
	set, err := m.providers.Bind(m.cfg, m.logger)
	if err != nil {
		return nil, err
	}

	s := newSession(uuid.NewString(), deviceID, m.cfg, format, set, sink, m.logger)
	s.onClosed = func() { m.registry.Unregister(s.ID) }
	m.registry.Register(s)
	go s.run(ctx)

	m.logger.Info("session opened",
		zap.String("session_id", s.ID),
		zap.String("device_id", deviceID),
		zap.String("vad", set.VAD.Name()),
		zap.String("asr", set.ASR.Name()),
		zap.String("llm", set.LLM.Name()),
		zap.String("tts", set.TTS.Name()))
	return s, nil
}

// OnFrame routes one inbound audio frame to its session.
func (m *Manager) OnFrame(id string, frame []byte) error {
	s, ok := m.registry.Get(id)
	if !ok {
		return types.NewError(types.ErrSessionClosed, "unknown session").
			WithStage("frame_routing")
	}
	return s.HandleFrame(frame)
}

// OnConnectionClose shuts the session down if it is still live.
func (m *Manager) OnConnectionClose(id string) {
	if s, ok := m.registry.Get(id); ok {
		s.RequestClose("client disconnected")
	}
}
