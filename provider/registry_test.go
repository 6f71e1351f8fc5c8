package provider

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vocalis-ai/vocalis/audio"
	"github.com/vocalis-ai/vocalis/config"
	"github.com/vocalis-ai/vocalis/types"
)

type stubVAD struct{}

func (stubVAD) Score(context.Context, []byte) (float64, error) { return 0, nil }
func (stubVAD) Name() string                                   { return "stub-vad" }

type stubASR struct{}

func (stubASR) Transcribe(context.Context, []byte, audio.Format) (string, error) { return "", nil }
func (stubASR) Name() string                                                     { return "stub-asr" }

type stubLLM struct{}

func (stubLLM) Generate(context.Context, []Message, string) (<-chan string, error) {
	ch := make(chan string)
	close(ch)
	return ch, nil
}
func (stubLLM) Name() string { return "stub-llm" }

type stubTTS struct{}

func (stubTTS) Synthesize(context.Context, string) ([]byte, error) { return nil, nil }
func (stubTTS) Name() string                                       { return "stub-tts" }

type stubMemory struct{}

func (stubMemory) Remember(context.Context, string, string, string) error { return nil }
func (stubMemory) Recall(context.Context, string) ([]Message, error)      { return nil, nil }
func (stubMemory) Name() string                                           { return "stub-memory" }

func fullRegistry() *Registry {
	r := NewRegistry()
	r.RegisterVAD("stub", func(*config.Config, *zap.Logger) (VAD, error) { return stubVAD{}, nil })
	r.RegisterASR("stub", func(*config.Config, *zap.Logger) (ASR, error) { return stubASR{}, nil })
	r.RegisterLLM("stub", func(*config.Config, *zap.Logger) (LLM, error) { return stubLLM{}, nil })
	r.RegisterTTS("stub", func(*config.Config, *zap.Logger) (TTS, error) { return stubTTS{}, nil })
	r.RegisterMemory("stub", func(*config.Config, *zap.Logger) (Memory, error) { return stubMemory{}, nil })
	return r
}

func stubSelection() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Providers = config.ProviderConfig{
		VAD: "stub", ASR: "stub", LLM: "stub", TTS: "stub",
		Memory: "none", Intent: "none",
	}
	return cfg
}

func TestRegistry_Bind(t *testing.T) {
	set, err := fullRegistry().Bind(stubSelection(), nil)
	require.NoError(t, err)
	require.NotNil(t, set)
	assert.Equal(t, "stub-vad", set.VAD.Name())
	assert.Equal(t, "stub-asr", set.ASR.Name())
	assert.Equal(t, "stub-llm", set.LLM.Name())
	assert.Equal(t, "stub-tts", set.TTS.Name())
	assert.Nil(t, set.Memory)
	assert.Nil(t, set.Intent)
}

func TestRegistry_Bind_OptionalMemory(t *testing.T) {
	cfg := stubSelection()
	cfg.Providers.Memory = "stub"

	set, err := fullRegistry().Bind(cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, set.Memory)
	assert.Equal(t, "stub-memory", set.Memory.Name())
}

func TestRegistry_Bind_UnknownProvider(t *testing.T) {
	cfg := stubSelection()
	cfg.Providers.ASR = "nope"

	set, err := fullRegistry().Bind(cfg, nil)
	require.Error(t, err)
	assert.Nil(t, set)
	assert.Equal(t, types.ErrProviderNotFound, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "nope")
}

func TestRegistry_Bind_FactoryError(t *testing.T) {
	r := fullRegistry()
	r.RegisterTTS("broken", func(*config.Config, *zap.Logger) (TTS, error) {
		return nil, errors.New("bad credentials")
	})
	cfg := stubSelection()
	cfg.Providers.TTS = "broken"

	_, err := r.Bind(cfg, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrConfiguration, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "bad credentials")
}

func TestRegistry_ListVAD(t *testing.T) {
	r := NewRegistry()
	r.RegisterVAD("b", func(*config.Config, *zap.Logger) (VAD, error) { return stubVAD{}, nil })
	r.RegisterVAD("a", func(*config.Config, *zap.Logger) (VAD, error) { return stubVAD{}, nil })
	assert.Equal(t, []string{"a", "b"}, r.ListVAD())
}

func TestRegistry_ConcurrentRegisterAndBind(t *testing.T) {
	r := fullRegistry()
	cfg := stubSelection()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.RegisterVAD("stub", func(*config.Config, *zap.Logger) (VAD, error) { return stubVAD{}, nil })
		}()
		go func() {
			defer wg.Done()
			_, err := r.Bind(cfg, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}
