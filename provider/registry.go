package provider

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/vocalis-ai/vocalis/config"
	"github.com/vocalis-ai/vocalis/types"
)

// NameNone disables an optional capability (memory, intent) in configuration.
const NameNone = "none"

// Factory constructors, one type per capability.
type (
	VADFactory    func(cfg *config.Config, logger *zap.Logger) (VAD, error)
	ASRFactory    func(cfg *config.Config, logger *zap.Logger) (ASR, error)
	LLMFactory    func(cfg *config.Config, logger *zap.Logger) (LLM, error)
	TTSFactory    func(cfg *config.Config, logger *zap.Logger) (TTS, error)
	MemoryFactory func(cfg *config.Config, logger *zap.Logger) (Memory, error)
	IntentFactory func(cfg *config.Config, logger *zap.Logger) (Intent, error)
)

// Registry is a thread-safe, name-keyed factory table for every capability.
// Implementations register themselves at startup; sessions bind a Set from
// the configured selection.
type Registry struct {
	mu      sync.RWMutex
	vads    map[string]VADFactory
	asrs    map[string]ASRFactory
	llms    map[string]LLMFactory
	ttss    map[string]TTSFactory
	mems    map[string]MemoryFactory
	intents map[string]IntentFactory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		vads:    make(map[string]VADFactory),
		asrs:    make(map[string]ASRFactory),
		llms:    make(map[string]LLMFactory),
		ttss:    make(map[string]TTSFactory),
		mems:    make(map[string]MemoryFactory),
		intents: make(map[string]IntentFactory),
	}
}

// RegisterVAD adds a VAD factory under the given name, replacing any
// previous registration. The other RegisterX methods behave the same.
func (r *Registry) RegisterVAD(name string, f VADFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vads[name] = f
}

func (r *Registry) RegisterASR(name string, f ASRFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asrs[name] = f
}

func (r *Registry) RegisterLLM(name string, f LLMFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llms[name] = f
}

func (r *Registry) RegisterTTS(name string, f TTSFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ttss[name] = f
}

func (r *Registry) RegisterMemory(name string, f MemoryFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mems[name] = f
}

func (r *Registry) RegisterIntent(name string, f IntentFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intents[name] = f
}

// ListVAD returns the sorted names of registered VAD factories.
func (r *Registry) ListVAD() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.vads))
	for name := range r.vads {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Bind resolves one instance per capability from the configured selection.
// An unknown name or failed construction is a configuration error, fatal to
// session start. Memory and Intent are optional and stay nil when selected
// as "none" or left empty.
func (r *Registry) Bind(cfg *config.Config, logger *zap.Logger) (*Set, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	sel := cfg.Providers
	set := &Set{}

	vf, ok := r.vads[sel.VAD]
	if !ok {
		return nil, unknownProvider("vad", sel.VAD)
	}
	var err error
	if set.VAD, err = vf(cfg, logger); err != nil {
		return nil, bindFailed("vad", sel.VAD, err)
	}

	af, ok := r.asrs[sel.ASR]
	if !ok {
		return nil, unknownProvider("asr", sel.ASR)
	}
	if set.ASR, err = af(cfg, logger); err != nil {
		return nil, bindFailed("asr", sel.ASR, err)
	}

	lf, ok := r.llms[sel.LLM]
	if !ok {
		return nil, unknownProvider("llm", sel.LLM)
	}
	if set.LLM, err = lf(cfg, logger); err != nil {
		return nil, bindFailed("llm", sel.LLM, err)
	}

	tf, ok := r.ttss[sel.TTS]
	if !ok {
		return nil, unknownProvider("tts", sel.TTS)
	}
	if set.TTS, err = tf(cfg, logger); err != nil {
		return nil, bindFailed("tts", sel.TTS, err)
	}

	if sel.Memory != "" && sel.Memory != NameNone {
		mf, ok := r.mems[sel.Memory]
		if !ok {
			return nil, unknownProvider("memory", sel.Memory)
		}
		if set.Memory, err = mf(cfg, logger); err != nil {
			return nil, bindFailed("memory", sel.Memory, err)
		}
	}

	if sel.Intent != "" && sel.Intent != NameNone {
		inf, ok := r.intents[sel.Intent]
		if !ok {
			return nil, unknownProvider("intent", sel.Intent)
		}
		if set.Intent, err = inf(cfg, logger); err != nil {
			return nil, bindFailed("intent", sel.Intent, err)
		}
	}

	return set, nil
}

func unknownProvider(capability, name string) error {
	return types.NewError(types.ErrProviderNotFound,
		capability+" provider "+name+" is not registered").WithStage(capability)
}

func bindFailed(capability, name string, err error) error {
	return types.NewError(types.ErrConfiguration,
		"failed to construct "+capability+" provider "+name).
		WithProvider(name).WithStage(capability).WithCause(err)
}
