// Package keyword resolves intents by case-insensitive substring match
// against configured rules, answering common commands without an LLM round
// trip.
package keyword

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/vocalis-ai/vocalis/config"
	"github.com/vocalis-ai/vocalis/provider"
)

// ProviderName is the registry key for the keyword intent resolver.
const ProviderName = "keyword"

// Register adds the keyword intent factory.
func Register(r *provider.Registry) {
	r.RegisterIntent(ProviderName, func(cfg *config.Config, logger *zap.Logger) (provider.Intent, error) {
		return New(cfg.Intents, logger), nil
	})
}

// Intent matches transcripts against an ordered rule list. First match wins.
type Intent struct {
	rules  []rule
	logger *zap.Logger
}

type rule struct {
	name     string
	keyword  string
	response string
}

// New compiles the configured rules. Rules with an empty keyword are dropped.
func New(rules []config.IntentRule, logger *zap.Logger) *Intent {
	if logger == nil {
		logger = zap.NewNop()
	}
	compiled := make([]rule, 0, len(rules))
	for _, r := range rules {
		kw := strings.ToLower(strings.TrimSpace(r.Keyword))
		if kw == "" {
			continue
		}
		name := r.Name
		if name == "" {
			name = kw
		}
		compiled = append(compiled, rule{name: name, keyword: kw, response: r.Response})
	}
	return &Intent{
		rules:  compiled,
		logger: logger.With(zap.String("component", "keyword_intent")),
	}
}

// Name implements provider.Intent.
func (i *Intent) Name() string { return ProviderName }

// Resolve implements provider.Intent. A nil action means no rule matched.
func (i *Intent) Resolve(_ context.Context, text string) (*provider.Action, error) {
	lowered := strings.ToLower(text)
	for _, r := range i.rules {
		if strings.Contains(lowered, r.keyword) {
			i.logger.Debug("intent matched",
				zap.String("intent", r.name), zap.String("keyword", r.keyword))
			return &provider.Action{Name: r.name, Response: r.response}, nil
		}
	}
	return nil, nil
}
