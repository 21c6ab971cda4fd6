package llm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Harshitk-cp/inquest/internal/domain"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderCerebras  = "cerebras"
	ProviderMock      = "mock"
)

type providerSpec struct {
	keyEnv string // empty when the provider needs no key
	build  func(apiKey string) domain.ReasoningClient
}

var providers = map[string]providerSpec{
	ProviderOpenAI:    {"OPENAI_API_KEY", func(k string) domain.ReasoningClient { return NewOpenAIClient(k) }},
	ProviderAnthropic: {"ANTHROPIC_API_KEY", func(k string) domain.ReasoningClient { return NewAnthropicClient(k) }},
	ProviderGemini:    {"GEMINI_API_KEY", func(k string) domain.ReasoningClient { return NewGeminiClient(k) }},
	ProviderCerebras:  {"CEREBRAS_API_KEY", func(k string) domain.ReasoningClient { return NewCerebrasClient(k) }},
	ProviderMock:      {"", func(string) domain.ReasoningClient { return NewMockClient() }},
}

// NewClient creates the reasoning client for a provider. Every provider
// except mock needs an API key.
func NewClient(provider, apiKey string) (domain.ReasoningClient, error) {
	spec, ok := providers[provider]
	if !ok {
		return nil, fmt.Errorf("unknown LLM provider: %s (valid options: %s)", provider, strings.Join(providerNames(), ", "))
	}
	if spec.keyEnv != "" && apiKey == "" {
		return nil, fmt.Errorf("%s is required for the %s provider", spec.keyEnv, provider)
	}
	return spec.build(apiKey), nil
}

func providerNames() []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
