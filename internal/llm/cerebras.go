package llm

import "net/http"

const (
	cerebrasAPIURL = "https://api.cerebras.ai/v1/chat/completions"
	cerebrasModel  = "llama-3.3-70b"
)

// NewCerebrasClient returns a client for Cerebras, which speaks the OpenAI chat format.
func NewCerebrasClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{
		apiKey:     apiKey,
		url:        cerebrasAPIURL,
		model:      cerebrasModel,
		provider:   ProviderCerebras,
		httpClient: &http.Client{},
	}
}
