package llm

// providerPricing maps provider names to (input, output) cost per 1K tokens in USD.
var providerPricing = map[string][2]float64{
	ProviderOpenAI:    {0.00015, 0.0006}, // gpt-4o-mini
	ProviderAnthropic: {0.0008, 0.004},   // claude-3-5-haiku
	ProviderGemini:    {0.0001, 0.0004},  // gemini-2.0-flash
	ProviderCerebras:  {0.00085, 0.0012}, // llama-3.3-70b
	ProviderMock:      {0, 0},
	"custom":          {0.001, 0.002},
}

// Cost returns the USD cost of one call.
func Cost(provider string, inputTokens, outputTokens int) float64 {
	pricing, ok := providerPricing[provider]
	if !ok {
		pricing = providerPricing["custom"]
	}
	return (float64(inputTokens)/1000.0)*pricing[0] + (float64(outputTokens)/1000.0)*pricing[1]
}
