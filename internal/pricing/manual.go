package pricing

// manualTable is the static provider-level fallback used when the catalog
// cache has no entry for a model (e.g. before the first refresh completes).
// Prices are USD per million tokens; these are representative published
// rates, not a guarantee of current upstream pricing.
var manualTable = map[string]Rates{
	"openai":    {Prompt: 2.50, Completion: 10.00},
	"anthropic": {Prompt: 3.00, Completion: 15.00},
	"gemini":    {Prompt: 1.25, Completion: 5.00},
	"vertexai":  {Prompt: 1.25, Completion: 5.00},
	"mistral":   {Prompt: 2.00, Completion: 6.00},
	"groq":      {Prompt: 0.59, Completion: 0.79},
	"together":  {Prompt: 0.88, Completion: 0.88},
	"fireworks": {Prompt: 0.90, Completion: 0.90},
	"deepinfra": {Prompt: 0.55, Completion: 0.55},
	"cerebras":  {Prompt: 0.60, Completion: 0.60},
	"nebius":    {Prompt: 0.13, Completion: 0.40},
	"novita":    {Prompt: 0.35, Completion: 0.40},
	"chutes":    {Prompt: 0.10, Completion: 0.10},
	"xai":       {Prompt: 3.00, Completion: 15.00},
	"bedrock":   {Prompt: 3.00, Completion: 15.00},
	"azure":     {Prompt: 2.50, Completion: 10.00},
}

// manualPrefixTable keys by a model-id prefix rather than provider, for
// aggregator gateways (OpenRouter, Portkey, HuggingFace, Featherless) whose
// per-model pricing varies far more than per-provider averages can capture.
var manualPrefixTable = map[string]Rates{
	"anthropic/claude-3.5-sonnet": {Prompt: 3.00, Completion: 15.00},
	"meta-llama/":                 {Prompt: 0.60, Completion: 0.60},
	"google/":                     {Prompt: 1.25, Completion: 5.00},
	"qwen/":                       {Prompt: 0.40, Completion: 0.40},
	"deepseek":                    {Prompt: 0.55, Completion: 2.19},
}

// ManualRate exposes the static provider-level rate table directly, without
// consulting a catalog cache. Used to seed catalog entries with a sane
// starting price before the first live refresh populates real figures.
func ManualRate(provider string) (Rates, bool) {
	r, ok := manualTable[provider]
	return r, ok
}
