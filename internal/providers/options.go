package providers

// Option keys accepted in ChatRequest.Options. Providers that don't recognize
// a key simply ignore it, so a single request can carry options for several
// provider families at once.
const (
	OptMaxTokens       = "max_tokens"
	OptTemperature     = "temperature"
	OptThinkingLevel   = "thinking_level"   // generic: "off", "low", "medium", "high"
	OptReasoningEffort = "reasoning_effort" // OpenAI o-series wire key
	OptEnableThinking  = "enable_thinking"  // DashScope wire key
	OptThinkingBudget  = "thinking_budget"  // DashScope wire key
)

// ThinkingCapable is implemented by providers that support extended
// thinking/reasoning traces. The agent loop only sets OptThinkingLevel when
// the active provider asserts support.
type ThinkingCapable interface {
	SupportsThinking() bool
}
