package providers

import "strings"

// schemaDropKeys lists JSON Schema keywords that some OpenAI-compatible
// providers reject on function parameters. Gemini's function-calling schema
// in particular only understands a small subset of JSON Schema.
var schemaDropKeys = map[string][]string{
	"gemini": {"additionalProperties", "$schema", "title", "default", "examples"},
}

// CleanSchemaForProvider strips keywords a provider's function-calling schema
// doesn't support, recursively, so a tool's canonical JSON Schema can be
// reused across providers without per-provider authoring.
func CleanSchemaForProvider(provider string, schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return nil
	}
	drop := schemaDropKeys[providerFamily(provider)]
	if len(drop) == 0 {
		return schema
	}
	return cleanSchemaValue(schema, drop).(map[string]interface{})
}

func cleanSchemaValue(v interface{}, drop []string) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, sub := range val {
			if containsKey(drop, k) {
				continue
			}
			out[k] = cleanSchemaValue(sub, drop)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, sub := range val {
			out[i] = cleanSchemaValue(sub, drop)
		}
		return out
	default:
		return v
	}
}

func containsKey(keys []string, k string) bool {
	for _, key := range keys {
		if key == k {
			return true
		}
	}
	return false
}

// providerFamily maps a concrete provider name to the schema dialect it
// expects; OpenRouter/Groq/DeepSeek/VLLM all speak plain OpenAI schema, while
// any name containing "gemini" gets the restricted dialect.
func providerFamily(provider string) string {
	if strings.Contains(strings.ToLower(provider), "gemini") {
		return "gemini"
	}
	return provider
}

// CleanToolSchemas translates ToolDefinitions into OpenAI-wire-format tool
// entries, cleaning each tool's parameter schema for the target provider.
func CleanToolSchemas(provider string, tools []ToolDefinition) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        t.Function.Name,
				"description": t.Function.Description,
				"parameters":  CleanSchemaForProvider(provider, t.Function.Parameters),
			},
		})
	}
	return out
}
