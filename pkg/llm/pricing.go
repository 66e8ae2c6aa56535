package llm

import (
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Rate holds per-1K-token pricing for a model in USD.
type Rate struct {
	InputPer1K  float64 `json:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k"`
}

// Cost returns the input and output cost for the given token counts.
func (r Rate) Cost(inputTokens, outputTokens int) (input, output float64) {
	input = float64(inputTokens) / 1000 * r.InputPer1K
	output = float64(outputTokens) / 1000 * r.OutputPer1K
	return input, output
}

const defaultPricingKey = "default"

// pricing maps lower-cased model identifiers to their token costs.
var pricing = map[string]Rate{
	// OpenAI GPT models
	"gpt-4.1":             {InputPer1K: 0.002, OutputPer1K: 0.008},
	"gpt-4":               {InputPer1K: 0.03, OutputPer1K: 0.06},
	"gpt-4-turbo":         {InputPer1K: 0.01, OutputPer1K: 0.03},
	"gpt-4-turbo-preview": {InputPer1K: 0.01, OutputPer1K: 0.03},
	"gpt-4o":              {InputPer1K: 0.005, OutputPer1K: 0.015},
	"gpt-4o-mini":         {InputPer1K: 0.00015, OutputPer1K: 0.0006},
	"gpt-3.5-turbo":       {InputPer1K: 0.0015, OutputPer1K: 0.002},
	"gpt-3.5-turbo-16k":   {InputPer1K: 0.003, OutputPer1K: 0.004},

	// Anthropic models via Bedrock
	"anthropic.claude-3-sonnet-20240229-v1:0":   {InputPer1K: 0.003, OutputPer1K: 0.015},
	"anthropic.claude-3-haiku-20240307-v1:0":    {InputPer1K: 0.00025, OutputPer1K: 0.00125},
	"anthropic.claude-3-opus-20240229-v1:0":     {InputPer1K: 0.015, OutputPer1K: 0.075},
	"anthropic.claude-3-5-sonnet-20240620-v1:0": {InputPer1K: 0.003, OutputPer1K: 0.015},
	"anthropic.claude-v2":                       {InputPer1K: 0.008, OutputPer1K: 0.024},
	"anthropic.claude-v2:1":                     {InputPer1K: 0.008, OutputPer1K: 0.024},
	"anthropic.claude-instant-v1":               {InputPer1K: 0.0008, OutputPer1K: 0.0024},

	// Amazon models via Bedrock
	"amazon.titan-text-lite-v1":    {InputPer1K: 0.0003, OutputPer1K: 0.0004},
	"amazon.titan-text-express-v1": {InputPer1K: 0.0008, OutputPer1K: 0.0016},

	defaultPricingKey: {InputPer1K: 0.003, OutputPer1K: 0.015},
}

// substringKeys lists the non-default table keys, longest first, so that
// substring matching prefers the most specific model family.
var substringKeys = func() []string {
	keys := make([]string, 0, len(pricing))
	for k := range pricing {
		if k != defaultPricingKey {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}()

// PriceFor resolves the per-1K rates for a model name. It never fails:
// exact match, then substring match against known keys, then family
// heuristics, then the default rate.
func PriceFor(model string) Rate {
	name := strings.ToLower(strings.TrimSpace(model))

	if r, ok := pricing[name]; ok {
		return r
	}

	for _, k := range substringKeys {
		if strings.Contains(name, k) {
			return pricing[k]
		}
	}

	if key, ok := familyPricingKey(name); ok {
		return pricing[key]
	}

	log.WithField("model", model).Debug("no pricing entry for model, using default rate")
	return pricing[defaultPricingKey]
}

func familyPricingKey(name string) (string, bool) {
	switch {
	case strings.Contains(name, "gpt-3.5"):
		if strings.Contains(name, "16k") {
			return "gpt-3.5-turbo-16k", true
		}
		return "gpt-3.5-turbo", true
	case strings.Contains(name, "claude-3-5"):
		return "anthropic.claude-3-5-sonnet-20240620-v1:0", true
	case strings.Contains(name, "claude-3"):
		switch {
		case strings.Contains(name, "opus"):
			return "anthropic.claude-3-opus-20240229-v1:0", true
		case strings.Contains(name, "haiku"):
			return "anthropic.claude-3-haiku-20240307-v1:0", true
		}
		return "anthropic.claude-3-sonnet-20240229-v1:0", true
	case strings.Contains(name, "claude"):
		if strings.Contains(name, "instant") {
			return "anthropic.claude-instant-v1", true
		}
		return "anthropic.claude-v2", true
	case strings.Contains(name, "titan"):
		if strings.Contains(name, "express") {
			return "amazon.titan-text-express-v1", true
		}
		return "amazon.titan-text-lite-v1", true
	}
	return "", false
}
