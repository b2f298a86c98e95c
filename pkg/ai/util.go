package ai

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/pkoukk/tiktoken-go"
)

// NormalizeResponseText unwraps model output into plain text. Models sometimes
// fence their answer in markdown code blocks or return it as a JSON-encoded
// string; both wrappers are removed. Input that is none of these passes
// through unchanged.
//
// Example:
//
//	NormalizeResponseText("```\n1: temporal - before - 80 - r\n```")
//	NormalizeResponseText(`"1: temporal - before - 80 - r"`)
func NormalizeResponseText(input string) string {
	text := strings.TrimSpace(input)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.Index(text, "\n"); idx >= 0 && !strings.ContainsAny(text[:idx], " \t") {
			// language tag on the fence line
			text = text[idx+1:]
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}

	if strings.HasPrefix(text, `"`) {
		var unwrapped string
		if err := json.Unmarshal([]byte(text), &unwrapped); err == nil {
			return strings.TrimSpace(unwrapped)
		}
		if repaired, err := jsonrepair.JSONRepair(text); err == nil {
			if err := json.Unmarshal([]byte(repaired), &unwrapped); err == nil {
				return strings.TrimSpace(unwrapped)
			}
		}
	}

	return text
}

// CountTokens returns the o200k_base token count of the text, or an
// approximation from the rune count when the encoding is unavailable.
func CountTokens(text string) int {
	enc, err := tiktoken.GetEncoding("o200k_base")
	if err != nil {
		return len([]rune(text)) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// TruncateToTokens cuts the text down to at most maxTokens tokens. Falls back
// to a rune-based cut when the encoding is unavailable.
func TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}

	enc, err := tiktoken.GetEncoding("o200k_base")
	if err != nil {
		runes := []rune(text)
		if len(runes) <= maxTokens*4 {
			return text
		}
		return string(runes[:maxTokens*4])
	}

	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return enc.Decode(tokens[:maxTokens])
}
