package anthropic

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// CleanJSON strips markdown fences and surrounding prose, returning the
// outermost JSON object in text.
func CleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

// DecodeJSON unmarshals the JSON object in a model response into v.
func DecodeJSON(resp *MessageResponse, v any) error {
	if resp == nil {
		return eris.New("anthropic: nil response")
	}
	text := CleanJSON(resp.Text())
	if text == "" {
		return eris.New("anthropic: empty response")
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return eris.Wrap(err, "anthropic: decode response json")
	}
	return nil
}
