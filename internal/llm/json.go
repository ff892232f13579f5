package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
)

// ExtractJSONObject pulls the first balanced {...} substring out of a
// model response, tolerating fenced code blocks and prose around the
// object. It returns an error when no object can be found.
func ExtractJSONObject(raw string) (string, error) {
	s := strings.TrimSpace(raw)

	// Drop markdown fences if present.
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	if start < 0 {
		return "", fmt.Errorf("no JSON object in response")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1], nil
				}
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object in response")
}

// DecodeJSON decodes a model response into v, trying in order: direct
// unmarshal, extraction of the first JSON object, and finally mechanical
// repair of near-JSON output.
func DecodeJSON(raw string, v any) error {
	if err := json.Unmarshal([]byte(raw), v); err == nil {
		return nil
	}

	if extracted, err := ExtractJSONObject(raw); err == nil {
		if err := json.Unmarshal([]byte(extracted), v); err == nil {
			return nil
		}
		if repaired, err := jsonrepair.RepairJSON(extracted); err == nil {
			if err := json.Unmarshal([]byte(repaired), v); err == nil {
				return nil
			}
		}
	}

	repaired, err := jsonrepair.RepairJSON(raw)
	if err != nil {
		return fmt.Errorf("response is not decodable JSON: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return fmt.Errorf("repaired response still not decodable: %w", err)
	}
	return nil
}
