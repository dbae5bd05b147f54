package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"kull-server/services/rating"
)

// Model responses arrive as JSON, sometimes wrapped in markdown fences or
// prose. Strip the wrapping, find the array, and decode it.
func parseRatings(raw string) ([]rating.Result, error) {
	text := stripMarkdownFences(raw)

	start := strings.Index(text, "[")
	if start == -1 {
		return nil, fmt.Errorf("no JSON array in model response")
	}
	end := strings.LastIndex(text, "]")
	if end == -1 || end < start {
		return nil, fmt.Errorf("unterminated JSON array in model response")
	}

	var results []rating.Result
	if err := json.Unmarshal([]byte(text[start:end+1]), &results); err != nil {
		return nil, fmt.Errorf("invalid ratings JSON: %w", err)
	}

	for i := range results {
		results[i].Clamp()
	}
	return results, nil
}

func stripMarkdownFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	lines := strings.Split(text, "\n")
	if len(lines) < 3 {
		return text
	}

	endIdx := len(lines) - 1
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			endIdx = i
			break
		}
	}

	return strings.Join(lines[1:endIdx], "\n")
}

const ratingInstructions = `Rate every image and respond with only a JSON array. Each element: {"imageId": string, "filename": string, "starRating": integer 0-5, "colorLabel": one of none|red|yellow|green|blue|purple, "title": string, "description": string, "tags": [string]}. Return one element per image, in the order given.`
