package service

import (
	"strings"
)

// cleanText strips markdown formatting characters (asterisks, hashes) and
// surrounding quotation marks the model sometimes adds.
func cleanText(s string) string {
	if s == "" {
		return ""
	}
	s = strings.NewReplacer("*", "", "#", "").Replace(s)
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, `"`)
	s = strings.TrimSuffix(s, `"`)
	return strings.TrimSpace(s)
}

// extractJSON returns the JSON object embedded in a model response, tolerating
// markdown code fences and prose around it. Returns "" when no object is found.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
