// Package strings provides string list helpers for configuration parsing.
package strings

import (
	"strings"
)

// SplitList splits s on sep and returns the trimmed, non-empty, distinct
// parts in their original order. An empty s yields nil.
//
//	SplitList(" kafka-1:9092, kafka-2:9092,,kafka-1:9092 ", ",")
//	// []string{"kafka-1:9092", "kafka-2:9092"}
func SplitList(s, sep string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return DedupeAndTrim(strings.Split(s, sep))
}

// DedupeAndTrim removes duplicates and blanks, trimming each element.
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; !ok {
			seen[trimmed] = struct{}{}
			result = append(result, trimmed)
		}
	}
	return result
}
