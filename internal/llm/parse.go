package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrParseFailed is returned when a response does not contain the expected JSON payload.
var ErrParseFailed = errors.New("failed to parse model response")

var (
	jsonBlockRegex = regexp.MustCompile(`(?s)` + "```" + `(?:json)?\s*\n?(.*?)\n?` + "```")
	thinkRegex     = regexp.MustCompile(`(?s)<think>(.*?)</think>`)
)

// Parse unmarshals content as JSON into T. It tries the content itself, then a fenced code
// block, then the outermost JSON array or object. Reasoning blocks are ignored.
func Parse[T any](content string) (T, error) {
	var result T
	_, content = SplitThink(content)
	content = strings.TrimSpace(content)

	if err := json.Unmarshal([]byte(content), &result); err == nil {
		return result, nil
	}

	if matches := jsonBlockRegex.FindStringSubmatch(content); len(matches) >= 2 {
		cleaned := strings.TrimSpace(matches[1])
		if err := json.Unmarshal([]byte(cleaned), &result); err == nil {
			return result, nil
		}
	}

	for _, pair := range [][2]string{{"[", "]"}, {"{", "}"}} {
		start := strings.Index(content, pair[0])
		end := strings.LastIndex(content, pair[1])
		if start >= 0 && end > start {
			if err := json.Unmarshal([]byte(content[start:end+1]), &result); err == nil {
				return result, nil
			}
		}
	}

	return result, ErrParseFailed
}

// SplitThink separates a leading <think>...</think> reasoning block from the answer.
// An unterminated block is treated as reasoning only.
func SplitThink(content string) (cot, answer string) {
	if m := thinkRegex.FindStringSubmatchIndex(content); m != nil {
		cot = strings.TrimSpace(content[m[2]:m[3]])
		answer = strings.TrimSpace(content[:m[0]] + content[m[1]:])
		return cot, answer
	}
	if i := strings.Index(content, "<think>"); i >= 0 {
		return strings.TrimSpace(content[i+len("<think>"):]), strings.TrimSpace(content[:i])
	}
	return "", strings.TrimSpace(content)
}
