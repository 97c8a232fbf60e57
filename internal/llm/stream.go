package llm

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Stream yields completion text incrementally.
//
//	for s.Next() {
//		fmt.Print(s.Text())
//	}
//	if err := s.Err(); err != nil { ... }
type Stream struct {
	next    func() (string, error)
	closeFn func() error
	text    string
	err     error
	done    bool
}

// NewStream builds a stream from a pull function. next returns io.EOF when the completion ends.
func NewStream(next func() (string, error), closeFn func() error) *Stream {
	return &Stream{next: next, closeFn: closeFn}
}

// Next advances to the next piece of text. It returns false at the end or on error.
func (s *Stream) Next() bool {
	if s.done {
		return false
	}
	for {
		text, err := s.next()
		if err != nil {
			s.done = true
			if !errors.Is(err, io.EOF) {
				s.err = err
			}
			return false
		}
		if text == "" {
			continue
		}
		s.text = text
		return true
	}
}

// Text returns the piece produced by the last call to Next.
func (s *Stream) Text() string { return s.text }

// Err returns the first non-EOF error.
func (s *Stream) Err() error { return s.err }

// Close releases the underlying connection.
func (s *Stream) Close() error {
	s.done = true
	if s.closeFn != nil {
		return s.closeFn()
	}
	return nil
}

// Collect drains s and returns the concatenated text.
func Collect(s *Stream) (string, error) {
	defer s.Close()
	var b strings.Builder
	for s.Next() {
		b.WriteString(s.Text())
	}
	return b.String(), s.Err()
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *apiError `json:"error"`
}

// newSSEStream reads "data: {...}" server-sent events until "data: [DONE]".
// Reasoning deltas are emitted inside a single <think> block.
func newSSEStream(body io.ReadCloser) *Stream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	thinking := false
	var pending []string
	next := func() (string, error) {
		for len(pending) == 0 {
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					return "", err
				}
				if thinking {
					thinking = false
					return "</think>", nil
				}
				return "", io.EOF
			}
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				if thinking {
					thinking = false
					return "</think>", nil
				}
				return "", io.EOF
			}
			var chunk streamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				return "", fmt.Errorf("decode stream chunk: %w", err)
			}
			if chunk.Error != nil {
				return "", fmt.Errorf("%w: %s", ErrProvider, chunk.Error.Message)
			}
			for _, c := range chunk.Choices {
				if r := c.Delta.ReasoningContent; r != "" {
					if !thinking {
						thinking = true
						pending = append(pending, "<think>")
					}
					pending = append(pending, r)
				}
				if t := c.Delta.Content; t != "" {
					if thinking {
						thinking = false
						pending = append(pending, "</think>")
					}
					pending = append(pending, t)
				}
			}
		}
		out := pending[0]
		pending = pending[1:]
		return out, nil
	}
	return NewStream(next, body.Close)
}
