// Package splitter segments document text into bounded chunks and builds a table of contents
// from its headings.
package splitter

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hyperjump/dataforge/internal/models"
)

// ErrInvalidBounds is returned when the chunk length bounds are unusable.
var ErrInvalidBounds = errors.New("invalid chunk bounds")

const paragraphSep = "\n\n"

var blankLine = regexp.MustCompile(`\n\s*\n`)

// Split segments text into chunks of roughly minChars to maxChars code points. Paragraphs are
// never split unless a single paragraph exceeds maxChars, in which case it is packed by
// sentence. A chunk may exceed maxChars when the minChars floor would otherwise be violated or
// when a single sentence is longer than maxChars. Whitespace-only input yields no chunks.
func Split(text string, minChars, maxChars int) []string {
	var (
		chunks  []string
		current string
	)
	flush := func() {
		if current != "" {
			chunks = append(chunks, current)
			current = ""
		}
	}
	for _, para := range Paragraphs(text) {
		paraLen := runeLen(para)
		if paraLen > maxChars {
			flush()
			var sub string
			for _, s := range Sentences(para) {
				if sub != "" && runeLen(sub)+runeLen(s) > maxChars {
					chunks = append(chunks, strings.TrimSpace(sub))
					sub = ""
				}
				sub += s
			}
			current = strings.TrimSpace(sub)
			continue
		}
		switch {
		case current == "":
			current = para
		case runeLen(current)+len(paragraphSep)+paraLen <= maxChars:
			current += paragraphSep + para
		case runeLen(current) >= minChars:
			flush()
			current = para
		default:
			// Below the floor: keep growing past maxChars.
			current += paragraphSep + para
		}
	}
	flush()
	return chunks
}

// Paragraphs splits text on blank lines and returns the trimmed, non-empty paragraphs.
func Paragraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	parts := blankLine.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Sentences cuts text after each run of sentence-ending punctuation, keeping the punctuation
// and any whitespace that follows it with the preceding sentence. Trailing text without a
// terminator is returned as the last sentence. Concatenating the result yields text.
func Sentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i]) {
			continue
		}
		j := i + 1
		for j < len(runes) && (isTerminator(runes[j]) || isCloser(runes[j])) {
			j++
		}
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		out = append(out, string(runes[start:j]))
		start = j
		i = j - 1
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？', '…':
		return true
	}
	return false
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’', '」', '』', '）':
		return true
	}
	return false
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// Chunker turns document text into stored chunk records.
type Chunker struct {
	minChars int
	maxChars int
}

// NewChunker creates a chunker with the given bounds (in code points).
func NewChunker(minChars, maxChars int) (*Chunker, error) {
	if minChars < 0 || maxChars < 1 || minChars > maxChars {
		return nil, fmt.Errorf("%w: min=%d max=%d", ErrInvalidBounds, minChars, maxChars)
	}
	return &Chunker{minChars: minChars, maxChars: maxChars}, nil
}

// Chunk splits doc's content into chunks. Names follow "<document>-part-<n>", n starting at 1.
func (c *Chunker) Chunk(doc *models.Document) []*models.Chunk {
	parts := Split(doc.Content, c.minChars, c.maxChars)
	if len(parts) == 0 {
		return nil
	}
	base := strings.TrimSuffix(doc.Name, extOf(doc.Name))
	if base == "" {
		base = doc.ID
	}
	chunks := make([]*models.Chunk, 0, len(parts))
	for i, p := range parts {
		chunks = append(chunks, &models.Chunk{
			ID:         uuid.New().String(),
			ProjectID:  doc.ProjectID,
			DocumentID: doc.ID,
			Name:       fmt.Sprintf("%s-part-%d", base, i+1),
			Ordinal:    i,
			Content:    p,
			Length:     runeLen(p),
		})
	}
	return chunks
}

func extOf(name string) string {
	i := strings.LastIndex(name, ".")
	if i <= 0 || strings.ContainsAny(name[i:], "/\\ ") {
		return ""
	}
	return name[i:]
}
