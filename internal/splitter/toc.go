package splitter

import (
	"strings"

	"github.com/hyperjump/dataforge/internal/models"
)

// Heading is an ATX markdown heading found in a document.
type Heading struct {
	Level int
	Title string
}

// ExtractHeadings scans text for "#" to "######" headings, skipping fenced code blocks.
func ExtractHeadings(text string) []Heading {
	var (
		headings []Heading
		fence    string
	)
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if fence != "" {
			if strings.HasPrefix(trimmed, fence) {
				fence = ""
			}
			continue
		}
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			fence = trimmed[:3]
			continue
		}
		if h, ok := parseHeading(trimmed); ok {
			headings = append(headings, h)
		}
	}
	return headings
}

func parseHeading(line string) (Heading, bool) {
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level == 0 || level > 6 {
		return Heading{}, false
	}
	// "#tag" is not a heading.
	if level < len(line) && line[level] != ' ' && line[level] != '\t' {
		return Heading{}, false
	}
	title := strings.TrimSpace(line[level:])
	title = strings.TrimSpace(strings.TrimRight(title, "#"))
	if title == "" {
		return Heading{}, false
	}
	return Heading{Level: level, Title: title}, true
}

// BuildTree nests headings with a stack: deeper or equal levels are popped, the new node
// becomes a child of the remaining top, or a new root when the stack is empty.
func BuildTree(headings []Heading) []*models.TocNode {
	var (
		roots []*models.TocNode
		stack []*models.TocNode
	)
	for _, h := range headings {
		node := &models.TocNode{Title: h.Title, Level: h.Level}
		for len(stack) > 0 && stack[len(stack)-1].Level >= h.Level {
			stack = stack[:len(stack)-1]
		}
		if len(stack) == 0 {
			roots = append(roots, node)
		} else {
			parent := stack[len(stack)-1]
			parent.Children = append(parent.Children, node)
		}
		stack = append(stack, node)
	}
	return roots
}

// BuildToc extracts headings from text and returns the nested forest.
func BuildToc(text string) []*models.TocNode {
	return BuildTree(ExtractHeadings(text))
}

// RenderOutline renders the forest as an indented bullet list, two spaces per depth.
func RenderOutline(forest []*models.TocNode) string {
	var b strings.Builder
	var walk func(nodes []*models.TocNode, depth int)
	walk = func(nodes []*models.TocNode, depth int) {
		for _, n := range nodes {
			b.WriteString(strings.Repeat("  ", depth))
			b.WriteString("- ")
			b.WriteString(n.Title)
			b.WriteByte('\n')
			walk(n.Children, depth+1)
		}
	}
	walk(forest, 0)
	return b.String()
}

// ParseOutline reads an outline produced by RenderOutline. Levels are restored from depth,
// so a forest whose levels skip numbers comes back with contiguous levels.
func ParseOutline(outline string) []*models.TocNode {
	var headings []Heading
	for _, line := range strings.Split(outline, "\n") {
		trimmed := strings.TrimLeft(line, " ")
		if !strings.HasPrefix(trimmed, "- ") {
			continue
		}
		depth := (len(line) - len(trimmed)) / 2
		headings = append(headings, Heading{Level: depth + 1, Title: strings.TrimPrefix(trimmed, "- ")})
	}
	return BuildTree(headings)
}
