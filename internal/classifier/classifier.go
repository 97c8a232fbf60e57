// Package classifier resolves free-form labels against a project's domain tree.
package classifier

import (
	"sort"
	"strings"

	"github.com/hyperjump/dataforge/internal/models"
)

// Uncategorized is the label of anything that does not resolve to a tag.
const Uncategorized = "uncategorized"

// PathSep joins labels of a tag path, e.g. "Finance > Tax > VAT".
const PathSep = " > "

// Match is a tag matched by exact label.
type Match struct {
	Node  *models.Tag
	Depth int      // 1 for roots
	Path  []string // labels from the root down to Node
}

// Key returns the path joined with PathSep.
func (m Match) Key() string {
	return strings.Join(m.Path, PathSep)
}

// Resolve returns the label of the deepest tag whose label equals label exactly, or
// Uncategorized when label is empty or matches nothing.
func Resolve(label string, forest []*models.Tag) string {
	m, ok := MatchLabel(label, forest)
	if !ok {
		return Uncategorized
	}
	return m.Node.Label
}

// MatchLabel walks the whole forest in pre-order and returns the deepest exact match.
// Among matches at the same depth the first one visited wins.
func MatchLabel(label string, forest []*models.Tag) (Match, bool) {
	if label == "" {
		return Match{}, false
	}
	var (
		best  Match
		found bool
		path  []string
	)
	var walk func(nodes []*models.Tag, depth int)
	walk = func(nodes []*models.Tag, depth int) {
		for _, n := range nodes {
			if n == nil {
				continue
			}
			path = append(path, n.Label)
			if n.Label == label && (!found || depth > best.Depth) {
				best = Match{Node: n, Depth: depth, Path: append([]string(nil), path...)}
				found = true
			}
			walk(n.Children, depth+1)
			path = path[:len(path)-1]
		}
	}
	walk(forest, 1)
	return best, found
}

// Labels flattens the forest's labels in pre-order.
func Labels(forest []*models.Tag) []string {
	var out []string
	var walk func(nodes []*models.Tag)
	walk = func(nodes []*models.Tag) {
		for _, n := range nodes {
			if n == nil {
				continue
			}
			out = append(out, n.Label)
			walk(n.Children)
		}
	}
	walk(forest)
	return out
}

// TagCount is the number of questions resolved to one tag path.
type TagCount struct {
	Path  string `json:"path"`
	Label string `json:"label"`
	Depth int    `json:"depth"`
	Count int    `json:"count"`
}

// Report is a per-tag tally of questions.
type Report struct {
	Total         int        `json:"total"`
	Uncategorized int        `json:"uncategorized"`
	Tags          []TagCount `json:"tags"`
}

// Tally resolves every question's label against forest and counts them per tag path.
// It is recomputed on every call; the result is never stored on the questions.
func Tally(questions []*models.Question, forest []*models.Tag) Report {
	counts := make(map[string]*TagCount)
	rep := Report{Total: len(questions)}
	for _, q := range questions {
		m, ok := MatchLabel(q.Label, forest)
		if !ok {
			rep.Uncategorized++
			continue
		}
		key := m.Key()
		tc, exists := counts[key]
		if !exists {
			tc = &TagCount{Path: key, Label: m.Node.Label, Depth: m.Depth}
			counts[key] = tc
		}
		tc.Count++
	}
	rep.Tags = make([]TagCount, 0, len(counts))
	for _, tc := range counts {
		rep.Tags = append(rep.Tags, *tc)
	}
	sort.Slice(rep.Tags, func(i, j int) bool {
		if rep.Tags[i].Count != rep.Tags[j].Count {
			return rep.Tags[i].Count > rep.Tags[j].Count
		}
		return rep.Tags[i].Path < rep.Tags[j].Path
	})
	return rep
}
