// Package cli provides output writers for the dataforge command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hyperjump/dataforge/internal/classifier"
	"github.com/hyperjump/dataforge/internal/models"
	"github.com/hyperjump/dataforge/internal/pipeline"
	"github.com/hyperjump/dataforge/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat maps a flag value to a format. Empty selects text.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text or json)", s)
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes chunk search hits to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms\n\n", response.Total, response.QueryTime)
	for i, hit := range response.Hits {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Score: %.4f\n", i+1, hit.Score)
		fmt.Fprintf(w, "Chunk: %s (document %s)\n", hit.Name, hit.DocumentID)
		if hit.Snippet != "" {
			fmt.Fprintf(w, "\n%s\n", utils.Truncate(hit.Snippet, 200))
		}
		fmt.Fprintln(w)
	}
	return nil
}

// WriteStageReport writes the outcome of one pipeline stage.
func WriteStageReport(w io.Writer, rep *pipeline.StageReport, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, rep)
	}
	writeStageReportText(w, rep)
	return nil
}

func writeStageReportText(w io.Writer, rep *pipeline.StageReport) {
	fmt.Fprintf(w, "%s: %d/%d succeeded, %d failed, %d created (%s)\n",
		rep.Stage, rep.Summary.SuccessCount, rep.Summary.Total, rep.Summary.FailCount, rep.Created, rep.Duration.Round(time.Millisecond))
	for _, f := range rep.Failed {
		fmt.Fprintf(w, "  failed %s: %s\n", f.Key, f.Error)
	}
}

// WriteRunReport writes the stage reports of a full run.
func WriteRunReport(w io.Writer, rep *pipeline.RunReport, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, rep)
	}
	for _, r := range []*pipeline.StageReport{rep.Questions, rep.Label, rep.Answers} {
		if r != nil {
			writeStageReportText(w, r)
		}
	}
	return nil
}

// WriteToc writes a table of contents as an indented outline.
func WriteToc(w io.Writer, toc []*models.TocNode, format OutputFormat) error {
	if format == OutputJSON {
		if toc == nil {
			toc = []*models.TocNode{}
		}
		return WriteJSON(w, toc)
	}
	var walk func(nodes []*models.TocNode, depth int)
	walk = func(nodes []*models.TocNode, depth int) {
		for _, n := range nodes {
			fmt.Fprintf(w, "%s- %s\n", strings.Repeat("  ", depth), n.Title)
			walk(n.Children, depth+1)
		}
	}
	walk(toc, 0)
	return nil
}

// WriteChunks writes chunk names, lengths and the start of their content.
func WriteChunks(w io.Writer, chunks []*models.Chunk, format OutputFormat) error {
	if format == OutputJSON {
		if chunks == nil {
			chunks = []*models.Chunk{}
		}
		return WriteJSON(w, chunks)
	}
	fmt.Fprintf(w, "%d chunks\n", len(chunks))
	for _, c := range chunks {
		fmt.Fprintf(w, "[%d] %s (%d chars): %s\n", c.Ordinal, c.Name, c.Length,
			utils.Truncate(strings.Join(strings.Fields(c.Content), " "), 80))
	}
	return nil
}

// TagsOutput is the tag tree of a project with its question tally.
type TagsOutput struct {
	Tags   []*models.Tag     `json:"tags"`
	Report classifier.Report `json:"report"`
}

// WriteTags writes a project's tag tree and how many questions resolve to each tag.
func WriteTags(w io.Writer, out TagsOutput, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, out)
	}
	counts := make(map[string]int, len(out.Report.Tags))
	for _, tc := range out.Report.Tags {
		counts[tc.Path] = tc.Count
	}
	var walk func(nodes []*models.Tag, path []string)
	walk = func(nodes []*models.Tag, path []string) {
		for _, n := range nodes {
			p := append(append([]string(nil), path...), n.Label)
			fmt.Fprintf(w, "%s- %s (%d)\n", strings.Repeat("  ", len(path)), n.Label, counts[strings.Join(p, classifier.PathSep)])
			walk(n.Children, p)
		}
	}
	walk(out.Tags, nil)
	fmt.Fprintf(w, "%s: %d of %d questions\n", classifier.Uncategorized, out.Report.Uncategorized, out.Report.Total)
	return nil
}

// WriteProjects writes a project listing.
func WriteProjects(w io.Writer, projects []*models.Project, format OutputFormat) error {
	if format == OutputJSON {
		if projects == nil {
			projects = []*models.Project{}
		}
		return WriteJSON(w, projects)
	}
	for _, p := range projects {
		if p.Description != "" {
			fmt.Fprintf(w, "%s  %s  %s\n", p.ID, p.Name, TruncateWords(p.Description, 12))
			continue
		}
		fmt.Fprintf(w, "%s  %s\n", p.ID, p.Name)
	}
	return nil
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
