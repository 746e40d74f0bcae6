// Package diffutil renders a unified, line-structured diff between two
// version blobs for conflict inspection.
package diffutil

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// LineType classifies a rendered diff line.
type LineType string

const (
	LineContext LineType = "context"
	LineAdded   LineType = "added"
	LineRemoved LineType = "removed"
)

// Line is a single rendered diff line.
type Line struct {
	Type       LineType `json:"type"`
	OldLineNum int      `json:"old_line_num,omitempty"`
	NewLineNum int      `json:"new_line_num,omitempty"`
	Content    string   `json:"content"`
}

// Stats summarizes a diff.
type Stats struct {
	LinesAdded   int `json:"lines_added"`
	LinesRemoved int `json:"lines_removed"`
}

// Result is the full structured diff between two blobs.
type Result struct {
	UnifiedDiff string `json:"unified_diff"`
	Lines       []Line `json:"lines"`
	Stats       Stats  `json:"stats"`
	HasChanges  bool   `json:"has_changes"`
}

// Compare diffs two byte blobs as text, line by line.
func Compare(oldContent, newContent []byte) *Result {
	return CompareLabeled(oldContent, newContent, "old", "new")
}

// CompareLabeled diffs two blobs and labels the unified-diff header with
// the given names (e.g. "note.txt (v1)" / "note.txt (v2)").
func CompareLabeled(oldContent, newContent []byte, oldLabel, newLabel string) *Result {
	result := &Result{Lines: []Line{}}

	oldText, newText := string(oldContent), string(newContent)
	if oldText == newText {
		return result
	}
	result.HasChanges = true

	dmp := diffmatchpatch.New()
	oldLines, newLines, lineArray := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffMain(oldLines, newLines, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)
	diffs = dmp.DiffCleanupSemantic(diffs)

	result.UnifiedDiff = unifiedDiff(diffs, oldLabel, newLabel)
	result.Lines, result.Stats = lineDiff(diffs)
	return result
}

func unifiedDiff(diffs []diffmatchpatch.Diff, oldLabel, newLabel string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "--- %s\n", oldLabel)
	fmt.Fprintf(&sb, "+++ %s\n", newLabel)

	for _, d := range diffs {
		for _, line := range splitLines(d.Text) {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				fmt.Fprintf(&sb, " %s\n", line)
			case diffmatchpatch.DiffDelete:
				fmt.Fprintf(&sb, "-%s\n", line)
			case diffmatchpatch.DiffInsert:
				fmt.Fprintf(&sb, "+%s\n", line)
			}
		}
	}
	return sb.String()
}

func lineDiff(diffs []diffmatchpatch.Diff) ([]Line, Stats) {
	var lines []Line
	var stats Stats
	oldNum, newNum := 1, 1

	for _, d := range diffs {
		for _, content := range splitLines(d.Text) {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				lines = append(lines, Line{Type: LineContext, OldLineNum: oldNum, NewLineNum: newNum, Content: content})
				oldNum++
				newNum++
			case diffmatchpatch.DiffDelete:
				lines = append(lines, Line{Type: LineRemoved, OldLineNum: oldNum, Content: content})
				oldNum++
				stats.LinesRemoved++
			case diffmatchpatch.DiffInsert:
				lines = append(lines, Line{Type: LineAdded, NewLineNum: newNum, Content: content})
				newNum++
				stats.LinesAdded++
			}
		}
	}
	return lines, stats
}

func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
