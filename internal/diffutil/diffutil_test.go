package diffutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareIdenticalBlobsHasNoChanges(t *testing.T) {
	result := Compare([]byte("same\ntext\n"), []byte("same\ntext\n"))
	assert.False(t, result.HasChanges)
	assert.Empty(t, result.Lines)
}

func TestCompareDetectsAddedAndRemovedLines(t *testing.T) {
	result := Compare([]byte("line1\nline2\n"), []byte("line1\nline3\n"))
	require.True(t, result.HasChanges)
	assert.Equal(t, 1, result.Stats.LinesAdded)
	assert.Equal(t, 1, result.Stats.LinesRemoved)
}

func TestCompareLabeledUsesGivenLabelsInUnifiedHeader(t *testing.T) {
	result := CompareLabeled([]byte("a\n"), []byte("b\n"), "note.txt (v1)", "note.txt (v2)")
	assert.Contains(t, result.UnifiedDiff, "--- note.txt (v1)")
	assert.Contains(t, result.UnifiedDiff, "+++ note.txt (v2)")
}

func TestCompareLineNumbersTrackContext(t *testing.T) {
	result := Compare([]byte("a\nb\nc\n"), []byte("a\nx\nc\n"))
	require.True(t, result.HasChanges)

	var removed, added Line
	for _, l := range result.Lines {
		if l.Type == LineRemoved {
			removed = l
		}
		if l.Type == LineAdded {
			added = l
		}
	}
	assert.Equal(t, 2, removed.OldLineNum)
	assert.Equal(t, 2, added.NewLineNum)
}
