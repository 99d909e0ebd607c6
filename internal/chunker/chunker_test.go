package chunker

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	t.Parallel()

	got := Split("  hello world.  ", DefaultSize, DefaultOverlap)
	require.Equal(t, []string{"hello world."}, got)
	require.Nil(t, Split("   \n ", DefaultSize, DefaultOverlap))
}

func TestSplit_NoBreaksThreeChunks(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("a", 1000) + strings.Repeat("b", 1000) + strings.Repeat("c", 500)
	got := Split(text, 1000, 200)

	require.Len(t, got, 3)
	require.Len(t, got[0], 1000)
	require.Len(t, got[1], 1000)
	require.Len(t, got[2], 900)
	require.Equal(t, text[0:1000], got[0])
	require.Equal(t, text[800:1800], got[1])
	require.Equal(t, text[1600:2500], got[2])
}

func TestSplit_BreaksAtSentenceBoundary(t *testing.T) {
	t.Parallel()

	first := strings.Repeat("x", 700) + "."
	text := first + strings.Repeat("y", 900)
	got := Split(text, 1000, 200)

	require.Equal(t, first, got[0])
	require.Equal(t, text[501:1501], got[1])
}

func TestSplit_IgnoresEarlyBreak(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("x", 100) + "." + strings.Repeat("y", 1500)
	got := Split(text, 1000, 200)

	require.Len(t, got[0], 1000)
}

func TestSplit_BreakMidpointIsRelativeToWindow(t *testing.T) {
	t.Parallel()

	// The '.' sits at offset 1200, which is 400 into the second window.
	text := strings.Repeat("a", 1200) + "." + strings.Repeat("b", 799)
	got := Split(text, 1000, 200)

	require.Len(t, got, 3)
	require.Equal(t, text[800:1800], got[1])
	require.Equal(t, text[1600:], got[2])
}

func TestSplit_NewlineCountsAsBreak(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("x", 899) + "\n" + strings.Repeat("y", 600)
	got := Split(text, 1000, 200)

	require.Equal(t, strings.Repeat("x", 899), got[0])
}

func TestSplit_Properties(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	for i := 0; b.Len() < 7300; i++ {
		b.WriteString("Sentence")
		b.WriteString(strings.Repeat("z", i%37))
		b.WriteString(".")
	}
	text := b.String()
	const size, overlap = 1000, 200

	first := Split(text, size, overlap)
	second := Split(text, size, overlap)
	require.Equal(t, first, second, "splitting must be deterministic")

	rebuilt := first[0]
	for i := 1; i < len(first); i++ {
		prev, cur := first[i-1], first[i]
		require.NotEmpty(t, cur)
		require.LessOrEqual(t, len(prev), size)
		require.GreaterOrEqual(t, len(cur), overlap)
		require.Equal(t, prev[len(prev)-overlap:], cur[:overlap], "chunk %d must overlap its predecessor", i)
		rebuilt += cur[overlap:]
	}
	require.Equal(t, text, rebuilt)
}

func TestSplit_MultibyteRunesNotSplit(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("é", 1500)
	got := Split(text, 1000, 200)

	require.Len(t, got, 2)
	require.Equal(t, 1000, len([]rune(got[0])))
	require.Equal(t, 700, len([]rune(got[1])))
}

func TestChunker_ChunksCarryMetadata(t *testing.T) {
	t.Parallel()

	c := New(Config{Size: 10, Overlap: 2})
	now := time.Unix(1700000000, 0)
	chunks := c.Chunks("abcdefghijklmnopqrstuvwxyz", "https://scouts.ca/a", "text/html", now)

	require.NotEmpty(t, chunks)
	for i, ch := range chunks {
		require.Equal(t, i, ch.Index)
		require.Equal(t, "https://scouts.ca/a", ch.SourceURL)
		require.Equal(t, "text/html", ch.MediaType)
		require.Equal(t, now, ch.ExtractedAt)
		require.LessOrEqual(t, len(ch.Text), 10)
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	c := New(Config{})
	require.Equal(t, DefaultSize, c.cfg.Size)
	require.Equal(t, DefaultOverlap, c.cfg.Overlap)

	c = New(Config{Size: 100, Overlap: 150})
	require.Equal(t, 50, c.cfg.Overlap)
}
