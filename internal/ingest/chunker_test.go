package ingest

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `# Router Guide

Intro paragraph about the router.

## Setup

Plug in the router and wait for the lights.

### Bridge Mode

Open the admin panel and toggle Bridge Mode under Advanced.

## Troubleshooting

If the internet drops, power cycle the router.
`

func TestSplitMarkdownHeadingPaths(t *testing.T) {
	chunks, err := SplitMarkdown("kb/router-guide.md", "v3", sampleDoc, DefaultChunkerConfig())
	require.NoError(t, err)
	require.Len(t, chunks, 4)

	keys := make([]string, 0, len(chunks))
	for _, c := range chunks {
		keys = append(keys, c.SectionKey)
		assert.Equal(t, "Router Guide", c.Title)
		assert.Equal(t, "kb/router-guide.md", c.Source)
		assert.Equal(t, "v3", c.Version)
	}
	assert.Equal(t, []string{
		"kb/router-guide.md#Router Guide",
		"kb/router-guide.md#Router Guide > Setup",
		"kb/router-guide.md#Router Guide > Setup > Bridge Mode",
		"kb/router-guide.md#Router Guide > Troubleshooting",
	}, keys)

	assert.Contains(t, chunks[2].Text, "toggle Bridge Mode")
	assert.Equal(t, "Router Guide > Troubleshooting", chunks[3].Section)
}

func TestSplitMarkdownPreamble(t *testing.T) {
	chunks, err := SplitMarkdown("kb/notes.md", "", "text before any heading\n\n# Later\n\nbody\n", DefaultChunkerConfig())
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, "kb/notes.md#_preamble", chunks[0].SectionKey)
	assert.Equal(t, "kb/notes.md#Later", chunks[1].SectionKey)
}

func TestSplitMarkdownIgnoresHeadingsInCodeFences(t *testing.T) {
	doc := "# Doc\n\nbody\n\n```\n# not a heading\n```\n\nmore body\n"
	chunks, err := SplitMarkdown("kb/doc.md", "", doc, DefaultChunkerConfig())
	require.NoError(t, err)

	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Text, "# not a heading")
}

func TestSplitMarkdownLongSectionOverlap(t *testing.T) {
	long := "# Doc\n\n" + strings.Repeat("alpha beta gamma delta epsilon ", 40)
	cfg := ChunkerConfig{ChunkSize: 300, ChunkOverlap: 60}

	chunks, err := SplitMarkdown("kb/long.md", "", long, cfg)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	seen := map[string]bool{}
	for _, c := range chunks {
		assert.False(t, seen[c.SectionKey], "section keys must stay unique: %s", c.SectionKey)
		seen[c.SectionKey] = true
		assert.LessOrEqual(t, len(c.Text), cfg.ChunkSize)
		assert.Equal(t, "Doc", c.Section)
	}

	// Consecutive pieces share text so boundary sentences stay findable.
	tail := chunks[0].Text[len(chunks[0].Text)-20:]
	assert.Contains(t, chunks[1].Text, strings.TrimSpace(tail[:10]))
}

func TestSplitMarkdownRejectsBadConfig(t *testing.T) {
	_, err := SplitMarkdown("s", "", "x", ChunkerConfig{ChunkSize: 0})
	assert.Error(t, err)

	_, err = SplitMarkdown("s", "", "x", ChunkerConfig{ChunkSize: 100, ChunkOverlap: 100})
	assert.Error(t, err)
}

func TestSplitWithOverlapShortTextPassthrough(t *testing.T) {
	pieces := splitWithOverlap("short", 100, 20)
	assert.Equal(t, []string{"short"}, pieces)
}

func TestSplitWithOverlapKeepsRunesIntact(t *testing.T) {
	// Whitespace-free multibyte text: every byte-offset cut falls inside a
	// rune unless the splitter snaps to a boundary.
	text := strings.Repeat("ルーター再起動手順の説明", 50)
	pieces := splitWithOverlap(text, 100, 20)
	require.Greater(t, len(pieces), 1)

	for i, p := range pieces {
		assert.True(t, utf8.ValidString(p), "piece %d holds invalid UTF-8: %q", i, p)
		assert.NotEmpty(t, p)
	}
}

func TestSplitWithOverlapTinyBudgetStillAdvances(t *testing.T) {
	// A chunk budget smaller than one rune must cut after the rune rather
	// than loop or emit invalid fragments.
	pieces := splitWithOverlap("日本語", 2, 1)
	require.NotEmpty(t, pieces)
	for _, p := range pieces {
		assert.True(t, utf8.ValidString(p))
	}
}

func TestParseHeading(t *testing.T) {
	tests := []struct {
		line  string
		level int
		text  string
	}{
		{"# Title", 1, "Title"},
		{"### Deep", 3, "Deep"},
		{"#NoSpace", 0, ""},
		{"plain text", 0, ""},
		{"####### too deep", 0, ""},
		{"#", 0, ""},
	}
	for _, tt := range tests {
		level, text := parseHeading(tt.line)
		assert.Equal(t, tt.level, level, "line: %q", tt.line)
		assert.Equal(t, tt.text, text, "line: %q", tt.line)
	}
}
