// Package ingest turns markdown documentation into knowledge-base
// chunks and loads them into the similarity index.
//
// Chunking is heading-aware: the splitter tracks the heading path while
// it walks the document, so every chunk carries the section it belongs
// to and the section key the retrieval gate dedups on.
package ingest

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Chunk is one indexable slice of a document.
type Chunk struct {
	// SectionKey is source + "#" + the heading path, e.g.
	// "kb/router-guide.md#Setup > Bridge Mode". The gate's dedup unit.
	SectionKey string

	Text    string
	Title   string
	Section string
	Source  string
	Version string
}

// ChunkerConfig controls the splitter.
type ChunkerConfig struct {
	// ChunkSize is the target chunk length in bytes.
	ChunkSize int

	// ChunkOverlap is how many trailing bytes of a chunk are repeated at
	// the start of the next, so sentences cut at a boundary stay findable.
	ChunkOverlap int
}

// DefaultChunkerConfig returns the splitter settings the system ships with.
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{ChunkSize: 1000, ChunkOverlap: 200}
}

// section is a contiguous run of body text under one heading path.
type section struct {
	path []string
	text strings.Builder
}

// SplitMarkdown chunks one markdown document. source identifies the
// document (typically its repo-relative path); version is carried
// through to citations and may be empty.
func SplitMarkdown(source, version, content string, cfg ChunkerConfig) ([]Chunk, error) {
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("ingest: chunk size must be positive, got %d", cfg.ChunkSize)
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("ingest: overlap %d must be in [0, chunk size)", cfg.ChunkOverlap)
	}

	sections := splitSections(content)

	// The document title is the first top-level heading, falling back to
	// the source path for heading-less documents.
	title := source
	for _, sec := range sections {
		if len(sec.path) > 0 {
			title = sec.path[0]
			break
		}
	}

	var chunks []Chunk
	for _, sec := range sections {
		body := strings.TrimSpace(sec.text.String())
		if body == "" {
			continue
		}

		sectionPath := strings.Join(sec.path, " > ")
		key := source + "#" + sectionPath
		if sectionPath == "" {
			key = source + "#_preamble"
			sectionPath = "_preamble"
		}

		for i, piece := range splitWithOverlap(body, cfg.ChunkSize, cfg.ChunkOverlap) {
			chunkKey := key
			if i > 0 {
				// Distinct keys per slice keep the dedup invariant meaningful
				// while still grouping slices under the section in citations.
				chunkKey = fmt.Sprintf("%s~%d", key, i)
			}
			chunks = append(chunks, Chunk{
				SectionKey: chunkKey,
				Text:       piece,
				Title:      title,
				Section:    sectionPath,
				Source:     source,
				Version:    version,
			})
		}
	}
	return chunks, nil
}

// splitSections walks the document line by line, maintaining the heading
// path as a stack keyed by heading level.
func splitSections(content string) []*section {
	var (
		sections []*section
		current  = &section{}
		path     []string
		levels   []int
		inFence  bool
	)
	sections = append(sections, current)

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			current.text.WriteString(line)
			current.text.WriteByte('\n')
			continue
		}

		level, heading := parseHeading(trimmed)
		if inFence || level == 0 {
			current.text.WriteString(line)
			current.text.WriteByte('\n')
			continue
		}

		// Pop headings at the same or deeper level, then push this one.
		for len(levels) > 0 && levels[len(levels)-1] >= level {
			levels = levels[:len(levels)-1]
			path = path[:len(path)-1]
		}
		levels = append(levels, level)
		path = append(path, heading)

		current = &section{path: append([]string(nil), path...)}
		sections = append(sections, current)
	}
	return sections
}

func parseHeading(line string) (level int, text string) {
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level == 0 || level > 6 || level == len(line) || line[level] != ' ' {
		return 0, ""
	}
	return level, strings.TrimSpace(line[level:])
}

// splitWithOverlap cuts text into pieces of at most size bytes, starting
// each piece overlap bytes before the end of the previous one. Cuts
// prefer whitespace near the boundary so words stay intact.
func splitWithOverlap(text string, size, overlap int) []string {
	if len(text) <= size {
		return []string{text}
	}

	var pieces []string
	start := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			pieces = append(pieces, strings.TrimSpace(text[start:]))
			break
		}

		cut := end
		if idx := strings.LastIndexAny(text[start:end], " \n\t"); idx > size/2 {
			cut = start + idx
		}
		// Never cut mid-rune; an invalid UTF-8 fragment would reach the
		// embedding API. Snap back to the nearest rune start, or past the
		// rune when the budget is smaller than the rune itself.
		for cut > start && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if cut == start {
			_, n := utf8.DecodeRuneInString(text[start:])
			cut = start + n
		}
		pieces = append(pieces, strings.TrimSpace(text[start:cut]))

		next := cut - overlap
		for next > start && !utf8.RuneStart(text[next]) {
			next--
		}
		if next <= start {
			next = cut
		}
		start = next
	}

	out := pieces[:0]
	for _, p := range pieces {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
