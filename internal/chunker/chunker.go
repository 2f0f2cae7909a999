// internal/chunker/chunker.go

// Package chunker splits file content into embeddable chunks.
package chunker

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

// Chunk is one embeddable slice of a file.
type Chunk struct {
	Index     int
	Content   string
	StartLine int // 1-based, inclusive
	EndLine   int
}

// Chunker is a pure function from file content to chunks. Zero chunks
// means the file has nothing to embed (empty or binary).
type Chunker interface {
	Chunk(content []byte, path string) []Chunk
}

// LineWindow chunks by sliding a fixed-size line window with overlap.
type LineWindow struct {
	Lines   int // window size in lines
	Overlap int // lines shared between consecutive windows
}

var _ Chunker = LineWindow{}

// NewLineWindow builds a LineWindow, clamping nonsense values.
func NewLineWindow(lines, overlap int) LineWindow {
	if lines <= 0 {
		lines = 80
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= lines {
		overlap = lines - 1
	}
	return LineWindow{Lines: lines, Overlap: overlap}
}

// Chunk splits content into line windows. Binary or empty content
// yields nil.
func (w LineWindow) Chunk(content []byte, path string) []Chunk {
	if len(content) == 0 || isBinary(content) {
		return nil
	}

	lines := strings.Split(strings.ReplaceAll(string(content), "\r\n", "\n"), "\n")
	// Drop a sole trailing empty line left by a final newline.
	if n := len(lines); n > 1 && lines[n-1] == "" {
		lines = lines[:n-1]
	}

	step := w.Lines - w.Overlap
	var chunks []Chunk
	for start := 0; start < len(lines); start += step {
		end := start + w.Lines
		if end > len(lines) {
			end = len(lines)
		}
		text := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(text) != "" {
			chunks = append(chunks, Chunk{
				Index:     len(chunks),
				Content:   text,
				StartLine: start + 1,
				EndLine:   end,
			})
		}
		if end == len(lines) {
			break
		}
	}
	return chunks
}

// isBinary uses the same heuristic as git: a NUL byte in the head of the
// file, or content that is not valid UTF-8.
func isBinary(content []byte) bool {
	head := content
	if len(head) > 8000 {
		head = head[:8000]
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return true
	}
	return !utf8.Valid(content)
}
