package processing

import (
	"regexp"
	"strings"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

var paragraphBreak = regexp.MustCompile(`\n{2,}`)

// ChunkText splits text on blank lines and cuts long paragraphs into windows
// of size runes that share overlap runes with their predecessor.
func ChunkText(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var out []string
	for _, p := range paragraphBreak.Split(text, -1) {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, splitLong(p, size, overlap)...)
	}
	return out
}

func splitLong(s string, max, overlap int) []string {
	runes := []rune(s)
	if len(runes) <= max {
		return []string{s}
	}
	var res []string
	for i := 0; i < len(runes); i += max - overlap {
		end := i + max
		if end > len(runes) {
			end = len(runes)
		}
		if piece := strings.TrimSpace(string(runes[i:end])); piece != "" {
			res = append(res, piece)
		}
		if end == len(runes) {
			break
		}
	}
	return res
}
