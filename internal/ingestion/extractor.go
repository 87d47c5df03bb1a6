package ingestion

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrUnsupportedType = errors.New("unsupported file type")

// ExtractText returns the plain text of a local file based on its extension.
func ExtractText(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".txt", ".md":
		b, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(b), nil
	case ".csv":
		return extractCSV(path)
	case ".pdf":
		return ExtractTextFromPDF(path)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, ext)
	}
}

// extractCSV renders each row as "header: value" pairs so price tables keep
// their column names after chunking. Rows are separated by blank lines.
func extractCSV(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return "", fmt.Errorf("reading csv: %w", err)
	}
	if len(records) == 0 {
		return "", nil
	}

	header := records[0]
	var sb strings.Builder
	for _, row := range records[1:] {
		pairs := make([]string, 0, len(row))
		for i, v := range row {
			if strings.TrimSpace(v) == "" {
				continue
			}
			name := fmt.Sprintf("col%d", i+1)
			if i < len(header) && header[i] != "" {
				name = header[i]
			}
			pairs = append(pairs, name+": "+v)
		}
		if len(pairs) == 0 {
			continue
		}
		sb.WriteString(strings.Join(pairs, ", "))
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String()), nil
}
