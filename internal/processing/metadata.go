package processing

import (
	"path/filepath"
	"strings"
	"time"
)

// Source tags stored with every indexed chunk.
const (
	SourceNews      = "news"
	SourceStockData = "stock_data"
)

type Metadata struct {
	Path       string
	SourceTag  string
	Link       string
	ImportedAt time.Time
	Title      string
}

// NewMetadata describes a local file. The source tag comes from override
// when set, otherwise from the first directory on the path that names one.
func NewMetadata(path, override string) Metadata {
	tag := override
	if tag == "" {
		tag = InferSourceTag(path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return Metadata{
		Path:       path,
		SourceTag:  tag,
		Link:       "file://" + filepath.ToSlash(abs),
		ImportedAt: time.Now().UTC(),
		Title:      strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
	}
}

// InferSourceTag maps folder names like "news" or "stocks" to a source tag.
// Files outside such folders are tagged as news.
func InferSourceTag(path string) string {
	dir := filepath.Dir(filepath.ToSlash(path))
	parts := strings.Split(filepath.ToSlash(dir), "/")
	for i := len(parts) - 1; i >= 0; i-- {
		switch strings.ToLower(parts[i]) {
		case "news", "articles", "headlines":
			return SourceNews
		case "stocks", "stock", "stock_data", "prices", "quotes":
			return SourceStockData
		}
	}
	return SourceNews
}
