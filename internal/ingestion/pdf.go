package ingestion

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	pdf "github.com/ledongthuc/pdf"
)

// ErrNoText marks a supported file that yields no indexable text.
var ErrNoText = errors.New("no extractable text")

// ErrNoTextLayer marks a scanned PDF: neither the embedded text layer nor
// pdftotext produced anything. Such files need OCR before indexing.
var ErrNoTextLayer = fmt.Errorf("%w: pdf has no text layer", ErrNoText)

type pdfSource func(path string) (string, error)

// pdfExtractor reads the text layer first and only consults fallback when
// the layer is blank.
type pdfExtractor struct {
	layer    pdfSource
	fallback pdfSource
}

var defaultPDF = pdfExtractor{layer: readTextLayer, fallback: runPDFToText}

// ExtractTextFromPDF returns the text of a PDF bulletin or report. It
// returns ErrNoTextLayer for image-only documents.
func ExtractTextFromPDF(path string) (string, error) {
	return defaultPDF.extract(path)
}

func (x pdfExtractor) extract(path string) (string, error) {
	text, err := x.layer(path)
	if err != nil {
		return "", fmt.Errorf("reading pdf %s: %w", path, err)
	}
	if text = strings.TrimSpace(text); text != "" {
		return text, nil
	}
	if x.fallback != nil {
		// pdftotext missing or failing is the same as finding nothing
		if out, err := x.fallback(path); err == nil {
			if out = strings.TrimSpace(out); out != "" {
				return out, nil
			}
		}
	}
	return "", fmt.Errorf("%s: %w", path, ErrNoTextLayer)
}

func readTextLayer(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	b, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, b); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func runPDFToText(path string) (string, error) {
	out, err := exec.Command("pdftotext", "-layout", path, "-").Output()
	return string(out), err
}
