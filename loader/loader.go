// Package loader reads source files into plain text documents.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

var ErrUnsupportedFormat = errors.New("unsupported document format")

type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatPDF      Format = "pdf"
	FormatDocx     Format = "docx"
)

type Document struct {
	Source   string
	Format   Format
	Text     string
	Metadata map[string]any
}

func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".text":
		return FormatText, nil
	case ".md", ".markdown":
		return FormatMarkdown, nil
	case ".pdf":
		return FormatPDF, nil
	case ".docx":
		return FormatDocx, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Load reads the file at path and extracts its text. Word documents also
// yield the profile fields of the CV layout as metadata.
func Load(path string) (Document, error) {
	format, err := FormatOf(path)
	if err != nil {
		return Document{}, err
	}

	meta := make(map[string]any)

	var text string
	switch format {
	case FormatPDF:
		text, err = readPDF(path)

	case FormatDocx:
		var d docx
		d, err = readDocx(path)
		if err == nil {
			text = d.Text()
			meta = profile(d.Paragraphs)

			if d.Title != "" {
				meta["title"] = d.Title
			}
		}

	default:
		text, err = readText(path)
	}

	if err != nil {
		return Document{}, fmt.Errorf("load %s: %w", path, err)
	}

	meta["filename"] = filepath.Base(path)
	meta["format"] = string(format)

	return Document{
		Source:   path,
		Format:   format,
		Text:     text,
		Metadata: meta,
	}, nil
}

func readText(path string) (string, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	return string(bytes.ReplaceAll(bs, []byte("\r\n"), []byte("\n"))), nil
}

func readPDF(path string) (string, error) {
	f, rdr, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	b, err := rdr.GetPlainText()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, b); err != nil {
		return "", err
	}

	return buf.String(), nil
}
