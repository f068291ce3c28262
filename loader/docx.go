package loader

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

var ErrInvalidDocx = errors.New("invalid docx document")

const (
	docxBody = "word/document.xml"
	docxCore = "docProps/core.xml"
)

// docx holds the paragraphs of word/document.xml in reading order, table
// cells included, and the title from docProps/core.xml.
type docx struct {
	Title      string
	Paragraphs []string
}

func (d docx) Text() string {
	return strings.Join(d.Paragraphs, "\n")
}

func readDocx(path string) (docx, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return docx{}, fmt.Errorf("%w: %w", ErrInvalidDocx, err)
	}
	defer r.Close()

	var (
		doc   docx
		found bool
	)

	for _, f := range r.File {
		switch f.Name {
		case docxBody:
			paragraphs, err := readZipXML(f, parseParagraphs)
			if err != nil {
				return docx{}, err
			}

			doc.Paragraphs = paragraphs
			found = true

		case docxCore:
			title, err := readZipXML(f, parseTitle)
			if err == nil {
				doc.Title = title
			}
		}
	}

	if !found {
		return docx{}, fmt.Errorf("%w: %s missing", ErrInvalidDocx, docxBody)
	}

	return doc, nil
}

func readZipXML[T any](f *zip.File, parse func(io.Reader) (T, error)) (T, error) {
	var zero T

	rc, err := f.Open()
	if err != nil {
		return zero, fmt.Errorf("%w: %w", ErrInvalidDocx, err)
	}
	defer rc.Close()

	return parse(rc)
}

// parseParagraphs walks the document tokens. Every w:p becomes one
// paragraph; empty paragraphs are dropped.
func parseParagraphs(r io.Reader) ([]string, error) {
	dec := xml.NewDecoder(r)

	var (
		paragraphs []string
		current    strings.Builder
		inText     bool
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDocx, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				current.WriteString("\t")
			case "br", "cr":
				current.WriteString(" ")
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if p := strings.TrimSpace(current.String()); p != "" {
					paragraphs = append(paragraphs, p)
				}
				current.Reset()
			}

		case xml.CharData:
			if inText {
				current.Write(t)
			}
		}
	}

	return paragraphs, nil
}

func parseTitle(r io.Reader) (string, error) {
	var core struct {
		Title string `xml:"title"`
	}

	if err := xml.NewDecoder(r).Decode(&core); err != nil {
		return "", err
	}

	return strings.TrimSpace(core.Title), nil
}

var positionLevels = regexp.MustCompile(`(?i)\b(SENIOR|JUNIOR|MIDDLE|LEAD|INTERNSHIP|INTERN|ENTRY[- ]LEVEL|PRINCIPAL|STAFF)\b`)

// profile reads the CV layout: the name on the first paragraph, level and
// roles on the second, and marked sections for languages and domains.
func profile(paragraphs []string) map[string]any {
	meta := make(map[string]any)

	if len(paragraphs) == 0 {
		return meta
	}

	meta["candidate_name"] = paragraphs[0]

	if len(paragraphs) > 1 {
		position := paragraphs[1]

		if loc := positionLevels.FindStringIndex(position); loc != nil {
			level := strings.ToUpper(position[loc[0]:loc[1]])
			meta["level"] = strings.ReplaceAll(level, " ", "-")
			position = position[:loc[0]] + position[loc[1]:]
		}

		var roles []string
		for _, role := range strings.Split(position, "/") {
			if role = normalize(role); role != "" {
				roles = append(roles, role)
			}
		}

		if len(roles) > 0 {
			meta["roles"] = roles
		}
	}

	if languages := section(paragraphs, "Language proficiency", "Domains"); len(languages) > 0 {
		meta["languages"] = languages
	}

	if domains := section(paragraphs, "Domains", "Certificates"); len(domains) > 0 {
		meta["domains"] = domains
	}

	return meta
}

// section returns the normalized paragraphs between two marker paragraphs.
// A missing end marker runs the section to the end of the document.
func section(paragraphs []string, begin, end string) []string {
	start := -1
	for i, p := range paragraphs {
		if strings.EqualFold(p, begin) {
			start = i + 1
			break
		}
	}

	if start < 0 {
		return nil
	}

	var out []string
	for _, p := range paragraphs[start:] {
		if strings.EqualFold(p, end) {
			break
		}

		out = append(out, normalize(p))
	}

	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
