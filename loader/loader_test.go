package loader

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadText(t *testing.T) {
	assert := assert.New(t)

	path := filepath.Join(t.TempDir(), "cv.md")
	err := os.WriteFile(path, []byte("# Mark\r\nSenior engineer.\r\n"), 0600)
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	doc, err := Load(path)
	assert.NoError(err)
	assert.Equal(FormatMarkdown, doc.Format)
	assert.Equal("# Mark\nSenior engineer.\n", doc.Text)
	assert.Equal(path, doc.Source)
	assert.Equal("cv.md", doc.Metadata["filename"])
}

func TestLoadUnsupported(t *testing.T) {
	assert := assert.New(t)

	_, err := Load("resume.odt")
	assert.ErrorIs(err, ErrUnsupportedFormat)

	_, err = Load(filepath.Join(t.TempDir(), "missing.txt"))
	assert.ErrorIs(err, os.ErrNotExist)
}

func TestFormatOf(t *testing.T) {
	assert := assert.New(t)

	f, err := FormatOf("A.PDF")
	assert.NoError(err)
	assert.Equal(FormatPDF, f)

	f, err = FormatOf("notes.txt")
	assert.NoError(err)
	assert.Equal(FormatText, f)
}

const cvDocument = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>Mark Chen</w:t></w:r></w:p>
    <w:p><w:r><w:t>SENIOR BACKEND </w:t></w:r><w:r><w:t>ENGINEER / Data Engineer</w:t></w:r></w:p>
    <w:p></w:p>
    <w:tbl>
      <w:tr>
        <w:tc>
          <w:p><w:r><w:t>Language proficiency</w:t></w:r></w:p>
          <w:p><w:r><w:t>English  C1</w:t></w:r></w:p>
          <w:p><w:r><w:t>Mandarin</w:t></w:r></w:p>
          <w:p><w:r><w:t>Domains</w:t></w:r></w:p>
          <w:p><w:r><w:t>Logistics</w:t></w:r></w:p>
          <w:p><w:r><w:t>Certificates</w:t></w:r></w:p>
        </w:tc>
        <w:tc>
          <w:p><w:r><w:t>Builds</w:t><w:tab/><w:t>retrieval pipelines in Go.</w:t></w:r></w:p>
        </w:tc>
      </w:tr>
    </w:tbl>
  </w:body>
</w:document>`

const cvCore = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties" xmlns:dc="http://purl.org/dc/elements/1.1/">
  <dc:title>CV Mark Chen</dc:title>
</cp:coreProperties>`

func writeDocx(t *testing.T, files map[string]string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "cv.docx")

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	w := zip.NewWriter(f)
	for name, content := range files {
		fw, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}

		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}

	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	return path
}

func TestLoadDocx(t *testing.T) {
	assert := assert.New(t)

	path := writeDocx(t, map[string]string{
		"word/document.xml": cvDocument,
		"docProps/core.xml": cvCore,
	})

	doc, err := Load(path)
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	assert.Equal(FormatDocx, doc.Format)
	assert.Equal("Mark Chen\n"+
		"SENIOR BACKEND ENGINEER / Data Engineer\n"+
		"Language proficiency\n"+
		"English  C1\n"+
		"Mandarin\n"+
		"Domains\n"+
		"Logistics\n"+
		"Certificates\n"+
		"Builds\tretrieval pipelines in Go.", doc.Text)

	assert.Equal("CV Mark Chen", doc.Metadata["title"])
	assert.Equal("Mark Chen", doc.Metadata["candidate_name"])
	assert.Equal("SENIOR", doc.Metadata["level"])
	assert.Equal([]string{"backend engineer", "data engineer"}, doc.Metadata["roles"])
	assert.Equal([]string{"english c1", "mandarin"}, doc.Metadata["languages"])
	assert.Equal([]string{"logistics"}, doc.Metadata["domains"])
	assert.Equal("docx", doc.Metadata["format"])
	assert.Equal("cv.docx", doc.Metadata["filename"])
}

func TestLoadInvalidDocx(t *testing.T) {
	assert := assert.New(t)

	path := writeDocx(t, map[string]string{"docProps/core.xml": cvCore})
	_, err := Load(path)
	assert.ErrorIs(err, ErrInvalidDocx)

	path = filepath.Join(t.TempDir(), "plain.docx")
	if err := os.WriteFile(path, []byte("not a zip"), 0600); err != nil {
		assert.Fail(err.Error())
		return
	}

	_, err = Load(path)
	assert.ErrorIs(err, ErrInvalidDocx)

	path = writeDocx(t, map[string]string{"word/document.xml": "<w:document><w:body><w:p>"})
	_, err = Load(path)
	assert.ErrorIs(err, ErrInvalidDocx)
}
