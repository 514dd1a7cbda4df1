package parse

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDocx(t *testing.T, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.docx")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

const docxXMLHeader = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`

func docxBody(inner string) string {
	return docxXMLHeader +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		inner + `</w:body></w:document>`
}

func TestDocxParser_HeadingsAndText(t *testing.T) {
	path := writeDocx(t, map[string]string{
		"word/document.xml": docxBody(
			`<w:p><w:r><w:t>Opening paragraph.</w:t></w:r></w:p>` +
				`<w:p><w:pPr><w:pStyle w:val="Heading1"/></w:pPr><w:r><w:t>Terms</w:t></w:r></w:p>` +
				`<w:p><w:r><w:t>Payment is due </w:t></w:r><w:r><w:t>in 30 days.</w:t></w:r></w:p>` +
				`<w:p><w:pPr><w:pStyle w:val="Heading2"/></w:pPr><w:r><w:t>Refunds</w:t></w:r></w:p>` +
				`<w:p><w:r><w:t>No refunds after 90 days.</w:t></w:r></w:p>`),
	})

	doc, err := NewDocxParser().Parse(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "doc", doc.Title)
	require.Len(t, doc.Sections, 3)

	assert.Empty(t, doc.Sections[0].Heading)
	assert.Equal(t, "Opening paragraph.", doc.Sections[0].Text)

	assert.Equal(t, "Terms", doc.Sections[1].Heading)
	assert.Equal(t, "Terms\nPayment is due in 30 days.", doc.Sections[1].Text)

	assert.Equal(t, "Refunds", doc.Sections[2].Heading)
	assert.Contains(t, doc.Sections[2].Text, "No refunds after 90 days.")
	assert.Zero(t, doc.Sections[2].Page, "no page breaks means no page numbers")
}

func TestDocxParser_PageBreaks(t *testing.T) {
	// Given: a document whose fact spans an explicit page break
	path := writeDocx(t, map[string]string{
		"word/document.xml": docxBody(
			`<w:p><w:r><w:t>The invoice total is</w:t></w:r></w:p>` +
				`<w:p><w:r><w:br w:type="page"/></w:r></w:p>` +
				`<w:p><w:r><w:t>$4,820.00 due June 1.</w:t></w:r></w:p>`),
	})

	// When: the file is parsed
	doc, err := NewDocxParser().Parse(context.Background(), path)
	require.NoError(t, err)

	// Then: sections carry 1-based page numbers
	require.Len(t, doc.Sections, 2)
	assert.Equal(t, "The invoice total is", doc.Sections[0].Text)
	assert.Equal(t, 1, doc.Sections[0].Page)
	assert.Equal(t, "$4,820.00 due June 1.", doc.Sections[1].Text)
	assert.Equal(t, 2, doc.Sections[1].Page)
}

func TestDocxParser_TabsAndLineBreaks(t *testing.T) {
	path := writeDocx(t, map[string]string{
		"word/document.xml": docxBody(
			`<w:p><w:r><w:t>col one</w:t><w:tab/><w:t>col two</w:t><w:br/><w:t>next line</w:t></w:r></w:p>`),
	})

	doc, err := NewDocxParser().Parse(context.Background(), path)
	require.NoError(t, err)

	require.Len(t, doc.Sections, 1)
	assert.Equal(t, "col one col two\nnext line", doc.Sections[0].Text)
}

func TestDocxParser_CorePropertiesTitle(t *testing.T) {
	path := writeDocx(t, map[string]string{
		"word/document.xml": docxBody(`<w:p><w:r><w:t>body</w:t></w:r></w:p>`),
		"docProps/core.xml": docxXMLHeader +
			`<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties"` +
			` xmlns:dc="http://purl.org/dc/elements/1.1/"><dc:title>Service Agreement</dc:title></cp:coreProperties>`,
	})

	doc, err := NewDocxParser().Parse(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "Service Agreement", doc.Title)
}

func TestDocxParser_MissingDocumentXML(t *testing.T) {
	path := writeDocx(t, map[string]string{"other.xml": "<x/>"})

	_, err := NewDocxParser().Parse(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "word/document.xml")
}

func TestDocxParser_NotAZip(t *testing.T) {
	path := writeTestFile(t, "fake.docx", "this is not a zip archive")

	_, err := NewDocxParser().Parse(context.Background(), path)
	assert.Error(t, err)
}

func TestIsDocxHeadingStyle(t *testing.T) {
	assert.True(t, isDocxHeadingStyle("Heading1"))
	assert.True(t, isDocxHeadingStyle("Heading9"))
	assert.False(t, isDocxHeadingStyle("Heading"))
	assert.False(t, isDocxHeadingStyle("HeadingX"))
	assert.False(t, isDocxHeadingStyle("BodyText"))
	assert.False(t, isDocxHeadingStyle(""))
}
