package extract

import (
	"archive/zip"
	"fmt"
	"regexp"
	"strings"
)

// docxDocumentXMLPath is the default path to the main document body inside a .docx zip.
const docxDocumentXMLPath = "word/document.xml"

// contentTypesPath is the path to [Content_Types].xml in OOXML packages.
const contentTypesPath = "[Content_Types].xml"

const docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"

var (
	// wParagraph matches a whole <w:p> element. <w:pPr> and friends do not match.
	wParagraph = regexp.MustCompile(`(?s)<w:p[ >].*?</w:p>`)
	wtTag      = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>`)
	wTab       = regexp.MustCompile(`<w:(?:tab|br)\b[^>]*/>`)

	// The main part may be listed with PartName before or after ContentType.
	partNameRe  = regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"`)
	partNameRe2 = regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"[^>]+PartName="([^"]+)"`)
)

// findDocxMainDocumentPath finds the main document path from [Content_Types].xml.
// Returns the path without leading slash, or empty string if not found.
func findDocxMainDocumentPath(zr *zip.Reader) string {
	f := findPart(zr, contentTypesPath)
	if f == nil {
		return ""
	}
	content, err := readPart(f)
	if err != nil {
		return ""
	}
	if m := partNameRe.FindStringSubmatch(content); len(m) > 1 {
		return strings.TrimPrefix(m[1], "/")
	}
	if m := partNameRe2.FindStringSubmatch(content); len(m) > 1 {
		return strings.TrimPrefix(m[1], "/")
	}
	return ""
}

// extractDOCX returns the text of each <w:p> paragraph. Runs inside a paragraph are
// concatenated as-is since Word splits words across runs.
func extractDOCX(content []byte) (string, map[string]string, error) {
	zr, err := openZip(content, "DOCX")
	if err != nil {
		return "", nil, err
	}
	docPath := findDocxMainDocumentPath(zr)
	if docPath == "" {
		docPath = docxDocumentXMLPath
	}
	f := findPart(zr, docPath)
	if f == nil {
		return "", nil, fmt.Errorf("extract DOCX: %s not found", docPath)
	}
	docXML, err := readPart(f)
	if err != nil {
		return "", nil, fmt.Errorf("extract DOCX: read %s: %w", docPath, err)
	}

	var paras []string
	for _, p := range wParagraph.FindAllString(docXML, -1) {
		p = wTab.ReplaceAllString(p, "<w:t> </w:t>")
		var b strings.Builder
		for _, run := range wtTag.FindAllStringSubmatch(p, -1) {
			b.WriteString(run[1])
		}
		paras = append(paras, innerText(b.String()))
	}
	return joinParagraphs(paras), nil, nil
}
