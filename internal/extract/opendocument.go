package extract

import (
	"fmt"
	"regexp"
)

// odfContentPath is the main content part of OpenDocument text, presentation and spreadsheet files.
const odfContentPath = "content.xml"

// odfBlock matches headings and paragraphs. Spans and other inline markup stay inside
// the match and are stripped afterwards.
var odfBlock = regexp.MustCompile(`(?s)<text:(p|h)\b[^>]*?(?:/>|>(.*?)</text:(?:p|h)>)`)

var odfInlineSpace = regexp.MustCompile(`<text:(?:s|tab|line-break)\b[^>]*/>`)

// extractOpenDocument returns the headings and paragraphs of content.xml in document order.
func extractOpenDocument(content []byte) (string, map[string]string, error) {
	zr, err := openZip(content, "OpenDocument")
	if err != nil {
		return "", nil, err
	}
	f := findPart(zr, odfContentPath)
	if f == nil {
		return "", nil, fmt.Errorf("extract OpenDocument: %s not found", odfContentPath)
	}
	xml, err := readPart(f)
	if err != nil {
		return "", nil, fmt.Errorf("extract OpenDocument: read %s: %w", odfContentPath, err)
	}
	var paras []string
	for _, m := range odfBlock.FindAllStringSubmatch(xml, -1) {
		paras = append(paras, innerText(odfInlineSpace.ReplaceAllString(m[2], " ")))
	}
	return joinParagraphs(paras), nil, nil
}
